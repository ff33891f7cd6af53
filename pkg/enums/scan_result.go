package enums

// ScanResult classifies a QR verification attempt by how many times the
// ticket has already been presented.
type ScanResult string

const (
	ScanResultValid      ScanResult = "valid"
	ScanResultSuspicious ScanResult = "suspicious"
	ScanResultFraud      ScanResult = "fraud"
)

// String implements fmt.Stringer.
func (s ScanResult) String() string {
	return string(s)
}

// Admitted reports whether the holder should be let in.
func (s ScanResult) Admitted() bool {
	return s == ScanResultValid
}
