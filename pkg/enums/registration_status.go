package enums

import "fmt"

// RegistrationStatus tracks the lifecycle of an event registration.
type RegistrationStatus string

const (
	RegistrationStatusPending   RegistrationStatus = "pending"
	RegistrationStatusConfirmed RegistrationStatus = "confirmed"
	RegistrationStatusWaitlist  RegistrationStatus = "waitlist"
	RegistrationStatusOffered   RegistrationStatus = "offered"
	RegistrationStatusCancelled RegistrationStatus = "cancelled"
	RegistrationStatusRefunded  RegistrationStatus = "refunded"
)

var validRegistrationStatuses = []RegistrationStatus{
	RegistrationStatusPending,
	RegistrationStatusConfirmed,
	RegistrationStatusWaitlist,
	RegistrationStatusOffered,
	RegistrationStatusCancelled,
	RegistrationStatusRefunded,
}

// String implements fmt.Stringer.
func (r RegistrationStatus) String() string {
	return string(r)
}

// IsValid reports whether the value is a known RegistrationStatus.
func (r RegistrationStatus) IsValid() bool {
	for _, candidate := range validRegistrationStatuses {
		if candidate == r {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions.
func (r RegistrationStatus) IsTerminal() bool {
	return r == RegistrationStatusCancelled || r == RegistrationStatusRefunded
}

// HoldsSeat reports whether a registration in this status owns reserved
// inventory. Waitlisted registrations do not hold a seat until promoted.
func (r RegistrationStatus) HoldsSeat() bool {
	switch r {
	case RegistrationStatusPending, RegistrationStatusConfirmed, RegistrationStatusOffered:
		return true
	default:
		return false
	}
}

// ParseRegistrationStatus converts raw input into a RegistrationStatus.
func ParseRegistrationStatus(value string) (RegistrationStatus, error) {
	for _, candidate := range validRegistrationStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid registration status %q", value)
}
