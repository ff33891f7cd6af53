package controllers

import (
	"net/http"
	"time"

	"github.com/angelmondragon/eventpass-backend/api/responses"
	"github.com/angelmondragon/eventpass-backend/api/validators"
	"github.com/angelmondragon/eventpass-backend/internal/scans"
	"github.com/angelmondragon/eventpass-backend/pkg/logger"
)

type verifyTicketRequest struct {
	Token     string `json:"token" validate:"required"`
	ScannedBy string `json:"scanned_by" validate:"omitempty,max=100"`
}

type verifyTicketResponse struct {
	Result           string     `json:"result"`
	Admitted         bool       `json:"admitted"`
	EventTitle       string     `json:"event_title"`
	ParticipantName  string     `json:"participant_name"`
	ParticipantEmail string     `json:"participant_email,omitempty"`
	ScanCount        int        `json:"scan_count"`
	FirstScannedAt   *time.Time `json:"first_scanned_at,omitempty"`
	Warning          string     `json:"warning,omitempty"`
}

// TicketVerify checks a QR token at the door and records the scan.
func TicketVerify(svc scans.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req verifyTicketRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		verification, err := svc.Verify(ctx, req.Token, req.ScannedBy)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, verifyTicketResponse{
			Result:           verification.Result.String(),
			Admitted:         verification.Admitted,
			EventTitle:       verification.EventTitle,
			ParticipantName:  verification.ParticipantName,
			ParticipantEmail: verification.ParticipantEmail,
			ScanCount:        verification.ScanCount,
			FirstScannedAt:   verification.FirstScannedAt,
			Warning:          verification.Warning,
		})
	}
}
