package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/eventpass-backend/api/responses"
	"github.com/angelmondragon/eventpass-backend/api/validators"
	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/eventpass-backend/pkg/errors"
	"github.com/angelmondragon/eventpass-backend/pkg/logger"
)

type paymentConfirmer interface {
	ConfirmRegistration(ctx context.Context, registrationID uuid.UUID, paymentRef string) (*models.Registration, error)
	ConfirmBySession(ctx context.Context, sessionID string) (*models.Registration, error)
}

type confirmRegistrationRequest struct {
	SessionID  string `json:"session_id" validate:"omitempty,max=255"`
	PaymentRef string `json:"payment_ref" validate:"omitempty,max=255"`
}

// RegistrationConfirm confirms a registration outside the webhook path.
// Clients returning from checkout post their session id, which is
// re-verified with the provider before the registration transitions;
// operators reconciling out-of-band payments post a payment_ref instead.
// Replays of an already confirmed registration are a no-op.
func RegistrationConfirm(svc paymentConfirmer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		registrationID, err := uuid.Parse(chi.URLParam(r, "registrationId"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "registration id must be a uuid"))
			return
		}

		var req confirmRegistrationRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if req.SessionID == "" && req.PaymentRef == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "session_id or payment_ref is required"))
			return
		}

		var reg *models.Registration
		if req.SessionID != "" {
			reg, err = svc.ConfirmBySession(ctx, req.SessionID)
			if err == nil && reg.ID != registrationID {
				err = pkgerrors.New(pkgerrors.CodeConflict, "session belongs to a different registration")
			}
		} else {
			reg, err = svc.ConfirmRegistration(ctx, registrationID, req.PaymentRef)
		}
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, registrationToResponse(reg, ""))
	}
}
