package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/eventpass-backend/api/responses"
	"github.com/angelmondragon/eventpass-backend/api/validators"
	"github.com/angelmondragon/eventpass-backend/internal/registrations"
	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/eventpass-backend/pkg/errors"
	"github.com/angelmondragon/eventpass-backend/pkg/logger"
	"github.com/angelmondragon/eventpass-backend/pkg/types"
)

type createRegistrationRequest struct {
	EventID      string  `json:"event_id" validate:"required,uuid"`
	TicketTypeID *string `json:"ticket_type_id" validate:"omitempty,uuid"`
	UserID       *string `json:"user_id" validate:"omitempty,uuid"`
	Name         string  `json:"name" validate:"required_without=UserID,max=200"`
	Email        string  `json:"email" validate:"required,email"`
	Phone        string  `json:"phone" validate:"omitempty,max=32"`
}

type cancelRegistrationRequest struct {
	UserID *string `json:"user_id" validate:"omitempty,uuid"`
	Email  string  `json:"email" validate:"omitempty,email"`
}

type registrationResponse struct {
	ID             uuid.UUID  `json:"id"`
	EventID        uuid.UUID  `json:"event_id"`
	TicketTypeID   *uuid.UUID `json:"ticket_type_id,omitempty"`
	Status         string     `json:"status"`
	PaymentStatus  string     `json:"payment_status"`
	AmountDue      string     `json:"amount_due"`
	Currency       string     `json:"currency"`
	QRToken        *string    `json:"qr_token,omitempty"`
	OfferExpiresAt *time.Time `json:"offer_expires_at,omitempty"`
	CheckoutURL    string     `json:"checkout_url,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func registrationToResponse(reg *models.Registration, checkoutURL string) registrationResponse {
	return registrationResponse{
		ID:             reg.ID,
		EventID:        reg.EventID,
		TicketTypeID:   reg.TicketTypeID,
		Status:         reg.Status.String(),
		PaymentStatus:  reg.PaymentStatus.String(),
		AmountDue:      reg.AmountDue.StringFixed(2),
		Currency:       reg.Currency.String(),
		QRToken:        reg.QRToken,
		OfferExpiresAt: reg.OfferExpiresAt,
		CheckoutURL:    checkoutURL,
		CreatedAt:      reg.CreatedAt,
	}
}

// RegistrationCreate books a seat (or a waitlist spot) for a participant.
func RegistrationCreate(svc registrations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req createRegistrationRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		eventID, err := uuid.Parse(req.EventID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "event_id must be a uuid"))
			return
		}
		input := registrations.CreateInput{EventID: eventID}
		if req.TicketTypeID != nil {
			tierID, err := uuid.Parse(*req.TicketTypeID)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "ticket_type_id must be a uuid"))
				return
			}
			input.TicketTypeID = &tierID
		}

		participant, err := buildParticipant(req.UserID, req.Name, req.Email, req.Phone)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		input.Participant = participant

		result, err := svc.Create(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, registrationToResponse(result.Registration, result.CheckoutURL))
	}
}

// RegistrationCancel cancels a registration, refunding it when already paid.
func RegistrationCancel(svc registrations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		registrationID, err := uuid.Parse(chi.URLParam(r, "registrationId"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "registration id must be a uuid"))
			return
		}

		input := registrations.CancelInput{RegistrationID: registrationID}
		if r.ContentLength > 0 {
			var req cancelRegistrationRequest
			if err := validators.DecodeJSONBody(r, &req); err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			if req.UserID != nil {
				userID, err := uuid.Parse(*req.UserID)
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "user_id must be a uuid"))
					return
				}
				input.RequesterUserID = &userID
			}
			input.RequesterEmail = req.Email
		}

		reg, err := svc.Cancel(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, registrationToResponse(reg, ""))
	}
}

// RegistrationDetail returns one registration by id.
func RegistrationDetail(svc registrations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		registrationID, err := uuid.Parse(chi.URLParam(r, "registrationId"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "registration id must be a uuid"))
			return
		}

		reg, err := svc.Get(ctx, registrationID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, registrationToResponse(reg, ""))
	}
}

func buildParticipant(userID *string, name, email, phone string) (types.Participant, error) {
	if userID != nil {
		id, err := uuid.Parse(*userID)
		if err != nil {
			return types.Participant{}, pkgerrors.New(pkgerrors.CodeValidation, "user_id must be a uuid")
		}
		participant, err := types.AccountParticipant(id, name, email, phone)
		if err != nil {
			return types.Participant{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid participant")
		}
		return participant, nil
	}
	participant, err := types.GuestParticipant(name, email, phone)
	if err != nil {
		return types.Participant{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid participant")
	}
	return participant, nil
}
