package registrations

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/eventpass-backend/internal/inventory"
	"github.com/angelmondragon/eventpass-backend/internal/notifications"
	"github.com/angelmondragon/eventpass-backend/internal/payments"
	"github.com/angelmondragon/eventpass-backend/pkg/config"
	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	"github.com/angelmondragon/eventpass-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/eventpass-backend/pkg/errors"
	"github.com/angelmondragon/eventpass-backend/pkg/logger"
	"github.com/angelmondragon/eventpass-backend/pkg/types"
)

// CreateInput is a booking request for one seat.
type CreateInput struct {
	EventID      uuid.UUID
	TicketTypeID *uuid.UUID
	Participant  types.Participant
}

// CreateResult carries the registration plus the checkout URL when payment is
// still owed.
type CreateResult struct {
	Registration *models.Registration
	CheckoutURL  string
}

// CancelInput identifies the registration to cancel and, for self-service
// calls, the requester to verify ownership against. Leave the requester
// fields empty for organizer/admin initiated cancellations.
type CancelInput struct {
	RegistrationID  uuid.UUID
	RequesterUserID *uuid.UUID
	RequesterEmail  string
}

// Service owns the registration lifecycle: booking, waitlisting and
// cancellation. Seat accounting happens inside row-locked transactions;
// gateway calls always happen outside them.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*CreateResult, error)
	Cancel(ctx context.Context, input CancelInput) (*models.Registration, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Registration, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type allocator interface {
	Allocate(ctx context.Context, eventID uuid.UUID) error
}

// ServiceParams configure the registration service.
type ServiceParams struct {
	Repo      Repository
	DB        txRunner
	Gateway   payments.Gateway
	Allocator allocator
	Notifier  notifications.Notifier
	Booking   config.BookingConfig
	Logger    *logger.Logger
}

type service struct {
	repo      Repository
	db        txRunner
	gateway   payments.Gateway
	allocator allocator
	notifier  notifications.Notifier
	booking   config.BookingConfig
	logg      *logger.Logger
	now       func() time.Time
}

// NewService wires the registration service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("registration repository required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if params.Notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:      params.Repo,
		db:        params.DB,
		gateway:   params.Gateway,
		allocator: params.Allocator,
		notifier:  params.Notifier,
		booking:   params.Booking,
		logg:      params.Logger,
		now:       time.Now,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*CreateResult, error) {
	if input.Participant.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "participant details required")
	}

	event, err := s.repo.FindEvent(ctx, input.EventID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load event")
	}
	if event == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "event not found")
	}
	if !event.Status.AcceptsRegistrations() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "event is not open for registration")
	}

	if result, err := s.checkExisting(ctx, event, input.Participant); result != nil || err != nil {
		return result, err
	}

	amount, tierName, err := s.resolveAmount(ctx, event, input.TicketTypeID)
	if err != nil {
		return nil, err
	}

	reg := &models.Registration{
		EventID:      event.ID,
		TicketTypeID: input.TicketTypeID,
		AmountDue:    amount,
		Currency:     event.Currency,
	}
	reg.SetParticipant(input.Participant)

	var participantUserID *uuid.UUID
	if id, ok := input.Participant.UserID(); ok {
		participantUserID = &id
	}

	waitlisted := false
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		locked, err := inventory.LockEvent(ctx, tx, event.ID)
		if err != nil {
			return err
		}

		// The pre-flight duplicate check ran before this transaction; a
		// racing request may have booked between then and taking the
		// event lock, so recheck under it.
		dup, err := s.repo.WithTx(tx).FindActiveForParticipant(ctx, event.ID, participantUserID, input.Participant.Email())
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "recheck existing registration")
		}
		if dup != nil {
			return pkgerrors.New(pkgerrors.CodeConflict, "participant is already registered for this event")
		}

		if err := inventory.Reserve(ctx, tx, locked, input.TicketTypeID); err != nil {
			if appErr := pkgerrors.As(err); appErr != nil && appErr.Code() == pkgerrors.CodeInventoryExhausted {
				waitlisted = true
				now := s.now()
				reg.Status = enums.RegistrationStatusWaitlist
				reg.PaymentStatus = enums.PaymentStatusNotRequired
				reg.WaitlistJoinedAt = &now
				return s.repo.WithTx(tx).Create(ctx, reg)
			}
			return err
		}

		if amount.IsPositive() {
			reg.Status = enums.RegistrationStatusPending
			reg.PaymentStatus = enums.PaymentStatusPending
		} else {
			reg.Status = enums.RegistrationStatusConfirmed
			reg.PaymentStatus = enums.PaymentStatusNotRequired
			token := uuid.NewString()
			reg.QRToken = &token
		}
		return s.repo.WithTx(tx).Create(ctx, reg)
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"registration_id": reg.ID,
		"event_id":        event.ID,
		"status":          reg.Status,
	})

	if waitlisted {
		s.logg.Info(logCtx, "registration waitlisted")
		s.notifier.WaitlistJoined(ctx, reg, event)
		return &CreateResult{Registration: reg}, nil
	}

	if !amount.IsPositive() {
		s.logg.Info(logCtx, "registration confirmed")
		s.notifier.RegistrationConfirmed(ctx, reg, event)
		s.markNotified(ctx, reg)
		return &CreateResult{Registration: reg}, nil
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, payments.CheckoutInput{
		RegistrationID: reg.ID,
		EventTitle:     event.Title,
		TicketName:     tierName,
		Amount:         amount,
		Currency:       reg.Currency,
		CustomerEmail:  reg.ParticipantEmail,
	})
	if err != nil {
		s.logg.Error(logCtx, "checkout session creation failed, releasing seat", err)
		if compErr := s.abortPending(ctx, reg); compErr != nil {
			s.logg.Error(logCtx, "failed to release seat after gateway error", compErr)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create checkout session")
	}

	reg.CheckoutSessionID = &session.ID
	if err := s.repo.Update(ctx, reg); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save checkout session id")
	}

	s.logg.Info(logCtx, "registration pending payment")
	return &CreateResult{Registration: reg, CheckoutURL: session.URL}, nil
}

// checkExisting rejects double bookings. A pending registration whose
// checkout session is still open is returned as-is so the participant can
// resume paying instead of holding a second seat.
func (s *service) checkExisting(ctx context.Context, event *models.Event, p types.Participant) (*CreateResult, error) {
	var userID *uuid.UUID
	if id, ok := p.UserID(); ok {
		userID = &id
	}
	existing, err := s.repo.FindActiveForParticipant(ctx, event.ID, userID, p.Email())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check existing registration")
	}
	if existing == nil {
		return nil, nil
	}

	switch existing.Status {
	case enums.RegistrationStatusPending, enums.RegistrationStatusOffered:
		if existing.CheckoutSessionID != nil {
			session, err := s.gateway.GetCheckoutSession(ctx, *existing.CheckoutSessionID)
			if err == nil && session != nil && !session.Expired && !session.Paid {
				return &CreateResult{Registration: existing, CheckoutURL: session.URL}, nil
			}
		}
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "a registration for this event is already awaiting payment")
	case enums.RegistrationStatusWaitlist:
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "participant is already on the waitlist for this event")
	default:
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "participant is already registered for this event")
	}
}

func (s *service) resolveAmount(ctx context.Context, event *models.Event, ticketTypeID *uuid.UUID) (decimal.Decimal, string, error) {
	if event.IsFree {
		return decimal.Zero, "", nil
	}
	if ticketTypeID == nil {
		return decimal.Zero, "", pkgerrors.New(pkgerrors.CodeValidation, "ticket type required for paid events")
	}
	tier, err := s.repo.FindTicketType(ctx, *ticketTypeID)
	if err != nil {
		return decimal.Zero, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load ticket type")
	}
	if tier == nil || tier.EventID != event.ID {
		return decimal.Zero, "", pkgerrors.New(pkgerrors.CodeNotFound, "ticket type not found for event")
	}
	if !tier.IsActive {
		return decimal.Zero, "", pkgerrors.New(pkgerrors.CodeValidation, "ticket type is not active")
	}
	return tier.Price, tier.Name, nil
}

// abortPending compensates a paid booking whose checkout session could not be
// created: the seat goes back to the pool and the registration is closed out.
func (s *service) abortPending(ctx context.Context, reg *models.Registration) error {
	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		locked, err := inventory.LockEvent(ctx, tx, reg.EventID)
		if err != nil {
			return err
		}
		if err := inventory.Release(ctx, tx, locked, reg.TicketTypeID); err != nil {
			return err
		}
		now := s.now()
		reg.Status = enums.RegistrationStatusCancelled
		reg.PaymentStatus = enums.PaymentStatusFailed
		reg.CancelledAt = &now
		return s.repo.WithTx(tx).Update(ctx, reg)
	})
}

func (s *service) Cancel(ctx context.Context, input CancelInput) (*models.Registration, error) {
	reg, err := s.repo.FindByID(ctx, input.RegistrationID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load registration")
	}
	if reg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "registration not found")
	}
	if err := s.checkOwnership(reg, input); err != nil {
		return nil, err
	}
	if reg.Status.IsTerminal() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "registration is already closed")
	}

	event, err := s.repo.FindEvent(ctx, reg.EventID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load event")
	}
	if event == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "event not found")
	}

	if blackoutStart := event.StartsAt.Add(-s.booking.CancellationBlackout); !s.now().Before(blackoutStart) {
		return nil, pkgerrors.New(pkgerrors.CodeBlackout, "cancellation window has closed").
			WithDetails(map[string]any{
				"event_starts_at": event.StartsAt,
				"blackout_hours":  s.booking.CancellationBlackout.Hours(),
			})
	}

	refunded := false
	if reg.PaymentStatus == enums.PaymentStatusPaid {
		if reg.PaymentRef == nil {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "paid registration has no payment reference")
		}
		if err := s.gateway.RefundPayment(ctx, *reg.PaymentRef); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "refund payment")
		}
		refunded = true
	}

	heldSeat := false
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		locked, err := inventory.LockEvent(ctx, tx, reg.EventID)
		if err != nil {
			return err
		}

		current, err := s.repo.WithTx(tx).FindByIDLocked(ctx, reg.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload registration")
		}
		if current == nil || current.Status.IsTerminal() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "registration is already closed")
		}
		reg = current

		heldSeat = reg.Status.HoldsSeat()
		now := s.now()
		if refunded {
			reg.Status = enums.RegistrationStatusRefunded
			reg.PaymentStatus = enums.PaymentStatusRefunded
		} else {
			reg.Status = enums.RegistrationStatusCancelled
		}
		reg.CancelledAt = &now
		reg.OfferExpiresAt = nil

		if heldSeat {
			if err := inventory.Release(ctx, tx, locked, reg.TicketTypeID); err != nil {
				return err
			}
		}
		return s.repo.WithTx(tx).Update(ctx, reg)
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"registration_id": reg.ID,
		"event_id":        event.ID,
		"refunded":        refunded,
	})
	s.logg.Info(logCtx, "registration cancelled")

	if refunded {
		s.notifier.RegistrationRefunded(ctx, reg, event)
	} else {
		s.notifier.RegistrationCancelled(ctx, reg, event)
	}

	if heldSeat && s.allocator != nil {
		if err := s.allocator.Allocate(ctx, event.ID); err != nil {
			s.logg.Error(logCtx, "waitlist allocation after cancellation failed", err)
		}
	}
	return reg, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Registration, error) {
	reg, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load registration")
	}
	if reg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "registration not found")
	}
	return reg, nil
}

func (s *service) checkOwnership(reg *models.Registration, input CancelInput) error {
	if input.RequesterUserID == nil && input.RequesterEmail == "" {
		return nil
	}
	if input.RequesterUserID != nil && reg.UserID != nil && *reg.UserID == *input.RequesterUserID {
		return nil
	}
	if input.RequesterEmail != "" && reg.ParticipantEmail == input.RequesterEmail {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "registration belongs to another participant")
}

// markNotified records that the confirmation went out; failures only log.
func (s *service) markNotified(ctx context.Context, reg *models.Registration) {
	reg.EmailSent = true
	if err := s.repo.Update(ctx, reg); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "registration_id", reg.ID), "failed to record notification flag")
	}
}
