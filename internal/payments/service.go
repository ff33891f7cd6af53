package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/angelmondragon/eventpass-backend/internal/commissions"
	"github.com/angelmondragon/eventpass-backend/internal/inventory"
	"github.com/angelmondragon/eventpass-backend/internal/notifications"
	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	"github.com/angelmondragon/eventpass-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/eventpass-backend/pkg/errors"
	"github.com/angelmondragon/eventpass-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type allocator interface {
	Allocate(ctx context.Context, eventID uuid.UUID) error
}

// Service reconciles payment outcomes into registration state. Every entry
// point is idempotent: providers retry webhooks and reconcilers replay
// confirmations, and neither may double-confirm a seat or double-post a
// commission.
type Service interface {
	ConfirmRegistration(ctx context.Context, registrationID uuid.UUID, paymentRef string) (*models.Registration, error)
	ConfirmBySession(ctx context.Context, sessionID string) (*models.Registration, error)
	HandleEvent(ctx context.Context, event stripe.Event) error
	RefundByPaymentRef(ctx context.Context, paymentRef string) (*models.Registration, error)
}

// ServiceParams configure the payment service.
type ServiceParams struct {
	Repo        Repository
	DB          txRunner
	Gateway     Gateway
	Commissions commissions.Service
	Allocator   allocator
	Notifier    notifications.Notifier
	Logger      *logger.Logger
}

type service struct {
	repo        Repository
	db          txRunner
	gateway     Gateway
	commissions commissions.Service
	allocator   allocator
	notifier    notifications.Notifier
	logg        *logger.Logger
	now         func() time.Time
}

// NewService wires the payment service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("payment repository required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if params.Commissions == nil {
		return nil, fmt.Errorf("commission service required")
	}
	if params.Notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:        params.Repo,
		db:          params.DB,
		gateway:     params.Gateway,
		commissions: params.Commissions,
		allocator:   params.Allocator,
		notifier:    params.Notifier,
		logg:        params.Logger,
		now:         time.Now,
	}, nil
}

// ConfirmRegistration marks the registration paid and confirmed. Replays are
// no-ops. A registration that slid back to the waitlist before the payment
// landed gets its seat back here if one is free; with the pool exhausted the
// confirmation fails and the money must be refunded out of band.
func (s *service) ConfirmRegistration(ctx context.Context, registrationID uuid.UUID, paymentRef string) (*models.Registration, error) {
	// Unlocked read to learn the event id. Every writer takes the event
	// lock before the registration lock; locking the registration first
	// here would deadlock against the sweeper.
	known, err := s.repo.FindByID(ctx, registrationID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load registration")
	}
	if known == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "registration not found")
	}

	var (
		reg     *models.Registration
		event   *models.Event
		changed bool
	)
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		locked, err := inventory.LockEvent(ctx, tx, known.EventID)
		if err != nil {
			return err
		}
		event = locked

		current, err := s.repo.WithTx(tx).FindByIDLocked(ctx, registrationID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload registration")
		}
		if current == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "registration not found")
		}

		switch current.Status {
		case enums.RegistrationStatusConfirmed:
			reg = current
			return nil
		case enums.RegistrationStatusPending, enums.RegistrationStatusOffered:
			// seat already held
		case enums.RegistrationStatusWaitlist:
			if err := inventory.Reserve(ctx, tx, locked, current.TicketTypeID); err != nil {
				return err
			}
		default:
			return pkgerrors.New(pkgerrors.CodeStateConflict, "registration cannot accept a payment").
				WithDetails(map[string]any{"status": current.Status})
		}

		current.Status = enums.RegistrationStatusConfirmed
		current.PaymentStatus = enums.PaymentStatusPaid
		if paymentRef != "" {
			current.PaymentRef = &paymentRef
		}
		current.OfferExpiresAt = nil
		if current.QRToken == nil {
			token := uuid.NewString()
			current.QRToken = &token
		}
		if err := s.repo.WithTx(tx).Update(ctx, current); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "confirm registration")
		}

		if _, err := s.commissions.PostForRegistration(ctx, tx, current, locked); err != nil {
			return err
		}
		reg = current
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		// Replayed confirmation; the participant was already notified.
		return reg, nil
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"registration_id": reg.ID,
		"event_id":        reg.EventID,
		"payment_ref":     paymentRef,
	})
	s.logg.Info(logCtx, "registration confirmed")
	s.notifier.RegistrationConfirmed(ctx, reg, event)
	return reg, nil
}

// ConfirmBySession re-checks the session with the provider before trusting
// it; reconcilers call this with session ids recorded locally.
func (s *service) ConfirmBySession(ctx context.Context, sessionID string) (*models.Registration, error) {
	session, err := s.gateway.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "retrieve checkout session")
	}
	if !session.Paid {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "checkout session is not paid")
	}
	registrationID := session.RegistrationID
	if registrationID == uuid.Nil {
		reg, err := s.repo.FindBySessionID(ctx, sessionID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "map session to registration")
		}
		if reg == nil {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no registration for checkout session")
		}
		registrationID = reg.ID
	}
	return s.ConfirmRegistration(ctx, registrationID, session.PaymentRef)
}

// HandleEvent dispatches a verified provider webhook event. Unknown event
// types are acknowledged and dropped.
func (s *service) HandleEvent(ctx context.Context, event stripe.Event) error {
	logCtx := s.logg.WithField(ctx, "stripe_event", string(event.Type))

	switch event.Type {
	case "checkout.session.completed":
		session, err := parseSession(event)
		if err != nil {
			return err
		}
		if !session.Paid {
			s.logg.Warn(logCtx, "completed session arrived unpaid; ignoring")
			return nil
		}
		return s.confirmFromWebhook(ctx, session)
	case "checkout.session.expired":
		session, err := parseSession(event)
		if err != nil {
			return err
		}
		return s.abandonSession(ctx, session)
	case "charge.refunded":
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode charge payload")
		}
		if charge.PaymentIntent == nil {
			s.logg.Warn(logCtx, "refunded charge carries no payment intent; ignoring")
			return nil
		}
		_, err := s.RefundByPaymentRef(ctx, charge.PaymentIntent.ID)
		if appErr := pkgerrors.As(err); appErr != nil && appErr.Code() == pkgerrors.CodeNotFound {
			s.logg.Warn(logCtx, "refund for unknown payment ref; ignoring")
			return nil
		}
		return err
	default:
		s.logg.Info(logCtx, "unhandled stripe event type")
		return nil
	}
}

func (s *service) confirmFromWebhook(ctx context.Context, session *CheckoutSession) error {
	registrationID := session.RegistrationID
	if registrationID == uuid.Nil {
		reg, err := s.repo.FindBySessionID(ctx, session.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "map session to registration")
		}
		if reg == nil {
			s.logg.Warn(s.logg.WithField(ctx, "session_id", session.ID), "paid session has no registration; ignoring")
			return nil
		}
		registrationID = reg.ID
	}
	_, err := s.ConfirmRegistration(ctx, registrationID, session.PaymentRef)
	return err
}

// abandonSession closes out a pending booking whose checkout window expired
// at the provider. Offered registrations are left alone: the sweeper owns
// the offer window and may still re-extend it.
func (s *service) abandonSession(ctx context.Context, session *CheckoutSession) error {
	reg, err := s.repo.FindBySessionID(ctx, session.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "map session to registration")
	}
	if reg == nil || reg.Status != enums.RegistrationStatusPending {
		return nil
	}

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		locked, err := inventory.LockEvent(ctx, tx, reg.EventID)
		if err != nil {
			return err
		}
		current, err := s.repo.WithTx(tx).FindByIDLocked(ctx, reg.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload registration")
		}
		if current == nil || current.Status != enums.RegistrationStatusPending {
			return nil
		}
		now := s.now()
		current.Status = enums.RegistrationStatusCancelled
		current.PaymentStatus = enums.PaymentStatusFailed
		current.CancelledAt = &now
		if err := s.repo.WithTx(tx).Update(ctx, current); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "abandon registration")
		}
		reg = current
		return inventory.Release(ctx, tx, locked, current.TicketTypeID)
	})
	if err != nil {
		return err
	}

	logCtx := s.logg.WithRegistrationID(ctx, reg.ID.String())
	s.logg.Info(logCtx, "pending registration abandoned after session expiry")
	if s.allocator != nil {
		if err := s.allocator.Allocate(ctx, reg.EventID); err != nil {
			s.logg.Error(logCtx, "waitlist allocation after abandonment failed", err)
		}
	}
	return nil
}

// RefundByPaymentRef reconciles a provider-side refund. Replays of the same
// refund are no-ops keyed on payment reference.
func (s *service) RefundByPaymentRef(ctx context.Context, paymentRef string) (*models.Registration, error) {
	reg, err := s.repo.FindByPaymentRef(ctx, paymentRef)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find registration by payment ref")
	}
	if reg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no registration for payment reference")
	}
	if reg.PaymentStatus == enums.PaymentStatusRefunded {
		return reg, nil
	}

	heldSeat := false
	changed := false
	var event *models.Event
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		locked, err := inventory.LockEvent(ctx, tx, reg.EventID)
		if err != nil {
			return err
		}
		event = locked
		current, err := s.repo.WithTx(tx).FindByIDLocked(ctx, reg.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload registration")
		}
		if current == nil || current.PaymentStatus == enums.PaymentStatusRefunded {
			reg = current
			return nil
		}

		heldSeat = current.Status.HoldsSeat()
		now := s.now()
		current.Status = enums.RegistrationStatusRefunded
		current.PaymentStatus = enums.PaymentStatusRefunded
		current.CancelledAt = &now
		current.OfferExpiresAt = nil
		if err := s.repo.WithTx(tx).Update(ctx, current); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark registration refunded")
		}
		if heldSeat {
			if err := inventory.Release(ctx, tx, locked, current.TicketTypeID); err != nil {
				return err
			}
		}
		reg = current
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if reg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "registration disappeared during refund")
	}
	if !changed {
		return reg, nil
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"registration_id": reg.ID,
		"payment_ref":     paymentRef,
	})
	s.logg.Info(logCtx, "registration refunded")
	if event != nil {
		s.notifier.RegistrationRefunded(ctx, reg, event)
	}
	if heldSeat && s.allocator != nil {
		if err := s.allocator.Allocate(ctx, reg.EventID); err != nil {
			s.logg.Error(logCtx, "waitlist allocation after refund failed", err)
		}
	}
	return reg, nil
}

func parseSession(event stripe.Event) (*CheckoutSession, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode checkout session payload")
	}
	return sessionFromStripe(&session), nil
}
