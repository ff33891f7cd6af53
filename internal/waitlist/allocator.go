package waitlist

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/eventpass-backend/internal/inventory"
	"github.com/angelmondragon/eventpass-backend/internal/notifications"
	"github.com/angelmondragon/eventpass-backend/internal/payments"
	"github.com/angelmondragon/eventpass-backend/pkg/config"
	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	"github.com/angelmondragon/eventpass-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/eventpass-backend/pkg/errors"
	"github.com/angelmondragon/eventpass-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// AllocatorParams configure the waitlist allocator.
type AllocatorParams struct {
	Repo     Repository
	DB       txRunner
	Gateway  payments.Gateway
	Notifier notifications.Notifier
	Booking  config.BookingConfig
	Logger   *logger.Logger
}

// Allocator promotes waitlisted registrations when seats free up. Promotion
// is FIFO by waitlist join time: free registrations confirm immediately,
// paid ones get a time-limited offer holding the seat until the offer
// expires or settles.
type Allocator struct {
	repo     Repository
	db       txRunner
	gateway  payments.Gateway
	notifier notifications.Notifier
	booking  config.BookingConfig
	logg     *logger.Logger
	now      func() time.Time
}

// NewAllocator wires a waitlist allocator.
func NewAllocator(params AllocatorParams) (*Allocator, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("waitlist repository required")
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
	return &Allocator{
		repo:     params.Repo,
		db:       params.DB,
		gateway:  params.Gateway,
		notifier: params.Notifier,
		booking:  params.Booking,
		logg:     params.Logger,
		now:      time.Now,
	}, nil
}

// Allocate fills the event's free seats from the waitlist, oldest first. It
// keeps promoting until the seat pool or the queue runs dry.
func (a *Allocator) Allocate(ctx context.Context, eventID uuid.UUID) error {
	for {
		promoted, err := a.promoteNext(ctx, eventID)
		if err != nil {
			return err
		}
		if promoted == nil {
			return nil
		}
	}
}

// promoteNext promotes at most one registration inside its own transaction.
// The checkout session for a paid offer is created after commit; if that
// fails the offer stands without a session and the sweeper returns the seat
// once the offer window lapses.
func (a *Allocator) promoteNext(ctx context.Context, eventID uuid.UUID) (*models.Registration, error) {
	var (
		reg     *models.Registration
		event   *models.Event
		offered bool
	)
	err := a.db.WithTx(ctx, func(tx *gorm.DB) error {
		locked, err := inventory.LockEvent(ctx, tx, eventID)
		if err != nil {
			return err
		}
		if locked.SoldOut() {
			return nil
		}

		repo := a.repo.WithTx(tx)
		candidate, err := repo.FindOldestWaitlisted(ctx, eventID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find waitlist head")
		}
		if candidate == nil {
			return nil
		}

		if err := inventory.Reserve(ctx, tx, locked, candidate.TicketTypeID); err != nil {
			// The event has seats but the candidate's tier does not;
			// leave the queue untouched rather than promote out of order.
			if appErr := pkgerrors.As(err); appErr != nil && appErr.Code() == pkgerrors.CodeInventoryExhausted {
				a.logg.Warn(a.logg.WithRegistrationID(ctx, candidate.ID.String()), "waitlist head blocked on sold out tier")
				return nil
			}
			return err
		}

		if candidate.RequiresPayment() {
			expires := a.now().Add(a.booking.OfferTTL)
			candidate.Status = enums.RegistrationStatusOffered
			candidate.PaymentStatus = enums.PaymentStatusPending
			candidate.OfferExpiresAt = &expires
			offered = true
		} else {
			candidate.Status = enums.RegistrationStatusConfirmed
			candidate.PaymentStatus = enums.PaymentStatusNotRequired
			candidate.OfferExpiresAt = nil
			token := uuid.NewString()
			candidate.QRToken = &token
		}
		if err := repo.Update(ctx, candidate); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "promote waitlisted registration")
		}
		reg = candidate
		event = locked
		return nil
	})
	if err != nil || reg == nil {
		return nil, err
	}

	logCtx := a.logg.WithFields(ctx, map[string]any{
		"registration_id": reg.ID,
		"event_id":        eventID,
		"status":          reg.Status,
	})

	if !offered {
		a.logg.Info(logCtx, "waitlist promotion confirmed")
		a.notifier.RegistrationConfirmed(ctx, reg, event)
		return reg, nil
	}

	session, err := a.gateway.CreateCheckoutSession(ctx, payments.CheckoutInput{
		RegistrationID: reg.ID,
		EventTitle:     event.Title,
		Amount:         reg.AmountDue,
		Currency:       reg.Currency,
		CustomerEmail:  reg.ParticipantEmail,
		ExpiresAt:      reg.OfferExpiresAt,
	})
	if err != nil {
		a.logg.Error(logCtx, "checkout session for offer failed; sweeper will reclaim the seat", err)
		return reg, nil
	}
	reg.CheckoutSessionID = &session.ID
	if err := a.repo.Update(ctx, reg); err != nil {
		a.logg.Error(logCtx, "failed to persist offer session id", err)
		return reg, nil
	}

	a.logg.Info(logCtx, "waitlist offer extended")
	a.notifier.OfferExtended(ctx, reg, event, session.URL)
	return reg, nil
}
