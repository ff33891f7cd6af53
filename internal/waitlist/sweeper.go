package waitlist

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/eventpass-backend/internal/inventory"
	"github.com/angelmondragon/eventpass-backend/internal/payments"
	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	"github.com/angelmondragon/eventpass-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/eventpass-backend/pkg/errors"
	"github.com/angelmondragon/eventpass-backend/pkg/logger"
)

// sweepBatchSize bounds one pass so a large backlog cannot stall the worker.
const sweepBatchSize = 500

// SweeperParams configure the offer-expiry sweeper.
type SweeperParams struct {
	Repo      Repository
	DB        txRunner
	Allocator *Allocator
	Gateway   payments.Gateway
	Logger    *logger.Logger
}

// Sweeper returns lapsed offers to the waitlist. Each expired offer gives its
// seat back and rejoins the queue at its original position, then the freed
// seats are reallocated, so the queue head is re-offered immediately rather
// than waiting for another cancellation.
type Sweeper struct {
	repo      Repository
	db        txRunner
	allocator *Allocator
	gateway   payments.Gateway
	logg      *logger.Logger
	now       func() time.Time
}

// NewSweeper wires an offer-expiry sweeper.
func NewSweeper(params SweeperParams) (*Sweeper, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("waitlist repository required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Allocator == nil {
		return nil, fmt.Errorf("allocator required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Sweeper{
		repo:      params.Repo,
		db:        params.DB,
		allocator: params.Allocator,
		gateway:   params.Gateway,
		logg:      params.Logger,
		now:       time.Now,
	}, nil
}

// Name implements the cron job contract.
func (s *Sweeper) Name() string { return "offer-expiry-sweep" }

// Run implements the cron job contract.
func (s *Sweeper) Run(ctx context.Context) error { return s.Sweep(ctx) }

// Sweep processes every offer expired as of now. One bad row does not stop
// the pass; errors are collected and reported together.
func (s *Sweeper) Sweep(ctx context.Context) error {
	now := s.now()
	expired, err := s.repo.FindExpiredOffers(ctx, now, sweepBatchSize)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list expired offers")
	}
	if len(expired) == 0 {
		return nil
	}

	var errs error
	touched := make(map[uuid.UUID]struct{})
	var staleSessions []string
	for i := range expired {
		reg := &expired[i]
		sessionID, err := s.expireOffer(ctx, reg, now)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("expire offer %s: %w", reg.ID, err))
			continue
		}
		touched[reg.EventID] = struct{}{}
		if sessionID != "" {
			staleSessions = append(staleSessions, sessionID)
		}
	}

	// Gateway-side cleanup is best effort; the demotion above is
	// authoritative even if the session outlives it.
	for _, sessionID := range staleSessions {
		if err := s.gateway.ExpireCheckoutSession(ctx, sessionID); err != nil {
			s.logg.Warn(ctx, fmt.Sprintf("could not expire stale checkout session %s: %v", sessionID, err))
		}
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"expired_offers": len(expired),
		"events_touched": len(touched),
	})
	s.logg.Info(logCtx, "offer sweep complete")

	for eventID := range touched {
		if err := s.allocator.Allocate(ctx, eventID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("reallocate event %s: %w", eventID, err))
		}
	}
	return errs
}

// expireOffer demotes one offer inside its own transaction and returns the
// checkout session id it carried, if any. The row is re-checked under lock:
// a payment that settled between the list query and here must win.
func (s *Sweeper) expireOffer(ctx context.Context, reg *models.Registration, now time.Time) (string, error) {
	var sessionID string
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		locked, err := inventory.LockEvent(ctx, tx, reg.EventID)
		if err != nil {
			return err
		}

		repo := s.repo.WithTx(tx)
		current, err := repo.FindByIDLocked(ctx, reg.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload offer")
		}
		if current == nil || current.Status != enums.RegistrationStatusOffered {
			return nil
		}
		if current.OfferExpiresAt == nil || current.OfferExpiresAt.After(now) {
			return nil
		}
		if current.CheckoutSessionID != nil {
			sessionID = *current.CheckoutSessionID
		}

		// WaitlistJoinedAt stays untouched so the registration keeps its
		// original queue position.
		current.Status = enums.RegistrationStatusWaitlist
		current.PaymentStatus = enums.PaymentStatusNotRequired
		current.OfferExpiresAt = nil
		current.CheckoutSessionID = nil
		if err := repo.Update(ctx, current); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "demote expired offer")
		}
		return inventory.Release(ctx, tx, locked, current.TicketTypeID)
	})
	if err != nil {
		return "", err
	}
	return sessionID, nil
}
