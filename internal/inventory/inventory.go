package inventory

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/eventpass-backend/pkg/db"
	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/eventpass-backend/pkg/errors"
)

// LockEvent loads the event row under a FOR UPDATE lock. Every inventory
// mutation for an event starts here so concurrent bookings serialize on the
// same row.
func LockEvent(ctx context.Context, tx *gorm.DB, eventID uuid.UUID) (*models.Event, error) {
	var event models.Event
	if err := db.LockForUpdate(tx.WithContext(ctx)).
		Where("id = ?", eventID).
		First(&event).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "event not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock event")
	}
	return &event, nil
}

// Reserve takes one seat from the event pool, and one unit from the ticket
// tier when the registration names one. Must run inside the caller's
// transaction; the event row lock is taken here if the caller has not already.
func Reserve(ctx context.Context, tx *gorm.DB, event *models.Event, ticketTypeID *uuid.UUID) error {
	if event.SoldOut() {
		return pkgerrors.New(pkgerrors.CodeInventoryExhausted, "event is sold out").
			WithDetails(map[string]any{"event_id": event.ID})
	}

	if ticketTypeID != nil {
		tier, err := lockTicketType(ctx, tx, *ticketTypeID)
		if err != nil {
			return err
		}
		if tier.EventID != event.ID {
			return pkgerrors.New(pkgerrors.CodeValidation, "ticket type does not belong to event")
		}
		if !tier.IsActive {
			return pkgerrors.New(pkgerrors.CodeValidation, "ticket type is not active")
		}
		if tier.SoldOut() {
			return pkgerrors.New(pkgerrors.CodeInventoryExhausted, "ticket type is sold out").
				WithDetails(map[string]any{"ticket_type_id": tier.ID})
		}
		if err := tx.WithContext(ctx).
			Model(&models.TicketType{}).
			Where("id = ?", tier.ID).
			UpdateColumn("quantity_sold", gorm.Expr("quantity_sold + 1")).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "increment ticket tier sold count")
		}
	}

	if err := tx.WithContext(ctx).
		Model(&models.Event{}).
		Where("id = ?", event.ID).
		UpdateColumn("available_seats", gorm.Expr("available_seats - 1")).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decrement available seats")
	}
	event.AvailableSeats--
	return nil
}

// Release returns one seat to the event pool, clamped at capacity, and one
// unit to the ticket tier, clamped at zero sold. Over-release from replayed
// webhooks or duplicate sweeps must never inflate inventory past capacity.
func Release(ctx context.Context, tx *gorm.DB, event *models.Event, ticketTypeID *uuid.UUID) error {
	if event.AvailableSeats < event.Capacity {
		if err := tx.WithContext(ctx).
			Model(&models.Event{}).
			Where("id = ?", event.ID).
			UpdateColumn("available_seats", gorm.Expr("available_seats + 1")).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "increment available seats")
		}
		event.AvailableSeats++
	}

	if ticketTypeID == nil {
		return nil
	}
	tier, err := lockTicketType(ctx, tx, *ticketTypeID)
	if err != nil {
		return err
	}
	if tier.QuantitySold <= 0 {
		return nil
	}
	if err := tx.WithContext(ctx).
		Model(&models.TicketType{}).
		Where("id = ?", tier.ID).
		UpdateColumn("quantity_sold", gorm.Expr("quantity_sold - 1")).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decrement ticket tier sold count")
	}
	return nil
}

func lockTicketType(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.TicketType, error) {
	var tier models.TicketType
	if err := db.LockForUpdate(tx.WithContext(ctx)).
		Where("id = ?", id).
		First(&tier).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "ticket type not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock ticket type")
	}
	return &tier, nil
}
