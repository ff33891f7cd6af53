package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/eventpass-backend/pkg/enums"
)

// Event is a bookable event with a finite seat pool. AvailableSeats is the
// authoritative inventory counter; it is only mutated under a row lock.
type Event struct {
	ID             uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	OrganizerID    uuid.UUID         `gorm:"column:organizer_id;type:uuid;not null"`
	CategoryID     *uuid.UUID        `gorm:"column:category_id;type:uuid"`
	Title          string            `gorm:"column:title;not null"`
	Status         enums.EventStatus `gorm:"column:status;type:text;not null;default:'draft'"`
	IsFree         bool              `gorm:"column:is_free;not null;default:false"`
	Currency       enums.Currency    `gorm:"column:currency;type:text;not null;default:'USD'"`
	Capacity       int               `gorm:"column:capacity;not null"`
	AvailableSeats int               `gorm:"column:available_seats;not null"`
	StartsAt       time.Time         `gorm:"column:starts_at;not null"`
	EndsAt         *time.Time        `gorm:"column:ends_at"`
	CreatedAt      time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

// SoldOut reports whether the seat pool is exhausted.
func (e *Event) SoldOut() bool {
	return e.AvailableSeats <= 0
}

// BeforeCreate assigns an id when the caller has not set one.
func (e *Event) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
