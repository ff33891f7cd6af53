package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/eventpass-backend/pkg/enums"
)

// TicketType is a priced tier within an event. Quantity counters are tracked
// alongside the event seat pool so a tier can sell out before the event does.
type TicketType struct {
	ID            uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	EventID       uuid.UUID       `gorm:"column:event_id;type:uuid;not null;index"`
	Name          string          `gorm:"column:name;not null"`
	Description   *string         `gorm:"column:description"`
	Price         decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null"`
	Currency      enums.Currency  `gorm:"column:currency;type:text;not null;default:'USD'"`
	QuantityTotal int             `gorm:"column:quantity_total;not null"`
	QuantitySold  int             `gorm:"column:quantity_sold;not null;default:0"`
	IsActive      bool            `gorm:"column:is_active;not null;default:true"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// Remaining returns the unsold quantity for this tier.
func (t *TicketType) Remaining() int {
	remaining := t.QuantityTotal - t.QuantitySold
	if remaining < 0 {
		return 0
	}
	return remaining
}

// SoldOut reports whether the tier has no unsold quantity left.
func (t *TicketType) SoldOut() bool {
	return t.Remaining() == 0
}

// BeforeCreate assigns an id when the caller has not set one.
func (t *TicketType) BeforeCreate(*gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
