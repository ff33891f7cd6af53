package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/eventpass-backend/pkg/enums"
)

// CommissionTransaction records the platform's cut of one paid registration.
// The unique index on RegistrationID is the exactly-once guard: a second post
// for the same registration fails at the constraint.
type CommissionTransaction struct {
	ID               uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	RegistrationID   uuid.UUID       `gorm:"column:registration_id;type:uuid;not null;uniqueIndex:uq_commission_registration"`
	EventID          uuid.UUID       `gorm:"column:event_id;type:uuid;not null;index"`
	OrganizerID      uuid.UUID       `gorm:"column:organizer_id;type:uuid;not null;index"`
	GrossAmount      decimal.Decimal `gorm:"column:gross_amount;type:numeric(12,2);not null"`
	Rate             decimal.Decimal `gorm:"column:rate;type:numeric(5,2);not null"`
	CommissionAmount decimal.Decimal `gorm:"column:commission_amount;type:numeric(12,2);not null"`
	NetAmount        decimal.Decimal `gorm:"column:net_amount;type:numeric(12,2);not null"`
	Currency         enums.Currency  `gorm:"column:currency;type:text;not null;default:'USD'"`
	PaymentRef       *string         `gorm:"column:payment_ref"`
	Notes            *string         `gorm:"column:notes"`
	CreatedAt        time.Time       `gorm:"column:created_at;autoCreateTime"`
}

// BeforeCreate assigns an id when the caller has not set one.
func (c *CommissionTransaction) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
