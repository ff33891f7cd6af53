package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Category groups events and may override the platform commission rate.
type Category struct {
	ID                   uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	Name                 string           `gorm:"column:name;not null;uniqueIndex"`
	CustomCommissionRate *decimal.Decimal `gorm:"column:custom_commission_rate;type:numeric(5,2)"`
	CreatedAt            time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

// BeforeCreate assigns an id when the caller has not set one.
func (c *Category) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
