package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/eventpass-backend/pkg/enums"
	"github.com/angelmondragon/eventpass-backend/pkg/types"
)

// Registration is a participant's claim on an event seat. Status and
// PaymentStatus advance independently: a registration can sit on the waitlist
// with no payment obligation, or hold a seat while payment is pending.
type Registration struct {
	ID           uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	EventID      uuid.UUID  `gorm:"column:event_id;type:uuid;not null;index"`
	TicketTypeID *uuid.UUID `gorm:"column:ticket_type_id;type:uuid"`

	ParticipantKind  types.ParticipantKind `gorm:"column:participant_kind;type:text;not null"`
	UserID           *uuid.UUID            `gorm:"column:user_id;type:uuid;index"`
	ParticipantName  string                `gorm:"column:participant_name;not null"`
	ParticipantEmail string                `gorm:"column:participant_email;not null;index"`
	ParticipantPhone *string               `gorm:"column:participant_phone"`

	Status        enums.RegistrationStatus `gorm:"column:status;type:text;not null;default:'pending';index"`
	PaymentStatus enums.PaymentStatus      `gorm:"column:payment_status;type:text;not null;default:'not_required'"`

	AmountDue decimal.Decimal `gorm:"column:amount_due;type:numeric(12,2);not null"`
	Currency  enums.Currency  `gorm:"column:currency;type:text;not null;default:'USD'"`

	CheckoutSessionID *string `gorm:"column:checkout_session_id;uniqueIndex"`
	PaymentRef        *string `gorm:"column:payment_ref;index"`

	QRToken        *string    `gorm:"column:qr_token;uniqueIndex"`
	ScanCount      int        `gorm:"column:scan_count;not null;default:0"`
	FirstScannedAt *time.Time `gorm:"column:first_scanned_at"`
	LastScannedAt  *time.Time `gorm:"column:last_scanned_at"`
	LastScannedBy  *string    `gorm:"column:last_scanned_by"`

	WaitlistJoinedAt *time.Time `gorm:"column:waitlist_joined_at;index"`
	OfferExpiresAt   *time.Time `gorm:"column:offer_expires_at;index"`

	EmailSent   bool       `gorm:"column:email_sent;not null;default:false"`
	SMSSent     bool       `gorm:"column:sms_sent;not null;default:false"`
	CancelledAt *time.Time `gorm:"column:cancelled_at"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// Participant reassembles the identity union from the persisted columns.
func (r *Registration) Participant() types.Participant {
	phone := ""
	if r.ParticipantPhone != nil {
		phone = *r.ParticipantPhone
	}
	return types.RestoreParticipant(r.ParticipantKind, r.UserID, r.ParticipantName, r.ParticipantEmail, phone)
}

// SetParticipant explodes the identity union into the persisted columns.
func (r *Registration) SetParticipant(p types.Participant) {
	r.ParticipantKind = p.Kind()
	r.ParticipantName = p.Name()
	r.ParticipantEmail = p.Email()
	if phone := p.Phone(); phone != "" {
		r.ParticipantPhone = &phone
	} else {
		r.ParticipantPhone = nil
	}
	if userID, ok := p.UserID(); ok {
		id := userID
		r.UserID = &id
	} else {
		r.UserID = nil
	}
}

// RequiresPayment reports whether money must settle before confirmation.
func (r *Registration) RequiresPayment() bool {
	return r.AmountDue.IsPositive()
}

// BeforeCreate assigns an id when the caller has not set one.
func (r *Registration) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
