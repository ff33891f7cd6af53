package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/eventpass-backend/pkg/enums"
)

// CheckoutInput describes the hosted payment page to create for a single
// registration. RegistrationID travels to the provider as the client
// reference so webhooks can be mapped back without local state.
type CheckoutInput struct {
	RegistrationID uuid.UUID
	EventTitle     string
	TicketName     string
	Amount         decimal.Decimal
	Currency       enums.Currency
	CustomerEmail  string
	ExpiresAt      *time.Time
}

// CheckoutSession is the provider-neutral view of a hosted payment session.
type CheckoutSession struct {
	ID             string
	URL            string
	RegistrationID uuid.UUID
	PaymentRef     string
	Paid           bool
	Expired        bool
}

// Gateway abstracts the payment provider. Implementations must be safe to
// call outside database transactions; booking flows never hold row locks
// across a gateway call.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, input CheckoutInput) (*CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error)
	ExpireCheckoutSession(ctx context.Context, sessionID string) error
	RefundPayment(ctx context.Context, paymentRef string) error
}
