package payments

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/eventpass-backend/pkg/config"
	stripeclient "github.com/angelmondragon/eventpass-backend/pkg/stripe"
)

// StripeGateway implements Gateway on Stripe Checkout.
type StripeGateway struct {
	client     *stripeclient.Client
	successURL string
	cancelURL  string
}

// NewStripeGateway wires the Stripe-backed gateway.
func NewStripeGateway(client *stripeclient.Client, cfg config.StripeConfig) (*StripeGateway, error) {
	if client == nil {
		return nil, fmt.Errorf("stripe client required")
	}
	if strings.TrimSpace(cfg.SuccessURL) == "" || strings.TrimSpace(cfg.CancelURL) == "" {
		return nil, fmt.Errorf("stripe success and cancel urls required")
	}
	return &StripeGateway{
		client:     client,
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
	}, nil
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, input CheckoutInput) (*CheckoutSession, error) {
	name := input.EventTitle
	if input.TicketName != "" {
		name = fmt.Sprintf("%s - %s", input.EventTitle, input.TicketName)
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(input.RegistrationID.String()),
		SuccessURL:        stripe.String(g.successURL),
		CancelURL:         stripe.String(g.cancelURL),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(input.Currency.String())),
					UnitAmount: stripe.Int64(input.Amount.Shift(2).IntPart()),
					ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
						Name: stripe.String(name),
					},
				},
			},
		},
	}
	if input.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(input.CustomerEmail)
	}
	if input.ExpiresAt != nil {
		params.ExpiresAt = stripe.Int64(input.ExpiresAt.Unix())
	}

	session, err := g.client.API().V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return sessionFromStripe(session), nil
}

func (g *StripeGateway) GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	session, err := g.client.API().V1CheckoutSessions.Retrieve(ctx, sessionID, &stripe.CheckoutSessionRetrieveParams{})
	if err != nil {
		return nil, fmt.Errorf("retrieve checkout session %s: %w", sessionID, err)
	}
	return sessionFromStripe(session), nil
}

func (g *StripeGateway) ExpireCheckoutSession(ctx context.Context, sessionID string) error {
	_, err := g.client.API().V1CheckoutSessions.Expire(ctx, sessionID, &stripe.CheckoutSessionExpireParams{})
	if err != nil {
		return fmt.Errorf("expire checkout session %s: %w", sessionID, err)
	}
	return nil
}

func (g *StripeGateway) RefundPayment(ctx context.Context, paymentRef string) error {
	_, err := g.client.API().V1Refunds.Create(ctx, &stripe.RefundCreateParams{
		PaymentIntent: stripe.String(paymentRef),
	})
	if err != nil {
		return fmt.Errorf("refund payment %s: %w", paymentRef, err)
	}
	return nil
}

// SessionFromStripe maps a raw webhook session payload into the
// provider-neutral view used by the booking services.
func SessionFromStripe(session *stripe.CheckoutSession) *CheckoutSession {
	return sessionFromStripe(session)
}

func sessionFromStripe(session *stripe.CheckoutSession) *CheckoutSession {
	out := &CheckoutSession{
		ID:      session.ID,
		URL:     session.URL,
		Paid:    session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		Expired: session.Status == stripe.CheckoutSessionStatusExpired,
	}
	if session.ClientReferenceID != "" {
		if id, err := uuid.Parse(session.ClientReferenceID); err == nil {
			out.RegistrationID = id
		}
	}
	if session.PaymentIntent != nil {
		out.PaymentRef = session.PaymentIntent.ID
	}
	return out
}
