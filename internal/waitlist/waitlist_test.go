package waitlist

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/eventpass-backend/internal/notifications"
	"github.com/angelmondragon/eventpass-backend/internal/payments"
	"github.com/angelmondragon/eventpass-backend/pkg/config"
	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	"github.com/angelmondragon/eventpass-backend/pkg/enums"
	"github.com/angelmondragon/eventpass-backend/pkg/logger"
)

type stubGateway struct {
	createErr error
	created   []payments.CheckoutInput
	expired   []string
}

func (s *stubGateway) CreateCheckoutSession(ctx context.Context, input payments.CheckoutInput) (*payments.CheckoutSession, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.created = append(s.created, input)
	return &payments.CheckoutSession{
		ID:  "cs_" + uuid.NewString(),
		URL: "https://checkout.test/" + input.RegistrationID.String(),
	}, nil
}

func (s *stubGateway) GetCheckoutSession(ctx context.Context, sessionID string) (*payments.CheckoutSession, error) {
	return nil, errors.New("not implemented")
}

func (s *stubGateway) ExpireCheckoutSession(ctx context.Context, sessionID string) error {
	s.expired = append(s.expired, sessionID)
	return nil
}

func (s *stubGateway) RefundPayment(ctx context.Context, paymentRef string) error {
	return errors.New("not implemented")
}

type gormTxRunner struct {
	db *gorm.DB
}

func (r *gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type fixture struct {
	db        *gorm.DB
	allocator *Allocator
	sweeper   *Sweeper
	gateway   *stubGateway
	clock     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := "file:waitlist_" + uuid.NewString() + "?mode=memory&cache=shared"
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := gdb.AutoMigrate(&models.Event{}, &models.TicketType{}, &models.Registration{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	logg := logger.New(logger.Options{ServiceName: "test"})
	gateway := &stubGateway{}
	f := &fixture{db: gdb, gateway: gateway, clock: time.Now().UTC().Truncate(time.Second)}

	allocator, err := NewAllocator(AllocatorParams{
		Repo:     NewRepository(gdb),
		DB:       &gormTxRunner{db: gdb},
		Gateway:  gateway,
		Notifier: notifications.NewLogNotifier(logg),
		Booking:  config.BookingConfig{OfferTTL: time.Hour},
		Logger:   logg,
	})
	if err != nil {
		t.Fatalf("NewAllocator: %v", err)
	}
	allocator.now = func() time.Time { return f.clock }
	f.allocator = allocator

	sweeper, err := NewSweeper(SweeperParams{
		Repo:      NewRepository(gdb),
		DB:        &gormTxRunner{db: gdb},
		Allocator: allocator,
		Gateway:   gateway,
		Logger:    logg,
	})
	if err != nil {
		t.Fatalf("NewSweeper: %v", err)
	}
	sweeper.now = func() time.Time { return f.clock }
	f.sweeper = sweeper
	return f
}

func (f *fixture) seedEvent(t *testing.T, available int, capacity int) *models.Event {
	t.Helper()
	event := &models.Event{
		OrganizerID:    uuid.New(),
		Title:          "Launch Night",
		Status:         enums.EventStatusPublished,
		Currency:       enums.CurrencyUSD,
		Capacity:       capacity,
		AvailableSeats: available,
		StartsAt:       f.clock.Add(72 * time.Hour),
	}
	if err := f.db.Create(event).Error; err != nil {
		t.Fatalf("seed event: %v", err)
	}
	return event
}

func (f *fixture) seedWaitlisted(t *testing.T, event *models.Event, email string, amount int64, joinedAgo time.Duration) *models.Registration {
	t.Helper()
	joined := f.clock.Add(-joinedAgo)
	reg := &models.Registration{
		EventID:          event.ID,
		ParticipantKind:  "guest",
		ParticipantName:  "Jamie Doe",
		ParticipantEmail: email,
		Status:           enums.RegistrationStatusWaitlist,
		PaymentStatus:    enums.PaymentStatusNotRequired,
		AmountDue:        decimal.NewFromInt(amount),
		Currency:         enums.CurrencyUSD,
		WaitlistJoinedAt: &joined,
	}
	if err := f.db.Create(reg).Error; err != nil {
		t.Fatalf("seed waitlisted: %v", err)
	}
	return reg
}

func (f *fixture) reload(t *testing.T, id uuid.UUID) *models.Registration {
	t.Helper()
	var reg models.Registration
	if err := f.db.First(&reg, "id = ?", id).Error; err != nil {
		t.Fatalf("reload registration: %v", err)
	}
	return &reg
}

func TestAllocatePromotesOldestFirst(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	event := f.seedEvent(t, 1, 3)
	older := f.seedWaitlisted(t, event, "older@example.com", 0, 2*time.Hour)
	newer := f.seedWaitlisted(t, event, "newer@example.com", 0, time.Hour)

	if err := f.allocator.Allocate(context.Background(), event.ID); err != nil {
		t.Fatalf("allocate: %v", err)
	}

	promoted := f.reload(t, older.ID)
	if promoted.Status != enums.RegistrationStatusConfirmed {
		t.Fatalf("expected oldest confirmed, got %s", promoted.Status)
	}
	if promoted.QRToken == nil {
		t.Fatal("confirmed promotion must carry a qr token")
	}
	if waiting := f.reload(t, newer.ID); waiting.Status != enums.RegistrationStatusWaitlist {
		t.Fatalf("newer entry must stay waitlisted, got %s", waiting.Status)
	}
}

func TestAllocateOffersPaidWithExpiry(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	event := f.seedEvent(t, 1, 3)
	reg := f.seedWaitlisted(t, event, "payer@example.com", 50, time.Hour)

	if err := f.allocator.Allocate(context.Background(), event.ID); err != nil {
		t.Fatalf("allocate: %v", err)
	}

	offered := f.reload(t, reg.ID)
	if offered.Status != enums.RegistrationStatusOffered {
		t.Fatalf("expected offered, got %s", offered.Status)
	}
	if offered.PaymentStatus != enums.PaymentStatusPending {
		t.Fatalf("expected pending payment, got %s", offered.PaymentStatus)
	}
	if offered.OfferExpiresAt == nil || !offered.OfferExpiresAt.Equal(f.clock.Add(time.Hour)) {
		t.Fatalf("expected expiry at clock+1h, got %v", offered.OfferExpiresAt)
	}
	if offered.CheckoutSessionID == nil {
		t.Fatal("expected a checkout session on the offer")
	}
	if len(f.gateway.created) != 1 {
		t.Fatalf("expected 1 session, got %d", len(f.gateway.created))
	}

	var reloaded models.Event
	if err := f.db.First(&reloaded, "id = ?", event.ID).Error; err != nil {
		t.Fatalf("reload event: %v", err)
	}
	if reloaded.AvailableSeats != 0 {
		t.Fatalf("offer must hold the seat, got %d available", reloaded.AvailableSeats)
	}
}

func TestAllocateFillsAllFreeSeats(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	event := f.seedEvent(t, 2, 5)
	first := f.seedWaitlisted(t, event, "first@example.com", 0, 3*time.Hour)
	second := f.seedWaitlisted(t, event, "second@example.com", 0, 2*time.Hour)
	third := f.seedWaitlisted(t, event, "third@example.com", 0, time.Hour)

	if err := f.allocator.Allocate(context.Background(), event.ID); err != nil {
		t.Fatalf("allocate: %v", err)
	}

	if got := f.reload(t, first.ID).Status; got != enums.RegistrationStatusConfirmed {
		t.Fatalf("first: expected confirmed, got %s", got)
	}
	if got := f.reload(t, second.ID).Status; got != enums.RegistrationStatusConfirmed {
		t.Fatalf("second: expected confirmed, got %s", got)
	}
	if got := f.reload(t, third.ID).Status; got != enums.RegistrationStatusWaitlist {
		t.Fatalf("third: expected still waitlisted, got %s", got)
	}
}

func TestAllocateGatewayFailureLeavesOfferForSweeper(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.gateway.createErr = errors.New("stripe is down")
	event := f.seedEvent(t, 1, 3)
	reg := f.seedWaitlisted(t, event, "payer@example.com", 50, time.Hour)

	if err := f.allocator.Allocate(context.Background(), event.ID); err != nil {
		t.Fatalf("allocate: %v", err)
	}

	offered := f.reload(t, reg.ID)
	if offered.Status != enums.RegistrationStatusOffered {
		t.Fatalf("expected offered despite gateway failure, got %s", offered.Status)
	}
	if offered.CheckoutSessionID != nil {
		t.Fatal("no session id should be stored on gateway failure")
	}
}

func TestSweepReturnsExpiredOfferToQueue(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	event := f.seedEvent(t, 1, 3)
	reg := f.seedWaitlisted(t, event, "payer@example.com", 50, 2*time.Hour)

	if err := f.allocator.Allocate(context.Background(), event.ID); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	joined := f.reload(t, reg.ID).WaitlistJoinedAt

	// Kill the gateway so the sweep's reallocation cannot hand the seat
	// straight back; we want to observe the demoted state.
	f.gateway.createErr = errors.New("stripe is down")
	f.clock = f.clock.Add(2 * time.Hour)

	if err := f.sweeper.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	demoted := f.reload(t, reg.ID)
	if demoted.Status != enums.RegistrationStatusOffered {
		// Reallocation re-offers the queue head immediately; with the
		// gateway down the offer stands without a session.
		t.Fatalf("expected immediate re-offer, got %s", demoted.Status)
	}
	if demoted.CheckoutSessionID != nil {
		t.Fatal("stale session id must be cleared")
	}
	if demoted.WaitlistJoinedAt == nil || !demoted.WaitlistJoinedAt.Equal(*joined) {
		t.Fatalf("queue position must be preserved, got %v want %v", demoted.WaitlistJoinedAt, joined)
	}
	if demoted.OfferExpiresAt == nil || !demoted.OfferExpiresAt.Equal(f.clock.Add(time.Hour)) {
		t.Fatalf("expected a fresh offer window, got %v", demoted.OfferExpiresAt)
	}
	if len(f.gateway.expired) != 1 {
		t.Fatalf("expected the stale gateway session to be expired, got %v", f.gateway.expired)
	}
}

func TestSweepIgnoresLiveOffers(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	event := f.seedEvent(t, 1, 3)
	reg := f.seedWaitlisted(t, event, "payer@example.com", 50, time.Hour)

	if err := f.allocator.Allocate(context.Background(), event.ID); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	f.clock = f.clock.Add(30 * time.Minute)

	if err := f.sweeper.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if got := f.reload(t, reg.ID).Status; got != enums.RegistrationStatusOffered {
		t.Fatalf("live offer must stand, got %s", got)
	}
}

func TestSweepHandsSeatToNextInLine(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	event := f.seedEvent(t, 1, 3)
	payer := f.seedWaitlisted(t, event, "payer@example.com", 50, 3*time.Hour)
	free := f.seedWaitlisted(t, event, "free@example.com", 0, 2*time.Hour)

	if err := f.allocator.Allocate(context.Background(), event.ID); err != nil {
		t.Fatalf("allocate: %v", err)
	}

	// The paid offer lapses. The expired entry rejoins the queue ahead of
	// the free entry, so the sweep re-offers it rather than skipping it.
	f.clock = f.clock.Add(2 * time.Hour)
	if err := f.sweeper.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if got := f.reload(t, payer.ID).Status; got != enums.RegistrationStatusOffered {
		t.Fatalf("expired head should be re-offered, got %s", got)
	}
	if got := f.reload(t, free.ID).Status; got != enums.RegistrationStatusWaitlist {
		t.Fatalf("second in line must keep waiting, got %s", got)
	}
}
