package scans

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	"github.com/angelmondragon/eventpass-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/eventpass-backend/pkg/errors"
	"github.com/angelmondragon/eventpass-backend/pkg/logger"
)

type gormTxRunner struct {
	db *gorm.DB
}

func (r *gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type fixture struct {
	db  *gorm.DB
	svc Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := "file:scans_" + uuid.NewString() + "?mode=memory&cache=shared"
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := gdb.AutoMigrate(&models.Event{}, &models.Registration{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	svc, err := NewService(ServiceParams{
		DB:     &gormTxRunner{db: gdb},
		Logger: logger.New(logger.Options{ServiceName: "test"}),
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return &fixture{db: gdb, svc: svc}
}

func (f *fixture) seedTicket(t *testing.T, status enums.RegistrationStatus) (*models.Registration, string) {
	t.Helper()
	event := &models.Event{
		OrganizerID:    uuid.New(),
		Title:          "Launch Night",
		Status:         enums.EventStatusPublished,
		Currency:       enums.CurrencyUSD,
		Capacity:       10,
		AvailableSeats: 5,
		StartsAt:       time.Now().UTC().Add(time.Hour),
	}
	if err := f.db.Create(event).Error; err != nil {
		t.Fatalf("seed event: %v", err)
	}
	token := uuid.NewString()
	reg := &models.Registration{
		EventID:          event.ID,
		ParticipantKind:  "guest",
		ParticipantName:  "Jamie Doe",
		ParticipantEmail: "jamie@example.com",
		Status:           status,
		PaymentStatus:    enums.PaymentStatusNotRequired,
		AmountDue:        decimal.Zero,
		Currency:         enums.CurrencyUSD,
		QRToken:          &token,
	}
	if err := f.db.Create(reg).Error; err != nil {
		t.Fatalf("seed registration: %v", err)
	}
	return reg, token
}

func TestVerifyScanLadder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, token := f.seedTicket(t, enums.RegistrationStatusConfirmed)
	ctx := context.Background()

	first, err := f.svc.Verify(ctx, token, "gate-1")
	if err != nil {
		t.Fatalf("first scan: %v", err)
	}
	if first.Result != enums.ScanResultValid || !first.Admitted {
		t.Fatalf("first scan should admit, got %s admitted=%v", first.Result, first.Admitted)
	}
	if first.ParticipantEmail != "jamie@example.com" {
		t.Fatalf("first scan should show contact details, got %q", first.ParticipantEmail)
	}

	second, err := f.svc.Verify(ctx, token, "gate-2")
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if second.Result != enums.ScanResultSuspicious || second.Admitted {
		t.Fatalf("second scan should warn without admitting, got %s admitted=%v", second.Result, second.Admitted)
	}
	if second.Warning == "" {
		t.Fatal("suspicious scan should explain itself")
	}

	third, err := f.svc.Verify(ctx, token, "gate-1")
	if err != nil {
		t.Fatalf("third scan: %v", err)
	}
	if third.Result != enums.ScanResultFraud || third.Admitted {
		t.Fatalf("third scan should flag fraud, got %s admitted=%v", third.Result, third.Admitted)
	}
	if third.ParticipantEmail != "" {
		t.Fatal("fraud result must withhold contact details")
	}
	if third.ScanCount != 3 {
		t.Fatalf("expected scan count 3, got %d", third.ScanCount)
	}
}

func TestVerifyRecordsScannerIdentity(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	reg, token := f.seedTicket(t, enums.RegistrationStatusConfirmed)

	if _, err := f.svc.Verify(context.Background(), token, "gate-7"); err != nil {
		t.Fatalf("scan: %v", err)
	}

	var reloaded models.Registration
	if err := f.db.First(&reloaded, "id = ?", reg.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.LastScannedBy == nil || *reloaded.LastScannedBy != "gate-7" {
		t.Fatalf("scanner identity not recorded: %v", reloaded.LastScannedBy)
	}
	if reloaded.FirstScannedAt == nil || reloaded.LastScannedAt == nil {
		t.Fatal("scan timestamps not recorded")
	}
}

func TestVerifyRejectsNonConfirmedTicket(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, token := f.seedTicket(t, enums.RegistrationStatusCancelled)

	_, err := f.svc.Verify(context.Background(), token, "gate-1")
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestVerifyUnknownToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.svc.Verify(context.Background(), uuid.NewString(), "gate-1")
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}
