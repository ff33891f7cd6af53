package scans

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/eventpass-backend/pkg/db"
	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	"github.com/angelmondragon/eventpass-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/eventpass-backend/pkg/errors"
	"github.com/angelmondragon/eventpass-backend/pkg/logger"
)

// Verification is the gate decision for one scan of a ticket.
type Verification struct {
	Result           enums.ScanResult
	Admitted         bool
	EventTitle       string
	ParticipantName  string
	ParticipantEmail string
	ScanCount        int
	FirstScannedAt   *time.Time
	Warning          string
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service verifies QR tickets at the door. Each token admits once: the first
// scan is valid, the second is flagged suspicious, and from the third on the
// ticket is treated as fraudulent and participant contact details are
// withheld from the scanning device.
type Service interface {
	Verify(ctx context.Context, token string, scannedBy string) (*Verification, error)
}

// ServiceParams configure the scan service.
type ServiceParams struct {
	DB     txRunner
	Logger *logger.Logger
}

type service struct {
	db   txRunner
	logg *logger.Logger
	now  func() time.Time
}

// NewService wires the scan service.
func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		db:   params.DB,
		logg: params.Logger,
		now:  time.Now,
	}, nil
}

func (s *service) Verify(ctx context.Context, token string, scannedBy string) (*Verification, error) {
	if token == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "qr token required")
	}

	var verification *Verification
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		var reg models.Registration
		if err := db.LockForUpdate(tx.WithContext(ctx)).
			Where("qr_token = ?", token).
			First(&reg).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "unknown ticket")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load ticket")
		}
		if reg.Status != enums.RegistrationStatusConfirmed {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "ticket is not valid for entry").
				WithDetails(map[string]any{"status": reg.Status})
		}

		var event models.Event
		if err := tx.WithContext(ctx).
			Where("id = ?", reg.EventID).
			First(&event).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load event")
		}

		verification = s.classify(&reg, &event)

		now := s.now()
		reg.ScanCount++
		if reg.FirstScannedAt == nil {
			reg.FirstScannedAt = &now
		}
		reg.LastScannedAt = &now
		if scannedBy != "" {
			reg.LastScannedBy = &scannedBy
		}
		if err := tx.WithContext(ctx).Save(&reg).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record scan")
		}
		verification.ScanCount = reg.ScanCount
		return nil
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"result":     verification.Result,
		"scan_count": verification.ScanCount,
		"scanned_by": scannedBy,
	})
	switch verification.Result {
	case enums.ScanResultValid:
		s.logg.Info(logCtx, "ticket scan")
	default:
		s.logg.Warn(logCtx, "repeated ticket scan")
	}
	return verification, nil
}

// classify applies the scan ladder based on the count before this scan.
func (s *service) classify(reg *models.Registration, event *models.Event) *Verification {
	v := &Verification{
		EventTitle:      event.Title,
		ParticipantName: reg.ParticipantName,
		FirstScannedAt:  reg.FirstScannedAt,
	}
	switch {
	case reg.ScanCount == 0:
		v.Result = enums.ScanResultValid
		v.Admitted = true
		v.ParticipantEmail = reg.ParticipantEmail
	case reg.ScanCount == 1:
		v.Result = enums.ScanResultSuspicious
		v.ParticipantEmail = reg.ParticipantEmail
		if reg.FirstScannedAt != nil {
			minutes := int(s.now().Sub(*reg.FirstScannedAt).Minutes())
			v.Warning = fmt.Sprintf("ticket was already scanned %d minutes ago", minutes)
		} else {
			v.Warning = "ticket was already scanned"
		}
	default:
		// Contact details stay off the scanning device once the ticket
		// looks cloned.
		v.Result = enums.ScanResultFraud
		v.Warning = "ticket flagged for repeated scanning"
	}
	return v
}
