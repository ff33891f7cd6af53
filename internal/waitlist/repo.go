package waitlist

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/eventpass-backend/pkg/db"
	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	"github.com/angelmondragon/eventpass-backend/pkg/enums"
)

// Repository exposes the waitlist queue queries.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Update(ctx context.Context, reg *models.Registration) error
	FindOldestWaitlisted(ctx context.Context, eventID uuid.UUID) (*models.Registration, error)
	FindByIDLocked(ctx context.Context, id uuid.UUID) (*models.Registration, error)
	FindExpiredOffers(ctx context.Context, cutoff time.Time, limit int) ([]models.Registration, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a waitlist repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Update(ctx context.Context, reg *models.Registration) error {
	return r.db.WithContext(ctx).Save(reg).Error
}

// FindOldestWaitlisted returns the head of the event's FIFO queue, locked so
// two allocation passes cannot promote the same registration.
func (r *repository) FindOldestWaitlisted(ctx context.Context, eventID uuid.UUID) (*models.Registration, error) {
	var reg models.Registration
	if err := db.LockForUpdate(r.db.WithContext(ctx)).
		Where("event_id = ?", eventID).
		Where("status = ?", enums.RegistrationStatusWaitlist).
		Order("waitlist_joined_at ASC").
		First(&reg).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &reg, nil
}

func (r *repository) FindByIDLocked(ctx context.Context, id uuid.UUID) (*models.Registration, error) {
	var reg models.Registration
	if err := db.LockForUpdate(r.db.WithContext(ctx)).
		Where("id = ?", id).
		First(&reg).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &reg, nil
}

// FindExpiredOffers lists offered registrations whose payment window closed
// before the cutoff. Read without locks; the sweeper re-checks each row under
// lock before touching it.
func (r *repository) FindExpiredOffers(ctx context.Context, cutoff time.Time, limit int) ([]models.Registration, error) {
	query := r.db.WithContext(ctx).
		Where("status = ?", enums.RegistrationStatusOffered).
		Where("offer_expires_at IS NOT NULL AND offer_expires_at <= ?", cutoff).
		Order("offer_expires_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var regs []models.Registration
	if err := query.Find(&regs).Error; err != nil {
		return nil, err
	}
	return regs, nil
}
