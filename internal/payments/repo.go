package payments

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/eventpass-backend/pkg/db"
	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
)

// Repository handles the registration lookups the payment flows need.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Update(ctx context.Context, reg *models.Registration) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Registration, error)
	FindByIDLocked(ctx context.Context, id uuid.UUID) (*models.Registration, error)
	FindBySessionID(ctx context.Context, sessionID string) (*models.Registration, error)
	FindByPaymentRef(ctx context.Context, paymentRef string) (*models.Registration, error)
	FindEvent(ctx context.Context, id uuid.UUID) (*models.Event, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a payment repository bound to the provided database.
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

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Registration, error) {
	var reg models.Registration
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
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

func (r *repository) FindBySessionID(ctx context.Context, sessionID string) (*models.Registration, error) {
	var reg models.Registration
	if err := r.db.WithContext(ctx).
		Where("checkout_session_id = ?", sessionID).
		First(&reg).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &reg, nil
}

func (r *repository) FindByPaymentRef(ctx context.Context, paymentRef string) (*models.Registration, error) {
	var reg models.Registration
	if err := r.db.WithContext(ctx).
		Where("payment_ref = ?", paymentRef).
		First(&reg).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &reg, nil
}

func (r *repository) FindEvent(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	var event models.Event
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&event).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}
