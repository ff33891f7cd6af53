package commissions

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
)

// Repository handles commission persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, txn *models.CommissionTransaction) error
	ExistsForRegistration(ctx context.Context, registrationID uuid.UUID) (bool, error)
	FindCategory(ctx context.Context, id uuid.UUID) (*models.Category, error)
	ListByEvent(ctx context.Context, eventID uuid.UUID) ([]models.CommissionTransaction, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a commission repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, txn *models.CommissionTransaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *repository) ExistsForRegistration(ctx context.Context, registrationID uuid.UUID) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.CommissionTransaction{}).
		Where("registration_id = ?", registrationID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repository) FindCategory(ctx context.Context, id uuid.UUID) (*models.Category, error) {
	var category models.Category
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&category).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &category, nil
}

func (r *repository) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]models.CommissionTransaction, error) {
	var txns []models.CommissionTransaction
	if err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("created_at DESC").
		Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}
