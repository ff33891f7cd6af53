package registrations

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/eventpass-backend/pkg/db"
	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	"github.com/angelmondragon/eventpass-backend/pkg/enums"
)

// Repository handles registration persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, reg *models.Registration) error
	Update(ctx context.Context, reg *models.Registration) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Registration, error)
	FindByIDLocked(ctx context.Context, id uuid.UUID) (*models.Registration, error)
	FindActiveForParticipant(ctx context.Context, eventID uuid.UUID, userID *uuid.UUID, email string) (*models.Registration, error)
	FindEvent(ctx context.Context, id uuid.UUID) (*models.Event, error)
	FindTicketType(ctx context.Context, id uuid.UUID) (*models.TicketType, error)
	ListByEvent(ctx context.Context, eventID uuid.UUID, statuses []enums.RegistrationStatus) ([]models.Registration, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a registration repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, reg *models.Registration) error {
	return r.db.WithContext(ctx).Create(reg).Error
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

// FindActiveForParticipant returns the participant's newest non-terminal
// registration for the event, matched by user id for account holders and by
// email for guests.
func (r *repository) FindActiveForParticipant(ctx context.Context, eventID uuid.UUID, userID *uuid.UUID, email string) (*models.Registration, error) {
	query := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Where("status NOT IN (?)", []enums.RegistrationStatus{
			enums.RegistrationStatusCancelled,
			enums.RegistrationStatusRefunded,
		})
	if userID != nil {
		query = query.Where("user_id = ?", *userID)
	} else {
		query = query.Where("participant_email = ?", email)
	}

	var reg models.Registration
	if err := query.Order("created_at DESC").First(&reg).Error; err != nil {
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

func (r *repository) FindTicketType(ctx context.Context, id uuid.UUID) (*models.TicketType, error) {
	var tier models.TicketType
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&tier).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &tier, nil
}

func (r *repository) ListByEvent(ctx context.Context, eventID uuid.UUID, statuses []enums.RegistrationStatus) ([]models.Registration, error) {
	query := r.db.WithContext(ctx).Where("event_id = ?", eventID)
	if len(statuses) > 0 {
		query = query.Where("status IN (?)", statuses)
	}
	var regs []models.Registration
	if err := query.Order("created_at ASC").Find(&regs).Error; err != nil {
		return nil, err
	}
	return regs, nil
}
