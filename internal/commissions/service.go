package commissions

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/eventpass-backend/pkg/config"
	"github.com/angelmondragon/eventpass-backend/pkg/db"
	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/eventpass-backend/pkg/errors"
	"github.com/angelmondragon/eventpass-backend/pkg/logger"
)

var oneHundred = decimal.NewFromInt(100)

// Service posts the platform commission for paid registrations. Posting is
// exactly-once per registration: callers invoke it from inside the payment
// confirmation transaction and replays are absorbed here.
type Service interface {
	PostForRegistration(ctx context.Context, tx *gorm.DB, reg *models.Registration, event *models.Event) (*models.CommissionTransaction, error)
}

// ServiceParams configure the commission service.
type ServiceParams struct {
	Repo   Repository
	Policy config.CommissionConfig
	Logger *logger.Logger
}

type service struct {
	repo   Repository
	policy config.CommissionConfig
	logg   *logger.Logger
}

// NewService wires a commission service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("commission repository required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:   params.Repo,
		policy: params.Policy,
		logg:   params.Logger,
	}, nil
}

func (s *service) PostForRegistration(ctx context.Context, tx *gorm.DB, reg *models.Registration, event *models.Event) (*models.CommissionTransaction, error) {
	if reg == nil || event == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "registration and event required")
	}
	if !s.policy.Enabled {
		return nil, nil
	}
	if !reg.AmountDue.IsPositive() {
		return nil, nil
	}

	repo := s.repo.WithTx(tx)

	exists, err := repo.ExistsForRegistration(ctx, reg.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check commission existence")
	}
	if exists {
		return nil, nil
	}

	rate, err := s.rateForEvent(ctx, repo, event)
	if err != nil {
		return nil, err
	}

	commission := reg.AmountDue.Mul(rate).Div(oneHundred).Round(2)
	if commission.LessThan(s.policy.Minimum) {
		commission = s.policy.Minimum
	}

	txn := &models.CommissionTransaction{
		RegistrationID:   reg.ID,
		EventID:          event.ID,
		OrganizerID:      event.OrganizerID,
		GrossAmount:      reg.AmountDue,
		Rate:             rate,
		CommissionAmount: commission,
		NetAmount:        reg.AmountDue.Sub(commission),
		Currency:         reg.Currency,
		PaymentRef:       reg.PaymentRef,
	}
	if err := repo.Create(ctx, txn); err != nil {
		// A concurrent confirmation path won the race; the unique index on
		// registration_id already holds the posting.
		if db.IsUniqueViolation(err, "uq_commission_registration") {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create commission transaction")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"registration_id": reg.ID,
		"commission":      commission.String(),
		"rate":            rate.String(),
	})
	s.logg.Info(logCtx, "commission posted")
	return txn, nil
}

func (s *service) rateForEvent(ctx context.Context, repo Repository, event *models.Event) (decimal.Decimal, error) {
	if event.CategoryID == nil {
		return s.policy.DefaultRate, nil
	}
	category, err := repo.FindCategory(ctx, *event.CategoryID)
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load event category")
	}
	if category == nil || category.CustomCommissionRate == nil {
		return s.policy.DefaultRate, nil
	}
	return *category.CustomCommissionRate, nil
}
