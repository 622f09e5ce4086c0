package settings

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/invoicer/internal/audit/domain"
	"github.com/smallbiznis/invoicer/internal/clock"
	"github.com/smallbiznis/invoicer/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var Module = fx.Module("settings.service",
	fx.Provide(NewService),
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Billing  *config.BillingConfigHolder
	AuditSvc auditdomain.Service `optional:"true"`
}

type service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	billing  *config.BillingConfigHolder
	auditSvc auditdomain.Service
}

func NewService(p Params) Service {
	return &service{
		db:       p.DB,
		log:      p.Log.Named("settings.service"),
		clock:    p.Clock,
		billing:  p.Billing,
		auditSvc: p.AuditSvc,
	}
}

func (s *service) TaxRate(ctx context.Context) (decimal.Decimal, error) {
	var row Setting
	err := s.db.WithContext(ctx).Where("setting_key = ?", KeyGstRate).Take(&row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return decimal.NewFromFloat(s.billing.Get().DefaultTaxRate), nil
	case err != nil:
		return decimal.Zero, err
	}

	rate, err := decimal.NewFromString(strings.TrimSpace(row.Value))
	if err != nil || ValidateTaxRate(rate) != nil {
		s.log.Warn("ignoring invalid stored tax rate", zap.String("value", row.Value))
		return decimal.NewFromFloat(s.billing.Get().DefaultTaxRate), nil
	}
	return rate, nil
}

func (s *service) SetTaxRate(ctx context.Context, rate decimal.Decimal) error {
	if err := ValidateTaxRate(rate); err != nil {
		return err
	}

	row := Setting{Key: KeyGstRate, Value: rate.String(), UpdatedAt: s.clock.Now()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "setting_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return err
	}

	if s.auditSvc != nil {
		key := KeyGstRate
		err := s.auditSvc.AuditLog(ctx, "", nil, auditdomain.ActionSettingsUpdate, "setting", &key, map[string]any{
			"value": rate.String(),
		})
		if err != nil {
			s.log.Warn("audit write failed", zap.String("action", auditdomain.ActionSettingsUpdate), zap.Error(err))
		}
	}
	return nil
}
