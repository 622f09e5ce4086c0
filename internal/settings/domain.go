package settings

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// KeyGstRate stores the tax rate override, in percent.
const KeyGstRate = "GstRate"

var (
	ErrInvalidTaxRate = errors.New("invalid_tax_rate")
)

type Setting struct {
	Key       string    `gorm:"primaryKey;column:setting_key"`
	Value     string    `gorm:"column:value"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (Setting) TableName() string { return "system_settings" }

type Service interface {
	// TaxRate returns the stored override, or the configured default when none is stored.
	TaxRate(ctx context.Context) (decimal.Decimal, error)
	SetTaxRate(ctx context.Context, rate decimal.Decimal) error
}

// ValidateTaxRate accepts rates in [0, 100].
func ValidateTaxRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(100)) {
		return ErrInvalidTaxRate
	}
	return nil
}
