package config

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// BillingConfig carries operator-tunable billing defaults.
type BillingConfig struct {
	DefaultTaxRate   float64 `mapstructure:"defaultTaxRate"`
	Currency         string  `mapstructure:"currency"`
	PaymentTermsDays int     `mapstructure:"paymentTermsDays"`
	CompanyName      string  `mapstructure:"companyName"`
	CompanyEmail     string  `mapstructure:"companyEmail"`
	CompanyAddress   string  `mapstructure:"companyAddress"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		DefaultTaxRate:   9,
		Currency:         "sgd",
		PaymentTermsDays: 30,
		CompanyName:      "Invoicer",
	}
}

type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

// NewStaticBillingConfigHolder returns a holder that never reloads.
func NewStaticBillingConfigHolder(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewBillingConfigHolder(log *zap.Logger) (*BillingConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.billing")

	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/invoicer")
	v.AddConfigPath(".")

	v.SetEnvPrefix("INVOICER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingConfig()
	v.SetDefault("billing.defaultTaxRate", defaults.DefaultTaxRate)
	v.SetDefault("billing.currency", defaults.Currency)
	v.SetDefault("billing.paymentTermsDays", defaults.PaymentTermsDays)
	v.SetDefault("billing.companyName", defaults.CompanyName)
	v.SetDefault("billing.companyEmail", defaults.CompanyEmail)
	v.SetDefault("billing.companyAddress", defaults.CompanyAddress)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileFound = false
	}

	var cfg BillingConfig
	if err := v.UnmarshalKey("billing", &cfg); err != nil {
		return nil, err
	}
	cfg = normalizeBillingConfig(cfg)
	if err := ValidateBillingConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticBillingConfigHolder(cfg)
	if !fileFound {
		return holder, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		var updated BillingConfig
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Warn("billing config reload failed", zap.Error(err))
			return
		}
		updated = normalizeBillingConfig(updated)
		if err := ValidateBillingConfig(updated); err != nil {
			log.Warn("invalid billing config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("billing config reloaded", zap.String("file", e.Name))
	})
	v.WatchConfig()

	return holder, nil
}

func (h *BillingConfigHolder) Get() BillingConfig {
	if h == nil {
		return DefaultBillingConfig()
	}
	cfg, ok := h.current.Load().(BillingConfig)
	if !ok {
		return DefaultBillingConfig()
	}
	return cfg
}

func normalizeBillingConfig(cfg BillingConfig) BillingConfig {
	cfg.Currency = strings.ToLower(strings.TrimSpace(cfg.Currency))
	cfg.CompanyName = strings.TrimSpace(cfg.CompanyName)
	cfg.CompanyEmail = strings.TrimSpace(cfg.CompanyEmail)
	cfg.CompanyAddress = strings.TrimSpace(cfg.CompanyAddress)
	return cfg
}

func ValidateBillingConfig(cfg BillingConfig) error {
	if cfg.DefaultTaxRate < 0 || cfg.DefaultTaxRate > 100 {
		return errors.New("billing.defaultTaxRate must be between 0 and 100")
	}
	if len(cfg.Currency) != 3 {
		return errors.New("billing.currency must be a 3-letter code")
	}
	if cfg.PaymentTermsDays < 0 {
		return errors.New("billing.paymentTermsDays cannot be negative")
	}
	return nil
}
