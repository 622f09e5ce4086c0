package payment

import (
	"github.com/smallbiznis/invoicer/internal/config"
	"github.com/smallbiznis/invoicer/internal/providers/payment/domain"
	"github.com/smallbiznis/invoicer/internal/providers/payment/razorpay"
	"github.com/smallbiznis/invoicer/internal/providers/payment/stripe"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payment.gateway",
	fx.Provide(func() *Registry {
		return NewRegistry(
			stripe.NewFactory(),
			razorpay.NewFactory(),
		)
	}),
	fx.Provide(NewFromConfig),
)

// NewFromConfig returns the configured gateway, or nil when its credentials
// are missing. Checkout is then reported as unavailable.
func NewFromConfig(registry *Registry, cfg config.Config, log *zap.Logger) domain.Gateway {
	gatewayCfg := domain.GatewayConfig{}
	switch cfg.Payment.Provider {
	case config.PaymentProviderRazorpay:
		gatewayCfg.KeyID = cfg.Payment.RazorpayKeyID
		gatewayCfg.Secret = cfg.Payment.RazorpayKeySecret
	default:
		gatewayCfg.Secret = cfg.Payment.StripeSecretKey
	}

	gateway, err := registry.NewGateway(cfg.Payment.Provider, gatewayCfg)
	if err != nil {
		log.Named("payment.gateway").Warn("checkout disabled",
			zap.String("provider", cfg.Payment.Provider),
			zap.Error(err),
		)
		return nil
	}
	return gateway
}
