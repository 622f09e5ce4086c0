package billing

import (
	catalogdomain "github.com/smallbiznis/invoicer/internal/catalog/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("billing.calculator",
	fx.Provide(func(catalog catalogdomain.Service) *Calculator {
		return NewCalculator(catalog)
	}),
)
