package payment

import (
	"github.com/smallbiznis/chargeflow/internal/config"
	"github.com/smallbiznis/chargeflow/internal/payment/adapters"
	"github.com/smallbiznis/chargeflow/internal/payment/adapters/card"
	"github.com/smallbiznis/chargeflow/internal/payment/adapters/redirect"
	paymentdomain "github.com/smallbiznis/chargeflow/internal/payment/domain"
	"github.com/smallbiznis/chargeflow/internal/payment/vault"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payment.gateways",
	fx.Provide(func(holder *config.ChargingConfigHolder, log *zap.Logger) *adapters.Registry {
		return adapters.NewRegistry(holder, log,
			redirect.NewFactory(paymentdomain.GatewayPayPal),
			redirect.NewFactory(paymentdomain.GatewayFiPay),
			card.NewFactory(),
		)
	}),
	fx.Provide(vault.NewStore),
	fx.Provide(func(s *vault.Store) paymentdomain.CardVault { return s }),
)
