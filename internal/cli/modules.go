package cli

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/chargeflow/internal/bill"
	"github.com/smallbiznis/chargeflow/internal/cdr"
	"github.com/smallbiznis/chargeflow/internal/charging"
	"github.com/smallbiznis/chargeflow/internal/clock"
	"github.com/smallbiznis/chargeflow/internal/config"
	"github.com/smallbiznis/chargeflow/internal/observability"
	"github.com/smallbiznis/chargeflow/internal/payment"
	"github.com/smallbiznis/chargeflow/internal/pricing"
	"github.com/smallbiznis/chargeflow/internal/purchase"
	"github.com/smallbiznis/chargeflow/internal/ratelimit"
	"github.com/smallbiznis/chargeflow/internal/reference"
	"github.com/smallbiznis/chargeflow/internal/renewal"
	"github.com/smallbiznis/chargeflow/internal/revenuemetrics"
	"github.com/smallbiznis/chargeflow/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// infrastructure is what every subcommand needs to reach the database.
func infrastructure() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		db.Module,
	)
}

// chargingStack wires the charging engine and everything it settles through.
func chargingStack() fx.Option {
	return fx.Options(
		fx.Provide(registerSnowflake),
		clock.Module,
		purchase.Module,
		reference.Module,
		pricing.Module,
		renewal.Module,
		payment.Module,
		cdr.Module,
		bill.Module,
		revenuemetrics.Module,
		charging.Module,
		ratelimit.Module,
	)
}

func registerSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.InstanceID)
}
