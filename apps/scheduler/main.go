package main

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
	"github.com/smallbiznis/chargeflow/internal/scheduler"
	"github.com/smallbiznis/chargeflow/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Domain services required by the daemon
		purchase.Module,
		reference.Module,
		pricing.Module,
		renewal.Module,
		payment.Module,
		cdr.Module,
		bill.Module,
		revenuemetrics.Module,
		charging.Module,
		ratelimit.Module, // tick lock across replicas

		// No server module!
		scheduler.Module,
		scheduler.DaemonModule,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.InstanceID)
}
