package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/chargeflow/internal/bill"
	"github.com/smallbiznis/chargeflow/internal/cdr"
	"github.com/smallbiznis/chargeflow/internal/charging"
	"github.com/smallbiznis/chargeflow/internal/clock"
	"github.com/smallbiznis/chargeflow/internal/config"
	"github.com/smallbiznis/chargeflow/internal/migration"
	"github.com/smallbiznis/chargeflow/internal/observability"
	"github.com/smallbiznis/chargeflow/internal/payment"
	"github.com/smallbiznis/chargeflow/internal/pricing"
	"github.com/smallbiznis/chargeflow/internal/purchase"
	"github.com/smallbiznis/chargeflow/internal/ratelimit"
	"github.com/smallbiznis/chargeflow/internal/reference"
	"github.com/smallbiznis/chargeflow/internal/renewal"
	"github.com/smallbiznis/chargeflow/internal/revenuemetrics"
	"github.com/smallbiznis/chargeflow/internal/server"
	"github.com/smallbiznis/chargeflow/internal/usage"
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
		migration.Module,

		// Charging engine and its collaborators
		purchase.Module,
		reference.Module,
		pricing.Module,
		renewal.Module,
		payment.Module,
		cdr.Module,
		bill.Module,
		revenuemetrics.Module,
		charging.Module,

		// SDR ingestion
		usage.Module,
		ratelimit.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.InstanceID)
}
