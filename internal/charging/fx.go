package charging

import (
	"context"

	chargingdomain "github.com/smallbiznis/chargeflow/internal/charging/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("charging",
	fx.Provide(NewTimeoutRegistry),
	fx.Provide(NewEngine),
	fx.Provide(func(e *Engine) chargingdomain.Service { return e }),
	fx.Invoke(func(lc fx.Lifecycle, timeouts *TimeoutRegistry) {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				timeouts.StopAll()
				return nil
			},
		})
	}),
)
