package scheduler

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("scheduler",
	fx.Provide(fx.Annotate(ProvideConfig, fx.ParamTags(`optional:"true"`))),
	fx.Provide(New),
)

// DaemonModule runs the cron loop for the lifetime of the app.
var DaemonModule = fx.Module("scheduler.daemon",
	fx.Invoke(NewDaemon),
)

func NewDaemon(lc fx.Lifecycle, sched *Scheduler, log *zap.Logger) {
	var cancel context.CancelFunc

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			return sched.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			select {
			case <-sched.Stop().Done():
			case <-ctx.Done():
				log.Warn("reconciliation tick still running at shutdown")
			}
			return nil
		},
	})
}
