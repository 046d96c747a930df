package revenuemetrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/chargeflow/internal/config"
	purchasedomain "github.com/smallbiznis/chargeflow/internal/purchase/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const pushInterval = 5 * time.Minute

var Module = fx.Module("revenue.metrics",
	fx.Provide(NewPusher),
	fx.Provide(func(cfg config.Config, pusher Pusher) *Recorder {
		if !cfg.RevenueMetrics.Enabled || pusher == nil {
			return nil
		}
		return NewRecorder(prometheus.NewRegistry())
	}),
	fx.Invoke(RegisterWorker),
)

// RegisterWorker pushes the revenue registry on a fixed interval and once more
// at shutdown.
func RegisterWorker(lc fx.Lifecycle, rec *Recorder, pusher Pusher, db *gorm.DB, logger *zap.Logger) {
	if rec == nil || pusher == nil {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("revenue.metrics")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			logger.Info("starting revenue metrics worker", zap.Duration("interval", pushInterval))
			go func() {
				defer close(done)
				ticker := time.NewTicker(pushInterval)
				defer ticker.Stop()

				for {
					select {
					case <-ticker.C:
						if err := pushOnce(ctx, rec, pusher, db); err != nil {
							logger.Error("revenue metrics push failed", zap.Error(err))
						}
					case <-ctx.Done():
						return
					}
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			<-done
			if err := pushOnce(stopCtx, rec, pusher, db); err != nil {
				logger.Warn("final revenue metrics push failed", zap.Error(err))
			}
			return nil
		},
	})
}

func pushOnce(ctx context.Context, rec *Recorder, pusher Pusher, db *gorm.DB) error {
	refreshPendingPurchases(ctx, rec, db)
	return pusher.Push(ctx, rec.Registry())
}

func refreshPendingPurchases(ctx context.Context, rec *Recorder, db *gorm.DB) {
	if rec == nil || db == nil {
		return
	}
	var count int64
	err := db.WithContext(ctx).
		Model(&purchasedomain.Purchase{}).
		Where("state = ?", purchasedomain.StatePending).
		Count(&count).Error
	if err != nil {
		return
	}
	rec.SetPendingPurchases(count)
}
