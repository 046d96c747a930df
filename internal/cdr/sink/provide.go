package sink

import (
	"context"
	"strings"

	"github.com/smallbiznis/chargeflow/internal/cdr/domain"
	"github.com/smallbiznis/chargeflow/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Cfg       config.Config
	Log       *zap.Logger
}

// Provide selects the AMQP sink when a broker URL is configured. A broker that
// cannot be reached at startup degrades to the log sink.
func Provide(p Params) domain.Sink {
	if strings.TrimSpace(p.Cfg.Accounting.AMQPURL) == "" {
		return NewLog(p.Log)
	}

	amqpSink, err := DialAMQP(p.Cfg.Accounting, p.Log)
	if err != nil {
		p.Log.Warn("accounting broker unavailable, using log sink", zap.Error(err))
		return NewLog(p.Log)
	}
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return amqpSink.Close()
		},
	})
	return amqpSink
}
