package cdr

import (
	"context"

	"github.com/smallbiznis/chargeflow/internal/cdr/domain"
	"github.com/smallbiznis/chargeflow/internal/cdr/sink"
	"github.com/smallbiznis/chargeflow/internal/reference"
	"go.uber.org/fx"
)

var Module = fx.Module("cdr",
	fx.Provide(sink.Provide),
	fx.Provide(
		fx.Annotate(func(l *reference.Lookup) *reference.Lookup { return l },
			fx.As(new(domain.CountryLookup), new(domain.CurrencyLookup)),
		),
	),
	fx.Provide(NewEmitter),
	fx.Invoke(func(lc fx.Lifecycle, e *Emitter) {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				e.Wait()
				return nil
			},
		})
	}),
)
