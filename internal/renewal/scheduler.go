package renewal

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/chargeflow/internal/config"
	"github.com/smallbiznis/chargeflow/internal/pricing"
	purchasedomain "github.com/smallbiznis/chargeflow/internal/purchase/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Result partitions a subscription scheme at a point in time.
type Result struct {
	Due    []purchasedomain.Component
	NotDue []purchasedomain.Component
	// Updated is the whole scheme in its original order with the due
	// components moved to their next renovation date.
	Updated []purchasedomain.Component
	Total   decimal.Decimal
}

func (r Result) HasDue() bool {
	return len(r.Due) > 0
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Resolver *pricing.Resolver
	Config   *config.ChargingConfigHolder `optional:"true"`
}

type Scheduler struct {
	log      *zap.Logger
	resolver *pricing.Resolver
	config   *config.ChargingConfigHolder
}

func NewScheduler(p Params) *Scheduler {
	return &Scheduler{
		log:      p.Log.Named("renewal.scheduler"),
		resolver: p.Resolver,
		config:   p.Config,
	}
}

// table is rebuilt per call so reloaded intervals apply to the next renewal.
func (s *Scheduler) table() (Table, error) {
	cfg := config.DefaultChargingConfig()
	if s.config != nil {
		cfg = s.config.Get()
	}
	return NewTable(cfg.RenewalIntervals)
}

// DueRenewals splits the components by renovation_date <= now, prices the due
// ones and moves their renovation dates one interval past now. Overdue
// periods are not charged twice.
func (s *Scheduler) DueRenewals(components []purchasedomain.Component, now time.Time) (Result, error) {
	if len(components) == 0 {
		return Result{}, ErrNoSubscriptions
	}
	table, err := s.table()
	if err != nil {
		return Result{}, err
	}

	result := Result{
		Updated: make([]purchasedomain.Component, 0, len(components)),
		Total:   decimal.Zero,
	}
	for _, component := range components {
		if !isDue(component, now) {
			result.NotDue = append(result.NotDue, component)
			result.Updated = append(result.Updated, component)
			continue
		}

		cost, err := s.resolver.Resolve(component, nil)
		if err != nil {
			return Result{}, err
		}
		next, err := table.Next(component.Unit, now)
		if err != nil {
			return Result{}, err
		}

		result.Due = append(result.Due, component)
		result.Total = result.Total.Add(cost)

		advanced := component
		advanced.RenovationDate = &next
		result.Updated = append(result.Updated, advanced)
	}

	if result.HasDue() {
		s.log.Debug("renewals due",
			zap.Int("due", len(result.Due)),
			zap.Int("not_due", len(result.NotDue)),
			zap.String("total", result.Total.String()),
		)
	}
	return result, nil
}

// InitialDates assigns the first renovation date of every component, one
// interval after now.
func (s *Scheduler) InitialDates(components []purchasedomain.Component, now time.Time) ([]purchasedomain.Component, error) {
	table, err := s.table()
	if err != nil {
		return nil, err
	}
	out := make([]purchasedomain.Component, 0, len(components))
	for _, component := range components {
		next, err := table.Next(component.Unit, now)
		if err != nil {
			return nil, err
		}
		component.RenovationDate = &next
		out = append(out, component)
	}
	return out, nil
}

func isDue(component purchasedomain.Component, now time.Time) bool {
	return component.RenovationDate != nil && !component.RenovationDate.After(now)
}
