package cdr

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/chargeflow/internal/cdr/domain"
	"github.com/smallbiznis/chargeflow/internal/config"
	obslogger "github.com/smallbiznis/chargeflow/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/chargeflow/internal/observability/metrics"
	purchasedomain "github.com/smallbiznis/chargeflow/internal/purchase/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	recordTimeLayout = "2006-01-02 15:04:05"
	dispatchTimeout  = 30 * time.Second
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Sink       domain.Sink
	Countries  domain.CountryLookup         `optional:"true"`
	Currencies domain.CurrencyLookup        `optional:"true"`
	Config     *config.ChargingConfigHolder `optional:"true"`
	Charging   *obsmetrics.ChargingMetrics  `optional:"true"`
	ObsMetrics *obsmetrics.Metrics          `optional:"true"`
}

// Emitter projects settled charges into accounting records and hands them to
// the sink without waiting for delivery.
type Emitter struct {
	log        *zap.Logger
	sink       domain.Sink
	countries  domain.CountryLookup
	currencies domain.CurrencyLookup
	config     *config.ChargingConfigHolder
	charging   *obsmetrics.ChargingMetrics
	obsMetrics *obsmetrics.Metrics

	inflight sync.WaitGroup
}

func NewEmitter(p Params) *Emitter {
	return &Emitter{
		log:        p.Log.Named("cdr.emitter"),
		sink:       p.Sink,
		countries:  p.Countries,
		currencies: p.Currencies,
		config:     p.Config,
		charging:   p.Charging,
		obsMetrics: p.ObsMetrics,
	}
}

func (e *Emitter) chargingConfig() config.ChargingConfig {
	if e.config == nil {
		return config.DefaultChargingConfig()
	}
	return e.config.Get()
}

// Build returns one record per settled component. Correlation restarts at 0
// on every call.
func (e *Emitter) Build(ctx context.Context, purchase *purchasedomain.Purchase, parts purchasedomain.AppliedParts, at time.Time) []domain.Record {
	base := domain.Record{
		Provider:     e.chargingConfig().ProviderName(),
		Service:      purchase.Offering.Service,
		Purchase:     purchase.ID.String(),
		Offering:     purchase.Offering.Identifier(),
		ProductClass: purchase.Offering.ProductClass,
		Country:      e.countryCode(ctx, purchase.Country),
		Customer:     purchase.CustomerName(),
		Time:         at.UTC().Format(recordTimeLayout),
	}

	records := make([]domain.Record, 0, len(parts.SinglePayment)+len(parts.Subscription)+len(parts.PayPerUse))
	next := func(model, description, currency string, cost decimal.Decimal) {
		record := base
		record.DefinedModel = model
		record.Correlation = strconv.Itoa(len(records))
		record.Description = description
		record.CostCurrency = e.currencyCode(ctx, currency)
		record.CostValue = cost.String()
		records = append(records, record)
	}

	for _, c := range parts.SinglePayment {
		next(domain.ModelSinglePayment,
			fmt.Sprintf("Single payment: %s %s", c.Value.String(), c.Currency),
			c.Currency, c.Value)
	}
	for _, c := range parts.Subscription {
		next(domain.ModelSubscription,
			fmt.Sprintf("Subscription: %s %s %s", c.Value.String(), c.Currency, c.Unit),
			c.Currency, c.Value)
	}
	for _, usage := range parts.PayPerUse {
		next(domain.ModelPayPerUse,
			fmt.Sprintf("Fee per %s, Consumption: %s", usage.Model.Unit, usage.Consumption.String()),
			usage.Model.Currency, usage.Price)
	}
	return records
}

// Emit builds the records and dispatches them in the background. Failures are
// logged and counted, never returned.
func (e *Emitter) Emit(ctx context.Context, purchase *purchasedomain.Purchase, parts purchasedomain.AppliedParts, at time.Time) {
	records := e.Build(ctx, purchase, parts, at)
	if len(records) == 0 {
		return
	}

	log := obslogger.WithContext(ctx, e.log).With(
		zap.String("purchase_id", purchase.ID.String()),
		zap.Int("records", len(records)),
	)
	dispatchCtx := context.WithoutCancel(ctx)

	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()

		ctx, cancel := context.WithTimeout(dispatchCtx, dispatchTimeout)
		defer cancel()

		if err := e.sink.SendCDRs(ctx, records); err != nil {
			e.charging.IncCDRFailure()
			log.Error("cdr dispatch failed", zap.Error(err))
			return
		}
		for model, count := range countByModel(records) {
			e.obsMetrics.RecordCDRDispatched(ctx, model, count)
		}
		log.Debug("cdr dispatched")
	}()
}

// Wait blocks until every background dispatch has returned.
func (e *Emitter) Wait() {
	e.inflight.Wait()
}

// RegisterRevenueModel validates a revenue share and publishes it to the
// accounting sink. The provider defaults to the store name.
func (e *Emitter) RegisterRevenueModel(ctx context.Context, productClass string, percentage decimal.Decimal) (domain.RevenueModel, error) {
	productClass = strings.TrimSpace(productClass)
	if productClass == "" {
		return domain.RevenueModel{}, domain.ErrInvalidProductClass
	}
	if percentage.IsNegative() || percentage.GreaterThan(decimal.NewFromInt(100)) {
		return domain.RevenueModel{}, domain.ErrInvalidRevenueShare
	}

	model := domain.RevenueModel{
		AppProviderID:    e.chargingConfig().ProviderName(),
		ProductClass:     productClass,
		PercRevenueShare: percentage,
	}
	if err := e.sink.SendRevenueModel(ctx, model); err != nil {
		return domain.RevenueModel{}, fmt.Errorf("publish revenue model: %w", err)
	}

	obslogger.WithContext(ctx, e.log).Info("revenue model registered",
		zap.String("product_class", productClass),
		zap.String("percentage", percentage.String()),
	)
	return model, nil
}

func (e *Emitter) countryCode(ctx context.Context, country string) string {
	if e.countries == nil || strings.TrimSpace(country) == "" {
		return country
	}
	code, err := e.countries.CountryCode(ctx, country)
	if err != nil {
		e.log.Warn("country code lookup failed", zap.String("country", country), zap.Error(err))
		return country
	}
	return code
}

func (e *Emitter) currencyCode(ctx context.Context, currency string) string {
	if e.currencies == nil || strings.TrimSpace(currency) == "" {
		return currency
	}
	code, err := e.currencies.CurrencyCode(ctx, currency)
	if err != nil {
		e.log.Warn("currency code lookup failed", zap.String("currency", currency), zap.Error(err))
		return currency
	}
	return code
}

func countByModel(records []domain.Record) map[string]int {
	counts := make(map[string]int, 3)
	for _, r := range records {
		counts[r.DefinedModel]++
	}
	return counts
}
