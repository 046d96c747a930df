package sink

import (
	"context"

	"github.com/smallbiznis/chargeflow/internal/cdr/domain"
	"go.uber.org/zap"
)

// Log writes records to the application log. It stands in for the broker in
// development and when no accounting URL is configured.
type Log struct {
	log *zap.Logger
}

func NewLog(log *zap.Logger) *Log {
	return &Log{log: log.Named("cdr.sink.log")}
}

func (s *Log) SendCDRs(_ context.Context, records []domain.Record) error {
	for _, r := range records {
		s.log.Info("cdr",
			zap.String("purchase", r.Purchase),
			zap.String("correlation", r.Correlation),
			zap.String("defined_model", r.DefinedModel),
			zap.String("description", r.Description),
			zap.String("cost_value", r.CostValue),
			zap.String("cost_currency", r.CostCurrency),
			zap.String("customer", r.Customer),
		)
	}
	return nil
}

func (s *Log) SendRevenueModel(_ context.Context, model domain.RevenueModel) error {
	s.log.Info("revenue model",
		zap.String("app_provider_id", model.AppProviderID),
		zap.String("product_class", model.ProductClass),
		zap.String("perc_revenue_share", model.PercRevenueShare.String()),
	)
	return nil
}
