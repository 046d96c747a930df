package revenuemetrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// Recorder tracks settled revenue on a private registry that is pushed out
// rather than scraped. A nil Recorder drops every observation.
type Recorder struct {
	registry *prometheus.Registry

	settledAmount    *prometheus.CounterVec
	settledCharges   *prometheus.CounterVec
	rollbacks        prometheus.Counter
	pendingPurchases prometheus.Gauge
}

func NewRecorder(registry *prometheus.Registry) *Recorder {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	r := &Recorder{
		registry: registry,
		settledAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chargeflow_revenue_settled_amount_total",
			Help: "Amount settled by the charging engine, in currency units.",
		}, []string{"currency", "concept"}),
		settledCharges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chargeflow_revenue_settled_charges_total",
			Help: "Charges settled by the charging engine.",
		}, []string{"currency", "concept"}),
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chargeflow_revenue_rollbacks_total",
			Help: "Purchases rolled back after an abandoned payment.",
		}),
		pendingPurchases: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chargeflow_revenue_pending_purchases",
			Help: "Purchases waiting on a redirect payment.",
		}),
	}
	registry.MustRegister(r.settledAmount, r.settledCharges, r.rollbacks, r.pendingPurchases)
	return r
}

func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// RecordSettlement adds one settled charge. Free settlements are counted but
// add nothing to the amount.
func (r *Recorder) RecordSettlement(currency, concept string, amount decimal.Decimal) {
	if r == nil {
		return
	}
	cur := normalizeLabel(strings.ToUpper(currency))
	con := normalizeLabel(concept)
	r.settledCharges.WithLabelValues(cur, con).Inc()
	if amount.IsPositive() {
		r.settledAmount.WithLabelValues(cur, con).Add(amount.InexactFloat64())
	}
}

func (r *Recorder) RecordRollback() {
	if r == nil {
		return
	}
	r.rollbacks.Inc()
}

func (r *Recorder) SetPendingPurchases(count int64) {
	if r == nil {
		return
	}
	if count < 0 {
		count = 0
	}
	r.pendingPurchases.Set(float64(count))
}

func normalizeLabel(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return value
}
