package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	ResultSuccess  = "success"
	ResultFailed   = "failed"
	ResultPending  = "pending"
	ResultRejected = "rejected"
	ResultAccepted = "accepted"
)

// ChargingMetrics tracks the charging engine and SDR ledger.
type ChargingMetrics struct {
	charges         *prometheus.CounterVec
	paymentDuration *prometheus.HistogramVec
	rollbacks       prometheus.Counter
	sdrIncludes     *prometheus.CounterVec
	cdrFailures     prometheus.Counter
}

var (
	chargingMetricsOnce sync.Once
	chargingMetrics     *ChargingMetrics
)

// Charging returns the singleton charging metrics registry.
func Charging() *ChargingMetrics {
	return ChargingWithConfig(Config{})
}

func ChargingWithConfig(cfg Config) *ChargingMetrics {
	chargingMetricsOnce.Do(func() {
		chargingMetrics = newChargingMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return chargingMetrics
}

// ResetChargingMetricsForTest resets the charging metrics singleton for tests.
func ResetChargingMetricsForTest() {
	chargingMetricsOnce = sync.Once{}
	chargingMetrics = nil
}

// NewChargingMetricsForTest builds an instance bound to a private registry.
func NewChargingMetricsForTest(registerer prometheus.Registerer) *ChargingMetrics {
	return newChargingMetrics(registerer, Config{Environment: "test"})
}

func newChargingMetrics(registerer prometheus.Registerer, cfg Config) *ChargingMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	constLabels := constLabelsFor(cfg)

	charges := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "chargeflow_charges_total",
		Help:        "Charge resolutions by concept and result.",
		ConstLabels: constLabels,
	}, []string{"concept", "result"})
	paymentDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "chargeflow_payment_duration_seconds",
		Help:        "Gateway call latency.",
		Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		ConstLabels: constLabels,
	}, []string{"gateway"})
	rollbacks := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "chargeflow_payment_rollbacks_total",
		Help:        "Asynchronous payments rolled back by timeout.",
		ConstLabels: constLabels,
	})
	sdrIncludes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "chargeflow_sdr_include_total",
		Help:        "SDR submissions by result and reason.",
		ConstLabels: constLabels,
	}, []string{"result", "reason"})
	cdrFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "chargeflow_cdr_dispatch_failures_total",
		Help:        "CDR batches the accounting sink rejected.",
		ConstLabels: constLabels,
	})

	registerer.MustRegister(charges, paymentDuration, rollbacks, sdrIncludes, cdrFailures)

	return &ChargingMetrics{
		charges:         charges,
		paymentDuration: paymentDuration,
		rollbacks:       rollbacks,
		sdrIncludes:     sdrIncludes,
		cdrFailures:     cdrFailures,
	}
}

func (m *ChargingMetrics) IncCharge(concept, result string) {
	if m == nil {
		return
	}
	m.charges.WithLabelValues(concept, result).Inc()
}

func (m *ChargingMetrics) ObservePayment(gateway string, duration time.Duration) {
	if m == nil {
		return
	}
	m.paymentDuration.WithLabelValues(gateway).Observe(duration.Seconds())
}

func (m *ChargingMetrics) IncRollback() {
	if m == nil {
		return
	}
	m.rollbacks.Inc()
}

// IncSDRInclude records an SDR submission; reason is empty on success.
func (m *ChargingMetrics) IncSDRInclude(result, reason string) {
	if m == nil {
		return
	}
	m.sdrIncludes.WithLabelValues(result, reason).Inc()
}

func (m *ChargingMetrics) IncCDRFailure() {
	if m == nil {
		return
	}
	m.cdrFailures.Inc()
}

// ChargeCount exposes the counter for assertions in other packages' tests.
func (m *ChargingMetrics) ChargeCount(concept, result string) prometheus.Counter {
	return m.charges.WithLabelValues(concept, result)
}

func (m *ChargingMetrics) RollbackCount() prometheus.Counter {
	return m.rollbacks
}

func (m *ChargingMetrics) SDRIncludeCount(result, reason string) prometheus.Counter {
	return m.sdrIncludes.WithLabelValues(result, reason)
}

func (m *ChargingMetrics) CDRFailureCount() prometheus.Counter {
	return m.cdrFailures
}
