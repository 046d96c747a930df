package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/shopspring/decimal"
	chargingdomain "github.com/smallbiznis/chargeflow/internal/charging/domain"
	"github.com/smallbiznis/chargeflow/internal/clock"
	obsmetrics "github.com/smallbiznis/chargeflow/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/chargeflow/internal/payment/domain"
	purchasedomain "github.com/smallbiznis/chargeflow/internal/purchase/domain"
	"github.com/smallbiznis/chargeflow/internal/payment/vault"
	purchaserepo "github.com/smallbiznis/chargeflow/internal/purchase/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testNow = time.Date(2013, 3, 13, 5, 0, 0, 0, time.UTC)

type fakeCharging struct {
	mu       sync.Mutex
	requests []chargingdomain.ChargeRequest
	errs     map[snowflake.ID]error
	block    map[snowflake.ID]bool
}

func (f *fakeCharging) ResolveCharging(ctx context.Context, req chargingdomain.ChargeRequest) (*chargingdomain.Outcome, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	err := f.errs[req.PurchaseID]
	block := f.block[req.PurchaseID]
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return &chargingdomain.Outcome{Concept: chargingdomain.ConceptPayPerUse}, nil
}

func (f *fakeCharging) EndCharging(context.Context, chargingdomain.Completion) (*chargingdomain.Outcome, error) {
	return nil, errors.New("not used")
}

func (f *fakeCharging) CancelCharging(context.Context, snowflake.ID) (bool, error) {
	return false, errors.New("not used")
}

func (f *fakeCharging) charged() []chargingdomain.ChargeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chargingdomain.ChargeRequest(nil), f.requests...)
}

type fixture struct {
	db       *gorm.DB
	node     *snowflake.Node
	repo     purchasedomain.Repository
	charging *fakeCharging
	cards    *vault.Store
	sched    *Scheduler
	registry *prometheus.Registry
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	t.Cleanup(restore)
	obsmetrics.ResetSchedulerMetricsForTest()
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{ServiceName: "chargeflow", Environment: "test"})

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&purchasedomain.Purchase{}, &purchasedomain.Contract{}, &paymentdomain.StoredCard{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(testNow)

	f := &fixture{
		db:       db,
		node:     node,
		repo:     purchaserepo.Provide(),
		charging: &fakeCharging{errs: map[snowflake.ID]error{}, block: map[snowflake.ID]bool{}},
		cards:    vault.NewStore(vault.Params{DB: db, Log: zap.NewNop(), GenID: node, Clock: clk}),
		registry: registry,
	}
	f.storeCard(t, "test_user", "card_tok_user")
	f.storeCard(t, "test_org", "card_tok_org")

	f.sched, err = New(Params{
		DB:        db,
		Log:       zap.NewNop(),
		Purchases: f.repo,
		Charging:  f.charging,
		GenID:     node,
		Clock:     clk,
		Config:    cfg,
		Cards:     f.cards,
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) storeCard(t *testing.T, customer, token string) {
	t.Helper()
	_, err := f.cards.Save(context.Background(), paymentdomain.StoredCard{
		Customer:    customer,
		Token:       token,
		Type:        "visa",
		ExpireMonth: 5,
		ExpireYear:  2018,
	})
	require.NoError(t, err)
}

type seedOpts struct {
	customer string
	state    purchasedomain.PurchaseState
	sdrAt    *time.Time
	renewAt  *time.Time
}

func (f *fixture) seed(t *testing.T, opts seedOpts) snowflake.ID {
	t.Helper()
	if opts.customer == "" {
		opts.customer = "test_user"
	}
	if opts.state == "" {
		opts.state = purchasedomain.StatePaid
	}

	contract := &purchasedomain.Contract{ID: f.node.Generate()}
	model := purchasedomain.PricingModel{}
	if opts.sdrAt != nil {
		model.PayPerUse = []purchasedomain.Component{{Title: "invocation", Value: decimal.NewFromInt(1), Unit: "invocation", Currency: "EUR"}}
		contract.PendingSDRs = []purchasedomain.SDR{{
			ComponentLabel:    "invocation",
			Customer:          opts.customer,
			CorrelationNumber: 1,
			TimeStamp:         *opts.sdrAt,
			Value:             decimal.NewFromInt(10),
			Unit:              "invocation",
		}}
	}
	if opts.renewAt != nil {
		model.Subscription = []purchasedomain.Component{{Title: "monthly", Value: decimal.NewFromInt(10), Unit: "per month", Currency: "EUR", RenovationDate: opts.renewAt}}
	}
	contract.SetModel(model)

	p := &purchasedomain.Purchase{
		ID:       f.node.Generate(),
		Customer: opts.customer,
		Offering: purchasedomain.Offering{Name: "test_offering", Organization: "test_organization", Version: "1.0"},
		State:    opts.state,
		Contract: contract,
	}
	require.NoError(t, f.repo.Create(context.Background(), f.db, p))
	return p.ID
}

func timePtr(t time.Time) *time.Time { return &t }

func TestReconcileUsage_SettlesPastUsageByCard(t *testing.T) {
	f := newFixture(t, Config{})
	past := testNow.Add(-time.Hour)
	future := testNow.Add(time.Hour)

	due := f.seed(t, seedOpts{sdrAt: &past})
	f.seed(t, seedOpts{sdrAt: &future})

	require.NoError(t, f.sched.RunOnce(context.Background()))

	charged := f.charging.charged()
	require.Len(t, charged, 1)
	assert.Equal(t, due, charged[0].PurchaseID)
	assert.True(t, charged[0].UseSDR)
	assert.Equal(t, paymentdomain.MethodCard, charged[0].Method.Kind)
	require.NotNil(t, charged[0].Method.Card)
	assert.Equal(t, "card_tok_user", charged[0].Method.Card.Token)

	assert.Equal(t, 1.0, getCounterValue(t, f.registry, "chargeflow_scheduler_batch_processed_total", map[string]string{
		"service": "chargeflow", "env": "test", "job": obsmetrics.JobReconcileUsage, "resource": obsmetrics.ResourceContracts,
	}))
}

func TestReconcileUsage_SkipsUnpaidAndCardless(t *testing.T) {
	f := newFixture(t, Config{})
	past := testNow.Add(-time.Hour)

	f.seed(t, seedOpts{sdrAt: &past, state: purchasedomain.StatePending})
	f.seed(t, seedOpts{sdrAt: &past, customer: "no_card_user"})

	require.NoError(t, f.sched.RunOnce(context.Background()))
	assert.Empty(t, f.charging.charged())

	labels := func(reason string) map[string]string {
		return map[string]string{"service": "chargeflow", "env": "test", "job": obsmetrics.JobReconcileUsage, "reason": reason}
	}
	assert.Equal(t, 1.0, getCounterValue(t, f.registry, "chargeflow_scheduler_batch_skipped_total", labels(skipNotPaid)))
	assert.Equal(t, 1.0, getCounterValue(t, f.registry, "chargeflow_scheduler_batch_skipped_total", labels(skipNoCard)))
}

func TestReconcileUsage_FailureDoesNotAbortOthers(t *testing.T) {
	f := newFixture(t, Config{})
	past := testNow.Add(-time.Hour)

	failing := f.seed(t, seedOpts{sdrAt: &past})
	raced := f.seed(t, seedOpts{sdrAt: &past})
	ok := f.seed(t, seedOpts{sdrAt: &past, customer: "test_org"})

	f.charging.errs[failing] = errors.New("gateway unavailable")
	f.charging.errs[raced] = chargingdomain.ErrNoSDRsToCharge

	err := f.sched.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway unavailable")
	assert.Contains(t, err.Error(), failing.String())
	assert.NotContains(t, err.Error(), raced.String())

	var ids []snowflake.ID
	for _, req := range f.charging.charged() {
		ids = append(ids, req.PurchaseID)
	}
	assert.ElementsMatch(t, []snowflake.ID{failing, raced, ok}, ids)
}

func TestReconcileRenewals_ChargesDueSubscriptions(t *testing.T) {
	f := newFixture(t, Config{EnabledJobs: []string{obsmetrics.JobReconcileRenewals}})

	due := f.seed(t, seedOpts{renewAt: timePtr(testNow.Add(-24 * time.Hour))})
	f.seed(t, seedOpts{renewAt: timePtr(testNow.Add(24 * time.Hour))})
	f.seed(t, seedOpts{sdrAt: timePtr(testNow.Add(-time.Hour))})

	require.NoError(t, f.sched.RunOnce(context.Background()))

	charged := f.charging.charged()
	require.Len(t, charged, 1)
	assert.Equal(t, due, charged[0].PurchaseID)
	assert.False(t, charged[0].UseSDR)
}

func TestReconcile_ContractTimeoutIsIsolated(t *testing.T) {
	f := newFixture(t, Config{ContractTimeout: 10 * time.Millisecond})
	past := testNow.Add(-time.Hour)

	slow := f.seed(t, seedOpts{sdrAt: &past})
	fast := f.seed(t, seedOpts{sdrAt: &past})
	f.charging.block[slow] = true

	err := f.sched.RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errContractTimeout)

	var ids []snowflake.ID
	for _, req := range f.charging.charged() {
		ids = append(ids, req.PurchaseID)
	}
	assert.Contains(t, ids, fast)

	assert.Equal(t, 1.0, getCounterValue(t, f.registry, "chargeflow_scheduler_job_timeouts_total", map[string]string{
		"service": "chargeflow", "env": "test", "job": obsmetrics.JobReconcileUsage,
	}))
}

func TestNew_RejectsBadCron(t *testing.T) {
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	_, err = New(Params{
		DB:        &gorm.DB{},
		Log:       zap.NewNop(),
		Purchases: purchaserepo.Provide(),
		Charging:  &fakeCharging{},
		GenID:     node,
		Clock:     clock.NewFakeClock(testNow),
		Config:    Config{Cron: "every day at five"},
		Cards:     &vault.Store{},
	})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "every day at five")

	_, err = New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, "0 5 * * *", cfg.Cron)
	assert.Equal(t, 30*time.Second, cfg.ContractTimeout)
	assert.Equal(t, time.Hour, cfg.LockTTL)

	assert.Equal(t, DefaultConfig(), ProvideConfig(nil))
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()

	obsmetrics.ResetSchedulerMetricsForTest()
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{
		ServiceName: "chargeflow",
		Environment: "test",
	})

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	s := &Scheduler{log: zap.NewNop(), genID: node, clock: clock.NewFakeClock(time.Time{})}
	err = s.runJob(context.Background(), "timeout_job", 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	labels := map[string]string{
		"service": "chargeflow",
		"env":     "test",
		"job":     "timeout_job",
	}
	assert.Equal(t, 1.0, getCounterValue(t, registry, "chargeflow_scheduler_job_timeouts_total", labels))

	errorLabels := map[string]string{
		"service": "chargeflow",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	assert.Equal(t, 1.0, getCounterValue(t, registry, "chargeflow_scheduler_job_errors_total", errorLabels))
}

func TestStartStop(t *testing.T) {
	f := newFixture(t, Config{Cron: "*/5 * * * *"})

	require.NoError(t, f.sched.Start(context.Background()))
	select {
	case <-f.sched.Stop().Done():
	case <-time.After(time.Second):
		t.Fatal("cron did not stop")
	}
	// stopping twice is a no-op
	<-f.sched.Stop().Done()
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetSchedulerMetricsForTest()
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
