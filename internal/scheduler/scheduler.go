package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/robfig/cron/v3"
	chargingdomain "github.com/smallbiznis/chargeflow/internal/charging/domain"
	"github.com/smallbiznis/chargeflow/internal/clock"
	obscontext "github.com/smallbiznis/chargeflow/internal/observability/context"
	obsmetrics "github.com/smallbiznis/chargeflow/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/chargeflow/internal/payment/domain"
	purchasedomain "github.com/smallbiznis/chargeflow/internal/purchase/domain"
	"github.com/smallbiznis/chargeflow/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const tickLockName = "scheduler:reconcile"

const (
	skipNotPaid     = "not_paid"
	skipNoCard      = "no_card_on_file"
	skipNothingDue  = "nothing_due"
	skipInProgress  = "payment_in_progress"
	skipTickLocked  = "tick"
	releaseDeadline = 5 * time.Second
)

var (
	ErrInvalidConfig = errors.New("scheduler: invalid config")

	errContractTimeout = errors.New("contract settlement timed out")
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Purchases purchasedomain.Repository
	Charging  chargingdomain.Service
	GenID     *snowflake.Node
	Clock     clock.Clock
	Config    Config            `optional:"true"`
	Locker    *ratelimit.Locker `optional:"true"`
	Cards     paymentdomain.CardVault
}

// Scheduler is the reconciliation daemon. Each tick settles pending usage and
// due renewals through the charging engine, one contract at a time.
type Scheduler struct {
	db        *gorm.DB
	log       *zap.Logger
	cfg       Config
	genID     *snowflake.Node
	clock     clock.Clock
	purchases purchasedomain.Repository
	charging  chargingdomain.Service
	locker    *ratelimit.Locker
	cards     paymentdomain.CardVault

	mu      sync.Mutex
	cron    *cron.Cron
	nextRun time.Time
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Purchases == nil || p.Charging == nil || p.GenID == nil || p.Clock == nil || p.Cards == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	if _, err := cron.ParseStandard(cfg.Cron); err != nil {
		return nil, fmt.Errorf("%w: cron %q: %v", ErrInvalidConfig, cfg.Cron, err)
	}
	return &Scheduler{
		db:        p.DB,
		log:       p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:       cfg,
		genID:     p.GenID,
		clock:     p.Clock,
		purchases: p.Purchases,
		charging:  p.Charging,
		locker:    p.Locker,
		cards:     p.Cards,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// the job deadline is a soft stop; the next tick picks up what is left
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce runs one reconciliation tick. With a locker configured only one
// replica runs a tick at a time; the others skip it.
func (s *Scheduler) RunOnce(parent context.Context) error {
	lease, err := s.acquireTick(parent)
	if errors.Is(err, obsmetrics.ErrJobLockHeld) {
		obsmetrics.Scheduler().IncBatchSkipped(skipTickLocked, obsmetrics.ClassifySchedulerJobReason(err))
		s.log.Info("reconciliation tick skipped, lock held elsewhere")
		return nil
	}
	if err != nil {
		return err
	}
	defer s.releaseTick(lease)

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{obsmetrics.JobReconcileUsage, s.ReconcileUsageJob},
		{obsmetrics.JobReconcileRenewals, s.ReconcileRenewalsJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.JobTimeout, job.Run))
		s.extendTick(parent, lease)
	}
	return err
}

// Start schedules RunOnce on the cron expression. Ticks run with ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	schedule, err := cron.ParseStandard(s.cfg.Cron)
	if err != nil {
		return fmt.Errorf("%w: cron %q: %v", ErrInvalidConfig, s.cfg.Cron, err)
	}

	logger := cronLogger{log: s.log.Sugar()}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	c.Schedule(schedule, cron.FuncJob(func() {
		s.tick(ctx, schedule)
	}))

	s.mu.Lock()
	s.cron = c
	s.nextRun = schedule.Next(s.clock.Now())
	next := s.nextRun
	s.mu.Unlock()

	c.Start()
	s.log.Info("reconciliation daemon started",
		zap.String("cron", s.cfg.Cron),
		zap.Time("next_run", next),
	)
	return nil
}

// Stop halts the cron loop. The returned context is done once a running tick
// has finished.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return c.Stop()
}

func (s *Scheduler) tick(ctx context.Context, schedule cron.Schedule) {
	now := s.clock.Now()
	s.mu.Lock()
	lag := now.Sub(s.nextRun)
	s.nextRun = schedule.Next(now)
	s.mu.Unlock()
	if lag > 0 {
		obsmetrics.Scheduler().ObserveRunLoopLag(lag)
	}

	if err := s.RunOnce(ctx); err != nil {
		s.log.Warn("scheduler run failed", zap.Error(err))
	}
}

// acquireTick takes the cross-replica tick lease. Without a locker every
// replica runs and the lease is nil.
func (s *Scheduler) acquireTick(ctx context.Context) (*ratelimit.Lease, error) {
	if s.locker == nil {
		return nil, nil
	}
	lease, ok, err := s.locker.Acquire(ctx, ratelimit.LockKey(tickLockName), s.cfg.LockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, obsmetrics.ErrJobLockHeld
	}
	return lease, nil
}

func (s *Scheduler) releaseTick(lease *ratelimit.Lease) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseDeadline)
	defer cancel()
	if err := lease.Release(ctx); err != nil {
		s.log.Warn("release reconciliation lock", zap.Error(err))
	}
}

// extendTick keeps the lease alive between jobs of a long tick.
func (s *Scheduler) extendTick(ctx context.Context, lease *ratelimit.Lease) {
	held, err := lease.Extend(ctx, s.cfg.LockTTL)
	switch {
	case err != nil:
		s.log.Warn("extend reconciliation lock", zap.Error(err))
	case !held:
		s.log.Warn("reconciliation lock expired during tick", zap.String("key", lease.Key()))
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// ReconcileUsageJob settles every contract holding usage stamped before now.
func (s *Scheduler) ReconcileUsageJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, obsmetrics.JobReconcileUsage)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	ids, err := s.purchases.ListWithPendingSDRs(ctx, s.db, s.clock.Now())
	if err != nil {
		return err
	}
	return s.settleAll(ctx, run, obsmetrics.JobReconcileUsage, ids, true)
}

// ReconcileRenewalsJob renews every contract with a subscription component due.
func (s *Scheduler) ReconcileRenewalsJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, obsmetrics.JobReconcileRenewals)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	ids, err := s.purchases.ListDueRenewals(ctx, s.db, s.clock.Now())
	if err != nil {
		return err
	}
	return s.settleAll(ctx, run, obsmetrics.JobReconcileRenewals, ids, false)
}

// settleAll processes contracts independently. A failing contract is logged
// and joined into the result; the rest still run.
func (s *Scheduler) settleAll(ctx context.Context, run *jobRun, job string, ids []snowflake.ID, useSDR bool) error {
	schedMetrics := obsmetrics.Scheduler()
	var errs error

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return errors.Join(errs, err)
		}

		reason, err := s.settleContract(ctx, id, useSDR)
		switch {
		case err != nil:
			if errors.Is(err, errContractTimeout) {
				schedMetrics.IncJobTimeout(job)
			}
			s.logContractError(ctx, run, job, id, err)
			errs = errors.Join(errs, fmt.Errorf("purchase %s: %w", id, err))
		case reason != "":
			schedMetrics.IncBatchSkipped(job, reason)
			s.logContractSkipped(ctx, run, job, id, reason)
		default:
			run.AddProcessed(1)
			schedMetrics.AddBatchProcessed(job, obsmetrics.ResourceContracts, 1)
		}
	}
	return errs
}

// settleContract charges one purchase under its own deadline. A non-empty
// reason means the contract was skipped.
func (s *Scheduler) settleContract(parent context.Context, id snowflake.ID, useSDR bool) (string, error) {
	ctx, cancel := context.WithTimeout(parent, s.cfg.ContractTimeout)
	defer cancel()
	ctx = obscontext.WithPurchaseID(ctx, id.String())

	purchase, err := s.purchases.Get(ctx, s.db, id)
	if err != nil {
		return "", contractErr(ctx, err)
	}
	if purchase.State != purchasedomain.StatePaid {
		return skipNotPaid, nil
	}
	ctx = obscontext.WithCustomer(ctx, purchase.CustomerName())

	card, err := s.cards.CardOnFile(ctx, purchase.CustomerName())
	if err != nil {
		return "", contractErr(ctx, err)
	}
	if card == nil {
		return skipNoCard, nil
	}

	_, err = s.charging.ResolveCharging(ctx, chargingdomain.ChargeRequest{
		PurchaseID: id,
		Method:     paymentdomain.CardMethod(*card),
		UseSDR:     useSDR,
	})
	switch {
	case err == nil:
		return "", nil
	case errors.Is(err, chargingdomain.ErrNoSDRsToCharge), errors.Is(err, chargingdomain.ErrNothingToCharge):
		return skipNothingDue, nil
	case errors.Is(err, chargingdomain.ErrPaymentInProgress):
		return skipInProgress, nil
	case errors.Is(err, chargingdomain.ErrPurchaseRolledBack):
		return skipNotPaid, nil
	}
	return "", contractErr(ctx, err)
}

// contractErr keeps a per-contract deadline from reading as a job timeout.
func contractErr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", errContractTimeout, err)
	}
	return err
}
