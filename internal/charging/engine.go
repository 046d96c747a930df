package charging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	billdomain "github.com/smallbiznis/chargeflow/internal/bill/domain"
	"github.com/smallbiznis/chargeflow/internal/cdr"
	chargingdomain "github.com/smallbiznis/chargeflow/internal/charging/domain"
	"github.com/smallbiznis/chargeflow/internal/clock"
	"github.com/smallbiznis/chargeflow/internal/config"
	obslogger "github.com/smallbiznis/chargeflow/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/chargeflow/internal/observability/metrics"
	"github.com/smallbiznis/chargeflow/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/chargeflow/internal/payment/domain"
	"github.com/smallbiznis/chargeflow/internal/pricing"
	purchasedomain "github.com/smallbiznis/chargeflow/internal/purchase/domain"
	"github.com/smallbiznis/chargeflow/internal/renewal"
	"github.com/smallbiznis/chargeflow/internal/revenuemetrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const timeoutHandlerBudget = 30 * time.Second

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Purchases  purchasedomain.Repository
	Resolver   *pricing.Resolver
	Renewals   *renewal.Scheduler
	Gateways   *adapters.Registry
	Clock      clock.Clock
	Timeouts   *TimeoutRegistry
	Emitter    *cdr.Emitter
	Bills      billdomain.Issuer
	Config     *config.ChargingConfigHolder `optional:"true"`
	Charging   *obsmetrics.ChargingMetrics  `optional:"true"`
	ObsMetrics *obsmetrics.Metrics          `optional:"true"`
	Revenue    *revenuemetrics.Recorder     `optional:"true"`
}

// Engine resolves what a purchase owes, takes the payment and commits the
// charge. The contract lock arbitrates between completion, timeout and the
// reconciliation daemon.
type Engine struct {
	db  *gorm.DB
	log *zap.Logger

	purchases  purchasedomain.Repository
	resolver   *pricing.Resolver
	renewals   *renewal.Scheduler
	gateways   *adapters.Registry
	clock      clock.Clock
	timeouts   *TimeoutRegistry
	emitter    *cdr.Emitter
	bills      billdomain.Issuer
	config     *config.ChargingConfigHolder
	charging   *obsmetrics.ChargingMetrics
	obsMetrics *obsmetrics.Metrics
	revenue    *revenuemetrics.Recorder
}

func NewEngine(p Params) *Engine {
	return &Engine{
		db:  p.DB,
		log: p.Log.Named("charging.engine"),

		purchases:  p.Purchases,
		resolver:   p.Resolver,
		renewals:   p.Renewals,
		gateways:   p.Gateways,
		clock:      p.Clock,
		timeouts:   p.Timeouts,
		emitter:    p.Emitter,
		bills:      p.Bills,
		config:     p.Config,
		charging:   p.Charging,
		obsMetrics: p.ObsMetrics,
		revenue:    p.Revenue,
	}
}

func (e *Engine) chargingConfig() config.ChargingConfig {
	if e.config == nil {
		return config.DefaultChargingConfig()
	}
	return e.config.Get()
}

// ResolveCharging takes the contract lock before reading the purchase, so
// the plan always reflects what earlier settlements already committed.
func (e *Engine) ResolveCharging(ctx context.Context, req chargingdomain.ChargeRequest) (out *chargingdomain.Outcome, err error) {
	log := obslogger.WithContext(ctx, e.log).With(zap.String("purchase_id", req.PurchaseID.String()))

	locked, err := e.purchases.TryLock(ctx, e.db, req.PurchaseID)
	if err != nil {
		return nil, err
	}
	if !locked {
		if _, err := e.purchases.Get(ctx, e.db, req.PurchaseID); err != nil {
			return nil, err
		}
		return nil, chargingdomain.ErrPaymentInProgress
	}
	defer e.releaseOnError(ctx, log, req.PurchaseID, &err)

	purchase, err := e.purchases.Get(ctx, e.db, req.PurchaseID)
	if err != nil {
		return nil, err
	}
	if err := checkChargeable(purchase, req); err != nil {
		return nil, err
	}

	now := e.clock.Now()
	p, err := e.buildPlan(purchase.Contract, req, now)
	if err != nil {
		log.Info("charge rejected",
			zap.Bool("new_purchase", req.NewPurchase),
			zap.Bool("use_sdr", req.UseSDR),
			zap.Error(err),
		)
		return nil, err
	}

	price := p.total()
	log = log.With(zap.String("concept", p.concept), zap.String("price", price.String()))

	if price.IsZero() {
		return e.settle(ctx, log, purchase, p, now, nil)
	}

	switch req.Method.Kind {
	case paymentdomain.MethodCard:
		return e.settle(ctx, log, purchase, p, now, func(ctx context.Context) error {
			return e.capture(ctx, req.Method, p)
		})
	case paymentdomain.MethodRedirect:
		return e.startRedirect(ctx, log, purchase, req.Method, p, now)
	default:
		return nil, chargingdomain.ErrPaymentMethodRequired
	}
}

// settle runs pay and commits the plan. The caller holds the contract lock;
// the commit releases it. A nil pay commits without touching a gateway.
func (e *Engine) settle(ctx context.Context, log *zap.Logger, purchase *purchasedomain.Purchase, p plan, at time.Time, pay func(context.Context) error) (*chargingdomain.Outcome, error) {
	if pay != nil {
		if err := pay(ctx); err != nil {
			e.charging.IncCharge(p.concept, obsmetrics.ResultFailed)
			log.Warn("payment failed", zap.Error(err))
			return nil, err
		}
	}

	bill, err := e.commit(ctx, purchase, p, at, false)
	if err != nil {
		return nil, err
	}
	e.finish(ctx, log, purchase, p, at)

	return &chargingdomain.Outcome{
		Concept:  p.concept,
		Price:    p.total(),
		Currency: p.currency,
		Bill:     bill.Reference,
	}, nil
}

func (e *Engine) capture(ctx context.Context, method paymentdomain.Method, p plan) error {
	if method.Card == nil {
		return paymentdomain.ErrCardRequired
	}
	gateway, err := e.gateways.Open(method.Gateway)
	if err != nil {
		return err
	}
	start := time.Now()
	err = gateway.DirectPayment(ctx, p.currency, p.total(), *method.Card)
	e.charging.ObservePayment(method.Gateway, time.Since(start))
	if err != nil {
		return fmt.Errorf("%w: %v", paymentdomain.ErrPaymentFailed, err)
	}
	e.obsMetrics.RecordPaymentEvent(ctx, method.Gateway, "captured")
	return nil
}

// startRedirect opens the gateway checkout, stashes the plan on the contract
// and arms the payment timeout. Nothing is charged until EndCharging. The
// caller holds the contract lock and MarkPending releases it.
func (e *Engine) startRedirect(ctx context.Context, log *zap.Logger, purchase *purchasedomain.Purchase, method paymentdomain.Method, p plan, now time.Time) (*chargingdomain.Outcome, error) {
	gateway, err := e.gateways.Open(method.Gateway)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	token, err := gateway.StartRedirectionPayment(ctx, paymentdomain.RedirectRequest{
		PurchaseID: purchase.ID.String(),
		Concept:    p.concept,
		Price:      p.total(),
		Currency:   p.currency,
	})
	e.charging.ObservePayment(method.Gateway, time.Since(start))
	if err != nil {
		e.charging.IncCharge(p.concept, obsmetrics.ResultFailed)
		log.Warn("redirect payment could not start", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", paymentdomain.ErrPaymentFailed, err)
	}

	pending := &purchasedomain.PendingPayment{
		Price:        p.total(),
		Currency:     p.currency,
		Concept:      p.concept,
		Lines:        p.lines,
		RelatedModel: p.parts,
		Gateway:      method.Gateway,
		Token:        token,
		StartedAt:    now,
	}
	if err := e.purchases.MarkPending(ctx, e.db, purchase.ID, pending); err != nil {
		return nil, err
	}

	e.armTimeout(purchase.ID)
	e.charging.IncCharge(p.concept, obsmetrics.ResultPending)
	e.obsMetrics.RecordPaymentEvent(ctx, method.Gateway, "started")
	log.Info("redirect payment started", zap.String("gateway", method.Gateway))

	return &chargingdomain.Outcome{
		RedirectURL: gateway.GetCheckoutURL(),
		Concept:     p.concept,
		Price:       p.total(),
		Currency:    p.currency,
	}, nil
}

// EndCharging captures an approved redirect payment and commits the stashed
// plan. The contract lock is held from before the capture until the commit.
func (e *Engine) EndCharging(ctx context.Context, req chargingdomain.Completion) (out *chargingdomain.Outcome, err error) {
	log := obslogger.WithContext(ctx, e.log).With(zap.String("purchase_id", req.PurchaseID.String()))

	locked, err := e.purchases.TryLock(ctx, e.db, req.PurchaseID)
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, chargingdomain.ErrPaymentInProgress
	}
	defer e.releaseOnError(ctx, log, req.PurchaseID, &err)

	e.timeouts.Cancel(req.PurchaseID)

	purchase, err := e.purchases.Get(ctx, e.db, req.PurchaseID)
	if err != nil {
		return nil, err
	}
	if purchase.State == purchasedomain.StateRollback {
		err = chargingdomain.ErrPurchaseRolledBack
		return nil, err
	}
	pending := purchase.Contract.Pending()
	if pending == nil {
		err = chargingdomain.ErrNoPendingPayment
		return nil, err
	}
	if pending.Token != "" && req.Token != pending.Token {
		err = chargingdomain.ErrTokenMismatch
		return nil, err
	}

	p := plan{
		concept:  pending.Concept,
		currency: pending.Currency,
		lines:    pending.Lines,
		parts:    pending.RelatedModel,
	}
	if len(p.lines) == 0 {
		p.lines = []purchasedomain.ChargeLine{{Concept: pending.Concept, Cost: pending.Price}}
	}
	log = log.With(zap.String("concept", p.concept), zap.String("price", pending.Price.String()))

	gateway, err := e.gateways.Open(pending.Gateway)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	captureErr := gateway.EndRedirectionPayment(ctx, paymentdomain.Completion{
		Token:    req.Token,
		PayerID:  req.PayerID,
		Price:    pending.Price,
		Currency: pending.Currency,
	})
	e.charging.ObservePayment(pending.Gateway, time.Since(start))
	if captureErr != nil {
		e.charging.IncCharge(p.concept, obsmetrics.ResultFailed)
		log.Warn("redirect payment capture failed", zap.Error(captureErr))
		e.armTimeout(req.PurchaseID)
		err = fmt.Errorf("%w: %v", paymentdomain.ErrPaymentFailed, captureErr)
		return nil, err
	}
	e.obsMetrics.RecordPaymentEvent(ctx, pending.Gateway, "captured")

	at := e.clock.Now()
	bill, err := e.commit(ctx, purchase, p, at, true)
	if err != nil {
		return nil, err
	}
	e.finish(ctx, log, purchase, p, at)

	return &chargingdomain.Outcome{
		Concept:  p.concept,
		Price:    p.total(),
		Currency: p.currency,
		Bill:     bill.Reference,
	}, nil
}

// CancelCharging rolls back a pending redirect payment the customer abandoned.
func (e *Engine) CancelCharging(ctx context.Context, purchaseID snowflake.ID) (bool, error) {
	e.timeouts.Cancel(purchaseID)
	return e.rollback(ctx, purchaseID, "cancelled")
}

// HandleTimeout rolls the purchase back unless a completion holds the lock or
// the purchase is no longer pending.
func (e *Engine) HandleTimeout(ctx context.Context, purchaseID snowflake.ID) (bool, error) {
	return e.rollback(ctx, purchaseID, "timeout")
}

func (e *Engine) rollback(ctx context.Context, purchaseID snowflake.ID, reason string) (bool, error) {
	log := obslogger.WithContext(ctx, e.log).With(
		zap.String("purchase_id", purchaseID.String()),
		zap.String("reason", reason),
	)
	changed, err := e.purchases.RollbackIfUnlocked(ctx, e.db, purchaseID)
	if err != nil {
		log.Error("payment rollback failed", zap.Error(err))
		return false, err
	}
	if !changed {
		log.Debug("payment rollback skipped")
		return false, nil
	}
	e.charging.IncRollback()
	e.revenue.RecordRollback()
	e.obsMetrics.RecordPaymentEvent(ctx, "", "rolled_back")
	log.Info("payment rolled back")
	return true, nil
}

func (e *Engine) armTimeout(purchaseID snowflake.ID) {
	window := e.chargingConfig().PaymentTimeout
	e.timeouts.Schedule(purchaseID, window, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeoutHandlerBudget)
		defer cancel()
		_, _ = e.HandleTimeout(ctx, purchaseID)
	})
}

// commit issues the bill and applies the charge in one transaction. The
// purchase state is re-read under the row lock so a rollback that won the
// race aborts the commit.
func (e *Engine) commit(ctx context.Context, purchase *purchasedomain.Purchase, p plan, at time.Time, clearPending bool) (*billdomain.Bill, error) {
	var bill *billdomain.Bill
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := e.purchases.GetForUpdate(ctx, tx, purchase.ID)
		if err != nil {
			return err
		}
		if current.State == purchasedomain.StateRollback {
			return chargingdomain.ErrPurchaseRolledBack
		}

		bill, err = e.bills.Issue(ctx, tx, billdomain.IssueRequest{
			Purchase: current,
			Concept:  p.concept,
			Lines:    p.lines,
			Total:    p.total(),
			Currency: p.currency,
			IssuedAt: at,
		})
		if err != nil {
			return err
		}

		return e.purchases.ApplyCommit(ctx, tx, purchasedomain.Commit{
			PurchaseID:   purchase.ID,
			Charges:      p.charges(at),
			Bill:         bill.Reference,
			SettledSDRs:  p.parts.SettledSDRs,
			Subscription: p.parts.Subscriptions,
			ClearPending: clearPending,
			Unlock:       true,
		})
	})
	if err != nil {
		return nil, err
	}
	return bill, nil
}

func (e *Engine) finish(ctx context.Context, log *zap.Logger, purchase *purchasedomain.Purchase, p plan, at time.Time) {
	e.emitter.Emit(ctx, purchase, p.parts, at)
	e.charging.IncCharge(p.concept, obsmetrics.ResultSuccess)
	e.revenue.RecordSettlement(p.currency, p.concept, p.total())
	log.Info("charge settled", zap.Int("charges", len(p.charges(at))))
}

// releaseOnError clears the contract lock when the guarded call failed. A
// successful commit clears it in the same transaction.
func (e *Engine) releaseOnError(ctx context.Context, log *zap.Logger, purchaseID snowflake.ID, errp *error) {
	if *errp == nil {
		return
	}
	if err := e.purchases.Unlock(context.WithoutCancel(ctx), e.db, purchaseID); err != nil {
		log.Error("contract unlock failed", zap.Error(err))
	}
}

func checkChargeable(purchase *purchasedomain.Purchase, req chargingdomain.ChargeRequest) error {
	if purchase.Contract == nil {
		return purchasedomain.ErrContractNotFound
	}
	switch purchase.State {
	case purchasedomain.StateRollback:
		return chargingdomain.ErrPurchaseRolledBack
	case purchasedomain.StatePending:
		if purchase.Contract.Pending() != nil {
			return chargingdomain.ErrPaymentInProgress
		}
	case purchasedomain.StatePaid:
		// the initial charge is taken once
		if req.NewPurchase {
			return chargingdomain.ErrNothingToCharge
		}
	}
	return nil
}

// IsValidation reports errors caused by the request rather than by a
// collaborator.
func IsValidation(err error) bool {
	return errors.Is(err, chargingdomain.ErrNoSDRsToCharge) ||
		errors.Is(err, chargingdomain.ErrNothingToCharge) ||
		errors.Is(err, renewal.ErrNoSubscriptions) ||
		errors.Is(err, renewal.ErrUnknownUnit) ||
		pricing.IsInvalidArgument(err)
}

var _ chargingdomain.Service = (*Engine)(nil)
