package charging

import (
	"time"

	"github.com/shopspring/decimal"
	chargingdomain "github.com/smallbiznis/chargeflow/internal/charging/domain"
	"github.com/smallbiznis/chargeflow/internal/pricing"
	purchasedomain "github.com/smallbiznis/chargeflow/internal/purchase/domain"
	"github.com/smallbiznis/chargeflow/internal/renewal"
	usagedomain "github.com/smallbiznis/chargeflow/internal/usage/domain"
)

// plan is the charge set of one call, priced but not yet paid.
type plan struct {
	concept  string
	currency string
	lines    []purchasedomain.ChargeLine
	parts    purchasedomain.AppliedParts
}

func (p plan) total() decimal.Decimal {
	total := decimal.Zero
	for _, line := range p.lines {
		total = total.Add(line.Cost)
	}
	return total
}

// charges are the log entries the plan appends. Zero lines are not recorded.
func (p plan) charges(at time.Time) []purchasedomain.Charge {
	var out []purchasedomain.Charge
	for _, line := range p.lines {
		if !line.Cost.IsPositive() {
			continue
		}
		out = append(out, purchasedomain.Charge{
			Cost:     line.Cost,
			Currency: p.currency,
			Concept:  line.Concept,
			Date:     at,
		})
	}
	return out
}

func (e *Engine) buildPlan(contract *purchasedomain.Contract, req chargingdomain.ChargeRequest, now time.Time) (plan, error) {
	model := contract.Model()
	switch {
	case req.NewPurchase:
		return e.initialPlan(model, now)
	case req.UseSDR:
		return e.usagePlan(contract, model)
	default:
		return e.renewalPlan(contract, model, now)
	}
}

// initialPlan charges single payments, flat "use" fees and the first
// subscription period in one aggregate line.
func (e *Engine) initialPlan(model purchasedomain.PricingModel, now time.Time) (plan, error) {
	p := plan{concept: chargingdomain.ConceptInitialCharge, currency: model.Currency()}

	single, err := e.resolver.Sum(model.SinglePayment)
	if err != nil {
		return plan{}, err
	}
	p.parts.SinglePayment = model.SinglePayment
	total := single

	for _, fee := range pricing.InitialUseFees(model.PayPerUse) {
		price, err := e.resolver.Resolve(fee, nil)
		if err != nil {
			return plan{}, err
		}
		p.parts.PayPerUse = append(p.parts.PayPerUse, purchasedomain.UsageCharge{
			Model:       fee,
			Consumption: decimal.NewFromInt(1),
			Price:       price,
		})
		total = total.Add(price)
	}

	if model.HasSubscription() {
		subs, err := e.resolver.Sum(model.Subscription)
		if err != nil {
			return plan{}, err
		}
		dated, err := e.renewals.InitialDates(model.Subscription, now)
		if err != nil {
			return plan{}, err
		}
		p.parts.Subscription = model.Subscription
		p.parts.Subscriptions = dated
		total = total.Add(subs)
	}

	p.lines = []purchasedomain.ChargeLine{{Concept: p.concept, Cost: total}}
	return p, nil
}

// usagePlan settles every pending SDR against the pay-per-use scheme.
func (e *Engine) usagePlan(contract *purchasedomain.Contract, model purchasedomain.PricingModel) (plan, error) {
	if len(contract.PendingSDRs) == 0 {
		return plan{}, chargingdomain.ErrNoSDRsToCharge
	}
	if !model.HasPayPerUse() {
		return plan{}, usagedomain.ErrNoPayPerUse
	}

	p := plan{concept: chargingdomain.ConceptPayPerUse, currency: model.Currency()}
	cost, err := e.settleUsage(&p, contract.PendingSDRs, model)
	if err != nil {
		return plan{}, err
	}
	p.lines = []purchasedomain.ChargeLine{{Concept: p.concept, Cost: cost}}
	return p, nil
}

// renewalPlan charges the due subscription components. A contract never
// charged before also pays its initial period, and pending usage is merged
// into the renewal when the scheme has pay-per-use parts.
func (e *Engine) renewalPlan(contract *purchasedomain.Contract, model purchasedomain.PricingModel, now time.Time) (plan, error) {
	if !model.HasSubscription() {
		return plan{}, renewal.ErrNoSubscriptions
	}

	p := plan{concept: chargingdomain.ConceptRenovation, currency: model.Currency()}

	if len(contract.Charges) == 0 {
		single, err := e.resolver.Sum(model.SinglePayment)
		if err != nil {
			return plan{}, err
		}
		subs, err := e.resolver.Sum(model.Subscription)
		if err != nil {
			return plan{}, err
		}
		p.parts.SinglePayment = model.SinglePayment
		p.parts.Subscription = append(p.parts.Subscription, model.Subscription...)
		p.lines = append(p.lines, purchasedomain.ChargeLine{
			Concept: chargingdomain.ConceptInitial,
			Cost:    single.Add(subs),
		})
	}

	due, err := e.renewals.DueRenewals(model.Subscription, now)
	if err != nil {
		return plan{}, err
	}
	renovation := due.Total
	p.parts.Subscription = append(p.parts.Subscription, due.Due...)

	merged := false
	if model.HasPayPerUse() && len(contract.PendingSDRs) > 0 {
		usage, err := e.settleUsage(&p, contract.PendingSDRs, model)
		if err != nil {
			return plan{}, err
		}
		renovation = renovation.Add(usage)
		merged = true
	}

	if due.HasDue() || merged {
		p.lines = append(p.lines, purchasedomain.ChargeLine{
			Concept: chargingdomain.ConceptRenovation,
			Cost:    renovation,
		})
	}
	if len(p.lines) == 0 {
		return plan{}, chargingdomain.ErrNothingToCharge
	}

	updated, err := e.fillRenovationDates(due.Updated, now)
	if err != nil {
		return plan{}, err
	}
	p.parts.Subscriptions = updated
	return p, nil
}

// settleUsage prices the SDRs, subtracts deductions and floors the result at
// zero. The SDRs are marked settled on the plan.
func (e *Engine) settleUsage(p *plan, sdrs []purchasedomain.SDR, model purchasedomain.PricingModel) (decimal.Decimal, error) {
	charges, usage, err := e.resolver.Aggregate(model.PayPerUse, sdrs)
	if err != nil {
		return decimal.Zero, err
	}
	deductions, deducted, err := e.resolver.Deduct(model.Deductions, sdrs)
	if err != nil {
		return decimal.Zero, err
	}

	p.parts.PayPerUse = append(p.parts.PayPerUse, charges...)
	p.parts.Deductions = append(p.parts.Deductions, deductions...)
	for _, sdr := range sdrs {
		p.parts.SettledSDRs = append(p.parts.SettledSDRs, sdr.CorrelationNumber)
	}

	cost := usage.Sub(deducted)
	if cost.IsNegative() {
		cost = decimal.Zero
	}
	return cost, nil
}

// fillRenovationDates dates components that never had a renovation date.
func (e *Engine) fillRenovationDates(components []purchasedomain.Component, now time.Time) ([]purchasedomain.Component, error) {
	out := make([]purchasedomain.Component, 0, len(components))
	for _, component := range components {
		if component.RenovationDate != nil {
			out = append(out, component)
			continue
		}
		dated, err := e.renewals.InitialDates([]purchasedomain.Component{component}, now)
		if err != nil {
			return nil, err
		}
		out = append(out, dated...)
	}
	return out, nil
}
