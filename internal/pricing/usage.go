package pricing

import (
	"github.com/shopspring/decimal"
	purchasedomain "github.com/smallbiznis/chargeflow/internal/purchase/domain"
)

// BindVariables sums SDR values per component label.
func BindVariables(sdrs []purchasedomain.SDR) Variables {
	vars := Variables{}
	for _, sdr := range sdrs {
		if sdr.ComponentLabel == "" {
			continue
		}
		current, _ := vars[sdr.ComponentLabel].(decimal.Decimal)
		vars[sdr.ComponentLabel] = current.Add(sdr.Value)
	}
	return vars
}

// Aggregate settles pay-per-use components against the given SDRs. A plain
// component costs value times the consumption of SDRs in its unit; a price
// function is evaluated once against the bound variables.
func (r *Resolver) Aggregate(components []purchasedomain.Component, sdrs []purchasedomain.SDR) ([]purchasedomain.UsageCharge, decimal.Decimal, error) {
	vars := BindVariables(sdrs)
	total := decimal.Zero
	out := make([]purchasedomain.UsageCharge, 0, len(components))

	for _, component := range components {
		charge := purchasedomain.UsageCharge{Model: component}

		if component.PriceFunction != nil {
			price, err := r.Evaluate(*component.PriceFunction, vars)
			if err != nil {
				return nil, decimal.Zero, err
			}
			charge.Accounting = sdrs
			charge.Consumption = sumValues(sdrs)
			charge.Price = price
		} else {
			matched := filterByUnit(sdrs, component.Unit)
			if len(matched) == 0 {
				continue
			}
			charge.Accounting = matched
			charge.Consumption = sumValues(matched)
			charge.Price = component.Value.Mul(charge.Consumption)
		}

		total = total.Add(charge.Price)
		out = append(out, charge)
	}
	return out, total, nil
}

// Deduct evaluates deduction components and returns the amount to subtract.
func (r *Resolver) Deduct(deductions []purchasedomain.Component, sdrs []purchasedomain.SDR) ([]purchasedomain.UsageCharge, decimal.Decimal, error) {
	if len(deductions) == 0 {
		return nil, decimal.Zero, nil
	}
	vars := BindVariables(sdrs)
	total := decimal.Zero
	out := make([]purchasedomain.UsageCharge, 0, len(deductions))
	for _, component := range deductions {
		price, err := r.Resolve(component, vars)
		if err != nil {
			return nil, decimal.Zero, err
		}
		total = total.Add(price)
		out = append(out, purchasedomain.UsageCharge{
			Model:       component,
			Accounting:  sdrs,
			Consumption: sumValues(sdrs),
			Price:       price,
		})
	}
	return out, total, nil
}

// InitialUseFees returns the pay-per-use components charged once at purchase.
func InitialUseFees(components []purchasedomain.Component) []purchasedomain.Component {
	var out []purchasedomain.Component
	for _, c := range components {
		if c.Unit == UnitUse {
			out = append(out, c)
		}
	}
	return out
}

// Sum adds up the resolved value of each component.
func (r *Resolver) Sum(components []purchasedomain.Component) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, c := range components {
		v, err := r.Resolve(c, nil)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(v)
	}
	return total, nil
}

func filterByUnit(sdrs []purchasedomain.SDR, unit string) []purchasedomain.SDR {
	var out []purchasedomain.SDR
	for _, sdr := range sdrs {
		if sdr.Unit == unit {
			out = append(out, sdr)
		}
	}
	return out
}

func sumValues(sdrs []purchasedomain.SDR) decimal.Decimal {
	total := decimal.Zero
	for _, sdr := range sdrs {
		total = total.Add(sdr.Value)
	}
	return total
}
