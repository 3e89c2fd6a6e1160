// Package broker simulates order execution against a portfolio. Orders are
// presented one at a time with an execution price; the simulator applies
// slippage and commission, enforces cash and position constraints, and
// mutates the portfolio only when an order is accepted.
package broker

import (
	"github.com/shopspring/decimal"
)

var bpsDivisor = decimal.NewFromInt(10000)

// CostModel describes simulated execution costs. The commission charged on a
// fill is the larger of the per-share and percentage components.
type CostModel struct {
	CommissionPerShare decimal.Decimal
	CommissionPct      decimal.Decimal
	SlippageBps        decimal.Decimal
}

// NewCostModel builds a CostModel from plain float configuration values.
func NewCostModel(perShare, pct, slippageBps float64) CostModel {
	return CostModel{
		CommissionPerShare: decimal.NewFromFloat(perShare),
		CommissionPct:      decimal.NewFromFloat(pct),
		SlippageBps:        decimal.NewFromFloat(slippageBps),
	}
}

// execPrice applies slippage in the direction that hurts the order: buys pay
// above the reference price, sells receive below it.
func (c CostModel) execPrice(ref decimal.Decimal, buy bool) decimal.Decimal {
	slip := ref.Mul(c.SlippageBps).Div(bpsDivisor)
	if buy {
		return ref.Add(slip)
	}
	return ref.Sub(slip)
}

// fee returns max(per-share commission, percentage commission) for a fill.
func (c CostModel) fee(qty, notional decimal.Decimal) decimal.Decimal {
	perShare := c.CommissionPerShare.Mul(qty)
	pct := c.CommissionPct.Mul(notional)
	if perShare.GreaterThanOrEqual(pct) {
		return perShare
	}
	return pct
}
