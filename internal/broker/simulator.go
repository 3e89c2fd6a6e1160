package broker

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/RobertSmithers/ToTheMoon/internal/domain"
)

// Simulator fills orders against an in-memory portfolio. It is not safe for
// concurrent use; each backtest run owns its own Simulator.
type Simulator struct {
	portfolio  *domain.Portfolio
	cost       CostModel
	allowShort bool
}

// NewSimulator creates a Simulator holding only the given initial cash.
func NewSimulator(initialCash decimal.Decimal, cost CostModel, allowShort bool) *Simulator {
	return &Simulator{
		portfolio:  domain.NewPortfolio(initialCash),
		cost:       cost,
		allowShort: allowShort,
	}
}

// Fill executes order at the given reference price, applying slippage and
// commission. A rejected order returns Accepted=false with a reason and
// leaves the portfolio untouched; an accepted order updates cash, position,
// and realized PnL as one step. Rejection is an outcome, not an error.
func (s *Simulator) Fill(order domain.Order, price float64, at time.Time) domain.FillResult {
	res := domain.FillResult{Order: order, FilledAt: at}

	if order.Qty <= 0 {
		res.Reason = domain.RejectInvalidQty
		return res
	}

	buy := order.Side == domain.OrderSideBuy
	qty := decimal.NewFromInt(order.Qty)
	exec := s.cost.execPrice(decimal.NewFromFloat(price), buy)
	notional := exec.Mul(qty)
	fee := s.cost.fee(qty, notional)

	held := decimal.Zero
	if pos, ok := s.portfolio.Positions[order.Symbol]; ok {
		held = pos.Qty
	}

	if buy {
		if notional.Add(fee).GreaterThan(s.portfolio.Cash) {
			res.Reason = domain.RejectInsufficientCash
			return res
		}
	} else if !s.allowShort && qty.GreaterThan(held) {
		res.Reason = domain.RejectInsufficientPosition
		return res
	}

	delta := qty
	if !buy {
		delta = qty.Neg()
	}
	s.apply(order.Symbol, delta, exec, notional, fee, buy)

	res.Accepted = true
	res.ExecPrice = exec
	res.Fee = fee
	return res
}

// apply mutates the portfolio for an accepted fill. delta is the signed share
// quantity. Cost basis is the weighted average of opening fills; realized PnL
// accrues when a fill reduces or closes the position.
func (s *Simulator) apply(symbol string, delta, exec, notional, fee decimal.Decimal, buy bool) {
	p := s.portfolio

	if buy {
		p.Cash = p.Cash.Sub(notional).Sub(fee)
	} else {
		p.Cash = p.Cash.Add(notional).Sub(fee)
	}

	pos, ok := p.Positions[symbol]
	if !ok {
		p.Positions[symbol] = &domain.Position{Symbol: symbol, Qty: delta, AvgCost: exec}
		return
	}

	switch {
	case pos.Qty.IsZero() || pos.Qty.Sign() == delta.Sign():
		// Extending: weighted-average the cost basis.
		newQty := pos.Qty.Add(delta)
		pos.AvgCost = pos.Qty.Abs().Mul(pos.AvgCost).Add(delta.Abs().Mul(exec)).Div(newQty.Abs())
		pos.Qty = newQty

	case delta.Abs().LessThanOrEqual(pos.Qty.Abs()):
		// Reducing or closing: realize PnL on the closed shares.
		closed := delta.Abs()
		p.RealizedPnL = p.RealizedPnL.Add(closed.Mul(exec.Sub(pos.AvgCost)).Mul(decimal.NewFromInt(int64(pos.Qty.Sign()))))
		pos.Qty = pos.Qty.Add(delta)
		if pos.Qty.IsZero() {
			delete(p.Positions, symbol)
		}

	default:
		// Crossing zero: close the existing position, open the remainder at
		// the execution price.
		closed := pos.Qty.Abs()
		p.RealizedPnL = p.RealizedPnL.Add(closed.Mul(exec.Sub(pos.AvgCost)).Mul(decimal.NewFromInt(int64(pos.Qty.Sign()))))
		pos.Qty = pos.Qty.Add(delta)
		pos.AvgCost = exec
	}
}

// Snapshot returns a deep copy of the current portfolio state.
func (s *Simulator) Snapshot() domain.PortfolioView {
	return s.portfolio.Snapshot()
}

// Equity returns cash plus the market value of open positions priced from
// lastClose.
func (s *Simulator) Equity(lastClose map[string]decimal.Decimal) decimal.Decimal {
	return s.portfolio.Equity(lastClose)
}
