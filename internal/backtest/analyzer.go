package backtest

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/RobertSmithers/ToTheMoon/internal/domain"
)

// Metrics summarizes the performance of one run. Return figures are
// fractions (0.10 is +10%); MaxDrawdown is a positive fraction of the peak.
type Metrics struct {
	TotalReturn      float64 `json:"total_return"`
	AnnualizedReturn float64 `json:"annualized_return"`
	Sharpe           float64 `json:"sharpe"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	Volatility       float64 `json:"volatility"`

	TotalTrades  int     `json:"total_trades"`
	WinRate      float64 `json:"win_rate"`
	ProfitFactor float64 `json:"profit_factor"`
}

const hoursPerYear = 24 * 365.25

// Analyze computes performance metrics from an equity curve and the run's
// accepted fills. annualization is the number of bars per year for the
// series interval (252 for daily bars). Returns domain.ErrInsufficientData
// when the curve has fewer than two points.
func Analyze(curve domain.EquityCurve, fills []domain.FillResult, annualization float64) (*Metrics, error) {
	if len(curve) < 2 {
		return nil, fmt.Errorf("%w: %d equity points, need at least 2", domain.ErrInsufficientData, len(curve))
	}

	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev == 0 {
			return nil, fmt.Errorf("%w: zero equity at point %d", domain.ErrInsufficientData, i-1)
		}
		returns = append(returns, curve[i].Equity/prev-1)
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	// Sample standard deviation; a single return yields zero.
	stdev := 0.0
	if len(returns) > 1 {
		sum := 0.0
		for _, r := range returns {
			d := r - mean
			sum += d * d
		}
		stdev = math.Sqrt(sum / float64(len(returns)-1))
	}

	m := &Metrics{
		TotalReturn: curve[len(curve)-1].Equity/curve[0].Equity - 1,
		Volatility:  stdev * math.Sqrt(annualization),
	}
	if stdev > 0 {
		m.Sharpe = mean / stdev * math.Sqrt(annualization)
	}

	if years := curve[len(curve)-1].Timestamp.Sub(curve[0].Timestamp).Hours() / hoursPerYear; years > 0 {
		m.AnnualizedReturn = math.Pow(1+m.TotalReturn, 1/years) - 1
	}

	peak := curve[0].Equity
	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		if dd := (peak - p.Equity) / peak; dd > m.MaxDrawdown {
			m.MaxDrawdown = dd
		}
	}

	m.TotalTrades, m.WinRate, m.ProfitFactor = tradeStats(fills)
	return m, nil
}

// tradeStats replays accepted fills per symbol, counting each
// position-reducing fill as one closed trade with the PnL realized against
// the weighted-average cost basis at that moment.
func tradeStats(fills []domain.FillResult) (trades int, winRate, profitFactor float64) {
	type book struct {
		qty     decimal.Decimal
		avgCost decimal.Decimal
	}
	books := make(map[string]*book)

	var wins int
	var grossProfit, grossLoss float64

	for _, f := range fills {
		if !f.Accepted {
			continue
		}
		b, ok := books[f.Order.Symbol]
		if !ok {
			b = &book{}
			books[f.Order.Symbol] = b
		}

		delta := decimal.NewFromInt(f.Order.Qty)
		if f.Order.Side == domain.OrderSideSell {
			delta = delta.Neg()
		}

		switch {
		case b.qty.IsZero() || b.qty.Sign() == delta.Sign():
			newQty := b.qty.Add(delta)
			b.avgCost = b.qty.Abs().Mul(b.avgCost).Add(delta.Abs().Mul(f.ExecPrice)).Div(newQty.Abs())
			b.qty = newQty

		default:
			closed := delta.Abs()
			if closed.GreaterThan(b.qty.Abs()) {
				closed = b.qty.Abs()
			}
			pnl := closed.Mul(f.ExecPrice.Sub(b.avgCost)).Mul(decimal.NewFromInt(int64(b.qty.Sign()))).InexactFloat64()

			trades++
			if pnl > 0 {
				wins++
				grossProfit += pnl
			} else {
				grossLoss += -pnl
			}

			b.qty = b.qty.Add(delta)
			if b.qty.Sign() == delta.Sign() {
				// Crossed through flat: remainder opens at the fill price.
				b.avgCost = f.ExecPrice
			}
		}
	}

	if trades > 0 {
		winRate = float64(wins) / float64(trades)
	}
	switch {
	case grossLoss > 0:
		profitFactor = grossProfit / grossLoss
	case grossProfit > 0:
		profitFactor = math.Inf(1)
	}
	return trades, winRate, profitFactor
}
