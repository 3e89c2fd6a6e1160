// Package domain defines the core data model shared across the backtesting
// system: bars, bar series, orders, fills, positions, and portfolios.
package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Bars
// ---------------------------------------------------------------------------

// Bar is a single OHLCV price record. Bars are immutable once created.
type Bar struct {
	Symbol    string
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

// Validate checks the OHLC ordering invariant and that volume is
// non-negative.
func (b Bar) Validate() error {
	lo, hi := b.Open, b.Close
	if lo > hi {
		lo, hi = hi, lo
	}
	if b.Low > lo || b.High < hi {
		return fmt.Errorf("%w: %s@%s low=%g open=%g close=%g high=%g",
			ErrInvalidBar, b.Symbol, b.Timestamp.Format(time.RFC3339), b.Low, b.Open, b.Close, b.High)
	}
	if b.Volume < 0 {
		return fmt.Errorf("%w: %s@%s negative volume %d",
			ErrInvalidBar, b.Symbol, b.Timestamp.Format(time.RFC3339), b.Volume)
	}
	return nil
}

// BarSeries is an ordered sequence of bars for one symbol at one sampling
// interval. Timestamps are strictly increasing; duplicates are rejected on
// append. A series handed to the backtest engine must no longer be mutated.
type BarSeries struct {
	Symbol   string
	Interval Interval

	bars []Bar
}

// NewBarSeries creates an empty series for the given symbol and interval.
func NewBarSeries(symbol string, interval Interval) *BarSeries {
	return &BarSeries{Symbol: symbol, Interval: interval}
}

// Append validates bar and adds it to the series, enforcing strictly
// increasing timestamps.
func (s *BarSeries) Append(bar Bar) error {
	if err := bar.Validate(); err != nil {
		return err
	}
	if n := len(s.bars); n > 0 {
		last := s.bars[n-1].Timestamp
		if bar.Timestamp.Equal(last) {
			return fmt.Errorf("%w: %s %s @%s", ErrDuplicateBar, s.Symbol, s.Interval, bar.Timestamp.Format(time.RFC3339))
		}
		if bar.Timestamp.Before(last) {
			return fmt.Errorf("%w: %s %s @%s is before %s", ErrOutOfOrderBar,
				s.Symbol, s.Interval, bar.Timestamp.Format(time.RFC3339), last.Format(time.RFC3339))
		}
	}
	s.bars = append(s.bars, bar)
	return nil
}

// Len returns the number of bars in the series.
func (s *BarSeries) Len() int { return len(s.bars) }

// At returns the bar at index i. It panics if i is out of range, matching
// slice semantics.
func (s *BarSeries) At(i int) Bar { return s.bars[i] }

// First returns the earliest bar and false if the series is empty.
func (s *BarSeries) First() (Bar, bool) {
	if len(s.bars) == 0 {
		return Bar{}, false
	}
	return s.bars[0], true
}

// Last returns the latest bar and false if the series is empty.
func (s *BarSeries) Last() (Bar, bool) {
	if len(s.bars) == 0 {
		return Bar{}, false
	}
	return s.bars[len(s.bars)-1], true
}

// ---------------------------------------------------------------------------
// Orders and fills
// ---------------------------------------------------------------------------

// OrderSide distinguishes buys from sells.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Order is a request to trade a whole-share quantity, created by a strategy
// on one bar and eligible for execution on the next.
type Order struct {
	Symbol      string
	Side        OrderSide
	Qty         int64
	SubmittedAt time.Time
}

// RejectReason explains why the simulator refused an order.
type RejectReason string

const (
	RejectNone                 RejectReason = ""
	RejectInvalidQty           RejectReason = "invalid_qty"
	RejectInsufficientCash     RejectReason = "insufficient_cash"
	RejectInsufficientPosition RejectReason = "insufficient_position"
)

// FillResult is the outcome of presenting an order to the simulator. Every
// order resolves to exactly one FillResult: accepted with execution details,
// or rejected with a reason. Rejection is a value, not an error.
type FillResult struct {
	Order     Order
	Accepted  bool
	Reason    RejectReason
	ExecPrice decimal.Decimal
	Fee       decimal.Decimal
	FilledAt  time.Time
}

// ---------------------------------------------------------------------------
// Positions and portfolio
// ---------------------------------------------------------------------------

// Position tracks a signed holding with its weighted-average cost basis.
// Only the broker simulator mutates positions.
type Position struct {
	Symbol  string
	Qty     decimal.Decimal
	AvgCost decimal.Decimal
}

// Portfolio holds cash and open positions for a single backtest run.
type Portfolio struct {
	Cash        decimal.Decimal
	Positions   map[string]*Position
	RealizedPnL decimal.Decimal
}

// NewPortfolio creates a portfolio holding only the given initial cash.
func NewPortfolio(initialCash decimal.Decimal) *Portfolio {
	return &Portfolio{
		Cash:      initialCash,
		Positions: make(map[string]*Position),
	}
}

// Equity returns cash plus the market value of every position priced from
// lastClose. Symbols missing from lastClose are valued at their cost basis.
func (p *Portfolio) Equity(lastClose map[string]decimal.Decimal) decimal.Decimal {
	equity := p.Cash
	for sym, pos := range p.Positions {
		price, ok := lastClose[sym]
		if !ok {
			price = pos.AvgCost
		}
		equity = equity.Add(pos.Qty.Mul(price))
	}
	return equity
}

// Snapshot returns a deep copy of the portfolio state. Strategies observe
// snapshots only, so a partially applied fill can never leak to a callback.
func (p *Portfolio) Snapshot() PortfolioView {
	view := PortfolioView{
		Cash:        p.Cash,
		RealizedPnL: p.RealizedPnL,
		Positions:   make(map[string]PositionView, len(p.Positions)),
	}
	for sym, pos := range p.Positions {
		view.Positions[sym] = PositionView{
			Symbol:  pos.Symbol,
			Qty:     pos.Qty,
			AvgCost: pos.AvgCost,
		}
	}
	return view
}

// PortfolioView is a read-only copy of portfolio state handed to strategies.
type PortfolioView struct {
	Cash        decimal.Decimal
	RealizedPnL decimal.Decimal
	Positions   map[string]PositionView
}

// PositionView is a read-only copy of one position.
type PositionView struct {
	Symbol  string
	Qty     decimal.Decimal
	AvgCost decimal.Decimal
}

// QtyOf returns the held quantity for symbol, or zero if no position exists.
func (v PortfolioView) QtyOf(symbol string) decimal.Decimal {
	if pos, ok := v.Positions[symbol]; ok {
		return pos.Qty
	}
	return decimal.Zero
}

// ---------------------------------------------------------------------------
// Equity curve
// ---------------------------------------------------------------------------

// EquityPoint is one (timestamp, equity) sample of the portfolio value.
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
}

// EquityCurve is the per-bar equity history produced by a backtest run.
// It is append-only during the run and read-only afterwards.
type EquityCurve []EquityPoint
