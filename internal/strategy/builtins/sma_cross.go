// Package builtins provides the built-in strategy implementations and
// registers them on a Registry for name-based construction.
package builtins

import (
	"context"
	"fmt"
	"math"

	"github.com/RobertSmithers/ToTheMoon/internal/domain"
	"github.com/RobertSmithers/ToTheMoon/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*SMACross)(nil)

// SMACross is a long-only moving average crossover strategy. It buys when the
// short-period SMA crosses above the long-period SMA and sells the whole
// position when it crosses back below. Crossings are detected as a strict
// sign change of (shortMA - longMA) between consecutive bars, so no signal
// fires until both averages have a full window plus one prior value.
type SMACross struct {
	shortPeriod int
	longPeriod  int

	closes   []float64
	prevDiff float64
	havePrev bool

	holding bool
	pending bool
}

// NewSMACross creates an SMACross with the given periods. short must be at
// least 1 and strictly less than long.
func NewSMACross(short, long int) (*SMACross, error) {
	if short < 1 || short >= long {
		return nil, fmt.Errorf("sma-cross: invalid periods short=%d long=%d (need 1 <= short < long)", short, long)
	}
	return &SMACross{shortPeriod: short, longPeriod: long}, nil
}

// FromParams builds an SMACross from the "short" and "long" parameters. It is
// the strategy.Factory registered under "sma-cross".
func FromParams(params map[string]float64) (strategy.Strategy, error) {
	short, ok := params["short"]
	if !ok {
		return nil, fmt.Errorf("sma-cross: missing parameter %q", "short")
	}
	long, ok := params["long"]
	if !ok {
		return nil, fmt.Errorf("sma-cross: missing parameter %q", "long")
	}
	return NewSMACross(int(short), int(long))
}

// RegisterAll registers every built-in strategy on the registry.
func RegisterAll(r *strategy.Registry) {
	r.Register("sma-cross", FromParams)
}

// Name returns "sma-cross".
func (s *SMACross) Name() string { return "sma-cross" }

// Init resets all rolling state so the instance can start a run.
func (s *SMACross) Init(_ context.Context) error {
	s.closes = s.closes[:0]
	s.prevDiff = 0
	s.havePrev = false
	s.holding = false
	s.pending = false
	return nil
}

// OnBar appends the close, updates both averages, and emits at most one order
// on a strict crossover. Buys size whole shares from available cash at the
// current close; sells exit the entire position.
func (s *SMACross) OnBar(_ context.Context, bar domain.Bar, view domain.PortfolioView) ([]domain.Order, error) {
	s.closes = append(s.closes, bar.Close)
	if len(s.closes) < s.longPeriod {
		return nil, nil
	}

	diff := s.sma(s.shortPeriod) - s.sma(s.longPeriod)
	crossUp := s.havePrev && s.prevDiff < 0 && diff > 0
	crossDown := s.havePrev && s.prevDiff > 0 && diff < 0
	s.prevDiff = diff
	s.havePrev = true

	if s.pending {
		return nil, nil
	}

	switch {
	case crossUp && !s.holding:
		qty := int64(math.Floor(view.Cash.InexactFloat64() / bar.Close))
		if qty <= 0 {
			return nil, nil
		}
		s.pending = true
		return []domain.Order{{
			Symbol:      bar.Symbol,
			Side:        domain.OrderSideBuy,
			Qty:         qty,
			SubmittedAt: bar.Timestamp,
		}}, nil

	case crossDown && s.holding:
		held := view.QtyOf(bar.Symbol)
		if held.Sign() <= 0 {
			return nil, nil
		}
		s.pending = true
		return []domain.Order{{
			Symbol:      bar.Symbol,
			Side:        domain.OrderSideSell,
			Qty:         held.IntPart(),
			SubmittedAt: bar.Timestamp,
		}}, nil
	}
	return nil, nil
}

// OnOrderResult flips the holding state on an accepted fill. A rejected order
// leaves the state unchanged so the strategy can retry on the next crossover.
func (s *SMACross) OnOrderResult(res domain.FillResult) {
	s.pending = false
	if !res.Accepted {
		return
	}
	s.holding = res.Order.Side == domain.OrderSideBuy
}

// Finish is a no-op for this strategy.
func (s *SMACross) Finish(_ context.Context) error { return nil }

// sma averages the most recent n closes. Callers guarantee len(closes) >= n.
func (s *SMACross) sma(n int) float64 {
	sum := 0.0
	for _, c := range s.closes[len(s.closes)-n:] {
		sum += c
	}
	return sum / float64(n)
}
