package backtest

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/RobertSmithers/ToTheMoon/internal/broker"
	"github.com/RobertSmithers/ToTheMoon/internal/domain"
	"github.com/RobertSmithers/ToTheMoon/internal/strategy/builtins"
)

var runStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// seriesFromCloses builds a series where each bar opens at the previous
// bar's close.
func seriesFromCloses(t *testing.T, closes []float64) *domain.BarSeries {
	t.Helper()
	s := domain.NewBarSeries("AAPL", domain.Interval1Day)
	prev := closes[0]
	for i, c := range closes {
		lo, hi := math.Min(prev, c), math.Max(prev, c)
		err := s.Append(domain.Bar{
			Symbol:    "AAPL",
			Timestamp: runStart.AddDate(0, 0, i),
			Open:      prev, High: hi, Low: lo, Close: c,
			Volume: 1000,
		})
		if err != nil {
			t.Fatalf("Append bar %d: %v", i, err)
		}
		prev = c
	}
	return s
}

// scriptedStrategy emits predetermined orders at fixed bar indexes and
// records every result it is handed.
type scriptedStrategy struct {
	orders  map[int][]domain.Order
	bar     int
	results []domain.FillResult
}

func (s *scriptedStrategy) Name() string                 { return "scripted" }
func (s *scriptedStrategy) Init(_ context.Context) error { return nil }

func (s *scriptedStrategy) OnBar(_ context.Context, _ domain.Bar, _ domain.PortfolioView) ([]domain.Order, error) {
	out := s.orders[s.bar]
	s.bar++
	return out, nil
}

func (s *scriptedStrategy) OnOrderResult(res domain.FillResult) {
	s.results = append(s.results, res)
}

func (s *scriptedStrategy) Finish(_ context.Context) error { return nil }

func defaultConfig() RunConfig {
	return RunConfig{InitialCash: decimal.NewFromInt(10000)}
}

func TestRunEmptySeries(t *testing.T) {
	e := NewEngine()
	_, err := e.Run(context.Background(), domain.NewBarSeries("AAPL", domain.Interval1Day), &scriptedStrategy{}, defaultConfig())
	if !errors.Is(err, domain.ErrNoData) {
		t.Fatalf("Run = %v, want ErrNoData", err)
	}
}

func TestRunFillsAtNextBarOpen(t *testing.T) {
	series := seriesFromCloses(t, []float64{100, 110, 120, 130})
	strat := &scriptedStrategy{orders: map[int][]domain.Order{
		1: {{Symbol: "AAPL", Side: domain.OrderSideBuy, Qty: 10}},
	}}

	res, err := NewEngine().Run(context.Background(), series, strat, defaultConfig())
	if err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if len(res.Fills) != 1 {
		t.Fatalf("got %d fills, want 1", len(res.Fills))
	}

	fill := res.Fills[0]
	// Submitted on bar 1 (close 110); executed at bar 2's open, which is
	// bar 1's close.
	if !fill.ExecPrice.Equal(decimal.NewFromInt(110)) {
		t.Errorf("ExecPrice = %s, want 110", fill.ExecPrice)
	}
	if want := runStart.AddDate(0, 0, 2); !fill.FilledAt.Equal(want) {
		t.Errorf("FilledAt = %v, want %v", fill.FilledAt, want)
	}
	if len(strat.results) != 1 {
		t.Errorf("strategy saw %d results, want 1", len(strat.results))
	}
}

func TestRunOrdersOnFinalBarExpire(t *testing.T) {
	series := seriesFromCloses(t, []float64{100, 110, 120})
	strat := &scriptedStrategy{orders: map[int][]domain.Order{
		2: {{Symbol: "AAPL", Side: domain.OrderSideBuy, Qty: 5}},
	}}

	res, err := NewEngine().Run(context.Background(), series, strat, defaultConfig())
	if err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if len(res.Fills) != 0 || len(res.Rejected) != 0 {
		t.Errorf("fills=%d rejected=%d, want 0/0", len(res.Fills), len(res.Rejected))
	}
	if len(res.ExpiredOrders) != 1 {
		t.Fatalf("got %d expired orders, want 1", len(res.ExpiredOrders))
	}
	if len(strat.results) != 0 {
		t.Errorf("strategy saw %d results for an expired order, want 0", len(strat.results))
	}
	if !res.FinalPortfolio.Cash.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("final cash = %s, want 10000 (order never executed)", res.FinalPortfolio.Cash)
	}
}

func TestRunEquityConservedAcrossZeroCostFills(t *testing.T) {
	series := seriesFromCloses(t, []float64{100, 100, 100, 100, 100})
	strat := &scriptedStrategy{orders: map[int][]domain.Order{
		0: {{Symbol: "AAPL", Side: domain.OrderSideBuy, Qty: 50}},
		2: {{Symbol: "AAPL", Side: domain.OrderSideSell, Qty: 50}},
	}}

	res, err := NewEngine().Run(context.Background(), series, strat, defaultConfig())
	if err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if len(res.Fills) != 2 {
		t.Fatalf("got %d fills, want 2", len(res.Fills))
	}
	// With a flat price and no costs, trading must not create or destroy
	// value.
	for i, p := range res.EquityCurve {
		if math.Abs(p.Equity-10000) > 1e-9 {
			t.Errorf("equity[%d] = %v, want 10000", i, p.Equity)
		}
	}
}

func TestRunRejectsWithoutMutation(t *testing.T) {
	series := seriesFromCloses(t, []float64{100, 110, 120})
	strat := &scriptedStrategy{orders: map[int][]domain.Order{
		0: {{Symbol: "AAPL", Side: domain.OrderSideBuy, Qty: 1000000}},
	}}

	res, err := NewEngine().Run(context.Background(), series, strat, defaultConfig())
	if err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if len(res.Rejected) != 1 {
		t.Fatalf("got %d rejections, want 1", len(res.Rejected))
	}
	if res.Rejected[0].Reason != domain.RejectInsufficientCash {
		t.Errorf("Reason = %q, want insufficient_cash", res.Rejected[0].Reason)
	}
	if !res.FinalPortfolio.Cash.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("final cash = %s, want 10000", res.FinalPortfolio.Cash)
	}
	if res.FinalPortfolio.Cash.Sign() < 0 {
		t.Error("cash went negative")
	}
}

func TestRunDeterministic(t *testing.T) {
	closes := []float64{1, 2, 3, 2, 1, 2, 3, 4, 5, 4, 3, 2, 1}
	cfg := RunConfig{
		InitialCash: decimal.NewFromInt(1000),
		Cost:        broker.NewCostModel(0.01, 0, 5),
	}

	run := func() *Result {
		strat, err := builtins.NewSMACross(2, 4)
		if err != nil {
			t.Fatalf("NewSMACross returned %v", err)
		}
		res, err := NewEngine().Run(context.Background(), seriesFromCloses(t, closes), strat, cfg)
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
		return res
	}

	a, b := run(), run()
	if len(a.EquityCurve) != len(b.EquityCurve) {
		t.Fatalf("curve lengths differ: %d vs %d", len(a.EquityCurve), len(b.EquityCurve))
	}
	for i := range a.EquityCurve {
		if a.EquityCurve[i] != b.EquityCurve[i] {
			t.Errorf("equity[%d] differs: %v vs %v", i, a.EquityCurve[i], b.EquityCurve[i])
		}
	}
	if len(a.Fills) != len(b.Fills) {
		t.Errorf("fill counts differ: %d vs %d", len(a.Fills), len(b.Fills))
	}
}

func TestRunSMACrossEndToEnd(t *testing.T) {
	closes := []float64{1, 2, 3, 2, 1, 2, 3, 4, 5, 4, 3, 2, 1}

	strat, err := builtins.NewSMACross(2, 4)
	if err != nil {
		t.Fatalf("NewSMACross returned %v", err)
	}
	res, err := NewEngine().Run(context.Background(), seriesFromCloses(t, closes), strat, RunConfig{
		InitialCash: decimal.NewFromInt(1000),
	})
	if err != nil {
		t.Fatalf("Run returned %v", err)
	}

	if len(res.Fills) != 2 {
		t.Fatalf("got %d fills, want 2 (entry and exit)", len(res.Fills))
	}
	buy, sell := res.Fills[0], res.Fills[1]

	// Crossover on bar 6 (close 3) sizes floor(1000/3) = 333 shares, filled
	// at bar 7's open of 3.
	if buy.Order.Side != domain.OrderSideBuy || buy.Order.Qty != 333 {
		t.Errorf("entry = %s %d shares, want buy 333", buy.Order.Side, buy.Order.Qty)
	}
	if !buy.ExecPrice.Equal(decimal.NewFromInt(3)) {
		t.Errorf("entry ExecPrice = %s, want 3", buy.ExecPrice)
	}
	if sell.Order.Side != domain.OrderSideSell || sell.Order.Qty != 333 {
		t.Errorf("exit = %s %d shares, want sell 333", sell.Order.Side, sell.Order.Qty)
	}

	// Peak equity at the close of 5: 1 cash + 333*5.
	peak := 0.0
	for _, p := range res.EquityCurve {
		if p.Equity > peak {
			peak = p.Equity
		}
	}
	if math.Abs(peak-1666) > 1e-9 {
		t.Errorf("peak equity = %v, want 1666", peak)
	}

	final := res.EquityCurve[len(res.EquityCurve)-1].Equity
	if math.Abs(final-1000) > 1e-9 {
		t.Errorf("final equity = %v, want 1000 (round trip at the same price)", final)
	}
	if len(res.FinalPortfolio.Positions) != 0 {
		t.Errorf("final portfolio holds %d positions, want 0", len(res.FinalPortfolio.Positions))
	}
}

func TestSweep(t *testing.T) {
	closes := []float64{1, 2, 3, 2, 1, 2, 3, 4, 5, 4, 3, 2, 1}
	series := seriesFromCloses(t, closes)

	grid := []ParamSet{
		{"short": 2, "long": 4},
		{"short": 3, "long": 5},
		{"short": 5, "long": 2}, // invalid: short >= long
	}

	var mu sync.Mutex
	var progressCalls int
	progress := func(done, total int) {
		mu.Lock()
		progressCalls++
		mu.Unlock()
	}

	results, err := NewEngine().Sweep(context.Background(), series, builtins.FromParams, grid,
		RunConfig{InitialCash: decimal.NewFromInt(1000)}, 252,
		SweepOptions{MaxWorkers: 2, Progress: progress})
	if err != nil {
		t.Fatalf("Sweep returned %v", err)
	}
	if len(results) != len(grid) {
		t.Fatalf("got %d results, want %d", len(results), len(grid))
	}

	// Results stay in input order.
	for i, r := range results {
		if r.Params["short"] != grid[i]["short"] || r.Params["long"] != grid[i]["long"] {
			t.Errorf("results[%d].Params = %v, want %v", i, r.Params, grid[i])
		}
	}
	if results[0].Err != nil {
		t.Errorf("results[0].Err = %v, want nil", results[0].Err)
	}
	if results[0].Metrics == nil {
		t.Error("results[0].Metrics is nil")
	}
	if results[2].Err == nil {
		t.Error("results[2].Err is nil for invalid parameters")
	}
	if progressCalls != len(grid) {
		t.Errorf("progress called %d times, want %d", progressCalls, len(grid))
	}
}

func TestSweepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewEngine().Sweep(ctx, seriesFromCloses(t, []float64{1, 2, 3}), builtins.FromParams,
		[]ParamSet{{"short": 1, "long": 2}}, defaultConfig(), 252, SweepOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Sweep = %v, want context.Canceled", err)
	}
}
