// Package backtest replays a bar series through a strategy against a
// simulated broker, producing an equity curve, fill history, and performance
// metrics. Runs are deterministic: no wall clock, no randomness.
package backtest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/RobertSmithers/ToTheMoon/internal/broker"
	"github.com/RobertSmithers/ToTheMoon/internal/domain"
	"github.com/RobertSmithers/ToTheMoon/internal/strategy"
)

// RunConfig holds the parameters of a single backtest run.
type RunConfig struct {
	InitialCash decimal.Decimal
	Cost        broker.CostModel
	AllowShort  bool
}

// Result is the full outcome of one run.
type Result struct {
	EquityCurve domain.EquityCurve

	// Fills holds accepted executions; Rejected holds refused orders with
	// their reasons. Orders still pending after the final bar expire
	// unexecuted and are collected in ExpiredOrders.
	Fills         []domain.FillResult
	Rejected      []domain.FillResult
	ExpiredOrders []domain.Order

	FinalPortfolio domain.PortfolioView
}

// Engine runs strategies over bar series.
type Engine struct {
	log *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine() *Engine {
	return &Engine{log: slog.Default().With("component", "backtest")}
}

// Run replays series through strat. Orders emitted on bar t are presented to
// the simulator at bar t+1's open, so a strategy can never trade on a price
// it has not yet observed. Per bar the engine fills pending orders, marks the
// portfolio to the close, records an equity point, and then asks the strategy
// for new orders. Returns domain.ErrNoData for an empty series before any
// strategy callback.
func (e *Engine) Run(ctx context.Context, series *domain.BarSeries, strat strategy.Strategy, cfg RunConfig) (*Result, error) {
	if series == nil || series.Len() == 0 {
		return nil, fmt.Errorf("%w: empty series", domain.ErrNoData)
	}

	if err := strat.Init(ctx); err != nil {
		return nil, fmt.Errorf("init strategy %s: %w", strat.Name(), err)
	}

	sim := broker.NewSimulator(cfg.InitialCash, cfg.Cost, cfg.AllowShort)
	res := &Result{
		EquityCurve: make(domain.EquityCurve, 0, series.Len()),
	}
	lastClose := make(map[string]decimal.Decimal, 1)

	var pending []domain.Order
	for i := 0; i < series.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bar := series.At(i)

		for _, order := range pending {
			fill := sim.Fill(order, bar.Open, bar.Timestamp)
			strat.OnOrderResult(fill)
			if fill.Accepted {
				res.Fills = append(res.Fills, fill)
			} else {
				res.Rejected = append(res.Rejected, fill)
			}
		}
		pending = pending[:0]

		lastClose[bar.Symbol] = decimal.NewFromFloat(bar.Close)
		res.EquityCurve = append(res.EquityCurve, domain.EquityPoint{
			Timestamp: bar.Timestamp,
			Equity:    sim.Equity(lastClose).InexactFloat64(),
		})

		orders, err := strat.OnBar(ctx, bar, sim.Snapshot())
		if err != nil {
			return nil, fmt.Errorf("strategy %s on bar %d: %w", strat.Name(), i, err)
		}
		pending = append(pending, orders...)
	}

	res.ExpiredOrders = append(res.ExpiredOrders, pending...)
	res.FinalPortfolio = sim.Snapshot()

	if err := strat.Finish(ctx); err != nil {
		return nil, fmt.Errorf("finish strategy %s: %w", strat.Name(), err)
	}

	e.log.Debug("run complete",
		"strategy", strat.Name(),
		"bars", series.Len(),
		"fills", len(res.Fills),
		"rejected", len(res.Rejected),
		"expired", len(res.ExpiredOrders),
	)
	return res, nil
}
