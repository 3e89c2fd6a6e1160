package backtest

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/RobertSmithers/ToTheMoon/internal/domain"
	"github.com/RobertSmithers/ToTheMoon/internal/strategy"
)

// ParamSet is one point of a strategy parameter grid.
type ParamSet map[string]float64

// SweepResult pairs one parameter set with its run outcome. Err records a
// per-run failure (bad parameters, analyzer refusal) without aborting the
// rest of the grid.
type SweepResult struct {
	Params  ParamSet
	Result  *Result
	Metrics *Metrics
	Err     error
}

// SweepOptions bounds sweep concurrency and reports progress.
type SweepOptions struct {
	// MaxWorkers limits concurrent runs; values below 1 mean unbounded.
	MaxWorkers int
	// Progress, when set, is called after every completed run with the
	// number done and the grid size. It must be safe for concurrent use.
	Progress func(done, total int)
}

// Sweep runs one backtest per parameter set over the same series, each with
// its own strategy instance and simulator. Results are returned in input
// order. Only context cancellation aborts the sweep; per-run failures are
// recorded on their SweepResult.
func (e *Engine) Sweep(ctx context.Context, series *domain.BarSeries, factory strategy.Factory, grid []ParamSet, cfg RunConfig, annualization float64, opts SweepOptions) ([]SweepResult, error) {
	results := make([]SweepResult, len(grid))

	g, ctx := errgroup.WithContext(ctx)
	if opts.MaxWorkers > 0 {
		g.SetLimit(opts.MaxWorkers)
	}

	var done atomic.Int64
	for i, params := range grid {
		i, params := i, params
		g.Go(func() error {
			results[i] = e.runOne(ctx, series, factory, params, cfg, annualization)
			if opts.Progress != nil {
				opts.Progress(int(done.Add(1)), len(grid))
			}
			return ctx.Err()
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Engine) runOne(ctx context.Context, series *domain.BarSeries, factory strategy.Factory, params ParamSet, cfg RunConfig, annualization float64) SweepResult {
	sr := SweepResult{Params: params}

	strat, err := factory(params)
	if err != nil {
		sr.Err = err
		return sr
	}

	sr.Result, sr.Err = e.Run(ctx, series, strat, cfg)
	if sr.Err != nil {
		return sr
	}

	sr.Metrics, sr.Err = Analyze(sr.Result.EquityCurve, sr.Result.Fills, annualization)
	return sr
}
