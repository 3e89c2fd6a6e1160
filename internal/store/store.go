// Package store provides persistence for the backtester: Parquet files for
// the historical bar cache and SQLite for cache coverage metadata and the
// backtest run archive.
package store

import (
	"context"
	"time"

	"github.com/RobertSmithers/ToTheMoon/internal/domain"
)

// BarStore persists and retrieves OHLCV bar data for the cache layer.
type BarStore interface {
	// WriteBars persists a batch of bars for one symbol and interval,
	// merging with and de-duplicating against previously stored bars.
	WriteBars(ctx context.Context, symbol string, interval domain.Interval, bars []domain.Bar) error

	// ReadBars returns stored bars for the symbol and interval within
	// [start, end), in timestamp order.
	ReadBars(ctx context.Context, symbol string, interval domain.Interval, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols with stored bars.
	ListSymbols(ctx context.Context) ([]string, error)
}

// CoverageRange is a contiguous [Start, End) span of cached data for one
// (symbol, interval).
type CoverageRange struct {
	Start time.Time
	End   time.Time
}

// CoverageStore tracks which date ranges have already been fetched so the
// cache can serve repeat requests without re-fetching.
type CoverageStore interface {
	// AddCoverage records [start, end) as fetched, merging overlapping or
	// adjacent ranges.
	AddCoverage(ctx context.Context, symbol string, interval domain.Interval, start, end time.Time) error

	// ListCoverage returns the merged coverage ranges for a symbol and
	// interval, ordered by start time.
	ListCoverage(ctx context.Context, symbol string, interval domain.Interval) ([]CoverageRange, error)
}

// RunRecord is an archived backtest run.
type RunRecord struct {
	ID          int64
	Symbol      string
	Interval    domain.Interval
	Strategy    string
	ParamsJSON  string
	Start       time.Time
	End         time.Time
	InitialCash float64
	CreatedAt   time.Time

	Metrics map[string]float64
	Curve   domain.EquityCurve
}

// RunStore archives completed backtest runs with their metrics and equity
// curves.
type RunStore interface {
	// SaveRun archives a completed run and returns its assigned ID.
	SaveRun(ctx context.Context, run *RunRecord) (int64, error)

	// GetRun loads one archived run, including metrics and equity curve.
	GetRun(ctx context.Context, id int64) (*RunRecord, error)

	// ListRuns returns archived runs for a symbol, most recent first, up to
	// limit. An empty symbol lists runs for all symbols.
	ListRuns(ctx context.Context, symbol string, limit int) ([]RunRecord, error)
}
