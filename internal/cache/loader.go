// Package cache loads historical bar data through a pluggable vendor,
// persisting fetched ranges so repeat requests are served from disk. Only
// subranges not already covered are fetched, and concurrent requests for the
// same subrange share a single vendor call.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/RobertSmithers/ToTheMoon/internal/domain"
	"github.com/RobertSmithers/ToTheMoon/internal/store"
	"github.com/RobertSmithers/ToTheMoon/internal/util"
	"github.com/RobertSmithers/ToTheMoon/internal/vendors"
)

// Loader is the data cache: it serves bar series from the local store,
// fetching missing ranges from the vendor on demand.
type Loader struct {
	vendor   vendors.SecuritiesVendor
	bars     store.BarStore
	coverage store.CoverageStore

	retryAttempts int
	retryDelay    time.Duration

	sf  singleflight.Group
	log *slog.Logger
}

// NewLoader creates a Loader backed by the given vendor and stores.
// retryAttempts bounds vendor retries for transient failures.
func NewLoader(vendor vendors.SecuritiesVendor, bars store.BarStore, coverage store.CoverageStore, retryAttempts int) *Loader {
	if retryAttempts < 1 {
		retryAttempts = 1
	}
	return &Loader{
		vendor:        vendor,
		bars:          bars,
		coverage:      coverage,
		retryAttempts: retryAttempts,
		retryDelay:    500 * time.Millisecond,
		log:           slog.Default().With("component", "cache"),
	}
}

// Load returns the bar series for symbol at interval within [start, end).
// Missing subranges are fetched from the vendor, split on calendar
// boundaries, persisted, and recorded as covered. Returns domain.ErrNoData
// if the assembled series is empty.
func (l *Loader) Load(ctx context.Context, symbol string, interval domain.Interval, start, end time.Time) (*domain.BarSeries, error) {
	start, end = start.UTC(), end.UTC()
	if !start.Before(end) {
		return nil, fmt.Errorf("%w: %s %s empty range [%s, %s)",
			domain.ErrNoData, symbol, interval,
			start.Format("2006-01-02"), end.Format("2006-01-02"))
	}

	covered, err := l.coverage.ListCoverage(ctx, symbol, interval)
	if err != nil {
		return nil, fmt.Errorf("listing coverage for %s %s: %w", symbol, interval, err)
	}

	for _, gap := range MissingRanges(start, end, covered) {
		for _, split := range SplitRanges(gap.Start, gap.End, interval.SplitGranularity()) {
			if err := l.fetchRange(ctx, symbol, interval, split); err != nil {
				return nil, err
			}
		}
	}

	raw, err := l.bars.ReadBars(ctx, symbol, interval, start, end)
	if err != nil {
		return nil, fmt.Errorf("reading cached bars for %s %s: %w", symbol, interval, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: %s %s [%s, %s)",
			domain.ErrNoData, symbol, interval,
			start.Format("2006-01-02"), end.Format("2006-01-02"))
	}

	series := domain.NewBarSeries(symbol, interval)
	for _, bar := range raw {
		if err := series.Append(bar); err != nil {
			return nil, fmt.Errorf("assembling series for %s %s: %w", symbol, interval, err)
		}
	}
	return series, nil
}

// fetchRange fetches one split range through the single-flight group so
// concurrent loads of the same uncached range trigger exactly one vendor
// call. The winning call persists bars and coverage before returning, so
// losers see the data in the store.
func (l *Loader) fetchRange(ctx context.Context, symbol string, interval domain.Interval, r store.CoverageRange) error {
	key := fmt.Sprintf("%s|%s|%d|%d", symbol, interval, r.Start.UnixMilli(), r.End.UnixMilli())

	_, err, _ := l.sf.Do(key, func() (any, error) {
		// Re-check coverage inside the flight: a previous winner may have
		// fetched this range after we computed our gap list.
		covered, err := l.coverage.ListCoverage(ctx, symbol, interval)
		if err != nil {
			return nil, err
		}
		if len(MissingRanges(r.Start, r.End, covered)) == 0 {
			return nil, nil
		}

		var bars []domain.Bar
		err = util.Retry(ctx, l.retryAttempts, l.retryDelay, func() error {
			fetched, ferr := l.vendor.FetchBars(ctx, symbol, interval, r.Start, r.End)
			if ferr != nil {
				// An empty range is an answer, not a failure: record it as
				// covered so it is not re-fetched.
				if errors.Is(ferr, domain.ErrNoData) {
					bars = nil
					return nil
				}
				return ferr
			}
			bars = fetched
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("fetching %s %s [%s, %s): %w",
				symbol, interval, r.Start.Format("2006-01-02"), r.End.Format("2006-01-02"), err)
		}

		if len(bars) > 0 {
			if err := l.bars.WriteBars(ctx, symbol, interval, bars); err != nil {
				return nil, fmt.Errorf("caching %s %s: %w", symbol, interval, err)
			}
		}
		if err := l.coverage.AddCoverage(ctx, symbol, interval, r.Start, r.End); err != nil {
			return nil, fmt.Errorf("recording coverage for %s %s: %w", symbol, interval, err)
		}

		l.log.Debug("fetched range",
			"symbol", symbol,
			"interval", interval,
			"start", r.Start.Format("2006-01-02"),
			"end", r.End.Format("2006-01-02"),
			"bars", len(bars),
		)
		return nil, nil
	})
	return err
}
