package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/RobertSmithers/ToTheMoon/internal/domain"
)

// Compile-time interface check.
var _ BarStore = (*ParquetStore)(nil)

// ParquetStore implements BarStore using Parquet files on disk.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record type (on-disk schema)
// ---------------------------------------------------------------------------

// BarRecord is the Parquet schema for cached bar data.
type BarRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    int64   `parquet:"volume"`
}

// ---------------------------------------------------------------------------
// BarStore implementation
// ---------------------------------------------------------------------------

// WriteBars writes bar data to Parquet files split per the interval's
// granularity. Each split produces a separate file at:
//
//	<DataDir>/<SYMBOL>/<interval>/<YYYY>.parquet        (daily and coarser)
//	<DataDir>/<SYMBOL>/<interval>/<YYYY-MM>.parquet     (intraday)
func (s *ParquetStore) WriteBars(_ context.Context, symbol string, interval domain.Interval, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	// Group bars by split file.
	groups := make(map[string][]BarRecord)
	for _, b := range bars {
		key := splitKey(interval, b.Timestamp)
		groups[key] = append(groups[key], BarRecord{
			Symbol:    strings.ToUpper(symbol),
			Timestamp: b.Timestamp.UnixMilli(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		})
	}

	for key, records := range groups {
		path := s.barPath(symbol, interval, key)

		// Read existing records to merge.
		existing, _ := readParquetFile[BarRecord](path)
		merged := mergeBarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s %s %s: %w", symbol, interval, key, err)
		}
	}
	return nil
}

// ReadBars reads bar data from Parquet files for the given symbol, interval,
// and time range [start, end).
func (s *ParquetStore) ReadBars(_ context.Context, symbol string, interval domain.Interval, start, end time.Time) ([]domain.Bar, error) {
	var bars []domain.Bar
	for _, key := range splitKeysInRange(interval, start, end) {
		path := s.barPath(symbol, interval, key)

		records, err := readParquetFile[BarRecord](path)
		if err != nil {
			// File doesn't exist for this split — skip.
			continue
		}

		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp).UTC()
			if !ts.Before(start) && ts.Before(end) {
				bars = append(bars, domain.Bar{
					Symbol:    r.Symbol,
					Timestamp: ts,
					Open:      r.Open,
					High:      r.High,
					Low:       r.Low,
					Close:     r.Close,
					Volume:    r.Volume,
				})
			}
		}
	}
	sort.Slice(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})
	return bars, nil
}

// ListSymbols lists all symbols that have cached bar data.
func (s *ParquetStore) ListSymbols(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.DataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// barPath returns the filesystem path for a bar Parquet file.
// Layout: <dataDir>/<SYMBOL>/<interval>/<splitKey>.parquet
func (s *ParquetStore) barPath(symbol string, interval domain.Interval, splitKey string) string {
	return filepath.Join(s.DataDir, strings.ToUpper(symbol), string(interval), splitKey+".parquet")
}

// splitKey returns the file key holding the bar at t for the interval's
// granularity: "2024" for yearly splits, "2024-06" for monthly.
func splitKey(interval domain.Interval, t time.Time) string {
	if interval.SplitGranularity() == domain.SplitByMonth {
		return t.UTC().Format("2006-01")
	}
	return t.UTC().Format("2006")
}

// splitKeysInRange enumerates every split file key overlapping [start, end).
func splitKeysInRange(interval domain.Interval, start, end time.Time) []string {
	var keys []string
	if interval.SplitGranularity() == domain.SplitByMonth {
		cur := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
		for cur.Before(end) {
			keys = append(keys, cur.Format("2006-01"))
			cur = cur.AddDate(0, 1, 0)
		}
		return keys
	}
	for year := start.Year(); year <= end.Year(); year++ {
		if time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC).Before(end) {
			keys = append(keys, fmt.Sprintf("%d", year))
		}
	}
	return keys
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeBarRecords deduplicates bar records by timestamp, preferring new
// records over existing ones. Results are sorted by timestamp.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	seen := make(map[int64]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Timestamp] = r
	}
	for _, r := range incoming {
		seen[r.Timestamp] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
