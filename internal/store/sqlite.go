package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"github.com/RobertSmithers/ToTheMoon/internal/domain"
)

// Compile-time interface checks.
var _ CoverageStore = (*SQLiteStore)(nil)
var _ RunStore = (*SQLiteStore)(nil)

// SQLiteStore implements CoverageStore and RunStore backed by a SQLite
// database.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS coverage (
	symbol     TEXT NOT NULL,
	interval   TEXT NOT NULL,
	start_ts   INTEGER NOT NULL,
	end_ts     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_coverage_key ON coverage(symbol, interval);

CREATE TABLE IF NOT EXISTS runs (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol       TEXT NOT NULL,
	interval     TEXT NOT NULL,
	strategy     TEXT NOT NULL,
	params_json  TEXT NOT NULL DEFAULT '{}',
	start_ts     INTEGER NOT NULL,
	end_ts       INTEGER NOT NULL,
	initial_cash REAL NOT NULL,
	created_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS run_metrics (
	run_id INTEGER NOT NULL REFERENCES runs(id),
	name   TEXT NOT NULL,
	value  REAL NOT NULL,
	PRIMARY KEY (run_id, name)
);

CREATE TABLE IF NOT EXISTS equity_points (
	run_id INTEGER NOT NULL REFERENCES runs(id),
	ts     INTEGER NOT NULL,
	equity REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_equity_run ON equity_points(run_id, ts);
`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// CoverageStore implementation
// ---------------------------------------------------------------------------

// AddCoverage records [start, end) as fetched for the symbol and interval,
// merging it with any overlapping or adjacent stored ranges.
func (s *SQLiteStore) AddCoverage(ctx context.Context, symbol string, interval domain.Interval, start, end time.Time) error {
	if !start.Before(end) {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT start_ts, end_ts FROM coverage WHERE symbol = ? AND interval = ?`,
		symbol, string(interval))
	if err != nil {
		return err
	}
	ranges := []CoverageRange{{Start: start.UTC(), End: end.UTC()}}
	for rows.Next() {
		var s64, e64 int64
		if err := rows.Scan(&s64, &e64); err != nil {
			rows.Close()
			return err
		}
		ranges = append(ranges, CoverageRange{
			Start: time.UnixMilli(s64).UTC(),
			End:   time.UnixMilli(e64).UTC(),
		})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	merged := MergeRanges(ranges)

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM coverage WHERE symbol = ? AND interval = ?`,
		symbol, string(interval)); err != nil {
		return err
	}
	for _, r := range merged {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO coverage (symbol, interval, start_ts, end_ts) VALUES (?, ?, ?, ?)`,
			symbol, string(interval), r.Start.UnixMilli(), r.End.UnixMilli()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListCoverage returns the merged coverage ranges for a symbol and interval.
func (s *SQLiteStore) ListCoverage(ctx context.Context, symbol string, interval domain.Interval) ([]CoverageRange, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT start_ts, end_ts FROM coverage WHERE symbol = ? AND interval = ? ORDER BY start_ts`,
		symbol, string(interval))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ranges []CoverageRange
	for rows.Next() {
		var s64, e64 int64
		if err := rows.Scan(&s64, &e64); err != nil {
			return nil, err
		}
		ranges = append(ranges, CoverageRange{
			Start: time.UnixMilli(s64).UTC(),
			End:   time.UnixMilli(e64).UTC(),
		})
	}
	return ranges, rows.Err()
}

// MergeRanges collapses overlapping or touching ranges into a minimal sorted
// set.
func MergeRanges(ranges []CoverageRange) []CoverageRange {
	if len(ranges) == 0 {
		return nil
	}
	sorted := append([]CoverageRange(nil), ranges...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	merged := []CoverageRange{sorted[0]}
	for _, r := range sorted[1:] {
		last := &merged[len(merged)-1]
		if r.Start.After(last.End) {
			merged = append(merged, r)
			continue
		}
		if r.End.After(last.End) {
			last.End = r.End
		}
	}
	return merged
}

// ---------------------------------------------------------------------------
// RunStore implementation
// ---------------------------------------------------------------------------

// SaveRun archives a completed run with its metrics and equity curve in a
// single transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *RunRecord) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO runs (symbol, interval, strategy, params_json, start_ts, end_ts, initial_cash, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.Symbol, string(run.Interval), run.Strategy, run.ParamsJSON,
		run.Start.UnixMilli(), run.End.UnixMilli(), run.InitialCash, createdAt.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("inserting run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for name, value := range run.Metrics {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_metrics (run_id, name, value) VALUES (?, ?, ?)`,
			id, name, value); err != nil {
			return 0, fmt.Errorf("inserting metric %s: %w", name, err)
		}
	}

	for _, pt := range run.Curve {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO equity_points (run_id, ts, equity) VALUES (?, ?, ?)`,
			id, pt.Timestamp.UnixMilli(), pt.Equity); err != nil {
			return 0, fmt.Errorf("inserting equity point: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// GetRun loads one archived run, including its metrics and equity curve.
func (s *SQLiteStore) GetRun(ctx context.Context, id int64) (*RunRecord, error) {
	run := &RunRecord{ID: id}
	var interval string
	var startTS, endTS, createdTS int64

	err := s.db.QueryRowContext(ctx,
		`SELECT symbol, interval, strategy, params_json, start_ts, end_ts, initial_cash, created_at
		 FROM runs WHERE id = ?`, id).
		Scan(&run.Symbol, &interval, &run.Strategy, &run.ParamsJSON,
			&startTS, &endTS, &run.InitialCash, &createdTS)
	if err != nil {
		return nil, fmt.Errorf("loading run %d: %w", id, err)
	}
	run.Interval = domain.Interval(interval)
	run.Start = time.UnixMilli(startTS).UTC()
	run.End = time.UnixMilli(endTS).UTC()
	run.CreatedAt = time.UnixMilli(createdTS).UTC()

	run.Metrics = make(map[string]float64)
	mrows, err := s.db.QueryContext(ctx,
		`SELECT name, value FROM run_metrics WHERE run_id = ?`, id)
	if err != nil {
		return nil, err
	}
	for mrows.Next() {
		var name string
		var value float64
		if err := mrows.Scan(&name, &value); err != nil {
			mrows.Close()
			return nil, err
		}
		run.Metrics[name] = value
	}
	mrows.Close()
	if err := mrows.Err(); err != nil {
		return nil, err
	}

	erows, err := s.db.QueryContext(ctx,
		`SELECT ts, equity FROM equity_points WHERE run_id = ? ORDER BY ts`, id)
	if err != nil {
		return nil, err
	}
	defer erows.Close()
	for erows.Next() {
		var ts int64
		var equity float64
		if err := erows.Scan(&ts, &equity); err != nil {
			return nil, err
		}
		run.Curve = append(run.Curve, domain.EquityPoint{
			Timestamp: time.UnixMilli(ts).UTC(),
			Equity:    equity,
		})
	}
	return run, erows.Err()
}

// ListRuns returns archived run metadata (no metrics or curve) for a symbol,
// most recent first. An empty symbol matches all symbols.
func (s *SQLiteStore) ListRuns(ctx context.Context, symbol string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, symbol, interval, strategy, params_json, start_ts, end_ts, initial_cash, created_at
		 FROM runs WHERE (? = '' OR symbol = ?) ORDER BY created_at DESC LIMIT ?`,
		symbol, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var run RunRecord
		var interval string
		var startTS, endTS, createdTS int64
		if err := rows.Scan(&run.ID, &run.Symbol, &interval, &run.Strategy, &run.ParamsJSON,
			&startTS, &endTS, &run.InitialCash, &createdTS); err != nil {
			return nil, err
		}
		run.Interval = domain.Interval(interval)
		run.Start = time.UnixMilli(startTS).UTC()
		run.End = time.UnixMilli(endTS).UTC()
		run.CreatedAt = time.UnixMilli(createdTS).UTC()
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
