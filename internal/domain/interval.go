package domain

import (
	"fmt"
	"time"
)

// Interval is a bar sampling interval, using the vendor-neutral spellings the
// original data layer standardised on.
type Interval string

const (
	Interval1Min  Interval = "1m"
	Interval5Min  Interval = "5m"
	Interval15Min Interval = "15m"
	Interval30Min Interval = "30m"
	Interval1Hour Interval = "1h"
	Interval1Day  Interval = "1d"
	Interval1Week Interval = "1wk"
	Interval1Mo   Interval = "1mo"
)

// Granularity is how the cache splits an interval's bars into files.
type Granularity string

const (
	SplitByMonth Granularity = "month"
	SplitByYear  Granularity = "year"
)

var intervalDurations = map[Interval]time.Duration{
	Interval1Min:  time.Minute,
	Interval5Min:  5 * time.Minute,
	Interval15Min: 15 * time.Minute,
	Interval30Min: 30 * time.Minute,
	Interval1Hour: time.Hour,
	Interval1Day:  24 * time.Hour,
	Interval1Week: 7 * 24 * time.Hour,
	Interval1Mo:   30 * 24 * time.Hour,
}

// Periods per trading year for Sharpe/volatility annualization. Intraday
// factors assume 6.5-hour US equity sessions over 252 trading days.
var annualizationFactors = map[Interval]float64{
	Interval1Min:  252 * 390,
	Interval5Min:  252 * 78,
	Interval15Min: 252 * 26,
	Interval30Min: 252 * 13,
	Interval1Hour: 252 * 6.5,
	Interval1Day:  252,
	Interval1Week: 52,
	Interval1Mo:   12,
}

// Cache file granularity per interval: intraday bars are split monthly,
// daily and coarser bars yearly.
var splitGranularities = map[Interval]Granularity{
	Interval1Min:  SplitByMonth,
	Interval5Min:  SplitByMonth,
	Interval15Min: SplitByMonth,
	Interval30Min: SplitByMonth,
	Interval1Hour: SplitByMonth,
	Interval1Day:  SplitByYear,
	Interval1Week: SplitByYear,
	Interval1Mo:   SplitByYear,
}

// ParseInterval validates and normalises an interval string, accepting the
// common vendor aliases.
func ParseInterval(s string) (Interval, error) {
	aliases := map[string]Interval{
		"1m": Interval1Min, "1min": Interval1Min,
		"5m": Interval5Min, "5min": Interval5Min,
		"15m": Interval15Min, "15min": Interval15Min,
		"30m": Interval30Min, "30min": Interval30Min,
		"1h": Interval1Hour, "1hour": Interval1Hour, "hourly": Interval1Hour,
		"1d": Interval1Day, "1day": Interval1Day, "daily": Interval1Day,
		"1wk": Interval1Week, "1w": Interval1Week, "weekly": Interval1Week,
		"1mo": Interval1Mo, "1month": Interval1Mo, "monthly": Interval1Mo,
	}
	if iv, ok := aliases[s]; ok {
		return iv, nil
	}
	return "", fmt.Errorf("unknown interval %q", s)
}

// Duration returns the nominal length of one bar.
func (i Interval) Duration() time.Duration {
	return intervalDurations[i]
}

// AnnualizationFactor returns the number of bars per trading year, used to
// annualize per-bar return statistics.
func (i Interval) AnnualizationFactor() float64 {
	if f, ok := annualizationFactors[i]; ok {
		return f
	}
	return 252
}

// SplitGranularity returns how cached bars at this interval are partitioned
// into files.
func (i Interval) SplitGranularity() Granularity {
	if g, ok := splitGranularities[i]; ok {
		return g
	}
	return SplitByYear
}

// Valid reports whether i is a recognised interval.
func (i Interval) Valid() bool {
	_, ok := intervalDurations[i]
	return ok
}
