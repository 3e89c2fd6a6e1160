package cache

import (
	"time"

	"github.com/RobertSmithers/ToTheMoon/internal/domain"
	"github.com/RobertSmithers/ToTheMoon/internal/store"
)

// SplitRanges partitions [start, end) on calendar boundaries matching the
// cache file granularity, so each fetch lines up with one cache file.
func SplitRanges(start, end time.Time, g domain.Granularity) []store.CoverageRange {
	var out []store.CoverageRange
	cur := start.UTC()
	end = end.UTC()
	for cur.Before(end) {
		var next time.Time
		switch g {
		case domain.SplitByMonth:
			next = time.Date(cur.Year(), cur.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
		default:
			next = time.Date(cur.Year()+1, 1, 1, 0, 0, 0, 0, time.UTC)
		}
		if next.After(end) {
			next = end
		}
		out = append(out, store.CoverageRange{Start: cur, End: next})
		cur = next
	}
	return out
}

// MissingRanges returns the subranges of [start, end) not covered by the
// given ranges. covered may be unsorted or overlapping; it is merged first.
func MissingRanges(start, end time.Time, covered []store.CoverageRange) []store.CoverageRange {
	start, end = start.UTC(), end.UTC()
	if !start.Before(end) {
		return nil
	}

	merged := store.MergeRanges(covered)

	var missing []store.CoverageRange
	cur := start
	for _, r := range merged {
		if cur.Before(r.Start) {
			gapEnd := r.Start
			if gapEnd.After(end) {
				gapEnd = end
			}
			missing = append(missing, store.CoverageRange{Start: cur, End: gapEnd})
		}
		if r.End.After(cur) {
			cur = r.End
		}
		if !cur.Before(end) {
			break
		}
	}
	if cur.Before(end) {
		missing = append(missing, store.CoverageRange{Start: cur, End: end})
	}
	return missing
}
