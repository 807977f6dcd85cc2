// Package interval provides pure calendar-date interval arithmetic used
// by the retrieval engine for gap detection. All functions operate on
// closed intervals of UTC-midnight dates and perform no I/O.
package interval

import "time"

// Range is a closed calendar-date interval [From, To].
type Range struct {
	From time.Time
	To   time.Time
}

// Days returns the number of calendar dates in the range.
func (r Range) Days() int {
	return int(r.To.Sub(r.From).Hours()/24) + 1
}

// Day truncates t to UTC midnight.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Missing partitions [start, end] against the covered date set and
// returns the maximal closed sub-intervals whose union is exactly the
// uncovered portion, sorted ascending and never overlapping. A fully
// covered interval yields nil; an empty covered set yields the whole
// requested range. covered is keyed by UTC midnight.
func Missing(start, end time.Time, covered map[time.Time]bool) []Range {
	start, end = Day(start), Day(end)
	if end.Before(start) {
		return nil
	}

	var (
		gaps    []Range
		gapFrom time.Time
		inGap   bool
	)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if covered[d] {
			if inGap {
				gaps = append(gaps, Range{From: gapFrom, To: d.AddDate(0, 0, -1)})
				inGap = false
			}
			continue
		}
		if !inGap {
			gapFrom = d
			inGap = true
		}
	}
	if inGap {
		gaps = append(gaps, Range{From: gapFrom, To: end})
	}
	return gaps
}

// Split cuts [from, to] into consecutive ranges of at most chunkDays
// calendar days. Upstreams that cap the span of one request get fed the
// pieces in order; only the final piece may be short.
func Split(from, to time.Time, chunkDays int) []Range {
	if from.After(to) || chunkDays <= 0 {
		return nil
	}

	total := Range{From: from, To: to}.Days()
	chunks := make([]Range, 0, (total+chunkDays-1)/chunkDays)
	for offset := 0; offset < total; offset += chunkDays {
		span := chunkDays
		if rest := total - offset; rest < span {
			span = rest
		}
		start := from.AddDate(0, 0, offset)
		chunks = append(chunks, Range{From: start, To: start.AddDate(0, 0, span-1)})
	}
	return chunks
}
