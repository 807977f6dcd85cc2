package marketdata

import (
	"sort"
	"time"
)

// assemble merges bar batches into one list, ascending by date with one
// bar per date. Duplicate dates from the same provider keep the later
// fetch; duplicates across providers keep the barchart bar, since its
// session-gated feed is the richer source when both are present.
func assemble(batches ...[]Bar) []Bar {
	byDate := make(map[time.Time]Bar)
	for _, batch := range batches {
		for _, b := range batch {
			cur, ok := byDate[b.Date]
			if ok && !wins(b, cur) {
				continue
			}
			byDate[b.Date] = b
		}
	}

	bars := make([]Bar, 0, len(byDate))
	for _, b := range byDate {
		bars = append(bars, b)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars
}

func wins(b, cur Bar) bool {
	if b.Provider != cur.Provider {
		return b.Provider == ProviderBarchart
	}
	return !b.FetchedAt.Before(cur.FetchedAt)
}
