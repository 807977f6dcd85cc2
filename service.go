package marketdata

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"marketdata/internal/interval"
)

// Service is the retrieval engine. It validates requests, serves what it
// can from the store, fetches only the missing sub-intervals from a
// provider, writes results back atomically per sub-interval, and
// assembles the final ordered result with provenance counts.
//
// A Service is safe for concurrent use; concurrent requests for the same
// (symbol, frequency, provider) key may race, but each write is atomic
// and readers never observe a partially-written sub-interval.
type Service struct {
	store    Store
	adapters map[Provider]Adapter
	now      func() time.Time
}

func NewService(store Store, adapters ...Adapter) *Service {
	s := &Service{
		store:    store,
		adapters: make(map[Provider]Adapter, len(adapters)),
		now:      time.Now,
	}
	for _, a := range adapters {
		s.adapters[a.Name()] = a
	}
	return s
}

// GetPrices retrieves daily bars for req.Symbol over the closed interval
// [req.Start, req.End]. Cached bars are served from the store; gaps are
// fetched from the selected provider in ascending order and written back
// before the next gap is attempted, so completed sub-intervals survive a
// later failure.
func (s *Service) GetPrices(ctx context.Context, req Request) (*Result, error) {
	req = req.normalize()
	if err := req.validate(day(s.now())); err != nil {
		return nil, err
	}

	requestStart := s.now()

	adapter, err := s.selectAdapter(req.Provider)
	if err != nil {
		return nil, err
	}

	auto := req.Provider == ProviderAuto
	fellBack := false
	first := adapter.Name()

	gaps, err := s.missingRanges(ctx, req, adapter.Name(), req.Start, req.End)
	if err != nil {
		return nil, err
	}

	for len(gaps) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		g := gaps[0]
		gaps = gaps[1:]

		bars, err := adapter.Fetch(ctx, req.Symbol, req.Frequency, g.From, g.To)
		if err != nil {
			if auto && !fellBack && adapter.Name() == ProviderBarchart && CodeOf(err) == CodeCredentialStale {
				fallback, ok := s.adapters[ProviderTiingo]
				if !ok {
					return nil, err
				}
				slog.Warn("barchart session stale, falling back to tiingo",
					"symbol", req.Symbol, "from", g.From.Format("2006-01-02"))
				adapter = fallback
				fellBack = true
				// Sub-intervals already written stay as they are; the
				// remaining interval is re-partitioned against the
				// fallback provider's coverage.
				gaps, err = s.missingRanges(ctx, req, adapter.Name(), g.From, req.End)
				if err != nil {
					return nil, err
				}
				continue
			}
			return nil, err
		}

		if len(bars) > 0 {
			if err := s.store.WriteRange(ctx, req.Symbol, req.Frequency, adapter.Name(), bars); err != nil {
				return nil, err
			}
		}
	}

	// Read the full interval back from the store so every returned bar
	// carries its stored provenance and fetch timestamp.
	var batches [][]Bar
	providers := []Provider{adapter.Name()}
	if fellBack {
		providers = []Provider{first, adapter.Name()}
	}
	for _, p := range providers {
		bars, err := s.store.ReadRange(ctx, req.Symbol, req.Frequency, p, req.Start, req.End)
		if err != nil {
			return nil, err
		}
		batches = append(batches, bars)
	}

	bars := assemble(batches...)

	res := &Result{
		Bars:     bars,
		Symbol:   req.Symbol,
		Provider: adapter.Name(),
		Start:    req.Start,
		End:      req.End,
	}
	fetchedBy := make(map[Provider]int)
	for _, b := range bars {
		if b.FetchedAt.Before(requestStart) {
			res.FromCache++
			continue
		}
		res.FromAPI++
		fetchedBy[b.Provider]++
	}
	if p, ok := majority(fetchedBy); ok {
		res.Provider = p
	}

	slog.Info("get prices", "symbol", req.Symbol, "provider", res.Provider,
		"from_cache", res.FromCache, "from_api", res.FromAPI)
	return res, nil
}

// selectAdapter resolves the provider selection to a concrete adapter.
// AUTO prefers barchart when its credential probe passes and otherwise
// falls back to tiingo.
func (s *Service) selectAdapter(p Provider) (Adapter, error) {
	if p != ProviderAuto {
		a, ok := s.adapters[p]
		if !ok {
			return nil, InvalidInput("provider %s is not configured", p)
		}
		return a, nil
	}

	var firstErr error
	for _, candidate := range []Provider{ProviderBarchart, ProviderTiingo} {
		a, ok := s.adapters[candidate]
		if !ok {
			continue
		}
		if err := a.ProbeCredentials(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		return a, nil
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return nil, fmt.Errorf("no providers configured")
}

// missingRanges partitions [from, to] against the store's coverage for
// the provider. Refresh requests skip the store and treat the whole
// interval as missing.
func (s *Service) missingRanges(ctx context.Context, req Request, p Provider, from, to time.Time) ([]interval.Range, error) {
	if req.Refresh {
		return []interval.Range{{From: from, To: to}}, nil
	}
	covered, err := s.store.CoveredDates(ctx, req.Symbol, req.Frequency, p, from, to)
	if err != nil {
		return nil, err
	}
	return interval.Missing(from, to, covered), nil
}

// majority returns the provider that fetched the most bars this request.
// Ties break toward tiingo. ok is false when nothing was fetched.
func majority(fetchedBy map[Provider]int) (Provider, bool) {
	if len(fetchedBy) == 0 {
		return "", false
	}
	best, bestN := ProviderTiingo, fetchedBy[ProviderTiingo]
	for p, n := range fetchedBy {
		if n > bestN {
			best, bestN = p, n
		}
	}
	return best, true
}
