// Package marketdata retrieves historical daily equity price bars from
// third-party providers, caches every retrieved bar in a local SQLite
// store, and serves overlapping queries from that store with automatic
// gap-filling against the provider.
//
// The package itself holds the domain types and the retrieval engine
// (Service). Concrete collaborators live in their own packages: the
// persistent store in store, the provider adapters in barchart and
// tiingo. Callers wire them together:
//
//	st, _ := store.Open(cfg.DBPath)
//	svc := marketdata.NewService(st, barchart.New(cfg), tiingo.New(cfg))
//	res, _ := svc.GetPrices(ctx, marketdata.Request{
//		Symbol: "SPY",
//		Start:  time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
//		End:    time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
//	})
package marketdata

import (
	"context"
	"time"
)

// Frequency is the bar aggregation period. Only daily bars are supported.
type Frequency string

const (
	FrequencyDaily Frequency = "daily"
)

// Provider identifies a data source. ProviderAuto is a selection mode,
// not an origin: stored bars are always tagged barchart or tiingo.
type Provider string

const (
	ProviderBarchart Provider = "barchart"
	ProviderTiingo   Provider = "tiingo"
	ProviderAuto     Provider = "auto"
)

// Bar is one trading-day price record for one symbol from one provider.
// The 4-tuple (Symbol, Date, Frequency, Provider) is unique in the store.
// Price and volume fields are nil when the provider did not supply them;
// missing data is never imputed.
type Bar struct {
	Symbol    string    `json:"symbol"`
	Date      time.Time `json:"date"`
	Frequency Frequency `json:"frequency"`
	Provider  Provider  `json:"provider"`

	Open   *float64 `json:"open"`
	High   *float64 `json:"high"`
	Low    *float64 `json:"low"`
	Close  *float64 `json:"close"`
	Volume *float64 `json:"volume"`

	AdjOpen   *float64 `json:"adjOpen"`
	AdjHigh   *float64 `json:"adjHigh"`
	AdjLow    *float64 `json:"adjLow"`
	AdjClose  *float64 `json:"adjClose"`
	AdjVolume *float64 `json:"adjVolume"`

	// FetchedAt is stamped by the store on write.
	FetchedAt time.Time `json:"fetchedAt"`
}

// Result is returned by Service.GetPrices. Bars are strictly ascending by
// date with no duplicate dates, and FromCache+FromAPI == len(Bars).
type Result struct {
	Bars      []Bar     `json:"bars"`
	Symbol    string    `json:"symbol"`
	Provider  Provider  `json:"provider"`
	FromCache int       `json:"fromCache"`
	FromAPI   int       `json:"fromApi"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
}

// Store is the persistence contract the engine depends on. The sqlite
// implementation lives in the store package.
type Store interface {
	// ReadRange returns matching bars with date in [start, end],
	// ascending by date.
	ReadRange(ctx context.Context, symbol string, freq Frequency, provider Provider, start, end time.Time) ([]Bar, error)
	// CoveredDates returns the set of dates in [start, end] already held
	// for the key, keyed by UTC midnight.
	CoveredDates(ctx context.Context, symbol string, freq Frequency, provider Provider, start, end time.Time) (map[time.Time]bool, error)
	// WriteRange inserts-or-replaces bars in a single transaction and
	// stamps FetchedAt. A failed transaction leaves the store unchanged.
	WriteRange(ctx context.Context, symbol string, freq Frequency, provider Provider, bars []Bar) error
}

// Adapter is a provider-specific fetcher. Implementations handle their
// own authentication, pacing, and transient-error retries, and return
// bars with all ten price fields populated where the upstream supplies
// them.
type Adapter interface {
	// Name reports the concrete provider (never ProviderAuto).
	Name() Provider
	// ProbeCredentials reports whether the adapter's credentials are
	// present without making an upstream call.
	ProbeCredentials() error
	// Fetch returns bars for dates in [start, end]. Non-trading dates
	// simply yield no bar.
	Fetch(ctx context.Context, symbol string, freq Frequency, start, end time.Time) ([]Bar, error)
}
