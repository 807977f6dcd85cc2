// Package tiingo implements the Tiingo end-of-day provider adapter.
// One call per date range returns adjusted and unadjusted prices in a
// single payload. The API token is read from credentials.json on every
// call and travels only in the Authorization header, never in the URL.
package tiingo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"marketdata"
	"marketdata/internal/credentials"
	"marketdata/internal/httpx"
	"marketdata/internal/ratelimit"
)

const (
	defaultEndpoint = "https://api.tiingo.com/tiingo/daily"
	dateFormat      = "2006-01-02"
	defaultMinGap   = time.Second
)

// Client fetches daily bars from Tiingo.
type Client struct {
	configDir string
	endpoint  string
	http      *httpx.Client
	pacer     *ratelimit.CallPacer
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoint overrides the daily-prices endpoint (used by tests).
func WithEndpoint(ep string) Option {
	return func(c *Client) { c.endpoint = ep }
}

// WithPacer replaces the default one-call-per-second pacer.
func WithPacer(p *ratelimit.CallPacer) Option {
	return func(c *Client) { c.pacer = p }
}

// New creates an adapter using the credential files under
// cfg.ConfigDir and the retry policy from cfg.
func New(cfg marketdata.Config, opts ...Option) *Client {
	c := &Client{
		configDir: cfg.ConfigDir,
		endpoint:  defaultEndpoint,
		http:      httpx.New(cfg.HTTPTimeout, cfg.RetryAttempts, cfg.RetryBackoffBase, cfg.RetryBackoffCap),
		pacer:     ratelimit.NewCallPacer(defaultMinGap, cfg.TiingoWarnAfterCalls),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Name implements marketdata.Adapter.
func (c *Client) Name() marketdata.Provider { return marketdata.ProviderTiingo }

// ProbeCredentials implements marketdata.Adapter. It checks presence
// only; no upstream call is made.
func (c *Client) ProbeCredentials() error {
	creds, err := credentials.Load(c.configDir)
	if err != nil {
		return err
	}
	if creds.TiingoAPIKey == "" {
		return marketdata.CredentialMissing(marketdata.ProviderTiingo, "tiingo_api_key",
			credentials.Path(c.configDir, credentials.CredentialsFile))
	}
	return nil
}

// priceRow is one element of the Tiingo daily-prices response.
type priceRow struct {
	Date      string   `json:"date"`
	Open      *float64 `json:"open"`
	High      *float64 `json:"high"`
	Low       *float64 `json:"low"`
	Close     *float64 `json:"close"`
	Volume    *float64 `json:"volume"`
	AdjOpen   *float64 `json:"adjOpen"`
	AdjHigh   *float64 `json:"adjHigh"`
	AdjLow    *float64 `json:"adjLow"`
	AdjClose  *float64 `json:"adjClose"`
	AdjVolume *float64 `json:"adjVolume"`
}

// Fetch implements marketdata.Adapter.
func (c *Client) Fetch(ctx context.Context, symbol string, freq marketdata.Frequency, start, end time.Time) ([]marketdata.Bar, error) {
	if !marketdata.ValidSymbol(symbol) {
		return nil, marketdata.InvalidInput("tiingo: invalid symbol %q", symbol)
	}
	if freq != marketdata.FrequencyDaily {
		return nil, marketdata.InvalidInput("tiingo: unsupported frequency %q", freq)
	}

	creds, err := credentials.Load(c.configDir)
	if err != nil {
		return nil, err
	}
	if creds.TiingoAPIKey == "" {
		return nil, marketdata.CredentialMissing(marketdata.ProviderTiingo, "tiingo_api_key",
			credentials.Path(c.configDir, credentials.CredentialsFile))
	}

	if err := c.pacer.Wait(ctx); err != nil {
		return nil, err
	}

	reqURL := fmt.Sprintf("%s/%s/prices?startDate=%s&endDate=%s&resampleFreq=daily&format=json",
		c.endpoint,
		url.PathEscape(symbol),
		start.Format(dateFormat),
		end.Format(dateFormat),
	)
	header := http.Header{}
	header.Set("Authorization", "Token "+creds.TiingoAPIKey)
	header.Set("Accept", "application/json")

	res, err := c.http.Get(ctx, reqURL, header)
	if err != nil {
		return nil, fmt.Errorf("tiingo request: %w", err)
	}
	if res.Status != http.StatusOK {
		return nil, marketdata.ProviderFailure(marketdata.ProviderTiingo, res.Status, httpx.Snippet(res.Body))
	}

	var rows []priceRow
	if err := json.Unmarshal(res.Body, &rows); err != nil {
		return nil, marketdata.ParseFailure(marketdata.ProviderTiingo, err)
	}

	bars := make([]marketdata.Bar, 0, len(rows))
	for _, r := range rows {
		d, err := parseDate(r.Date)
		if err != nil {
			return nil, marketdata.ParseFailure(marketdata.ProviderTiingo, err)
		}
		bars = append(bars, marketdata.Bar{
			Symbol:    symbol,
			Date:      d,
			Frequency: freq,
			Provider:  marketdata.ProviderTiingo,
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
			AdjOpen:   r.AdjOpen,
			AdjHigh:   r.AdjHigh,
			AdjLow:    r.AdjLow,
			AdjClose:  r.AdjClose,
			AdjVolume: r.AdjVolume,
		})
	}

	slog.Info("retrieved tiingo data", "symbol", symbol,
		"from", start.Format(dateFormat), "to", end.Format(dateFormat), "count", len(bars))
	return bars, nil
}

// parseDate accepts the timestamp Tiingo returns ("2024-01-02T00:00:00.000Z")
// and truncates it to the calendar date.
func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		// Some endpoints return the bare date.
		t, err = time.ParseInLocation(dateFormat, s, time.UTC)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
		}
	}
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
}
