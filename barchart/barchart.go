// Package barchart implements the Barchart end-of-day provider adapter.
// Barchart serves adjusted and unadjusted series from separate requests,
// so one fetch issues a back-to-back pair of calls per date range and
// joins the two series on date. Authentication rides on a browser
// session bundle (cookie header, CSRF token, user agent) captured by an
// external tool into barchart_cookies.json; the bundle is re-read on
// every call and never logged.
package barchart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sort"
	"time"

	"marketdata"
	"marketdata/internal/credentials"
	"marketdata/internal/httpx"
	"marketdata/internal/interval"
	"marketdata/internal/ratelimit"
)

const (
	defaultEndpoint = "https://www.barchart.com/proxies/core-api/v1/historical/get"
	dateFormat      = "2006-01-02"

	// One request covers at most this many calendar days; longer ranges
	// are split and fetched in ascending order.
	maxChunkDays = 730

	// Session bundles older than this still work upstream but deserve a
	// warning; expiry is only known for sure when a call comes back
	// 401/403.
	staleAfter = 24 * time.Hour

	interSymbolDelay = 2 * time.Second
	longPauseEvery   = 10
	longPause        = 30 * time.Second
)

// Client fetches daily bars from Barchart.
type Client struct {
	configDir string
	endpoint  string
	http      *httpx.Client
	pacer     *ratelimit.SymbolPacer
	now       func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoint overrides the historical-data endpoint (used by tests).
func WithEndpoint(ep string) Option {
	return func(c *Client) { c.endpoint = ep }
}

// WithPacer replaces the default 2s/30s symbol pacer.
func WithPacer(p *ratelimit.SymbolPacer) Option {
	return func(c *Client) { c.pacer = p }
}

// New creates an adapter using the cookie bundle under cfg.ConfigDir and
// the retry policy from cfg.
func New(cfg marketdata.Config, opts ...Option) *Client {
	c := &Client{
		configDir: cfg.ConfigDir,
		endpoint:  defaultEndpoint,
		http:      httpx.New(cfg.HTTPTimeout, cfg.RetryAttempts, cfg.RetryBackoffBase, cfg.RetryBackoffCap),
		pacer:     ratelimit.NewSymbolPacer(interSymbolDelay, longPauseEvery, longPause),
		now:       time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Name implements marketdata.Adapter.
func (c *Client) Name() marketdata.Provider { return marketdata.ProviderBarchart }

// ProbeCredentials implements marketdata.Adapter. Presence check only;
// a bundle past its expected lifetime logs a warning but still passes,
// since only the upstream can say whether it expired.
func (c *Client) ProbeCredentials() error {
	session, err := c.loadSession()
	if err != nil {
		return err
	}
	if age := session.Age(c.now()); age > staleAfter {
		slog.Warn("barchart session bundle is older than expected", "age", age.Round(time.Minute), "limit", staleAfter)
	}
	return nil
}

func (c *Client) loadSession() (credentials.CookieSession, error) {
	session, err := credentials.LoadCookies(c.configDir)
	path := credentials.Path(c.configDir, credentials.CookiesFile)
	if errors.Is(err, os.ErrNotExist) {
		return session, marketdata.CredentialMissing(marketdata.ProviderBarchart, "cookie_string", path)
	}
	if err != nil {
		return session, err
	}
	if session.CookieString == "" {
		return session, marketdata.CredentialMissing(marketdata.ProviderBarchart, "cookie_string", path)
	}
	return session, nil
}

// historicalResponse is the shape of the core-api historical endpoint.
type historicalResponse struct {
	Count int `json:"count"`
	Total int `json:"total"`
	Data  []struct {
		TradeTime string   `json:"tradeTime"`
		OpenPrice *float64 `json:"openPrice"`
		HighPrice *float64 `json:"highPrice"`
		LowPrice  *float64 `json:"lowPrice"`
		LastPrice *float64 `json:"lastPrice"`
		Volume    *float64 `json:"volume"`
	} `json:"data"`
}

// Fetch implements marketdata.Adapter. Each chunk is fetched as an
// unadjusted+adjusted pair with no pacing between the two calls; if
// either call of a pair fails the whole fetch fails and nothing is
// returned.
func (c *Client) Fetch(ctx context.Context, symbol string, freq marketdata.Frequency, start, end time.Time) ([]marketdata.Bar, error) {
	if !marketdata.ValidSymbol(symbol) {
		return nil, marketdata.InvalidInput("barchart: invalid symbol %q", symbol)
	}
	if freq != marketdata.FrequencyDaily {
		return nil, marketdata.InvalidInput("barchart: unsupported frequency %q", freq)
	}

	session, err := c.loadSession()
	if err != nil {
		return nil, err
	}

	var bars []marketdata.Bar
	for _, chunk := range interval.Split(start, end, maxChunkDays) {
		// Chunks after the first hit the same symbol and pace as no-ops.
		if err := c.pacer.Wait(ctx, symbol); err != nil {
			return nil, err
		}

		unadjusted, err := c.fetchSeries(ctx, session, symbol, chunk, false)
		if err != nil {
			return nil, err
		}
		// Second call of the pair: same symbol, zero pacing.
		adjusted, err := c.fetchSeries(ctx, session, symbol, chunk, true)
		if err != nil {
			return nil, err
		}

		bars = append(bars, join(symbol, freq, unadjusted, adjusted)...)
	}

	slog.Info("retrieved barchart data", "symbol", symbol,
		"from", start.Format(dateFormat), "to", end.Format(dateFormat), "count", len(bars))
	return bars, nil
}

type series map[time.Time][5]*float64 // open, high, low, close, volume by date

func (c *Client) fetchSeries(ctx context.Context, session credentials.CookieSession, symbol string, r interval.Range, adjusted bool) (series, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("type", "eod")
	q.Set("fields", "tradeTime.format(Y-m-d),openPrice,highPrice,lowPrice,lastPrice,volume")
	q.Set("startDate", r.From.Format(dateFormat))
	q.Set("endDate", r.To.Format(dateFormat))
	q.Set("order", "asc")
	if adjusted {
		q.Set("splits", "true")
		q.Set("dividends", "true")
	}

	header := http.Header{}
	header.Set("Cookie", session.CookieString)
	header.Set("X-XSRF-TOKEN", session.XSRFToken)
	if session.UserAgent != "" {
		header.Set("User-Agent", session.UserAgent)
	}
	header.Set("Accept", "application/json")

	res, err := c.http.Get(ctx, c.endpoint+"?"+q.Encode(), header)
	if err != nil {
		return nil, fmt.Errorf("barchart request: %w", err)
	}
	switch res.Status {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, marketdata.CredentialStale(marketdata.ProviderBarchart, res.Status)
	default:
		return nil, marketdata.ProviderFailure(marketdata.ProviderBarchart, res.Status, httpx.Snippet(res.Body))
	}

	var resp historicalResponse
	if err := json.Unmarshal(res.Body, &resp); err != nil {
		return nil, marketdata.ParseFailure(marketdata.ProviderBarchart, err)
	}

	out := make(series, len(resp.Data))
	for _, row := range resp.Data {
		d, err := time.ParseInLocation(dateFormat, row.TradeTime, time.UTC)
		if err != nil {
			return nil, marketdata.ParseFailure(marketdata.ProviderBarchart, fmt.Errorf("parse tradeTime %q: %w", row.TradeTime, err))
		}
		out[d] = [5]*float64{row.OpenPrice, row.HighPrice, row.LowPrice, row.LastPrice, row.Volume}
	}
	return out, nil
}

// join merges the unadjusted and adjusted series on date. Dates present
// in only one series keep the other side's fields nil; missing data is
// never imputed.
func join(symbol string, freq marketdata.Frequency, unadjusted, adjusted series) []marketdata.Bar {
	dates := make(map[time.Time]bool, len(unadjusted)+len(adjusted))
	for d := range unadjusted {
		dates[d] = true
	}
	for d := range adjusted {
		dates[d] = true
	}

	bars := make([]marketdata.Bar, 0, len(dates))
	for d := range dates {
		b := marketdata.Bar{
			Symbol:    symbol,
			Date:      d,
			Frequency: freq,
			Provider:  marketdata.ProviderBarchart,
		}
		if u, ok := unadjusted[d]; ok {
			b.Open, b.High, b.Low, b.Close, b.Volume = u[0], u[1], u[2], u[3], u[4]
		}
		if a, ok := adjusted[d]; ok {
			b.AdjOpen, b.AdjHigh, b.AdjLow, b.AdjClose, b.AdjVolume = a[0], a[1], a[2], a[3], a[4]
		}
		bars = append(bars, b)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars
}
