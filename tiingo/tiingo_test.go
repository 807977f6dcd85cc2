package tiingo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"marketdata"
	"marketdata/internal/ratelimit"
)

const payload = `[
  {"date":"2024-01-02T00:00:00.000Z","open":472.16,"high":473.67,"low":470.49,"close":472.65,"volume":123828735,
   "adjOpen":467.35,"adjHigh":468.84,"adjLow":465.69,"adjClose":467.83,"adjVolume":123828735},
  {"date":"2024-01-03T00:00:00.000Z","open":470.43,"high":471.19,"low":468.17,"close":468.79,"volume":103585900,
   "adjOpen":465.63,"adjHigh":466.39,"adjLow":463.40,"adjClose":464.01,"adjVolume":103585900}
]`

func writeCreds(t *testing.T, dir, key string) {
	t.Helper()
	content := `{}`
	if key != "" {
		content = `{"tiingo_api_key":"` + key + `"}`
	}
	if err := os.WriteFile(filepath.Join(dir, "credentials.json"), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc, apiKey string) (*httptest.Server, *Client) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	dir := t.TempDir()
	writeCreds(t, dir, apiKey)

	cfg := marketdata.DefaultConfig()
	cfg.ConfigDir = dir
	cfg.HTTPTimeout = 5 * time.Second
	cfg.RetryBackoffBase = time.Millisecond
	cfg.RetryBackoffCap = 10 * time.Millisecond

	c := New(cfg,
		WithEndpoint(ts.URL),
		WithPacer(ratelimit.NewCallPacer(0, 0)),
	)
	return ts, c
}

func TestFetch(t *testing.T) {
	_, c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Token k123" {
			t.Errorf("Authorization = %q, want Token k123", got)
		}
		if r.URL.RawQuery != "" && r.URL.Query().Get("token") != "" {
			t.Error("token must not appear in the URL")
		}
		if got := r.URL.Query().Get("startDate"); got != "2024-01-02" {
			t.Errorf("startDate = %q", got)
		}
		_, _ = w.Write([]byte(payload))
	}, "k123")

	bars, err := c.Fetch(context.Background(), "SPY", marketdata.FrequencyDaily,
		time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(bars))
	}

	b := bars[0]
	if !b.Date.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("date = %v", b.Date)
	}
	if b.Provider != marketdata.ProviderTiingo || b.Symbol != "SPY" {
		t.Errorf("provenance fields wrong: %+v", b)
	}
	if b.Close == nil || *b.Close != 472.65 {
		t.Errorf("close = %v, want 472.65", b.Close)
	}
	if b.AdjClose == nil || *b.AdjClose != 467.83 {
		t.Errorf("adjClose = %v, want 467.83", b.AdjClose)
	}
}

func TestFetch_MissingKey(t *testing.T) {
	_, c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no upstream call expected without a key")
	}, "")

	_, err := c.Fetch(context.Background(), "SPY", marketdata.FrequencyDaily,
		time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC))
	if marketdata.CodeOf(err) != marketdata.CodeCredentialMissing {
		t.Fatalf("got %v, want credential missing", err)
	}
}

func TestFetch_UpstreamError(t *testing.T) {
	_, c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":"Not found."}`))
	}, "k123")

	_, err := c.Fetch(context.Background(), "NOPE", marketdata.FrequencyDaily,
		time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC))
	if marketdata.CodeOf(err) != marketdata.CodeProviderFailure {
		t.Fatalf("got %v, want provider failure", err)
	}
}

func TestFetch_MalformedResponse(t *testing.T) {
	_, c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>maintenance</html>`))
	}, "k123")

	_, err := c.Fetch(context.Background(), "SPY", marketdata.FrequencyDaily,
		time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC))
	if marketdata.CodeOf(err) != marketdata.CodeParseFailure {
		t.Fatalf("got %v, want parse failure", err)
	}
}

func TestFetch_InvalidSymbol(t *testing.T) {
	_, c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no upstream call expected for invalid symbol")
	}, "k123")

	_, err := c.Fetch(context.Background(), "aapl$", marketdata.FrequencyDaily,
		time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC))
	if marketdata.CodeOf(err) != marketdata.CodeInvalidInput {
		t.Fatalf("got %v, want invalid input", err)
	}
}

func TestProbeCredentials(t *testing.T) {
	dir := t.TempDir()
	writeCreds(t, dir, "k123")

	cfg := marketdata.DefaultConfig()
	cfg.ConfigDir = dir
	c := New(cfg)

	if err := c.ProbeCredentials(); err != nil {
		t.Errorf("probe with key: %v", err)
	}

	cfg.ConfigDir = t.TempDir()
	c = New(cfg)
	if err := c.ProbeCredentials(); marketdata.CodeOf(err) != marketdata.CodeCredentialMissing {
		t.Errorf("probe without key: got %v, want credential missing", err)
	}
}
