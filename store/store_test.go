package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"marketdata"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func f(v float64) *float64 { return &v }

func date(m, d int) time.Time {
	return time.Date(2024, time.Month(m), d, 0, 0, 0, 0, time.UTC)
}

func bar(d time.Time, close float64) marketdata.Bar {
	return marketdata.Bar{
		Date:     d,
		Open:     f(close - 1),
		High:     f(close + 1),
		Low:      f(close - 2),
		Close:    f(close),
		Volume:   f(1000),
		AdjClose: f(close),
	}
}

func TestWriteRange_And_ReadRange(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	bars := []marketdata.Bar{
		bar(date(1, 2), 470.1),
		bar(date(1, 3), 471.5),
		bar(date(1, 4), 469.8),
	}
	if err := s.WriteRange(ctx, "SPY", marketdata.FrequencyDaily, marketdata.ProviderTiingo, bars); err != nil {
		t.Fatalf("write range: %v", err)
	}

	got, err := s.ReadRange(ctx, "SPY", marketdata.FrequencyDaily, marketdata.ProviderTiingo, date(1, 1), date(1, 31))
	if err != nil {
		t.Fatalf("read range: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 bars, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if !got[i].Date.After(got[i-1].Date) {
			t.Errorf("bars not strictly ascending at %d", i)
		}
	}
	if got[0].Close == nil || *got[0].Close != 470.1 {
		t.Errorf("close = %v, want 470.1", got[0].Close)
	}
	if got[0].Symbol != "SPY" || got[0].Provider != marketdata.ProviderTiingo {
		t.Errorf("key fields not round-tripped: %+v", got[0])
	}
	if got[0].FetchedAt.IsZero() {
		t.Error("fetched_at not stamped")
	}
	if got[0].AdjOpen != nil {
		t.Errorf("expected nil adj_open, got %v", *got[0].AdjOpen)
	}
}

func TestWriteRange_ReplacesOnRewrite(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.WriteRange(ctx, "AAPL", marketdata.FrequencyDaily, marketdata.ProviderTiingo,
		[]marketdata.Bar{bar(date(6, 3), 190.0)}); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteRange(ctx, "AAPL", marketdata.FrequencyDaily, marketdata.ProviderTiingo,
		[]marketdata.Bar{bar(date(6, 3), 195.5)}); err != nil {
		t.Fatal(err)
	}

	got, err := s.ReadRange(ctx, "AAPL", marketdata.FrequencyDaily, marketdata.ProviderTiingo, date(6, 1), date(6, 30))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 bar after rewrite, got %d", len(got))
	}
	if *got[0].Close != 195.5 {
		t.Errorf("close = %v, want 195.5 (replaced)", *got[0].Close)
	}
}

func TestWriteRange_KeyIsolation(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.WriteRange(ctx, "AAPL", marketdata.FrequencyDaily, marketdata.ProviderTiingo,
		[]marketdata.Bar{bar(date(6, 3), 190.0)}); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteRange(ctx, "AAPL", marketdata.FrequencyDaily, marketdata.ProviderBarchart,
		[]marketdata.Bar{bar(date(6, 3), 190.2)}); err != nil {
		t.Fatal(err)
	}

	// Same (symbol, date, freq) under another provider is a separate row.
	tii, _ := s.ReadRange(ctx, "AAPL", marketdata.FrequencyDaily, marketdata.ProviderTiingo, date(6, 1), date(6, 30))
	bch, _ := s.ReadRange(ctx, "AAPL", marketdata.FrequencyDaily, marketdata.ProviderBarchart, date(6, 1), date(6, 30))
	if len(tii) != 1 || len(bch) != 1 {
		t.Fatalf("expected 1 bar per provider, got %d and %d", len(tii), len(bch))
	}
	if *tii[0].Close != 190.0 || *bch[0].Close != 190.2 {
		t.Error("provider rows bled into each other")
	}
}

func TestWriteRange_RejectsNegativePrices(t *testing.T) {
	s := setupTestStore(t)

	b := bar(date(1, 2), 100)
	b.Low = f(-1)
	err := s.WriteRange(context.Background(), "SPY", marketdata.FrequencyDaily, marketdata.ProviderTiingo, []marketdata.Bar{b})
	if marketdata.CodeOf(err) != marketdata.CodeInvalidInput {
		t.Fatalf("got %v, want invalid input", err)
	}

	// Nothing may be written when validation fails.
	got, _ := s.ReadRange(context.Background(), "SPY", marketdata.FrequencyDaily, marketdata.ProviderTiingo, date(1, 1), date(1, 31))
	if len(got) != 0 {
		t.Errorf("expected empty store, got %d bars", len(got))
	}
}

func TestCoveredDates(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.WriteRange(ctx, "SPY", marketdata.FrequencyDaily, marketdata.ProviderTiingo,
		[]marketdata.Bar{bar(date(1, 2), 470), bar(date(1, 5), 472)}); err != nil {
		t.Fatal(err)
	}

	dates, err := s.CoveredDates(ctx, "SPY", marketdata.FrequencyDaily, marketdata.ProviderTiingo, date(1, 1), date(1, 10))
	if err != nil {
		t.Fatalf("covered dates: %v", err)
	}
	if len(dates) != 2 {
		t.Fatalf("expected 2 dates, got %d", len(dates))
	}
	if !dates[date(1, 2)] || !dates[date(1, 5)] {
		t.Errorf("wrong covered set: %v", dates)
	}
	if dates[date(1, 3)] {
		t.Error("2024-01-03 should not be covered")
	}
}

func TestClear(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	seed := func(symbol string, p marketdata.Provider) {
		t.Helper()
		if err := s.WriteRange(ctx, symbol, marketdata.FrequencyDaily, p, []marketdata.Bar{bar(date(1, 2), 100)}); err != nil {
			t.Fatal(err)
		}
	}
	seed("SPY", marketdata.ProviderTiingo)
	seed("SPY", marketdata.ProviderBarchart)
	seed("AAPL", marketdata.ProviderTiingo)

	n, err := s.Clear(ctx, "SPY", marketdata.ProviderTiingo)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d rows, want 1", n)
	}

	n, err = s.Clear(ctx, "", "")
	if err != nil {
		t.Fatalf("clear all: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted %d rows, want 2", n)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.TotalBars != 0 {
		t.Errorf("expected empty store, stats report %d bars", st.TotalBars)
	}
}

func TestStats(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.WriteRange(ctx, "SPY", marketdata.FrequencyDaily, marketdata.ProviderTiingo,
		[]marketdata.Bar{bar(date(1, 2), 470), bar(date(3, 1), 480)}); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteRange(ctx, "AAPL", marketdata.FrequencyDaily, marketdata.ProviderTiingo,
		[]marketdata.Bar{bar(date(2, 1), 185)}); err != nil {
		t.Fatal(err)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.TotalBars != 3 || st.UniqueSymbols != 2 {
		t.Errorf("stats = %+v, want 3 bars over 2 symbols", st)
	}
	if !st.OldestDate.Equal(date(1, 2)) || !st.NewestDate.Equal(date(3, 1)) {
		t.Errorf("date bounds = %v..%v", st.OldestDate, st.NewestDate)
	}
}

func TestOpen_CreatesFileAndDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "prices.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = s.Close() }()

	if _, err := os.Stat(path); err != nil {
		t.Errorf("store file not created: %v", err)
	}
}

func TestOpen_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices.db")
	if err := os.WriteFile(path, []byte("this is not a sqlite database at all"), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := Open(path)
	if marketdata.CodeOf(err) != marketdata.CodeStoreCorruption {
		t.Fatalf("got %v, want store corruption", err)
	}
	var me *marketdata.Error
	if !errors.As(err, &me) || me.Path != path {
		t.Errorf("corruption error should carry the file path, got %+v", err)
	}
}
