// Package store persists price bars in a single-file SQLite database.
// One row per (symbol, date, frequency, provider); writes replace in
// full and happen inside one transaction per WriteRange call, so readers
// never observe a partially-written sub-interval. Concurrent writers in
// the same process are serialized by SQLite; cross-process writers are
// out of scope.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite" // register sqlite driver

	"marketdata"
)

//go:embed migrations/001_initial.sql
var migration string

const (
	dateFormat = "2006-01-02"
	timeFormat = time.RFC3339Nano
	batchSize  = 500
)

var barColumns = []string{
	"symbol", "date", "frequency", "provider",
	"open", "high", "low", "close", "volume",
	"adj_open", "adj_high", "adj_low", "adj_close", "adj_volume",
	"fetched_at",
}

// Store is the SQLite-backed bar store.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates the database file and schema if absent and verifies the
// integrity of an existing file. A file that fails the integrity check
// is reported as store corruption with a recovery hint.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// In-memory databases are per-connection; multiple connections each
	// get a separate empty database. Limit to one connection so the
	// migration and queries all see the same data.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			if isCorrupt(err) {
				return nil, marketdata.StoreCorruption(path, err)
			}
			return nil, fmt.Errorf("exec %s: %w", pragma, err)
		}
	}

	var check string
	if err := db.QueryRow("PRAGMA quick_check").Scan(&check); err != nil || check != "ok" {
		_ = db.Close()
		if err == nil {
			err = fmt.Errorf("quick_check: %s", check)
		}
		return nil, marketdata.StoreCorruption(path, err)
	}

	if _, err := db.Exec(migration); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

func (s *Store) Close() error { return s.db.Close() }

var builder = sq.StatementBuilder.PlaceholderFormat(sq.Question)

func (s *Store) keyed(pred sq.Eq, symbol string, freq marketdata.Frequency, provider marketdata.Provider) sq.Eq {
	pred["symbol"] = symbol
	pred["frequency"] = string(freq)
	pred["provider"] = string(provider)
	return pred
}

// ReadRange returns bars for the key with date in [start, end],
// ascending by date.
func (s *Store) ReadRange(ctx context.Context, symbol string, freq marketdata.Frequency, provider marketdata.Provider, start, end time.Time) ([]marketdata.Bar, error) {
	query, args, err := builder.
		Select(barColumns...).
		From("bars").
		Where(s.keyed(sq.Eq{}, symbol, freq, provider)).
		Where(sq.GtOrEq{"date": start.Format(dateFormat)}).
		Where(sq.LtOrEq{"date": end.Format(dateFormat)}).
		OrderBy("date ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build read query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.opErr("read bars", err)
	}
	defer func() { _ = rows.Close() }()

	var bars []marketdata.Bar
	for rows.Next() {
		b, err := scanBar(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// CoveredDates returns the dates in [start, end] already held for the
// key, keyed by UTC midnight. The engine uses it for gap detection
// before fetching.
func (s *Store) CoveredDates(ctx context.Context, symbol string, freq marketdata.Frequency, provider marketdata.Provider, start, end time.Time) (map[time.Time]bool, error) {
	query, args, err := builder.
		Select("date").
		From("bars").
		Where(s.keyed(sq.Eq{}, symbol, freq, provider)).
		Where(sq.GtOrEq{"date": start.Format(dateFormat)}).
		Where(sq.LtOrEq{"date": end.Format(dateFormat)}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build dates query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.opErr("covered dates", err)
	}
	defer func() { _ = rows.Close() }()

	dates := make(map[time.Time]bool)
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan date: %w", err)
		}
		t, err := time.ParseInLocation(dateFormat, d, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("parse date %q: %w", d, err)
		}
		dates[t] = true
	}
	return dates, rows.Err()
}

// WriteRange inserts-or-replaces the bars for one key in a single
// transaction and stamps fetched_at. Prices and volumes must be
// non-negative. A busy database is retried once; any other failure
// rolls the whole write back.
func (s *Store) WriteRange(ctx context.Context, symbol string, freq marketdata.Frequency, provider marketdata.Provider, bars []marketdata.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	for _, b := range bars {
		for _, v := range []*float64{b.Open, b.High, b.Low, b.Close, b.Volume, b.AdjOpen, b.AdjHigh, b.AdjLow, b.AdjClose, b.AdjVolume} {
			if v != nil && *v < 0 {
				return marketdata.InvalidInput("negative price or volume for %s on %s", symbol, b.Date.Format(dateFormat))
			}
		}
	}

	fetchedAt := time.Now().UTC()
	err := s.writeTx(ctx, symbol, freq, provider, bars, fetchedAt)
	if err != nil && isBusy(err) {
		err = s.writeTx(ctx, symbol, freq, provider, bars, fetchedAt)
	}
	if err != nil {
		return s.opErr("write bars", err)
	}
	return nil
}

func (s *Store) writeTx(ctx context.Context, symbol string, freq marketdata.Frequency, provider marketdata.Provider, bars []marketdata.Bar, fetchedAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i := 0; i < len(bars); i += batchSize {
		chunk := bars[i:min(i+batchSize, len(bars))]

		ins := builder.
			Insert("bars").
			Options("OR REPLACE").
			Columns(barColumns...)
		for _, b := range chunk {
			ins = ins.Values(
				symbol,
				b.Date.Format(dateFormat),
				string(freq),
				string(provider),
				nullable(b.Open), nullable(b.High), nullable(b.Low), nullable(b.Close), nullable(b.Volume),
				nullable(b.AdjOpen), nullable(b.AdjHigh), nullable(b.AdjLow), nullable(b.AdjClose), nullable(b.AdjVolume),
				fetchedAt.Format(timeFormat),
			)
		}

		query, args, err := ins.ToSql()
		if err != nil {
			return fmt.Errorf("build insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert bars: %w", err)
		}
	}

	return tx.Commit()
}

// Clear deletes rows matching the optional filters. Empty symbol or
// provider means no filter on that column. Returns rows deleted.
func (s *Store) Clear(ctx context.Context, symbol string, provider marketdata.Provider) (int64, error) {
	del := builder.Delete("bars")
	if symbol != "" {
		del = del.Where(sq.Eq{"symbol": strings.ToUpper(symbol)})
	}
	if provider != "" {
		del = del.Where(sq.Eq{"provider": string(provider)})
	}

	query, args, err := del.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, s.opErr("clear bars", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Stats summarizes the store content.
type Stats struct {
	TotalBars     int64
	UniqueSymbols int64
	OldestDate    time.Time
	NewestDate    time.Time
	FileSizeBytes int64
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	var oldest, newest sql.NullString

	const query = `SELECT COUNT(*), COUNT(DISTINCT symbol), MIN(date), MAX(date) FROM bars`
	if err := s.db.QueryRowContext(ctx, query).Scan(&st.TotalBars, &st.UniqueSymbols, &oldest, &newest); err != nil {
		return st, s.opErr("stats", err)
	}
	if oldest.Valid {
		st.OldestDate, _ = time.ParseInLocation(dateFormat, oldest.String, time.UTC)
	}
	if newest.Valid {
		st.NewestDate, _ = time.ParseInLocation(dateFormat, newest.String, time.UTC)
	}
	if s.path != ":memory:" {
		if fi, err := os.Stat(s.path); err == nil {
			st.FileSizeBytes = fi.Size()
		}
	}
	return st, nil
}

// opErr maps low-level failures to the module taxonomy: a damaged file
// surfaces as store corruption, everything else is wrapped as-is.
func (s *Store) opErr(op string, err error) error {
	if isCorrupt(err) {
		return marketdata.StoreCorruption(s.path, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isCorrupt(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "malformed") || strings.Contains(msg, "not a database")
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

func nullable(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBar(row scanner) (marketdata.Bar, error) {
	var (
		b                  marketdata.Bar
		dateStr, fetchedAt string
		freq, provider     string
		fields             [10]sql.NullFloat64
	)
	if err := row.Scan(
		&b.Symbol, &dateStr, &freq, &provider,
		&fields[0], &fields[1], &fields[2], &fields[3], &fields[4],
		&fields[5], &fields[6], &fields[7], &fields[8], &fields[9],
		&fetchedAt,
	); err != nil {
		return b, err
	}

	b.Frequency = marketdata.Frequency(freq)
	b.Provider = marketdata.Provider(provider)

	var err error
	if b.Date, err = time.ParseInLocation(dateFormat, dateStr, time.UTC); err != nil {
		return b, fmt.Errorf("parse date %q: %w", dateStr, err)
	}
	if b.FetchedAt, err = time.Parse(timeFormat, fetchedAt); err != nil {
		return b, fmt.Errorf("parse fetched_at %q: %w", fetchedAt, err)
	}

	dst := []**float64{&b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.AdjOpen, &b.AdjHigh, &b.AdjLow, &b.AdjClose, &b.AdjVolume}
	for i, f := range fields {
		if f.Valid {
			v := f.Float64
			*dst[i] = &v
		}
	}
	return b, nil
}
