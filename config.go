package marketdata

import (
	"os"
	"path/filepath"
	"time"
)

// Config is the closed set of options recognized by the module. Build it
// once at initialization; the zero value is not usable, start from
// DefaultConfig.
type Config struct {
	// DBPath is the SQLite store file.
	DBPath string
	// ConfigDir holds credentials.json and barchart_cookies.json.
	ConfigDir string
	// HTTPTimeout bounds every upstream request, including redirects.
	HTTPTimeout time.Duration
	// RetryAttempts is the total number of tries per upstream request.
	RetryAttempts int
	// RetryBackoffBase and RetryBackoffCap shape the exponential backoff
	// between retries of transient upstream failures.
	RetryBackoffBase time.Duration
	RetryBackoffCap  time.Duration
	// TiingoWarnAfterCalls emits a quota warning once the process has
	// issued this many Tiingo calls. Zero disables the warning.
	TiingoWarnAfterCalls int
}

func DefaultConfig() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	dir := filepath.Join(home, ".config", "market-data")
	return Config{
		DBPath:               filepath.Join(dir, "prices.db"),
		ConfigDir:            dir,
		HTTPTimeout:          30 * time.Second,
		RetryAttempts:        3,
		RetryBackoffBase:     time.Second,
		RetryBackoffCap:      10 * time.Second,
		TiingoWarnAfterCalls: 450,
	}
}
