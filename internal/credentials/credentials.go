// Package credentials reads the credential files maintained under the
// config directory. The files are owned by external collaborators (the
// user for credentials.json, the cookie-capture tool for
// barchart_cookies.json) and are consumed read-only here. Each load is a
// single os.ReadFile so an atomic write-to-temp-plus-rename by the
// producer is never observed half-written.
package credentials

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	CredentialsFile = "credentials.json"
	CookiesFile     = "barchart_cookies.json"
)

// Credentials is the content of credentials.json. All fields are
// optional; presence is only checked by the provider that needs one.
type Credentials struct {
	TiingoAPIKey        string `json:"tiingo_api_key"`
	BarchartUsername    string `json:"barchart_username"`
	BarchartPasswordEnv string `json:"barchart_password_env"`
}

// CookieSession is the browser-session bundle produced by the external
// cookie-capture tool.
type CookieSession struct {
	CookieString string    `json:"cookie_string"`
	XSRFToken    string    `json:"xsrf_token"`
	UserAgent    string    `json:"user_agent"`
	CapturedAt   time.Time `json:"captured_at"`
}

// Age reports how long ago the session was captured.
func (s CookieSession) Age(now time.Time) time.Duration {
	return now.Sub(s.CapturedAt)
}

// Load reads credentials.json from dir. A missing file yields zero
// Credentials and no error; providers report the specific missing field
// themselves.
func Load(dir string) (Credentials, error) {
	var c Credentials
	path := filepath.Join(dir, CredentialsFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return c, fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("parse %s: %w", path, err)
	}
	return c, nil
}

// LoadCookies reads barchart_cookies.json from dir. A missing file is
// reported via the wrapped os.ErrNotExist.
func LoadCookies(dir string) (CookieSession, error) {
	var s CookieSession
	path := filepath.Join(dir, CookiesFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse %s: %w", path, err)
	}
	return s, nil
}

// Path returns the full path of name under dir, for error messages.
func Path(dir, name string) string {
	return filepath.Join(dir, name)
}
