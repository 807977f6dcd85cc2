package marketdata

import (
	"errors"
	"fmt"
)

// Code classifies an error for callers that switch on failure kind.
type Code string

const (
	CodeInvalidInput      Code = "INVALID_INPUT"
	CodeCredentialMissing Code = "CREDENTIAL_MISSING"
	CodeCredentialStale   Code = "CREDENTIAL_STALE"
	CodeProviderFailure   Code = "PROVIDER_FAILURE"
	CodeParseFailure      Code = "PARSE_FAILURE"
	CodeStoreCorruption   Code = "STORE_CORRUPTION"
)

// Error is the single error type produced by this module. Besides the
// code and message it carries the structured fields callers need for
// remediation. Response bodies embedded in messages are pre-redacted by
// the layer that produced them; credential values never appear here.
type Error struct {
	Code     Code
	Provider Provider // set for provider and credential errors
	Status   int      // HTTP status, when an upstream was involved
	Path     string   // file path, for credential and store errors
	message  string
	err      error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.message, e.err)
	}
	return e.message
}

func (e *Error) Unwrap() error { return e.err }

// CodeOf extracts the Code from err, or "" when err is not a module error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// InvalidInput reports malformed caller input. Never retried.
func InvalidInput(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidInput, message: fmt.Sprintf(format, args...)}
}

// CredentialMissing reports an absent credential, naming the field and
// the file it was expected in.
func CredentialMissing(p Provider, field, path string) *Error {
	return &Error{
		Code:     CodeCredentialMissing,
		Provider: p,
		Path:     path,
		message:  fmt.Sprintf("%s: missing credential %q (expected in %s)", p, field, path),
	}
}

// CredentialStale reports upstream rejection of a cached session
// (HTTP 401/403). Under AUTO selection the engine recovers by falling
// back; under explicit selection it surfaces with remediation.
func CredentialStale(p Provider, status int) *Error {
	return &Error{
		Code:     CodeCredentialStale,
		Provider: p,
		Status:   status,
		message:  fmt.Sprintf("%s: session rejected with HTTP %d; re-run cookie capture", p, status),
	}
}

// ProviderFailure reports a non-transient upstream error after retries
// were exhausted. body must already be redacted and truncated.
func ProviderFailure(p Provider, status int, body string) *Error {
	return &Error{
		Code:     CodeProviderFailure,
		Provider: p,
		Status:   status,
		message:  fmt.Sprintf("%s: upstream returned HTTP %d: %s", p, status, body),
	}
}

// ParseFailure reports an upstream response that could not be decoded.
func ParseFailure(p Provider, err error) *Error {
	return &Error{
		Code:     CodeParseFailure,
		Provider: p,
		message:  fmt.Sprintf("%s: unexpected response shape", p),
		err:      err,
	}
}

// StoreCorruption reports a store file that failed integrity checks.
func StoreCorruption(path string, err error) *Error {
	return &Error{
		Code:    CodeStoreCorruption,
		Path:    path,
		message: fmt.Sprintf("store %s failed integrity check; delete the file to recover", path),
		err:     err,
	}
}
