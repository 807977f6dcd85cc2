// Package httpx is a small HTTP client wrapper shared by the provider
// adapters. It retries transient upstream statuses with bounded
// exponential backoff and hands everything else back to the caller for
// provider-specific mapping. It never logs URLs, headers or bodies:
// request URLs and auth headers may carry credentials, and redaction is
// the caller's concern only for what the caller chooses to surface.
package httpx

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const maxBodyBytes = 4 << 20

// Transient statuses are retried; all other statuses are returned to the
// caller after the first attempt.
func transient(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Snippet renders at most the first 200 bytes of an upstream body on a
// single line, for inclusion in error messages.
func Snippet(body []byte) string {
	const max = 200
	s := string(body)
	if len(s) > max {
		s = s[:max] + "..."
	}
	return strings.Join(strings.Fields(s), " ")
}

// Response is a fully-read upstream response.
type Response struct {
	Status int
	Body   []byte
}

// Client issues GET requests with retry. The zero value is not usable;
// construct with New.
type Client struct {
	http      *http.Client
	userAgent string
	attempts  int
	base      time.Duration
	cap       time.Duration
}

// New builds a client with a pooled transport. attempts is the total
// number of tries per request; base and cap shape the backoff between
// them.
func New(timeout time.Duration, attempts int, base, cap time.Duration) *Client {
	if attempts < 1 {
		attempts = 1
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	return &Client{
		http:      &http.Client{Timeout: timeout, Transport: transport},
		userAgent: "market-data/1.0",
		attempts:  attempts,
		base:      base,
		cap:       cap,
	}
}

// Get fetches url with the given headers. Transient statuses
// (429/500/502/503/504) and transport errors are retried up to the
// configured attempts; the last response is returned either way so the
// caller can map the final status. A non-nil error means no usable
// response was obtained (exhausted transport failures or cancellation).
func (c *Client) Get(ctx context.Context, url string, header http.Header) (*Response, error) {
	var last *Response

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		if req.Header.Get("User-Agent") == "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		res, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer func() { _ = res.Body.Close() }()

		body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
		if err != nil {
			return err
		}

		last = &Response{Status: res.StatusCode, Body: body}
		if transient(res.StatusCode) {
			return fmt.Errorf("transient HTTP %d", res.StatusCode)
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.base
	bo.MaxInterval = c.cap
	bo.MaxElapsedTime = 0

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.attempts-1)), ctx))
	if err != nil {
		if last != nil {
			// Retries exhausted on a transient status; the caller maps it.
			return last, nil
		}
		return nil, err
	}
	return last, nil
}
