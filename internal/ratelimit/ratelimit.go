// Package ratelimit provides the per-provider pacers that space upstream
// calls. State is process-lifetime and never persisted; one pacer
// instance is shared by every request that uses the same provider.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// sleep waits for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SymbolPacer paces calls where successive requests for the same symbol
// are free but switching symbols costs a delay, with a longer pause
// inserted after every block of distinct symbols. This is the Barchart
// pattern: the adjusted/unadjusted pair for one symbol runs back to
// back, a new symbol waits 2s, and every 10 distinct symbols the next
// one waits an extra 30s.
type SymbolPacer struct {
	delay     time.Duration
	longEvery int
	longPause time.Duration

	mu          sync.Mutex
	lastSymbol  string
	distinct    int
	nextAllowed time.Time
}

func NewSymbolPacer(delay time.Duration, longEvery int, longPause time.Duration) *SymbolPacer {
	return &SymbolPacer{delay: delay, longEvery: longEvery, longPause: longPause}
}

// Wait blocks for the pacing owed before a call for symbol. A call for
// the same symbol as the previous one returns immediately and does not
// advance the distinct-symbol counter.
//
// Each caller reserves its release slot while holding the lock, so
// concurrent callers are spaced end to end rather than sleeping their
// delays in parallel. A cancelled caller keeps its reservation; the
// budget stays conservative.
func (p *SymbolPacer) Wait(ctx context.Context, symbol string) error {
	p.mu.Lock()
	if symbol == p.lastSymbol && p.distinct > 0 {
		p.mu.Unlock()
		return nil
	}
	p.lastSymbol = symbol
	p.distinct++

	slot := time.Now()
	if p.nextAllowed.After(slot) {
		slot = p.nextAllowed
	}
	slot = slot.Add(p.gapBefore(p.distinct))
	p.nextAllowed = slot
	p.mu.Unlock()

	return sleep(ctx, time.Until(slot))
}

// gapBefore returns the pacing owed before the nth distinct symbol.
// The first symbol is free; for n > 1 the inter-symbol delay applies,
// plus the long pause before every (longEvery+1)th, (2*longEvery+1)th, …
// distinct symbol.
func (p *SymbolPacer) gapBefore(n int) time.Duration {
	if n <= 1 {
		return 0
	}
	d := p.delay
	if p.longEvery > 0 && (n-1)%p.longEvery == 0 {
		d += p.longPause
	}
	return d
}

// CallPacer enforces a minimum spacing between consecutive calls and
// warns once when the process-lifetime call count reaches a quota
// threshold. This is the Tiingo pattern: a flat per-call budget with a
// documented daily quota.
type CallPacer struct {
	minGap    time.Duration
	warnAfter int

	mu     sync.Mutex
	next   time.Time
	calls  int
	warned bool
}

// NewCallPacer creates a pacer with the given minimum inter-call gap.
// warnAfter of zero disables the quota warning.
func NewCallPacer(minGap time.Duration, warnAfter int) *CallPacer {
	return &CallPacer{minGap: minGap, warnAfter: warnAfter}
}

// Wait blocks until at least the minimum gap has elapsed since the
// previous call, then records the call. Like SymbolPacer.Wait, each
// caller reserves its release slot under the lock so concurrent
// callers queue rather than share one gap.
func (p *CallPacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	slot := time.Now()
	if p.next.After(slot) {
		slot = p.next
	}
	p.next = slot.Add(p.minGap)
	p.calls++
	warn := p.warnAfter > 0 && p.calls >= p.warnAfter && !p.warned
	if warn {
		p.warned = true
	}
	calls := p.calls
	p.mu.Unlock()

	if warn {
		slog.Warn("approaching provider daily quota", "calls", calls, "threshold", p.warnAfter)
	}
	return sleep(ctx, time.Until(slot))
}

// Calls reports the process-lifetime call count.
func (p *CallPacer) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}
