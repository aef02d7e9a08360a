// Package ratelimit implements the per-provider gate in front of generation
// calls: a sliding window of recent request timestamps plus an optional
// minimum inter-request delay. Every concurrent executor for a provider goes
// through the same limiter instance, so the check-and-record sequence runs
// under one mutex to close the check-then-act race.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// maxPollInterval caps how long Acquire sleeps between capacity checks.
const maxPollInterval = time.Second

// defaultPollInterval is the Acquire polling cadence when the provider has no
// minimum delay configured.
const defaultPollInterval = 100 * time.Millisecond

// ErrAcquireTimeout is returned when Acquire's deadline passes before the
// provider has capacity. Its message classifies as a rate-limit failure.
var ErrAcquireTimeout = errors.New("rate limiter acquire timed out")

// Limit configures one provider's gate.
type Limit struct {
	// MaxRequests allowed inside the trailing Window.
	MaxRequests int

	// Window is the trailing interval that request timestamps count against.
	Window time.Duration

	// MinDelay is the minimum spacing between consecutive requests.
	// Zero disables the spacing check.
	MinDelay time.Duration
}

// DefaultLimits returns the starting per-provider limits. Config overrides
// them and SetLimit adjusts them at runtime.
func DefaultLimits() map[string]Limit {
	return map[string]Limit{
		"gemini":     {MaxRequests: 10, Window: time.Minute, MinDelay: 100 * time.Millisecond},
		"dashscope":  {MaxRequests: 5, Window: time.Minute, MinDelay: 200 * time.Millisecond},
		"modelscope": {MaxRequests: 15, Window: time.Minute, MinDelay: 100 * time.Millisecond},
	}
}

// providerState tracks one provider's recent requests. timestamps stays
// ordered; purge drops entries that left the window.
type providerState struct {
	timestamps []time.Time
	last       time.Time
}

// Limiter is the per-provider sliding-window gate. The zero value is not
// usable; construct with NewLimiter.
type Limiter struct {
	mu       sync.Mutex
	limits   map[string]Limit
	fallback Limit
	state    map[string]*providerState

	// now is replaceable in tests.
	now func() time.Time
}

// NewLimiter creates a limiter with the given per-provider limits. Providers
// without an entry fall back to a conservative default.
func NewLimiter(limits map[string]Limit) *Limiter {
	l := &Limiter{
		limits:   make(map[string]Limit, len(limits)),
		fallback: Limit{MaxRequests: 10, Window: time.Minute, MinDelay: 100 * time.Millisecond},
		state:    make(map[string]*providerState),
		now:      time.Now,
	}
	for provider, limit := range limits {
		l.limits[provider] = limit
	}
	return l
}

// SetLimit replaces the limit for a provider at runtime. Recorded timestamps
// are kept; the new limit applies from the next check.
func (l *Limiter) SetLimit(provider string, limit Limit) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limits[provider] = limit
}

// LimitFor returns the effective limit for a provider.
func (l *Limiter) LimitFor(provider string) Limit {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limitLocked(provider)
}

// CanRequest reports whether a request for the provider would be admitted
// right now. It is a read-only probe: nothing is recorded.
func (l *Limiter) CanRequest(provider string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.canProceedLocked(provider, l.now())
}

// TryAcquire admits and records a request if the provider has capacity.
// Check and record happen in one critical section.
func (l *Limiter) TryAcquire(provider string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if !l.canProceedLocked(provider, now) {
		return false
	}

	st := l.stateLocked(provider)
	st.timestamps = append(st.timestamps, now)
	st.last = now
	return true
}

// Acquire blocks until the provider has capacity or the timeout elapses,
// polling at a capped interval. The request is recorded the moment capacity
// is observed. Returns ErrAcquireTimeout when the deadline passes first and
// the context error if ctx is cancelled while waiting.
func (l *Limiter) Acquire(ctx context.Context, provider string, timeout time.Duration) error {
	deadline := l.now().Add(timeout)

	for {
		if l.TryAcquire(provider) {
			return nil
		}

		remaining := deadline.Sub(l.now())
		if remaining <= 0 {
			return fmt.Errorf("%w: provider %q after %s", ErrAcquireTimeout, provider, timeout)
		}

		wait := l.pollInterval(provider)
		if wait > remaining {
			wait = remaining
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// pollInterval derives the Acquire polling cadence: the provider's minimum
// delay when one is configured, the default otherwise, never above the cap.
func (l *Limiter) pollInterval(provider string) time.Duration {
	limit := l.LimitFor(provider)

	interval := limit.MinDelay
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if interval > maxPollInterval {
		interval = maxPollInterval
	}
	return interval
}

func (l *Limiter) limitLocked(provider string) Limit {
	if limit, ok := l.limits[provider]; ok {
		return limit
	}
	return l.fallback
}

func (l *Limiter) stateLocked(provider string) *providerState {
	st, ok := l.state[provider]
	if !ok {
		st = &providerState{}
		l.state[provider] = st
	}
	return st
}

// canProceedLocked purges expired timestamps and applies both admission
// rules. Callers hold l.mu.
func (l *Limiter) canProceedLocked(provider string, now time.Time) bool {
	limit := l.limitLocked(provider)
	st := l.stateLocked(provider)

	cutoff := now.Add(-limit.Window)
	kept := st.timestamps[:0]
	for _, ts := range st.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	st.timestamps = kept

	if len(st.timestamps) >= limit.MaxRequests {
		return false
	}

	if limit.MinDelay > 0 && !st.last.IsZero() && now.Sub(st.last) < limit.MinDelay {
		return false
	}

	return true
}
