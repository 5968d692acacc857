// Package ratelimit implements fixed-window request limiting over a pluggable
// counter store. Every call counts, including the ones that are denied.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"aidpanel.org/internal/obs"
)

var (
	ErrInvalidProfile = errors.New("ratelimit: invalid profile")
	ErrStore          = errors.New("ratelimit: counter store failure")
)

// UnknownKey is the shared bucket for callers whose address cannot be determined.
const UnknownKey = "unknown"

// CounterStore holds fixed-window counters. Increment must be atomic per key:
// it starts a new window of length window when none is active, adds one and
// returns the count within the active window and the moment that window ends.
type CounterStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int64, resetAt time.Time, err error)
	Reset(ctx context.Context, key string) error
}

// Result is a single limiter decision.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns the wait in whole seconds, never less than one.
func (r Result) RetryAfter(now time.Time) int {
	secs := int(math.Ceil(r.ResetAt.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// Limiter applies profiles to keys using a CounterStore.
type Limiter struct {
	store CounterStore
	now   func() time.Time
}

// Option configures Limiter.
type Option func(*Limiter)

// WithClock overrides the time source used for failure results.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// New returns a Limiter backed by store.
func New(store CounterStore, opts ...Option) *Limiter {
	l := &Limiter{store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow counts one request for key under profile p and reports whether it may proceed.
// On error the result is a denial; callers must not treat an error as permission.
func (l *Limiter) Allow(ctx context.Context, key string, p Profile) (Result, error) {
	failed := Result{Limit: p.Max, ResetAt: l.now().Add(time.Second)}
	if err := p.validate(); err != nil {
		return failed, err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = UnknownKey
	}

	count, resetAt, err := l.store.Increment(ctx, StoreKey(p.Name, key), p.Window)
	if err != nil {
		obs.ObserveRateLimit(p.Name, false)
		return failed, fmt.Errorf("%w: %w", ErrStore, err)
	}

	res := Result{
		Allowed:   count <= int64(p.Max),
		Limit:     p.Max,
		Remaining: max(0, p.Max-int(count)),
		ResetAt:   resetAt,
	}
	obs.ObserveRateLimit(p.Name, res.Allowed)
	return res, nil
}

// Reset clears the counter of key under profile p.
func (l *Limiter) Reset(ctx context.Context, key string, p Profile) error {
	return l.store.Reset(ctx, StoreKey(p.Name, key))
}

// StoreKey builds the counter key for a profile and caller key.
func StoreKey(profile, key string) string {
	return profile + ":" + key
}
