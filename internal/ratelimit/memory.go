package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMemoryKeys bounds the number of live counters a MemoryStore keeps.
const DefaultMemoryKeys = 100_000

// ErrStoreFull is returned when every tracked counter still has an open window.
var ErrStoreFull = errors.New("ratelimit: memory store is full")

type window struct {
	count  int64
	start  time.Time
	length time.Duration
}

func (w *window) expired(now time.Time) bool {
	return now.Sub(w.start) >= w.length
}

// MemoryStore keeps counters in process memory. Suitable for a single instance only.
// A counter is never dropped while its window is open: when the store is full,
// expired counters are swept and a new key is refused if none were.
type MemoryStore struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *window]
	size  int
	now   func() time.Time
}

// MemoryOption configures MemoryStore.
type MemoryOption func(*memoryConfig)

type memoryConfig struct {
	size int
	now  func() time.Time
}

// WithMaxKeys sets the LRU capacity.
func WithMaxKeys(n int) MemoryOption {
	return func(c *memoryConfig) {
		if n > 0 {
			c.size = n
		}
	}
}

// WithMemoryClock overrides the time source.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(c *memoryConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore(opts ...MemoryOption) (*MemoryStore, error) {
	cfg := memoryConfig{size: DefaultMemoryKeys, now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	cache, err := lru.New[string, *window](cfg.size)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{cache: cache, size: cfg.size, now: cfg.now}, nil
}

var _ CounterStore = (*MemoryStore)(nil)

// Increment implements CounterStore.
func (s *MemoryStore) Increment(_ context.Context, key string, length time.Duration) (int64, time.Time, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.cache.Get(key)
	switch {
	case ok && w.expired(now):
		w.start, w.length, w.count = now, length, 0
	case !ok:
		if s.cache.Len() >= s.size && s.sweep(now) == 0 {
			return 0, time.Time{}, ErrStoreFull
		}
		w = &window{start: now, length: length}
		s.cache.Add(key, w)
	}
	w.count++
	return w.count, w.start.Add(w.length), nil
}

// Reset implements CounterStore.
func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Remove(key)
	return nil
}

// Len reports the number of tracked counters.
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}

// Sweep drops every counter whose window has elapsed and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweep(now)
}

func (s *MemoryStore) sweep(now time.Time) int {
	removed := 0
	for _, key := range s.cache.Keys() {
		w, ok := s.cache.Peek(key)
		if ok && w.expired(now) {
			s.cache.Remove(key)
			removed++
		}
	}
	return removed
}

// StartJanitor sweeps expired counters every interval until ctx is done.
func (s *MemoryStore) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	go func() {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Sweep()
			}
		}
	}()
}
