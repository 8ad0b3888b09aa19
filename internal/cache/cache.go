package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrStale is returned alongside a previous value when a refresh failed.
var ErrStale = errors.New("serving stale value")

// FetchFunc produces a fresh value for a key.
type FetchFunc[V any] func(ctx context.Context) (V, error)

// Stats is a point-in-time view of cache counters.
type Stats struct {
	Entries     int     `json:"entries"`
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	Fetches     int64   `json:"fetches"`
	FetchErrors int64   `json:"fetch_errors"`
	StaleServes int64   `json:"stale_serves"`
	HitRate     float64 `json:"hit_rate"`
}

type entry[V any] struct {
	value    V
	storedAt time.Time
}

// Cache is a string-keyed TTL cache safe for concurrent use.
type Cache[V any] struct {
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]entry[V]
	stats   Stats
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// New creates a cache whose entries stay fresh for ttl.
func New[V any](ttl time.Duration, opts ...Option) *Cache[V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[V]{
		ttl:     ttl,
		now:     o.now,
		entries: make(map[string]entry[V]),
	}
}

// TTL returns the freshness window.
func (c *Cache[V]) TTL() time.Duration {
	return c.ttl
}

// Get returns the value for key if it is still fresh.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if ok && c.fresh(e) {
		c.stats.Hits++
		return e.value, true
	}
	c.stats.Misses++
	var zero V
	return zero, false
}

// Peek returns the stored value regardless of age, and when it was stored.
// It does not touch hit/miss counters.
func (c *Cache[V]) Peek(key string) (V, time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	return e.value, e.storedAt, ok
}

// Set stores v under key, replacing any previous value.
func (c *Cache[V]) Set(key string, v V) {
	c.mu.Lock()
	c.entries[key] = entry[V]{value: v, storedAt: c.now()}
	c.mu.Unlock()
}

// Delete removes key.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Purge removes every entry. Counters are kept.
func (c *Cache[V]) Purge() {
	c.mu.Lock()
	c.entries = make(map[string]entry[V])
	c.mu.Unlock()
}

// GetOrFetch returns the fresh value for key, or calls fetch to refresh it.
// Concurrent callers for the same key share one fetch. If fetch fails and a
// previous value exists, that value is returned with an error wrapping
// ErrStale; otherwise the zero value and the fetch error are returned.
//
// The shared fetch runs detached from any one caller's cancellation, so a
// caller that gives up only stops its own wait; fetch must bound itself.
func (c *Cache[V]) GetOrFetch(ctx context.Context, key string, fetch FetchFunc[V]) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		// Another caller may have refreshed while we waited on the group.
		c.mu.RLock()
		e, ok := c.entries[key]
		c.mu.RUnlock()
		if ok && c.fresh(e) {
			return e.value, nil
		}

		c.mu.Lock()
		c.stats.Fetches++
		c.mu.Unlock()

		v, err := fetch(fetchCtx)
		if err != nil {
			return nil, err
		}
		c.Set(key, v)
		return v, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
	if res.Err == nil {
		return res.Val.(V), nil
	}
	err := res.Err

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.FetchErrors++

	if e, ok := c.entries[key]; ok {
		c.stats.StaleServes++
		return e.value, fmt.Errorf("%w: %w", ErrStale, err)
	}
	var zero V
	return zero, err
}

// Stats returns current counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := c.stats
	s.Entries = len(c.entries)
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

func (c *Cache[V]) fresh(e entry[V]) bool {
	return c.now().Sub(e.storedAt) < c.ttl
}
