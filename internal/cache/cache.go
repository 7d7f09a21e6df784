// Package cache implements the keyed query cache behind every server
// read: parameterized struct keys, de-duplication of concurrent
// identical requests, stale-while-revalidate freshness, and
// subscriber-driven retention.
//
// Keys are plain comparable structs. Two lookups with equal keys share
// one entry and at most one in-flight fetch; lookups with different
// keys can never write into each other's slot because a completion only
// ever writes to the entry it was started for, and only while that
// entry is still the live one (generation guard).
package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/school-hub/gradebook/pkg/metrics"
	"github.com/school-hub/gradebook/pkg/retry"
)

var (
	// ErrDisabled is returned by a lookup made with Enabled(false):
	// nothing was fetched and no entry was created.
	ErrDisabled = errors.New("cache: lookup disabled")

	// ErrInvalidated is returned to a waiter whose entry was removed
	// (invalidated or cleared) while its fetch was in flight.
	ErrInvalidated = errors.New("cache: entry invalidated while fetching")
)

// Default windows. Entries younger than FreshFor are served without a
// network call; entries with zero subscribers are dropped after RetainFor.
const (
	DefaultFreshFor  = 5 * time.Minute
	DefaultRetainFor = 10 * time.Minute
)

// FetchFunc loads the value for one key from the server.
type FetchFunc[K comparable, V any] func(ctx context.Context, key K) (V, error)

// Result is the read surface handed to the presentation layer.
type Result[V any] struct {
	Data      V
	Err       error
	Loading   bool
	UpdatedAt time.Time
}

// Cache is a keyed read cache for one resource (grades, stats, ...).
// All entry state is guarded by one mutex; fetches run in goroutines
// bound to the cache's root context, not to any individual caller.
type Cache[K comparable, V any] struct {
	name      string
	fetch     FetchFunc[K, V]
	freshFor  time.Duration
	retainFor time.Duration
	rootCtx   context.Context
	logger    *slog.Logger
	metrics   *metrics.Manager
	now       func() time.Time
	retrier   *retry.Retrier

	mu      sync.Mutex
	entries map[K]*entry[V]
}

type entry[V any] struct {
	data      V
	hasData   bool
	err       error
	fetchedAt time.Time

	// gen is bumped by write-through Set so that a slow read completing
	// afterwards is discarded instead of overwriting confirmed state.
	gen uint64

	// inflight is non-nil while a fetch is running and is closed on
	// completion; de-duplicated waiters block on it.
	inflight chan struct{}

	subs  map[*Subscription[V]]struct{}
	evict *time.Timer
}

// New creates a cache for one resource.
func New[K comparable, V any](name string, fetch FetchFunc[K, V], opts ...Option) *Cache[K, V] {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	c := &Cache[K, V]{
		name:      name,
		fetch:     fetch,
		freshFor:  o.freshFor,
		retainFor: o.retainFor,
		rootCtx:   o.rootCtx,
		logger:    o.logger.With("resource", name),
		metrics:   o.metrics,
		now:       o.now,
		entries:   make(map[K]*entry[V]),
	}
	// One automatic retry per failed fetch before the error is surfaced.
	retryIf := o.retryIf
	if retryIf == nil {
		retryIf = func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}
	}
	c.retrier = retry.New(
		retry.WithMaxAttempts(1+o.fetchRetries),
		retry.WithFixedDelay(o.retryDelay),
		retry.WithRetryIf(retryIf),
	)
	return c
}

// ══════════════════════════════════════════════════════════════════════════════
// READ PATH
// ══════════════════════════════════════════════════════════════════════════════

// Get returns the value for key, fetching it if the entry is absent and
// joining an already in-flight fetch for the same key if there is one.
// A fresh entry is served without a network call. A stale entry is
// served immediately while a background revalidation runs. ctx bounds
// only this caller's wait, never the shared fetch.
func (c *Cache[K, V]) Get(ctx context.Context, key K, opts ...GetOption) (V, error) {
	var zero V
	g := getOptions{enabled: true}
	for _, opt := range opts {
		opt(&g)
	}
	if !g.enabled {
		return zero, ErrDisabled
	}

	c.mu.Lock()
	e, ok := c.entries[key]

	if ok && e.hasData {
		age := c.now().Sub(e.fetchedAt)
		if age < c.freshFor {
			data := e.data
			c.mu.Unlock()
			c.metrics.CacheHit(c.name)
			return data, nil
		}
		// Stale within retention: serve it now, revalidate behind.
		if e.inflight == nil {
			c.startFetch(e, key)
		}
		data := e.data
		c.mu.Unlock()
		c.metrics.CacheStaleServed(c.name)
		return data, nil
	}

	if !ok {
		e = c.addEntry(key)
	}

	var done chan struct{}
	if e.inflight != nil {
		done = e.inflight
		c.metrics.CacheDedupedWait(c.name)
	} else {
		c.startFetch(e, key)
		done = e.inflight
		c.metrics.CacheMiss(c.name)
	}
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-done:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.entries[key]
	if !ok {
		return zero, ErrInvalidated
	}
	if cur.hasData {
		return cur.data, nil
	}
	if cur.err != nil {
		return zero, cur.err
	}
	return zero, ErrInvalidated
}

// Peek returns the current entry state without fetching.
func (c *Cache[K, V]) Peek(key K) Result[V] {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Result[V]{}
	}
	return c.resultLocked(e)
}

func (c *Cache[K, V]) resultLocked(e *entry[V]) Result[V] {
	return Result[V]{
		Data:      e.data,
		Err:       e.err,
		Loading:   e.inflight != nil && !e.hasData,
		UpdatedAt: e.fetchedAt,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// FETCH LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// startFetch launches the single fetch for e. Caller holds the lock.
func (c *Cache[K, V]) startFetch(e *entry[V], key K) {
	done := make(chan struct{})
	e.inflight = done
	startGen := e.gen

	go func() {
		start := time.Now()
		data, err := retry.DoWithDataRetrier(c.rootCtx, c.retrier, func(ctx context.Context) (V, error) {
			return c.fetch(ctx, key)
		})
		c.metrics.ObserveFetch(c.name, time.Since(start))

		c.mu.Lock()
		cur, ok := c.entries[key]
		if !ok || cur != e || cur.gen != startGen {
			// The entry was invalidated, cleared, or overwritten by a
			// write-through while this request was in flight. The stale
			// response must not clobber newer state.
			c.mu.Unlock()
			close(done)
			c.logger.Debug("discarded stale fetch completion")
			return
		}

		if err != nil {
			e.err = err
			c.metrics.CacheFetchError(c.name)
			c.logger.Warn("fetch failed", "error", err)
		} else {
			e.data = data
			e.hasData = true
			e.err = nil
			e.fetchedAt = c.now()
		}
		if e.inflight == done {
			e.inflight = nil
		}
		c.notifyLocked(e)
		if len(e.subs) == 0 {
			c.scheduleEvictionLocked(e, key)
		}
		c.mu.Unlock()
		close(done)
	}()
}

// addEntry creates an entry for key. Caller holds the lock. The entry
// starts with an eviction timer armed: an entry no one subscribes to
// still expires after the retention window.
func (c *Cache[K, V]) addEntry(key K) *entry[V] {
	e := &entry[V]{subs: make(map[*Subscription[V]]struct{})}
	c.entries[key] = e
	c.scheduleEvictionLocked(e, key)
	return e
}

func (c *Cache[K, V]) scheduleEvictionLocked(e *entry[V], key K) {
	if e.evict != nil {
		e.evict.Stop()
	}
	e.evict = time.AfterFunc(c.retainFor, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		cur, ok := c.entries[key]
		if !ok || cur != e || len(e.subs) > 0 {
			return
		}
		delete(c.entries, key)
		c.metrics.CacheEviction(c.name)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// WRITE-THROUGH AND INVALIDATION
// ══════════════════════════════════════════════════════════════════════════════

// Set writes server-confirmed state directly into the entry for key,
// replacing whatever was there. Any fetch in flight for the key is
// invalidated: its completion will be discarded, never merged.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		e = c.addEntry(key)
	}
	e.gen++
	e.data = value
	e.hasData = true
	e.err = nil
	e.fetchedAt = c.now()
	c.notifyLocked(e)
	c.mu.Unlock()
}

// Invalidate drops the entry for key. The next Get refetches.
func (c *Cache[K, V]) Invalidate(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		if e.evict != nil {
			e.evict.Stop()
		}
		delete(c.entries, key)
	}
}

// Clear drops every entry. Called on logout: a cleared session
// invalidates all cached entities derived from it.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.evict != nil {
			e.evict.Stop()
		}
	}
	c.entries = make(map[K]*entry[V])
}

// Len returns the number of live entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// ══════════════════════════════════════════════════════════════════════════════
// SUBSCRIPTIONS
// ══════════════════════════════════════════════════════════════════════════════

// Subscription delivers entry updates to one consumer. The channel
// carries the latest state only; a slow consumer sees the newest result,
// not every intermediate one.
type Subscription[V any] struct {
	ch    chan Result[V]
	close func()
	once  sync.Once
}

// Updates returns the update channel.
func (s *Subscription[V]) Updates() <-chan Result[V] { return s.ch }

// Close unsubscribes. When the last subscriber of an entry closes, the
// retention countdown for that entry starts.
func (s *Subscription[V]) Close() {
	s.once.Do(s.close)
}

// Subscribe registers a consumer for key. The current entry state, if
// any, is delivered immediately. Subscribing pins the entry: the
// eviction timer is disarmed while at least one subscriber is attached.
func (c *Cache[K, V]) Subscribe(key K) *Subscription[V] {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		e = c.addEntry(key)
	}
	if e.evict != nil {
		e.evict.Stop()
		e.evict = nil
	}

	sub := &Subscription[V]{ch: make(chan Result[V], 1)}
	sub.close = func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		cur, ok := c.entries[key]
		if !ok || cur != e {
			return
		}
		delete(e.subs, sub)
		if len(e.subs) == 0 {
			c.scheduleEvictionLocked(e, key)
		}
	}
	e.subs[sub] = struct{}{}

	if e.hasData || e.err != nil {
		deliver(sub.ch, c.resultLocked(e))
	}
	return sub
}

func (c *Cache[K, V]) notifyLocked(e *entry[V]) {
	if len(e.subs) == 0 {
		return
	}
	res := c.resultLocked(e)
	for sub := range e.subs {
		deliver(sub.ch, res)
	}
}

// deliver replaces a pending update with the newer one instead of
// blocking on a slow consumer.
func deliver[V any](ch chan Result[V], res Result[V]) {
	for {
		select {
		case ch <- res:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}
