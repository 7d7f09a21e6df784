package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests age entries without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type countingFetch struct {
	calls   atomic.Int64
	mu      sync.Mutex
	results map[string]string
	err     error
	block   chan struct{} // when non-nil, fetches wait on it
}

func (f *countingFetch) fetch(ctx context.Context, key string) (string, error) {
	f.calls.Add(1)
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if v, ok := f.results[key]; ok {
		return v, nil
	}
	return "value:" + key, nil
}

func (f *countingFetch) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func newTestCache(f *countingFetch, opts ...Option) *Cache[string, string] {
	base := []Option{WithRetryDelay(1 * time.Millisecond)}
	return New("test", f.fetch, append(base, opts...)...)
}

func TestGet_FetchesAndCaches(t *testing.T) {
	f := &countingFetch{}
	c := newTestCache(f)

	v, err := c.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "value:a", v)

	v, err = c.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "value:a", v)
	assert.Equal(t, int64(1), f.calls.Load(), "fresh entry must be served without a fetch")
}

func TestGet_ConcurrentSameKeyFetchesOnce(t *testing.T) {
	f := &countingFetch{block: make(chan struct{})}
	c := newTestCache(f)

	const waiters = 8
	type outcome struct {
		v   string
		err error
	}
	results := make(chan outcome, waiters)
	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Get(context.Background(), "a")
			results <- outcome{v, err}
		}()
	}

	// Let the goroutines pile up behind the single in-flight fetch.
	require.Eventually(t, func() bool {
		return f.calls.Load() == 1
	}, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	close(f.block)
	wg.Wait()

	assert.Equal(t, int64(1), f.calls.Load())
	for i := 0; i < waiters; i++ {
		out := <-results
		require.NoError(t, out.err)
		assert.Equal(t, "value:a", out.v)
	}
}

func TestGet_DistinctKeysAreIsolated(t *testing.T) {
	f := &countingFetch{}
	c := newTestCache(f)

	va, err := c.Get(context.Background(), "a")
	require.NoError(t, err)
	vb, err := c.Get(context.Background(), "b")
	require.NoError(t, err)

	assert.Equal(t, "value:a", va)
	assert.Equal(t, "value:b", vb)
	assert.Equal(t, int64(2), f.calls.Load())
	assert.Equal(t, 2, c.Len())
}

func TestGet_StaleServedWhileRevalidating(t *testing.T) {
	clock := newFakeClock()
	f := &countingFetch{results: map[string]string{"a": "old"}}
	c := newTestCache(f, WithClock(clock.Now))

	v, err := c.Get(context.Background(), "a")
	require.NoError(t, err)
	require.Equal(t, "old", v)

	f.mu.Lock()
	f.results["a"] = "new"
	f.mu.Unlock()
	clock.Advance(DefaultFreshFor + time.Second)

	// The stale value comes back immediately; the refresh runs behind.
	v, err = c.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "old", v)

	require.Eventually(t, func() bool {
		return c.Peek("a").Data == "new"
	}, time.Second, time.Millisecond)
	assert.Equal(t, int64(2), f.calls.Load())
}

func TestGet_FailedFetchRetriedOnceThenSurfaced(t *testing.T) {
	f := &countingFetch{}
	f.setErr(errors.New("boom"))
	c := newTestCache(f)

	_, err := c.Get(context.Background(), "a")
	require.Error(t, err)
	assert.Equal(t, int64(2), f.calls.Load(), "one automatic retry, then surface")
}

func TestGet_RetryPredicateSkipsPermanentFailures(t *testing.T) {
	permanent := errors.New("unknown student")
	f := &countingFetch{}
	f.setErr(permanent)
	c := newTestCache(f, WithRetryIf(func(err error) bool {
		return !errors.Is(err, permanent)
	}))

	_, err := c.Get(context.Background(), "a")
	require.ErrorIs(t, err, permanent)
	assert.Equal(t, int64(1), f.calls.Load(), "a non-retryable failure gets no second fetch")
}

func TestGet_ErrorKeepsLastGoodData(t *testing.T) {
	clock := newFakeClock()
	f := &countingFetch{results: map[string]string{"a": "good"}}
	c := newTestCache(f, WithClock(clock.Now))

	_, err := c.Get(context.Background(), "a")
	require.NoError(t, err)

	f.setErr(errors.New("server down"))
	clock.Advance(DefaultFreshFor + time.Second)

	v, err := c.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "good", v, "stale data survives a failed refresh")

	require.Eventually(t, func() bool {
		res := c.Peek("a")
		return res.Err != nil && res.Data == "good"
	}, time.Second, time.Millisecond)
}

func TestGet_DisabledDoesNothing(t *testing.T) {
	f := &countingFetch{}
	c := newTestCache(f)

	_, err := c.Get(context.Background(), "a", Enabled(false))
	assert.ErrorIs(t, err, ErrDisabled)
	assert.Equal(t, int64(0), f.calls.Load())
	assert.Equal(t, 0, c.Len())
}

func TestSet_WriteThroughServedWithoutFetch(t *testing.T) {
	f := &countingFetch{}
	c := newTestCache(f)

	c.Set("a", "confirmed")
	v, err := c.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "confirmed", v)
	assert.Equal(t, int64(0), f.calls.Load())
}

func TestSet_DiscardsInflightCompletion(t *testing.T) {
	f := &countingFetch{block: make(chan struct{})}
	c := newTestCache(f)

	type outcome struct {
		v   string
		err error
	}
	got := make(chan outcome, 1)
	go func() {
		v, err := c.Get(context.Background(), "a")
		got <- outcome{v, err}
	}()

	require.Eventually(t, func() bool {
		return f.calls.Load() == 1
	}, time.Second, time.Millisecond)

	c.Set("a", "written")
	close(f.block)

	out := <-got
	require.NoError(t, out.err)
	assert.Equal(t, "written", out.v, "waiter sees the write-through, not the stale fetch")

	// The discarded completion must never replace the written value.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, "written", c.Peek("a").Data)
}

func TestInvalidate_DiscardsInflightFetch(t *testing.T) {
	f := &countingFetch{block: make(chan struct{})}
	c := newTestCache(f)

	got := make(chan error, 1)
	go func() {
		_, err := c.Get(context.Background(), "a")
		got <- err
	}()

	require.Eventually(t, func() bool {
		return f.calls.Load() == 1
	}, time.Second, time.Millisecond)

	c.Invalidate("a")
	close(f.block)

	assert.ErrorIs(t, <-got, ErrInvalidated)
	assert.Equal(t, 0, c.Len())
}

func TestGet_WaitBoundedByCallerContext(t *testing.T) {
	f := &countingFetch{block: make(chan struct{})}
	defer close(f.block)
	c := newTestCache(f)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Get(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEviction_AfterRetentionWithoutSubscribers(t *testing.T) {
	f := &countingFetch{}
	c := newTestCache(f, WithRetainFor(30*time.Millisecond))

	_, err := c.Get(context.Background(), "a")
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())

	require.Eventually(t, func() bool {
		return c.Len() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestSubscribe_PinsEntryUntilClosed(t *testing.T) {
	f := &countingFetch{}
	c := newTestCache(f, WithRetainFor(30*time.Millisecond))

	sub := c.Subscribe("a")
	_, err := c.Get(context.Background(), "a")
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 1, c.Len(), "subscribed entry must not be evicted")

	sub.Close()
	require.Eventually(t, func() bool {
		return c.Len() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestSubscribe_ReceivesWriteThrough(t *testing.T) {
	f := &countingFetch{}
	c := newTestCache(f)

	sub := c.Subscribe("a")
	defer sub.Close()

	c.Set("a", "pushed")
	select {
	case res := <-sub.Updates():
		assert.Equal(t, "pushed", res.Data)
		assert.NoError(t, res.Err)
	case <-time.After(time.Second):
		t.Fatal("no update delivered")
	}
}

func TestSubscribe_LatestUpdateWins(t *testing.T) {
	f := &countingFetch{}
	c := newTestCache(f)

	sub := c.Subscribe("a")
	defer sub.Close()

	for i := 0; i < 5; i++ {
		c.Set("a", fmt.Sprintf("v%d", i))
	}

	select {
	case res := <-sub.Updates():
		assert.Equal(t, "v4", res.Data, "a slow consumer sees the newest state")
	case <-time.After(time.Second):
		t.Fatal("no update delivered")
	}
}

func TestClear_DropsEverything(t *testing.T) {
	f := &countingFetch{}
	c := newTestCache(f)

	_, err := c.Get(context.Background(), "a")
	require.NoError(t, err)
	_, err = c.Get(context.Background(), "b")
	require.NoError(t, err)
	require.Equal(t, 2, c.Len())

	c.Clear()
	assert.Equal(t, 0, c.Len())

	_, err = c.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, int64(3), f.calls.Load(), "cleared entries refetch")
}
