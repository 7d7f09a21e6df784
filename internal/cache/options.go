package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/school-hub/gradebook/pkg/metrics"
)

type options struct {
	freshFor     time.Duration
	retainFor    time.Duration
	fetchRetries int
	retryDelay   time.Duration
	retryIf      func(error) bool
	rootCtx      context.Context
	logger       *slog.Logger
	metrics      *metrics.Manager
	now          func() time.Time
}

func defaultOptions() options {
	return options{
		freshFor:     DefaultFreshFor,
		retainFor:    DefaultRetainFor,
		fetchRetries: 1,
		retryDelay:   200 * time.Millisecond,
		rootCtx:      context.Background(),
		logger:       slog.Default(),
		metrics:      metrics.Nop(),
		now:          time.Now,
	}
}

// Option configures a Cache at construction.
type Option func(*options)

// WithFreshFor sets the freshness window.
func WithFreshFor(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.freshFor = d
		}
	}
}

// WithRetainFor sets the zero-subscriber retention window.
func WithRetainFor(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.retainFor = d
		}
	}
}

// WithFetchRetries sets how many automatic retries a failed fetch gets
// before the error is surfaced (default 1).
func WithFetchRetries(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.fetchRetries = n
		}
	}
}

// WithRetryDelay sets the delay before the automatic retry.
func WithRetryDelay(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.retryDelay = d
		}
	}
}

// WithRetryIf restricts the automatic retry to failures the predicate
// accepts. The default retries everything except context cancellation.
func WithRetryIf(retryIf func(error) bool) Option {
	return func(o *options) {
		if retryIf != nil {
			o.retryIf = retryIf
		}
	}
}

// WithContext binds background fetches to ctx (default: Background).
func WithContext(ctx context.Context) Option {
	return func(o *options) {
		if ctx != nil {
			o.rootCtx = ctx
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the metrics manager.
func WithMetrics(m *metrics.Manager) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithClock overrides the time source. Tests use this to age entries.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

type getOptions struct {
	enabled bool
}

// GetOption configures one lookup.
type GetOption func(*getOptions)

// Enabled gates a lookup: Enabled(false) performs no fetch and creates
// no entry, mirroring a view whose query is not active yet.
func Enabled(enabled bool) GetOption {
	return func(g *getOptions) { g.enabled = enabled }
}
