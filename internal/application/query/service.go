// Package query owns every cached server read. Each resource gets its
// own cache with its own key type; the fetchers close over the grade
// service client, so the caches are the only read path the rest of the
// application sees.
package query

import (
	"context"
	"log/slog"
	"time"

	"github.com/school-hub/gradebook/internal/application/view"
	"github.com/school-hub/gradebook/internal/cache"
	"github.com/school-hub/gradebook/internal/domain/grade"
	"github.com/school-hub/gradebook/internal/domain/school"
	"github.com/school-hub/gradebook/internal/domain/shared"
	schoolapi "github.com/school-hub/gradebook/internal/infrastructure/external/school"
	"github.com/school-hub/gradebook/pkg/metrics"
)

// Config tunes the read caches. Zero values fall back to the cache
// package defaults.
type Config struct {
	FreshFor     time.Duration
	RetainFor    time.Duration
	FetchRetries int
	RetryDelay   time.Duration
	Logger       *slog.Logger
	Metrics      *metrics.Manager
}

func (c Config) cacheOptions(ctx context.Context) []cache.Option {
	// Auth, not-found, and validation failures never heal on a blind
	// refetch, so the automatic retry is limited to retryable kinds.
	opts := []cache.Option{
		cache.WithContext(ctx),
		cache.WithRetryIf(shared.IsRetryable),
	}
	if c.FreshFor > 0 {
		opts = append(opts, cache.WithFreshFor(c.FreshFor))
	}
	if c.RetainFor > 0 {
		opts = append(opts, cache.WithRetainFor(c.RetainFor))
	}
	if c.FetchRetries > 0 {
		opts = append(opts, cache.WithFetchRetries(c.FetchRetries))
	}
	if c.RetryDelay > 0 {
		opts = append(opts, cache.WithRetryDelay(c.RetryDelay))
	}
	if c.Logger != nil {
		opts = append(opts, cache.WithLogger(c.Logger))
	}
	if c.Metrics != nil {
		opts = append(opts, cache.WithMetrics(c.Metrics))
	}
	return opts
}

// Service bundles the per-resource caches.
type Service struct {
	grades   *cache.Cache[view.GradesKey, grade.Collection]
	stats    *cache.Cache[view.StatsKey, grade.StatsSnapshot]
	students *cache.Cache[view.StudentsKey, []school.Student]
	classes  *cache.Cache[view.ClassesKey, []school.Class]
	reports  *cache.Cache[view.ReportsKey, []grade.ReportSummary]
}

// NewService builds the caches over the given client. ctx bounds all
// background revalidation fetches; cancel it on shutdown.
func NewService(ctx context.Context, client *schoolapi.Client, cfg Config) *Service {
	opts := cfg.cacheOptions(ctx)
	return &Service{
		grades:   newGradesCache(client, opts),
		stats:    newStatsCache(client, opts),
		students: newStudentsCache(client, opts),
		classes:  newClassesCache(client, opts),
		reports:  newReportsCache(client, opts),
	}
}

// ClearAll drops every cached entry across all resources. Registered as
// a logout listener: nothing fetched under the old token survives it.
func (s *Service) ClearAll() {
	s.grades.Clear()
	s.stats.Clear()
	s.students.Clear()
	s.classes.Clear()
	s.reports.Clear()
}
