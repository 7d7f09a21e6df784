package query

import (
	"context"

	"github.com/school-hub/gradebook/internal/application/view"
	"github.com/school-hub/gradebook/internal/cache"
	"github.com/school-hub/gradebook/internal/domain/grade"
	schoolapi "github.com/school-hub/gradebook/internal/infrastructure/external/school"
)

func newStatsCache(client *schoolapi.Client, opts []cache.Option) *cache.Cache[view.StatsKey, grade.StatsSnapshot] {
	fetch := func(ctx context.Context, key view.StatsKey) (grade.StatsSnapshot, error) {
		return client.Stats(ctx, key.StudentID)
	}
	return cache.New("stats", fetch, opts...)
}

// Stats returns the statistics snapshot for key. The enabled flag
// mirrors the visibility of the stats panel: while false, no request is
// made and no entry is created.
func (s *Service) Stats(ctx context.Context, key view.StatsKey, enabled bool) (grade.StatsSnapshot, error) {
	return s.stats.Get(ctx, key, cache.Enabled(enabled))
}

// InvalidateStats drops the cached snapshot for one student. Grade
// mutations call this: the server recomputes averages on the next read.
func (s *Service) InvalidateStats(studentID int) {
	s.stats.Invalidate(view.StatsKey{StudentID: studentID})
}
