package query

import (
	"context"

	"github.com/school-hub/gradebook/internal/application/view"
	"github.com/school-hub/gradebook/internal/cache"
	"github.com/school-hub/gradebook/internal/domain/grade"
	schoolapi "github.com/school-hub/gradebook/internal/infrastructure/external/school"
)

func newReportsCache(client *schoolapi.Client, opts []cache.Option) *cache.Cache[view.ReportsKey, []grade.ReportSummary] {
	fetch := func(ctx context.Context, key view.ReportsKey) ([]grade.ReportSummary, error) {
		return client.Reports(ctx, key.StudentID)
	}
	return cache.New("reports", fetch, opts...)
}

// Reports returns the report history for one student, newest first.
func (s *Service) Reports(ctx context.Context, key view.ReportsKey) ([]grade.ReportSummary, error) {
	return s.reports.Get(ctx, key)
}

// InvalidateReports drops the cached history for one student. Called
// after a report delivery completes so the new report shows up.
func (s *Service) InvalidateReports(studentID int) {
	s.reports.Invalidate(view.ReportsKey{StudentID: studentID})
}
