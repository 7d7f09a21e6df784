package query

import (
	"context"

	"github.com/school-hub/gradebook/internal/application/view"
	"github.com/school-hub/gradebook/internal/cache"
	"github.com/school-hub/gradebook/internal/domain/grade"
	schoolapi "github.com/school-hub/gradebook/internal/infrastructure/external/school"
)

func newGradesCache(client *schoolapi.Client, opts []cache.Option) *cache.Cache[view.GradesKey, grade.Collection] {
	fetch := func(ctx context.Context, key view.GradesKey) (grade.Collection, error) {
		return client.Grades(ctx, schoolapi.GradesRequest{
			StudentID: key.StudentID,
			Subject:   string(key.FilterSubject),
			SortBy:    key.SortBy,
			SortOrder: key.SortOrder,
			Page:      key.Page,
		})
	}
	return cache.New("grades", fetch, opts...)
}

// Grades returns the grade page for key, from cache when fresh.
func (s *Service) Grades(ctx context.Context, key view.GradesKey) (grade.Collection, error) {
	return s.grades.Get(ctx, key)
}

// PeekGrades returns the current cached state without fetching.
func (s *Service) PeekGrades(key view.GradesKey) cache.Result[grade.Collection] {
	return s.grades.Peek(key)
}

// SubscribeGrades streams cache updates for key, including write-throughs
// from grade mutations.
func (s *Service) SubscribeGrades(key view.GradesKey) *cache.Subscription[grade.Collection] {
	return s.grades.Subscribe(key)
}

// ApplyGradeWrite installs a server-confirmed collection for key. Used
// by the mutation coordinator; the collection is stored exactly as the
// server returned it.
func (s *Service) ApplyGradeWrite(key view.GradesKey, col grade.Collection) {
	s.grades.Set(key, col)
}
