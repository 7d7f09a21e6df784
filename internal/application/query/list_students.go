package query

import (
	"context"

	"github.com/school-hub/gradebook/internal/application/view"
	"github.com/school-hub/gradebook/internal/cache"
	"github.com/school-hub/gradebook/internal/domain/school"
	schoolapi "github.com/school-hub/gradebook/internal/infrastructure/external/school"
)

func newStudentsCache(client *schoolapi.Client, opts []cache.Option) *cache.Cache[view.StudentsKey, []school.Student] {
	fetch := func(ctx context.Context, key view.StudentsKey) ([]school.Student, error) {
		return client.Students(ctx, key.ClassName)
	}
	return cache.New("students", fetch, opts...)
}

// Students returns the roster for the given class filter.
func (s *Service) Students(ctx context.Context, key view.StudentsKey) ([]school.Student, error) {
	return s.students.Get(ctx, key)
}
