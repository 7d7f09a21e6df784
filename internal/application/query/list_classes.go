package query

import (
	"context"

	"github.com/school-hub/gradebook/internal/application/view"
	"github.com/school-hub/gradebook/internal/cache"
	"github.com/school-hub/gradebook/internal/domain/school"
	schoolapi "github.com/school-hub/gradebook/internal/infrastructure/external/school"
)

func newClassesCache(client *schoolapi.Client, opts []cache.Option) *cache.Cache[view.ClassesKey, []school.Class] {
	fetch := func(ctx context.Context, _ view.ClassesKey) ([]school.Class, error) {
		return client.Classes(ctx)
	}
	return cache.New("classes", fetch, opts...)
}

// Classes returns the class listing.
func (s *Service) Classes(ctx context.Context) ([]school.Class, error) {
	return s.classes.Get(ctx, view.ClassesKey{})
}
