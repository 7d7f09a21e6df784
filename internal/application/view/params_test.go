package view

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/school-hub/gradebook/internal/domain/grade"
)

func TestParams_FilterChangeResetsPage(t *testing.T) {
	p := NewParams()
	p.SelectStudent(1)
	p.SetPage(4)

	p.SetFilterSubject(grade.SubjectPhysics)
	assert.Equal(t, 1, p.Page())

	key := p.GradesKey()
	assert.Equal(t, grade.SubjectPhysics, key.FilterSubject)
	assert.Equal(t, 1, key.Page)
}

func TestParams_SortChangeResetsPage(t *testing.T) {
	p := NewParams()
	p.SelectStudent(1)
	p.SetPage(3)

	p.SetSort(SortByScore, SortAsc)
	assert.Equal(t, 1, p.Page())
}

func TestParams_SameSortLeavesPageAlone(t *testing.T) {
	p := NewParams()
	p.SetPage(3)

	p.SetSort(SortByDate, SortDesc)
	assert.Equal(t, 3, p.Page(), "re-selecting the current sort must not reset paging")
}

func TestParams_PageChangeKeepsFilterAndSort(t *testing.T) {
	p := NewParams()
	p.SetFilterSubject(grade.SubjectHistory)
	p.SetSort(SortBySubject, SortAsc)

	p.SetPage(5)
	key := p.GradesKey()
	assert.Equal(t, grade.SubjectHistory, key.FilterSubject)
	assert.Equal(t, SortBySubject, key.SortBy)
	assert.Equal(t, SortAsc, key.SortOrder)
	assert.Equal(t, 5, key.Page)
}

func TestParams_SelectClassDropsStudent(t *testing.T) {
	p := NewParams()
	p.SelectStudent(42)
	p.SelectClass("5B")

	assert.Equal(t, 0, p.StudentID())
	assert.Equal(t, StudentsKey{ClassName: "5B"}, p.StudentsKey())
}

func TestParams_KeyEquality(t *testing.T) {
	p := NewParams()
	p.SelectStudent(7)
	a := p.GradesKey()
	b := p.GradesKey()
	assert.Equal(t, a, b, "identical parameters must address the same cache entry")

	p.SetPage(2)
	assert.NotEqual(t, a, p.GradesKey())
}

func TestParams_PageFloor(t *testing.T) {
	p := NewParams()
	p.SetPage(0)
	assert.Equal(t, 1, p.Page())
	p.SetPage(-2)
	assert.Equal(t, 1, p.Page())
}
