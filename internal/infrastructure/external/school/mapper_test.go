package school

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/school-hub/gradebook/internal/domain/grade"
	"github.com/school-hub/gradebook/internal/domain/session"
)

func TestCollectionFromDTO(t *testing.T) {
	m := NewMapper()
	dto := GradeCollectionDTO{
		Grades: map[string][]GradeEntryDTO{
			"Mathematics": {
				{ID: 1, Subject: "Mathematics", Score: 5, Date: "2025-09-01T10:30:00", TeacherID: 3},
				{ID: 2, Subject: "Mathematics", Score: 4, Date: "2025-08-20T09:00:00.123456", TeacherID: 3},
			},
			"History": {
				{ID: 3, Subject: "History", Score: 3, Date: "2025-07-01"},
			},
		},
		TotalPages: 2,
	}

	col, err := m.CollectionFromDTO(dto)
	require.NoError(t, err)
	assert.Equal(t, 2, col.TotalPages)
	assert.Equal(t, 3, col.Count())

	math := col.BySubject[grade.SubjectMathematics]
	require.Len(t, math, 2)
	assert.Equal(t, 1, math[0].ID)
	assert.Equal(t, 5, math[0].Score)
	assert.Equal(t, 2025, math[0].Date.Year())
	assert.True(t, math[0].Editable(3))
}

func TestCollectionFromDTO_TotalPagesFloor(t *testing.T) {
	m := NewMapper()
	col, err := m.CollectionFromDTO(GradeCollectionDTO{Grades: map[string][]GradeEntryDTO{}})
	require.NoError(t, err)
	assert.Equal(t, 1, col.TotalPages)
}

func TestCollectionFromDTO_BadDate(t *testing.T) {
	m := NewMapper()
	_, err := m.CollectionFromDTO(GradeCollectionDTO{
		Grades: map[string][]GradeEntryDTO{
			"Physics": {{ID: 9, Date: "yesterday"}},
		},
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "grade 9")
}

func TestReportsFromDTO_SortedNewestFirst(t *testing.T) {
	m := NewMapper()
	reports, err := m.ReportsFromDTO([]ReportSummaryDTO{
		{ID: 1, GeneratedAt: "2025-06-01T08:00:00"},
		{ID: 2, GeneratedAt: "2025-09-01T08:00:00"},
		{ID: 3, GeneratedAt: "2025-07-15T08:00:00"},
	})
	require.NoError(t, err)
	require.Len(t, reports, 3)
	assert.Equal(t, []int{2, 3, 1}, []int{reports[0].ID, reports[1].ID, reports[2].ID})
}

func TestSessionFromMe(t *testing.T) {
	m := NewMapper()
	id := 12

	s, err := m.SessionFromMe("tok", MeDTO{Role: "student", StudentID: &id})
	require.NoError(t, err)
	assert.Equal(t, session.RoleStudent, s.Role)
	assert.Equal(t, 12, s.StudentID)
	assert.True(t, s.Valid())

	_, err = m.SessionFromMe("tok", MeDTO{Role: "student"})
	assert.Error(t, err, "student identity without a student id is unusable")

	_, err = m.SessionFromMe("tok", MeDTO{Role: "admin"})
	assert.Error(t, err)

	s, err = m.SessionFromMe("tok", MeDTO{Role: "Teacher"})
	require.NoError(t, err)
	assert.Equal(t, session.RoleTeacher, s.Role)
}
