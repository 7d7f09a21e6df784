package school

import (
	"fmt"
	"sort"
	"time"

	"github.com/school-hub/gradebook/internal/domain/grade"
	"github.com/school-hub/gradebook/internal/domain/school"
	"github.com/school-hub/gradebook/internal/domain/session"
)

// Mapper converts API DTOs into domain types. The contract is strict:
// an unknown role or an unparseable shape is an error, never silently
// normalized.
type Mapper struct{}

// NewMapper creates a new Mapper.
func NewMapper() *Mapper {
	return &Mapper{}
}

// StudentFromDTO maps one roster row.
func (m *Mapper) StudentFromDTO(dto StudentDTO) school.Student {
	return school.Student{
		ID:        dto.ID,
		Name:      dto.Name,
		ClassName: dto.ClassName,
	}
}

// StudentsFromDTO maps a roster listing.
func (m *Mapper) StudentsFromDTO(dtos []StudentDTO) []school.Student {
	students := make([]school.Student, 0, len(dtos))
	for _, dto := range dtos {
		students = append(students, m.StudentFromDTO(dto))
	}
	return students
}

// ClassesFromDTO maps the class listing.
func (m *Mapper) ClassesFromDTO(dtos []ClassDTO) []school.Class {
	classes := make([]school.Class, 0, len(dtos))
	for _, dto := range dtos {
		classes = append(classes, school.Class{ID: dto.ID, Name: dto.Name})
	}
	return classes
}

// CollectionFromDTO maps the grade page. Entries keep the server's
// order within each subject; subjects themselves are a map, matching
// the wire shape.
func (m *Mapper) CollectionFromDTO(dto GradeCollectionDTO) (grade.Collection, error) {
	col := grade.Collection{
		BySubject:  make(map[grade.Subject][]grade.Entry, len(dto.Grades)),
		TotalPages: dto.TotalPages,
	}
	if col.TotalPages < 1 {
		col.TotalPages = 1
	}
	for subject, rows := range dto.Grades {
		entries := make([]grade.Entry, 0, len(rows))
		for _, row := range rows {
			entry, err := m.entryFromDTO(row)
			if err != nil {
				return grade.Collection{}, err
			}
			entries = append(entries, entry)
		}
		col.BySubject[grade.Subject(subject)] = entries
	}
	return col, nil
}

func (m *Mapper) entryFromDTO(dto GradeEntryDTO) (grade.Entry, error) {
	date, err := parseServerDate(dto.Date)
	if err != nil {
		return grade.Entry{}, fmt.Errorf("grade %d: %w", dto.ID, err)
	}
	return grade.Entry{
		ID:        dto.ID,
		Subject:   grade.Subject(dto.Subject),
		Score:     dto.Score,
		Date:      date,
		TeacherID: dto.TeacherID,
	}, nil
}

// StatsFromDTO maps the statistics snapshot.
func (m *Mapper) StatsFromDTO(dto StatsDTO) grade.StatsSnapshot {
	snapshot := grade.StatsSnapshot{
		AverageScore:     dto.AverageScore,
		AverageBySubject: make(map[grade.Subject]float64, len(dto.AverageScores)),
		Recommendations:  dto.Recommendations,
	}
	for subject, avg := range dto.AverageScores {
		snapshot.AverageBySubject[grade.Subject(subject)] = avg
	}
	return snapshot
}

// ReportsFromDTO maps the report history, newest first.
func (m *Mapper) ReportsFromDTO(dtos []ReportSummaryDTO) ([]grade.ReportSummary, error) {
	reports := make([]grade.ReportSummary, 0, len(dtos))
	for _, dto := range dtos {
		generatedAt, err := parseServerDate(dto.GeneratedAt)
		if err != nil {
			return nil, fmt.Errorf("report %d: %w", dto.ID, err)
		}
		reports = append(reports, grade.ReportSummary{
			ID:              dto.ID,
			Summary:         dto.Summary,
			Recommendations: dto.Recommendations,
			GeneratedAt:     generatedAt,
		})
	}
	sort.Slice(reports, func(i, j int) bool {
		return reports[i].GeneratedAt.After(reports[j].GeneratedAt)
	})
	return reports, nil
}

// SessionFromMe builds a session from the login token plus GET /me.
func (m *Mapper) SessionFromMe(token string, dto MeDTO) (session.Session, error) {
	role, ok := session.ParseRole(dto.Role)
	if !ok {
		return session.Session{}, fmt.Errorf("unknown role %q", dto.Role)
	}
	s := session.Session{Token: token, Role: role, CreatedAt: time.Now()}
	if role == session.RoleStudent {
		if dto.StudentID == nil {
			return session.Session{}, fmt.Errorf("student session without student_id")
		}
		s.StudentID = *dto.StudentID
	}
	return s, nil
}

func parseServerDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", raw)
}
