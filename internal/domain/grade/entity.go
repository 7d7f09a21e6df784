// Package grade holds the grade domain model: subjects, grade entries,
// the paged collection returned by the server, and performance
// statistics. All state here is server-owned; the client only caches it.
package grade

import (
	"strconv"
	"strings"
	"time"

	"github.com/school-hub/gradebook/internal/domain/shared"
)

// Subject is one of the fixed set of school subjects. The server rejects
// anything else, so the client validates membership before dispatch.
type Subject string

const (
	SubjectMathematics Subject = "Mathematics"
	SubjectLiterature  Subject = "Literature"
	SubjectPhysics     Subject = "Physics"
	SubjectChemistry   Subject = "Chemistry"
	SubjectHistory     Subject = "History"
	SubjectGeography   Subject = "Geography"
	SubjectBiology     Subject = "Biology"
	SubjectEnglish     Subject = "English"
)

// Subjects returns the full enumerated subject set, in display order.
func Subjects() []Subject {
	return []Subject{
		SubjectMathematics,
		SubjectLiterature,
		SubjectPhysics,
		SubjectChemistry,
		SubjectHistory,
		SubjectGeography,
		SubjectBiology,
		SubjectEnglish,
	}
}

// IsValid reports whether s is a member of the fixed subject set.
func (s Subject) IsValid() bool {
	for _, known := range Subjects() {
		if s == known {
			return true
		}
	}
	return false
}

// Score bounds. Grades use the 1-5 scale.
const (
	MinScore = 1
	MaxScore = 5
)

// ValidateScore checks that score is an integer in [MinScore, MaxScore].
func ValidateScore(score int) error {
	if score < MinScore || score > MaxScore {
		return shared.NewValidationError("score", shared.ErrInvalidScore,
			"score must be between 1 and 5")
	}
	return nil
}

// ParseScore parses user input into a valid score. Fractional and
// non-numeric input is rejected the same way an out-of-range integer is.
func ParseScore(raw string) (int, error) {
	score, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, shared.NewValidationError("score", shared.ErrInvalidScore,
			"score must be a whole number between 1 and 5")
	}
	if err := ValidateScore(score); err != nil {
		return 0, err
	}
	return score, nil
}

// ValidateSubject checks membership in the fixed subject set.
func ValidateSubject(s Subject) error {
	if s == "" {
		return shared.NewValidationError("subject", shared.ErrEmptyValue,
			"subject is required")
	}
	if !s.IsValid() {
		return shared.NewValidationError("subject", shared.ErrInvalidSubject,
			"unknown subject: "+string(s))
	}
	return nil
}

// Entry is a single grade record.
type Entry struct {
	ID        int
	Subject   Subject
	Score     int
	Date      time.Time
	TeacherID int
}

// Editable reports whether the teacher with the given id owns this entry.
// The server enforces ownership; the client uses this to hide controls.
func (e Entry) Editable(teacherID int) bool {
	return e.TeacherID != 0 && e.TeacherID == teacherID
}

// Collection is the unit of caching and mutation reconciliation: the
// server's full answer for one (student, filter, sort, page) tuple.
// TotalPages is recomputed by the server on every read and is never
// derived locally.
type Collection struct {
	BySubject  map[Subject][]Entry
	TotalPages int
}

// Count returns the number of entries across all subjects.
func (c Collection) Count() int {
	n := 0
	for _, entries := range c.BySubject {
		n += len(entries)
	}
	return n
}

// StatsSnapshot is the server-computed performance summary for one
// student. Read-only and cached independently of the grade pages.
type StatsSnapshot struct {
	AverageScore     float64
	AverageBySubject map[Subject]float64
	Recommendations  string
}

// ReportSummary is one previously generated performance report.
type ReportSummary struct {
	ID              int
	Summary         string
	Recommendations string
	GeneratedAt     time.Time
}
