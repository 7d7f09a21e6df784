// Package school implements the grade service API client.
// This package handles all communication with the school backend:
// roster reads, grade pages, statistics, grade mutations, and the
// two-request report protocol.
package school

import "time"

// ══════════════════════════════════════════════════════════════════════════════
// AUTHENTICATION DTOs
// ══════════════════════════════════════════════════════════════════════════════

// TokenDTO is the response of POST /token.
type TokenDTO struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// RegisterResultDTO is the response of POST /register.
type RegisterResultDTO struct {
	Message   string `json:"message"`
	Username  string `json:"username"`
	Role      string `json:"role"`
	StudentID *int   `json:"student_id"`
}

// MeDTO is the response of GET /me. StudentID is present for student
// sessions only; ID is the user id for teacher sessions.
type MeDTO struct {
	Role      string `json:"role"`
	StudentID *int   `json:"student_id,omitempty"`
	ID        *int   `json:"id,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// ROSTER DTOs
// ══════════════════════════════════════════════════════════════════════════════

// StudentDTO represents a student as returned by the roster endpoints.
type StudentDTO struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	ClassName string `json:"class_name"`
}

// ClassDTO represents a school class.
type ClassDTO struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// ══════════════════════════════════════════════════════════════════════════════
// GRADE DTOs
// ══════════════════════════════════════════════════════════════════════════════

// GradeEntryDTO is one grade row inside a collection. Date arrives as a
// bare ISO timestamp without a zone, so it stays a string here and the
// mapper parses it.
type GradeEntryDTO struct {
	ID        int    `json:"id"`
	StudentID int    `json:"student_id,omitempty"`
	Subject   string `json:"subject"`
	Score     int    `json:"score"`
	Date      string `json:"date"`
	TeacherID int    `json:"teacher_id,omitempty"`
}

// GradeCollectionDTO is the single fixed response shape of the grade
// read endpoint AND of every grade mutation: the full updated page,
// keyed by subject, plus the server-computed page count.
type GradeCollectionDTO struct {
	Grades     map[string][]GradeEntryDTO `json:"grades"`
	TotalPages int                        `json:"total_pages"`
}

// GradeCreateDTO is the body of POST /grades.
type GradeCreateDTO struct {
	StudentID int    `json:"student_id"`
	Subject   string `json:"subject"`
	Score     int    `json:"score"`
}

// GradeUpdateDTO is the body of PUT /grades/:id.
type GradeUpdateDTO struct {
	Subject string `json:"subject"`
	Score   int    `json:"score"`
}

// ══════════════════════════════════════════════════════════════════════════════
// STATS AND REPORT DTOs
// ══════════════════════════════════════════════════════════════════════════════

// StatsDTO is the response of GET /grades/:studentId/stats.
type StatsDTO struct {
	AverageScore    float64            `json:"average_score"`
	AverageScores   map[string]float64 `json:"average_scores"`
	Recommendations string             `json:"recommendations"`
}

// ReportSummaryDTO is one entry of GET /reports/:studentId.
type ReportSummaryDTO struct {
	ID              int    `json:"id"`
	Summary         string `json:"summary"`
	Recommendations string `json:"recommendations"`
	GeneratedAt     string `json:"generated_at"`
}

// APIErrorDTO is the error body the server sends with 4xx/5xx.
type APIErrorDTO struct {
	Detail string `json:"detail"`
}

// dateLayouts are the timestamp formats the server has been seen to
// emit. The naive isoformat (no zone) is the common case.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}
