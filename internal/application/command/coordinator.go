// Package command implements grade mutations: local validation, dispatch
// to the server, and write-through of the server's response into the
// read cache. The cache is only ever updated from a confirmed server
// response; a failed mutation leaves cached state untouched.
package command

import (
	"context"
	"log/slog"
	"sync"

	"github.com/school-hub/gradebook/internal/application/query"
	"github.com/school-hub/gradebook/internal/application/view"
	"github.com/school-hub/gradebook/internal/domain/grade"
	"github.com/school-hub/gradebook/internal/domain/shared"
	schoolapi "github.com/school-hub/gradebook/internal/infrastructure/external/school"
	"github.com/school-hub/gradebook/pkg/metrics"
)

// Coordinator serializes grade mutations per student and reconciles the
// read cache after each one.
type Coordinator struct {
	client  *schoolapi.Client
	queries *query.Service
	logger  *slog.Logger
	metrics *metrics.Manager

	mu       sync.Mutex
	inflight map[int]struct{} // studentID -> active mutation
}

// NewCoordinator creates a mutation coordinator.
func NewCoordinator(client *schoolapi.Client, queries *query.Service, logger *slog.Logger, m *metrics.Manager) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.Nop()
	}
	return &Coordinator{
		client:   client,
		queries:  queries,
		logger:   logger,
		metrics:  m,
		inflight: make(map[int]struct{}),
	}
}

// SaveGradeInput carries one create or update. GradeID zero means
// create. Key is the grade page currently on screen; the server's
// response is written through to exactly that entry.
type SaveGradeInput struct {
	StudentID int
	GradeID   int
	Subject   grade.Subject
	Score     int
	Key       view.GradesKey
}

func (in SaveGradeInput) validate() error {
	if in.StudentID <= 0 {
		return shared.NewValidationError("student_id", shared.ErrMissingStudent,
			"select a student first")
	}
	if err := grade.ValidateSubject(in.Subject); err != nil {
		return err
	}
	return grade.ValidateScore(in.Score)
}

// SaveGrade creates or updates a grade. Validation happens before any
// network traffic; invalid input never reaches the server. At most one
// mutation per student runs at a time.
func (c *Coordinator) SaveGrade(ctx context.Context, in SaveGradeInput) (grade.Collection, error) {
	op := "update"
	if in.GradeID == 0 {
		op = "create"
	}

	if err := in.validate(); err != nil {
		c.metrics.Mutation(op, "rejected")
		return grade.Collection{}, err
	}
	release, err := c.acquire(in.StudentID)
	if err != nil {
		c.metrics.Mutation(op, "busy")
		return grade.Collection{}, err
	}
	defer release()

	var col grade.Collection
	if in.GradeID == 0 {
		col, err = c.client.CreateGrade(ctx, schoolapi.GradeCreateDTO{
			StudentID: in.StudentID,
			Subject:   string(in.Subject),
			Score:     in.Score,
		})
	} else {
		col, err = c.client.UpdateGrade(ctx, in.GradeID, schoolapi.GradeUpdateDTO{
			Subject: string(in.Subject),
			Score:   in.Score,
		})
	}
	if err != nil {
		c.metrics.Mutation(op, "error")
		c.logger.Warn("grade mutation failed",
			"operation", op, "student_id", in.StudentID, "error", err)
		return grade.Collection{}, err
	}

	c.reconcile(in.Key, in.StudentID, col)
	c.metrics.Mutation(op, "ok")
	c.logger.Info("grade saved",
		"operation", op, "student_id", in.StudentID, "subject", string(in.Subject))
	return col, nil
}

// DeleteGrade removes a grade and reconciles the cache with the
// server's updated page.
func (c *Coordinator) DeleteGrade(ctx context.Context, studentID, gradeID int, key view.GradesKey) (grade.Collection, error) {
	if studentID <= 0 {
		c.metrics.Mutation("delete", "rejected")
		return grade.Collection{}, shared.NewValidationError("student_id", shared.ErrMissingStudent,
			"select a student first")
	}
	if gradeID <= 0 {
		c.metrics.Mutation("delete", "rejected")
		return grade.Collection{}, shared.NewValidationError("grade_id", shared.ErrEmptyValue,
			"grade id is required")
	}
	release, err := c.acquire(studentID)
	if err != nil {
		c.metrics.Mutation("delete", "busy")
		return grade.Collection{}, err
	}
	defer release()

	col, err := c.client.DeleteGrade(ctx, gradeID)
	if err != nil {
		c.metrics.Mutation("delete", "error")
		c.logger.Warn("grade delete failed",
			"student_id", studentID, "grade_id", gradeID, "error", err)
		return grade.Collection{}, err
	}

	c.reconcile(key, studentID, col)
	c.metrics.Mutation("delete", "ok")
	return col, nil
}

// InFlight reports whether a mutation for studentID is currently
// running. The dashboard disables the grade form while this holds.
func (c *Coordinator) InFlight(studentID int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, busy := c.inflight[studentID]
	return busy
}

// reconcile writes the confirmed collection into the grades cache and
// drops the student's stats snapshot, which the server will recompute.
func (c *Coordinator) reconcile(key view.GradesKey, studentID int, col grade.Collection) {
	c.queries.ApplyGradeWrite(key, col)
	c.queries.InvalidateStats(studentID)
}

func (c *Coordinator) acquire(studentID int) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[studentID]; busy {
		return nil, shared.ErrMutationInFlight
	}
	c.inflight[studentID] = struct{}{}
	return func() {
		c.mu.Lock()
		delete(c.inflight, studentID)
		c.mu.Unlock()
	}, nil
}
