// Package saga coordinates the multi-step report delivery flow: trigger
// generation on the server, then poll the download endpoint until the
// PDF exists or the attempt budget runs out. Generation time is not
// observable, so a not-found response during polling means "not ready
// yet", never failure.
package saga

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/school-hub/gradebook/internal/application/query"
	"github.com/school-hub/gradebook/internal/domain/shared"
	schoolapi "github.com/school-hub/gradebook/internal/infrastructure/external/school"
	"github.com/school-hub/gradebook/pkg/metrics"
)

// JobState is the lifecycle state of one report delivery job.
type JobState string

const (
	StateIdle       JobState = "idle"
	StateTriggering JobState = "triggering"
	StatePolling    JobState = "polling"
	StateDelivered  JobState = "delivered"
	StateTimedOut   JobState = "timed_out"
	StateFailed     JobState = "failed"
)

// ReportJob is the record of one delivery attempt.
type ReportJob struct {
	ID         string
	StudentID  int
	State      JobState
	Attempts   int
	Path       string // local path of the delivered PDF
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// DeliveryConfig tunes the poll loop.
type DeliveryConfig struct {
	// MaxAttempts bounds the number of download tries per job.
	MaxAttempts int

	// PollInterval is the fixed wait between download tries.
	PollInterval time.Duration

	// DownloadDir receives the delivered PDFs.
	DownloadDir string

	Logger  *slog.Logger
	Metrics *metrics.Manager
}

// DefaultDeliveryConfig matches the server's expected generation time:
// ten one-second tries cover it comfortably.
func DefaultDeliveryConfig(downloadDir string) DeliveryConfig {
	return DeliveryConfig{
		MaxAttempts:  10,
		PollInterval: 1 * time.Second,
		DownloadDir:  downloadDir,
	}
}

// Delivery runs report jobs. At most one job per student is active at a
// time; a second request while one runs is rejected, not queued.
type Delivery struct {
	client  *schoolapi.Client
	queries *query.Service
	config  DeliveryConfig
	logger  *slog.Logger
	metrics *metrics.Manager

	// sleep is swapped out in tests to avoid real one-second waits.
	sleep func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	active map[int]*ReportJob
}

// NewDelivery creates the report delivery coordinator.
func NewDelivery(client *schoolapi.Client, queries *query.Service, config DeliveryConfig) *Delivery {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 10
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 1 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Metrics == nil {
		config.Metrics = metrics.Nop()
	}
	return &Delivery{
		client:  client,
		queries: queries,
		config:  config,
		logger:  config.Logger,
		metrics: config.Metrics,
		sleep:   sleepCtx,
		active:  make(map[int]*ReportJob),
	}
}

// Active reports whether a job for studentID is currently running.
func (d *Delivery) Active(studentID int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, busy := d.active[studentID]
	return busy
}

// Deliver runs one report job to completion and returns its final
// record. Cancelling ctx stops the job between poll attempts; the
// server keeps generating, but nothing more is downloaded.
func (d *Delivery) Deliver(ctx context.Context, studentID int) (*ReportJob, error) {
	job, err := d.begin(studentID)
	if err != nil {
		return nil, err
	}
	defer d.finish(job)

	log := d.logger.With("job_id", job.ID, "student_id", studentID)

	d.transition(job, StateTriggering)
	if err := d.client.GenerateReport(ctx, studentID); err != nil {
		d.fail(job, err)
		log.Warn("report trigger failed", "error", err)
		return job, err
	}

	d.transition(job, StatePolling)
	for attempt := 1; attempt <= d.config.MaxAttempts; attempt++ {
		job.Attempts = attempt

		data, err := d.client.DownloadReport(ctx, studentID)
		if err == nil {
			path, werr := d.writePDF(job, data)
			if werr != nil {
				d.fail(job, werr)
				return job, werr
			}
			job.Path = path
			d.transition(job, StateDelivered)
			d.metrics.ReportPollAttempts(attempt)
			d.queries.InvalidateReports(studentID)
			log.Info("report delivered", "attempt", attempt, "path", path)
			return job, nil
		}

		if !shared.IsNotFound(err) {
			d.fail(job, err)
			log.Warn("report download failed", "attempt", attempt, "error", err)
			return job, err
		}

		// Not ready yet. Wait out the interval unless this was the last try.
		if attempt == d.config.MaxAttempts {
			break
		}
		if err := d.sleep(ctx, d.config.PollInterval); err != nil {
			d.fail(job, err)
			log.Info("report job cancelled", "attempt", attempt)
			return job, err
		}
	}

	d.transition(job, StateTimedOut)
	job.Err = shared.ErrReportTimeout
	d.metrics.ReportPollAttempts(job.Attempts)
	log.Warn("report not ready after final attempt", "attempts", job.Attempts)
	return job, shared.ErrReportTimeout
}

func (d *Delivery) begin(studentID int) (*ReportJob, error) {
	if studentID <= 0 {
		return nil, shared.NewValidationError("student_id", shared.ErrMissingStudent,
			"select a student first")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.active[studentID]; busy {
		return nil, shared.ErrReportInFlight
	}
	job := &ReportJob{
		ID:        uuid.NewString(),
		StudentID: studentID,
		State:     StateIdle,
		StartedAt: time.Now(),
	}
	d.active[studentID] = job
	return job, nil
}

func (d *Delivery) finish(job *ReportJob) {
	job.FinishedAt = time.Now()
	d.mu.Lock()
	delete(d.active, job.StudentID)
	d.mu.Unlock()
}

func (d *Delivery) transition(job *ReportJob, next JobState) {
	job.State = next
	d.metrics.ReportJob(string(next))
}

func (d *Delivery) fail(job *ReportJob, err error) {
	job.Err = err
	d.transition(job, StateFailed)
}

func (d *Delivery) writePDF(job *ReportJob, data []byte) (string, error) {
	dir := d.config.DownloadDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}
	name := fmt.Sprintf("report_%d_%s.pdf", job.StudentID, job.ID[:8])
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
