package saga

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/school-hub/gradebook/internal/application/query"
	"github.com/school-hub/gradebook/internal/domain/shared"
	schoolapi "github.com/school-hub/gradebook/internal/infrastructure/external/school"
)

type staticTokens string

func (s staticTokens) Token() string { return string(s) }

type reportServer struct {
	notReadyCount int64 // number of 404s before the PDF appears
	failDownload  bool
	failTrigger   bool

	triggers  atomic.Int64
	downloads atomic.Int64
}

func (s *reportServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/generate-report/7":
			s.triggers.Add(1)
			if s.failTrigger {
				http.Error(w, `{"detail":"generator down"}`, http.StatusInternalServerError)
				return
			}
			w.Write([]byte(`{"message":"started"}`))
		case "/download-report/7":
			n := s.downloads.Add(1)
			switch {
			case s.failDownload:
				http.Error(w, `{"detail":"disk full"}`, http.StatusInternalServerError)
			case n <= s.notReadyCount:
				http.Error(w, `{"detail":"Report not found"}`, http.StatusNotFound)
			default:
				w.Write([]byte("%PDF-1.4 report"))
			}
		default:
			http.NotFound(w, r)
		}
	}
}

func newDelivery(t *testing.T, srv *reportServer, maxAttempts int) (*Delivery, *atomic.Int64) {
	t.Helper()
	ts := httptest.NewServer(srv.handler())
	t.Cleanup(ts.Close)

	client := schoolapi.NewClient(schoolapi.DefaultClientConfig(ts.URL), staticTokens("tok"))
	queries := query.NewService(context.Background(), client, query.Config{})

	cfg := DefaultDeliveryConfig(t.TempDir())
	cfg.MaxAttempts = maxAttempts
	d := NewDelivery(client, queries, cfg)

	var sleeps atomic.Int64
	d.sleep = func(ctx context.Context, _ time.Duration) error {
		sleeps.Add(1)
		return ctx.Err()
	}
	return d, &sleeps
}

func TestDeliver_PollsUntilReady(t *testing.T) {
	srv := &reportServer{notReadyCount: 3}
	d, sleeps := newDelivery(t, srv, 10)

	job, err := d.Deliver(context.Background(), 7)
	require.NoError(t, err)

	assert.Equal(t, StateDelivered, job.State)
	assert.Equal(t, 4, job.Attempts, "three not-ready responses, then the PDF")
	assert.Equal(t, int64(1), srv.triggers.Load())
	assert.Equal(t, int64(4), srv.downloads.Load())
	assert.Equal(t, int64(3), sleeps.Load(), "no wait after the final download")

	data, err := os.ReadFile(job.Path)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4 report"), data)
}

func TestDeliver_ImmediateHitSkipsWaiting(t *testing.T) {
	srv := &reportServer{}
	d, sleeps := newDelivery(t, srv, 10)

	job, err := d.Deliver(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, int64(0), sleeps.Load())
}

func TestDeliver_TimesOutAfterAttemptBudget(t *testing.T) {
	srv := &reportServer{notReadyCount: 1 << 30}
	d, sleeps := newDelivery(t, srv, 10)

	job, err := d.Deliver(context.Background(), 7)
	require.ErrorIs(t, err, shared.ErrReportTimeout)

	assert.Equal(t, StateTimedOut, job.State)
	assert.Equal(t, 10, job.Attempts)
	assert.Equal(t, int64(10), srv.downloads.Load(), "never an eleventh attempt")
	assert.Equal(t, int64(9), sleeps.Load())
}

func TestDeliver_NonNotFoundErrorFailsImmediately(t *testing.T) {
	srv := &reportServer{failDownload: true}
	d, _ := newDelivery(t, srv, 10)

	job, err := d.Deliver(context.Background(), 7)
	require.ErrorIs(t, err, shared.ErrServer)
	assert.Equal(t, StateFailed, job.State)
	assert.Equal(t, int64(1), srv.downloads.Load(), "a real failure is not retried as not-ready")
}

func TestDeliver_TriggerFailure(t *testing.T) {
	srv := &reportServer{failTrigger: true}
	d, _ := newDelivery(t, srv, 10)

	job, err := d.Deliver(context.Background(), 7)
	require.Error(t, err)
	assert.Equal(t, StateFailed, job.State)
	assert.Equal(t, int64(0), srv.downloads.Load())
}

func TestDeliver_CancelledBetweenPolls(t *testing.T) {
	srv := &reportServer{notReadyCount: 1 << 30}
	d, _ := newDelivery(t, srv, 10)

	ctx, cancel := context.WithCancel(context.Background())
	d.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	job, err := d.Deliver(ctx, 7)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFailed, job.State)
	assert.Equal(t, int64(1), srv.downloads.Load())
}

func TestDeliver_OneJobPerStudent(t *testing.T) {
	srv := &reportServer{notReadyCount: 1 << 30}
	d, _ := newDelivery(t, srv, 10)

	block := make(chan struct{})
	d.sleep = func(ctx context.Context, _ time.Duration) error {
		<-block
		return nil
	}

	errs := make(chan error, 1)
	go func() {
		_, err := d.Deliver(context.Background(), 7)
		errs <- err
	}()

	require.Eventually(t, func() bool {
		return d.Active(7)
	}, time.Second, time.Millisecond)

	_, err := d.Deliver(context.Background(), 7)
	assert.ErrorIs(t, err, shared.ErrReportInFlight)

	close(block)
	require.ErrorIs(t, <-errs, shared.ErrReportTimeout)
	assert.False(t, d.Active(7))
}

func TestDeliver_RequiresStudent(t *testing.T) {
	srv := &reportServer{}
	d, _ := newDelivery(t, srv, 10)

	_, err := d.Deliver(context.Background(), 0)
	assert.True(t, shared.IsValidation(err))
	assert.Equal(t, int64(0), srv.triggers.Load())
}
