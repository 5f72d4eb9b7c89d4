package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/wellhead-erp/wellhead/internal/jobs"
)

type fakeSweeper struct {
	mu     sync.Mutex
	n      int
	err    error
	limits []int
}

func (f *fakeSweeper) ExpireDue(ctx context.Context, limit int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limits = append(f.limits, limit)
	return f.n, f.err
}

func TestWorkflowExpireRunsEverySweeper(t *testing.T) {
	quotes := &fakeSweeper{n: 2}
	permits := &fakeSweeper{n: 1}
	job := NewWorkflowExpireJob(map[string]Sweeper{"QUOTE": quotes, "WORK_PERMIT": permits}, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewWorkflowExpireTask(0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, []int{defaultExpireLimit}, quotes.limits)
	require.Equal(t, []int{defaultExpireLimit}, permits.limits)
}

func TestWorkflowExpireFailureDoesNotStopOthers(t *testing.T) {
	boom := errors.New("db down")
	quotes := &fakeSweeper{err: boom}
	permits := &fakeSweeper{n: 4}
	job := NewWorkflowExpireJob(map[string]Sweeper{"QUOTE": quotes, "WORK_PERMIT": permits}, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewWorkflowExpireTask(10)
	require.NoError(t, err)
	err = job.Handle(context.Background(), task)
	require.ErrorIs(t, err, boom)
	require.Equal(t, []int{10}, permits.limits)
}

func TestWorkflowExpireRejectsBadPayload(t *testing.T) {
	job := NewWorkflowExpireJob(map[string]Sweeper{"QUOTE": &fakeSweeper{}}, nil, nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskWorkflowExpire, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	var empty *WorkflowExpireJob
	require.Error(t, empty.Handle(context.Background(), asynq.NewTask(TaskWorkflowExpire, nil)))
}

type fakeCleaner struct {
	olderThan time.Duration
	removed   int64
}

func (f *fakeCleaner) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	f.olderThan = olderThan
	return f.removed, nil
}

func TestIdempotencyCleanupRetention(t *testing.T) {
	store := &fakeCleaner{removed: 12}
	job := NewIdempotencyCleanupJob(store, 720*time.Hour, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewIdempotencyCleanupTask(0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 720*time.Hour, store.olderThan)

	task, err = NewIdempotencyCleanupTask(48 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 48*time.Hour, store.olderThan)

	body, err := json.Marshal(IdempotencyCleanupPayload{Retention: "soon"})
	require.NoError(t, err)
	require.ErrorIs(t, job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, body)), asynq.SkipRetry)
}

type fakeInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (f fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) { return f.info, f.err }

func TestHealthHandler(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(fakeInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 3, Retry: 1}}, nil).MountRoutes(r)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var out queueHealth
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	require.Equal(t, 3, out.Pending)
	require.Equal(t, 1, out.Retry)

	r = chi.NewRouter()
	NewHandler(fakeInspector{err: errors.New("redis down")}, nil).MountRoutes(r)
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestClientTriggerRejectsUnknownJob(t *testing.T) {
	client := NewClient(asynq.RedisClientOpt{Addr: "127.0.0.1:0"})
	defer client.Close()
	_, err := client.Trigger(context.Background(), "mail:send")
	require.ErrorContains(t, err, "unsupported job")

	var missing *Client
	_, err = missing.Trigger(context.Background(), TaskWorkflowExpire)
	require.Error(t, err)
}
