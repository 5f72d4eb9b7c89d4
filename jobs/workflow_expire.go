package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	jobmetrics "github.com/wellhead-erp/wellhead/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// Sweeper expires due documents of one type through the workflow engine and
// reports how many moved.
type Sweeper interface {
	ExpireDue(ctx context.Context, limit int) (int, error)
}

// WorkflowExpireJob runs every registered sweeper concurrently.
type WorkflowExpireJob struct {
	Sweepers map[string]Sweeper
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewWorkflowExpireJob wires sweepers keyed by document type.
func NewWorkflowExpireJob(sweepers map[string]Sweeper, logger *slog.Logger, metrics *jobmetrics.Metrics) *WorkflowExpireJob {
	return &WorkflowExpireJob{Sweepers: sweepers, Logger: logger, Metrics: metrics}
}

// Handle processes TaskWorkflowExpire tasks. A failing sweeper does not stop
// the others; the first error is returned so asynq retries the task.
func (j *WorkflowExpireJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || len(j.Sweepers) == 0 {
		return errors.New("workflow expire: handler not configured")
	}
	var payload WorkflowExpirePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("workflow expire: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.Limit <= 0 {
		payload.Limit = defaultExpireLimit
	}

	tracker := j.metrics().Track(TaskWorkflowExpire)
	start := time.Now()
	logger := j.logger()

	docTypes := make([]string, 0, len(j.Sweepers))
	for docType := range j.Sweepers {
		docTypes = append(docTypes, docType)
	}
	sort.Strings(docTypes)

	counts := make([]int, len(docTypes))
	var g errgroup.Group
	for i, docType := range docTypes {
		g.Go(func() error {
			n, err := j.Sweepers[docType].ExpireDue(ctx, payload.Limit)
			counts[i] = n
			if err != nil {
				logger.Error("expiry sweep", slog.String("doc_type", docType), slog.Any("error", err))
				return fmt.Errorf("workflow expire %s: %w", docType, err)
			}
			return nil
		})
	}
	err := g.Wait()

	total := 0
	for i, docType := range docTypes {
		total += counts[i]
		j.metrics().AddSwept(TaskWorkflowExpire, docType, int64(counts[i]))
	}
	logger.Info("expiry sweep completed", slog.Int("expired", total), slog.Duration("duration", time.Since(start)))
	return tracker.End(err)
}

func (j *WorkflowExpireJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskWorkflowExpire))
	}
	return slog.Default().With(slog.String("job", TaskWorkflowExpire))
}

func (j *WorkflowExpireJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
