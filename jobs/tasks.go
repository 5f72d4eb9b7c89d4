package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskWorkflowExpire expires quotes and work permits past their validity.
	TaskWorkflowExpire = "workflow:expire"
	// TaskIdempotencyCleanup prunes processed request keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"

	defaultExpireLimit = 200
)

// WorkflowExpirePayload bounds one expiry sweep per document type.
type WorkflowExpirePayload struct {
	Limit int `json:"limit"`
}

// IdempotencyCleanupPayload overrides the configured retention when set.
type IdempotencyCleanupPayload struct {
	Retention string `json:"retention,omitempty"`
}

// NewWorkflowExpireTask constructs the expiry sweep task.
func NewWorkflowExpireTask(limit int) (*asynq.Task, error) {
	body, err := json.Marshal(WorkflowExpirePayload{Limit: limit})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskWorkflowExpire, body, asynq.Queue(QueueDefault)), nil
}

// NewIdempotencyCleanupTask constructs the cleanup task. A zero retention
// keeps the worker's configured value.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	payload := IdempotencyCleanupPayload{}
	if retention > 0 {
		payload.Retention = retention.String()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
