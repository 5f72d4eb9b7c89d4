package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Log is a non-transition audit record such as a settlement or stock move.
type Log struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

func (l Log) validate() error {
	if l.Action == "" || l.Entity == "" || l.EntityID == "" {
		return errors.New("audit: log requires action/entity/entity_id")
	}
	return nil
}

// WriteLog persists l through exec, usually the caller's transaction.
func WriteLog(ctx context.Context, exec Executor, l Log) error {
	if err := l.validate(); err != nil {
		return err
	}
	metaJSON, err := json.Marshal(l.Meta)
	if err != nil {
		return err
	}
	var at any
	if !l.At.IsZero() {
		at = l.At
	}
	_, err = exec.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at) VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`,
		l.ActorID, l.Action, l.Entity, l.EntityID, metaJSON, at)
	return err
}
