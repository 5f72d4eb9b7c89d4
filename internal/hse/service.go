package hse

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/wellhead-erp/wellhead/internal/audit"
	"github.com/wellhead-erp/wellhead/internal/workflow"
)

// RepositoryPort describes repository operations used by the HSE services.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPermit(ctx context.Context, id int64) (WorkPermit, error)
	GetInspection(ctx context.Context, id int64) (Inspection, error)
	ListExpirablePermits(ctx context.Context, now time.Time, limit int) ([]int64, error)
}

// HistoryPort reads the transition trail.
type HistoryPort interface {
	History(ctx context.Context, docType workflow.DocType, docID int64) ([]audit.Entry, error)
}

// Options tunes the HSE services.
type Options struct {
	Logger *slog.Logger
	Now    func() time.Time
}

type base struct {
	repo    RepositoryPort
	engine  *workflow.Engine
	history HistoryPort
	logger  *slog.Logger
	now     func() time.Time
}

func newBase(repo RepositoryPort, engine *workflow.Engine, history HistoryPort, opts Options) base {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return base{repo: repo, engine: engine, history: history, logger: opts.Logger, now: opts.Now}
}

func (b base) auditLog(actor workflow.Actor, action, entity string, id int64, meta map[string]any) audit.Log {
	return audit.Log{ActorID: actor.ID, Action: action, Entity: entity, EntityID: strconv.FormatInt(id, 10), Meta: meta, At: b.now().UTC()}
}
