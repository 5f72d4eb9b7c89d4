package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// HistoryReader answers segregation-of-duties lookups from the transition trail.
type HistoryReader interface {
	LastActor(ctx context.Context, docType DocType, docID int64, action Action) (int64, bool, error)
}

// Locker serialises transitions per document.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// Notifier receives committed transitions. Failures are logged only.
type Notifier interface {
	Notify(ctx context.Context, step Step) error
}

// ApplyFunc persists a planned step. Implementations must update the document
// with compare-and-set on step.From and append the trail row in the same
// transaction.
type ApplyFunc func(ctx context.Context, step Step) error

// Options configures an Engine.
type Options struct {
	History   HistoryReader
	Locker    Locker
	LockTTL   time.Duration
	Notifiers []Notifier
	Metrics   *Metrics
	Logger    *slog.Logger
	Now       func() time.Time
}

// Engine validates and executes document transitions.
type Engine struct {
	registry  *Registry
	history   HistoryReader
	locker    Locker
	lockTTL   time.Duration
	notifiers []Notifier
	metrics   *Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewEngine builds an Engine over registry.
func NewEngine(registry *Registry, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Second
	}
	return &Engine{
		registry:  registry,
		history:   opts.History,
		locker:    opts.Locker,
		lockTTL:   opts.LockTTL,
		notifiers: opts.Notifiers,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		now:       opts.Now,
	}
}

// Registry exposes the engine's definitions.
func (e *Engine) Registry() *Registry { return e.registry }

// Plan checks req against the lifecycle and returns the resulting step
// without side effects.
func (e *Engine) Plan(ctx context.Context, req Request) (Step, error) {
	m, err := e.registry.Machine(req.DocType)
	if err != nil {
		return Step{}, err
	}
	t, ok := m.Lookup(req.From, req.Action)
	if !ok {
		return Step{}, &TransitionError{DocType: req.DocType, From: req.From, Action: req.Action, Err: ErrInvalidTransition}
	}
	if req.Actor.ID == 0 && !req.Actor.IsSystem() {
		return Step{}, &TransitionError{DocType: req.DocType, From: req.From, Action: req.Action, Err: ErrForbidden}
	}
	if !roleAllowed(t, req.Actor) {
		return Step{}, &TransitionError{DocType: req.DocType, From: req.From, Action: req.Action, Err: ErrForbidden}
	}
	reason := strings.TrimSpace(req.Reason)
	if t.RequireReason && reason == "" {
		return Step{}, &TransitionError{DocType: req.DocType, From: req.From, Action: req.Action, Err: ErrReasonRequired}
	}
	if t.SegregateFrom != "" && e.history != nil && !req.Actor.IsSystem() {
		last, found, err := e.history.LastActor(ctx, req.DocType, req.DocID, t.SegregateFrom)
		if err != nil {
			return Step{}, fmt.Errorf("workflow: history lookup: %w", err)
		}
		if found && last == req.Actor.ID {
			return Step{}, &TransitionError{DocType: req.DocType, From: req.From, Action: req.Action, Err: ErrSegregationOfDuties}
		}
	}
	for _, g := range t.Guards {
		if g.Check == nil {
			continue
		}
		if err := g.Check(ctx, req.Subject); err != nil {
			return Step{}, &GuardError{Guard: g.Name, Err: err}
		}
	}
	return Step{
		DocType: req.DocType,
		DocID:   req.DocID,
		Number:  req.Number,
		Action:  req.Action,
		From:    req.From,
		To:      t.To,
		ActorID: req.Actor.ID,
		Reason:  reason,
		At:      e.now().UTC(),
		Meta:    req.Meta,
	}, nil
}

// LoadFunc fills req with the document as read under its lock: From,
// Number, Subject and Meta.
type LoadFunc func(ctx context.Context, req *Request) error

// Run locks the document, plans req, applies it and notifies listeners.
func (e *Engine) Run(ctx context.Context, req Request, apply ApplyFunc) (Step, error) {
	return e.Execute(ctx, req, nil, apply)
}

// Execute locks the document named by req.DocType and req.DocID, lets load
// read the current document into req and runs it while the lock is held, so
// guards check the state the transition is applied to.
func (e *Engine) Execute(ctx context.Context, req Request, load LoadFunc, apply ApplyFunc) (Step, error) {
	start := time.Now()
	if apply == nil {
		return Step{}, errors.New("workflow: apply func required")
	}
	release, err := e.Hold(ctx, req.DocType, req.DocID)
	if err != nil {
		e.metrics.observe(req.DocType, req.Action, "locked", start)
		return Step{}, err
	}
	defer release()
	if load != nil {
		if err := load(ctx, &req); err != nil {
			return Step{}, err
		}
	}
	return e.RunHeld(ctx, req, apply)
}

// Hold acquires the lock of one document. Without a locker the release is a
// no-op.
func (e *Engine) Hold(ctx context.Context, docType DocType, docID int64) (func(), error) {
	if e.locker == nil {
		return func() {}, nil
	}
	return e.locker.Acquire(ctx, LockKey(docType, docID), e.lockTTL)
}

// RunHeld is Run for callers that already hold the document lock, such as
// settlement flows that move a document as a side effect.
func (e *Engine) RunHeld(ctx context.Context, req Request, apply ApplyFunc) (Step, error) {
	start := time.Now()
	if apply == nil {
		return Step{}, errors.New("workflow: apply func required")
	}
	step, err := e.Plan(ctx, req)
	if err != nil {
		e.metrics.observe(req.DocType, req.Action, "rejected", start)
		e.logger.Info("transition rejected",
			slog.String("doc_type", string(req.DocType)),
			slog.Int64("doc_id", req.DocID),
			slog.String("action", string(req.Action)),
			slog.String("from", string(req.From)),
			slog.Int64("actor_id", req.Actor.ID),
			slog.Any("error", err))
		return Step{}, err
	}
	if err := apply(ctx, step); err != nil {
		e.metrics.observe(req.DocType, req.Action, "error", start)
		return Step{}, err
	}
	e.metrics.observe(req.DocType, req.Action, "ok", start)
	e.logger.Info("transition committed",
		slog.String("doc_type", string(step.DocType)),
		slog.Int64("doc_id", step.DocID),
		slog.String("action", string(step.Action)),
		slog.String("from", string(step.From)),
		slog.String("to", string(step.To)),
		slog.Int64("actor_id", step.ActorID))
	for _, n := range e.notifiers {
		if err := n.Notify(ctx, step); err != nil {
			e.logger.Warn("transition notify", slog.String("doc_type", string(step.DocType)), slog.Int64("doc_id", step.DocID), slog.Any("error", err))
		}
	}
	return step, nil
}

// Available lists actions the actor may attempt on a document in state from.
func (e *Engine) Available(docType DocType, from State, actor Actor) ([]Action, error) {
	m, err := e.registry.Machine(docType)
	if err != nil {
		return nil, err
	}
	return m.Available(from, actor), nil
}

// LockKey builds the redis key guarding a document.
func LockKey(docType DocType, docID int64) string {
	return fmt.Sprintf("workflow:%s:%d", strings.ToLower(string(docType)), docID)
}
