package hse

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wellhead-erp/wellhead/internal/audit"
	"github.com/wellhead-erp/wellhead/internal/workflow"
)

// PermitService manages permits to work and their gas tests.
type PermitService struct {
	base
}

// NewPermitService constructs the permit service.
func NewPermitService(repo RepositoryPort, engine *workflow.Engine, history HistoryPort, opts Options) *PermitService {
	return &PermitService{base: newBase(repo, engine, history, opts)}
}

// CreatePermitInput drafts a permit.
type CreatePermitInput struct {
	Number      string     `json:"number" validate:"omitempty,max=64"`
	Type        PermitType `json:"type" validate:"required"`
	Location    string     `json:"location" validate:"required,max=120"`
	Description string     `json:"description" validate:"max=500"`
	ValidFrom   time.Time  `json:"valid_from" validate:"required"`
	ValidTo     time.Time  `json:"valid_to" validate:"required"`
}

// GasTestInput records atmospheric readings.
type GasTestInput struct {
	OxygenPct decimal.Decimal `json:"oxygen_pct"`
	LELPct    decimal.Decimal `json:"lel_pct"`
	H2SPPM    decimal.Decimal `json:"h2s_ppm"`
	COPPM     decimal.Decimal `json:"co_ppm"`
}

// CreateDraft persists a permit in DRAFT.
func (s *PermitService) CreateDraft(ctx context.Context, actor workflow.Actor, input CreatePermitInput) (WorkPermit, error) {
	if !input.Type.Valid() {
		return WorkPermit{}, fmt.Errorf("%w: unknown permit type %q", ErrValidation, input.Type)
	}
	if strings.TrimSpace(input.Location) == "" {
		return WorkPermit{}, fmt.Errorf("%w: location required", ErrValidation)
	}
	if !input.ValidTo.After(input.ValidFrom) {
		return WorkPermit{}, fmt.Errorf("%w: valid_to must be after valid_from", ErrValidation)
	}
	number := strings.TrimSpace(input.Number)
	if number == "" {
		number = fmt.Sprintf("PTW-%d", s.now().UnixNano())
	}
	p := WorkPermit{
		Number:      number,
		Type:        input.Type,
		Location:    strings.TrimSpace(input.Location),
		Description: input.Description,
		Status:      PermitDraft,
		ValidFrom:   input.ValidFrom.UTC(),
		ValidTo:     input.ValidTo.UTC(),
		RequestedBy: actor.ID,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreatePermit(ctx, p)
		if err != nil {
			return err
		}
		p.ID = id
		return tx.RecordAudit(ctx, s.auditLog(actor, "PERMIT_CREATE", "work_permit", id, map[string]any{"number": number, "type": string(p.Type)}))
	})
	if err != nil {
		return WorkPermit{}, err
	}
	return p, nil
}

// Get returns a permit with its gas tests.
func (s *PermitService) Get(ctx context.Context, id int64) (WorkPermit, error) {
	return s.repo.GetPermit(ctx, id)
}

// Transition moves a permit along its lifecycle. Resuming looks up the
// latest suspension in the trail so the gas test guard can demand a fresh
// reading.
func (s *PermitService) Transition(ctx context.Context, id int64, actor workflow.Actor, action workflow.Action, reason string) (WorkPermit, error) {
	req := workflow.Request{DocType: DocTypePermit, DocID: id, Action: action, Actor: actor, Reason: reason}
	load := func(ctx context.Context, req *workflow.Request) error {
		p, err := s.repo.GetPermit(ctx, id)
		if err != nil {
			return err
		}
		subject := PermitSubject{Permit: p, Now: s.now()}
		if action == workflow.ActionResume {
			if subject.SuspendedAt, err = s.lastSuspension(ctx, id); err != nil {
				return err
			}
		}
		req.Number = p.Number
		req.From = workflow.State(p.Status)
		req.Subject = subject
		req.Meta = map[string]any{"type": string(p.Type), "location": p.Location}
		return nil
	}
	_, err := s.engine.Execute(ctx, req, load, func(ctx context.Context, step workflow.Step) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if err := tx.UpdatePermitStatus(ctx, id, PermitStatus(step.From), PermitStatus(step.To)); err != nil {
				return err
			}
			return tx.InsertTransition(ctx, step)
		})
	})
	if err != nil {
		return WorkPermit{}, err
	}
	return s.repo.GetPermit(ctx, id)
}

func (s *PermitService) lastSuspension(ctx context.Context, id int64) (time.Time, error) {
	entries, err := s.history.History(ctx, DocTypePermit, id)
	if err != nil {
		return time.Time{}, err
	}
	var at time.Time
	for _, e := range entries {
		if e.Action == workflow.ActionSuspend && e.At.After(at) {
			at = e.At
		}
	}
	return at, nil
}

// AvailableActions lists the actions actor may attempt on the permit.
func (s *PermitService) AvailableActions(ctx context.Context, id int64, actor workflow.Actor) ([]workflow.Action, error) {
	p, err := s.repo.GetPermit(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.engine.Available(DocTypePermit, workflow.State(p.Status), actor)
}

// History returns the transition trail of the permit.
func (s *PermitService) History(ctx context.Context, id int64) ([]audit.Entry, error) {
	if _, err := s.repo.GetPermit(ctx, id); err != nil {
		return nil, err
	}
	return s.history.History(ctx, DocTypePermit, id)
}

// RecordGasTest stores a reading against an approved, active or suspended
// permit. The pass flag is derived from the atmospheric limits.
func (s *PermitService) RecordGasTest(ctx context.Context, actor workflow.Actor, permitID int64, input GasTestInput) (GasTest, error) {
	for _, v := range []decimal.Decimal{input.OxygenPct, input.LELPct, input.H2SPPM, input.COPPM} {
		if v.IsNegative() {
			return GasTest{}, fmt.Errorf("%w: readings must not be negative", ErrValidation)
		}
	}
	g := GasTest{
		PermitID:  permitID,
		OxygenPct: input.OxygenPct,
		LELPct:    input.LELPct,
		H2SPPM:    input.H2SPPM,
		COPPM:     input.COPPM,
		TestedBy:  actor.ID,
		TestedAt:  s.now().UTC(),
	}
	g.Passed = g.Evaluate()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		status, err := tx.LockPermit(ctx, permitID)
		if err != nil {
			return err
		}
		switch status {
		case PermitApproved, PermitActive, PermitSuspended:
		default:
			return fmt.Errorf("%w: permit is %s", ErrPermitNotOpen, status)
		}
		id, err := tx.InsertGasTest(ctx, g)
		if err != nil {
			return err
		}
		g.ID = id
		return tx.RecordAudit(ctx, s.auditLog(actor, "PERMIT_GAS_TEST", "work_permit", permitID, map[string]any{"passed": g.Passed}))
	})
	if err != nil {
		return GasTest{}, err
	}
	if !g.Passed {
		s.logger.Warn("gas test failed", slog.Int64("doc_id", permitID), slog.String("oxygen_pct", g.OxygenPct.String()), slog.String("lel_pct", g.LELPct.String()))
	}
	return g, nil
}

// ExpireDue expires permits whose validity window has ended, using the system
// actor. Individual failures are logged and skipped.
func (s *PermitService) ExpireDue(ctx context.Context, limit int) (int, error) {
	ids, err := s.repo.ListExpirablePermits(ctx, s.now(), limit)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		if _, err := s.Transition(ctx, id, workflow.SystemActor, workflow.ActionExpire, "validity window ended"); err != nil {
			s.logger.Warn("permit expiry skipped", slog.Int64("doc_id", id), slog.Any("error", err))
			continue
		}
		expired++
	}
	return expired, nil
}
