package hse

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wellhead-erp/wellhead/internal/audit"
	"github.com/wellhead-erp/wellhead/internal/workflow"
)

// InspectionService manages site inspections and their findings.
type InspectionService struct {
	base
}

// NewInspectionService constructs the inspection service.
func NewInspectionService(repo RepositoryPort, engine *workflow.Engine, history HistoryPort, opts Options) *InspectionService {
	return &InspectionService{base: newBase(repo, engine, history, opts)}
}

// ScheduleInput schedules an inspection.
type ScheduleInput struct {
	Number       string    `json:"number" validate:"omitempty,max=64"`
	Site         string    `json:"site" validate:"required,max=120"`
	InspectorID  int64     `json:"inspector_id" validate:"required,gt=0"`
	ScheduledFor time.Time `json:"scheduled_for" validate:"required"`
}

// FindingInput raises a finding.
type FindingInput struct {
	Severity    Severity `json:"severity" validate:"required"`
	Description string   `json:"description" validate:"required,max=500"`
}

// ResolveInput closes out a finding.
type ResolveInput struct {
	Resolution string `json:"resolution" validate:"required,max=500"`
}

// Schedule persists an inspection in SCHEDULED.
func (s *InspectionService) Schedule(ctx context.Context, actor workflow.Actor, input ScheduleInput) (Inspection, error) {
	if strings.TrimSpace(input.Site) == "" || input.InspectorID <= 0 || input.ScheduledFor.IsZero() {
		return Inspection{}, fmt.Errorf("%w: site, inspector and date required", ErrValidation)
	}
	number := strings.TrimSpace(input.Number)
	if number == "" {
		number = fmt.Sprintf("INSP-%d", s.now().UnixNano())
	}
	in := Inspection{Number: number, Site: strings.TrimSpace(input.Site), InspectorID: input.InspectorID, Status: InspectionScheduled, ScheduledFor: input.ScheduledFor.UTC()}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateInspection(ctx, in)
		if err != nil {
			return err
		}
		in.ID = id
		return tx.RecordAudit(ctx, s.auditLog(actor, "INSPECTION_SCHEDULE", "inspection", id, map[string]any{"site": in.Site}))
	})
	if err != nil {
		return Inspection{}, err
	}
	return in, nil
}

// Get returns an inspection with findings.
func (s *InspectionService) Get(ctx context.Context, id int64) (Inspection, error) {
	return s.repo.GetInspection(ctx, id)
}

// Transition moves an inspection along its lifecycle.
func (s *InspectionService) Transition(ctx context.Context, id int64, actor workflow.Actor, action workflow.Action, reason string) (Inspection, error) {
	req := workflow.Request{DocType: DocTypeInspection, DocID: id, Action: action, Actor: actor, Reason: reason}
	load := func(ctx context.Context, req *workflow.Request) error {
		in, err := s.repo.GetInspection(ctx, id)
		if err != nil {
			return err
		}
		req.Number = in.Number
		req.From = workflow.State(in.Status)
		req.Subject = in
		req.Meta = map[string]any{"site": in.Site, "open_findings": in.OpenFindings()}
		return nil
	}
	_, err := s.engine.Execute(ctx, req, load, func(ctx context.Context, step workflow.Step) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if err := tx.UpdateInspectionStatus(ctx, id, InspectionStatus(step.From), InspectionStatus(step.To)); err != nil {
				return err
			}
			if step.Action == workflow.ActionClose {
				open, err := tx.CountOpenFindings(ctx, id)
				if err != nil {
					return err
				}
				if open > 0 {
					return &workflow.GuardError{Guard: "findings_resolved", Err: fmt.Errorf("%w: %d open", ErrOpenFindings, open)}
				}
			}
			return tx.InsertTransition(ctx, step)
		})
	})
	if err != nil {
		return Inspection{}, err
	}
	return s.repo.GetInspection(ctx, id)
}

// AvailableActions lists the actions actor may attempt on the inspection.
func (s *InspectionService) AvailableActions(ctx context.Context, id int64, actor workflow.Actor) ([]workflow.Action, error) {
	in, err := s.repo.GetInspection(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.engine.Available(DocTypeInspection, workflow.State(in.Status), actor)
}

// History returns the transition trail of the inspection.
func (s *InspectionService) History(ctx context.Context, id int64) ([]audit.Entry, error) {
	if _, err := s.repo.GetInspection(ctx, id); err != nil {
		return nil, err
	}
	return s.history.History(ctx, DocTypeInspection, id)
}

// AddFinding raises a finding on an inspection in progress.
func (s *InspectionService) AddFinding(ctx context.Context, actor workflow.Actor, inspectionID int64, input FindingInput) (Finding, error) {
	if !input.Severity.Valid() {
		return Finding{}, fmt.Errorf("%w: unknown severity %q", ErrValidation, input.Severity)
	}
	if strings.TrimSpace(input.Description) == "" {
		return Finding{}, fmt.Errorf("%w: description required", ErrValidation)
	}
	f := Finding{InspectionID: inspectionID, Severity: input.Severity, Description: strings.TrimSpace(input.Description), RaisedBy: actor.ID, RaisedAt: s.now().UTC()}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		status, err := tx.LockInspection(ctx, inspectionID)
		if err != nil {
			return err
		}
		if status != InspectionInProgress {
			return fmt.Errorf("%w: inspection is %s", ErrInspectionNotActive, status)
		}
		id, err := tx.InsertFinding(ctx, f)
		if err != nil {
			return err
		}
		f.ID = id
		return tx.RecordAudit(ctx, s.auditLog(actor, "INSPECTION_FINDING", "inspection", inspectionID, map[string]any{"finding_id": id, "severity": string(f.Severity)}))
	})
	if err != nil {
		return Finding{}, err
	}
	return f, nil
}

// ResolveFinding closes out a finding while the inspection is in progress or
// completed.
func (s *InspectionService) ResolveFinding(ctx context.Context, actor workflow.Actor, inspectionID, findingID int64, input ResolveInput) (Inspection, error) {
	resolution := strings.TrimSpace(input.Resolution)
	if resolution == "" {
		return Inspection{}, fmt.Errorf("%w: resolution required", ErrValidation)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		status, err := tx.LockInspection(ctx, inspectionID)
		if err != nil {
			return err
		}
		if status != InspectionInProgress && status != InspectionCompleted {
			return fmt.Errorf("%w: inspection is %s", workflow.ErrInvalidState, status)
		}
		if err := tx.ResolveFinding(ctx, inspectionID, findingID, actor.ID, s.now().UTC(), resolution); err != nil {
			return err
		}
		return tx.RecordAudit(ctx, s.auditLog(actor, "INSPECTION_FINDING_RESOLVE", "inspection", inspectionID, map[string]any{"finding_id": findingID}))
	})
	if err != nil {
		return Inspection{}, err
	}
	return s.repo.GetInspection(ctx, inspectionID)
}
