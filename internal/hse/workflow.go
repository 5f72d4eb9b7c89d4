package hse

import (
	"context"
	"fmt"
	"time"

	"github.com/wellhead-erp/wellhead/internal/workflow"
)

// PermitSubject evaluates a permit at a point in time. SuspendedAt is the
// latest suspension when resuming, zero otherwise.
type PermitSubject struct {
	Permit      WorkPermit
	Now         time.Time
	SuspendedAt time.Time
}

// PermitDefinition is the permit-to-work lifecycle.
func PermitDefinition() workflow.Definition {
	st := func(s PermitStatus) workflow.State { return workflow.State(s) }
	officer := workflow.Roles(RoleOfficer)
	area := workflow.Roles(RoleAreaAuthority)
	return workflow.Definition{
		DocType:  DocTypePermit,
		Initial:  st(PermitDraft),
		Terminal: workflow.States(st(PermitRejected), st(PermitClosed), st(PermitExpired), st(PermitCancelled)),
		Transitions: []workflow.Transition{
			{Action: workflow.ActionSubmit, From: workflow.States(st(PermitDraft)), To: st(PermitPending), Guards: []workflow.Guard{windowGuard}},
			{
				Action:        workflow.ActionApprove,
				From:          workflow.States(st(PermitPending)),
				To:            st(PermitApproved),
				Roles:         officer,
				SegregateFrom: workflow.ActionSubmit,
				Guards:        []workflow.Guard{windowGuard},
			},
			{Action: workflow.ActionReject, From: workflow.States(st(PermitPending)), To: st(PermitRejected), Roles: officer, RequireReason: true},
			{Action: workflow.ActionActivate, From: workflow.States(st(PermitApproved)), To: st(PermitActive), Roles: area, Guards: []workflow.Guard{withinGuard, gasTestGuard}},
			{Action: workflow.ActionSuspend, From: workflow.States(st(PermitActive)), To: st(PermitSuspended), Roles: workflow.Roles(RoleAreaAuthority, RoleOfficer), RequireReason: true},
			{Action: workflow.ActionResume, From: workflow.States(st(PermitSuspended)), To: st(PermitActive), Roles: area, Guards: []workflow.Guard{withinGuard, gasTestGuard}},
			{Action: workflow.ActionClose, From: workflow.States(st(PermitActive)), To: st(PermitClosed), Roles: area},
			{
				Action: workflow.ActionExpire,
				From:   workflow.States(st(PermitApproved), st(PermitActive), st(PermitSuspended)),
				To:     st(PermitExpired),
				Roles:  workflow.Roles(workflow.RoleSystem),
				Guards: []workflow.Guard{elapsedGuard},
			},
			{Action: workflow.ActionCancel, From: workflow.States(st(PermitDraft), st(PermitPending)), To: st(PermitCancelled), RequireReason: true},
		},
	}
}

var windowGuard = workflow.GuardFor("validity_window_defined", func(_ context.Context, s PermitSubject) error {
	if !s.Permit.ValidTo.After(s.Permit.ValidFrom) {
		return fmt.Errorf("%w: valid_to must be after valid_from", ErrOutsideWindow)
	}
	if !s.Now.Before(s.Permit.ValidTo) {
		return fmt.Errorf("%w: window already ended", ErrOutsideWindow)
	}
	return nil
})

var withinGuard = workflow.GuardFor("within_validity_window", func(_ context.Context, s PermitSubject) error {
	if !s.Permit.Within(s.Now) {
		return ErrOutsideWindow
	}
	return nil
})

var gasTestGuard = workflow.GuardFor("gas_test_passed", func(_ context.Context, s PermitSubject) error {
	if !s.Permit.Type.RequiresGasTest() {
		return nil
	}
	latest, ok := s.Permit.LatestGasTest()
	if !ok || !latest.Passed {
		return ErrGasTestRequired
	}
	if !s.SuspendedAt.IsZero() && !latest.TestedAt.After(s.SuspendedAt) {
		return fmt.Errorf("%w: latest test predates suspension", ErrGasTestRequired)
	}
	return nil
})

var elapsedGuard = workflow.GuardFor("validity_elapsed", func(_ context.Context, s PermitSubject) error {
	if s.Now.Before(s.Permit.ValidTo) {
		return ErrStillValid
	}
	return nil
})

// InspectionDefinition is the site inspection lifecycle.
func InspectionDefinition() workflow.Definition {
	st := func(s InspectionStatus) workflow.State { return workflow.State(s) }
	return workflow.Definition{
		DocType:  DocTypeInspection,
		Initial:  st(InspectionScheduled),
		Terminal: workflow.States(st(InspectionClosed), st(InspectionCancelled)),
		Transitions: []workflow.Transition{
			{Action: workflow.ActionStart, From: workflow.States(st(InspectionScheduled)), To: st(InspectionInProgress)},
			{Action: workflow.ActionComplete, From: workflow.States(st(InspectionInProgress)), To: st(InspectionCompleted)},
			{Action: workflow.ActionClose, From: workflow.States(st(InspectionCompleted)), To: st(InspectionClosed), Roles: workflow.Roles(RoleOfficer), Guards: []workflow.Guard{findingsResolvedGuard}},
			{Action: workflow.ActionCancel, From: workflow.States(st(InspectionScheduled)), To: st(InspectionCancelled), RequireReason: true},
		},
	}
}

var findingsResolvedGuard = workflow.GuardFor("findings_resolved", func(_ context.Context, i Inspection) error {
	if open := i.OpenFindings(); open > 0 {
		return fmt.Errorf("%w: %d open", ErrOpenFindings, open)
	}
	return nil
})
