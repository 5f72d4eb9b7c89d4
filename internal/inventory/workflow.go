package inventory

import (
	"context"

	"github.com/wellhead-erp/wellhead/internal/workflow"
)

// Definition is the stock movement lifecycle.
func Definition() workflow.Definition {
	st := func(s MovementStatus) workflow.State { return workflow.State(s) }
	return workflow.Definition{
		DocType:  DocType,
		Initial:  st(MovementDraft),
		Terminal: workflow.States(st(MovementReversed), st(MovementCancelled)),
		Transitions: []workflow.Transition{
			{Action: workflow.ActionPost, From: workflow.States(st(MovementDraft)), To: st(MovementPosted), Guards: []workflow.Guard{linesGuard}},
			{Action: workflow.ActionCancel, From: workflow.States(st(MovementDraft)), To: st(MovementCancelled), RequireReason: true},
			{Action: workflow.ActionReverse, From: workflow.States(st(MovementPosted)), To: st(MovementReversed), Roles: workflow.Roles(RoleController), RequireReason: true},
		},
	}
}

var linesGuard = workflow.GuardFor("has_lines", func(_ context.Context, m Movement) error {
	if len(m.Lines) == 0 {
		return ErrEmptyMovement
	}
	return nil
})
