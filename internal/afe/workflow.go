package afe

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/wellhead-erp/wellhead/internal/ledger"
	"github.com/wellhead-erp/wellhead/internal/workflow"
)

func state(s Status) workflow.State { return workflow.State(s) }

// Definition is the AFE lifecycle.
func Definition() workflow.Definition {
	approver := workflow.Roles(RoleApprover)
	return workflow.Definition{
		DocType:  DocType,
		Initial:  state(StatusDraft),
		Terminal: workflow.States(state(StatusClosed)),
		Transitions: []workflow.Transition{
			{Action: workflow.ActionSubmit, From: workflow.States(state(StatusDraft)), To: state(StatusSubmitted), Guards: []workflow.Guard{budgetGuard}},
			{
				Action:        workflow.ActionApprove,
				From:          workflow.States(state(StatusSubmitted)),
				To:            state(StatusApproved),
				Roles:         approver,
				SegregateFrom: workflow.ActionSubmit,
				Guards:        []workflow.Guard{budgetGuard},
			},
			{Action: workflow.ActionReject, From: workflow.States(state(StatusSubmitted)), To: state(StatusRejected), Roles: approver, RequireReason: true},
			{Action: workflow.ActionRevise, From: workflow.States(state(StatusRejected)), To: state(StatusDraft)},
			{Action: workflow.ActionClose, From: workflow.States(state(StatusApproved)), To: state(StatusClosed), Roles: approver, Guards: []workflow.Guard{noOpenCommitmentsGuard}},
		},
	}
}

var budgetGuard = workflow.GuardFor("positive_budget", func(_ context.Context, a AFE) error {
	if !a.Budget.IsPositive() {
		return ErrNoBudget
	}
	return nil
})

var noOpenCommitmentsGuard = workflow.GuardFor("no_open_commitments", func(_ context.Context, a AFE) error {
	return checkNoOpenCommitments(a)
})

func checkNoOpenCommitments(a AFE) error {
	if open := a.Envelope(decimal.Zero).OpenCommitments(); open.IsPositive() {
		return fmt.Errorf("%w: %s", ErrOpenCommitments, open.StringFixed(ledger.MoneyPlaces))
	}
	return nil
}
