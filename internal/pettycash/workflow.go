package pettycash

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/wellhead-erp/wellhead/internal/ledger"
	"github.com/wellhead-erp/wellhead/internal/workflow"
)

// ReportSubject pairs a report with the balance of its fund.
type ReportSubject struct {
	Report      ExpenseReport
	FundBalance decimal.Decimal
}

func state(s ReportStatus) workflow.State { return workflow.State(s) }

// Definition is the expense report lifecycle.
func Definition() workflow.Definition {
	finance := workflow.Roles(RoleFinanceApprover)
	return workflow.Definition{
		DocType:  DocType,
		Initial:  state(ReportDraft),
		Terminal: workflow.States(state(ReportReimbursed)),
		Transitions: []workflow.Transition{
			{Action: workflow.ActionSubmit, From: workflow.States(state(ReportDraft)), To: state(ReportSubmitted), Guards: []workflow.Guard{linesGuard}},
			{
				Action:        workflow.ActionApprove,
				From:          workflow.States(state(ReportSubmitted)),
				To:            state(ReportApproved),
				Roles:         finance,
				SegregateFrom: workflow.ActionSubmit,
				Guards:        []workflow.Guard{linesGuard, fundGuard},
			},
			{Action: workflow.ActionReject, From: workflow.States(state(ReportSubmitted)), To: state(ReportRejected), Roles: finance, RequireReason: true},
			{Action: workflow.ActionRevise, From: workflow.States(state(ReportRejected)), To: state(ReportDraft)},
			{Action: workflow.ActionReimburse, From: workflow.States(state(ReportApproved)), To: state(ReportReimbursed), Roles: finance, Guards: []workflow.Guard{fundGuard}},
		},
	}
}

var linesGuard = workflow.GuardFor("has_positive_lines", func(_ context.Context, s ReportSubject) error {
	if len(s.Report.Lines) == 0 || !s.Report.Total.IsPositive() {
		return ErrEmptyReport
	}
	return nil
})

var fundGuard = workflow.GuardFor("within_fund_balance", func(_ context.Context, s ReportSubject) error {
	if s.Report.Total.GreaterThan(s.FundBalance) {
		return fmt.Errorf("%w: %s above %s", ErrInsufficientFund, s.Report.Total.StringFixed(ledger.MoneyPlaces), s.FundBalance.StringFixed(ledger.MoneyPlaces))
	}
	return nil
})
