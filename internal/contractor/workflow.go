package contractor

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/wellhead-erp/wellhead/internal/ledger"
	"github.com/wellhead-erp/wellhead/internal/workflow"
)

// ValuationSubject is what valuation guards evaluate: the valuation, its
// contract and the already approved valuations of the contract in order.
type ValuationSubject struct {
	Valuation Valuation
	Contract  Contract
	Approved  []Valuation
}

// LatestApprovedPct is the accumulated percentage of the last approved valuation.
func (s ValuationSubject) LatestApprovedPct() decimal.Decimal {
	if len(s.Approved) == 0 {
		return decimal.Zero
	}
	return s.Approved[len(s.Approved)-1].AccumulatedPct
}

// ValuationDefinition is the project valuation lifecycle.
func ValuationDefinition() workflow.Definition {
	pm := workflow.Roles(RoleProjectManager)
	st := func(s ValuationStatus) workflow.State { return workflow.State(s) }
	return workflow.Definition{
		DocType:  DocTypeValuation,
		Initial:  st(ValuationDraft),
		Terminal: workflow.States(st(ValuationApproved)),
		Transitions: []workflow.Transition{
			{Action: workflow.ActionSubmit, From: workflow.States(st(ValuationDraft)), To: st(ValuationSubmitted), Guards: []workflow.Guard{reconcilesGuard}},
			{
				Action:        workflow.ActionApprove,
				From:          workflow.States(st(ValuationSubmitted)),
				To:            st(ValuationApproved),
				Roles:         pm,
				SegregateFrom: workflow.ActionSubmit,
				Guards:        []workflow.Guard{reconcilesGuard},
			},
			{Action: workflow.ActionReject, From: workflow.States(st(ValuationSubmitted)), To: st(ValuationRejected), Roles: pm, RequireReason: true},
			{Action: workflow.ActionRevise, From: workflow.States(st(ValuationRejected)), To: st(ValuationDraft)},
		},
	}
}

var reconcilesGuard = workflow.GuardFor("reconciles_with_prior_valuations", func(_ context.Context, s ValuationSubject) error {
	latest := s.LatestApprovedPct()
	if !s.Valuation.PriorPct.Equal(latest) {
		return fmt.Errorf("%w: built on %s%%, latest approved is %s%%", ErrValuationStale, s.Valuation.PriorPct.String(), latest.String())
	}
	series := make([]ledger.Valuation, 0, len(s.Approved)+1)
	for _, v := range s.Approved {
		series = append(series, v.Ledger())
	}
	series = append(series, s.Valuation.Ledger())
	return ledger.ReconcileValuations(s.Contract.Value, series)
})

// InvoiceDefinition is the contractor invoice lifecycle. Settlement actions
// are performed by the system actor when payments are registered.
func InvoiceDefinition() workflow.Definition {
	cm := workflow.Roles(RoleContractManager)
	system := workflow.Roles(workflow.RoleSystem)
	st := func(s InvoiceStatus) workflow.State { return workflow.State(s) }
	return workflow.Definition{
		DocType:  DocTypeInvoice,
		Initial:  st(InvoiceDraft),
		Terminal: workflow.States(st(InvoicePaid), st(InvoiceCancelled)),
		Transitions: []workflow.Transition{
			{Action: workflow.ActionSubmit, From: workflow.States(st(InvoiceDraft)), To: st(InvoiceSubmitted), Guards: []workflow.Guard{payableGuard}},
			{
				Action:        workflow.ActionApprove,
				From:          workflow.States(st(InvoiceSubmitted)),
				To:            st(InvoiceApproved),
				Roles:         cm,
				SegregateFrom: workflow.ActionSubmit,
				Guards:        []workflow.Guard{payableGuard},
			},
			{Action: workflow.ActionReject, From: workflow.States(st(InvoiceSubmitted)), To: st(InvoiceRejected), Roles: cm, RequireReason: true},
			{Action: workflow.ActionRevise, From: workflow.States(st(InvoiceRejected)), To: st(InvoiceDraft)},
			{Action: workflow.ActionCancel, From: workflow.States(st(InvoiceDraft), st(InvoiceSubmitted)), To: st(InvoiceCancelled), RequireReason: true},
			{Action: workflow.ActionSettlePartial, From: workflow.States(st(InvoiceApproved)), To: st(InvoicePartiallyPaid), Roles: system, Guards: []workflow.Guard{partiallySettledGuard}},
			{Action: workflow.ActionSettle, From: workflow.States(st(InvoiceApproved), st(InvoicePartiallyPaid)), To: st(InvoicePaid), Roles: system, Guards: []workflow.Guard{settledGuard}},
		},
	}
}

var payableGuard = workflow.GuardFor("positive_net_payable", func(_ context.Context, inv Invoice) error {
	if !inv.NetPayable.IsPositive() {
		return ErrNothingToInvoice
	}
	return nil
})

var errNotSettled = errors.New("invoice balance does not match settlement action")

var partiallySettledGuard = workflow.GuardFor("partially_settled", func(_ context.Context, inv Invoice) error {
	if inv.Settlement().Status() != ledger.SettlementPartial {
		return errNotSettled
	}
	return nil
})

var settledGuard = workflow.GuardFor("fully_settled", func(_ context.Context, inv Invoice) error {
	if inv.Settlement().Status() != ledger.SettlementSettled {
		return errNotSettled
	}
	return nil
})
