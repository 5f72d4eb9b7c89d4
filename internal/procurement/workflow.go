package procurement

import (
	"context"

	"github.com/wellhead-erp/wellhead/internal/ledger"
	"github.com/wellhead-erp/wellhead/internal/workflow"
)

func state(s POStatus) workflow.State { return workflow.State(s) }

// Definition is the purchase order lifecycle.
func Definition() workflow.Definition {
	manager := workflow.Roles(RoleProcurementManager)
	return workflow.Definition{
		DocType:  DocType,
		Initial:  state(POStatusDraft),
		Terminal: workflow.States(state(POStatusClosed), state(POStatusCancelled)),
		Transitions: []workflow.Transition{
			{
				Action: workflow.ActionSubmit,
				From:   workflow.States(state(POStatusDraft)),
				To:     state(POStatusSubmitted),
				Guards: []workflow.Guard{hasLinesGuard},
			},
			{
				Action:        workflow.ActionApprove,
				From:          workflow.States(state(POStatusSubmitted)),
				To:            state(POStatusApproved),
				Roles:         manager,
				SegregateFrom: workflow.ActionSubmit,
				Guards:        []workflow.Guard{hasLinesGuard},
			},
			{
				Action:        workflow.ActionReject,
				From:          workflow.States(state(POStatusSubmitted)),
				To:            state(POStatusRejected),
				Roles:         manager,
				RequireReason: true,
			},
			{
				Action: workflow.ActionRevise,
				From:   workflow.States(state(POStatusRejected)),
				To:     state(POStatusDraft),
			},
			{
				Action: workflow.ActionClose,
				From:   workflow.States(state(POStatusApproved)),
				To:     state(POStatusClosed),
				Roles:  manager,
				Guards: []workflow.Guard{settledGuard},
			},
			{
				Action:        workflow.ActionCancel,
				From:          workflow.States(state(POStatusDraft), state(POStatusSubmitted), state(POStatusRejected)),
				To:            state(POStatusCancelled),
				RequireReason: true,
			},
		},
	}
}

var hasLinesGuard = workflow.GuardFor("has_lines", func(_ context.Context, po PurchaseOrder) error {
	if len(po.Lines) == 0 {
		return ledger.ErrNoLines
	}
	if !po.Total.IsPositive() {
		return ErrNonPositiveTotal
	}
	return nil
})

var settledGuard = workflow.GuardFor("fully_invoiced_and_paid", func(_ context.Context, po PurchaseOrder) error {
	b := po.Balance()
	if !b.FullyInvoiced() || b.Status() != ledger.PaymentPaid {
		return ErrNotSettled
	}
	return nil
})
