package crm

import (
	"context"
	"time"

	"github.com/wellhead-erp/wellhead/internal/ledger"
	"github.com/wellhead-erp/wellhead/internal/workflow"
)

// QuoteSubject evaluates a quote at a point in time.
type QuoteSubject struct {
	Quote Quote
	Now   time.Time
}

func state(s QuoteStatus) workflow.State { return workflow.State(s) }

// Definition is the quote lifecycle. Expiry is performed by the system actor.
func Definition() workflow.Definition {
	return workflow.Definition{
		DocType:  DocType,
		Initial:  state(QuoteDraft),
		Terminal: workflow.States(state(QuoteAccepted), state(QuoteRejected), state(QuoteExpired), state(QuoteCancelled)),
		Transitions: []workflow.Transition{
			{Action: workflow.ActionSend, From: workflow.States(state(QuoteDraft)), To: state(QuoteSent), Guards: []workflow.Guard{linesGuard, validGuard}},
			{Action: workflow.ActionAccept, From: workflow.States(state(QuoteSent)), To: state(QuoteAccepted), Guards: []workflow.Guard{validGuard}},
			{Action: workflow.ActionReject, From: workflow.States(state(QuoteSent)), To: state(QuoteRejected), RequireReason: true},
			{Action: workflow.ActionExpire, From: workflow.States(state(QuoteSent)), To: state(QuoteExpired), Roles: workflow.Roles(workflow.RoleSystem), Guards: []workflow.Guard{elapsedGuard}},
			{Action: workflow.ActionCancel, From: workflow.States(state(QuoteDraft)), To: state(QuoteCancelled), RequireReason: true},
		},
	}
}

var linesGuard = workflow.GuardFor("has_lines", func(_ context.Context, s QuoteSubject) error {
	if len(s.Quote.Lines) == 0 {
		return ledger.ErrNoLines
	}
	return nil
})

var validGuard = workflow.GuardFor("within_validity", func(_ context.Context, s QuoteSubject) error {
	if s.Quote.Expired(s.Now) {
		return ErrValidityElapsed
	}
	return nil
})

var elapsedGuard = workflow.GuardFor("validity_elapsed", func(_ context.Context, s QuoteSubject) error {
	if !s.Quote.Expired(s.Now) {
		return ErrStillValid
	}
	return nil
})
