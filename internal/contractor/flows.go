package contractor

import (
	"context"

	"github.com/wellhead-erp/wellhead/internal/audit"
	"github.com/wellhead-erp/wellhead/internal/ledger"
	"github.com/wellhead-erp/wellhead/internal/workflow"
)

// ValuationFlow drives valuation transitions.
type ValuationFlow struct{ s *Service }

// InvoiceFlow drives contractor invoice transitions.
type InvoiceFlow struct{ s *Service }

// Valuations returns the valuation workflow surface.
func (s *Service) Valuations() ValuationFlow { return ValuationFlow{s: s} }

// Invoices returns the invoice workflow surface.
func (s *Service) Invoices() InvoiceFlow { return InvoiceFlow{s: s} }

func (f ValuationFlow) subject(ctx context.Context, id int64) (ValuationSubject, error) {
	v, err := f.s.repo.GetValuation(ctx, id)
	if err != nil {
		return ValuationSubject{}, err
	}
	contract, err := f.s.repo.GetContract(ctx, v.ContractID)
	if err != nil {
		return ValuationSubject{}, err
	}
	approved, err := f.s.repo.ListApprovedValuations(ctx, contract.ID)
	if err != nil {
		return ValuationSubject{}, err
	}
	return ValuationSubject{Valuation: v, Contract: contract, Approved: approved}, nil
}

// Transition moves a valuation. Approval holds the contract lock so the
// prior-valuation guard sees every approval of the same contract, and
// re-checks the latest approved percentage under the contract row lock.
func (f ValuationFlow) Transition(ctx context.Context, id int64, actor workflow.Actor, action workflow.Action, reason string) (Valuation, error) {
	v, err := f.s.repo.GetValuation(ctx, id)
	if err != nil {
		return Valuation{}, err
	}
	contractID := v.ContractID
	if action == workflow.ActionApprove {
		release, err := f.s.lock(ctx, ContractLockType, contractID)
		if err != nil {
			return Valuation{}, err
		}
		defer release()
	}
	req := workflow.Request{DocType: DocTypeValuation, DocID: id, Action: action, Actor: actor, Reason: reason}
	load := func(ctx context.Context, req *workflow.Request) error {
		subject, err := f.subject(ctx, id)
		if err != nil {
			return err
		}
		v = subject.Valuation
		req.Number = v.Number
		req.From = workflow.State(v.Status)
		req.Subject = subject
		req.Meta = map[string]any{"amount": v.PeriodValue.StringFixed(ledger.MoneyPlaces), "currency": subject.Contract.Currency, "accumulated_pct": v.AccumulatedPct.String()}
		return nil
	}
	_, err = f.s.engine.Execute(ctx, req, load, func(ctx context.Context, step workflow.Step) error {
		return f.s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if step.Action == workflow.ActionApprove {
				if _, err := tx.LockContract(ctx, contractID); err != nil {
					return err
				}
				latest, err := tx.LatestApprovedPct(ctx, contractID)
				if err != nil {
					return err
				}
				if !latest.Equal(v.PriorPct) {
					return &workflow.GuardError{Guard: "reconciles_with_prior_valuations", Err: ErrValuationStale}
				}
				if err := tx.SetValuationApproval(ctx, id, step.ActorID, step.At); err != nil {
					return err
				}
			}
			if err := tx.UpdateValuationStatus(ctx, id, ValuationStatus(step.From), ValuationStatus(step.To)); err != nil {
				return err
			}
			return tx.InsertTransition(ctx, step)
		})
	})
	if err != nil {
		return Valuation{}, err
	}
	return f.s.repo.GetValuation(ctx, id)
}

// History returns the valuation trail.
func (f ValuationFlow) History(ctx context.Context, id int64) ([]audit.Entry, error) {
	if _, err := f.s.repo.GetValuation(ctx, id); err != nil {
		return nil, err
	}
	return f.s.history.History(ctx, DocTypeValuation, id)
}

// AvailableActions lists the actions actor may attempt on the valuation.
func (f ValuationFlow) AvailableActions(ctx context.Context, id int64, actor workflow.Actor) ([]workflow.Action, error) {
	v, err := f.s.repo.GetValuation(ctx, id)
	if err != nil {
		return nil, err
	}
	return f.s.engine.Available(DocTypeValuation, workflow.State(v.Status), actor)
}

// Transition moves an invoice. Settlement actions are reserved to payments.
func (f InvoiceFlow) Transition(ctx context.Context, id int64, actor workflow.Actor, action workflow.Action, reason string) (Invoice, error) {
	req := workflow.Request{DocType: DocTypeInvoice, DocID: id, Action: action, Actor: actor, Reason: reason}
	load := func(ctx context.Context, req *workflow.Request) error {
		inv, err := f.s.repo.GetInvoice(ctx, id)
		if err != nil {
			return err
		}
		req.Number = inv.Number
		req.From = workflow.State(inv.Status)
		req.Subject = inv
		req.Meta = map[string]any{"amount": inv.NetPayable.StringFixed(ledger.MoneyPlaces), "currency": inv.Currency}
		return nil
	}
	_, err := f.s.engine.Execute(ctx, req, load, func(ctx context.Context, step workflow.Step) error {
		return f.s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if err := tx.UpdateInvoiceStatus(ctx, id, InvoiceStatus(step.From), InvoiceStatus(step.To)); err != nil {
				return err
			}
			if step.Action == workflow.ActionApprove {
				if err := tx.SetInvoiceApproval(ctx, id, step.ActorID, step.At); err != nil {
					return err
				}
			}
			return tx.InsertTransition(ctx, step)
		})
	})
	if err != nil {
		return Invoice{}, err
	}
	return f.s.repo.GetInvoice(ctx, id)
}

// History returns the invoice trail.
func (f InvoiceFlow) History(ctx context.Context, id int64) ([]audit.Entry, error) {
	if _, err := f.s.repo.GetInvoice(ctx, id); err != nil {
		return nil, err
	}
	return f.s.history.History(ctx, DocTypeInvoice, id)
}

// AvailableActions lists the actions actor may attempt on the invoice.
func (f InvoiceFlow) AvailableActions(ctx context.Context, id int64, actor workflow.Actor) ([]workflow.Action, error) {
	inv, err := f.s.repo.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	return f.s.engine.Available(DocTypeInvoice, workflow.State(inv.Status), actor)
}
