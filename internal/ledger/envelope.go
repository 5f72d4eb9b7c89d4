package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrBudgetExceeded indicates a commitment or actual above the authorized envelope.
var ErrBudgetExceeded = errors.New("ledger: budget envelope exceeded")

// Envelope is a pre-approved spending limit (AFE) consumed by commitments and
// actual costs.
type Envelope struct {
	Budget       decimal.Decimal
	Supplements  decimal.Decimal
	Committed    decimal.Decimal
	Actual       decimal.Decimal
	TolerancePct decimal.Decimal
}

// Authorized is the approved budget plus supplements.
func (e Envelope) Authorized() decimal.Decimal { return e.Budget.Add(e.Supplements) }

// Ceiling is the authorized amount plus the overrun tolerance.
func (e Envelope) Ceiling() decimal.Decimal {
	auth := e.Authorized()
	return auth.Add(Percent(auth, e.TolerancePct))
}

// Available is what can still be committed.
func (e Envelope) Available() decimal.Decimal {
	left := e.Ceiling().Sub(e.Committed)
	if left.IsNegative() {
		return decimal.Zero
	}
	return left
}

// Supplement raises the authorized amount.
func (e *Envelope) Supplement(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrNegativeAmount
	}
	e.Supplements = e.Supplements.Add(amount)
	return nil
}

// Commit reserves amount against the envelope.
func (e *Envelope) Commit(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrNegativeAmount
	}
	next := e.Committed.Add(amount)
	if next.GreaterThan(e.Ceiling()) {
		return fmt.Errorf("%w: committed %s of %s", ErrBudgetExceeded, next.StringFixed(MoneyPlaces), e.Ceiling().StringFixed(MoneyPlaces))
	}
	e.Committed = next
	return nil
}

// Release returns a commitment to the envelope.
func (e *Envelope) Release(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrNegativeAmount
	}
	next := e.Committed.Sub(amount)
	if next.IsNegative() {
		return fmt.Errorf("%w: release %s above committed %s", ErrExceedsTotal, amount.StringFixed(MoneyPlaces), e.Committed.StringFixed(MoneyPlaces))
	}
	e.Committed = next
	return nil
}

// RecordActual books incurred cost.
func (e *Envelope) RecordActual(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrNegativeAmount
	}
	next := e.Actual.Add(amount)
	if next.GreaterThan(e.Ceiling()) {
		return fmt.Errorf("%w: actual %s of %s", ErrBudgetExceeded, next.StringFixed(MoneyPlaces), e.Ceiling().StringFixed(MoneyPlaces))
	}
	e.Actual = next
	return nil
}

// OpenCommitments is committed spend not yet matched by actuals.
func (e Envelope) OpenCommitments() decimal.Decimal {
	open := e.Committed.Sub(e.Actual)
	if open.IsNegative() {
		return decimal.Zero
	}
	return open
}
