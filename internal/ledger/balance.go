package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// PaymentStatus summarises how much of a Balance has been paid.
type PaymentStatus string

const (
	PaymentUnpaid  PaymentStatus = "UNPAID"
	PaymentPartial PaymentStatus = "PARTIAL"
	PaymentPaid    PaymentStatus = "PAID"
)

// Balance tracks invoiced and paid amounts against a parent total. Invoiced and
// Paid never exceed Total and never drop below zero.
type Balance struct {
	Total    decimal.Decimal
	Invoiced decimal.Decimal
	Paid     decimal.Decimal
	// RequireInvoiceBeforePayment caps Paid at Invoiced.
	RequireInvoiceBeforePayment bool
}

// ApplyInvoice adds amount to Invoiced.
func (b *Balance) ApplyInvoice(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrNegativeAmount
	}
	next := b.Invoiced.Add(amount)
	if next.GreaterThan(b.Total) {
		return fmt.Errorf("%w: invoiced %s of %s", ErrExceedsTotal, next.StringFixed(MoneyPlaces), b.Total.StringFixed(MoneyPlaces))
	}
	b.Invoiced = next
	return nil
}

// ReverseInvoice removes amount from Invoiced.
func (b *Balance) ReverseInvoice(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrNegativeAmount
	}
	next := b.Invoiced.Sub(amount)
	if next.IsNegative() {
		return ErrNegativeAmount
	}
	if b.RequireInvoiceBeforePayment && b.Paid.GreaterThan(next) {
		return fmt.Errorf("%w: paid %s above invoiced %s", ErrExceedsTotal, b.Paid.StringFixed(MoneyPlaces), next.StringFixed(MoneyPlaces))
	}
	b.Invoiced = next
	return nil
}

// ApplyPayment adds amount to Paid.
func (b *Balance) ApplyPayment(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrNegativeAmount
	}
	next := b.Paid.Add(amount)
	limit := b.Total
	if b.RequireInvoiceBeforePayment {
		limit = b.Invoiced
	}
	if next.GreaterThan(limit) {
		return fmt.Errorf("%w: paid %s of %s", ErrExceedsTotal, next.StringFixed(MoneyPlaces), limit.StringFixed(MoneyPlaces))
	}
	b.Paid = next
	return nil
}

// ReversePayment removes amount from Paid.
func (b *Balance) ReversePayment(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrNegativeAmount
	}
	next := b.Paid.Sub(amount)
	if next.IsNegative() {
		return ErrNegativeAmount
	}
	b.Paid = next
	return nil
}

// Outstanding is the unpaid part of Total.
func (b Balance) Outstanding() decimal.Decimal { return b.Total.Sub(b.Paid) }

// Uninvoiced is the part of Total not yet invoiced.
func (b Balance) Uninvoiced() decimal.Decimal { return b.Total.Sub(b.Invoiced) }

// FullyInvoiced reports whether Invoiced equals Total.
func (b Balance) FullyInvoiced() bool { return b.Invoiced.Equal(b.Total) }

// Status derives the payment status.
func (b Balance) Status() PaymentStatus {
	switch {
	case b.Paid.IsZero():
		return PaymentUnpaid
	case b.Paid.GreaterThanOrEqual(b.Total):
		return PaymentPaid
	default:
		return PaymentPartial
	}
}

// SettlementStatus describes a Settlement after applying an amount.
type SettlementStatus string

const (
	SettlementOpen    SettlementStatus = "OPEN"
	SettlementPartial SettlementStatus = "PARTIAL"
	SettlementSettled SettlementStatus = "SETTLED"
)

// Settlement tracks partial settlements of a fixed amount.
type Settlement struct {
	Amount  decimal.Decimal
	Settled decimal.Decimal
}

// Apply settles amount and returns the resulting status.
func (s *Settlement) Apply(amount decimal.Decimal) (SettlementStatus, error) {
	if !amount.IsPositive() {
		return s.Status(), ErrNegativeAmount
	}
	next := s.Settled.Add(amount)
	if next.GreaterThan(s.Amount) {
		return s.Status(), fmt.Errorf("%w: settled %s of %s", ErrExceedsTotal, next.StringFixed(MoneyPlaces), s.Amount.StringFixed(MoneyPlaces))
	}
	s.Settled = next
	return s.Status(), nil
}

// Remaining is the unsettled amount.
func (s Settlement) Remaining() decimal.Decimal { return s.Amount.Sub(s.Settled) }

// Status derives the settlement status.
func (s Settlement) Status() SettlementStatus {
	switch {
	case s.Settled.IsZero():
		return SettlementOpen
	case s.Settled.GreaterThanOrEqual(s.Amount):
		return SettlementSettled
	default:
		return SettlementPartial
	}
}
