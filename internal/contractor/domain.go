package contractor

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wellhead-erp/wellhead/internal/ledger"
	"github.com/wellhead-erp/wellhead/internal/shared"
	"github.com/wellhead-erp/wellhead/internal/workflow"
)

const (
	// DocTypeValuation identifies project valuations.
	DocTypeValuation workflow.DocType = "PROJECT_VALUATION"
	// DocTypeInvoice identifies contractor invoices.
	DocTypeInvoice workflow.DocType = "CONTRACTOR_INVOICE"
	// ContractLockType namespaces contract locks next to document locks.
	ContractLockType workflow.DocType = "CONTRACT"
)

const (
	// RoleProjectManager certifies valuations.
	RoleProjectManager workflow.Role = "PROJECT_MANAGER"
	// RoleContractManager approves contractor invoices.
	RoleContractManager workflow.Role = "CONTRACT_MANAGER"
)

// Contract is the priced scope a contractor is valued against.
type Contract struct {
	ID           int64           `json:"id"`
	Number       string          `json:"number"`
	ContractorID int64           `json:"contractor_id"`
	Title        string          `json:"title"`
	Currency     string          `json:"currency"`
	Value        decimal.Decimal `json:"value"`
	RetentionPct decimal.Decimal `json:"retention_pct"`
	TaxPct       decimal.Decimal `json:"tax_pct"`
	CreatedBy    int64           `json:"created_by"`
	CreatedAt    time.Time       `json:"created_at"`
}

// ValuationStatus is the lifecycle status of a valuation.
type ValuationStatus string

const (
	ValuationDraft     ValuationStatus = "DRAFT"
	ValuationSubmitted ValuationStatus = "SUBMITTED"
	ValuationApproved  ValuationStatus = "APPROVED"
	ValuationRejected  ValuationStatus = "REJECTED"
)

// Valuation measures accumulated progress on a contract at a period end.
type Valuation struct {
	ID             int64           `json:"id"`
	ContractID     int64           `json:"contract_id"`
	Number         string          `json:"number"`
	Status         ValuationStatus `json:"status"`
	PeriodEnd      time.Time       `json:"period_end"`
	PriorPct       decimal.Decimal `json:"prior_pct"`
	AccumulatedPct decimal.Decimal `json:"accumulated_pct"`
	PeriodPct      decimal.Decimal `json:"period_pct"`
	PeriodValue    decimal.Decimal `json:"period_value"`
	CreatedBy      int64           `json:"created_by"`
	ApprovedBy     int64           `json:"approved_by,omitempty"`
	ApprovedAt     *time.Time      `json:"approved_at,omitempty"`
}

// Ledger returns the progress step recorded by the valuation.
func (v Valuation) Ledger() ledger.Valuation {
	return ledger.Valuation{AccumulatedPct: v.AccumulatedPct, PeriodPct: v.PeriodPct, PeriodValue: v.PeriodValue}
}

// InvoiceStatus is the lifecycle status of a contractor invoice.
type InvoiceStatus string

const (
	InvoiceDraft         InvoiceStatus = "DRAFT"
	InvoiceSubmitted     InvoiceStatus = "SUBMITTED"
	InvoiceApproved      InvoiceStatus = "APPROVED"
	InvoiceRejected      InvoiceStatus = "REJECTED"
	InvoicePartiallyPaid InvoiceStatus = "PARTIALLY_PAID"
	InvoicePaid          InvoiceStatus = "PAID"
	InvoiceCancelled     InvoiceStatus = "CANCELLED"
)

// Invoice bills the period value of one approved valuation.
type Invoice struct {
	ID          int64           `json:"id"`
	Number      string          `json:"number"`
	ContractID  int64           `json:"contract_id"`
	ValuationID int64           `json:"valuation_id"`
	Status      InvoiceStatus   `json:"status"`
	Currency    string          `json:"currency"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Tax         decimal.Decimal `json:"tax"`
	Total       decimal.Decimal `json:"total"`
	Retention   decimal.Decimal `json:"retention"`
	NetPayable  decimal.Decimal `json:"net_payable"`
	PaidAmount  decimal.Decimal `json:"paid_amount"`
	CreatedBy   int64           `json:"created_by"`
	ApprovedBy  int64           `json:"approved_by,omitempty"`
	ApprovedAt  *time.Time      `json:"approved_at,omitempty"`
}

// Settlement is the payment tracking of the invoice against its net payable.
func (inv Invoice) Settlement() ledger.Settlement {
	return ledger.Settlement{Amount: inv.NetPayable, Settled: inv.PaidAmount}
}

// Payable reports whether payments may be registered.
func (inv Invoice) Payable() bool {
	return inv.Status == InvoiceApproved || inv.Status == InvoicePartiallyPaid
}

// Payment is money paid against a contractor invoice.
type Payment struct {
	ID        int64           `json:"id"`
	InvoiceID int64           `json:"invoice_id"`
	Number    string          `json:"number"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedBy int64           `json:"created_by"`
	CreatedAt time.Time       `json:"created_at"`
}

var (
	// ErrContractNotFound indicates a missing contract.
	ErrContractNotFound = fmt.Errorf("contract %w", shared.ErrNotFound)
	// ErrValuationNotFound indicates a missing valuation.
	ErrValuationNotFound = fmt.Errorf("valuation %w", shared.ErrNotFound)
	// ErrInvoiceNotFound indicates a missing invoice.
	ErrInvoiceNotFound = fmt.Errorf("contractor invoice %w", shared.ErrNotFound)
	// ErrValidation indicates invalid payload.
	ErrValidation = fmt.Errorf("contractor: %w", shared.ErrValidation)
	// ErrValuationNotApproved blocks invoicing an uncertified valuation.
	ErrValuationNotApproved = fmt.Errorf("valuation is not approved: %w", workflow.ErrInvalidState)
	// ErrAlreadyInvoiced blocks a second live invoice for one valuation.
	ErrAlreadyInvoiced = fmt.Errorf("valuation already invoiced: %w", workflow.ErrInvalidState)
	// ErrNotPayable rejects payments on invoices that are not approved or partially paid.
	ErrNotPayable = fmt.Errorf("contractor invoice is not payable: %w", workflow.ErrInvalidState)
	// ErrValuationStale indicates a newer approved valuation superseded the draft.
	ErrValuationStale = fmt.Errorf("valuation is based on a superseded accumulated percentage: %w", shared.ErrRuleViolation)
	// ErrNothingToInvoice blocks invoicing a zero-value period.
	ErrNothingToInvoice = fmt.Errorf("valuation period value must be positive: %w", shared.ErrRuleViolation)
)
