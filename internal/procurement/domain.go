package procurement

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wellhead-erp/wellhead/internal/ledger"
	"github.com/wellhead-erp/wellhead/internal/shared"
	"github.com/wellhead-erp/wellhead/internal/workflow"
)

// DocType identifies purchase orders in the workflow registry and trail.
const DocType workflow.DocType = "PURCHASE_ORDER"

// RoleProcurementManager approves, rejects and closes purchase orders.
const RoleProcurementManager workflow.Role = "PROCUREMENT_MANAGER"

// Purchase order lifecycle statuses.
type POStatus string

const (
	POStatusDraft     POStatus = "DRAFT"
	POStatusSubmitted POStatus = "SUBMITTED"
	POStatusApproved  POStatus = "APPROVED"
	POStatusRejected  POStatus = "REJECTED"
	POStatusClosed    POStatus = "CLOSED"
	POStatusCancelled POStatus = "CANCELLED"
)

// PurchaseOrder domain model.
type PurchaseOrder struct {
	ID             int64           `json:"id"`
	Number         string          `json:"number"`
	SupplierID     int64           `json:"supplier_id"`
	AFEID          int64           `json:"afe_id,omitempty"`
	Status         POStatus        `json:"status"`
	Currency       string          `json:"currency"`
	ExpectedDate   time.Time       `json:"expected_date"`
	Note           string          `json:"note,omitempty"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	Discount       decimal.Decimal `json:"discount"`
	Tax            decimal.Decimal `json:"tax"`
	Total          decimal.Decimal `json:"total"`
	InvoicedAmount decimal.Decimal `json:"invoiced_amount"`
	PaidAmount     decimal.Decimal `json:"paid_amount"`
	CreatedBy      int64           `json:"created_by"`
	ApprovedBy     int64           `json:"approved_by,omitempty"`
	ApprovedAt     *time.Time      `json:"approved_at,omitempty"`
	Lines          []POLine        `json:"lines"`
}

// POLine represents PO lines.
type POLine struct {
	ID          int64           `json:"id"`
	POID        int64           `json:"po_id"`
	ProductID   int64           `json:"product_id"`
	Description string          `json:"description,omitempty"`
	Qty         decimal.Decimal `json:"qty"`
	Price       decimal.Decimal `json:"price"`
	DiscountPct decimal.Decimal `json:"discount_pct"`
	TaxPct      decimal.Decimal `json:"tax_pct"`
	Total       decimal.Decimal `json:"total"`
}

// Balance exposes the invoiced and paid tracking of the order.
func (po PurchaseOrder) Balance() ledger.Balance {
	return ledger.Balance{
		Total:                       po.Total,
		Invoiced:                    po.InvoicedAmount,
		Paid:                        po.PaidAmount,
		RequireInvoiceBeforePayment: true,
	}
}

// PaymentStatus derives UNPAID, PARTIAL or PAID.
func (po PurchaseOrder) PaymentStatus() ledger.PaymentStatus { return po.Balance().Status() }

// SupplierInvoice is a supplier bill registered against an approved order.
type SupplierInvoice struct {
	ID        int64           `json:"id"`
	POID      int64           `json:"po_id"`
	Number    string          `json:"number"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedBy int64           `json:"created_by"`
	CreatedAt time.Time       `json:"created_at"`
}

// SupplierPayment is money paid against an approved order.
type SupplierPayment struct {
	ID        int64           `json:"id"`
	POID      int64           `json:"po_id"`
	Number    string          `json:"number"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedBy int64           `json:"created_by"`
	CreatedAt time.Time       `json:"created_at"`
}

// AFEStatusApproved is the only AFE status that accepts commitments.
const AFEStatusApproved = "APPROVED"

// AFEDocType names the lock of a linked AFE.
const AFEDocType workflow.DocType = "AFE"

// LinkedEnvelope is the AFE budget a purchase order is charged to.
type LinkedEnvelope struct {
	AFEID    int64
	Status   string
	Envelope ledger.Envelope
}

var (
	// ErrNotFound indicates missing purchase order.
	ErrNotFound = fmt.Errorf("procurement: purchase order %w", shared.ErrNotFound)
	// ErrAFENotFound indicates the linked AFE does not exist.
	ErrAFENotFound = fmt.Errorf("procurement: afe %w", shared.ErrNotFound)
	// ErrAFENotApproved indicates a commitment against an AFE that is not approved.
	ErrAFENotApproved = fmt.Errorf("procurement: afe is not approved: %w", workflow.ErrInvalidState)
	// ErrNotApproved rejects invoices and payments on orders that are not APPROVED.
	ErrNotApproved = fmt.Errorf("procurement: purchase order is not approved: %w", workflow.ErrInvalidState)
	// ErrValidation indicates invalid payload.
	ErrValidation = fmt.Errorf("procurement: %w", shared.ErrValidation)
	// ErrNonPositiveTotal blocks submitting an order worth nothing.
	ErrNonPositiveTotal = fmt.Errorf("purchase order total must be positive: %w", shared.ErrRuleViolation)
	// ErrNotSettled blocks closing an order that is not fully invoiced and paid.
	ErrNotSettled = fmt.Errorf("purchase order is not fully invoiced and paid: %w", shared.ErrRuleViolation)
)
