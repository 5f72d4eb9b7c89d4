package crm

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wellhead-erp/wellhead/internal/shared"
	"github.com/wellhead-erp/wellhead/internal/workflow"
)

// DocType identifies sales quotes.
const DocType workflow.DocType = "QUOTE"

// QuoteStatus is the lifecycle status of a quote.
type QuoteStatus string

const (
	QuoteDraft     QuoteStatus = "DRAFT"
	QuoteSent      QuoteStatus = "SENT"
	QuoteAccepted  QuoteStatus = "ACCEPTED"
	QuoteRejected  QuoteStatus = "REJECTED"
	QuoteExpired   QuoteStatus = "EXPIRED"
	QuoteCancelled QuoteStatus = "CANCELLED"
)

// Quote is a priced offer to a customer valid until a date.
type Quote struct {
	ID         int64           `json:"id"`
	Number     string          `json:"number"`
	CustomerID int64           `json:"customer_id"`
	Status     QuoteStatus     `json:"status"`
	Currency   string          `json:"currency"`
	ValidUntil time.Time       `json:"valid_until"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	Discount   decimal.Decimal `json:"discount"`
	Tax        decimal.Decimal `json:"tax"`
	Total      decimal.Decimal `json:"total"`
	CreatedBy  int64           `json:"created_by"`
	Lines      []QuoteLine     `json:"lines"`
}

// Expired reports whether the validity elapsed at now.
func (q Quote) Expired(now time.Time) bool { return !now.Before(q.ValidUntil) }

// QuoteLine is a quoted item.
type QuoteLine struct {
	ID          int64           `json:"id"`
	QuoteID     int64           `json:"quote_id"`
	Description string          `json:"description"`
	Qty         decimal.Decimal `json:"qty"`
	Price       decimal.Decimal `json:"price"`
	DiscountPct decimal.Decimal `json:"discount_pct"`
	TaxPct      decimal.Decimal `json:"tax_pct"`
	Total       decimal.Decimal `json:"total"`
}

var (
	// ErrNotFound indicates a missing quote.
	ErrNotFound = fmt.Errorf("quote %w", shared.ErrNotFound)
	// ErrValidation indicates invalid payload.
	ErrValidation = fmt.Errorf("crm: %w", shared.ErrValidation)
	// ErrValidityElapsed blocks sending or accepting an expired quote.
	ErrValidityElapsed = fmt.Errorf("quote validity elapsed: %w", shared.ErrRuleViolation)
	// ErrStillValid blocks expiring a quote before its validity ends.
	ErrStillValid = fmt.Errorf("quote is still valid: %w", shared.ErrRuleViolation)
)
