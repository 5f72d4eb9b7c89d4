package afe

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wellhead-erp/wellhead/internal/ledger"
	"github.com/wellhead-erp/wellhead/internal/shared"
	"github.com/wellhead-erp/wellhead/internal/workflow"
)

// DocType identifies AFEs in the workflow registry and trail.
const DocType workflow.DocType = "AFE"

// RoleApprover approves, rejects and closes AFEs.
const RoleApprover workflow.Role = "AFE_APPROVER"

// Status of an authorization for expenditure.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusSubmitted Status = "SUBMITTED"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusClosed    Status = "CLOSED"
)

// AFE is a pre-approved spending envelope for a well or project.
type AFE struct {
	ID          int64           `json:"id"`
	Number      string          `json:"number"`
	Title       string          `json:"title"`
	ProjectCode string          `json:"project_code"`
	Status      Status          `json:"status"`
	Currency    string          `json:"currency"`
	Budget      decimal.Decimal `json:"budget"`
	Supplements decimal.Decimal `json:"supplements"`
	Committed   decimal.Decimal `json:"committed"`
	Actual      decimal.Decimal `json:"actual"`
	CreatedBy   int64           `json:"created_by"`
	ApprovedBy  int64           `json:"approved_by,omitempty"`
	ApprovedAt  *time.Time      `json:"approved_at,omitempty"`
}

// Envelope returns the ledger view of the AFE with the given overrun tolerance.
func (a AFE) Envelope(tolerancePct decimal.Decimal) ledger.Envelope {
	return ledger.Envelope{
		Budget:       a.Budget,
		Supplements:  a.Supplements,
		Committed:    a.Committed,
		Actual:       a.Actual,
		TolerancePct: tolerancePct,
	}
}

// Authorized is budget plus supplements.
func (a AFE) Authorized() decimal.Decimal { return a.Budget.Add(a.Supplements) }

// Supplement raises the authorized amount of an approved AFE.
type Supplement struct {
	ID        int64           `json:"id"`
	AFEID     int64           `json:"afe_id"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
	CreatedBy int64           `json:"created_by"`
	CreatedAt time.Time       `json:"created_at"`
}

var (
	// ErrNotFound indicates a missing AFE.
	ErrNotFound = fmt.Errorf("afe %w", shared.ErrNotFound)
	// ErrNotApproved rejects envelope changes outside APPROVED.
	ErrNotApproved = fmt.Errorf("afe is not approved: %w", workflow.ErrInvalidState)
	// ErrValidation indicates invalid payload.
	ErrValidation = fmt.Errorf("afe: %w", shared.ErrValidation)
	// ErrNoBudget blocks submitting or approving an AFE without budget.
	ErrNoBudget = fmt.Errorf("afe budget must be positive: %w", shared.ErrRuleViolation)
	// ErrOpenCommitments blocks closing while commitments exceed actuals.
	ErrOpenCommitments = fmt.Errorf("afe has open commitments: %w", shared.ErrRuleViolation)
)
