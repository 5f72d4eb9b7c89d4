package pettycash

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wellhead-erp/wellhead/internal/shared"
	"github.com/wellhead-erp/wellhead/internal/workflow"
)

// DocType identifies expense reports.
const DocType workflow.DocType = "EXPENSE_REPORT"

// RoleFinanceApprover approves and reimburses expense reports.
const RoleFinanceApprover workflow.Role = "FINANCE_APPROVER"

// Fund is a petty-cash float held by a custodian.
type Fund struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	CustodianID int64           `json:"custodian_id"`
	Currency    string          `json:"currency"`
	FloatAmount decimal.Decimal `json:"float_amount"`
	Balance     decimal.Decimal `json:"balance"`
}

// ReportStatus is the lifecycle status of an expense report.
type ReportStatus string

const (
	ReportDraft      ReportStatus = "DRAFT"
	ReportSubmitted  ReportStatus = "SUBMITTED"
	ReportApproved   ReportStatus = "APPROVED"
	ReportRejected   ReportStatus = "REJECTED"
	ReportReimbursed ReportStatus = "REIMBURSED"
)

// ExpenseReport claims reimbursement of cash spent from a fund.
type ExpenseReport struct {
	ID           int64           `json:"id"`
	Number       string          `json:"number"`
	FundID       int64           `json:"fund_id"`
	EmployeeID   int64           `json:"employee_id"`
	Status       ReportStatus    `json:"status"`
	Purpose      string          `json:"purpose"`
	Total        decimal.Decimal `json:"total"`
	CreatedBy    int64           `json:"created_by"`
	ReimbursedAt *time.Time      `json:"reimbursed_at,omitempty"`
	Lines        []ExpenseLine   `json:"lines"`
}

// ExpenseLine is one receipt of a report.
type ExpenseLine struct {
	ID          int64           `json:"id"`
	ReportID    int64           `json:"report_id"`
	Category    string          `json:"category"`
	Description string          `json:"description,omitempty"`
	SpentOn     time.Time       `json:"spent_on"`
	Amount      decimal.Decimal `json:"amount"`
}

// Replenishment restores a fund toward its float.
type Replenishment struct {
	ID        int64           `json:"id"`
	FundID    int64           `json:"fund_id"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedBy int64           `json:"created_by"`
	CreatedAt time.Time       `json:"created_at"`
}

var (
	// ErrFundNotFound indicates a missing fund.
	ErrFundNotFound = fmt.Errorf("petty cash fund %w", shared.ErrNotFound)
	// ErrReportNotFound indicates a missing expense report.
	ErrReportNotFound = fmt.Errorf("expense report %w", shared.ErrNotFound)
	// ErrValidation indicates invalid payload.
	ErrValidation = fmt.Errorf("pettycash: %w", shared.ErrValidation)
	// ErrInsufficientFund blocks approving or reimbursing above the fund balance.
	ErrInsufficientFund = fmt.Errorf("expense report total exceeds fund balance: %w", shared.ErrRuleViolation)
	// ErrAboveFloat blocks replenishing a fund above its float amount.
	ErrAboveFloat = fmt.Errorf("replenishment exceeds fund float: %w", shared.ErrRuleViolation)
	// ErrEmptyReport blocks submitting a report without positive lines.
	ErrEmptyReport = fmt.Errorf("expense report needs at least one positive line: %w", shared.ErrRuleViolation)
)
