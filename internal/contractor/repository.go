package contractor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/wellhead-erp/wellhead/internal/audit"
	"github.com/wellhead-erp/wellhead/internal/ledger"
	"github.com/wellhead-erp/wellhead/internal/platform/db"
	"github.com/wellhead-erp/wellhead/internal/workflow"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	CreateContract(ctx context.Context, c Contract) (int64, error)
	LockContract(ctx context.Context, id int64) (Contract, error)
	CreateValuation(ctx context.Context, v Valuation) (int64, error)
	LatestApprovedPct(ctx context.Context, contractID int64) (decimal.Decimal, error)
	UpdateValuationStatus(ctx context.Context, id int64, from, to ValuationStatus) error
	SetValuationApproval(ctx context.Context, id int64, approvedBy int64, approvedAt time.Time) error
	HasLiveInvoice(ctx context.Context, valuationID int64) (bool, error)
	CreateInvoice(ctx context.Context, inv Invoice) (int64, error)
	UpdateInvoiceStatus(ctx context.Context, id int64, from, to InvoiceStatus) error
	SetInvoiceApproval(ctx context.Context, id int64, approvedBy int64, approvedAt time.Time) error
	ApplyPayment(ctx context.Context, id int64, amount decimal.Decimal) error
	InsertPayment(ctx context.Context, p Payment) (int64, error)
	InsertTransition(ctx context.Context, step workflow.Step) error
	RecordAudit(ctx context.Context, log audit.Log) error
}

type txRepo struct {
	tx pgx.Tx
}

type rowScanner interface {
	Scan(dest ...any) error
}

const (
	contractColumns  = `id, number, contractor_id, title, currency, value, retention_pct, tax_pct, created_by, created_at`
	valuationColumns = `id, contract_id, number, status, period_end, prior_pct, accumulated_pct, period_pct, period_value, created_by, COALESCE(approved_by, 0), approved_at`
	invoiceColumns   = `id, number, contract_id, valuation_id, status, currency, subtotal, tax, total, retention, net_payable, paid_amount, created_by, COALESCE(approved_by, 0), approved_at`
)

func scanContract(row rowScanner) (Contract, error) {
	var c Contract
	err := row.Scan(&c.ID, &c.Number, &c.ContractorID, &c.Title, &c.Currency, &c.Value, &c.RetentionPct, &c.TaxPct, &c.CreatedBy, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Contract{}, ErrContractNotFound
	}
	return c, err
}

func scanValuation(row rowScanner) (Valuation, error) {
	var v Valuation
	err := row.Scan(&v.ID, &v.ContractID, &v.Number, &v.Status, &v.PeriodEnd, &v.PriorPct, &v.AccumulatedPct, &v.PeriodPct, &v.PeriodValue, &v.CreatedBy, &v.ApprovedBy, &v.ApprovedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Valuation{}, ErrValuationNotFound
	}
	return v, err
}

func scanInvoice(row rowScanner) (Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.Number, &inv.ContractID, &inv.ValuationID, &inv.Status, &inv.Currency, &inv.Subtotal, &inv.Tax, &inv.Total,
		&inv.Retention, &inv.NetPayable, &inv.PaidAmount, &inv.CreatedBy, &inv.ApprovedBy, &inv.ApprovedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, ErrInvoiceNotFound
	}
	return inv, err
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// GetContract fetches a contract.
func (r *Repository) GetContract(ctx context.Context, id int64) (Contract, error) {
	return scanContract(r.pool.QueryRow(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id=$1`, id))
}

// GetValuation fetches a valuation.
func (r *Repository) GetValuation(ctx context.Context, id int64) (Valuation, error) {
	return scanValuation(r.pool.QueryRow(ctx, `SELECT `+valuationColumns+` FROM project_valuations WHERE id=$1`, id))
}

// ListApprovedValuations returns approved valuations of a contract in progress order.
func (r *Repository) ListApprovedValuations(ctx context.Context, contractID int64) ([]Valuation, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+valuationColumns+` FROM project_valuations WHERE contract_id=$1 AND status='APPROVED' ORDER BY accumulated_pct, approved_at, id`, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Valuation
	for rows.Next() {
		v, err := scanValuation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// GetInvoice fetches a contractor invoice.
func (r *Repository) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	return scanInvoice(r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM contractor_invoices WHERE id=$1`, id))
}

// ListPayments returns payments of an invoice.
func (r *Repository) ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, invoice_id, number, amount, created_by, created_at FROM contractor_payments WHERE invoice_id=$1 ORDER BY id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.Number, &p.Amount, &p.CreatedBy, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func uniqueNumber(err error, number string) error {
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("%w: number %s already used", ErrValidation, number)
	}
	return err
}

func (tx *txRepo) CreateContract(ctx context.Context, c Contract) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO contracts (number, contractor_id, title, currency, value, retention_pct, tax_pct, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		c.Number, c.ContractorID, c.Title, c.Currency, c.Value, c.RetentionPct, c.TaxPct, c.CreatedBy, c.CreatedAt).Scan(&id)
	if err != nil {
		return 0, uniqueNumber(err, c.Number)
	}
	return id, nil
}

func (tx *txRepo) LockContract(ctx context.Context, id int64) (Contract, error) {
	return scanContract(tx.tx.QueryRow(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id=$1 FOR UPDATE`, id))
}

func (tx *txRepo) CreateValuation(ctx context.Context, v Valuation) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO project_valuations (contract_id, number, status, period_end, prior_pct, accumulated_pct, period_pct, period_value, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		v.ContractID, v.Number, string(v.Status), v.PeriodEnd, v.PriorPct, v.AccumulatedPct, v.PeriodPct, v.PeriodValue, v.CreatedBy).Scan(&id)
	if err != nil {
		return 0, uniqueNumber(err, v.Number)
	}
	return id, nil
}

func (tx *txRepo) LatestApprovedPct(ctx context.Context, contractID int64) (decimal.Decimal, error) {
	var pct decimal.Decimal
	err := tx.tx.QueryRow(ctx, `SELECT COALESCE(MAX(accumulated_pct), 0) FROM project_valuations WHERE contract_id=$1 AND status='APPROVED'`, contractID).Scan(&pct)
	return pct, err
}

func (tx *txRepo) UpdateValuationStatus(ctx context.Context, id int64, from, to ValuationStatus) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE project_valuations SET status=$3, updated_at=NOW() WHERE id=$1 AND status=$2`, id, string(from), string(to))
	if err != nil {
		return err
	}
	return db.Affected(tag, workflow.ErrStaleState)
}

func (tx *txRepo) SetValuationApproval(ctx context.Context, id int64, approvedBy int64, approvedAt time.Time) error {
	_, err := tx.tx.Exec(ctx, `UPDATE project_valuations SET approved_by=$2, approved_at=$3 WHERE id=$1`, id, approvedBy, approvedAt)
	return err
}

func (tx *txRepo) HasLiveInvoice(ctx context.Context, valuationID int64) (bool, error) {
	var exists bool
	err := tx.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM contractor_invoices WHERE valuation_id=$1 AND status <> 'CANCELLED')`, valuationID).Scan(&exists)
	return exists, err
}

func (tx *txRepo) CreateInvoice(ctx context.Context, inv Invoice) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO contractor_invoices (number, contract_id, valuation_id, status, currency, subtotal, tax, total, retention, net_payable, paid_amount, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, $11) RETURNING id`,
		inv.Number, inv.ContractID, inv.ValuationID, string(inv.Status), inv.Currency, inv.Subtotal, inv.Tax, inv.Total, inv.Retention, inv.NetPayable, inv.CreatedBy).Scan(&id)
	if err != nil {
		return 0, uniqueNumber(err, inv.Number)
	}
	return id, nil
}

func (tx *txRepo) UpdateInvoiceStatus(ctx context.Context, id int64, from, to InvoiceStatus) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE contractor_invoices SET status=$3, updated_at=NOW() WHERE id=$1 AND status=$2`, id, string(from), string(to))
	if err != nil {
		return err
	}
	return db.Affected(tag, workflow.ErrStaleState)
}

func (tx *txRepo) SetInvoiceApproval(ctx context.Context, id int64, approvedBy int64, approvedAt time.Time) error {
	_, err := tx.tx.Exec(ctx, `UPDATE contractor_invoices SET approved_by=$2, approved_at=$3 WHERE id=$1`, id, approvedBy, approvedAt)
	return err
}

func (tx *txRepo) ApplyPayment(ctx context.Context, id int64, amount decimal.Decimal) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE contractor_invoices SET paid_amount = paid_amount + $2, updated_at=NOW()
WHERE id=$1 AND status IN ('APPROVED', 'PARTIALLY_PAID') AND paid_amount + $2 <= net_payable`, id, amount)
	if err != nil {
		return err
	}
	return db.Affected(tag, ledger.ErrExceedsTotal)
}

func (tx *txRepo) InsertPayment(ctx context.Context, p Payment) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO contractor_payments (invoice_id, number, amount, created_by, created_at) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		p.InvoiceID, p.Number, p.Amount, p.CreatedBy, p.CreatedAt).Scan(&id)
	return id, err
}

func (tx *txRepo) InsertTransition(ctx context.Context, step workflow.Step) error {
	return audit.InsertTransition(ctx, tx.tx, step)
}

func (tx *txRepo) RecordAudit(ctx context.Context, log audit.Log) error {
	return audit.WriteLog(ctx, tx.tx, log)
}
