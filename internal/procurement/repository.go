package procurement

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
	CreatePO(ctx context.Context, po PurchaseOrder) (int64, error)
	InsertPOLine(ctx context.Context, line POLine) error
	UpdatePOStatus(ctx context.Context, id int64, from, to POStatus) error
	SetPOApproval(ctx context.Context, id int64, approvedBy int64, approvedAt time.Time) error
	ApplyInvoice(ctx context.Context, id int64, amount decimal.Decimal) error
	ApplyPayment(ctx context.Context, id int64, amount decimal.Decimal) error
	InsertInvoice(ctx context.Context, inv SupplierInvoice) (int64, error)
	InsertPayment(ctx context.Context, payment SupplierPayment) (int64, error)
	LockEnvelope(ctx context.Context, afeID int64) (LinkedEnvelope, error)
	SaveEnvelope(ctx context.Context, afeID int64, env ledger.Envelope) error
	InsertTransition(ctx context.Context, step workflow.Step) error
	RecordAudit(ctx context.Context, log audit.Log) error
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// GetPO returns purchase order and lines.
func (r *Repository) GetPO(ctx context.Context, id int64) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := r.pool.QueryRow(ctx, `SELECT id, number, supplier_id, COALESCE(afe_id, 0), status, currency, COALESCE(expected_date, CURRENT_DATE), note,
subtotal, discount, tax, total, invoiced_amount, paid_amount, created_by, COALESCE(approved_by, 0), approved_at
FROM purchase_orders WHERE id=$1`, id).
		Scan(&po.ID, &po.Number, &po.SupplierID, &po.AFEID, &po.Status, &po.Currency, &po.ExpectedDate, &po.Note,
			&po.Subtotal, &po.Discount, &po.Tax, &po.Total, &po.InvoicedAmount, &po.PaidAmount, &po.CreatedBy, &po.ApprovedBy, &po.ApprovedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, ErrNotFound
		}
		return PurchaseOrder{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, po_id, product_id, description, qty, price, discount_pct, tax_pct, total FROM po_lines WHERE po_id=$1 ORDER BY id`, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line POLine
		if err := rows.Scan(&line.ID, &line.POID, &line.ProductID, &line.Description, &line.Qty, &line.Price, &line.DiscountPct, &line.TaxPct, &line.Total); err != nil {
			return PurchaseOrder{}, err
		}
		po.Lines = append(po.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return PurchaseOrder{}, err
	}
	return po, nil
}

func (tx *txRepo) CreatePO(ctx context.Context, po PurchaseOrder) (int64, error) {
	var afeID *int64
	if po.AFEID != 0 {
		afeID = &po.AFEID
	}
	var expected *time.Time
	if !po.ExpectedDate.IsZero() {
		expected = &po.ExpectedDate
	}
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO purchase_orders
(number, supplier_id, afe_id, status, currency, expected_date, note, subtotal, discount, tax, total, invoiced_amount, paid_amount, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 0, 0, $12) RETURNING id`,
		po.Number, po.SupplierID, afeID, string(po.Status), po.Currency, expected, po.Note,
		po.Subtotal, po.Discount, po.Tax, po.Total, po.CreatedBy).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return 0, fmt.Errorf("%w: number %s already used", ErrValidation, po.Number)
		}
		return 0, err
	}
	return id, nil
}

func (tx *txRepo) InsertPOLine(ctx context.Context, line POLine) error {
	_, err := tx.tx.Exec(ctx, `INSERT INTO po_lines (po_id, product_id, description, qty, price, discount_pct, tax_pct, total)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, line.POID, line.ProductID, line.Description, line.Qty, line.Price, line.DiscountPct, line.TaxPct, line.Total)
	return err
}

func (tx *txRepo) UpdatePOStatus(ctx context.Context, id int64, from, to POStatus) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE purchase_orders SET status=$3, updated_at=NOW() WHERE id=$1 AND status=$2`, id, string(from), string(to))
	if err != nil {
		return err
	}
	return db.Affected(tag, workflow.ErrStaleState)
}

func (tx *txRepo) SetPOApproval(ctx context.Context, id int64, approvedBy int64, approvedAt time.Time) error {
	_, err := tx.tx.Exec(ctx, `UPDATE purchase_orders SET approved_by=$2, approved_at=$3 WHERE id=$1`, id, approvedBy, approvedAt)
	return err
}

func (tx *txRepo) ApplyInvoice(ctx context.Context, id int64, amount decimal.Decimal) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE purchase_orders SET invoiced_amount = invoiced_amount + $2, updated_at=NOW()
WHERE id=$1 AND status='APPROVED' AND invoiced_amount + $2 <= total`, id, amount)
	if err != nil {
		return err
	}
	return db.Affected(tag, ledger.ErrExceedsTotal)
}

func (tx *txRepo) ApplyPayment(ctx context.Context, id int64, amount decimal.Decimal) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE purchase_orders SET paid_amount = paid_amount + $2, updated_at=NOW()
WHERE id=$1 AND status='APPROVED' AND paid_amount + $2 <= invoiced_amount`, id, amount)
	if err != nil {
		return err
	}
	return db.Affected(tag, ledger.ErrExceedsTotal)
}

func (tx *txRepo) InsertInvoice(ctx context.Context, inv SupplierInvoice) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO po_invoices (po_id, number, amount, created_by, created_at) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		inv.POID, inv.Number, inv.Amount, inv.CreatedBy, inv.CreatedAt).Scan(&id)
	return id, err
}

func (tx *txRepo) InsertPayment(ctx context.Context, payment SupplierPayment) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO po_payments (po_id, number, amount, created_by, created_at) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		payment.POID, payment.Number, payment.Amount, payment.CreatedBy, payment.CreatedAt).Scan(&id)
	return id, err
}

func (tx *txRepo) LockEnvelope(ctx context.Context, afeID int64) (LinkedEnvelope, error) {
	linked := LinkedEnvelope{AFEID: afeID}
	err := tx.tx.QueryRow(ctx, `SELECT status, budget, supplements, committed, actual FROM afes WHERE id=$1 FOR UPDATE`, afeID).
		Scan(&linked.Status, &linked.Envelope.Budget, &linked.Envelope.Supplements, &linked.Envelope.Committed, &linked.Envelope.Actual)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LinkedEnvelope{}, ErrAFENotFound
		}
		return LinkedEnvelope{}, err
	}
	return linked, nil
}

func (tx *txRepo) SaveEnvelope(ctx context.Context, afeID int64, env ledger.Envelope) error {
	_, err := tx.tx.Exec(ctx, `UPDATE afes SET committed=$2, actual=$3, updated_at=NOW() WHERE id=$1`, afeID, env.Committed, env.Actual)
	return err
}

func (tx *txRepo) InsertTransition(ctx context.Context, step workflow.Step) error {
	return audit.InsertTransition(ctx, tx.tx, step)
}

func (tx *txRepo) RecordAudit(ctx context.Context, log audit.Log) error {
	return audit.WriteLog(ctx, tx.tx, log)
}
