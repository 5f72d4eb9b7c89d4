package crm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wellhead-erp/wellhead/internal/audit"
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
	CreateQuote(ctx context.Context, q Quote) (int64, error)
	InsertLine(ctx context.Context, line QuoteLine) error
	UpdateStatus(ctx context.Context, id int64, from, to QuoteStatus) error
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

// GetQuote fetches a quote with lines.
func (r *Repository) GetQuote(ctx context.Context, id int64) (Quote, error) {
	var q Quote
	err := r.pool.QueryRow(ctx, `SELECT id, number, customer_id, status, currency, valid_until, subtotal, discount, tax, total, created_by FROM quotes WHERE id=$1`, id).
		Scan(&q.ID, &q.Number, &q.CustomerID, &q.Status, &q.Currency, &q.ValidUntil, &q.Subtotal, &q.Discount, &q.Tax, &q.Total, &q.CreatedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Quote{}, ErrNotFound
		}
		return Quote{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, quote_id, description, qty, price, discount_pct, tax_pct, total FROM quote_lines WHERE quote_id=$1 ORDER BY id`, id)
	if err != nil {
		return Quote{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l QuoteLine
		if err := rows.Scan(&l.ID, &l.QuoteID, &l.Description, &l.Qty, &l.Price, &l.DiscountPct, &l.TaxPct, &l.Total); err != nil {
			return Quote{}, err
		}
		q.Lines = append(q.Lines, l)
	}
	return q, rows.Err()
}

// ListExpirable returns sent quotes whose validity ended before now.
func (r *Repository) ListExpirable(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM quotes WHERE status=$1 AND valid_until <= $2 ORDER BY valid_until LIMIT $3`, string(QuoteSent), now, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (tx *txRepo) CreateQuote(ctx context.Context, q Quote) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO quotes (number, customer_id, status, currency, valid_until, subtotal, discount, tax, total, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		q.Number, q.CustomerID, string(q.Status), q.Currency, q.ValidUntil, q.Subtotal, q.Discount, q.Tax, q.Total, q.CreatedBy).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return 0, fmt.Errorf("%w: number %s already used", ErrValidation, q.Number)
		}
		return 0, err
	}
	return id, nil
}

func (tx *txRepo) InsertLine(ctx context.Context, l QuoteLine) error {
	_, err := tx.tx.Exec(ctx, `INSERT INTO quote_lines (quote_id, description, qty, price, discount_pct, tax_pct, total) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		l.QuoteID, l.Description, l.Qty, l.Price, l.DiscountPct, l.TaxPct, l.Total)
	return err
}

func (tx *txRepo) UpdateStatus(ctx context.Context, id int64, from, to QuoteStatus) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE quotes SET status=$3, updated_at=NOW() WHERE id=$1 AND status=$2`, id, string(from), string(to))
	if err != nil {
		return err
	}
	return db.Affected(tag, workflow.ErrStaleState)
}

func (tx *txRepo) InsertTransition(ctx context.Context, step workflow.Step) error {
	return audit.InsertTransition(ctx, tx.tx, step)
}

func (tx *txRepo) RecordAudit(ctx context.Context, log audit.Log) error {
	return audit.WriteLog(ctx, tx.tx, log)
}
