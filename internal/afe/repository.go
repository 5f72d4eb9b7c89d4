package afe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

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
	CreateAFE(ctx context.Context, a AFE) (int64, error)
	UpdateStatus(ctx context.Context, id int64, from, to Status) error
	SetApproval(ctx context.Context, id int64, approvedBy int64, approvedAt time.Time) error
	LockAFE(ctx context.Context, id int64) (AFE, error)
	SaveEnvelope(ctx context.Context, id int64, env ledger.Envelope) error
	InsertSupplement(ctx context.Context, s Supplement) (int64, error)
	InsertTransition(ctx context.Context, step workflow.Step) error
	RecordAudit(ctx context.Context, log audit.Log) error
}

type txRepo struct {
	tx pgx.Tx
}

const afeColumns = `id, number, title, project_code, status, currency, budget, supplements, committed, actual, created_by, COALESCE(approved_by, 0), approved_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAFE(row rowScanner) (AFE, error) {
	var a AFE
	err := row.Scan(&a.ID, &a.Number, &a.Title, &a.ProjectCode, &a.Status, &a.Currency, &a.Budget, &a.Supplements, &a.Committed, &a.Actual, &a.CreatedBy, &a.ApprovedBy, &a.ApprovedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AFE{}, ErrNotFound
		}
		return AFE{}, err
	}
	return a, nil
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// GetAFE fetches an AFE.
func (r *Repository) GetAFE(ctx context.Context, id int64) (AFE, error) {
	return scanAFE(r.pool.QueryRow(ctx, `SELECT `+afeColumns+` FROM afes WHERE id=$1`, id))
}

// ListSupplements returns the supplements of an AFE in creation order.
func (r *Repository) ListSupplements(ctx context.Context, afeID int64) ([]Supplement, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, afe_id, amount, reason, created_by, created_at FROM afe_supplements WHERE afe_id=$1 ORDER BY id`, afeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Supplement
	for rows.Next() {
		var s Supplement
		if err := rows.Scan(&s.ID, &s.AFEID, &s.Amount, &s.Reason, &s.CreatedBy, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (tx *txRepo) CreateAFE(ctx context.Context, a AFE) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO afes (number, title, project_code, status, currency, budget, supplements, committed, actual, created_by)
VALUES ($1, $2, $3, $4, $5, $6, 0, 0, 0, $7) RETURNING id`,
		a.Number, a.Title, a.ProjectCode, string(a.Status), a.Currency, a.Budget, a.CreatedBy).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return 0, fmt.Errorf("%w: number %s already used", ErrValidation, a.Number)
		}
		return 0, err
	}
	return id, nil
}

func (tx *txRepo) UpdateStatus(ctx context.Context, id int64, from, to Status) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE afes SET status=$3, updated_at=NOW() WHERE id=$1 AND status=$2`, id, string(from), string(to))
	if err != nil {
		return err
	}
	return db.Affected(tag, workflow.ErrStaleState)
}

func (tx *txRepo) SetApproval(ctx context.Context, id int64, approvedBy int64, approvedAt time.Time) error {
	_, err := tx.tx.Exec(ctx, `UPDATE afes SET approved_by=$2, approved_at=$3 WHERE id=$1`, id, approvedBy, approvedAt)
	return err
}

func (tx *txRepo) LockAFE(ctx context.Context, id int64) (AFE, error) {
	return scanAFE(tx.tx.QueryRow(ctx, `SELECT `+afeColumns+` FROM afes WHERE id=$1 FOR UPDATE`, id))
}

func (tx *txRepo) SaveEnvelope(ctx context.Context, id int64, env ledger.Envelope) error {
	_, err := tx.tx.Exec(ctx, `UPDATE afes SET supplements=$2, committed=$3, actual=$4, updated_at=NOW() WHERE id=$1`, id, env.Supplements, env.Committed, env.Actual)
	return err
}

func (tx *txRepo) InsertSupplement(ctx context.Context, s Supplement) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO afe_supplements (afe_id, amount, reason, created_by, created_at) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		s.AFEID, s.Amount, s.Reason, s.CreatedBy, s.CreatedAt).Scan(&id)
	return id, err
}

func (tx *txRepo) InsertTransition(ctx context.Context, step workflow.Step) error {
	return audit.InsertTransition(ctx, tx.tx, step)
}

func (tx *txRepo) RecordAudit(ctx context.Context, log audit.Log) error {
	return audit.WriteLog(ctx, tx.tx, log)
}
