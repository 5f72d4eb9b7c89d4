package pettycash

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

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
	CreateFund(ctx context.Context, f Fund) (int64, error)
	LockFund(ctx context.Context, id int64) (Fund, error)
	DeductFund(ctx context.Context, id int64, amount decimal.Decimal) error
	AddFund(ctx context.Context, id int64, amount decimal.Decimal) error
	InsertReplenishment(ctx context.Context, r Replenishment) (int64, error)
	CreateReport(ctx context.Context, r ExpenseReport) (int64, error)
	InsertLine(ctx context.Context, line ExpenseLine) error
	UpdateReportStatus(ctx context.Context, id int64, from, to ReportStatus) error
	SetReimbursed(ctx context.Context, id int64, at time.Time) error
	InsertTransition(ctx context.Context, step workflow.Step) error
	RecordAudit(ctx context.Context, log audit.Log) error
}

type txRepo struct {
	tx pgx.Tx
}

const fundColumns = `id, name, custodian_id, currency, float_amount, balance`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFund(row rowScanner) (Fund, error) {
	var f Fund
	err := row.Scan(&f.ID, &f.Name, &f.CustodianID, &f.Currency, &f.FloatAmount, &f.Balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return Fund{}, ErrFundNotFound
	}
	return f, err
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// GetFund fetches a fund.
func (r *Repository) GetFund(ctx context.Context, id int64) (Fund, error) {
	return scanFund(r.pool.QueryRow(ctx, `SELECT `+fundColumns+` FROM petty_cash_funds WHERE id=$1`, id))
}

// GetReport fetches an expense report with its lines.
func (r *Repository) GetReport(ctx context.Context, id int64) (ExpenseReport, error) {
	var rep ExpenseReport
	err := r.pool.QueryRow(ctx, `SELECT id, number, fund_id, employee_id, status, purpose, total, created_by, reimbursed_at FROM expense_reports WHERE id=$1`, id).
		Scan(&rep.ID, &rep.Number, &rep.FundID, &rep.EmployeeID, &rep.Status, &rep.Purpose, &rep.Total, &rep.CreatedBy, &rep.ReimbursedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ExpenseReport{}, ErrReportNotFound
		}
		return ExpenseReport{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, report_id, category, description, spent_on, amount FROM expense_lines WHERE report_id=$1 ORDER BY id`, id)
	if err != nil {
		return ExpenseReport{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line ExpenseLine
		if err := rows.Scan(&line.ID, &line.ReportID, &line.Category, &line.Description, &line.SpentOn, &line.Amount); err != nil {
			return ExpenseReport{}, err
		}
		rep.Lines = append(rep.Lines, line)
	}
	return rep, rows.Err()
}

func (tx *txRepo) CreateFund(ctx context.Context, f Fund) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO petty_cash_funds (name, custodian_id, currency, float_amount, balance) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		f.Name, f.CustodianID, f.Currency, f.FloatAmount, f.Balance).Scan(&id)
	return id, err
}

func (tx *txRepo) LockFund(ctx context.Context, id int64) (Fund, error) {
	return scanFund(tx.tx.QueryRow(ctx, `SELECT `+fundColumns+` FROM petty_cash_funds WHERE id=$1 FOR UPDATE`, id))
}

func (tx *txRepo) DeductFund(ctx context.Context, id int64, amount decimal.Decimal) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE petty_cash_funds SET balance = balance - $2, updated_at=NOW() WHERE id=$1 AND balance - $2 >= 0`, id, amount)
	if err != nil {
		return err
	}
	return db.Affected(tag, ErrInsufficientFund)
}

func (tx *txRepo) AddFund(ctx context.Context, id int64, amount decimal.Decimal) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE petty_cash_funds SET balance = balance + $2, updated_at=NOW() WHERE id=$1 AND balance + $2 <= float_amount`, id, amount)
	if err != nil {
		return err
	}
	return db.Affected(tag, ErrAboveFloat)
}

func (tx *txRepo) InsertReplenishment(ctx context.Context, r Replenishment) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO petty_cash_replenishments (fund_id, amount, created_by, created_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		r.FundID, r.Amount, r.CreatedBy, r.CreatedAt).Scan(&id)
	return id, err
}

func (tx *txRepo) CreateReport(ctx context.Context, r ExpenseReport) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO expense_reports (number, fund_id, employee_id, status, purpose, total, created_by) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		r.Number, r.FundID, r.EmployeeID, string(r.Status), r.Purpose, r.Total, r.CreatedBy).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return 0, fmt.Errorf("%w: number %s already used", ErrValidation, r.Number)
		}
		return 0, err
	}
	return id, nil
}

func (tx *txRepo) InsertLine(ctx context.Context, line ExpenseLine) error {
	_, err := tx.tx.Exec(ctx, `INSERT INTO expense_lines (report_id, category, description, spent_on, amount) VALUES ($1, $2, $3, $4, $5)`,
		line.ReportID, line.Category, line.Description, line.SpentOn, line.Amount)
	return err
}

func (tx *txRepo) UpdateReportStatus(ctx context.Context, id int64, from, to ReportStatus) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE expense_reports SET status=$3, updated_at=NOW() WHERE id=$1 AND status=$2`, id, string(from), string(to))
	if err != nil {
		return err
	}
	return db.Affected(tag, workflow.ErrStaleState)
}

func (tx *txRepo) SetReimbursed(ctx context.Context, id int64, at time.Time) error {
	_, err := tx.tx.Exec(ctx, `UPDATE expense_reports SET reimbursed_at=$2 WHERE id=$1`, id, at)
	return err
}

func (tx *txRepo) InsertTransition(ctx context.Context, step workflow.Step) error {
	return audit.InsertTransition(ctx, tx.tx, step)
}

func (tx *txRepo) RecordAudit(ctx context.Context, log audit.Log) error {
	return audit.WriteLog(ctx, tx.tx, log)
}
