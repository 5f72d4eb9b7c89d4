package hse

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
	CreatePermit(ctx context.Context, p WorkPermit) (int64, error)
	LockPermit(ctx context.Context, id int64) (PermitStatus, error)
	UpdatePermitStatus(ctx context.Context, id int64, from, to PermitStatus) error
	InsertGasTest(ctx context.Context, g GasTest) (int64, error)
	CreateInspection(ctx context.Context, in Inspection) (int64, error)
	LockInspection(ctx context.Context, id int64) (InspectionStatus, error)
	UpdateInspectionStatus(ctx context.Context, id int64, from, to InspectionStatus) error
	InsertFinding(ctx context.Context, f Finding) (int64, error)
	ResolveFinding(ctx context.Context, inspectionID, findingID, by int64, at time.Time, resolution string) error
	CountOpenFindings(ctx context.Context, inspectionID int64) (int, error)
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

// GetPermit fetches a permit with its gas tests.
func (r *Repository) GetPermit(ctx context.Context, id int64) (WorkPermit, error) {
	var p WorkPermit
	err := r.pool.QueryRow(ctx, `SELECT id, number, permit_type, location, description, status, valid_from, valid_to, requested_by FROM work_permits WHERE id=$1`, id).
		Scan(&p.ID, &p.Number, &p.Type, &p.Location, &p.Description, &p.Status, &p.ValidFrom, &p.ValidTo, &p.RequestedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return WorkPermit{}, ErrPermitNotFound
		}
		return WorkPermit{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, permit_id, oxygen_pct, lel_pct, h2s_ppm, co_ppm, passed, tested_by, tested_at FROM permit_gas_tests WHERE permit_id=$1 ORDER BY tested_at, id`, id)
	if err != nil {
		return WorkPermit{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var g GasTest
		if err := rows.Scan(&g.ID, &g.PermitID, &g.OxygenPct, &g.LELPct, &g.H2SPPM, &g.COPPM, &g.Passed, &g.TestedBy, &g.TestedAt); err != nil {
			return WorkPermit{}, err
		}
		p.GasTests = append(p.GasTests, g)
	}
	return p, rows.Err()
}

// GetInspection fetches an inspection with its findings.
func (r *Repository) GetInspection(ctx context.Context, id int64) (Inspection, error) {
	var in Inspection
	err := r.pool.QueryRow(ctx, `SELECT id, number, site, inspector_id, status, scheduled_for FROM inspections WHERE id=$1`, id).
		Scan(&in.ID, &in.Number, &in.Site, &in.InspectorID, &in.Status, &in.ScheduledFor)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Inspection{}, ErrInspectionNotFound
		}
		return Inspection{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, inspection_id, severity, description, raised_by, raised_at, resolved_by, resolved_at, COALESCE(resolution, '') FROM inspection_findings WHERE inspection_id=$1 ORDER BY id`, id)
	if err != nil {
		return Inspection{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var f Finding
		if err := rows.Scan(&f.ID, &f.InspectionID, &f.Severity, &f.Description, &f.RaisedBy, &f.RaisedAt, &f.ResolvedBy, &f.ResolvedAt, &f.Resolution); err != nil {
			return Inspection{}, err
		}
		in.Findings = append(in.Findings, f)
	}
	return in, rows.Err()
}

// ListExpirablePermits returns live permits whose window ended before now.
func (r *Repository) ListExpirablePermits(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM work_permits WHERE status = ANY($1) AND valid_to <= $2 ORDER BY valid_to LIMIT $3`,
		[]string{string(PermitApproved), string(PermitActive), string(PermitSuspended)}, now, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (tx *txRepo) CreatePermit(ctx context.Context, p WorkPermit) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO work_permits (number, permit_type, location, description, status, valid_from, valid_to, requested_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		p.Number, string(p.Type), p.Location, p.Description, string(p.Status), p.ValidFrom, p.ValidTo, p.RequestedBy).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return 0, fmt.Errorf("%w: number %s already used", ErrValidation, p.Number)
		}
		return 0, err
	}
	return id, nil
}

func (tx *txRepo) LockPermit(ctx context.Context, id int64) (PermitStatus, error) {
	var status PermitStatus
	err := tx.tx.QueryRow(ctx, `SELECT status FROM work_permits WHERE id=$1 FOR UPDATE`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrPermitNotFound
	}
	return status, err
}

func (tx *txRepo) UpdatePermitStatus(ctx context.Context, id int64, from, to PermitStatus) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE work_permits SET status=$3, updated_at=NOW() WHERE id=$1 AND status=$2`, id, string(from), string(to))
	if err != nil {
		return err
	}
	return db.Affected(tag, workflow.ErrStaleState)
}

func (tx *txRepo) InsertGasTest(ctx context.Context, g GasTest) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO permit_gas_tests (permit_id, oxygen_pct, lel_pct, h2s_ppm, co_ppm, passed, tested_by, tested_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		g.PermitID, g.OxygenPct, g.LELPct, g.H2SPPM, g.COPPM, g.Passed, g.TestedBy, g.TestedAt).Scan(&id)
	return id, err
}

func (tx *txRepo) CreateInspection(ctx context.Context, in Inspection) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO inspections (number, site, inspector_id, status, scheduled_for) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		in.Number, in.Site, in.InspectorID, string(in.Status), in.ScheduledFor).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return 0, fmt.Errorf("%w: number %s already used", ErrValidation, in.Number)
		}
		return 0, err
	}
	return id, nil
}

func (tx *txRepo) LockInspection(ctx context.Context, id int64) (InspectionStatus, error) {
	var status InspectionStatus
	err := tx.tx.QueryRow(ctx, `SELECT status FROM inspections WHERE id=$1 FOR UPDATE`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrInspectionNotFound
	}
	return status, err
}

func (tx *txRepo) UpdateInspectionStatus(ctx context.Context, id int64, from, to InspectionStatus) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE inspections SET status=$3, updated_at=NOW() WHERE id=$1 AND status=$2`, id, string(from), string(to))
	if err != nil {
		return err
	}
	return db.Affected(tag, workflow.ErrStaleState)
}

func (tx *txRepo) InsertFinding(ctx context.Context, f Finding) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO inspection_findings (inspection_id, severity, description, raised_by, raised_at) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		f.InspectionID, string(f.Severity), f.Description, f.RaisedBy, f.RaisedAt).Scan(&id)
	return id, err
}

func (tx *txRepo) ResolveFinding(ctx context.Context, inspectionID, findingID, by int64, at time.Time, resolution string) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE inspection_findings SET resolved_by=$3, resolved_at=$4, resolution=$5 WHERE id=$2 AND inspection_id=$1 AND resolved_at IS NULL`,
		inspectionID, findingID, by, at, resolution)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := tx.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM inspection_findings WHERE id=$2 AND inspection_id=$1)`, inspectionID, findingID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrFindingNotFound
	}
	return ErrAlreadyResolved
}

func (tx *txRepo) CountOpenFindings(ctx context.Context, inspectionID int64) (int, error) {
	var n int
	err := tx.tx.QueryRow(ctx, `SELECT COUNT(*) FROM inspection_findings WHERE inspection_id=$1 AND resolved_at IS NULL`, inspectionID).Scan(&n)
	return n, err
}

func (tx *txRepo) InsertTransition(ctx context.Context, step workflow.Step) error {
	return audit.InsertTransition(ctx, tx.tx, step)
}

func (tx *txRepo) RecordAudit(ctx context.Context, log audit.Log) error {
	return audit.WriteLog(ctx, tx.tx, log)
}
