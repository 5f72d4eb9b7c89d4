package fleet

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
	CreateVehicle(ctx context.Context, v Vehicle) (int64, error)
	LockVehicle(ctx context.Context, id int64) (Vehicle, error)
	SetOdometer(ctx context.Context, id int64, km decimal.Decimal) error
	CreateFuelLog(ctx context.Context, log FuelLog) (int64, error)
	UpdateStatus(ctx context.Context, id int64, from, to FuelLogStatus) error
	SetApproval(ctx context.Context, id int64, approvedBy int64, at time.Time) error
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
	vehicleColumns = `id, plate, description, odometer_km`
	fuelLogColumns = `id, number, vehicle_id, driver_id, status, filled_at, station, litres, price_per_litre, cost, currency, odometer_km, COALESCE(approved_by, 0), approved_at`
)

func scanVehicle(row rowScanner) (Vehicle, error) {
	var v Vehicle
	err := row.Scan(&v.ID, &v.Plate, &v.Description, &v.OdometerKm)
	if errors.Is(err, pgx.ErrNoRows) {
		return Vehicle{}, ErrVehicleNotFound
	}
	return v, err
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// GetVehicle fetches a vehicle.
func (r *Repository) GetVehicle(ctx context.Context, id int64) (Vehicle, error) {
	return scanVehicle(r.pool.QueryRow(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE id=$1`, id))
}

// GetFuelLog fetches a fuel log.
func (r *Repository) GetFuelLog(ctx context.Context, id int64) (FuelLog, error) {
	var l FuelLog
	err := r.pool.QueryRow(ctx, `SELECT `+fuelLogColumns+` FROM fuel_logs WHERE id=$1`, id).
		Scan(&l.ID, &l.Number, &l.VehicleID, &l.DriverID, &l.Status, &l.FilledAt, &l.Station, &l.Litres, &l.PricePerLitre, &l.Cost, &l.Currency, &l.OdometerKm, &l.ApprovedBy, &l.ApprovedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return FuelLog{}, ErrNotFound
	}
	return l, err
}

func (tx *txRepo) CreateVehicle(ctx context.Context, v Vehicle) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO vehicles (plate, description, odometer_km) VALUES ($1, $2, $3) RETURNING id`, v.Plate, v.Description, v.OdometerKm).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return 0, fmt.Errorf("%w: plate %s already registered", ErrValidation, v.Plate)
		}
		return 0, err
	}
	return id, nil
}

func (tx *txRepo) LockVehicle(ctx context.Context, id int64) (Vehicle, error) {
	return scanVehicle(tx.tx.QueryRow(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE id=$1 FOR UPDATE`, id))
}

func (tx *txRepo) SetOdometer(ctx context.Context, id int64, km decimal.Decimal) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE vehicles SET odometer_km=$2, updated_at=NOW() WHERE id=$1 AND odometer_km < $2`, id, km)
	if err != nil {
		return err
	}
	return db.Affected(tag, ErrOdometerRegression)
}

func (tx *txRepo) CreateFuelLog(ctx context.Context, l FuelLog) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO fuel_logs (number, vehicle_id, driver_id, status, filled_at, station, litres, price_per_litre, cost, currency, odometer_km)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING id`,
		l.Number, l.VehicleID, l.DriverID, string(l.Status), l.FilledAt, l.Station, l.Litres, l.PricePerLitre, l.Cost, l.Currency, l.OdometerKm).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return 0, fmt.Errorf("%w: number %s already used", ErrValidation, l.Number)
		}
		return 0, err
	}
	return id, nil
}

func (tx *txRepo) UpdateStatus(ctx context.Context, id int64, from, to FuelLogStatus) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE fuel_logs SET status=$3, updated_at=NOW() WHERE id=$1 AND status=$2`, id, string(from), string(to))
	if err != nil {
		return err
	}
	return db.Affected(tag, workflow.ErrStaleState)
}

func (tx *txRepo) SetApproval(ctx context.Context, id int64, approvedBy int64, at time.Time) error {
	_, err := tx.tx.Exec(ctx, `UPDATE fuel_logs SET approved_by=$2, approved_at=$3 WHERE id=$1`, id, approvedBy, at)
	return err
}

func (tx *txRepo) InsertTransition(ctx context.Context, step workflow.Step) error {
	return audit.InsertTransition(ctx, tx.tx, step)
}

func (tx *txRepo) RecordAudit(ctx context.Context, log audit.Log) error {
	return audit.WriteLog(ctx, tx.tx, log)
}
