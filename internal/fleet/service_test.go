package fleet

import (
	"context"
	"maps"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/wellhead-erp/wellhead/internal/audit"
	"github.com/wellhead-erp/wellhead/internal/audit/audittest"
	"github.com/wellhead-erp/wellhead/internal/workflow"
)

type memoryState struct {
	vehicles map[int64]Vehicle
	logs     map[int64]FuelLog
	nextID   int64
}

type memoryRepo struct {
	state memoryState
	trail *audittest.Trail
}

type memoryTx struct {
	state *memoryState
	trail *audittest.Trail
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	work := memoryState{vehicles: maps.Clone(r.state.vehicles), logs: maps.Clone(r.state.logs), nextID: r.state.nextID}
	if err := fn(ctx, &memoryTx{state: &work, trail: r.trail}); err != nil {
		return err
	}
	r.state = work
	return nil
}

func (r *memoryRepo) GetVehicle(ctx context.Context, id int64) (Vehicle, error) {
	v, ok := r.state.vehicles[id]
	if !ok {
		return Vehicle{}, ErrVehicleNotFound
	}
	return v, nil
}

func (r *memoryRepo) GetFuelLog(ctx context.Context, id int64) (FuelLog, error) {
	l, ok := r.state.logs[id]
	if !ok {
		return FuelLog{}, ErrNotFound
	}
	return l, nil
}

func (tx *memoryTx) id() int64 {
	tx.state.nextID++
	return tx.state.nextID
}

func (tx *memoryTx) CreateVehicle(ctx context.Context, v Vehicle) (int64, error) {
	v.ID = tx.id()
	tx.state.vehicles[v.ID] = v
	return v.ID, nil
}

func (tx *memoryTx) LockVehicle(ctx context.Context, id int64) (Vehicle, error) {
	v, ok := tx.state.vehicles[id]
	if !ok {
		return Vehicle{}, ErrVehicleNotFound
	}
	return v, nil
}

func (tx *memoryTx) SetOdometer(ctx context.Context, id int64, km decimal.Decimal) error {
	v := tx.state.vehicles[id]
	if !km.GreaterThan(v.OdometerKm) {
		return ErrOdometerRegression
	}
	v.OdometerKm = km
	tx.state.vehicles[id] = v
	return nil
}

func (tx *memoryTx) CreateFuelLog(ctx context.Context, l FuelLog) (int64, error) {
	l.ID = tx.id()
	tx.state.logs[l.ID] = l
	return l.ID, nil
}

func (tx *memoryTx) UpdateStatus(ctx context.Context, id int64, from, to FuelLogStatus) error {
	l, ok := tx.state.logs[id]
	if !ok || l.Status != from {
		return workflow.ErrStaleState
	}
	l.Status = to
	tx.state.logs[id] = l
	return nil
}

func (tx *memoryTx) SetApproval(ctx context.Context, id int64, approvedBy int64, at time.Time) error {
	l := tx.state.logs[id]
	l.ApprovedBy, l.ApprovedAt = approvedBy, &at
	tx.state.logs[id] = l
	return nil
}

func (tx *memoryTx) InsertTransition(ctx context.Context, step workflow.Step) error {
	tx.trail.Append(step)
	return nil
}

func (tx *memoryTx) RecordAudit(ctx context.Context, log audit.Log) error {
	return tx.trail.Record(ctx, log)
}

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

var (
	driver     = workflow.Actor{ID: 71}
	supervisor = workflow.Actor{ID: 72, Roles: workflow.Roles(RoleSupervisor)}
)

func newTestService(t *testing.T) (*Service, *memoryRepo) {
	t.Helper()
	trail := audittest.New()
	registry := workflow.NewRegistry()
	require.NoError(t, registry.Register(Definition()))
	history := audit.NewTrail(trail)
	engine := workflow.NewEngine(registry, workflow.Options{History: history})
	repo := &memoryRepo{state: memoryState{vehicles: map[int64]Vehicle{}, logs: map[int64]FuelLog{}}, trail: trail}
	return NewService(repo, engine, history, Options{}), repo
}

func TestFuelLogCostAndApproval(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	v, err := svc.CreateVehicle(ctx, supervisor, CreateVehicleInput{Plate: "kb 1234 xy", OdometerKm: d("10000")})
	require.NoError(t, err)
	require.Equal(t, "KB 1234 XY", v.Plate)

	l, err := svc.CreateDraft(ctx, driver, CreateFuelLogInput{VehicleID: v.ID, Litres: d("45.5"), PricePerLitre: d("1.379"), OdometerKm: d("10420")})
	require.NoError(t, err)
	require.True(t, l.Cost.Equal(d("62.74")))

	_, err = svc.Transition(ctx, l.ID, driver, workflow.ActionSubmit, "")
	require.NoError(t, err)
	_, err = svc.Transition(ctx, l.ID, workflow.Actor{ID: driver.ID, Roles: workflow.Roles(RoleSupervisor)}, workflow.ActionApprove, "")
	require.ErrorIs(t, err, workflow.ErrSegregationOfDuties)
	l, err = svc.Transition(ctx, l.ID, supervisor, workflow.ActionApprove, "")
	require.NoError(t, err)
	require.Equal(t, FuelLogApproved, l.Status)
	require.Equal(t, supervisor.ID, l.ApprovedBy)

	v, err = svc.GetVehicle(ctx, v.ID)
	require.NoError(t, err)
	require.True(t, v.OdometerKm.Equal(d("10420")))
}

func TestSubmitRequiresOdometerAdvance(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	v, err := svc.CreateVehicle(ctx, supervisor, CreateVehicleInput{Plate: "RIG-TRUCK-3", OdometerKm: d("5000")})
	require.NoError(t, err)

	l, err := svc.CreateDraft(ctx, driver, CreateFuelLogInput{VehicleID: v.ID, Litres: d("20"), PricePerLitre: d("1.5"), OdometerKm: d("5000")})
	require.NoError(t, err)
	_, err = svc.Transition(ctx, l.ID, driver, workflow.ActionSubmit, "")
	require.ErrorIs(t, err, workflow.ErrGuardFailed)
	require.ErrorIs(t, err, ErrOdometerRegression)
}

func TestApprovalRechecksOdometer(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	v, err := svc.CreateVehicle(ctx, supervisor, CreateVehicleInput{Plate: "WL-7", OdometerKm: d("100")})
	require.NoError(t, err)

	first, err := svc.CreateDraft(ctx, driver, CreateFuelLogInput{VehicleID: v.ID, Litres: d("30"), PricePerLitre: d("2"), OdometerKm: d("300")})
	require.NoError(t, err)
	second, err := svc.CreateDraft(ctx, driver, CreateFuelLogInput{VehicleID: v.ID, Litres: d("30"), PricePerLitre: d("2"), OdometerKm: d("250")})
	require.NoError(t, err)
	for _, id := range []int64{first.ID, second.ID} {
		_, err = svc.Transition(ctx, id, driver, workflow.ActionSubmit, "")
		require.NoError(t, err)
	}

	_, err = svc.Transition(ctx, first.ID, supervisor, workflow.ActionApprove, "")
	require.NoError(t, err)
	_, err = svc.Transition(ctx, second.ID, supervisor, workflow.ActionApprove, "")
	require.ErrorIs(t, err, ErrOdometerRegression)

	l, err := svc.Transition(ctx, second.ID, supervisor, workflow.ActionReject, "reading below last fill")
	require.NoError(t, err)
	require.Equal(t, FuelLogRejected, l.Status)
	l, err = svc.Transition(ctx, second.ID, driver, workflow.ActionRevise, "")
	require.NoError(t, err)
	require.Equal(t, FuelLogDraft, l.Status)
}

func TestCreateDraftValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.CreateDraft(ctx, driver, CreateFuelLogInput{VehicleID: 99, Litres: d("1"), PricePerLitre: d("1"), OdometerKm: d("1")})
	require.ErrorIs(t, err, ErrVehicleNotFound)
	_, err = svc.CreateDraft(ctx, driver, CreateFuelLogInput{VehicleID: 1, Litres: d("0"), PricePerLitre: d("1"), OdometerKm: d("1")})
	require.ErrorIs(t, err, ErrValidation)
}

func TestCostUsesStoredLitres(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	v, err := svc.CreateVehicle(ctx, supervisor, CreateVehicleInput{Plate: "GEN-2", OdometerKm: d("10")})
	require.NoError(t, err)

	l, err := svc.CreateDraft(ctx, driver, CreateFuelLogInput{VehicleID: v.ID, Litres: d("10.00004"), PricePerLitre: d("1000"), OdometerKm: d("20")})
	require.NoError(t, err)
	require.True(t, l.Litres.Equal(d("10")))
	require.True(t, l.Cost.Equal(l.Litres.Mul(l.PricePerLitre)))

	_, err = svc.CreateDraft(ctx, driver, CreateFuelLogInput{VehicleID: v.ID, Litres: d("0.00001"), PricePerLitre: d("1"), OdometerKm: d("30")})
	require.ErrorIs(t, err, ErrValidation)
}
