package hse

import (
	"context"
	"maps"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/wellhead-erp/wellhead/internal/audit"
	"github.com/wellhead-erp/wellhead/internal/audit/audittest"
	"github.com/wellhead-erp/wellhead/internal/workflow"
)

type memoryState struct {
	permits     map[int64]WorkPermit
	inspections map[int64]Inspection
	nextID      int64
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
	work := memoryState{permits: maps.Clone(r.state.permits), inspections: maps.Clone(r.state.inspections), nextID: r.state.nextID}
	if err := fn(ctx, &memoryTx{state: &work, trail: r.trail}); err != nil {
		return err
	}
	r.state = work
	return nil
}

func (r *memoryRepo) GetPermit(ctx context.Context, id int64) (WorkPermit, error) {
	p, ok := r.state.permits[id]
	if !ok {
		return WorkPermit{}, ErrPermitNotFound
	}
	return p, nil
}

func (r *memoryRepo) GetInspection(ctx context.Context, id int64) (Inspection, error) {
	in, ok := r.state.inspections[id]
	if !ok {
		return Inspection{}, ErrInspectionNotFound
	}
	return in, nil
}

func (r *memoryRepo) ListExpirablePermits(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	var ids []int64
	for id, p := range r.state.permits {
		switch p.Status {
		case PermitApproved, PermitActive, PermitSuspended:
			if !now.Before(p.ValidTo) {
				ids = append(ids, id)
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (tx *memoryTx) id() int64 {
	tx.state.nextID++
	return tx.state.nextID
}

func (tx *memoryTx) CreatePermit(ctx context.Context, p WorkPermit) (int64, error) {
	p.ID = tx.id()
	tx.state.permits[p.ID] = p
	return p.ID, nil
}

func (tx *memoryTx) LockPermit(ctx context.Context, id int64) (PermitStatus, error) {
	p, ok := tx.state.permits[id]
	if !ok {
		return "", ErrPermitNotFound
	}
	return p.Status, nil
}

func (tx *memoryTx) UpdatePermitStatus(ctx context.Context, id int64, from, to PermitStatus) error {
	p, ok := tx.state.permits[id]
	if !ok || p.Status != from {
		return workflow.ErrStaleState
	}
	p.Status = to
	tx.state.permits[id] = p
	return nil
}

func (tx *memoryTx) InsertGasTest(ctx context.Context, g GasTest) (int64, error) {
	g.ID = tx.id()
	p := tx.state.permits[g.PermitID]
	p.GasTests = append(append([]GasTest(nil), p.GasTests...), g)
	tx.state.permits[g.PermitID] = p
	return g.ID, nil
}

func (tx *memoryTx) CreateInspection(ctx context.Context, in Inspection) (int64, error) {
	in.ID = tx.id()
	tx.state.inspections[in.ID] = in
	return in.ID, nil
}

func (tx *memoryTx) LockInspection(ctx context.Context, id int64) (InspectionStatus, error) {
	in, ok := tx.state.inspections[id]
	if !ok {
		return "", ErrInspectionNotFound
	}
	return in.Status, nil
}

func (tx *memoryTx) UpdateInspectionStatus(ctx context.Context, id int64, from, to InspectionStatus) error {
	in, ok := tx.state.inspections[id]
	if !ok || in.Status != from {
		return workflow.ErrStaleState
	}
	in.Status = to
	tx.state.inspections[id] = in
	return nil
}

func (tx *memoryTx) InsertFinding(ctx context.Context, f Finding) (int64, error) {
	f.ID = tx.id()
	in := tx.state.inspections[f.InspectionID]
	in.Findings = append(append([]Finding(nil), in.Findings...), f)
	tx.state.inspections[f.InspectionID] = in
	return f.ID, nil
}

func (tx *memoryTx) ResolveFinding(ctx context.Context, inspectionID, findingID, by int64, at time.Time, resolution string) error {
	in := tx.state.inspections[inspectionID]
	findings := append([]Finding(nil), in.Findings...)
	for i, f := range findings {
		if f.ID != findingID {
			continue
		}
		if f.Resolved() {
			return ErrAlreadyResolved
		}
		findings[i].ResolvedBy, findings[i].ResolvedAt, findings[i].Resolution = &by, &at, resolution
		in.Findings = findings
		tx.state.inspections[inspectionID] = in
		return nil
	}
	return ErrFindingNotFound
}

func (tx *memoryTx) CountOpenFindings(ctx context.Context, inspectionID int64) (int, error) {
	return tx.state.inspections[inspectionID].OpenFindings(), nil
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
	supervisor = workflow.Actor{ID: 61}
	officer    = workflow.Actor{ID: 62, Roles: workflow.Roles(RoleOfficer)}
	area       = workflow.Actor{ID: 63, Roles: workflow.Roles(RoleAreaAuthority)}
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

type fixture struct {
	permits     *PermitService
	inspections *InspectionService
	repo        *memoryRepo
	clock       *clock
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	trail := audittest.New()
	registry := workflow.NewRegistry()
	require.NoError(t, registry.Register(PermitDefinition()))
	require.NoError(t, registry.Register(InspectionDefinition()))
	history := audit.NewTrail(trail)
	c := &clock{now: time.Date(2026, 5, 4, 6, 0, 0, 0, time.UTC)}
	engine := workflow.NewEngine(registry, workflow.Options{History: history, Now: c.Now})
	repo := &memoryRepo{state: memoryState{permits: map[int64]WorkPermit{}, inspections: map[int64]Inspection{}}, trail: trail}
	opts := Options{Now: c.Now}
	return fixture{
		permits:     NewPermitService(repo, engine, history, opts),
		inspections: NewInspectionService(repo, engine, history, opts),
		repo:        repo,
		clock:       c,
	}
}

func (f fixture) approvedPermit(t *testing.T, typ PermitType, from, to time.Time) WorkPermit {
	t.Helper()
	ctx := context.Background()
	p, err := f.permits.CreateDraft(ctx, supervisor, CreatePermitInput{Type: typ, Location: "Pad 4 separator", ValidFrom: from, ValidTo: to})
	require.NoError(t, err)
	_, err = f.permits.Transition(ctx, p.ID, supervisor, workflow.ActionSubmit, "")
	require.NoError(t, err)
	p, err = f.permits.Transition(ctx, p.ID, officer, workflow.ActionApprove, "")
	require.NoError(t, err)
	require.Equal(t, PermitApproved, p.Status)
	return p
}

var (
	passing = GasTestInput{OxygenPct: d("20.9"), LELPct: d("0"), H2SPPM: d("0"), COPPM: d("2")}
	failing = GasTestInput{OxygenPct: d("20.9"), LELPct: d("15"), H2SPPM: d("0"), COPPM: d("2")}
)

func TestHotWorkPermitLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := f.clock.now

	p, err := f.permits.CreateDraft(ctx, supervisor, CreatePermitInput{Type: PermitHotWork, Location: "Pad 4", ValidFrom: now.Add(-time.Hour), ValidTo: now.Add(8 * time.Hour)})
	require.NoError(t, err)
	_, err = f.permits.Transition(ctx, p.ID, supervisor, workflow.ActionSubmit, "")
	require.NoError(t, err)
	_, err = f.permits.Transition(ctx, p.ID, workflow.Actor{ID: supervisor.ID, Roles: workflow.Roles(RoleOfficer)}, workflow.ActionApprove, "")
	require.ErrorIs(t, err, workflow.ErrSegregationOfDuties)
	_, err = f.permits.Transition(ctx, p.ID, officer, workflow.ActionApprove, "")
	require.NoError(t, err)

	_, err = f.permits.Transition(ctx, p.ID, officer, workflow.ActionActivate, "")
	require.ErrorIs(t, err, workflow.ErrForbidden)
	_, err = f.permits.Transition(ctx, p.ID, area, workflow.ActionActivate, "")
	require.ErrorIs(t, err, ErrGasTestRequired)

	g, err := f.permits.RecordGasTest(ctx, officer, p.ID, failing)
	require.NoError(t, err)
	require.False(t, g.Passed)
	_, err = f.permits.Transition(ctx, p.ID, area, workflow.ActionActivate, "")
	require.ErrorIs(t, err, ErrGasTestRequired)

	f.clock.now = now.Add(time.Minute)
	g, err = f.permits.RecordGasTest(ctx, officer, p.ID, passing)
	require.NoError(t, err)
	require.True(t, g.Passed)
	p, err = f.permits.Transition(ctx, p.ID, area, workflow.ActionActivate, "")
	require.NoError(t, err)
	require.Equal(t, PermitActive, p.Status)

	_, err = f.permits.Transition(ctx, p.ID, area, workflow.ActionSuspend, "")
	require.ErrorIs(t, err, workflow.ErrReasonRequired)
	f.clock.now = now.Add(6 * time.Hour)
	_, err = f.permits.Transition(ctx, p.ID, officer, workflow.ActionSuspend, "gas alarm")
	require.NoError(t, err)

	f.clock.now = now.Add(7 * time.Hour)
	_, err = f.permits.Transition(ctx, p.ID, area, workflow.ActionResume, "")
	require.ErrorIs(t, err, ErrGasTestRequired)
	p, err = f.permits.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, PermitSuspended, p.Status)

	_, err = f.permits.RecordGasTest(ctx, officer, p.ID, passing)
	require.NoError(t, err)
	p, err = f.permits.Transition(ctx, p.ID, area, workflow.ActionResume, "")
	require.NoError(t, err)
	require.Equal(t, PermitActive, p.Status)
	p, err = f.permits.Transition(ctx, p.ID, area, workflow.ActionClose, "")
	require.NoError(t, err)
	require.Equal(t, PermitClosed, p.Status)

	_, err = f.permits.RecordGasTest(ctx, officer, p.ID, passing)
	require.ErrorIs(t, err, ErrPermitNotOpen)
	require.ErrorIs(t, err, workflow.ErrInvalidState)
}

func TestActivationWithinWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := f.clock.now
	p := f.approvedPermit(t, PermitGeneral, now.Add(time.Hour), now.Add(5*time.Hour))

	_, err := f.permits.Transition(ctx, p.ID, area, workflow.ActionActivate, "")
	require.ErrorIs(t, err, ErrOutsideWindow)

	f.clock.now = now.Add(2 * time.Hour)
	p, err = f.permits.Transition(ctx, p.ID, area, workflow.ActionActivate, "")
	require.NoError(t, err)
	require.Equal(t, PermitActive, p.Status)
}

func TestCreatePermitValidation(t *testing.T) {
	f := newFixture(t)
	now := f.clock.now
	_, err := f.permits.CreateDraft(context.Background(), supervisor, CreatePermitInput{Type: "BLASTING", Location: "x", ValidFrom: now, ValidTo: now.Add(time.Hour)})
	require.ErrorIs(t, err, ErrValidation)
	_, err = f.permits.CreateDraft(context.Background(), supervisor, CreatePermitInput{Type: PermitGeneral, Location: "x", ValidFrom: now, ValidTo: now})
	require.ErrorIs(t, err, ErrValidation)
}

func TestExpireDuePermits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := f.clock.now
	short := f.approvedPermit(t, PermitGeneral, now.Add(-time.Hour), now.Add(time.Hour))
	long := f.approvedPermit(t, PermitGeneral, now.Add(-time.Hour), now.Add(48*time.Hour))
	_, err := f.permits.Transition(ctx, short.ID, area, workflow.ActionActivate, "")
	require.NoError(t, err)

	_, err = f.permits.Transition(ctx, short.ID, workflow.SystemActor, workflow.ActionExpire, "")
	require.ErrorIs(t, err, ErrStillValid)

	f.clock.now = now.Add(2 * time.Hour)
	n, err := f.permits.ExpireDue(ctx, 50)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, PermitExpired, f.repo.state.permits[short.ID].Status)
	require.Equal(t, PermitApproved, f.repo.state.permits[long.ID].Status)
}

func TestInspectionFindingsBlockClose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in, err := f.inspections.Schedule(ctx, supervisor, ScheduleInput{Site: "Compressor station 2", InspectorID: officer.ID, ScheduledFor: f.clock.now.Add(24 * time.Hour)})
	require.NoError(t, err)

	_, err = f.inspections.AddFinding(ctx, officer, in.ID, FindingInput{Severity: SeverityHigh, Description: "missing guard"})
	require.ErrorIs(t, err, ErrInspectionNotActive)

	_, err = f.inspections.Transition(ctx, in.ID, officer, workflow.ActionStart, "")
	require.NoError(t, err)
	first, err := f.inspections.AddFinding(ctx, officer, in.ID, FindingInput{Severity: SeverityHigh, Description: "missing guard on coupling"})
	require.NoError(t, err)
	second, err := f.inspections.AddFinding(ctx, officer, in.ID, FindingInput{Severity: SeverityLow, Description: "faded signage"})
	require.NoError(t, err)
	_, err = f.inspections.AddFinding(ctx, officer, in.ID, FindingInput{Severity: "SEVERE", Description: "x"})
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.inspections.Transition(ctx, in.ID, officer, workflow.ActionComplete, "")
	require.NoError(t, err)
	_, err = f.inspections.AddFinding(ctx, officer, in.ID, FindingInput{Severity: SeverityLow, Description: "late"})
	require.ErrorIs(t, err, ErrInspectionNotActive)

	_, err = f.inspections.Transition(ctx, in.ID, officer, workflow.ActionClose, "")
	require.ErrorIs(t, err, ErrOpenFindings)

	_, err = f.inspections.ResolveFinding(ctx, supervisor, in.ID, first.ID, ResolveInput{Resolution: "guard refitted"})
	require.NoError(t, err)
	_, err = f.inspections.ResolveFinding(ctx, supervisor, in.ID, first.ID, ResolveInput{Resolution: "again"})
	require.ErrorIs(t, err, ErrAlreadyResolved)
	in, err = f.inspections.ResolveFinding(ctx, supervisor, in.ID, second.ID, ResolveInput{Resolution: "repainted"})
	require.NoError(t, err)
	require.Zero(t, in.OpenFindings())

	_, err = f.inspections.Transition(ctx, in.ID, supervisor, workflow.ActionClose, "")
	require.ErrorIs(t, err, workflow.ErrForbidden)
	in, err = f.inspections.Transition(ctx, in.ID, officer, workflow.ActionClose, "")
	require.NoError(t, err)
	require.Equal(t, InspectionClosed, in.Status)
}

func TestCancelScheduledInspection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in, err := f.inspections.Schedule(ctx, supervisor, ScheduleInput{Site: "Tank farm", InspectorID: officer.ID, ScheduledFor: f.clock.now})
	require.NoError(t, err)

	_, err = f.inspections.Transition(ctx, in.ID, supervisor, workflow.ActionCancel, "")
	require.ErrorIs(t, err, workflow.ErrReasonRequired)
	in, err = f.inspections.Transition(ctx, in.ID, supervisor, workflow.ActionCancel, "weather")
	require.NoError(t, err)
	require.Equal(t, InspectionCancelled, in.Status)

	_, err = f.inspections.Transition(ctx, in.ID, officer, workflow.ActionStart, "")
	require.ErrorIs(t, err, workflow.ErrInvalidTransition)
}

func TestGeneralPermitResumesWithoutGasTest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := f.clock.now
	p := f.approvedPermit(t, PermitGeneral, now.Add(-time.Hour), now.Add(4*time.Hour))

	_, err := f.permits.Transition(ctx, p.ID, area, workflow.ActionActivate, "")
	require.NoError(t, err)
	f.clock.now = now.Add(time.Hour)
	_, err = f.permits.Transition(ctx, p.ID, area, workflow.ActionSuspend, "crane inspection")
	require.NoError(t, err)
	f.clock.now = now.Add(2 * time.Hour)
	p, err = f.permits.Transition(ctx, p.ID, area, workflow.ActionResume, "")
	require.NoError(t, err)
	require.Equal(t, PermitActive, p.Status)
}
