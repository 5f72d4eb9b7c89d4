package inventory

import (
	"context"
	"maps"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/wellhead-erp/wellhead/internal/audit"
	"github.com/wellhead-erp/wellhead/internal/audit/audittest"
	"github.com/wellhead-erp/wellhead/internal/ledger"
	"github.com/wellhead-erp/wellhead/internal/workflow"
)

type cardRow struct {
	key   ledger.StockKey
	entry StockCardEntry
}

type memoryState struct {
	movements map[int64]Movement
	balances  map[ledger.StockKey]Balance
	cards     []cardRow
	nextID    int64
}

type memoryRepo struct {
	state memoryState
	trail *audittest.Trail
}

type memoryTx struct {
	state *memoryState
	trail *audittest.Trail
}

func newMemoryRepo(trail *audittest.Trail) *memoryRepo {
	return &memoryRepo{state: memoryState{movements: map[int64]Movement{}, balances: map[ledger.StockKey]Balance{}}, trail: trail}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	work := memoryState{
		movements: maps.Clone(r.state.movements),
		balances:  maps.Clone(r.state.balances),
		cards:     append([]cardRow(nil), r.state.cards...),
		nextID:    r.state.nextID,
	}
	if err := fn(ctx, &memoryTx{state: &work, trail: r.trail}); err != nil {
		return err
	}
	r.state = work
	return nil
}

func (r *memoryRepo) GetMovement(ctx context.Context, id int64) (Movement, error) {
	m, ok := r.state.movements[id]
	if !ok {
		return Movement{}, ErrNotFound
	}
	return m, nil
}

func (r *memoryRepo) GetStockCard(ctx context.Context, filter StockCardFilter) ([]StockCardEntry, error) {
	var out []StockCardEntry
	for _, row := range r.state.cards {
		if row.key.WarehouseID == filter.WarehouseID && row.key.ProductID == filter.ProductID {
			out = append(out, row.entry)
		}
	}
	return out, nil
}

func (r *memoryRepo) balance(warehouseID, productID int64) Balance {
	return r.state.balances[ledger.StockKey{WarehouseID: warehouseID, ProductID: productID}]
}

func (tx *memoryTx) id() int64 {
	tx.state.nextID++
	return tx.state.nextID
}

func (tx *memoryTx) CreateMovement(ctx context.Context, m Movement) (int64, error) {
	m.ID = tx.id()
	tx.state.movements[m.ID] = m
	return m.ID, nil
}

func (tx *memoryTx) InsertLine(ctx context.Context, line MovementLine) (int64, error) {
	line.ID = tx.id()
	m := tx.state.movements[line.MovementID]
	m.Lines = append(append([]MovementLine(nil), m.Lines...), line)
	tx.state.movements[line.MovementID] = m
	return line.ID, nil
}

func (tx *memoryTx) UpdateStatus(ctx context.Context, id int64, from, to MovementStatus) error {
	m, ok := tx.state.movements[id]
	if !ok || m.Status != from {
		return workflow.ErrStaleState
	}
	m.Status = to
	tx.state.movements[id] = m
	return nil
}

func (tx *memoryTx) SetPosted(ctx context.Context, id int64, at time.Time) error {
	m := tx.state.movements[id]
	m.PostedAt = &at
	tx.state.movements[id] = m
	return nil
}

func (tx *memoryTx) SetLineCost(ctx context.Context, lineID int64, cost decimal.Decimal) error {
	for id, m := range tx.state.movements {
		lines := append([]MovementLine(nil), m.Lines...)
		for i := range lines {
			if lines[i].ID == lineID {
				lines[i].UnitCost = cost
				m.Lines = lines
				tx.state.movements[id] = m
				return nil
			}
		}
	}
	return ErrNotFound
}

func (tx *memoryTx) LockBalances(ctx context.Context, keys []ledger.StockKey) (map[ledger.StockKey]ledger.StockPosition, error) {
	out := make(map[ledger.StockKey]ledger.StockPosition)
	for _, k := range keys {
		if b, ok := tx.state.balances[k]; ok {
			out[k] = ledger.StockPosition{Qty: b.Qty, AvgCost: b.AvgCost}
		}
	}
	return out, nil
}

func (tx *memoryTx) UpsertBalance(ctx context.Context, balance Balance) error {
	tx.state.balances[ledger.StockKey{WarehouseID: balance.WarehouseID, ProductID: balance.ProductID}] = balance
	return nil
}

func (tx *memoryTx) InsertCardEntry(ctx context.Context, card StockCardEntry, warehouseID, productID int64) error {
	tx.state.cards = append(tx.state.cards, cardRow{key: ledger.StockKey{WarehouseID: warehouseID, ProductID: productID}, entry: card})
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
	storekeeper = workflow.Actor{ID: 81}
	controller  = workflow.Actor{ID: 82, Roles: workflow.Roles(RoleController)}
)

func newTestService(t *testing.T) (*Service, *memoryRepo) {
	t.Helper()
	trail := audittest.New()
	registry := workflow.NewRegistry()
	require.NoError(t, registry.Register(Definition()))
	history := audit.NewTrail(trail)
	engine := workflow.NewEngine(registry, workflow.Options{History: history})
	repo := newMemoryRepo(trail)
	return NewService(repo, engine, history, ServiceConfig{}), repo
}

func post(t *testing.T, svc *Service, input CreateMovementInput) (Movement, error) {
	t.Helper()
	ctx := context.Background()
	m, err := svc.CreateDraft(ctx, storekeeper, input)
	require.NoError(t, err)
	return svc.Transition(ctx, m.ID, storekeeper, workflow.ActionPost, "")
}

func inbound(warehouseID, productID int64, qty, cost string) CreateMovementInput {
	return CreateMovementInput{Type: MovementTypeIn, WarehouseID: warehouseID, Note: "GRN", Lines: []LineInput{{ProductID: productID, Qty: d(qty), UnitCost: d(cost)}}}
}

func TestAverageMovingCost(t *testing.T) {
	svc, repo := newTestService(t)

	m, err := post(t, svc, inbound(1, 1, "10", "100000"))
	require.NoError(t, err)
	require.Equal(t, MovementPosted, m.Status)
	require.NotNil(t, m.PostedAt)
	_, err = post(t, svc, inbound(1, 1, "5", "120000"))
	require.NoError(t, err)
	bal := repo.balance(1, 1)
	require.True(t, bal.Qty.Equal(d("15")))
	require.True(t, bal.AvgCost.Equal(d("106666.666667")))

	adj, err := post(t, svc, CreateMovementInput{Type: MovementTypeAdjust, WarehouseID: 1, Note: "Issue", Lines: []LineInput{{ProductID: 1, Qty: d("-8")}}})
	require.NoError(t, err)
	require.True(t, adj.Lines[0].UnitCost.Equal(d("106666.666667")))
	bal = repo.balance(1, 1)
	require.True(t, bal.Qty.Equal(d("7")))
	require.True(t, bal.AvgCost.Equal(d("106666.666667")))

	card, err := svc.GetStockCard(context.Background(), StockCardFilter{WarehouseID: 1, ProductID: 1})
	require.NoError(t, err)
	require.Len(t, card, 3)
	require.True(t, card[2].QtyOut.Equal(d("8")))
	require.True(t, card[2].BalanceQty.Equal(d("7")))
}

func TestTransfer(t *testing.T) {
	svc, repo := newTestService(t)

	_, err := post(t, svc, inbound(1, 1, "20", "50000"))
	require.NoError(t, err)

	_, err = post(t, svc, CreateMovementInput{Type: MovementTypeTransfer, WarehouseID: 1, DstWarehouseID: 2, Note: "Move", Lines: []LineInput{{ProductID: 1, Qty: d("5")}}})
	require.NoError(t, err)
	require.True(t, repo.balance(1, 1).Qty.Equal(d("15")))
	require.True(t, repo.balance(2, 1).Qty.Equal(d("5")))
	require.True(t, repo.balance(2, 1).AvgCost.Equal(d("50000")))

	tooMuch, err := svc.CreateDraft(context.Background(), storekeeper, CreateMovementInput{Type: MovementTypeTransfer, WarehouseID: 1, DstWarehouseID: 2, Lines: []LineInput{{ProductID: 1, Qty: d("50")}}})
	require.NoError(t, err)
	_, err = svc.Transition(context.Background(), tooMuch.ID, storekeeper, workflow.ActionPost, "")
	require.ErrorIs(t, err, ledger.ErrNegativeStock)
	require.True(t, repo.balance(1, 1).Qty.Equal(d("15")))
	require.Equal(t, MovementDraft, repo.state.movements[tooMuch.ID].Status)

	_, err = svc.CreateDraft(context.Background(), storekeeper, CreateMovementInput{Type: MovementTypeTransfer, WarehouseID: 1, DstWarehouseID: 1, Lines: []LineInput{{ProductID: 1, Qty: d("1")}}})
	require.ErrorIs(t, err, ledger.ErrSameWarehouse)
}

func TestNegativeStockGuard(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := post(t, svc, CreateMovementInput{Type: MovementTypeAdjust, WarehouseID: 1, Note: "negative", Lines: []LineInput{{ProductID: 1, Qty: d("-1")}}})
	require.ErrorIs(t, err, ledger.ErrNegativeStock)

	_, err = svc.CreateDraft(context.Background(), storekeeper, CreateMovementInput{Type: MovementTypeOut, WarehouseID: 1, Lines: []LineInput{{ProductID: 1, Qty: d("-1")}}})
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestQuantityValidatedAfterRounding(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateDraft(ctx, storekeeper, inbound(1, 1, "0.00001", "10"))
	require.ErrorIs(t, err, ErrInvalidQuantity)

	m, err := svc.CreateDraft(ctx, storekeeper, inbound(1, 1, "2.00004", "10"))
	require.NoError(t, err)
	require.True(t, m.Lines[0].Qty.Equal(d("2")))
}

func TestMultiLinePostIsAtomic(t *testing.T) {
	svc, repo := newTestService(t)
	_, err := post(t, svc, inbound(1, 1, "10", "10"))
	require.NoError(t, err)

	_, err = post(t, svc, CreateMovementInput{Type: MovementTypeOut, WarehouseID: 1, Lines: []LineInput{
		{ProductID: 1, Qty: d("4")},
		{ProductID: 2, Qty: d("1")},
	}})
	require.ErrorIs(t, err, ledger.ErrNegativeStock)
	require.True(t, repo.balance(1, 1).Qty.Equal(d("10")))
}

func TestReverseRestoresBalances(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	_, err := post(t, svc, inbound(1, 1, "10", "30"))
	require.NoError(t, err)
	out, err := post(t, svc, CreateMovementInput{Type: MovementTypeOut, WarehouseID: 1, Lines: []LineInput{{ProductID: 1, Qty: d("4")}}})
	require.NoError(t, err)
	require.True(t, out.Lines[0].UnitCost.Equal(d("30")))

	_, err = svc.Transition(ctx, out.ID, storekeeper, workflow.ActionReverse, "wrong rig")
	require.ErrorIs(t, err, workflow.ErrForbidden)
	_, err = svc.Transition(ctx, out.ID, controller, workflow.ActionReverse, "")
	require.ErrorIs(t, err, workflow.ErrReasonRequired)
	out, err = svc.Transition(ctx, out.ID, controller, workflow.ActionReverse, "wrong rig")
	require.NoError(t, err)
	require.Equal(t, MovementReversed, out.Status)

	bal := repo.balance(1, 1)
	require.True(t, bal.Qty.Equal(d("10")))
	require.True(t, bal.AvgCost.Equal(d("30")))

	card, err := svc.GetStockCard(ctx, StockCardFilter{WarehouseID: 1, ProductID: 1})
	require.NoError(t, err)
	require.Len(t, card, 3)
	require.Equal(t, out.Code+"-REV", card[2].Code)
	require.True(t, card[2].QtyIn.Equal(d("4")))
}

func TestCancelDraftLeavesStock(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	m, err := svc.CreateDraft(ctx, storekeeper, inbound(3, 9, "1", "1"))
	require.NoError(t, err)
	_, err = svc.Transition(ctx, m.ID, storekeeper, workflow.ActionCancel, "entered twice")
	require.NoError(t, err)
	require.True(t, repo.balance(3, 9).Qty.IsZero())

	_, err = svc.GetStockCard(ctx, StockCardFilter{WarehouseID: 3})
	require.ErrorIs(t, err, ErrValidation)
}
