package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/wellhead-erp/wellhead/internal/audit"
	"github.com/wellhead-erp/wellhead/internal/ledger"
	"github.com/wellhead-erp/wellhead/internal/platform/db"
	"github.com/wellhead-erp/wellhead/internal/workflow"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	CreateMovement(ctx context.Context, m Movement) (int64, error)
	InsertLine(ctx context.Context, line MovementLine) (int64, error)
	UpdateStatus(ctx context.Context, id int64, from, to MovementStatus) error
	SetPosted(ctx context.Context, id int64, at time.Time) error
	SetLineCost(ctx context.Context, lineID int64, cost decimal.Decimal) error
	LockBalances(ctx context.Context, keys []ledger.StockKey) (map[ledger.StockKey]ledger.StockPosition, error)
	UpsertBalance(ctx context.Context, balance Balance) error
	InsertCardEntry(ctx context.Context, card StockCardEntry, warehouseID, productID int64) error
	InsertTransition(ctx context.Context, step workflow.Step) error
	RecordAudit(ctx context.Context, log audit.Log) error
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// GetMovement fetches a movement with its lines.
func (r *Repository) GetMovement(ctx context.Context, id int64) (Movement, error) {
	var m Movement
	err := r.pool.QueryRow(ctx, `SELECT id, code, movement_type, status, warehouse_id, COALESCE(dst_warehouse_id, 0), ref_module, COALESCE(ref_id::text, ''), note, created_by, posted_at
FROM stock_movements WHERE id=$1`, id).
		Scan(&m.ID, &m.Code, &m.Type, &m.Status, &m.WarehouseID, &m.DstWarehouseID, &m.RefModule, &m.RefID, &m.Note, &m.CreatedBy, &m.PostedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Movement{}, ErrNotFound
		}
		return Movement{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, movement_id, product_id, qty, unit_cost FROM stock_movement_lines WHERE movement_id=$1 ORDER BY id`, id)
	if err != nil {
		return Movement{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l MovementLine
		if err := rows.Scan(&l.ID, &l.MovementID, &l.ProductID, &l.Qty, &l.UnitCost); err != nil {
			return Movement{}, err
		}
		m.Lines = append(m.Lines, l)
	}
	return m, rows.Err()
}

// GetStockCard lists card entries oldest first.
func (r *Repository) GetStockCard(ctx context.Context, filter StockCardFilter) ([]StockCardEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	var from, to *time.Time
	if !filter.From.IsZero() {
		from = &filter.From
	}
	if !filter.To.IsZero() {
		to = &filter.To
	}
	rows, err := r.pool.Query(ctx, `SELECT movement_id, code, movement_type, posted_at, qty_in, qty_out, balance_qty, unit_cost, balance_cost, note
FROM stock_cards
WHERE warehouse_id=$1 AND product_id=$2
  AND ($3::timestamptz IS NULL OR posted_at >= $3)
  AND ($4::timestamptz IS NULL OR posted_at <= $4)
ORDER BY posted_at, id
LIMIT $5`, filter.WarehouseID, filter.ProductID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var cards []StockCardEntry
	for rows.Next() {
		var e StockCardEntry
		if err := rows.Scan(&e.MovementID, &e.Code, &e.Type, &e.PostedAt, &e.QtyIn, &e.QtyOut, &e.BalanceQty, &e.UnitCost, &e.BalanceCost, &e.Note); err != nil {
			return nil, err
		}
		cards = append(cards, e)
	}
	return cards, rows.Err()
}

func (r *txRepo) CreateMovement(ctx context.Context, m Movement) (int64, error) {
	var dst *int64
	if m.DstWarehouseID != 0 {
		dst = &m.DstWarehouseID
	}
	var ref *string
	if m.RefID != "" {
		ref = &m.RefID
	}
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_movements (code, movement_type, status, warehouse_id, dst_warehouse_id, ref_module, ref_id, note, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7::uuid, $8, $9) RETURNING id`,
		m.Code, string(m.Type), string(m.Status), m.WarehouseID, dst, m.RefModule, ref, m.Note, m.CreatedBy).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return 0, fmt.Errorf("%w: code %s already used", ErrValidation, m.Code)
		}
		return 0, err
	}
	return id, nil
}

func (r *txRepo) InsertLine(ctx context.Context, line MovementLine) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_movement_lines (movement_id, product_id, qty, unit_cost) VALUES ($1, $2, $3, $4) RETURNING id`,
		line.MovementID, line.ProductID, line.Qty, line.UnitCost).Scan(&id)
	return id, err
}

func (r *txRepo) UpdateStatus(ctx context.Context, id int64, from, to MovementStatus) error {
	tag, err := r.tx.Exec(ctx, `UPDATE stock_movements SET status=$3, updated_at=NOW() WHERE id=$1 AND status=$2`, id, string(from), string(to))
	if err != nil {
		return err
	}
	return db.Affected(tag, workflow.ErrStaleState)
}

func (r *txRepo) SetPosted(ctx context.Context, id int64, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE stock_movements SET posted_at=$2 WHERE id=$1`, id, at)
	return err
}

func (r *txRepo) SetLineCost(ctx context.Context, lineID int64, cost decimal.Decimal) error {
	_, err := r.tx.Exec(ctx, `UPDATE stock_movement_lines SET unit_cost=$2 WHERE id=$1`, lineID, cost)
	return err
}

// LockBalances reads the balances of keys FOR UPDATE in a stable order.
// Missing balances are absent from the result.
func (r *txRepo) LockBalances(ctx context.Context, keys []ledger.StockKey) (map[ledger.StockKey]ledger.StockPosition, error) {
	sorted := append([]ledger.StockKey(nil), keys...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].WarehouseID != sorted[j].WarehouseID {
			return sorted[i].WarehouseID < sorted[j].WarehouseID
		}
		return sorted[i].ProductID < sorted[j].ProductID
	})
	out := make(map[ledger.StockKey]ledger.StockPosition, len(sorted))
	for _, k := range sorted {
		var pos ledger.StockPosition
		err := r.tx.QueryRow(ctx, `SELECT qty, avg_cost FROM inventory_balances WHERE warehouse_id=$1 AND product_id=$2 FOR UPDATE`, k.WarehouseID, k.ProductID).
			Scan(&pos.Qty, &pos.AvgCost)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[k] = pos
	}
	return out, nil
}

func (r *txRepo) UpsertBalance(ctx context.Context, b Balance) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO inventory_balances (warehouse_id, product_id, qty, avg_cost, updated_at) VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (warehouse_id, product_id) DO UPDATE SET qty=EXCLUDED.qty, avg_cost=EXCLUDED.avg_cost, updated_at=EXCLUDED.updated_at`,
		b.WarehouseID, b.ProductID, b.Qty, b.AvgCost, b.UpdatedAt)
	return err
}

func (r *txRepo) InsertCardEntry(ctx context.Context, card StockCardEntry, warehouseID, productID int64) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_cards (warehouse_id, product_id, movement_id, code, movement_type, posted_at, qty_in, qty_out, balance_qty, unit_cost, balance_cost, note)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		warehouseID, productID, card.MovementID, card.Code, string(card.Type), card.PostedAt, card.QtyIn, card.QtyOut, card.BalanceQty, card.UnitCost, card.BalanceCost, card.Note)
	return err
}

func (r *txRepo) InsertTransition(ctx context.Context, step workflow.Step) error {
	return audit.InsertTransition(ctx, r.tx, step)
}

func (r *txRepo) RecordAudit(ctx context.Context, log audit.Log) error {
	return audit.WriteLog(ctx, r.tx, log)
}
