package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrNegativeStock is returned when a warehouse balance would go below zero.
	ErrNegativeStock = errors.New("ledger: negative stock not allowed")
	// ErrSameWarehouse rejects transfers into the source warehouse.
	ErrSameWarehouse = errors.New("ledger: source and destination warehouse must differ")
)

// StockKey identifies a warehouse/product balance.
type StockKey struct {
	WarehouseID int64
	ProductID   int64
}

// StockPosition is the on-hand quantity and moving-average cost.
type StockPosition struct {
	Qty     decimal.Decimal
	AvgCost decimal.Decimal
}

// StockEffect reports one applied change.
type StockEffect struct {
	Key      StockKey
	QtyDelta decimal.Decimal
	UnitCost decimal.Decimal
	After    StockPosition
}

// Stock applies movements to a set of balances held in memory, typically
// loaded FOR UPDATE inside a transaction.
type Stock struct {
	positions map[StockKey]StockPosition
}

// NewStock wraps positions. The map is copied. Balances never go negative.
func NewStock(positions map[StockKey]StockPosition) *Stock {
	copied := make(map[StockKey]StockPosition, len(positions))
	for k, v := range positions {
		copied[k] = v
	}
	return &Stock{positions: copied}
}

// Position returns the current balance of key.
func (s *Stock) Position(key StockKey) StockPosition { return s.positions[key] }

// Receive adds qty at unitCost and recomputes the moving average.
func (s *Stock) Receive(key StockKey, qty, unitCost decimal.Decimal) (StockEffect, error) {
	if !qty.IsPositive() {
		return StockEffect{}, ErrNegativeAmount
	}
	if unitCost.IsNegative() {
		return StockEffect{}, ErrNegativeAmount
	}
	pos := s.positions[key]
	newQty := pos.Qty.Add(qty)
	if newQty.IsPositive() {
		value := pos.Qty.Mul(pos.AvgCost).Add(qty.Mul(unitCost))
		pos.AvgCost = value.DivRound(newQty, 6)
	} else {
		pos.AvgCost = decimal.Zero
	}
	pos.Qty = Quantity(newQty)
	s.positions[key] = pos
	return StockEffect{Key: key, QtyDelta: qty, UnitCost: unitCost, After: pos}, nil
}

// Issue removes qty at the current average cost.
func (s *Stock) Issue(key StockKey, qty decimal.Decimal) (StockEffect, error) {
	if !qty.IsPositive() {
		return StockEffect{}, ErrNegativeAmount
	}
	pos := s.positions[key]
	newQty := Quantity(pos.Qty.Sub(qty))
	if newQty.IsNegative() {
		return StockEffect{}, fmt.Errorf("%w: warehouse %d product %d has %s, needs %s", ErrNegativeStock, key.WarehouseID, key.ProductID, pos.Qty.String(), qty.String())
	}
	cost := pos.AvgCost
	pos.Qty = newQty
	if !newQty.IsPositive() {
		pos.AvgCost = decimal.Zero
	}
	s.positions[key] = pos
	return StockEffect{Key: key, QtyDelta: qty.Neg(), UnitCost: cost, After: pos}, nil
}

// Move transfers qty of product between warehouses at the source average cost.
// The product's total quantity is unchanged.
func (s *Stock) Move(productID, srcWarehouse, dstWarehouse int64, qty decimal.Decimal) (StockEffect, StockEffect, error) {
	if srcWarehouse == dstWarehouse {
		return StockEffect{}, StockEffect{}, ErrSameWarehouse
	}
	out, err := s.Issue(StockKey{WarehouseID: srcWarehouse, ProductID: productID}, qty)
	if err != nil {
		return StockEffect{}, StockEffect{}, err
	}
	in, err := s.Receive(StockKey{WarehouseID: dstWarehouse, ProductID: productID}, qty, out.UnitCost)
	if err != nil {
		return StockEffect{}, StockEffect{}, err
	}
	return out, in, nil
}

// TotalQty sums a product across warehouses.
func (s *Stock) TotalQty(productID int64) decimal.Decimal {
	total := decimal.Zero
	for k, v := range s.positions {
		if k.ProductID == productID {
			total = total.Add(v.Qty)
		}
	}
	return total
}
