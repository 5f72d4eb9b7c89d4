package inventory

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wellhead-erp/wellhead/internal/shared"
	"github.com/wellhead-erp/wellhead/internal/workflow"
)

// DocType identifies stock movement documents.
const DocType workflow.DocType = "STOCK_MOVEMENT"

// RoleController may reverse posted movements.
const RoleController workflow.Role = "INVENTORY_CONTROLLER"

// MovementType enumerates supported inventory movements.
type MovementType string

const (
	// MovementTypeIn represents an inbound movement.
	MovementTypeIn MovementType = "IN"
	// MovementTypeOut represents an outbound movement.
	MovementTypeOut MovementType = "OUT"
	// MovementTypeTransfer moves stock between warehouses.
	MovementTypeTransfer MovementType = "TRANSFER"
	// MovementTypeAdjust indicates manual adjustments, positive or negative.
	MovementTypeAdjust MovementType = "ADJUST"
)

// MovementStatus is the lifecycle status of a movement.
type MovementStatus string

const (
	MovementDraft     MovementStatus = "DRAFT"
	MovementPosted    MovementStatus = "POSTED"
	MovementReversed  MovementStatus = "REVERSED"
	MovementCancelled MovementStatus = "CANCELLED"
)

// Movement models the header of an inventory movement. WarehouseID is the
// source for OUT and TRANSFER and the target for IN and ADJUST.
type Movement struct {
	ID             int64          `json:"id"`
	Code           string         `json:"code"`
	Type           MovementType   `json:"type"`
	Status         MovementStatus `json:"status"`
	WarehouseID    int64          `json:"warehouse_id"`
	DstWarehouseID int64          `json:"dst_warehouse_id,omitempty"`
	RefModule      string         `json:"ref_module,omitempty"`
	RefID          string         `json:"ref_id,omitempty"`
	Note           string         `json:"note,omitempty"`
	CreatedBy      int64          `json:"created_by"`
	PostedAt       *time.Time     `json:"posted_at,omitempty"`
	Lines          []MovementLine `json:"lines"`
}

// MovementLine models each product line. Qty is signed only for ADJUST.
// UnitCost is the inbound cost, or the issue cost once an outbound line posts.
type MovementLine struct {
	ID         int64           `json:"id"`
	MovementID int64           `json:"movement_id"`
	ProductID  int64           `json:"product_id"`
	Qty        decimal.Decimal `json:"qty"`
	UnitCost   decimal.Decimal `json:"unit_cost"`
}

// Balance summarises stock in warehouse per product.
type Balance struct {
	WarehouseID int64           `json:"warehouse_id"`
	ProductID   int64           `json:"product_id"`
	Qty         decimal.Decimal `json:"qty"`
	AvgCost     decimal.Decimal `json:"avg_cost"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// StockCardEntry describes an inventory card entry.
type StockCardEntry struct {
	MovementID  int64           `json:"movement_id"`
	Code        string          `json:"code"`
	Type        MovementType    `json:"type"`
	PostedAt    time.Time       `json:"posted_at"`
	QtyIn       decimal.Decimal `json:"qty_in"`
	QtyOut      decimal.Decimal `json:"qty_out"`
	BalanceQty  decimal.Decimal `json:"balance_qty"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	BalanceCost decimal.Decimal `json:"balance_cost"`
	Note        string          `json:"note,omitempty"`
}

// StockCardFilter filters card entries.
type StockCardFilter struct {
	WarehouseID int64
	ProductID   int64
	From        time.Time
	To          time.Time
	Limit       int
}

var (
	// ErrNotFound indicates a missing movement.
	ErrNotFound = fmt.Errorf("stock movement %w", shared.ErrNotFound)
	// ErrValidation indicates invalid payload.
	ErrValidation = fmt.Errorf("inventory: %w", shared.ErrValidation)
	// ErrInvalidQuantity indicates invalid qty.
	ErrInvalidQuantity = fmt.Errorf("%w: quantity must be non zero", ErrValidation)
	// ErrInvalidUnitCost indicates invalid cost value.
	ErrInvalidUnitCost = fmt.Errorf("%w: unit cost must be >= 0", ErrValidation)
	// ErrEmptyMovement blocks posting a movement without lines.
	ErrEmptyMovement = fmt.Errorf("movement has no lines: %w", shared.ErrRuleViolation)
)
