package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wellhead-erp/wellhead/internal/audit"
	"github.com/wellhead-erp/wellhead/internal/ledger"
	"github.com/wellhead-erp/wellhead/internal/workflow"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetMovement(ctx context.Context, id int64) (Movement, error)
	GetStockCard(ctx context.Context, filter StockCardFilter) ([]StockCardEntry, error)
}

// HistoryPort reads the transition trail.
type HistoryPort interface {
	History(ctx context.Context, docType workflow.DocType, docID int64) ([]audit.Entry, error)
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	Logger *slog.Logger
	Now    func() time.Time
}

// Service coordinates inventory operations.
type Service struct {
	repo    RepositoryPort
	engine  *workflow.Engine
	history HistoryPort
	logger  *slog.Logger
	now     func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, engine *workflow.Engine, history HistoryPort, cfg ServiceConfig) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{repo: repo, engine: engine, history: history, logger: cfg.Logger, now: cfg.Now}
}

// CreateMovementInput drafts a movement.
type CreateMovementInput struct {
	Code           string       `json:"code" validate:"omitempty,max=64"`
	Type           MovementType `json:"type" validate:"required"`
	WarehouseID    int64        `json:"warehouse_id" validate:"required,gt=0"`
	DstWarehouseID int64        `json:"dst_warehouse_id" validate:"omitempty,gt=0"`
	RefModule      string       `json:"ref_module" validate:"max=32"`
	RefID          string       `json:"ref_id" validate:"omitempty,uuid"`
	Note           string       `json:"note" validate:"max=500"`
	Lines          []LineInput  `json:"lines" validate:"required,min=1,dive"`
}

// LineInput is one product line. Qty may be negative for ADJUST only.
type LineInput struct {
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	Qty       decimal.Decimal `json:"qty"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
}

// CreateDraft validates and persists a movement in DRAFT. Balances change only
// when the movement is posted.
func (s *Service) CreateDraft(ctx context.Context, actor workflow.Actor, input CreateMovementInput) (Movement, error) {
	if input.WarehouseID == 0 {
		return Movement{}, fmt.Errorf("%w: warehouse required", ErrValidation)
	}
	switch input.Type {
	case MovementTypeIn, MovementTypeOut, MovementTypeAdjust:
		if input.DstWarehouseID != 0 {
			return Movement{}, fmt.Errorf("%w: destination warehouse only applies to transfers", ErrValidation)
		}
	case MovementTypeTransfer:
		if input.DstWarehouseID == 0 {
			return Movement{}, fmt.Errorf("%w: destination warehouse required", ErrValidation)
		}
		if input.DstWarehouseID == input.WarehouseID {
			return Movement{}, ledger.ErrSameWarehouse
		}
	default:
		return Movement{}, fmt.Errorf("%w: unknown movement type %q", ErrValidation, input.Type)
	}
	if input.RefID != "" {
		if _, err := uuid.Parse(input.RefID); err != nil {
			return Movement{}, fmt.Errorf("%w: invalid ref id: %v", ErrValidation, err)
		}
	}
	if len(input.Lines) == 0 {
		return Movement{}, fmt.Errorf("%w: at least one line required", ErrValidation)
	}
	lines := make([]LineInput, len(input.Lines))
	for i, l := range input.Lines {
		l.Qty = ledger.Quantity(l.Qty)
		if l.ProductID == 0 || l.Qty.IsZero() {
			return Movement{}, ErrInvalidQuantity
		}
		if l.Qty.IsNegative() && input.Type != MovementTypeAdjust {
			return Movement{}, ErrInvalidQuantity
		}
		if l.UnitCost.IsNegative() {
			return Movement{}, ErrInvalidUnitCost
		}
		lines[i] = l
	}
	code := strings.TrimSpace(input.Code)
	if code == "" {
		code = fmt.Sprintf("INV-%d", s.now().UnixNano())
	}
	m := Movement{
		Code:           code,
		Type:           input.Type,
		Status:         MovementDraft,
		WarehouseID:    input.WarehouseID,
		DstWarehouseID: input.DstWarehouseID,
		RefModule:      input.RefModule,
		RefID:          input.RefID,
		Note:           input.Note,
		CreatedBy:      actor.ID,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateMovement(ctx, m)
		if err != nil {
			return err
		}
		m.ID = id
		for _, l := range lines {
			line := MovementLine{MovementID: id, ProductID: l.ProductID, Qty: l.Qty, UnitCost: l.UnitCost}
			lineID, err := tx.InsertLine(ctx, line)
			if err != nil {
				return err
			}
			line.ID = lineID
			m.Lines = append(m.Lines, line)
		}
		return tx.RecordAudit(ctx, audit.Log{
			ActorID:  actor.ID,
			Action:   fmt.Sprintf("inventory:%s", m.Type),
			Entity:   "stock_movement",
			EntityID: strconv.FormatInt(id, 10),
			Meta:     map[string]any{"code": code, "warehouse_id": m.WarehouseID, "lines": len(m.Lines)},
			At:       s.now().UTC(),
		})
	})
	if err != nil {
		return Movement{}, err
	}
	return m, nil
}

// Get returns a movement with lines.
func (s *Service) Get(ctx context.Context, id int64) (Movement, error) {
	return s.repo.GetMovement(ctx, id)
}

// Transition moves a movement along its lifecycle. POST applies every line to
// the warehouse balances and REVERSE applies the opposite movement, each in
// the transaction that records the transition.
func (s *Service) Transition(ctx context.Context, id int64, actor workflow.Actor, action workflow.Action, reason string) (Movement, error) {
	var m Movement
	req := workflow.Request{DocType: DocType, DocID: id, Action: action, Actor: actor, Reason: reason}
	load := func(ctx context.Context, req *workflow.Request) error {
		var err error
		if m, err = s.repo.GetMovement(ctx, id); err != nil {
			return err
		}
		req.Number = m.Code
		req.From = workflow.State(m.Status)
		req.Subject = m
		req.Meta = map[string]any{"type": string(m.Type), "warehouse_id": m.WarehouseID}
		return nil
	}
	_, err := s.engine.Execute(ctx, req, load, func(ctx context.Context, step workflow.Step) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if err := tx.UpdateStatus(ctx, m.ID, MovementStatus(step.From), MovementStatus(step.To)); err != nil {
				return err
			}
			switch step.Action {
			case workflow.ActionPost:
				if err := s.apply(ctx, tx, m, false, step); err != nil {
					return err
				}
				if err := tx.SetPosted(ctx, m.ID, step.At); err != nil {
					return err
				}
			case workflow.ActionReverse:
				if err := s.apply(ctx, tx, m, true, step); err != nil {
					return err
				}
			}
			return tx.InsertTransition(ctx, step)
		})
	})
	if err != nil {
		return Movement{}, err
	}
	return s.repo.GetMovement(ctx, id)
}

// AvailableActions lists the actions actor may attempt on the movement.
func (s *Service) AvailableActions(ctx context.Context, id int64, actor workflow.Actor) ([]workflow.Action, error) {
	m, err := s.repo.GetMovement(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.engine.Available(DocType, workflow.State(m.Status), actor)
}

// History returns the transition trail of the movement.
func (s *Service) History(ctx context.Context, id int64) ([]audit.Entry, error) {
	if _, err := s.repo.GetMovement(ctx, id); err != nil {
		return nil, err
	}
	return s.history.History(ctx, DocType, id)
}

// GetStockCard lists stock card entries.
func (s *Service) GetStockCard(ctx context.Context, filter StockCardFilter) ([]StockCardEntry, error) {
	if filter.WarehouseID == 0 || filter.ProductID == 0 {
		return nil, fmt.Errorf("%w: warehouse and product required", ErrValidation)
	}
	return s.repo.GetStockCard(ctx, filter)
}

func (s *Service) apply(ctx context.Context, tx TxRepository, m Movement, reverse bool, step workflow.Step) error {
	keys := movementKeys(m)
	positions, err := tx.LockBalances(ctx, keys)
	if err != nil {
		return err
	}
	stock := ledger.NewStock(positions)
	var effects []ledger.StockEffect
	for _, line := range m.Lines {
		lineEffects, err := applyLine(stock, m, line, reverse)
		if err != nil {
			return fmt.Errorf("product %d: %w", line.ProductID, err)
		}
		if !reverse && (m.Type == MovementTypeOut || (m.Type == MovementTypeAdjust && line.Qty.IsNegative())) {
			if err := tx.SetLineCost(ctx, line.ID, lineEffects[0].UnitCost); err != nil {
				return err
			}
		}
		effects = append(effects, lineEffects...)
	}
	code, note := m.Code, m.Note
	if reverse {
		code, note = m.Code+"-REV", "reversal: "+step.Reason
	}
	for _, e := range effects {
		if err := tx.UpsertBalance(ctx, Balance{WarehouseID: e.Key.WarehouseID, ProductID: e.Key.ProductID, Qty: e.After.Qty, AvgCost: e.After.AvgCost, UpdatedAt: step.At}); err != nil {
			return err
		}
		entry := StockCardEntry{
			MovementID:  m.ID,
			Code:        code,
			Type:        m.Type,
			PostedAt:    step.At,
			QtyIn:       decimal.Max(e.QtyDelta, decimal.Zero),
			QtyOut:      decimal.Max(e.QtyDelta.Neg(), decimal.Zero),
			BalanceQty:  e.After.Qty,
			UnitCost:    e.UnitCost,
			BalanceCost: e.After.AvgCost,
			Note:        note,
		}
		if err := tx.InsertCardEntry(ctx, entry, e.Key.WarehouseID, e.Key.ProductID); err != nil {
			return err
		}
	}
	s.logger.Info("stock movement applied",
		slog.Int64("doc_id", m.ID),
		slog.String("type", string(m.Type)),
		slog.Bool("reverse", reverse),
		slog.Int("effects", len(effects)))
	return nil
}

// applyLine books one line, or its opposite when reverse is set. Reversed
// outbound lines return stock at the cost they were issued at.
func applyLine(stock *ledger.Stock, m Movement, line MovementLine, reverse bool) ([]ledger.StockEffect, error) {
	src := ledger.StockKey{WarehouseID: m.WarehouseID, ProductID: line.ProductID}
	switch m.Type {
	case MovementTypeIn:
		if reverse {
			return one(stock.Issue(src, line.Qty))
		}
		return one(stock.Receive(src, line.Qty, line.UnitCost))
	case MovementTypeOut:
		if reverse {
			return one(stock.Receive(src, line.Qty, line.UnitCost))
		}
		return one(stock.Issue(src, line.Qty))
	case MovementTypeTransfer:
		from, to := m.WarehouseID, m.DstWarehouseID
		if reverse {
			from, to = to, from
		}
		out, in, err := stock.Move(line.ProductID, from, to, line.Qty)
		if err != nil {
			return nil, err
		}
		return []ledger.StockEffect{out, in}, nil
	case MovementTypeAdjust:
		inbound := line.Qty.IsPositive() != reverse
		qty := line.Qty.Abs()
		if inbound {
			return one(stock.Receive(src, qty, line.UnitCost))
		}
		return one(stock.Issue(src, qty))
	}
	return nil, fmt.Errorf("%w: unknown movement type %q", ErrValidation, m.Type)
}

func one(effect ledger.StockEffect, err error) ([]ledger.StockEffect, error) {
	if err != nil {
		return nil, err
	}
	return []ledger.StockEffect{effect}, nil
}

func movementKeys(m Movement) []ledger.StockKey {
	seen := make(map[ledger.StockKey]bool)
	var keys []ledger.StockKey
	add := func(k ledger.StockKey) {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	for _, l := range m.Lines {
		add(ledger.StockKey{WarehouseID: m.WarehouseID, ProductID: l.ProductID})
		if m.Type == MovementTypeTransfer {
			add(ledger.StockKey{WarehouseID: m.DstWarehouseID, ProductID: l.ProductID})
		}
	}
	return keys
}
