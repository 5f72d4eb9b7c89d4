package procurement

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wellhead-erp/wellhead/internal/audit"
	"github.com/wellhead-erp/wellhead/internal/ledger"
	"github.com/wellhead-erp/wellhead/internal/workflow"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPO(ctx context.Context, id int64) (PurchaseOrder, error)
}

// HistoryPort reads the transition trail.
type HistoryPort interface {
	History(ctx context.Context, docType workflow.DocType, docID int64) ([]audit.Entry, error)
}

// Options tunes Service.
type Options struct {
	// TolerancePct is the AFE overrun tolerance applied to commitments.
	TolerancePct decimal.Decimal
	Currency     string
	Locker       workflow.Locker
	LockTTL      time.Duration
	Logger       *slog.Logger
	Now          func() time.Time
}

// Service orchestrates purchase order flows.
type Service struct {
	repo      RepositoryPort
	engine    *workflow.Engine
	history   HistoryPort
	tolerance decimal.Decimal
	currency  string
	locker    workflow.Locker
	lockTTL   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs procurement service.
func NewService(repo RepositoryPort, engine *workflow.Engine, history HistoryPort, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Second
	}
	return &Service{
		repo:      repo,
		engine:    engine,
		history:   history,
		tolerance: opts.TolerancePct,
		currency:  defaultString(opts.Currency, "USD"),
		locker:    opts.Locker,
		lockTTL:   opts.LockTTL,
		logger:    opts.Logger,
		now:       opts.Now,
	}
}

// CreatePOInput describes a new draft purchase order.
type CreatePOInput struct {
	Number       string        `json:"number" validate:"omitempty,max=64"`
	SupplierID   int64         `json:"supplier_id" validate:"required,gt=0"`
	AFEID        int64         `json:"afe_id" validate:"omitempty,gt=0"`
	Currency     string        `json:"currency" validate:"omitempty,len=3"`
	ExpectedDate time.Time     `json:"expected_date"`
	Note         string        `json:"note" validate:"max=500"`
	Lines        []POLineInput `json:"lines" validate:"required,min=1,dive"`
}

// POLineInput describes one ordered item.
type POLineInput struct {
	ProductID   int64           `json:"product_id" validate:"required,gt=0"`
	Description string          `json:"description" validate:"max=200"`
	Qty         decimal.Decimal `json:"qty"`
	Price       decimal.Decimal `json:"price"`
	DiscountPct decimal.Decimal `json:"discount_pct"`
	TaxPct      decimal.Decimal `json:"tax_pct"`
}

// SettlementInput registers a supplier invoice or payment.
type SettlementInput struct {
	Number string          `json:"number" validate:"omitempty,max=64"`
	Amount decimal.Decimal `json:"amount"`
}

// CreateDraft persists a DRAFT purchase order with computed totals.
func (s *Service) CreateDraft(ctx context.Context, actor workflow.Actor, input CreatePOInput) (PurchaseOrder, error) {
	if input.SupplierID <= 0 {
		return PurchaseOrder{}, fmt.Errorf("%w: supplier required", ErrValidation)
	}
	lines := make([]ledger.Line, 0, len(input.Lines))
	for _, l := range input.Lines {
		if l.ProductID <= 0 || !l.Qty.IsPositive() {
			return PurchaseOrder{}, fmt.Errorf("%w: line needs product and positive qty", ErrValidation)
		}
		lines = append(lines, ledger.Line{Quantity: l.Qty, UnitPrice: l.Price, DiscountPct: l.DiscountPct, TaxPct: l.TaxPct})
	}
	amounts, err := ledger.Summarize(lines, decimal.Zero)
	if err != nil {
		return PurchaseOrder{}, err
	}
	po := PurchaseOrder{
		Number:       defaultString(strings.TrimSpace(input.Number), generateNumber("PO", s.now())),
		SupplierID:   input.SupplierID,
		AFEID:        input.AFEID,
		Status:       POStatusDraft,
		Currency:     strings.ToUpper(defaultString(input.Currency, s.currency)),
		ExpectedDate: input.ExpectedDate,
		Note:         input.Note,
		Subtotal:     amounts.Subtotal,
		Discount:     amounts.Discount,
		Tax:          amounts.Tax,
		Total:        amounts.Total,
		CreatedBy:    actor.ID,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreatePO(ctx, po)
		if err != nil {
			return err
		}
		po.ID = id
		for i, l := range input.Lines {
			computed, _ := lines[i].Compute()
			line := POLine{POID: id, ProductID: l.ProductID, Description: l.Description, Qty: l.Qty, Price: l.Price, DiscountPct: l.DiscountPct, TaxPct: l.TaxPct, Total: computed.Total}
			if err := tx.InsertPOLine(ctx, line); err != nil {
				return err
			}
			po.Lines = append(po.Lines, line)
		}
		return tx.RecordAudit(ctx, audit.Log{ActorID: actor.ID, Action: "PO_CREATE", Entity: "purchase_order", EntityID: strconv.FormatInt(id, 10), Meta: map[string]any{"number": po.Number, "total": po.Total.StringFixed(ledger.MoneyPlaces)}})
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	return po, nil
}

// Get returns the purchase order with lines.
func (s *Service) Get(ctx context.Context, id int64) (PurchaseOrder, error) {
	return s.repo.GetPO(ctx, id)
}

// Transition moves a purchase order through its lifecycle. Approval commits
// the order total against the linked AFE in the same transaction, holding
// the AFE lock as well.
func (s *Service) Transition(ctx context.Context, id int64, actor workflow.Actor, action workflow.Action, reason string) (PurchaseOrder, error) {
	var po PurchaseOrder
	req := workflow.Request{DocType: DocType, DocID: id, Action: action, Actor: actor, Reason: reason}
	load := func(ctx context.Context, req *workflow.Request) error {
		var err error
		if po, err = s.repo.GetPO(ctx, id); err != nil {
			return err
		}
		req.Number = po.Number
		req.From = state(po.Status)
		req.Subject = po
		req.Meta = map[string]any{"amount": po.Total.StringFixed(ledger.MoneyPlaces), "currency": po.Currency}
		return nil
	}
	_, err := s.engine.Execute(ctx, req, load, func(ctx context.Context, step workflow.Step) error {
		commit := step.Action == workflow.ActionApprove && po.AFEID != 0
		if commit {
			release, err := s.lockAFE(ctx, po.AFEID)
			if err != nil {
				return err
			}
			defer release()
		}
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if err := tx.UpdatePOStatus(ctx, po.ID, POStatus(step.From), POStatus(step.To)); err != nil {
				return err
			}
			if step.Action == workflow.ActionApprove {
				if err := tx.SetPOApproval(ctx, po.ID, step.ActorID, step.At); err != nil {
					return err
				}
			}
			if commit {
				if err := s.commitAFE(ctx, tx, po); err != nil {
					return err
				}
			}
			return tx.InsertTransition(ctx, step)
		})
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	return s.repo.GetPO(ctx, id)
}

func (s *Service) commitAFE(ctx context.Context, tx TxRepository, po PurchaseOrder) error {
	linked, err := tx.LockEnvelope(ctx, po.AFEID)
	if err != nil {
		return err
	}
	if linked.Status != AFEStatusApproved {
		return ErrAFENotApproved
	}
	env := linked.Envelope
	env.TolerancePct = s.tolerance
	if err := env.Commit(po.Total); err != nil {
		return fmt.Errorf("procurement: commit %s against afe %d: %w", po.Number, po.AFEID, err)
	}
	return tx.SaveEnvelope(ctx, po.AFEID, env)
}

// AvailableActions lists the actions actor may attempt on the order.
func (s *Service) AvailableActions(ctx context.Context, id int64, actor workflow.Actor) ([]workflow.Action, error) {
	po, err := s.repo.GetPO(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.engine.Available(DocType, state(po.Status), actor)
}

// History returns the transition trail of the order.
func (s *Service) History(ctx context.Context, id int64) ([]audit.Entry, error) {
	if _, err := s.repo.GetPO(ctx, id); err != nil {
		return nil, err
	}
	return s.history.History(ctx, DocType, id)
}

// RegisterInvoice records a supplier invoice. Invoiced never exceeds total.
func (s *Service) RegisterInvoice(ctx context.Context, actor workflow.Actor, id int64, input SettlementInput) (PurchaseOrder, error) {
	amount := ledger.Money(input.Amount)
	if !amount.IsPositive() {
		return PurchaseOrder{}, ledger.ErrNegativeAmount
	}
	release, err := s.lock(ctx, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	defer release()
	po, err := s.repo.GetPO(ctx, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if po.Status != POStatusApproved {
		return PurchaseOrder{}, ErrNotApproved
	}
	balance := po.Balance()
	if err := balance.ApplyInvoice(amount); err != nil {
		return PurchaseOrder{}, err
	}
	inv := SupplierInvoice{POID: id, Number: defaultString(strings.TrimSpace(input.Number), generateNumber("INV", s.now())), Amount: amount, CreatedBy: actor.ID, CreatedAt: s.now().UTC()}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.ApplyInvoice(ctx, id, amount); err != nil {
			return err
		}
		if _, err := tx.InsertInvoice(ctx, inv); err != nil {
			return err
		}
		return tx.RecordAudit(ctx, audit.Log{ActorID: actor.ID, Action: "PO_INVOICE", Entity: "purchase_order", EntityID: strconv.FormatInt(id, 10), Meta: map[string]any{"number": inv.Number, "amount": amount.StringFixed(ledger.MoneyPlaces)}})
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.logger.Info("po invoice registered", slog.Int64("doc_id", id), slog.String("amount", amount.String()), slog.Int64("actor_id", actor.ID))
	return s.repo.GetPO(ctx, id)
}

// RegisterPayment records a supplier payment. Paid never exceeds invoiced and
// the amount is booked as actual cost on the linked AFE.
func (s *Service) RegisterPayment(ctx context.Context, actor workflow.Actor, id int64, input SettlementInput) (PurchaseOrder, error) {
	amount := ledger.Money(input.Amount)
	if !amount.IsPositive() {
		return PurchaseOrder{}, ledger.ErrNegativeAmount
	}
	release, err := s.lock(ctx, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	defer release()
	po, err := s.repo.GetPO(ctx, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if po.Status != POStatusApproved {
		return PurchaseOrder{}, ErrNotApproved
	}
	balance := po.Balance()
	if err := balance.ApplyPayment(amount); err != nil {
		return PurchaseOrder{}, err
	}
	payment := SupplierPayment{POID: id, Number: defaultString(strings.TrimSpace(input.Number), generateNumber("PAY", s.now())), Amount: amount, CreatedBy: actor.ID, CreatedAt: s.now().UTC()}
	if po.AFEID != 0 {
		releaseAFE, err := s.lockAFE(ctx, po.AFEID)
		if err != nil {
			return PurchaseOrder{}, err
		}
		defer releaseAFE()
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.ApplyPayment(ctx, id, amount); err != nil {
			return err
		}
		if _, err := tx.InsertPayment(ctx, payment); err != nil {
			return err
		}
		if po.AFEID != 0 {
			linked, err := tx.LockEnvelope(ctx, po.AFEID)
			if err != nil {
				return err
			}
			if linked.Status != AFEStatusApproved {
				return ErrAFENotApproved
			}
			env := linked.Envelope
			env.TolerancePct = s.tolerance
			if err := env.RecordActual(amount); err != nil {
				return err
			}
			if err := tx.SaveEnvelope(ctx, po.AFEID, env); err != nil {
				return err
			}
		}
		return tx.RecordAudit(ctx, audit.Log{ActorID: actor.ID, Action: "PO_PAYMENT", Entity: "purchase_order", EntityID: strconv.FormatInt(id, 10), Meta: map[string]any{"number": payment.Number, "amount": amount.StringFixed(ledger.MoneyPlaces)}})
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.logger.Info("po payment registered", slog.Int64("doc_id", id), slog.String("amount", amount.String()), slog.Int64("actor_id", actor.ID))
	return s.repo.GetPO(ctx, id)
}

func (s *Service) lock(ctx context.Context, id int64) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	return s.locker.Acquire(ctx, workflow.LockKey(DocType, id), s.lockTTL)
}

func (s *Service) lockAFE(ctx context.Context, afeID int64) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	return s.locker.Acquire(ctx, workflow.LockKey(AFEDocType, afeID), s.lockTTL)
}

func generateNumber(prefix string, now time.Time) string {
	return fmt.Sprintf("%s-%d", prefix, now.UnixNano())
}

func defaultString(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
