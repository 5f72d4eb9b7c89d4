package contractor

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
	GetContract(ctx context.Context, id int64) (Contract, error)
	GetValuation(ctx context.Context, id int64) (Valuation, error)
	ListApprovedValuations(ctx context.Context, contractID int64) ([]Valuation, error)
	GetInvoice(ctx context.Context, id int64) (Invoice, error)
	ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error)
}

// HistoryPort reads the transition trail.
type HistoryPort interface {
	History(ctx context.Context, docType workflow.DocType, docID int64) ([]audit.Entry, error)
}

// Options tunes Service.
type Options struct {
	Currency string
	Locker   workflow.Locker
	LockTTL  time.Duration
	Logger   *slog.Logger
	Now      func() time.Time
}

// Service manages contracts, valuations, invoices and payments.
type Service struct {
	repo     RepositoryPort
	engine   *workflow.Engine
	history  HistoryPort
	currency string
	locker   workflow.Locker
	lockTTL  time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs the contractor service.
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
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	return &Service{
		repo:     repo,
		engine:   engine,
		history:  history,
		currency: opts.Currency,
		locker:   opts.Locker,
		lockTTL:  opts.LockTTL,
		logger:   opts.Logger,
		now:      opts.Now,
	}
}

// CreateContractInput registers a contract.
type CreateContractInput struct {
	Number       string          `json:"number" validate:"omitempty,max=64"`
	ContractorID int64           `json:"contractor_id" validate:"required,gt=0"`
	Title        string          `json:"title" validate:"required,max=200"`
	Currency     string          `json:"currency" validate:"omitempty,len=3"`
	Value        decimal.Decimal `json:"value"`
	RetentionPct decimal.Decimal `json:"retention_pct"`
	TaxPct       decimal.Decimal `json:"tax_pct"`
}

// CreateValuationInput measures progress on a contract.
type CreateValuationInput struct {
	ContractID     int64           `json:"contract_id" validate:"required,gt=0"`
	Number         string          `json:"number" validate:"omitempty,max=64"`
	PeriodEnd      time.Time       `json:"period_end"`
	AccumulatedPct decimal.Decimal `json:"accumulated_pct"`
}

// CreateInvoiceInput bills an approved valuation.
type CreateInvoiceInput struct {
	ValuationID int64  `json:"valuation_id" validate:"required,gt=0"`
	Number      string `json:"number" validate:"omitempty,max=64"`
}

// PaymentInput registers a payment against an invoice.
type PaymentInput struct {
	Number string          `json:"number" validate:"omitempty,max=64"`
	Amount decimal.Decimal `json:"amount"`
}

// CreateContract persists a contract.
func (s *Service) CreateContract(ctx context.Context, actor workflow.Actor, input CreateContractInput) (Contract, error) {
	if input.ContractorID <= 0 || strings.TrimSpace(input.Title) == "" {
		return Contract{}, fmt.Errorf("%w: contractor and title required", ErrValidation)
	}
	if !input.Value.IsPositive() {
		return Contract{}, fmt.Errorf("%w: contract value must be positive", ErrValidation)
	}
	if err := checkPct(input.RetentionPct, input.TaxPct); err != nil {
		return Contract{}, err
	}
	c := Contract{
		Number:       s.number(input.Number, "CTR"),
		ContractorID: input.ContractorID,
		Title:        strings.TrimSpace(input.Title),
		Currency:     s.currencyOr(input.Currency),
		Value:        ledger.Money(input.Value),
		RetentionPct: input.RetentionPct,
		TaxPct:       input.TaxPct,
		CreatedBy:    actor.ID,
		CreatedAt:    s.now().UTC(),
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateContract(ctx, c)
		if err != nil {
			return err
		}
		c.ID = id
		return tx.RecordAudit(ctx, s.auditLog(actor, "CONTRACT_CREATE", "contract", id, map[string]any{"number": c.Number, "value": c.Value.StringFixed(ledger.MoneyPlaces)}))
	})
	if err != nil {
		return Contract{}, err
	}
	return c, nil
}

// GetContract returns a contract.
func (s *Service) GetContract(ctx context.Context, id int64) (Contract, error) {
	return s.repo.GetContract(ctx, id)
}

// CreateValuation records a DRAFT valuation whose period share is derived
// from the latest approved valuation of the contract.
func (s *Service) CreateValuation(ctx context.Context, actor workflow.Actor, input CreateValuationInput) (Valuation, error) {
	contract, err := s.repo.GetContract(ctx, input.ContractID)
	if err != nil {
		return Valuation{}, err
	}
	approved, err := s.repo.ListApprovedValuations(ctx, contract.ID)
	if err != nil {
		return Valuation{}, err
	}
	prior := ValuationSubject{Approved: approved}.LatestApprovedPct()
	step, err := ledger.NextValuation(contract.Value, prior, input.AccumulatedPct)
	if err != nil {
		return Valuation{}, err
	}
	periodEnd := input.PeriodEnd
	if periodEnd.IsZero() {
		periodEnd = s.now().UTC().Truncate(24 * time.Hour)
	}
	v := Valuation{
		ContractID:     contract.ID,
		Number:         s.number(input.Number, "VAL"),
		Status:         ValuationDraft,
		PeriodEnd:      periodEnd,
		PriorPct:       prior,
		AccumulatedPct: step.AccumulatedPct,
		PeriodPct:      step.PeriodPct,
		PeriodValue:    step.PeriodValue,
		CreatedBy:      actor.ID,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateValuation(ctx, v)
		if err != nil {
			return err
		}
		v.ID = id
		return tx.RecordAudit(ctx, s.auditLog(actor, "VALUATION_CREATE", "project_valuation", id, map[string]any{"accumulated_pct": v.AccumulatedPct.String(), "period_value": v.PeriodValue.StringFixed(ledger.MoneyPlaces)}))
	})
	if err != nil {
		return Valuation{}, err
	}
	return v, nil
}

// GetValuation returns a valuation.
func (s *Service) GetValuation(ctx context.Context, id int64) (Valuation, error) {
	return s.repo.GetValuation(ctx, id)
}

// CreateInvoice bills the period value of an APPROVED valuation with the
// contract's tax and retention. One live invoice exists per valuation.
func (s *Service) CreateInvoice(ctx context.Context, actor workflow.Actor, input CreateInvoiceInput) (Invoice, error) {
	v, err := s.repo.GetValuation(ctx, input.ValuationID)
	if err != nil {
		return Invoice{}, err
	}
	if v.Status != ValuationApproved {
		return Invoice{}, ErrValuationNotApproved
	}
	if !v.PeriodValue.IsPositive() {
		return Invoice{}, ErrNothingToInvoice
	}
	contract, err := s.repo.GetContract(ctx, v.ContractID)
	if err != nil {
		return Invoice{}, err
	}
	amounts, err := ledger.Summarize([]ledger.Line{{Quantity: decimal.NewFromInt(1), UnitPrice: v.PeriodValue, TaxPct: contract.TaxPct}}, contract.RetentionPct)
	if err != nil {
		return Invoice{}, err
	}
	inv := Invoice{
		Number:      s.number(input.Number, "CINV"),
		ContractID:  contract.ID,
		ValuationID: v.ID,
		Status:      InvoiceDraft,
		Currency:    contract.Currency,
		Subtotal:    amounts.Subtotal,
		Tax:         amounts.Tax,
		Total:       amounts.Total,
		Retention:   amounts.Retention,
		NetPayable:  amounts.NetPayable,
		CreatedBy:   actor.ID,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.LockContract(ctx, contract.ID); err != nil {
			return err
		}
		exists, err := tx.HasLiveInvoice(ctx, v.ID)
		if err != nil {
			return err
		}
		if exists {
			return ErrAlreadyInvoiced
		}
		id, err := tx.CreateInvoice(ctx, inv)
		if err != nil {
			return err
		}
		inv.ID = id
		return tx.RecordAudit(ctx, s.auditLog(actor, "CONTRACTOR_INVOICE_CREATE", "contractor_invoice", id, map[string]any{"valuation_id": v.ID, "net_payable": inv.NetPayable.StringFixed(ledger.MoneyPlaces)}))
	})
	if err != nil {
		return Invoice{}, err
	}
	return inv, nil
}

// GetInvoice returns a contractor invoice.
func (s *Service) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	return s.repo.GetInvoice(ctx, id)
}

// Payments lists payments of an invoice.
func (s *Service) Payments(ctx context.Context, invoiceID int64) ([]Payment, error) {
	if _, err := s.repo.GetInvoice(ctx, invoiceID); err != nil {
		return nil, err
	}
	return s.repo.ListPayments(ctx, invoiceID)
}

// RegisterPayment records a payment. Payments never exceed the net payable;
// the invoice moves to PARTIALLY_PAID or PAID through the system actor in the
// same transaction.
func (s *Service) RegisterPayment(ctx context.Context, actor workflow.Actor, invoiceID int64, input PaymentInput) (Invoice, error) {
	amount := ledger.Money(input.Amount)
	if !amount.IsPositive() {
		return Invoice{}, ledger.ErrNegativeAmount
	}
	release, err := s.lock(ctx, DocTypeInvoice, invoiceID)
	if err != nil {
		return Invoice{}, err
	}
	defer release()
	inv, err := s.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return Invoice{}, err
	}
	if !inv.Payable() {
		return Invoice{}, ErrNotPayable
	}
	settlement := inv.Settlement()
	status, err := settlement.Apply(amount)
	if err != nil {
		return Invoice{}, err
	}
	payment := Payment{InvoiceID: inv.ID, Number: s.number(input.Number, "CPAY"), Amount: amount, CreatedBy: actor.ID, CreatedAt: s.now().UTC()}
	book := func(ctx context.Context, tx TxRepository) error {
		if err := tx.ApplyPayment(ctx, inv.ID, amount); err != nil {
			return err
		}
		if _, err := tx.InsertPayment(ctx, payment); err != nil {
			return err
		}
		return tx.RecordAudit(ctx, s.auditLog(actor, "CONTRACTOR_PAYMENT", "contractor_invoice", inv.ID, map[string]any{"number": payment.Number, "amount": amount.StringFixed(ledger.MoneyPlaces)}))
	}

	var action workflow.Action
	switch {
	case status == ledger.SettlementSettled:
		action = workflow.ActionSettle
	case inv.Status == InvoiceApproved:
		action = workflow.ActionSettlePartial
	}
	if action == "" {
		err = s.repo.WithTx(ctx, book)
	} else {
		projected := inv
		projected.PaidAmount = settlement.Settled
		req := workflow.Request{
			DocType: DocTypeInvoice,
			DocID:   inv.ID,
			Number:  inv.Number,
			From:    workflow.State(inv.Status),
			Action:  action,
			Actor:   workflow.SystemActor,
			Subject: projected,
			Meta:    map[string]any{"amount": amount.StringFixed(ledger.MoneyPlaces), "currency": inv.Currency, "paid_by": actor.ID},
		}
		_, err = s.engine.RunHeld(ctx, req, func(ctx context.Context, step workflow.Step) error {
			return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
				if err := book(ctx, tx); err != nil {
					return err
				}
				if err := tx.UpdateInvoiceStatus(ctx, inv.ID, InvoiceStatus(step.From), InvoiceStatus(step.To)); err != nil {
					return err
				}
				return tx.InsertTransition(ctx, step)
			})
		})
	}
	if err != nil {
		return Invoice{}, err
	}
	s.logger.Info("contractor payment registered", slog.Int64("doc_id", inv.ID), slog.String("amount", amount.String()), slog.String("settlement", string(status)), slog.Int64("actor_id", actor.ID))
	return s.repo.GetInvoice(ctx, invoiceID)
}

func (s *Service) auditLog(actor workflow.Actor, action, entity string, id int64, meta map[string]any) audit.Log {
	return audit.Log{ActorID: actor.ID, Action: action, Entity: entity, EntityID: strconv.FormatInt(id, 10), Meta: meta, At: s.now().UTC()}
}

func (s *Service) lock(ctx context.Context, docType workflow.DocType, id int64) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	return s.locker.Acquire(ctx, workflow.LockKey(docType, id), s.lockTTL)
}

func (s *Service) number(value, prefix string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fmt.Sprintf("%s-%d", prefix, s.now().UnixNano())
}

func (s *Service) currencyOr(value string) string {
	if value == "" {
		value = s.currency
	}
	return strings.ToUpper(value)
}

func checkPct(values ...decimal.Decimal) error {
	for _, v := range values {
		if v.IsNegative() || v.GreaterThan(decimal.NewFromInt(100)) {
			return ledger.ErrInvalidPercentage
		}
	}
	return nil
}
