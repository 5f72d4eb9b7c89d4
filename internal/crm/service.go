package crm

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
	GetQuote(ctx context.Context, id int64) (Quote, error)
	ListExpirable(ctx context.Context, now time.Time, limit int) ([]int64, error)
}

// HistoryPort reads the transition trail.
type HistoryPort interface {
	History(ctx context.Context, docType workflow.DocType, docID int64) ([]audit.Entry, error)
}

// Options tunes Service.
type Options struct {
	Currency string
	Logger   *slog.Logger
	Now      func() time.Time
}

// Service manages sales quotes.
type Service struct {
	repo     RepositoryPort
	engine   *workflow.Engine
	history  HistoryPort
	currency string
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs the quote service.
func NewService(repo RepositoryPort, engine *workflow.Engine, history HistoryPort, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	return &Service{repo: repo, engine: engine, history: history, currency: opts.Currency, logger: opts.Logger, now: opts.Now}
}

// CreateQuoteInput drafts a quote.
type CreateQuoteInput struct {
	Number     string           `json:"number" validate:"omitempty,max=64"`
	CustomerID int64            `json:"customer_id" validate:"required,gt=0"`
	Currency   string           `json:"currency" validate:"omitempty,len=3"`
	ValidUntil time.Time        `json:"valid_until" validate:"required"`
	Lines      []QuoteLineInput `json:"lines" validate:"required,min=1,dive"`
}

// QuoteLineInput is one quoted item.
type QuoteLineInput struct {
	Description string          `json:"description" validate:"required,max=200"`
	Qty         decimal.Decimal `json:"qty"`
	Price       decimal.Decimal `json:"price"`
	DiscountPct decimal.Decimal `json:"discount_pct"`
	TaxPct      decimal.Decimal `json:"tax_pct"`
}

// CreateDraft persists a quote in DRAFT.
func (s *Service) CreateDraft(ctx context.Context, actor workflow.Actor, input CreateQuoteInput) (Quote, error) {
	if input.CustomerID <= 0 || input.ValidUntil.IsZero() {
		return Quote{}, fmt.Errorf("%w: customer and valid_until required", ErrValidation)
	}
	lines := make([]ledger.Line, 0, len(input.Lines))
	for _, l := range input.Lines {
		if !l.Qty.IsPositive() {
			return Quote{}, fmt.Errorf("%w: line quantity must be positive", ErrValidation)
		}
		lines = append(lines, ledger.Line{Quantity: l.Qty, UnitPrice: l.Price, DiscountPct: l.DiscountPct, TaxPct: l.TaxPct})
	}
	amounts, err := ledger.Summarize(lines, decimal.Zero)
	if err != nil {
		return Quote{}, err
	}
	number := strings.TrimSpace(input.Number)
	if number == "" {
		number = fmt.Sprintf("QT-%d", s.now().UnixNano())
	}
	currency := input.Currency
	if currency == "" {
		currency = s.currency
	}
	q := Quote{
		Number:     number,
		CustomerID: input.CustomerID,
		Status:     QuoteDraft,
		Currency:   strings.ToUpper(currency),
		ValidUntil: input.ValidUntil.UTC(),
		Subtotal:   amounts.Subtotal,
		Discount:   amounts.Discount,
		Tax:        amounts.Tax,
		Total:      amounts.Total,
		CreatedBy:  actor.ID,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateQuote(ctx, q)
		if err != nil {
			return err
		}
		q.ID = id
		for i, l := range input.Lines {
			computed, err := lines[i].Compute()
			if err != nil {
				return err
			}
			line := QuoteLine{QuoteID: id, Description: strings.TrimSpace(l.Description), Qty: ledger.Quantity(l.Qty), Price: l.Price, DiscountPct: l.DiscountPct, TaxPct: l.TaxPct, Total: computed.Total}
			if err := tx.InsertLine(ctx, line); err != nil {
				return err
			}
			q.Lines = append(q.Lines, line)
		}
		return tx.RecordAudit(ctx, audit.Log{
			ActorID:  actor.ID,
			Action:   "QUOTE_CREATE",
			Entity:   "quote",
			EntityID: strconv.FormatInt(id, 10),
			Meta:     map[string]any{"number": number, "total": q.Total.StringFixed(ledger.MoneyPlaces)},
			At:       s.now().UTC(),
		})
	})
	if err != nil {
		return Quote{}, err
	}
	return q, nil
}

// Get returns a quote with lines.
func (s *Service) Get(ctx context.Context, id int64) (Quote, error) {
	return s.repo.GetQuote(ctx, id)
}

// Transition moves a quote along its lifecycle.
func (s *Service) Transition(ctx context.Context, id int64, actor workflow.Actor, action workflow.Action, reason string) (Quote, error) {
	var q Quote
	req := workflow.Request{DocType: DocType, DocID: id, Action: action, Actor: actor, Reason: reason}
	load := func(ctx context.Context, req *workflow.Request) error {
		var err error
		if q, err = s.repo.GetQuote(ctx, id); err != nil {
			return err
		}
		req.Number = q.Number
		req.From = state(q.Status)
		req.Subject = QuoteSubject{Quote: q, Now: s.now()}
		req.Meta = map[string]any{"amount": q.Total.StringFixed(ledger.MoneyPlaces), "currency": q.Currency}
		return nil
	}
	_, err := s.engine.Execute(ctx, req, load, func(ctx context.Context, step workflow.Step) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if err := tx.UpdateStatus(ctx, q.ID, QuoteStatus(step.From), QuoteStatus(step.To)); err != nil {
				return err
			}
			return tx.InsertTransition(ctx, step)
		})
	})
	if err != nil {
		return Quote{}, err
	}
	return s.repo.GetQuote(ctx, id)
}

// AvailableActions lists the actions actor may attempt on the quote.
func (s *Service) AvailableActions(ctx context.Context, id int64, actor workflow.Actor) ([]workflow.Action, error) {
	q, err := s.repo.GetQuote(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.engine.Available(DocType, state(q.Status), actor)
}

// History returns the transition trail of the quote.
func (s *Service) History(ctx context.Context, id int64) ([]audit.Entry, error) {
	if _, err := s.repo.GetQuote(ctx, id); err != nil {
		return nil, err
	}
	return s.history.History(ctx, DocType, id)
}

// ExpireDue expires sent quotes past their validity with the system actor.
// Individual failures are logged and skipped.
func (s *Service) ExpireDue(ctx context.Context, limit int) (int, error) {
	ids, err := s.repo.ListExpirable(ctx, s.now(), limit)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		if _, err := s.Transition(ctx, id, workflow.SystemActor, workflow.ActionExpire, "validity elapsed"); err != nil {
			s.logger.Warn("quote expiry skipped", slog.Int64("doc_id", id), slog.Any("error", err))
			continue
		}
		expired++
	}
	return expired, nil
}
