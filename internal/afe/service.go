package afe

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
	GetAFE(ctx context.Context, id int64) (AFE, error)
	ListSupplements(ctx context.Context, afeID int64) ([]Supplement, error)
}

// HistoryPort reads the transition trail.
type HistoryPort interface {
	History(ctx context.Context, docType workflow.DocType, docID int64) ([]audit.Entry, error)
}

// Options tunes Service.
type Options struct {
	TolerancePct decimal.Decimal
	Currency     string
	Locker       workflow.Locker
	LockTTL      time.Duration
	Logger       *slog.Logger
	Now          func() time.Time
}

// Service manages AFE envelopes.
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

// NewService constructs the AFE service.
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
		repo:      repo,
		engine:    engine,
		history:   history,
		tolerance: opts.TolerancePct,
		currency:  opts.Currency,
		locker:    opts.Locker,
		lockTTL:   opts.LockTTL,
		logger:    opts.Logger,
		now:       opts.Now,
	}
}

// CreateInput describes a draft AFE.
type CreateInput struct {
	Number      string          `json:"number" validate:"omitempty,max=64"`
	Title       string          `json:"title" validate:"required,max=200"`
	ProjectCode string          `json:"project_code" validate:"required,max=64"`
	Currency    string          `json:"currency" validate:"omitempty,len=3"`
	Budget      decimal.Decimal `json:"budget"`
}

// SupplementInput raises an approved AFE.
type SupplementInput struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason" validate:"required,max=500"`
}

// AmountInput carries a commitment, release or actual amount.
type AmountInput struct {
	Amount decimal.Decimal `json:"amount"`
	Ref    string          `json:"ref" validate:"max=64"`
}

// CreateDraft persists a DRAFT AFE.
func (s *Service) CreateDraft(ctx context.Context, actor workflow.Actor, input CreateInput) (AFE, error) {
	if strings.TrimSpace(input.Title) == "" || strings.TrimSpace(input.ProjectCode) == "" {
		return AFE{}, fmt.Errorf("%w: title and project code required", ErrValidation)
	}
	if input.Budget.IsNegative() {
		return AFE{}, ledger.ErrNegativeAmount
	}
	number := strings.TrimSpace(input.Number)
	if number == "" {
		number = fmt.Sprintf("AFE-%d", s.now().UnixNano())
	}
	currency := input.Currency
	if currency == "" {
		currency = s.currency
	}
	a := AFE{
		Number:      number,
		Title:       strings.TrimSpace(input.Title),
		ProjectCode: strings.TrimSpace(input.ProjectCode),
		Status:      StatusDraft,
		Currency:    strings.ToUpper(currency),
		Budget:      ledger.Money(input.Budget),
		CreatedBy:   actor.ID,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateAFE(ctx, a)
		if err != nil {
			return err
		}
		a.ID = id
		return tx.RecordAudit(ctx, s.auditLog(actor, "AFE_CREATE", id, map[string]any{"number": a.Number, "budget": a.Budget.StringFixed(ledger.MoneyPlaces)}))
	})
	if err != nil {
		return AFE{}, err
	}
	return a, nil
}

// Get returns an AFE.
func (s *Service) Get(ctx context.Context, id int64) (AFE, error) {
	return s.repo.GetAFE(ctx, id)
}

// Supplements lists approved budget increases.
func (s *Service) Supplements(ctx context.Context, id int64) ([]Supplement, error) {
	if _, err := s.repo.GetAFE(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListSupplements(ctx, id)
}

// Transition moves an AFE through its lifecycle. Closing re-reads the
// envelope under its row lock so a commitment booked by a concurrent
// purchase order approval is never missed.
func (s *Service) Transition(ctx context.Context, id int64, actor workflow.Actor, action workflow.Action, reason string) (AFE, error) {
	req := workflow.Request{DocType: DocType, DocID: id, Action: action, Actor: actor, Reason: reason}
	load := func(ctx context.Context, req *workflow.Request) error {
		a, err := s.repo.GetAFE(ctx, id)
		if err != nil {
			return err
		}
		req.Number = a.Number
		req.From = state(a.Status)
		req.Subject = a
		req.Meta = map[string]any{"amount": a.Authorized().StringFixed(ledger.MoneyPlaces), "currency": a.Currency}
		return nil
	}
	_, err := s.engine.Execute(ctx, req, load, func(ctx context.Context, step workflow.Step) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if step.Action == workflow.ActionClose {
				current, err := tx.LockAFE(ctx, id)
				if err != nil {
					return err
				}
				if err := checkNoOpenCommitments(current); err != nil {
					return err
				}
			}
			if err := tx.UpdateStatus(ctx, id, Status(step.From), Status(step.To)); err != nil {
				return err
			}
			if step.Action == workflow.ActionApprove {
				if err := tx.SetApproval(ctx, id, step.ActorID, step.At); err != nil {
					return err
				}
			}
			return tx.InsertTransition(ctx, step)
		})
	})
	if err != nil {
		return AFE{}, err
	}
	return s.repo.GetAFE(ctx, id)
}

// AvailableActions lists the actions actor may attempt on the AFE.
func (s *Service) AvailableActions(ctx context.Context, id int64, actor workflow.Actor) ([]workflow.Action, error) {
	a, err := s.repo.GetAFE(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.engine.Available(DocType, state(a.Status), actor)
}

// History returns the transition trail of the AFE.
func (s *Service) History(ctx context.Context, id int64) ([]audit.Entry, error) {
	if _, err := s.repo.GetAFE(ctx, id); err != nil {
		return nil, err
	}
	return s.history.History(ctx, DocType, id)
}

// AddSupplement raises the authorized amount of an APPROVED AFE.
func (s *Service) AddSupplement(ctx context.Context, actor workflow.Actor, id int64, input SupplementInput) (AFE, error) {
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return AFE{}, workflow.ErrReasonRequired
	}
	amount := ledger.Money(input.Amount)
	supplement := Supplement{AFEID: id, Amount: amount, Reason: reason, CreatedBy: actor.ID, CreatedAt: s.now().UTC()}
	return s.adjust(ctx, actor, id, "AFE_SUPPLEMENT", amount, func(ctx context.Context, tx TxRepository, env *ledger.Envelope) error {
		if err := env.Supplement(amount); err != nil {
			return err
		}
		_, err := tx.InsertSupplement(ctx, supplement)
		return err
	})
}

// Commit reserves amount against the AFE.
func (s *Service) Commit(ctx context.Context, actor workflow.Actor, id int64, input AmountInput) (AFE, error) {
	amount := ledger.Money(input.Amount)
	return s.adjust(ctx, actor, id, "AFE_COMMIT", amount, func(_ context.Context, _ TxRepository, env *ledger.Envelope) error {
		return env.Commit(amount)
	})
}

// Release returns a commitment to the AFE.
func (s *Service) Release(ctx context.Context, actor workflow.Actor, id int64, input AmountInput) (AFE, error) {
	amount := ledger.Money(input.Amount)
	return s.adjust(ctx, actor, id, "AFE_RELEASE", amount, func(_ context.Context, _ TxRepository, env *ledger.Envelope) error {
		return env.Release(amount)
	})
}

// RecordActual books incurred cost against the AFE.
func (s *Service) RecordActual(ctx context.Context, actor workflow.Actor, id int64, input AmountInput) (AFE, error) {
	amount := ledger.Money(input.Amount)
	return s.adjust(ctx, actor, id, "AFE_ACTUAL", amount, func(_ context.Context, _ TxRepository, env *ledger.Envelope) error {
		return env.RecordActual(amount)
	})
}

func (s *Service) adjust(ctx context.Context, actor workflow.Actor, id int64, action string, amount decimal.Decimal, apply func(context.Context, TxRepository, *ledger.Envelope) error) (AFE, error) {
	if !amount.IsPositive() {
		return AFE{}, ledger.ErrNegativeAmount
	}
	release, err := s.lock(ctx, id)
	if err != nil {
		return AFE{}, err
	}
	defer release()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		a, err := tx.LockAFE(ctx, id)
		if err != nil {
			return err
		}
		if a.Status != StatusApproved {
			return ErrNotApproved
		}
		env := a.Envelope(s.tolerance)
		if err := apply(ctx, tx, &env); err != nil {
			return err
		}
		if err := tx.SaveEnvelope(ctx, id, env); err != nil {
			return err
		}
		return tx.RecordAudit(ctx, s.auditLog(actor, action, id, map[string]any{"amount": amount.StringFixed(ledger.MoneyPlaces)}))
	})
	if err != nil {
		return AFE{}, err
	}
	s.logger.Info("afe envelope adjusted", slog.Int64("doc_id", id), slog.String("action", action), slog.String("amount", amount.String()), slog.Int64("actor_id", actor.ID))
	return s.repo.GetAFE(ctx, id)
}

func (s *Service) auditLog(actor workflow.Actor, action string, id int64, meta map[string]any) audit.Log {
	return audit.Log{ActorID: actor.ID, Action: action, Entity: "afe", EntityID: strconv.FormatInt(id, 10), Meta: meta, At: s.now().UTC()}
}

func (s *Service) lock(ctx context.Context, id int64) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	return s.locker.Acquire(ctx, workflow.LockKey(DocType, id), s.lockTTL)
}
