package pettycash

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

// FundLockType namespaces fund locks next to document locks.
const FundLockType workflow.DocType = "PETTY_CASH_FUND"

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetFund(ctx context.Context, id int64) (Fund, error)
	GetReport(ctx context.Context, id int64) (ExpenseReport, error)
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

// Service manages petty-cash funds and expense reports.
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

// NewService constructs the petty-cash service.
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
	return &Service{repo: repo, engine: engine, history: history, currency: opts.Currency, locker: opts.Locker, lockTTL: opts.LockTTL, logger: opts.Logger, now: opts.Now}
}

// CreateFundInput opens a fund with its float fully available.
type CreateFundInput struct {
	Name        string          `json:"name" validate:"required,max=120"`
	CustodianID int64           `json:"custodian_id" validate:"required,gt=0"`
	Currency    string          `json:"currency" validate:"omitempty,len=3"`
	FloatAmount decimal.Decimal `json:"float_amount"`
}

// CreateReportInput drafts an expense report.
type CreateReportInput struct {
	FundID  int64              `json:"fund_id" validate:"required,gt=0"`
	Number  string             `json:"number" validate:"omitempty,max=64"`
	Purpose string             `json:"purpose" validate:"required,max=200"`
	Lines   []ExpenseLineInput `json:"lines" validate:"required,min=1,dive"`
}

// ExpenseLineInput is one receipt.
type ExpenseLineInput struct {
	Category    string          `json:"category" validate:"required,max=64"`
	Description string          `json:"description" validate:"max=200"`
	SpentOn     time.Time       `json:"spent_on"`
	Amount      decimal.Decimal `json:"amount"`
}

// ReplenishInput tops up a fund. A zero amount restores the full float.
type ReplenishInput struct {
	Amount decimal.Decimal `json:"amount"`
}

// CreateFund persists a fund.
func (s *Service) CreateFund(ctx context.Context, actor workflow.Actor, input CreateFundInput) (Fund, error) {
	if strings.TrimSpace(input.Name) == "" || input.CustodianID <= 0 {
		return Fund{}, fmt.Errorf("%w: name and custodian required", ErrValidation)
	}
	float := ledger.Money(input.FloatAmount)
	if !float.IsPositive() {
		return Fund{}, fmt.Errorf("%w: float must be positive", ErrValidation)
	}
	currency := input.Currency
	if currency == "" {
		currency = s.currency
	}
	f := Fund{Name: strings.TrimSpace(input.Name), CustodianID: input.CustodianID, Currency: strings.ToUpper(currency), FloatAmount: float, Balance: float}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateFund(ctx, f)
		if err != nil {
			return err
		}
		f.ID = id
		return tx.RecordAudit(ctx, s.auditLog(actor, "FUND_CREATE", "petty_cash_fund", id, map[string]any{"float": float.StringFixed(ledger.MoneyPlaces)}))
	})
	if err != nil {
		return Fund{}, err
	}
	return f, nil
}

// GetFund returns a fund.
func (s *Service) GetFund(ctx context.Context, id int64) (Fund, error) {
	return s.repo.GetFund(ctx, id)
}

// CreateReport drafts an expense report against a fund.
func (s *Service) CreateReport(ctx context.Context, actor workflow.Actor, input CreateReportInput) (ExpenseReport, error) {
	fund, err := s.repo.GetFund(ctx, input.FundID)
	if err != nil {
		return ExpenseReport{}, err
	}
	lines := make([]ledger.Line, 0, len(input.Lines))
	for _, l := range input.Lines {
		if strings.TrimSpace(l.Category) == "" || !l.Amount.IsPositive() {
			return ExpenseReport{}, fmt.Errorf("%w: line needs category and positive amount", ErrValidation)
		}
		lines = append(lines, ledger.Line{Quantity: decimal.NewFromInt(1), UnitPrice: l.Amount})
	}
	amounts, err := ledger.Summarize(lines, decimal.Zero)
	if err != nil {
		return ExpenseReport{}, err
	}
	number := strings.TrimSpace(input.Number)
	if number == "" {
		number = fmt.Sprintf("EXP-%d", s.now().UnixNano())
	}
	report := ExpenseReport{
		Number:     number,
		FundID:     fund.ID,
		EmployeeID: actor.ID,
		Status:     ReportDraft,
		Purpose:    strings.TrimSpace(input.Purpose),
		Total:      amounts.Total,
		CreatedBy:  actor.ID,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateReport(ctx, report)
		if err != nil {
			return err
		}
		report.ID = id
		for _, l := range input.Lines {
			spent := l.SpentOn
			if spent.IsZero() {
				spent = s.now().UTC()
			}
			line := ExpenseLine{ReportID: id, Category: strings.TrimSpace(l.Category), Description: l.Description, SpentOn: spent, Amount: ledger.Money(l.Amount)}
			if err := tx.InsertLine(ctx, line); err != nil {
				return err
			}
			report.Lines = append(report.Lines, line)
		}
		return tx.RecordAudit(ctx, s.auditLog(actor, "EXPENSE_CREATE", "expense_report", id, map[string]any{"total": report.Total.StringFixed(ledger.MoneyPlaces)}))
	})
	if err != nil {
		return ExpenseReport{}, err
	}
	return report, nil
}

// GetReport returns an expense report with lines.
func (s *Service) GetReport(ctx context.Context, id int64) (ExpenseReport, error) {
	return s.repo.GetReport(ctx, id)
}

// Transition moves an expense report. Reimbursement deducts the report total
// from the fund in the same transaction, holding the fund lock.
func (s *Service) Transition(ctx context.Context, id int64, actor workflow.Actor, action workflow.Action, reason string) (ExpenseReport, error) {
	report, err := s.repo.GetReport(ctx, id)
	if err != nil {
		return ExpenseReport{}, err
	}
	fundID := report.FundID
	if action == workflow.ActionReimburse {
		release, err := s.lock(ctx, fundID)
		if err != nil {
			return ExpenseReport{}, err
		}
		defer release()
	}
	req := workflow.Request{DocType: DocType, DocID: id, Action: action, Actor: actor, Reason: reason}
	load := func(ctx context.Context, req *workflow.Request) error {
		current, err := s.repo.GetReport(ctx, id)
		if err != nil {
			return err
		}
		report = current
		fund, err := s.repo.GetFund(ctx, fundID)
		if err != nil {
			return err
		}
		req.Number = report.Number
		req.From = state(report.Status)
		req.Subject = ReportSubject{Report: report, FundBalance: fund.Balance}
		req.Meta = map[string]any{"amount": report.Total.StringFixed(ledger.MoneyPlaces), "currency": fund.Currency}
		return nil
	}
	_, err = s.engine.Execute(ctx, req, load, func(ctx context.Context, step workflow.Step) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if err := tx.UpdateReportStatus(ctx, id, ReportStatus(step.From), ReportStatus(step.To)); err != nil {
				return err
			}
			if step.Action == workflow.ActionReimburse {
				if err := tx.DeductFund(ctx, fundID, report.Total); err != nil {
					return err
				}
				if err := tx.SetReimbursed(ctx, id, step.At); err != nil {
					return err
				}
			}
			return tx.InsertTransition(ctx, step)
		})
	})
	if err != nil {
		return ExpenseReport{}, err
	}
	return s.repo.GetReport(ctx, id)
}

// AvailableActions lists the actions actor may attempt on the report.
func (s *Service) AvailableActions(ctx context.Context, id int64, actor workflow.Actor) ([]workflow.Action, error) {
	report, err := s.repo.GetReport(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.engine.Available(DocType, state(report.Status), actor)
}

// History returns the transition trail of the report.
func (s *Service) History(ctx context.Context, id int64) ([]audit.Entry, error) {
	if _, err := s.repo.GetReport(ctx, id); err != nil {
		return nil, err
	}
	return s.history.History(ctx, DocType, id)
}

// Replenish restores the fund balance, never above its float.
func (s *Service) Replenish(ctx context.Context, actor workflow.Actor, fundID int64, input ReplenishInput) (Fund, error) {
	amount := ledger.Money(input.Amount)
	if amount.IsNegative() {
		return Fund{}, ledger.ErrNegativeAmount
	}
	release, err := s.lock(ctx, fundID)
	if err != nil {
		return Fund{}, err
	}
	defer release()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		fund, err := tx.LockFund(ctx, fundID)
		if err != nil {
			return err
		}
		gap := fund.FloatAmount.Sub(fund.Balance)
		if amount.IsZero() {
			amount = gap
		}
		if !amount.IsPositive() {
			return fmt.Errorf("%w: fund already at float", ErrAboveFloat)
		}
		if amount.GreaterThan(gap) {
			return fmt.Errorf("%w: %s above gap %s", ErrAboveFloat, amount.StringFixed(ledger.MoneyPlaces), gap.StringFixed(ledger.MoneyPlaces))
		}
		if err := tx.AddFund(ctx, fundID, amount); err != nil {
			return err
		}
		if _, err := tx.InsertReplenishment(ctx, Replenishment{FundID: fundID, Amount: amount, CreatedBy: actor.ID, CreatedAt: s.now().UTC()}); err != nil {
			return err
		}
		return tx.RecordAudit(ctx, s.auditLog(actor, "FUND_REPLENISH", "petty_cash_fund", fundID, map[string]any{"amount": amount.StringFixed(ledger.MoneyPlaces)}))
	})
	if err != nil {
		return Fund{}, err
	}
	s.logger.Info("petty cash replenished", slog.Int64("fund_id", fundID), slog.String("amount", amount.String()), slog.Int64("actor_id", actor.ID))
	return s.repo.GetFund(ctx, fundID)
}

func (s *Service) auditLog(actor workflow.Actor, action, entity string, id int64, meta map[string]any) audit.Log {
	return audit.Log{ActorID: actor.ID, Action: action, Entity: entity, EntityID: strconv.FormatInt(id, 10), Meta: meta, At: s.now().UTC()}
}

func (s *Service) lock(ctx context.Context, fundID int64) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	return s.locker.Acquire(ctx, workflow.LockKey(FundLockType, fundID), s.lockTTL)
}
