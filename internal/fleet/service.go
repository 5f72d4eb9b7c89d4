package fleet

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
	GetVehicle(ctx context.Context, id int64) (Vehicle, error)
	GetFuelLog(ctx context.Context, id int64) (FuelLog, error)
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

// Service manages vehicles and fuel logs.
type Service struct {
	repo     RepositoryPort
	engine   *workflow.Engine
	history  HistoryPort
	currency string
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs the fleet service.
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

// CreateVehicleInput registers a vehicle.
type CreateVehicleInput struct {
	Plate       string          `json:"plate" validate:"required,max=20"`
	Description string          `json:"description" validate:"max=200"`
	OdometerKm  decimal.Decimal `json:"odometer_km"`
}

// CreateFuelLogInput drafts a fuel log.
type CreateFuelLogInput struct {
	Number        string          `json:"number" validate:"omitempty,max=64"`
	VehicleID     int64           `json:"vehicle_id" validate:"required,gt=0"`
	FilledAt      time.Time       `json:"filled_at"`
	Station       string          `json:"station" validate:"max=120"`
	Currency      string          `json:"currency" validate:"omitempty,len=3"`
	Litres        decimal.Decimal `json:"litres"`
	PricePerLitre decimal.Decimal `json:"price_per_litre"`
	OdometerKm    decimal.Decimal `json:"odometer_km"`
}

// CreateVehicle persists a vehicle.
func (s *Service) CreateVehicle(ctx context.Context, actor workflow.Actor, input CreateVehicleInput) (Vehicle, error) {
	plate := strings.ToUpper(strings.TrimSpace(input.Plate))
	if plate == "" {
		return Vehicle{}, fmt.Errorf("%w: plate required", ErrValidation)
	}
	if input.OdometerKm.IsNegative() {
		return Vehicle{}, fmt.Errorf("%w: odometer must not be negative", ErrValidation)
	}
	v := Vehicle{Plate: plate, Description: input.Description, OdometerKm: input.OdometerKm}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateVehicle(ctx, v)
		if err != nil {
			return err
		}
		v.ID = id
		return tx.RecordAudit(ctx, s.auditLog(actor, "VEHICLE_CREATE", "vehicle", id, map[string]any{"plate": plate}))
	})
	if err != nil {
		return Vehicle{}, err
	}
	return v, nil
}

// GetVehicle returns a vehicle.
func (s *Service) GetVehicle(ctx context.Context, id int64) (Vehicle, error) {
	return s.repo.GetVehicle(ctx, id)
}

// CreateDraft persists a fuel log in DRAFT. Cost is litres times price.
func (s *Service) CreateDraft(ctx context.Context, actor workflow.Actor, input CreateFuelLogInput) (FuelLog, error) {
	litres := ledger.Quantity(input.Litres)
	if !litres.IsPositive() || input.PricePerLitre.IsNegative() || !input.OdometerKm.IsPositive() {
		return FuelLog{}, fmt.Errorf("%w: litres and odometer must be positive", ErrValidation)
	}
	vehicle, err := s.repo.GetVehicle(ctx, input.VehicleID)
	if err != nil {
		return FuelLog{}, err
	}
	number := strings.TrimSpace(input.Number)
	if number == "" {
		number = fmt.Sprintf("FUEL-%d", s.now().UnixNano())
	}
	filled := input.FilledAt
	if filled.IsZero() {
		filled = s.now()
	}
	currency := input.Currency
	if currency == "" {
		currency = s.currency
	}
	log := FuelLog{
		Number:        number,
		VehicleID:     vehicle.ID,
		DriverID:      actor.ID,
		Status:        FuelLogDraft,
		FilledAt:      filled.UTC(),
		Station:       strings.TrimSpace(input.Station),
		Litres:        litres,
		PricePerLitre: input.PricePerLitre,
		Cost:          ledger.Money(litres.Mul(input.PricePerLitre)),
		Currency:      strings.ToUpper(currency),
		OdometerKm:    input.OdometerKm,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateFuelLog(ctx, log)
		if err != nil {
			return err
		}
		log.ID = id
		return tx.RecordAudit(ctx, s.auditLog(actor, "FUEL_LOG_CREATE", "fuel_log", id, map[string]any{"vehicle_id": vehicle.ID, "cost": log.Cost.StringFixed(ledger.MoneyPlaces)}))
	})
	if err != nil {
		return FuelLog{}, err
	}
	return log, nil
}

// Get returns a fuel log.
func (s *Service) Get(ctx context.Context, id int64) (FuelLog, error) {
	return s.repo.GetFuelLog(ctx, id)
}

// Transition moves a fuel log. Approval advances the vehicle odometer in the
// same transaction.
func (s *Service) Transition(ctx context.Context, id int64, actor workflow.Actor, action workflow.Action, reason string) (FuelLog, error) {
	var log FuelLog
	req := workflow.Request{DocType: DocType, DocID: id, Action: action, Actor: actor, Reason: reason}
	load := func(ctx context.Context, req *workflow.Request) error {
		var err error
		if log, err = s.repo.GetFuelLog(ctx, id); err != nil {
			return err
		}
		vehicle, err := s.repo.GetVehicle(ctx, log.VehicleID)
		if err != nil {
			return err
		}
		req.Number = log.Number
		req.From = workflow.State(log.Status)
		req.Subject = FuelLogSubject{Log: log, LastOdometer: vehicle.OdometerKm}
		req.Meta = map[string]any{
			"amount":      log.Cost.StringFixed(ledger.MoneyPlaces),
			"currency":    log.Currency,
			"distance_km": log.OdometerKm.Sub(vehicle.OdometerKm).String(),
		}
		return nil
	}
	_, err := s.engine.Execute(ctx, req, load, func(ctx context.Context, step workflow.Step) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if err := tx.UpdateStatus(ctx, log.ID, FuelLogStatus(step.From), FuelLogStatus(step.To)); err != nil {
				return err
			}
			if step.Action == workflow.ActionApprove {
				current, err := tx.LockVehicle(ctx, log.VehicleID)
				if err != nil {
					return err
				}
				if !log.OdometerKm.GreaterThan(current.OdometerKm) {
					return &workflow.GuardError{Guard: "odometer_advances", Err: fmt.Errorf("%w: %s km <= %s km", ErrOdometerRegression, log.OdometerKm.String(), current.OdometerKm.String())}
				}
				if err := tx.SetOdometer(ctx, log.VehicleID, log.OdometerKm); err != nil {
					return err
				}
				if err := tx.SetApproval(ctx, log.ID, actor.ID, step.At); err != nil {
					return err
				}
			}
			return tx.InsertTransition(ctx, step)
		})
	})
	if err != nil {
		return FuelLog{}, err
	}
	return s.repo.GetFuelLog(ctx, id)
}

// AvailableActions lists the actions actor may attempt on the fuel log.
func (s *Service) AvailableActions(ctx context.Context, id int64, actor workflow.Actor) ([]workflow.Action, error) {
	log, err := s.repo.GetFuelLog(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.engine.Available(DocType, workflow.State(log.Status), actor)
}

// History returns the transition trail of the fuel log.
func (s *Service) History(ctx context.Context, id int64) ([]audit.Entry, error) {
	if _, err := s.repo.GetFuelLog(ctx, id); err != nil {
		return nil, err
	}
	return s.history.History(ctx, DocType, id)
}

func (s *Service) auditLog(actor workflow.Actor, action, entity string, id int64, meta map[string]any) audit.Log {
	return audit.Log{ActorID: actor.ID, Action: action, Entity: entity, EntityID: strconv.FormatInt(id, 10), Meta: meta, At: s.now().UTC()}
}
