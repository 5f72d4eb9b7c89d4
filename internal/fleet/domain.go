package fleet

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wellhead-erp/wellhead/internal/shared"
	"github.com/wellhead-erp/wellhead/internal/workflow"
)

const (
	// DocType identifies fuel logs.
	DocType workflow.DocType = "FUEL_LOG"
	// RoleSupervisor approves fuel logs.
	RoleSupervisor workflow.Role = "FLEET_SUPERVISOR"
)

// Vehicle is a fleet unit. Odometer is the last approved reading.
type Vehicle struct {
	ID          int64           `json:"id"`
	Plate       string          `json:"plate"`
	Description string          `json:"description"`
	OdometerKm  decimal.Decimal `json:"odometer_km"`
}

// FuelLogStatus is the lifecycle status of a fuel log.
type FuelLogStatus string

const (
	FuelLogDraft     FuelLogStatus = "DRAFT"
	FuelLogSubmitted FuelLogStatus = "SUBMITTED"
	FuelLogApproved  FuelLogStatus = "APPROVED"
	FuelLogRejected  FuelLogStatus = "REJECTED"
)

// FuelLog records one refuelling of a vehicle.
type FuelLog struct {
	ID            int64           `json:"id"`
	Number        string          `json:"number"`
	VehicleID     int64           `json:"vehicle_id"`
	DriverID      int64           `json:"driver_id"`
	Status        FuelLogStatus   `json:"status"`
	FilledAt      time.Time       `json:"filled_at"`
	Station       string          `json:"station"`
	Litres        decimal.Decimal `json:"litres"`
	PricePerLitre decimal.Decimal `json:"price_per_litre"`
	Cost          decimal.Decimal `json:"cost"`
	Currency      string          `json:"currency"`
	OdometerKm    decimal.Decimal `json:"odometer_km"`
	ApprovedBy    int64           `json:"approved_by,omitempty"`
	ApprovedAt    *time.Time      `json:"approved_at,omitempty"`
}

var (
	// ErrVehicleNotFound indicates a missing vehicle.
	ErrVehicleNotFound = fmt.Errorf("vehicle %w", shared.ErrNotFound)
	// ErrNotFound indicates a missing fuel log.
	ErrNotFound = fmt.Errorf("fuel log %w", shared.ErrNotFound)
	// ErrValidation indicates invalid payload.
	ErrValidation = fmt.Errorf("fleet: %w", shared.ErrValidation)
	// ErrOdometerRegression rejects a reading not above the last approved one.
	ErrOdometerRegression = fmt.Errorf("odometer must exceed last approved reading: %w", shared.ErrRuleViolation)
)
