package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wellhead-erp/wellhead/internal/afe"
	"github.com/wellhead-erp/wellhead/internal/audit"
	"github.com/wellhead-erp/wellhead/internal/contractor"
	"github.com/wellhead-erp/wellhead/internal/crm"
	"github.com/wellhead-erp/wellhead/internal/fleet"
	"github.com/wellhead-erp/wellhead/internal/hse"
	"github.com/wellhead-erp/wellhead/internal/inventory"
	"github.com/wellhead-erp/wellhead/internal/pettycash"
	"github.com/wellhead-erp/wellhead/internal/procurement"
	"github.com/wellhead-erp/wellhead/internal/shared"
	"github.com/wellhead-erp/wellhead/internal/workflow"
)

// Definitions lists every governed document lifecycle.
func Definitions() []workflow.Definition {
	return []workflow.Definition{
		procurement.Definition(),
		afe.Definition(),
		contractor.ValuationDefinition(),
		contractor.InvoiceDefinition(),
		pettycash.Definition(),
		crm.Definition(),
		hse.PermitDefinition(),
		hse.InspectionDefinition(),
		fleet.Definition(),
		inventory.Definition(),
	}
}

// Deps carries the infrastructure the services are built on.
type Deps struct {
	Config     *Config
	Logger     *slog.Logger
	Pool       *pgxpool.Pool
	Locker     workflow.Locker
	Notifiers  []workflow.Notifier
	Registerer prometheus.Registerer
}

// Services groups the engine and every document service.
type Services struct {
	Registry    *workflow.Registry
	Engine      *workflow.Engine
	Trail       *audit.Trail
	Idempotency *shared.IdempotencyStore

	Procurement *procurement.Service
	AFE         *afe.Service
	Contractor  *contractor.Service
	PettyCash   *pettycash.Service
	CRM         *crm.Service
	Permits     *hse.PermitService
	Inspections *hse.InspectionService
	Fleet       *fleet.Service
	Inventory   *inventory.Service
}

// NewServices registers every lifecycle and wires the document services
// against one engine.
func NewServices(deps Deps) (*Services, error) {
	cfg := deps.Config
	if cfg == nil {
		cfg = &Config{DefaultCurrency: "USD"}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := workflow.NewRegistry()
	for _, def := range Definitions() {
		if err := registry.Register(def); err != nil {
			return nil, err
		}
	}
	trail := audit.NewTrail(audit.NewRepository(deps.Pool))
	engine := workflow.NewEngine(registry, workflow.Options{
		History:   trail,
		Locker:    deps.Locker,
		LockTTL:   cfg.WorkflowLockTTL,
		Notifiers: deps.Notifiers,
		Metrics:   workflow.NewMetrics(deps.Registerer),
		Logger:    logger,
	})

	currency := cfg.DefaultCurrency
	tolerance := cfg.AFEOverrunTolerancePct
	return &Services{
		Registry:    registry,
		Engine:      engine,
		Trail:       trail,
		Idempotency: shared.NewIdempotencyStore(deps.Pool),
		Procurement: procurement.NewService(procurement.NewRepository(deps.Pool), engine, trail, procurement.Options{
			TolerancePct: tolerance, Currency: currency, Locker: deps.Locker, LockTTL: cfg.WorkflowLockTTL, Logger: logger,
		}),
		AFE: afe.NewService(afe.NewRepository(deps.Pool), engine, trail, afe.Options{
			TolerancePct: tolerance, Currency: currency, Locker: deps.Locker, LockTTL: cfg.WorkflowLockTTL, Logger: logger,
		}),
		Contractor: contractor.NewService(contractor.NewRepository(deps.Pool), engine, trail, contractor.Options{
			Currency: currency, Locker: deps.Locker, LockTTL: cfg.WorkflowLockTTL, Logger: logger,
		}),
		PettyCash: pettycash.NewService(pettycash.NewRepository(deps.Pool), engine, trail, pettycash.Options{
			Currency: currency, Locker: deps.Locker, LockTTL: cfg.WorkflowLockTTL, Logger: logger,
		}),
		CRM:         crm.NewService(crm.NewRepository(deps.Pool), engine, trail, crm.Options{Currency: currency, Logger: logger}),
		Permits:     hse.NewPermitService(hse.NewRepository(deps.Pool), engine, trail, hse.Options{Logger: logger}),
		Inspections: hse.NewInspectionService(hse.NewRepository(deps.Pool), engine, trail, hse.Options{Logger: logger}),
		Fleet:       fleet.NewService(fleet.NewRepository(deps.Pool), engine, trail, fleet.Options{Currency: currency, Logger: logger}),
		Inventory:   inventory.NewService(inventory.NewRepository(deps.Pool), engine, trail, inventory.ServiceConfig{Logger: logger}),
	}, nil
}
