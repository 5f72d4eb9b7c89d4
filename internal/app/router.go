package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/wellhead-erp/wellhead/internal/afe"
	audithttp "github.com/wellhead-erp/wellhead/internal/audit/http"
	"github.com/wellhead-erp/wellhead/internal/contractor"
	"github.com/wellhead-erp/wellhead/internal/crm"
	"github.com/wellhead-erp/wellhead/internal/fleet"
	"github.com/wellhead-erp/wellhead/internal/hse"
	"github.com/wellhead-erp/wellhead/internal/inventory"
	"github.com/wellhead-erp/wellhead/internal/observability"
	"github.com/wellhead-erp/wellhead/internal/pettycash"
	"github.com/wellhead-erp/wellhead/internal/platform/httpx"
	"github.com/wellhead-erp/wellhead/internal/procurement"
	"github.com/wellhead-erp/wellhead/internal/workflow"
	"github.com/wellhead-erp/wellhead/internal/workflow/workflowhttp"
	"github.com/wellhead-erp/wellhead/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger   *slog.Logger
	Config   *Config
	Registry *workflow.Registry
	Metrics  *observability.Metrics
	// Ready reports dependency health for /healthz. Nil means always ready.
	Ready func(r *http.Request) error

	AuditHandler       *audithttp.Handler
	ProcurementHandler *procurement.Handler
	AFEHandler         *afe.Handler
	ContractorHandler  *contractor.Handler
	PettyCashHandler   *pettycash.Handler
	CRMHandler         *crm.Handler
	HSEHandler         *hse.Handler
	FleetHandler       *fleet.Handler
	InventoryHandler   *inventory.Handler
	JobHandler         *jobs.Handler
}

// NewHandlers builds every HTTP handler over services.
func NewHandlers(logger *slog.Logger, services *Services, params RouterParams) RouterParams {
	idem := services.Idempotency
	params.Registry = services.Registry
	params.AuditHandler = audithttp.NewHandler(logger, services.Trail)
	params.ProcurementHandler = procurement.NewHandler(logger, services.Procurement, idem)
	params.AFEHandler = afe.NewHandler(logger, services.AFE, idem)
	params.ContractorHandler = contractor.NewHandler(logger, services.Contractor, idem)
	params.PettyCashHandler = pettycash.NewHandler(logger, services.PettyCash, idem)
	params.CRMHandler = crm.NewHandler(logger, services.CRM, idem)
	params.HSEHandler = hse.NewHandler(logger, services.Permits, services.Inspections, idem)
	params.FleetHandler = fleet.NewHandler(logger, services.Fleet, idem)
	params.InventoryHandler = inventory.NewHandler(logger, services.Inventory, idem)
	return params
}

// NewRouter constructs the chi.Router with the service defaults.
func NewRouter(params RouterParams) http.Handler {
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if params.Ready != nil {
			if err := params.Ready(r); err != nil {
				params.Logger.Warn("health check", slog.Any("error", err))
				httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	rateLimit := 0
	if params.Config != nil {
		rateLimit = params.Config.RateLimitPerMinute
	}

	r.Group(func(r chi.Router) {
		r.Use(chimw.Logger)
		r.Use(ActorMiddleware(params.Logger))
		r.Use(WriteRateLimit(rateLimit))

		if params.Registry != nil {
			r.Get("/workflow/definitions", workflowhttp.DefinitionsHandler(params.Registry))
		}
		params.AuditHandler.MountRoutes(r)
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}

		r.Route("/api/v1", func(r chi.Router) {
			if h := params.ProcurementHandler; h != nil {
				r.Route("/purchase-orders", h.MountRoutes)
			}
			if h := params.AFEHandler; h != nil {
				r.Route("/afes", h.MountRoutes)
			}
			if h := params.ContractorHandler; h != nil {
				r.Route("/contracts", h.MountContracts)
				r.Route("/valuations", h.MountValuations)
				r.Route("/contractor-invoices", h.MountInvoices)
			}
			if h := params.PettyCashHandler; h != nil {
				r.Route("/petty-cash", h.MountRoutes)
			}
			if h := params.CRMHandler; h != nil {
				r.Route("/quotes", h.MountRoutes)
			}
			if h := params.HSEHandler; h != nil {
				r.Route("/work-permits", h.MountPermits)
				r.Route("/inspections", h.MountInspections)
			}
			if h := params.FleetHandler; h != nil {
				r.Route("/vehicles", h.MountVehicles)
				r.Route("/fuel-logs", h.MountFuelLogs)
			}
			if h := params.InventoryHandler; h != nil {
				r.Route("/inventory", h.MountRoutes)
			}
		})
	})

	return r
}
