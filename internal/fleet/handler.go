package fleet

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wellhead-erp/wellhead/internal/platform/httpx"
	"github.com/wellhead-erp/wellhead/internal/workflow/workflowhttp"
)

// Handler exposes vehicle and fuel log endpoints.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	idempotency workflowhttp.Idempotency
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, idempotency workflowhttp.Idempotency) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, idempotency: idempotency}
}

// MountVehicles registers /vehicles routes.
func (h *Handler) MountVehicles(r chi.Router) {
	r.Post("/", h.createVehicle)
	r.Get("/{id}", h.getVehicle)
}

// MountFuelLogs registers /fuel-logs routes.
func (h *Handler) MountFuelLogs(r chi.Router) {
	r.Post("/", h.createFuelLog)
	r.Get("/{id}", h.getFuelLog)
	workflowhttp.MountDocument[FuelLog](r, h.service, h.logger)
}

func (h *Handler) createVehicle(w http.ResponseWriter, r *http.Request) {
	actor, ok := workflowhttp.Actor(w, r, h.logger)
	if !ok {
		return
	}
	var input CreateVehicleInput
	if err := httpx.Bind(r, &input); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	v, err := h.service.CreateVehicle(r.Context(), actor, input)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, v)
}

func (h *Handler) getVehicle(w http.ResponseWriter, r *http.Request) {
	id, err := workflowhttp.IDParam(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	v, err := h.service.GetVehicle(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, v)
}

func (h *Handler) createFuelLog(w http.ResponseWriter, r *http.Request) {
	actor, ok := workflowhttp.Actor(w, r, h.logger)
	if !ok {
		return
	}
	var input CreateFuelLogInput
	if err := httpx.Bind(r, &input); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	release, ok := workflowhttp.ClaimKey(w, r, h.logger, h.idempotency, "fleet.fuel_log")
	if !ok {
		return
	}
	l, err := h.service.CreateDraft(r.Context(), actor, input)
	if err != nil {
		release()
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, l)
}

func (h *Handler) getFuelLog(w http.ResponseWriter, r *http.Request) {
	id, err := workflowhttp.IDParam(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	l, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, l)
}
