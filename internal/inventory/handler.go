package inventory

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wellhead-erp/wellhead/internal/platform/httpx"
	"github.com/wellhead-erp/wellhead/internal/workflow/workflowhttp"
)

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	idempotency workflowhttp.Idempotency
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service, idempotency workflowhttp.Idempotency) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, idempotency: idempotency}
}

// MountRoutes registers /inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/stock-card", h.handleStockCard)
	r.Route("/movements", func(r chi.Router) {
		r.Post("/", h.createMovement)
		r.Get("/{id}", h.getMovement)
		workflowhttp.MountDocument[Movement](r, h.service, h.logger)
	})
}

func (h *Handler) handleStockCard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	fields := map[string]string{}
	filter := StockCardFilter{Limit: 500}
	var err error
	if filter.WarehouseID, err = strconv.ParseInt(q.Get("warehouse_id"), 10, 64); err != nil || filter.WarehouseID <= 0 {
		fields["warehouse_id"] = "must be a positive integer"
	}
	if filter.ProductID, err = strconv.ParseInt(q.Get("product_id"), 10, 64); err != nil || filter.ProductID <= 0 {
		fields["product_id"] = "must be a positive integer"
	}
	if from := q.Get("from"); from != "" {
		if filter.From, err = time.Parse("2006-01-02", from); err != nil {
			fields["from"] = "must be YYYY-MM-DD"
		}
	}
	if to := q.Get("to"); to != "" {
		if filter.To, err = time.Parse("2006-01-02", to); err != nil {
			fields["to"] = "must be YYYY-MM-DD"
		} else {
			// Set to end of day
			filter.To = filter.To.Add(24*time.Hour - time.Nanosecond)
		}
	}
	if len(fields) > 0 {
		httpx.RespondError(w, h.logger, &httpx.ValidationError{Fields: fields})
		return
	}
	entries, err := h.service.GetStockCard(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if entries == nil {
		entries = []StockCardEntry{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) createMovement(w http.ResponseWriter, r *http.Request) {
	actor, ok := workflowhttp.Actor(w, r, h.logger)
	if !ok {
		return
	}
	var input CreateMovementInput
	if err := httpx.Bind(r, &input); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	release, ok := workflowhttp.ClaimKey(w, r, h.logger, h.idempotency, "inventory")
	if !ok {
		return
	}
	m, err := h.service.CreateDraft(r.Context(), actor, input)
	if err != nil {
		release()
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, m)
}

func (h *Handler) getMovement(w http.ResponseWriter, r *http.Request) {
	id, err := workflowhttp.IDParam(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	m, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}
