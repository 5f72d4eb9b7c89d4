package crm

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wellhead-erp/wellhead/internal/platform/httpx"
	"github.com/wellhead-erp/wellhead/internal/workflow/workflowhttp"
)

// Handler exposes quote endpoints.
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

// MountRoutes registers /quotes routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	workflowhttp.MountDocument[Quote](r, h.service, h.logger)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, ok := workflowhttp.Actor(w, r, h.logger)
	if !ok {
		return
	}
	var input CreateQuoteInput
	if err := httpx.Bind(r, &input); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	release, ok := workflowhttp.ClaimKey(w, r, h.logger, h.idempotency, "crm.quote")
	if !ok {
		return
	}
	q, err := h.service.CreateDraft(r.Context(), actor, input)
	if err != nil {
		release()
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, q)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := workflowhttp.IDParam(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	q, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, q)
}
