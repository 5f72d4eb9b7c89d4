package afe

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wellhead-erp/wellhead/internal/platform/httpx"
	"github.com/wellhead-erp/wellhead/internal/workflow"
	"github.com/wellhead-erp/wellhead/internal/workflow/workflowhttp"
)

// Handler exposes AFE endpoints.
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

// MountRoutes registers AFE routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Get("/{id}/supplements", h.listSupplements)
	r.Post("/{id}/supplements", h.addSupplement)
	r.Post("/{id}/commitments", h.amount(h.service.Commit))
	r.Post("/{id}/releases", h.amount(h.service.Release))
	r.Post("/{id}/actuals", h.amount(h.service.RecordActual))
	workflowhttp.MountDocument[AFE](r, h.service, h.logger)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, ok := workflowhttp.Actor(w, r, h.logger)
	if !ok {
		return
	}
	var input CreateInput
	if err := httpx.Bind(r, &input); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	release, ok := workflowhttp.ClaimKey(w, r, h.logger, h.idempotency, "afe")
	if !ok {
		return
	}
	a, err := h.service.CreateDraft(r.Context(), actor, input)
	if err != nil {
		release()
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, a)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := workflowhttp.IDParam(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	a, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, a)
}

func (h *Handler) listSupplements(w http.ResponseWriter, r *http.Request) {
	id, err := workflowhttp.IDParam(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	items, err := h.service.Supplements(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if items == nil {
		items = []Supplement{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"supplements": items})
}

func (h *Handler) addSupplement(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := workflowhttp.Target(w, r, h.logger)
	if !ok {
		return
	}
	var input SupplementInput
	if err := httpx.Bind(r, &input); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	a, err := h.service.AddSupplement(r.Context(), actor, id, input)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, a)
}

type amountFunc func(ctx context.Context, actor workflow.Actor, id int64, input AmountInput) (AFE, error)

func (h *Handler) amount(fn amountFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, actor, ok := workflowhttp.Target(w, r, h.logger)
		if !ok {
			return
		}
		var input AmountInput
		if err := httpx.Bind(r, &input); err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
		a, err := fn(r.Context(), actor, id, input)
		if err != nil {
			httpx.RespondError(w, h.logger, err)
			return
		}
		httpx.JSON(w, http.StatusOK, a)
	}
}
