package contractor

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wellhead-erp/wellhead/internal/platform/httpx"
	"github.com/wellhead-erp/wellhead/internal/workflow/workflowhttp"
)

// Handler exposes contract, valuation and contractor invoice endpoints.
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

// MountContracts registers /contracts routes.
func (h *Handler) MountContracts(r chi.Router) {
	r.Post("/", h.createContract)
	r.Get("/{id}", h.getContract)
}

// MountValuations registers /valuations routes.
func (h *Handler) MountValuations(r chi.Router) {
	r.Post("/", h.createValuation)
	r.Get("/{id}", h.getValuation)
	workflowhttp.MountDocument[Valuation](r, h.service.Valuations(), h.logger)
}

// MountInvoices registers /contractor-invoices routes.
func (h *Handler) MountInvoices(r chi.Router) {
	r.Post("/", h.createInvoice)
	r.Get("/{id}", h.getInvoice)
	r.Get("/{id}/payments", h.listPayments)
	r.Post("/{id}/payments", h.registerPayment)
	workflowhttp.MountDocument[Invoice](r, h.service.Invoices(), h.logger)
}

func (h *Handler) createContract(w http.ResponseWriter, r *http.Request) {
	actor, ok := workflowhttp.Actor(w, r, h.logger)
	if !ok {
		return
	}
	var input CreateContractInput
	if err := httpx.Bind(r, &input); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	release, ok := workflowhttp.ClaimKey(w, r, h.logger, h.idempotency, "contractor.contract")
	if !ok {
		return
	}
	c, err := h.service.CreateContract(r.Context(), actor, input)
	if err != nil {
		release()
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, c)
}

func (h *Handler) getContract(w http.ResponseWriter, r *http.Request) {
	id, err := workflowhttp.IDParam(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	c, err := h.service.GetContract(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) createValuation(w http.ResponseWriter, r *http.Request) {
	actor, ok := workflowhttp.Actor(w, r, h.logger)
	if !ok {
		return
	}
	var input CreateValuationInput
	if err := httpx.Bind(r, &input); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	release, ok := workflowhttp.ClaimKey(w, r, h.logger, h.idempotency, "contractor.valuation")
	if !ok {
		return
	}
	v, err := h.service.CreateValuation(r.Context(), actor, input)
	if err != nil {
		release()
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, v)
}

func (h *Handler) getValuation(w http.ResponseWriter, r *http.Request) {
	id, err := workflowhttp.IDParam(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	v, err := h.service.GetValuation(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, v)
}

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	actor, ok := workflowhttp.Actor(w, r, h.logger)
	if !ok {
		return
	}
	var input CreateInvoiceInput
	if err := httpx.Bind(r, &input); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	release, ok := workflowhttp.ClaimKey(w, r, h.logger, h.idempotency, "contractor.invoice")
	if !ok {
		return
	}
	inv, err := h.service.CreateInvoice(r.Context(), actor, input)
	if err != nil {
		release()
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := workflowhttp.IDParam(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	inv, err := h.service.GetInvoice(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	id, err := workflowhttp.IDParam(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	payments, err := h.service.Payments(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if payments == nil {
		payments = []Payment{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"payments": payments})
}

func (h *Handler) registerPayment(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := workflowhttp.Target(w, r, h.logger)
	if !ok {
		return
	}
	var input PaymentInput
	if err := httpx.Bind(r, &input); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	inv, err := h.service.RegisterPayment(r.Context(), actor, id, input)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}
