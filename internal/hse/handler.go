package hse

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/wellhead-erp/wellhead/internal/platform/httpx"
	"github.com/wellhead-erp/wellhead/internal/workflow/workflowhttp"
)

// Handler exposes work permit and inspection endpoints.
type Handler struct {
	logger      *slog.Logger
	permits     *PermitService
	inspections *InspectionService
	idempotency workflowhttp.Idempotency
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, permits *PermitService, inspections *InspectionService, idempotency workflowhttp.Idempotency) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, permits: permits, inspections: inspections, idempotency: idempotency}
}

// MountPermits registers /work-permits routes.
func (h *Handler) MountPermits(r chi.Router) {
	r.Post("/", h.createPermit)
	r.Get("/{id}", h.getPermit)
	r.Post("/{id}/gas-tests", h.recordGasTest)
	workflowhttp.MountDocument[WorkPermit](r, h.permits, h.logger)
}

// MountInspections registers /inspections routes.
func (h *Handler) MountInspections(r chi.Router) {
	r.Post("/", h.schedule)
	r.Get("/{id}", h.getInspection)
	r.Post("/{id}/findings", h.addFinding)
	r.Post("/{id}/findings/{findingID}/resolve", h.resolveFinding)
	workflowhttp.MountDocument[Inspection](r, h.inspections, h.logger)
}

func (h *Handler) createPermit(w http.ResponseWriter, r *http.Request) {
	actor, ok := workflowhttp.Actor(w, r, h.logger)
	if !ok {
		return
	}
	var input CreatePermitInput
	if err := httpx.Bind(r, &input); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	release, ok := workflowhttp.ClaimKey(w, r, h.logger, h.idempotency, "hse.permit")
	if !ok {
		return
	}
	p, err := h.permits.CreateDraft(r.Context(), actor, input)
	if err != nil {
		release()
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

func (h *Handler) getPermit(w http.ResponseWriter, r *http.Request) {
	id, err := workflowhttp.IDParam(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	p, err := h.permits.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) recordGasTest(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := workflowhttp.Target(w, r, h.logger)
	if !ok {
		return
	}
	var input GasTestInput
	if err := httpx.Bind(r, &input); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	g, err := h.permits.RecordGasTest(r.Context(), actor, id, input)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, g)
}

func (h *Handler) schedule(w http.ResponseWriter, r *http.Request) {
	actor, ok := workflowhttp.Actor(w, r, h.logger)
	if !ok {
		return
	}
	var input ScheduleInput
	if err := httpx.Bind(r, &input); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	release, ok := workflowhttp.ClaimKey(w, r, h.logger, h.idempotency, "hse.inspection")
	if !ok {
		return
	}
	in, err := h.inspections.Schedule(r.Context(), actor, input)
	if err != nil {
		release()
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, in)
}

func (h *Handler) getInspection(w http.ResponseWriter, r *http.Request) {
	id, err := workflowhttp.IDParam(r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	in, err := h.inspections.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, in)
}

func (h *Handler) addFinding(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := workflowhttp.Target(w, r, h.logger)
	if !ok {
		return
	}
	var input FindingInput
	if err := httpx.Bind(r, &input); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	f, err := h.inspections.AddFinding(r.Context(), actor, id, input)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, f)
}

func (h *Handler) resolveFinding(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := workflowhttp.Target(w, r, h.logger)
	if !ok {
		return
	}
	findingID, err := strconv.ParseInt(chi.URLParam(r, "findingID"), 10, 64)
	if err != nil || findingID <= 0 {
		httpx.RespondError(w, h.logger, &httpx.ValidationError{Fields: map[string]string{"findingID": "must be a positive integer"}})
		return
	}
	var input ResolveInput
	if err := httpx.Bind(r, &input); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	in, err := h.inspections.ResolveFinding(r.Context(), actor, id, findingID, input)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, in)
}
