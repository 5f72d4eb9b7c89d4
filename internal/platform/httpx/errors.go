package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/wellhead-erp/wellhead/internal/ledger"
	"github.com/wellhead-erp/wellhead/internal/shared"
	"github.com/wellhead-erp/wellhead/internal/workflow"
)

var unprocessable = []error{
	shared.ErrRuleViolation,
	workflow.ErrReasonRequired,
	workflow.ErrGuardFailed,
	ledger.ErrExceedsTotal,
	ledger.ErrNegativeAmount,
	ledger.ErrInvalidPercentage,
	ledger.ErrNoLines,
	ledger.ErrProgressRegression,
	ledger.ErrProgressOverflow,
	ledger.ErrProgressMismatch,
	ledger.ErrBudgetExceeded,
	ledger.ErrNegativeStock,
	ledger.ErrSameWarehouse,
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		writeProblem(w, ProblemDetail{Title: "Validation Failed", Status: http.StatusBadRequest, Fields: verr.Fields})
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrActorMissing):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	case errors.Is(err, shared.ErrNotFound), errors.Is(err, workflow.ErrUnknownDocType):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, workflow.ErrForbidden), errors.Is(err, workflow.ErrSegregationOfDuties):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, workflow.ErrLocked):
		Problem(w, http.StatusLocked, "Locked", err.Error())
	case errors.Is(err, workflow.ErrInvalidTransition), errors.Is(err, workflow.ErrStaleState), errors.Is(err, workflow.ErrInvalidState):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case isUnprocessable(err):
		Problem(w, http.StatusUnprocessableEntity, "Unprocessable", err.Error())
	default:
		if logger == nil {
			logger = slog.Default()
		}
		logger.Error("request failed", slog.Any("error", err))
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func isUnprocessable(err error) bool {
	for _, target := range unprocessable {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
