// Package workflowhttp exposes the shared transition, history and definition
// endpoints of governed documents.
package workflowhttp

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wellhead-erp/wellhead/internal/audit"
	"github.com/wellhead-erp/wellhead/internal/platform/httpx"
	"github.com/wellhead-erp/wellhead/internal/shared"
	"github.com/wellhead-erp/wellhead/internal/workflow"
)

// DocumentService is implemented by every governed document service.
type DocumentService[T any] interface {
	Transition(ctx context.Context, id int64, actor workflow.Actor, action workflow.Action, reason string) (T, error)
	History(ctx context.Context, id int64) ([]audit.Entry, error)
	AvailableActions(ctx context.Context, id int64, actor workflow.Actor) ([]workflow.Action, error)
}

// TransitionRequest is the body of POST /{id}/transitions.
type TransitionRequest struct {
	Action string `json:"action" validate:"required,max=32"`
	Reason string `json:"reason" validate:"max=500"`
}

// MountDocument registers /{id}/transitions, /{id}/history and /{id}/actions.
func MountDocument[T any](r chi.Router, svc DocumentService[T], logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	r.Post("/{id}/transitions", func(w http.ResponseWriter, r *http.Request) {
		id, actor, ok := Target(w, r, logger)
		if !ok {
			return
		}
		var req TransitionRequest
		if err := httpx.Bind(r, &req); err != nil {
			httpx.RespondError(w, logger, err)
			return
		}
		action := workflow.Action(strings.ToUpper(strings.TrimSpace(req.Action)))
		doc, err := svc.Transition(r.Context(), id, actor, action, req.Reason)
		if err != nil {
			httpx.RespondError(w, logger, err)
			return
		}
		httpx.JSON(w, http.StatusOK, doc)
	})
	r.Get("/{id}/history", func(w http.ResponseWriter, r *http.Request) {
		id, err := IDParam(r)
		if err != nil {
			httpx.RespondError(w, logger, err)
			return
		}
		entries, err := svc.History(r.Context(), id)
		if err != nil {
			httpx.RespondError(w, logger, err)
			return
		}
		if entries == nil {
			entries = []audit.Entry{}
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries})
	})
	r.Get("/{id}/actions", func(w http.ResponseWriter, r *http.Request) {
		id, actor, ok := Target(w, r, logger)
		if !ok {
			return
		}
		actions, err := svc.AvailableActions(r.Context(), id, actor)
		if err != nil {
			httpx.RespondError(w, logger, err)
			return
		}
		if actions == nil {
			actions = []workflow.Action{}
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"actions": actions})
	})
}

// IDParam parses the {id} URL parameter.
func IDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, &httpx.ValidationError{Fields: map[string]string{"id": "must be a positive integer"}}
	}
	return id, nil
}

// Target resolves the document id and the acting user, writing the problem
// response itself when either is missing.
func Target(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (int64, workflow.Actor, bool) {
	id, err := IDParam(r)
	if err != nil {
		httpx.RespondError(w, logger, err)
		return 0, workflow.Actor{}, false
	}
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, logger, shared.ErrActorMissing)
		return 0, workflow.Actor{}, false
	}
	return id, actor, true
}

// Actor returns the acting user or writes a 401 problem.
func Actor(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (workflow.Actor, bool) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, logger, shared.ErrActorMissing)
		return workflow.Actor{}, false
	}
	return actor, true
}

// Idempotency claims request keys. *shared.IdempotencyStore satisfies it.
type Idempotency interface {
	Claim(ctx context.Context, key, module string) error
	Release(ctx context.Context, key, module string) error
}

// ClaimKey claims the Idempotency-Key header for module when present. The
// returned func releases the key and must be called when processing fails.
func ClaimKey(w http.ResponseWriter, r *http.Request, logger *slog.Logger, store Idempotency, module string) (func(), bool) {
	key := strings.TrimSpace(r.Header.Get(shared.HeaderIdempotencyKey))
	if store == nil || key == "" {
		return func() {}, true
	}
	if err := store.Claim(r.Context(), key, module); err != nil {
		httpx.RespondError(w, logger, err)
		return nil, false
	}
	return func() {
		if err := store.Release(context.WithoutCancel(r.Context()), key, module); err != nil {
			logger.Warn("idempotency release", slog.String("module", module), slog.Any("error", err))
		}
	}, true
}
