package shared

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/wellhead-erp/wellhead/internal/workflow"
)

const (
	// HeaderActorID carries the authenticated user id set by the gateway.
	HeaderActorID = "X-Actor-ID"
	// HeaderActorRoles carries a comma separated role list.
	HeaderActorRoles = "X-Actor-Roles"
	// HeaderIdempotencyKey deduplicates create requests.
	HeaderIdempotencyKey = "Idempotency-Key"
)

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor workflow.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (workflow.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(workflow.Actor)
	return actor, ok
}

// ActorFromRequest parses the gateway headers. The system role can never be
// claimed through headers.
func ActorFromRequest(r *http.Request) (workflow.Actor, error) {
	raw := strings.TrimSpace(r.Header.Get(HeaderActorID))
	if raw == "" {
		return workflow.Actor{}, ErrActorMissing
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return workflow.Actor{}, ErrActorMissing
	}
	actor := workflow.Actor{ID: id}
	for _, part := range strings.Split(r.Header.Get(HeaderActorRoles), ",") {
		role := workflow.Role(strings.ToUpper(strings.TrimSpace(part)))
		if role == "" || role == workflow.RoleSystem {
			continue
		}
		actor.Roles = append(actor.Roles, role)
	}
	return actor, nil
}

// ErrActorMissing indicates a request without a valid actor header.
var ErrActorMissing = errors.New("shared: actor header missing or invalid")
