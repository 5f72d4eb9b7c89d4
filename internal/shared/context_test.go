package shared

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wellhead-erp/wellhead/internal/workflow"
)

func TestActorFromRequest(t *testing.T) {
	req := httptest.NewRequest("POST", "/api/v1/purchase-orders", nil)
	req.Header.Set(HeaderActorID, "42")
	req.Header.Set(HeaderActorRoles, "procurement_manager, system ,,AFE_APPROVER")

	actor, err := ActorFromRequest(req)
	require.NoError(t, err)
	require.Equal(t, int64(42), actor.ID)
	require.Equal(t, []workflow.Role{"PROCUREMENT_MANAGER", "AFE_APPROVER"}, actor.Roles)
	require.False(t, actor.IsSystem())

	ctx := ContextWithActor(context.Background(), actor)
	got, ok := ActorFromContext(ctx)
	require.True(t, ok)
	require.Equal(t, actor, got)
}

func TestActorFromRequestRejectsInvalidID(t *testing.T) {
	for _, raw := range []string{"", "abc", "0", "-3"} {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set(HeaderActorID, raw)
		_, err := ActorFromRequest(req)
		require.ErrorIs(t, err, ErrActorMissing, raw)
	}
}

func TestIdempotencyRequiresKey(t *testing.T) {
	require.Error(t, checkKey("", "po"))
	require.Error(t, checkKey("k", " "))
	require.NoError(t, checkKey("k", "po"))

	var store *IdempotencyStore
	require.Error(t, store.Claim(context.Background(), "k", "po"))
	removed, err := store.Cleanup(context.Background(), 0)
	require.NoError(t, err)
	require.Zero(t, removed)
}
