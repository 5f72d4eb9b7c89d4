package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wellhead-erp/wellhead/internal/observability"
	"github.com/wellhead-erp/wellhead/internal/workflow"
	"github.com/wellhead-erp/wellhead/jobs"
)

func newTestRouter(t *testing.T, perMinute int) http.Handler {
	t.Helper()
	registry := workflow.NewRegistry()
	for _, def := range Definitions() {
		require.NoError(t, registry.Register(def))
	}
	return NewRouter(RouterParams{
		Config:     &Config{RateLimitPerMinute: perMinute},
		Registry:   registry,
		Metrics:    observability.NewMetrics(),
		JobHandler: jobs.NewHandler(nil, nil),
	})
}

func serve(h http.Handler, method, target string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthAndMetricsNeedNoActor(t *testing.T) {
	router := newTestRouter(t, 10)

	rr := serve(router, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	require.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))

	rr = serve(router, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "wellhead_http_requests_total")
}

func TestWorkflowRoutesRequireActor(t *testing.T) {
	router := newTestRouter(t, 10)

	rr := serve(router, http.MethodGet, "/workflow/definitions", nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = serve(router, http.MethodGet, "/workflow/definitions", map[string]string{"X-Actor-ID": "7"})
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Definitions []struct {
			DocType string `json:"doc_type"`
		} `json:"definitions"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Definitions, len(Definitions()))

	rr = serve(router, http.MethodGet, "/jobs/health", map[string]string{"X-Actor-ID": "7"})
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestWriteRateLimitSkipsReads(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	handler := ActorMiddleware(nil)(WriteRateLimit(1)(ok))
	actor := map[string]string{"X-Actor-ID": "9"}

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusNoContent, serve(handler, http.MethodGet, "/", actor).Code)
	}
	require.Equal(t, http.StatusNoContent, serve(handler, http.MethodPost, "/", actor).Code)
	require.Equal(t, http.StatusTooManyRequests, serve(handler, http.MethodPost, "/", actor).Code)
	require.Equal(t, http.StatusNoContent, serve(handler, http.MethodPost, "/", map[string]string{"X-Actor-ID": "10"}).Code)
}

func TestDefinitionsRegisterCleanly(t *testing.T) {
	registry := workflow.NewRegistry()
	for _, def := range Definitions() {
		require.NoError(t, registry.Register(def))
	}
	require.Len(t, registry.DocTypes(), len(Definitions()))
}
