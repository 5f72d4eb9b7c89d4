package audithttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/wellhead-erp/wellhead/internal/audit"
)

type stubTimelineService struct {
	result      audit.Result
	lastFilters audit.TimelineFilters
}

func (s *stubTimelineService) Timeline(_ context.Context, filters audit.TimelineFilters) (audit.Result, error) {
	s.lastFilters = filters
	return s.result, nil
}

func newTestRouter(service *stubTimelineService) http.Handler {
	h := NewHandler(nil, service)
	h.now = func() time.Time { return time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC) }
	r := chi.NewRouter()
	h.MountRoutes(r)
	return r
}

func TestTimelineDefaults(t *testing.T) {
	service := &stubTimelineService{result: audit.Result{Rows: []audit.Entry{{ID: 1, DocType: "PO", DocID: 3}}, Paging: audit.PagingInfo{Page: 1, PageSize: 20}}}
	rec := httptest.NewRecorder()
	newTestRouter(service).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit/timeline?doc_type=po&actor_id=7", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC), service.lastFilters.To)
	require.Equal(t, time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC), service.lastFilters.From)
	require.Equal(t, "PO", string(service.lastFilters.DocType))
	require.Equal(t, int64(7), service.lastFilters.ActorID)

	var body audit.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Rows, 1)
}

func TestTimelineRejectsBadFilters(t *testing.T) {
	for _, query := range []string{
		"?from=2025-13-01",
		"?page=0",
		"?actor_id=x",
		"?from=2024-01-01&to=2025-01-01",
		"?from=2025-03-10&to=2025-03-01",
	} {
		service := &stubTimelineService{}
		rec := httptest.NewRecorder()
		newTestRouter(service).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit/timeline"+query, nil))
		require.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
}
