package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/joeydtaylor/steeze-applink/pkg/middleware/auth"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectUsesRoutePattern(t *testing.T) {
	a, err := auth.New(auth.Config{DevBypass: true}, nil)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(a.Middleware(), Collect(a))
	r.Get("/records/{id}", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	r.Method(http.MethodGet, "/metrics", ProvideMetrics())

	byURI := totalHttpRequestsToUri.WithLabelValues("204", "/records/{id}", http.MethodGet)
	byOrg := totalHttpRequestsFromOrg.WithLabelValues("00Dmetrics", auth.ProviderDev)
	before, beforeOrg := testutil.ToFloat64(byURI), testutil.ToFloat64(byOrg)

	for _, id := range []string{"a1", "b2"} {
		req := httptest.NewRequest(http.MethodGet, "/records/"+id, nil)
		req.Header.Set("X-Dev-User", "dev")
		req.Header.Set("X-Dev-Org", "00Dmetrics")
		r.ServeHTTP(httptest.NewRecorder(), req)
	}
	assert.Equal(t, before+2, testutil.ToFloat64(byURI))
	assert.Equal(t, beforeOrg+2, testutil.ToFloat64(byOrg))

	scrape := totalHttpRequestsToUri.WithLabelValues("200", "/metrics", http.MethodGet)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "total_http_requests_to_uri")
	assert.Zero(t, testutil.ToFloat64(scrape))
}

func TestRoutePatternUnmatched(t *testing.T) {
	assert.Equal(t, "unmatched", RoutePattern(httptest.NewRequest(http.MethodGet, "/nope", nil)))
}
