package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareCountsByCodeAndRoute(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c, err := New(reg)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(c.Middleware)
	r.Get("/v1/identities/{name}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/missing", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, path := range []string{"/v1/identities/alice", "/v1/identities/bob", "/missing"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.InDelta(t, 2, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("GET", "200")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("GET", "404")), 0)
	require.Equal(t, 2, testutil.CollectAndCount(c.httpRequestDurationSeconds))
}

func TestObserveRateLimitDelay(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c, err := New(reg)
	require.NoError(t, err)

	c.ObserveRateLimitDelay("alice", 2*time.Second)
	c.ObserveRateLimitDelay("bob", time.Second)
	require.Equal(t, 2, testutil.CollectAndCount(c.rateLimitDelaySeconds))
}

func TestNewRejectsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	require.Error(t, err)
}

func TestHandlerServesRegistry(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c, err := New(reg)
	require.NoError(t, err)
	c.ObserveHTTPRequest(http.MethodGet, "/healthz", http.StatusOK, time.Millisecond)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "harvest_http_requests_total")
}
