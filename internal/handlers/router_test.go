package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/services"
)

type routerStubSystemService struct {
	report services.SystemHealthReport
	err    error
}

func (s *routerStubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

func serve(router http.Handler, method, target string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(method, target, nil))
	return rr
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	code, _ := body["error"].(string)
	return code
}

func TestNewRouter_Probes(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	health := NewHealthHandlers(
		WithHealthSystemService(&routerStubSystemService{
			report: services.SystemHealthReport{
				Status:      domain.HealthStatusOK,
				Uptime:      5 * time.Second,
				GeneratedAt: now,
				Checks: map[string]domain.SystemHealthCheck{
					"postgres": {Status: domain.HealthStatusOK},
				},
			},
		}),
		WithHealthClock(func() time.Time { return now }),
	)
	router := NewRouter(WithHealthHandlers(health))

	rr := serve(router, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	rr = serve(router, http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestNewRouter_UnregisteredGroups(t *testing.T) {
	router := NewRouter()

	for _, target := range []string{"/api/v1/orders", "/api/v1/admin/orders", "/api/v1/internal/orders:sweep"} {
		rr := serve(router, http.MethodPost, target)
		assert.Equal(t, http.StatusNotImplemented, rr.Code, target)
		assert.Equal(t, "not_implemented", errorCode(t, rr), target)
	}
}

func TestNewRouter_RegisteredGroup(t *testing.T) {
	router := NewRouter(WithOrderRoutes(func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	}))

	assert.Equal(t, http.StatusNoContent, serve(router, http.MethodGet, "/api/v1/orders").Code)
	assert.Equal(t, http.StatusNotImplemented, serve(router, http.MethodGet, "/api/v1/admin").Code)
}

func TestNewRouter_NotFound(t *testing.T) {
	rr := serve(NewRouter(), http.MethodGet, "/does/not/exist")

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "route_not_found", errorCode(t, rr))
}

func TestNewRouter_InternalMiddlewareScopedToGroup(t *testing.T) {
	tag := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Test-Middleware", "internal")
			next.ServeHTTP(w, r)
		})
	}
	router := NewRouter(WithInternalMiddlewares(tag))

	rr := serve(router, http.MethodPost, "/api/v1/internal/orders:sweep")
	assert.Equal(t, "internal", rr.Header().Get("X-Test-Middleware"))
	assert.Equal(t, http.StatusNotImplemented, rr.Code)

	rr = serve(router, http.MethodGet, "/api/v1/orders")
	assert.Empty(t, rr.Header().Get("X-Test-Middleware"))
}

func TestNewRouter_MetricsHandler(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("orderflow_orders_created_total 1\n"))
	})

	rr := serve(NewRouter(WithMetricsHandler(metrics)), http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "orderflow_orders_created_total")

	assert.Equal(t, http.StatusNotFound, serve(NewRouter(), http.MethodGet, "/metrics").Code)
}
