package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/hanko-field/orderflow/internal/domain"
)

func TestRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewWithRegistry(reg, reg)

	r.OrderCreated()
	r.OrderCreated()
	r.OrderTransitioned(domain.OrderStatusPending, domain.OrderStatusProcessing, "automation")
	r.StockRestoreFailed("sku-1")
	r.SweepOrderFailed("pending_to_processing")
	r.RecordVerification("oidc", false, "audience_mismatch", 3*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.ordersCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.transitions.WithLabelValues("PENDING", "PROCESSING", "automation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.stockRestoreFailed.WithLabelValues("sku-1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.sweepOrderFailed.WithLabelValues("pending_to_processing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.verifications.WithLabelValues("oidc", "failure", "audience_mismatch")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := New()
	r.OrderCreated()

	rr := httptest.NewRecorder()
	r.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.True(t, strings.Contains(body, "orderflow_orders_created_total 1"), body)
	assert.True(t, strings.Contains(body, "go_goroutines"))
}
