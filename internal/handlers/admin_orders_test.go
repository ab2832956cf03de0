package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/services"
)

type stubAutomation struct {
	settings services.AutomationSettings
	patches  []services.AutomationSettingsPatch
	err      error
}

func (s *stubAutomation) Get() services.AutomationSettings { return s.settings }

func (s *stubAutomation) SetAutoMode(_ context.Context, enabled bool) (services.AutomationSettings, error) {
	if s.err != nil {
		return services.AutomationSettings{}, s.err
	}
	s.settings.AutoModeEnabled = enabled
	return s.settings, nil
}

func (s *stubAutomation) Update(_ context.Context, patch services.AutomationSettingsPatch) (services.AutomationSettings, error) {
	s.patches = append(s.patches, patch)
	if s.err != nil {
		return services.AutomationSettings{}, s.err
	}
	if patch.PendingToProcessing != nil {
		s.settings.PendingToProcessing = *patch.PendingToProcessing
	}
	if patch.SchedulerInterval != nil {
		s.settings.SchedulerInterval = *patch.SchedulerInterval
	}
	return s.settings, nil
}

type stubSweepTrigger struct {
	report services.SweepReport
	calls  int
}

func (s *stubSweepTrigger) RunOnce(context.Context) services.SweepReport {
	s.calls++
	return s.report
}

type stubStockLedger struct {
	levels map[string]int
	setErr error
}

func (s *stubStockLedger) IsAvailable(_ context.Context, productID string, quantity int) (bool, error) {
	return s.levels[productID] >= quantity, nil
}

func (s *stubStockLedger) Decrement(context.Context, string, int) (services.StockLevel, error) {
	return services.StockLevel{}, errors.New("not implemented")
}

func (s *stubStockLedger) Increment(context.Context, string, int) (services.StockLevel, error) {
	return services.StockLevel{}, errors.New("not implemented")
}

func (s *stubStockLedger) GetStock(_ context.Context, productID string) (services.StockLevel, error) {
	available, ok := s.levels[productID]
	if !ok {
		return services.StockLevel{}, fmt.Errorf("%w: %s", services.ErrStockNotFound, productID)
	}
	return services.StockLevel{ProductID: productID, Available: available}, nil
}

func (s *stubStockLedger) SetStock(_ context.Context, productID string, available int) (services.StockLevel, error) {
	if s.setErr != nil {
		return services.StockLevel{}, s.setErr
	}
	s.levels[productID] = available
	return services.StockLevel{ProductID: productID, Available: available}, nil
}

func (s *stubStockLedger) DecrementAll(context.Context, []services.StockLine) error {
	return errors.New("not implemented")
}

var _ services.StockLedger = (*stubStockLedger)(nil)

func newAdminRouter(deps AdminOrderHandlersDeps) chi.Router {
	router := chi.NewRouter()
	router.Route("/admin", NewAdminOrderHandlers(deps).Routes)
	return router
}

func TestAdminOrderHandlersListOrdersFilters(t *testing.T) {
	var captured services.OrderListFilter
	orders := &stubOrderService{
		listFn: func(_ context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			captured = filter
			return domain.CursorPage[services.Order]{Items: []services.Order{sampleOrder("user-9", domain.OrderStatusShipped)}}, nil
		},
	}
	router := newAdminRouter(AdminOrderHandlersDeps{Orders: orders})

	req := withUser(httptest.NewRequest(http.MethodGet, "/admin/orders?status=shipped&userId=user-9&pageSize=5", nil), "admin-1", "admin")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, domain.OrderStatusShipped, captured.Status)
	assert.Equal(t, "user-9", captured.UserID)
	assert.Equal(t, 5, captured.Pagination.PageSize)

	var resp orderListResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "user-9", resp.Items[0].UserID)
}

func TestAdminOrderHandlersListOrdersRejectsUnknownStatus(t *testing.T) {
	router := newAdminRouter(AdminOrderHandlersDeps{Orders: &stubOrderService{}})

	req := withUser(httptest.NewRequest(http.MethodGet, "/admin/orders?status=returned", nil), "admin-1", "admin")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAdminOrderHandlersUpdateStatus(t *testing.T) {
	var captured services.UpdateOrderStatusCommand
	orders := &stubOrderService{
		adminUpdateFn: func(_ context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error) {
			captured = cmd
			return sampleOrder("user-1", cmd.Status), nil
		},
	}
	router := newAdminRouter(AdminOrderHandlersDeps{Orders: orders})

	req := withUser(httptest.NewRequest(http.MethodPut, "/admin/orders/ORD-2024-000123/status", strings.NewReader(`{"status":"CANCELED"}`)), "admin-1", "admin")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, domain.OrderStatusCancelled, captured.Status)
	assert.Equal(t, "admin-1", captured.ActorID)
	assert.Equal(t, "ORD-2024-000123", captured.OrderNumber)
}

func TestAdminOrderHandlersUpdateStatusTooEarly(t *testing.T) {
	orders := &stubOrderService{
		adminUpdateFn: func(context.Context, services.UpdateOrderStatusCommand) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: PENDING to PROCESSING allowed from later", services.ErrOrderTooEarly)
		},
	}
	router := newAdminRouter(AdminOrderHandlersDeps{Orders: orders})

	req := withUser(httptest.NewRequest(http.MethodPut, "/admin/orders/ORD-2024-000123/status", strings.NewReader(`{"status":"PROCESSING"}`)), "admin-1", "admin")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "order_too_early", decodeErrorCode(t, rr))
}

func TestAdminOrderHandlersRunAutomation(t *testing.T) {
	started := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	trigger := &stubSweepTrigger{report: services.SweepReport{
		StartedAt:  started,
		FinishedAt: started.Add(time.Second),
		Results: []services.SweepResult{
			{Sweep: "shipped_to_delivered", From: domain.OrderStatusShipped, To: domain.OrderStatusDelivered, Candidates: 1, Advanced: 1},
			{Sweep: "processing_to_shipped", From: domain.OrderStatusProcessing, To: domain.OrderStatusShipped},
			{Sweep: "pending_to_processing", From: domain.OrderStatusPending, To: domain.OrderStatusProcessing, Candidates: 3, Advanced: 2, Failed: 1},
		},
		Errors: []string{"pending_to_processing: 1 order failed"},
	}}
	router := newAdminRouter(AdminOrderHandlersDeps{Sweeps: trigger})

	req := withUser(httptest.NewRequest(http.MethodPost, "/admin/orders:run-automation", nil), "admin-1", "admin")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, 1, trigger.calls)

	var resp sweepReportPayload
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 3)
	assert.Equal(t, "SHIPPED", resp.Results[0].From)
	assert.Equal(t, "DELIVERED", resp.Results[0].To)
	assert.Equal(t, 2, resp.Results[2].Advanced)
	assert.Len(t, resp.Errors, 1)
}

func TestAdminOrderHandlersAutomationSettings(t *testing.T) {
	automation := &stubAutomation{settings: domain.DefaultAutomationSettings()}
	router := newAdminRouter(AdminOrderHandlersDeps{Automation: automation})

	t.Run("get", func(t *testing.T) {
		req := withUser(httptest.NewRequest(http.MethodGet, "/admin/order-automation", nil), "admin-1", "admin")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)
		var resp automationPayload
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.True(t, resp.AutoModeEnabled)
		assert.EqualValues(t, 30, resp.PendingToProcessingSeconds)
		assert.EqualValues(t, 60, resp.ProcessingToShippedSeconds)
		assert.EqualValues(t, 90, resp.ShippedToDeliveredSeconds)
		assert.EqualValues(t, 10, resp.SchedulerIntervalSeconds)
	})

	t.Run("auto mode off", func(t *testing.T) {
		req := withUser(httptest.NewRequest(http.MethodPut, "/admin/order-automation/auto-mode", strings.NewReader(`{"enabled":false}`)), "admin-1", "admin")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.False(t, automation.settings.AutoModeEnabled)
	})

	t.Run("auto mode requires flag", func(t *testing.T) {
		req := withUser(httptest.NewRequest(http.MethodPut, "/admin/order-automation/auto-mode", strings.NewReader(`{}`)), "admin-1", "admin")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("patch delays", func(t *testing.T) {
		req := withUser(httptest.NewRequest(http.MethodPatch, "/admin/order-automation", strings.NewReader(`{"pending_to_processing_seconds":45,"scheduler_interval_seconds":5}`)), "admin-1", "admin")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		require.NotEmpty(t, automation.patches)
		patch := automation.patches[len(automation.patches)-1]
		require.NotNil(t, patch.PendingToProcessing)
		assert.Equal(t, 45*time.Second, *patch.PendingToProcessing)
		assert.Nil(t, patch.ProcessingToShipped)
		assert.Nil(t, patch.AutoModeEnabled)

		var resp automationPayload
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.EqualValues(t, 45, resp.PendingToProcessingSeconds)
		assert.EqualValues(t, 5, resp.SchedulerIntervalSeconds)
	})

	t.Run("patch rejects negative delay", func(t *testing.T) {
		req := withUser(httptest.NewRequest(http.MethodPatch, "/admin/order-automation", strings.NewReader(`{"shipped_to_delivered_seconds":-1}`)), "admin-1", "admin")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestAdminOrderHandlersAutomationInvalidInput(t *testing.T) {
	automation := &stubAutomation{
		settings: domain.DefaultAutomationSettings(),
		err:      fmt.Errorf("%w: scheduler interval too short", services.ErrAutomationInvalidInput),
	}
	router := newAdminRouter(AdminOrderHandlersDeps{Automation: automation})

	req := withUser(httptest.NewRequest(http.MethodPatch, "/admin/order-automation", strings.NewReader(`{"scheduler_interval_seconds":1}`)), "admin-1", "admin")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAdminOrderHandlersStock(t *testing.T) {
	ledger := &stubStockLedger{levels: map[string]int{"sku-1": 4}}
	router := newAdminRouter(AdminOrderHandlersDeps{Stock: ledger})

	req := withUser(httptest.NewRequest(http.MethodGet, "/admin/stock/sku-1", nil), "admin-1", "admin")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	var level stockPayload
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &level))
	assert.Equal(t, 4, level.Available)

	req = withUser(httptest.NewRequest(http.MethodPut, "/admin/stock/sku-2", strings.NewReader(`{"available":12}`)), "admin-1", "admin")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, 12, ledger.levels["sku-2"])

	req = withUser(httptest.NewRequest(http.MethodGet, "/admin/stock/missing", nil), "admin-1", "admin")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "product_not_found", decodeErrorCode(t, rr))

	req = withUser(httptest.NewRequest(http.MethodPut, "/admin/stock/sku-1", strings.NewReader(`{"available":-3}`)), "admin-1", "admin")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAdminOrderHandlersUnavailableCollaborators(t *testing.T) {
	router := newAdminRouter(AdminOrderHandlersDeps{})

	for _, tc := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/admin/orders"},
		{http.MethodPost, "/admin/orders:run-automation"},
		{http.MethodGet, "/admin/order-automation"},
		{http.MethodGet, "/admin/stock/sku-1"},
	} {
		req := withUser(httptest.NewRequest(tc.method, tc.path, nil), "admin-1", "admin")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code, tc.path)
	}
}

func TestInternalHandlersSweep(t *testing.T) {
	trigger := &stubSweepTrigger{report: services.SweepReport{
		Results: []services.SweepResult{{Sweep: "pending_to_processing", From: domain.OrderStatusPending, To: domain.OrderStatusProcessing, Advanced: 2}},
	}}
	router := chi.NewRouter()
	router.Route("/internal", NewInternalHandlers(trigger).Routes)

	req := httptest.NewRequest(http.MethodPost, "/internal/orders:sweep", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, trigger.calls)
}
