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
	"github.com/govalues/decimal"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/platform/auth"
	"github.com/hanko-field/orderflow/internal/platform/pagination"
	"github.com/hanko-field/orderflow/internal/services"
)

type stubOrderService struct {
	createFn      func(context.Context, services.CreateOrderCommand) (services.Order, error)
	getFn         func(context.Context, string) (services.Order, error)
	listUserFn    func(context.Context, string, services.Pagination) (domain.CursorPage[services.Order], error)
	listFn        func(context.Context, services.OrderListFilter) (domain.CursorPage[services.Order], error)
	updateFn      func(context.Context, services.UpdateOrderStatusCommand) (services.Order, error)
	adminUpdateFn func(context.Context, services.UpdateOrderStatusCommand) (services.Order, error)
	cancelFn      func(context.Context, services.CancelOrderCommand) (services.Order, error)
}

func (s *stubOrderService) Create(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderNumber string) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderNumber)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) ListUserOrders(ctx context.Context, userID string, page services.Pagination) (domain.CursorPage[services.Order], error) {
	if s.listUserFn != nil {
		return s.listUserFn(ctx, userID, page)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) UpdateStatus(ctx context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) UpdateStatusByAdmin(ctx context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error) {
	if s.adminUpdateFn != nil {
		return s.adminUpdateFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) Cancel(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) AdvanceDueOrders(context.Context, services.AutomationSweep) (services.SweepResult, error) {
	return services.SweepResult{}, errors.New("not implemented")
}

var _ services.OrderService = (*stubOrderService)(nil)

func sampleOrder(userID string, status services.OrderStatus) services.Order {
	placed := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	return services.Order{
		ID:          "ord_01HV",
		OrderNumber: "ORD-2024-000123",
		UserID:      userID,
		Status:      status,
		OrderDate:   placed,
		UpdatedAt:   placed,
		Total:       decimal.MustParse("39.98"),
		Items: []services.OrderItem{
			{ProductID: "sku-1", ProductName: "Mug", Quantity: 2, Price: decimal.MustParse("19.99")},
		},
	}
}

func newOrderRouter(service services.OrderService, opts ...OrderHandlersOption) chi.Router {
	handler := NewOrderHandlers(nil, service, opts...)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)
	return router
}

func withUser(req *http.Request, uid string, roles ...string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid, Roles: roles}))
}

func decodeErrorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse error body: %v", err)
	}
	code, _ := body["error"].(string)
	return code
}

func TestOrderHandlersCreateOrder(t *testing.T) {
	var captured services.CreateOrderCommand
	service := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
			captured = cmd
			return sampleOrder(cmd.UserID, domain.OrderStatusPending), nil
		},
	}
	router := newOrderRouter(service)

	body := `{"items":[{"product_id":" sku-1 ","product_name":"Mug","quantity":2,"price":"19.99"}]}`
	req := withUser(httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body)), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.UserID != "user-1" {
		t.Fatalf("expected user-1, got %q", captured.UserID)
	}
	if len(captured.Items) != 1 || captured.Items[0].ProductID != "sku-1" || captured.Items[0].Quantity != 2 {
		t.Fatalf("unexpected items %#v", captured.Items)
	}
	if captured.Items[0].Price.String() != "19.99" {
		t.Fatalf("expected price 19.99, got %s", captured.Items[0].Price)
	}
	if loc := rr.Header().Get("Location"); loc != "/api/v1/orders/ORD-2024-000123" {
		t.Fatalf("unexpected location %q", loc)
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Order.Status != "PENDING" || resp.Order.Total != "39.98" {
		t.Fatalf("unexpected order payload %#v", resp.Order)
	}
}

func TestOrderHandlersCreateOrderValidation(t *testing.T) {
	called := false
	service := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
			called = true
			return services.Order{}, nil
		},
	}
	router := newOrderRouter(service)

	cases := map[string]string{
		"no items":      `{"items":[]}`,
		"zero quantity": `{"items":[{"product_id":"sku-1","quantity":0,"price":"1.00"}]}`,
		"bad price":     `{"items":[{"product_id":"sku-1","quantity":1,"price":"abc"}]}`,
		"unknown field": `{"items":[{"product_id":"sku-1","quantity":1,"price":"1.00"}],"coupon":"x"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			req := withUser(httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body)), "user-1")
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", rr.Code)
			}
		})
	}
	if called {
		t.Fatalf("service must not be called for invalid payloads")
	}
}

func TestOrderHandlersCreateOrderInsufficientStock(t *testing.T) {
	service := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: sku-1 has 0 left", services.ErrInsufficientStock)
		},
	}
	router := newOrderRouter(service)

	body := `{"items":[{"product_id":"sku-1","quantity":1,"price":"5"}]}`
	req := withUser(httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body)), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr); code != "insufficient_stock" {
		t.Fatalf("expected insufficient_stock, got %s", code)
	}
}

func TestOrderHandlersCreateOrderUsesIdempotencyMiddleware(t *testing.T) {
	hits := 0
	mw := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits++
			next.ServeHTTP(w, r)
		})
	}
	service := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
			return sampleOrder(cmd.UserID, domain.OrderStatusPending), nil
		},
	}
	router := newOrderRouter(service, WithOrderIdempotency(mw))

	body := `{"items":[{"product_id":"sku-1","quantity":1,"price":"5"}]}`
	req := withUser(httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body)), "user-1")
	router.ServeHTTP(httptest.NewRecorder(), req)

	listReq := withUser(httptest.NewRequest(http.MethodGet, "/orders", nil), "user-1")
	router.ServeHTTP(httptest.NewRecorder(), listReq)

	if hits != 1 {
		t.Fatalf("expected idempotency middleware only on create, got %d hits", hits)
	}
}

func TestOrderHandlersListOrders(t *testing.T) {
	token, err := pagination.EncodeToken(pagination.Cursor{Time: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Key: "ORD-2024-000100"})
	if err != nil {
		t.Fatalf("EncodeToken: %v", err)
	}

	var capturedUser string
	var capturedPage services.Pagination
	service := &stubOrderService{
		listUserFn: func(_ context.Context, userID string, page services.Pagination) (domain.CursorPage[services.Order], error) {
			capturedUser = userID
			capturedPage = page
			return domain.CursorPage[services.Order]{
				Items:         []services.Order{sampleOrder(userID, domain.OrderStatusShipped)},
				NextPageToken: "next",
			}, nil
		},
	}
	router := newOrderRouter(service)

	req := withUser(httptest.NewRequest(http.MethodGet, "/orders?pageSize=500&pageToken="+token, nil), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if capturedUser != "user-1" {
		t.Fatalf("expected user-1, got %s", capturedUser)
	}
	if capturedPage.PageSize != maxOrderPageSize || capturedPage.PageToken != token {
		t.Fatalf("unexpected pagination %#v", capturedPage)
	}

	var resp orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].Status != "SHIPPED" || resp.NextPageToken != "next" {
		t.Fatalf("unexpected list response %#v", resp)
	}
}

func TestOrderHandlersListOrdersRejectsBadToken(t *testing.T) {
	router := newOrderRouter(&stubOrderService{})

	req := withUser(httptest.NewRequest(http.MethodGet, "/orders?pageToken=bad*token", nil), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersGetOrderHidesForeignOrders(t *testing.T) {
	service := &stubOrderService{
		getFn: func(_ context.Context, orderNumber string) (services.Order, error) {
			return sampleOrder("someone-else", domain.OrderStatusPending), nil
		},
	}
	router := newOrderRouter(service)

	req := withUser(httptest.NewRequest(http.MethodGet, "/orders/ORD-2024-000123", nil), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestOrderHandlersGetOrder(t *testing.T) {
	var requested string
	service := &stubOrderService{
		getFn: func(_ context.Context, orderNumber string) (services.Order, error) {
			requested = orderNumber
			return sampleOrder("user-1", domain.OrderStatusProcessing), nil
		},
	}
	router := newOrderRouter(service)

	req := withUser(httptest.NewRequest(http.MethodGet, "/orders/ORD-2024-000123", nil), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if requested != "ORD-2024-000123" {
		t.Fatalf("unexpected order number %q", requested)
	}
	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Order.Items) != 1 || resp.Order.Items[0].Price != "19.99" {
		t.Fatalf("unexpected items %#v", resp.Order.Items)
	}
}

func TestOrderHandlersUpdateStatus(t *testing.T) {
	var captured services.UpdateOrderStatusCommand
	service := &stubOrderService{
		getFn: func(context.Context, string) (services.Order, error) {
			return sampleOrder("user-1", domain.OrderStatusPending), nil
		},
		updateFn: func(_ context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error) {
			captured = cmd
			return sampleOrder("user-1", cmd.Status), nil
		},
	}
	router := newOrderRouter(service)

	req := withUser(httptest.NewRequest(http.MethodPut, "/orders/ORD-2024-000123/status", strings.NewReader(`{"status":"processing"}`)), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Status != domain.OrderStatusProcessing || captured.ActorID != "user-1" || captured.OrderNumber != "ORD-2024-000123" {
		t.Fatalf("unexpected command %#v", captured)
	}
}

func TestOrderHandlersUpdateStatusRejectsUnknownStatus(t *testing.T) {
	router := newOrderRouter(&stubOrderService{})

	req := withUser(httptest.NewRequest(http.MethodPut, "/orders/ORD-2024-000123/status", strings.NewReader(`{"status":"lost"}`)), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersCancelOrder(t *testing.T) {
	var captured services.CancelOrderCommand
	service := &stubOrderService{
		cancelFn: func(_ context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder("user-1", domain.OrderStatusCancelled)
			cancelledAt := order.OrderDate.Add(time.Minute)
			order.CancelledAt = &cancelledAt
			return order, nil
		},
	}
	router := newOrderRouter(service)

	req := withUser(httptest.NewRequest(http.MethodPost, "/orders/ORD-2024-000123:cancel", nil), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderNumber != "ORD-2024-000123" || captured.ActorID != "user-1" {
		t.Fatalf("unexpected command %#v", captured)
	}
	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Order.Status != "CANCELLED" || resp.Order.CancelledAt == "" {
		t.Fatalf("unexpected payload %#v", resp.Order)
	}
}

func TestOrderHandlersErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", services.ErrOrderNotFound, http.StatusNotFound, "order_not_found"},
		{"invalid transition", fmt.Errorf("%w: SHIPPED to CANCELLED", services.ErrOrderInvalidTransition), http.StatusConflict, "order_invalid_transition"},
		{"too early", services.ErrOrderTooEarly, http.StatusConflict, "order_too_early"},
		{"forbidden", services.ErrOrderForbidden, http.StatusForbidden, "order_forbidden"},
		{"insufficient stock", services.ErrInsufficientStock, http.StatusConflict, "insufficient_stock"},
		{"invalid input", services.ErrOrderInvalidInput, http.StatusBadRequest, "invalid_request"},
		{"unavailable", services.ErrOrderUnavailable, http.StatusServiceUnavailable, "order_store_unavailable"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "order_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			service := &stubOrderService{
				cancelFn: func(context.Context, services.CancelOrderCommand) (services.Order, error) {
					return services.Order{}, tc.err
				},
			}
			router := newOrderRouter(service)
			req := withUser(httptest.NewRequest(http.MethodPost, "/orders/ORD-2024-000123:cancel", nil), "user-1")
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
			}
			if code := decodeErrorCode(t, rr); code != tc.code {
				t.Fatalf("expected code %s, got %s", tc.code, code)
			}
		})
	}
}

func TestOrderHandlersRequireIdentity(t *testing.T) {
	router := newOrderRouter(&stubOrderService{})

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestOrderHandlersServiceUnavailable(t *testing.T) {
	router := newOrderRouter(nil)

	req := withUser(httptest.NewRequest(http.MethodGet, "/orders", nil), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr); code != "order_service_unavailable" {
		t.Fatalf("expected order_service_unavailable, got %s", code)
	}
}

func TestOrderHandlersCreateOrderRateLimited(t *testing.T) {
	service := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
			return sampleOrder(cmd.UserID, domain.OrderStatusPending), nil
		},
	}
	router := newOrderRouter(service, WithOrderCreateRateLimit(2, time.Hour))

	body := `{"items":[{"product_id":"sku-1","quantity":1,"price":"5"}]}`
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := withUser(httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body)), "user-1")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	if codes[0] != http.StatusCreated || codes[1] != http.StatusCreated || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence %v", codes)
	}

	other := withUser(httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body)), "user-2")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, other)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected other user unaffected, got %d", rr.Code)
	}
}
