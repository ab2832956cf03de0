package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/govalues/decimal"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/platform/auth"
	"github.com/hanko-field/orderflow/internal/platform/httpx"
	"github.com/hanko-field/orderflow/internal/platform/pagination"
	"github.com/hanko-field/orderflow/internal/platform/validation"
	"github.com/hanko-field/orderflow/internal/services"
)

const (
	defaultOrderPageSize   = 20
	maxOrderPageSize       = 100
	maxOrderCreateBodySize = 32 * 1024
	maxOrderStatusBodySize = 4 * 1024
)

var requestValidator = validation.New()

type createOrderRequest struct {
	Items []createOrderItemRequest `json:"items" validate:"required,min=1,max=50,dive"`
}

type createOrderItemRequest struct {
	ProductID   string `json:"product_id" validate:"required,max=128"`
	ProductName string `json:"product_name" validate:"max=256"`
	Image       string `json:"image" validate:"omitempty,max=2048"`
	Quantity    int    `json:"quantity" validate:"required,gt=0,lte=1000"`
	Price       string `json:"price" validate:"required,max=32"`
}

type updateOrderStatusRequest struct {
	Status string `json:"status" validate:"required,order_status"`
}

// OrderHandlers exposes the customer order endpoints. Every route requires a Firebase user.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	idempotency func(http.Handler) http.Handler

	createLimiter rateLimiter
	createWindow  time.Duration
}

// OrderHandlersOption customises OrderHandlers.
type OrderHandlersOption func(*OrderHandlers)

// WithOrderIdempotency guards order creation with the supplied idempotency middleware.
func WithOrderIdempotency(mw func(http.Handler) http.Handler) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.idempotency = mw
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	// Replays answer from the idempotency store before the rate limit is charged.
	create := []func(http.Handler) http.Handler{h.rateLimitCreate}
	if h.idempotency != nil {
		create = append([]func(http.Handler) http.Handler{h.idempotency}, create...)
	}
	r.With(create...).Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderNumber}", h.getOrder)
	r.Put("/{orderNumber}/status", h.updateOrderStatus)
	r.Post("/{orderNumber}:cancel", h.cancelOrder)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeOrderServiceUnavailable(ctx, w)
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := httpx.DecodeJSON(r, maxOrderCreateBodySize, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	if !validateRequest(ctx, w, req) {
		return
	}

	items := make([]services.CreateOrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		price, err := decimal.Parse(strings.TrimSpace(item.Price))
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "price must be a decimal number", http.StatusBadRequest))
			return
		}
		items = append(items, services.CreateOrderItem{
			ProductID:   strings.TrimSpace(item.ProductID),
			ProductName: item.ProductName,
			Image:       item.Image,
			Quantity:    item.Quantity,
			Price:       price,
		})
	}

	order, err := h.orders.Create(ctx, services.CreateOrderCommand{
		UserID: identity.UID,
		Items:  items,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	w.Header().Set("Location", defaultAPIPrefix+"/orders/"+order.OrderNumber)
	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeOrderServiceUnavailable(ctx, w)
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{
		DefaultPageSize: defaultOrderPageSize,
		MaxPageSize:     maxOrderPageSize,
	})
	if err != nil {
		writePaginationError(ctx, w, err)
		return
	}

	page, err := h.orders.ListUserOrders(ctx, identity.UID, services.Pagination{
		PageSize:  params.PageSize,
		PageToken: params.PageToken,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderList(page))
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeOrderServiceUnavailable(ctx, w)
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	order, ok := h.loadOwnedOrder(ctx, w, r, identity)
	if !ok {
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeOrderServiceUnavailable(ctx, w)
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	status, ok := decodeStatusRequest(w, r)
	if !ok {
		return
	}
	order, ok := h.loadOwnedOrder(ctx, w, r, identity)
	if !ok {
		return
	}

	updated, err := h.orders.UpdateStatus(ctx, services.UpdateOrderStatusCommand{
		OrderNumber: order.OrderNumber,
		Status:      status,
		ActorID:     identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(updated)})
}

// cancelOrder leaves the ownership check to the service so a foreign order answers 403.
func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeOrderServiceUnavailable(ctx, w)
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderNumber := strings.TrimSpace(chi.URLParam(r, "orderNumber"))
	if orderNumber == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order number is required", http.StatusBadRequest))
		return
	}

	cancelled, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderNumber: orderNumber,
		ActorID:     identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(cancelled)})
}

// loadOwnedOrder hides orders of other users behind a 404.
func (h *OrderHandlers) loadOwnedOrder(ctx context.Context, w http.ResponseWriter, r *http.Request, identity *auth.Identity) (services.Order, bool) {
	orderNumber := strings.TrimSpace(chi.URLParam(r, "orderNumber"))
	if orderNumber == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order number is required", http.StatusBadRequest))
		return services.Order{}, false
	}
	order, err := h.orders.GetOrder(ctx, orderNumber)
	if err != nil {
		writeOrderError(ctx, w, err)
		return services.Order{}, false
	}
	if strings.TrimSpace(order.UserID) != identity.UID {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return services.Order{}, false
	}
	return order, true
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID          string             `json:"id"`
	OrderNumber string             `json:"order_number"`
	UserID      string             `json:"user_id"`
	Status      string             `json:"status"`
	OrderDate   string             `json:"order_date"`
	UpdatedAt   string             `json:"updated_at,omitempty"`
	CancelledAt string             `json:"cancelled_at,omitempty"`
	Total       string             `json:"total"`
	Items       []orderItemPayload `json:"items"`
}

type orderItemPayload struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name,omitempty"`
	Image       string `json:"image,omitempty"`
	Quantity    int    `json:"quantity"`
	Price       string `json:"price"`
}

func buildOrderList(page domain.CursorPage[services.Order]) orderListResponse {
	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	return orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Status:      order.Status.String(),
		OrderDate:   formatTime(order.OrderDate),
		UpdatedAt:   formatTime(order.UpdatedAt),
		Total:       order.Total.String(),
		Items:       make([]orderItemPayload, 0, len(order.Items)),
	}
	if order.CancelledAt != nil {
		payload.CancelledAt = formatTime(*order.CancelledAt)
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Image:       item.Image,
			Quantity:    item.Quantity,
			Price:       item.Price.String(),
		})
	}
	return payload
}

func decodeStatusRequest(w http.ResponseWriter, r *http.Request) (services.OrderStatus, bool) {
	var req updateOrderStatusRequest
	if err := httpx.DecodeJSON(r, maxOrderStatusBodySize, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return 0, false
	}
	if !validateRequest(r.Context(), w, req) {
		return 0, false
	}
	status, err := domain.ParseOrderStatus(req.Status)
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "status must be a valid order status", http.StatusBadRequest))
		return 0, false
	}
	return status, true
}

func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func validateRequest(ctx context.Context, w http.ResponseWriter, payload any) bool {
	failures, err := validation.Struct(requestValidator, payload)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return false
	}
	if len(failures) > 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request validation failed", http.StatusBadRequest).
			WithDetails(map[string]any{"fields": failures}))
		return false
	}
	return true
}

func writePaginationError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pagination.ErrInvalidPageToken):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_page_token", "pageToken is invalid", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func writeOrderServiceUnavailable(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
}

// orderErrorMappings is checked in order; the first sentinel matched by errors.Is wins. An empty
// message means the wrapped error text is shown to the caller.
var orderErrorMappings = []struct {
	target  error
	code    string
	status  int
	message string
}{
	{services.ErrOrderInvalidInput, "invalid_request", http.StatusBadRequest, ""},
	{services.ErrStockInvalidInput, "invalid_request", http.StatusBadRequest, ""},
	{services.ErrOrderNotFound, "order_not_found", http.StatusNotFound, "order not found"},
	{services.ErrStockNotFound, "product_not_found", http.StatusNotFound, ""},
	{services.ErrOrderForbidden, "order_forbidden", http.StatusForbidden, "order belongs to another user"},
	{services.ErrOrderTooEarly, "order_too_early", http.StatusConflict, ""},
	{services.ErrOrderInvalidTransition, "order_invalid_transition", http.StatusConflict, ""},
	{services.ErrInsufficientStock, "insufficient_stock", http.StatusConflict, ""},
	{services.ErrOrderConflict, "order_conflict", http.StatusConflict, ""},
	{services.ErrOrderUnavailable, "order_store_unavailable", http.StatusServiceUnavailable, "order store unavailable"},
	{services.ErrStockUnavailable, "order_store_unavailable", http.StatusServiceUnavailable, "order store unavailable"},
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	for _, m := range orderErrorMappings {
		if !errors.Is(err, m.target) {
			continue
		}
		message := m.message
		if message == "" {
			message = err.Error()
		}
		httpx.WriteError(ctx, w, httpx.NewError(m.code, message, m.status))
		return
	}
	httpx.WriteError(ctx, w, httpx.AsError(err, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError)))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	httpx.WriteJSON(w, status, payload)
}
