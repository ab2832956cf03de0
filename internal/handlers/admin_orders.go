package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/platform/auth"
	"github.com/hanko-field/orderflow/internal/platform/httpx"
	"github.com/hanko-field/orderflow/internal/platform/pagination"
	"github.com/hanko-field/orderflow/internal/services"
)

const maxAdminBodySize = 4 * 1024

// AutomationSettingsManager reads and changes the live automation settings.
type AutomationSettingsManager interface {
	Get() services.AutomationSettings
	SetAutoMode(ctx context.Context, enabled bool) (services.AutomationSettings, error)
	Update(ctx context.Context, patch services.AutomationSettingsPatch) (services.AutomationSettings, error)
}

// SweepTrigger runs every automation sweep immediately.
type SweepTrigger interface {
	RunOnce(ctx context.Context) services.SweepReport
}

// AdminOrderHandlers exposes the back-office endpoints: order overrides, automation controls and
// the stock ledger. Every route requires the admin role.
type AdminOrderHandlers struct {
	authn      *auth.Authenticator
	orders     services.OrderService
	automation AutomationSettingsManager
	sweeps     SweepTrigger
	stock      services.StockLedger
}

// AdminOrderHandlersDeps bundles the collaborators of AdminOrderHandlers. Nil collaborators make
// their routes answer 503.
type AdminOrderHandlersDeps struct {
	Authenticator *auth.Authenticator
	Orders        services.OrderService
	Automation    AutomationSettingsManager
	Sweeps        SweepTrigger
	Stock         services.StockLedger
}

// NewAdminOrderHandlers constructs the admin handlers.
func NewAdminOrderHandlers(deps AdminOrderHandlersDeps) *AdminOrderHandlers {
	return &AdminOrderHandlers{
		authn:      deps.Authenticator,
		orders:     deps.Orders,
		automation: deps.Automation,
		sweeps:     deps.Sweeps,
		stock:      deps.Stock,
	}
}

// Routes registers the /admin endpoints.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin))
	}
	r.Get("/orders", h.listOrders)
	r.Put("/orders/{orderNumber}/status", h.updateOrderStatus)
	r.Post("/orders:run-automation", h.runAutomation)
	r.Get("/order-automation", h.getAutomation)
	r.Patch("/order-automation", h.patchAutomation)
	r.Put("/order-automation/auto-mode", h.setAutoMode)
	r.Get("/stock/{productId}", h.getStock)
	r.Put("/stock/{productId}", h.setStock)
}

func (h *AdminOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeOrderServiceUnavailable(ctx, w)
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

	query := r.URL.Query()
	filter := services.OrderListFilter{
		UserID: strings.TrimSpace(query.Get("userId")),
		Pagination: services.Pagination{
			PageSize:  params.PageSize,
			PageToken: params.PageToken,
		},
	}
	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		status, err := domain.ParseOrderStatus(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a valid order status", http.StatusBadRequest))
			return
		}
		filter.Status = status
	}

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderList(page))
}

func (h *AdminOrderHandlers) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
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
	status, ok := decodeStatusRequest(w, r)
	if !ok {
		return
	}

	order, err := h.orders.UpdateStatusByAdmin(ctx, services.UpdateOrderStatusCommand{
		OrderNumber: orderNumber,
		Status:      status,
		ActorID:     identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) runAutomation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sweeps == nil {
		httpx.WriteError(ctx, w, httpx.NewError("automation_unavailable", "order automation unavailable", http.StatusServiceUnavailable))
		return
	}
	report := h.sweeps.RunOnce(ctx)
	writeJSONResponse(w, http.StatusOK, buildSweepReportPayload(report))
}

func (h *AdminOrderHandlers) getAutomation(w http.ResponseWriter, r *http.Request) {
	if h.automation == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("automation_unavailable", "order automation unavailable", http.StatusServiceUnavailable))
		return
	}
	writeJSONResponse(w, http.StatusOK, buildAutomationPayload(h.automation.Get()))
}

type autoModeRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

func (h *AdminOrderHandlers) setAutoMode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.automation == nil {
		httpx.WriteError(ctx, w, httpx.NewError("automation_unavailable", "order automation unavailable", http.StatusServiceUnavailable))
		return
	}

	var req autoModeRequest
	if err := httpx.DecodeJSON(r, maxAdminBodySize, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	if !validateRequest(ctx, w, req) {
		return
	}

	settings, err := h.automation.SetAutoMode(ctx, *req.Enabled)
	if err != nil {
		writeAutomationError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildAutomationPayload(settings))
}

type automationPatchRequest struct {
	PendingToProcessingSeconds *int64 `json:"pending_to_processing_seconds" validate:"omitempty,gte=0,lte=2592000"`
	ProcessingToShippedSeconds *int64 `json:"processing_to_shipped_seconds" validate:"omitempty,gte=0,lte=2592000"`
	ShippedToDeliveredSeconds  *int64 `json:"shipped_to_delivered_seconds" validate:"omitempty,gte=0,lte=2592000"`
	SchedulerIntervalSeconds   *int64 `json:"scheduler_interval_seconds" validate:"omitempty,gte=1,lte=86400"`
	AutoModeEnabled            *bool  `json:"auto_mode_enabled"`
}

func (h *AdminOrderHandlers) patchAutomation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.automation == nil {
		httpx.WriteError(ctx, w, httpx.NewError("automation_unavailable", "order automation unavailable", http.StatusServiceUnavailable))
		return
	}

	var req automationPatchRequest
	if err := httpx.DecodeJSON(r, maxAdminBodySize, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	if !validateRequest(ctx, w, req) {
		return
	}

	settings, err := h.automation.Update(ctx, services.AutomationSettingsPatch{
		PendingToProcessing: secondsPointer(req.PendingToProcessingSeconds),
		ProcessingToShipped: secondsPointer(req.ProcessingToShippedSeconds),
		ShippedToDelivered:  secondsPointer(req.ShippedToDeliveredSeconds),
		SchedulerInterval:   secondsPointer(req.SchedulerIntervalSeconds),
		AutoModeEnabled:     req.AutoModeEnabled,
	})
	if err != nil {
		writeAutomationError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildAutomationPayload(settings))
}

func (h *AdminOrderHandlers) getStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stock == nil {
		httpx.WriteError(ctx, w, httpx.NewError("stock_unavailable", "stock ledger unavailable", http.StatusServiceUnavailable))
		return
	}
	level, err := h.stock.GetStock(ctx, chi.URLParam(r, "productId"))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildStockPayload(level))
}

type setStockRequest struct {
	Available *int `json:"available" validate:"required,gte=0"`
}

func (h *AdminOrderHandlers) setStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stock == nil {
		httpx.WriteError(ctx, w, httpx.NewError("stock_unavailable", "stock ledger unavailable", http.StatusServiceUnavailable))
		return
	}

	var req setStockRequest
	if err := httpx.DecodeJSON(r, maxAdminBodySize, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	if !validateRequest(ctx, w, req) {
		return
	}

	level, err := h.stock.SetStock(ctx, chi.URLParam(r, "productId"), *req.Available)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildStockPayload(level))
}

type automationPayload struct {
	AutoModeEnabled            bool   `json:"auto_mode_enabled"`
	PendingToProcessingSeconds int64  `json:"pending_to_processing_seconds"`
	ProcessingToShippedSeconds int64  `json:"processing_to_shipped_seconds"`
	ShippedToDeliveredSeconds  int64  `json:"shipped_to_delivered_seconds"`
	SchedulerIntervalSeconds   int64  `json:"scheduler_interval_seconds"`
	UpdatedAt                  string `json:"updated_at,omitempty"`
}

func buildAutomationPayload(settings services.AutomationSettings) automationPayload {
	return automationPayload{
		AutoModeEnabled:            settings.AutoModeEnabled,
		PendingToProcessingSeconds: int64(settings.PendingToProcessing / time.Second),
		ProcessingToShippedSeconds: int64(settings.ProcessingToShipped / time.Second),
		ShippedToDeliveredSeconds:  int64(settings.ShippedToDelivered / time.Second),
		SchedulerIntervalSeconds:   int64(settings.SchedulerInterval / time.Second),
		UpdatedAt:                  formatTime(settings.UpdatedAt),
	}
}

type stockPayload struct {
	ProductID string `json:"product_id"`
	Available int    `json:"available"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

func buildStockPayload(level services.StockLevel) stockPayload {
	return stockPayload{
		ProductID: level.ProductID,
		Available: level.Available,
		UpdatedAt: formatTime(level.UpdatedAt),
	}
}

type sweepReportPayload struct {
	StartedAt  string               `json:"started_at"`
	FinishedAt string               `json:"finished_at"`
	Results    []sweepResultPayload `json:"results"`
	Errors     []string             `json:"errors,omitempty"`
}

type sweepResultPayload struct {
	Sweep      string `json:"sweep"`
	From       string `json:"from"`
	To         string `json:"to"`
	Cutoff     string `json:"cutoff,omitempty"`
	Candidates int    `json:"candidates"`
	Advanced   int    `json:"advanced"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`
	Disabled   bool   `json:"disabled,omitempty"`
}

func buildSweepReportPayload(report services.SweepReport) sweepReportPayload {
	payload := sweepReportPayload{
		StartedAt:  formatTime(report.StartedAt),
		FinishedAt: formatTime(report.FinishedAt),
		Results:    make([]sweepResultPayload, 0, len(report.Results)),
		Errors:     report.Errors,
	}
	for _, result := range report.Results {
		payload.Results = append(payload.Results, sweepResultPayload{
			Sweep:      result.Sweep,
			From:       result.From.String(),
			To:         result.To.String(),
			Cutoff:     formatTime(result.Cutoff),
			Candidates: result.Candidates,
			Advanced:   result.Advanced,
			Skipped:    result.Skipped,
			Failed:     result.Failed,
			Disabled:   result.Disabled,
		})
	}
	return payload
}

func secondsPointer(value *int64) *time.Duration {
	if value == nil {
		return nil
	}
	d := time.Duration(*value) * time.Second
	return &d
}

func writeAutomationError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrAutomationInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("automation_update_failed", "failed to update order automation", http.StatusServiceUnavailable))
	}
}
