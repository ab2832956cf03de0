package services

import (
	"context"
	"time"

	"github.com/govalues/decimal"

	domain "github.com/hanko-field/orderflow/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderStatus        = domain.OrderStatus
	StockLevel         = domain.StockLevel
	StockLine          = domain.StockLine
	AutomationSettings = domain.AutomationSettings
	AutomationSweep    = domain.AutomationSweep
	SystemHealthReport = domain.SystemHealthReport
)

// OrderService exposes the order lifecycle: checkout, status changes, cancellation and the
// time based sweeps driven by the automation scheduler.
type OrderService interface {
	Create(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderNumber string) (Order, error)
	ListUserOrders(ctx context.Context, userID string, page Pagination) (domain.CursorPage[Order], error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error)
	UpdateStatusByAdmin(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	AdvanceDueOrders(ctx context.Context, sweep AutomationSweep) (SweepResult, error)
}

// SweepRunner advances every order due for a single automation sweep.
type SweepRunner interface {
	AdvanceDueOrders(ctx context.Context, sweep AutomationSweep) (SweepResult, error)
}

// StockLedger tracks available units per product. Decrements are conditional so that
// concurrent buyers can never drive a product below zero.
type StockLedger interface {
	IsAvailable(ctx context.Context, productID string, quantity int) (bool, error)
	Decrement(ctx context.Context, productID string, quantity int) (StockLevel, error)
	Increment(ctx context.Context, productID string, quantity int) (StockLevel, error)
	GetStock(ctx context.Context, productID string) (StockLevel, error)
	SetStock(ctx context.Context, productID string, available int) (StockLevel, error)
	DecrementAll(ctx context.Context, lines []StockLine) error
}

// AutomationSettingsReader returns the current automation snapshot. Implementations must be
// safe for concurrent use because the scheduler and request handlers read it in parallel.
type AutomationSettingsReader interface {
	Get() AutomationSettings
}

// SystemService reports service health for the readiness endpoint.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// OrderMetrics records lifecycle counters. All methods must tolerate concurrent callers.
type OrderMetrics interface {
	OrderCreated()
	OrderTransitioned(from, to OrderStatus, source string)
	StockRestoreFailed(productID string)
	SweepOrderFailed(sweep string)
}

// CreateOrderCommand carries a checkout request for a user.
type CreateOrderCommand struct {
	UserID string
	Items  []CreateOrderItem
}

// CreateOrderItem describes a single purchased line.
type CreateOrderItem struct {
	ProductID   string
	ProductName string
	Image       string
	Quantity    int
	Price       decimal.Decimal
}

// UpdateOrderStatusCommand requests a status change. ActorID identifies the caller for events
// and logs; admin and automation callers use their own identifiers.
type UpdateOrderStatusCommand struct {
	OrderNumber string
	Status      OrderStatus
	ActorID     string
}

// CancelOrderCommand requests a customer cancellation.
type CancelOrderCommand struct {
	OrderNumber string
	ActorID     string
}

// OrderListFilter narrows admin listings. A zero Status lists every status.
type OrderListFilter struct {
	Status     OrderStatus
	UserID     string
	Pagination Pagination
}

// SweepResult summarises one automation sweep.
type SweepResult struct {
	Sweep      string
	From       OrderStatus
	To         OrderStatus
	Cutoff     time.Time
	Candidates int
	Advanced   int
	Skipped    int
	Failed     int
	Disabled   bool
}

// SweepReport collects the results of one scheduler tick or manual trigger.
type SweepReport struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []SweepResult
	Errors     []string
}
