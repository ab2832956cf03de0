package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/decimal"
	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/platform/pagination"
	"github.com/hanko-field/orderflow/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"
	orderEventCancelled     = "order.cancelled"

	orderIDPrefix   = "ord_"
	eventIDPrefix   = "evt_"
	orderCounterKey = "orders"

	// AutomationActorID identifies transitions applied by the automation sweeps.
	AutomationActorID = "system:automation"

	transitionSourceUser       = "user"
	transitionSourceAdmin      = "admin"
	transitionSourceAutomation = "automation"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidTransition indicates the requested status is not reachable from the current one.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderTooEarly indicates the minimum elapsed time for the transition has not passed.
	ErrOrderTooEarly = errors.New("order: transition too early")
	// ErrOrderForbidden indicates the caller does not own the order.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderConflict indicates a duplicate order number or a concurrent write.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderUnavailable indicates the order store could not be reached.
	ErrOrderUnavailable = errors.New("order: repository unavailable")

	errSweepStale = errors.New("order: no longer due")
)

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	ID             string
	Type           string
	OrderID        string
	OrderNumber    string
	UserID         string
	PreviousStatus string
	CurrentStatus  string
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Stock       StockLedger
	Counters    repositories.CounterRepository
	Config      AutomationSettingsReader
	Events      OrderEventPublisher
	Metrics     OrderMetrics
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders    repositories.OrderRepository
	stock     StockLedger
	counters  repositories.CounterRepository
	config    AutomationSettingsReader
	events    OrderEventPublisher
	metrics   OrderMetrics
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
	sanitizer *bluemonday.Policy
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	config := deps.Config
	if config == nil {
		config = staticSettings(domain.DefaultAutomationSettings())
	}

	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopOrderMetrics{}
	}

	return &orderService{
		orders:   deps.Orders,
		stock:    deps.Stock,
		counters: deps.Counters,
		config:   config,
		events:   deps.Events,
		metrics:  metrics,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:     idGen,
		logger:    logger,
		sanitizer: bluemonday.StrictPolicy(),
	}, nil
}

func (s *orderService) Create(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	items, total, err := s.buildOrderItems(cmd.Items)
	if err != nil {
		return Order{}, err
	}

	lines := make([]StockLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, StockLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	if s.stock != nil {
		if err := s.stock.DecrementAll(ctx, lines); err != nil {
			return Order{}, err
		}
	}

	now := s.now()
	number, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		s.restoreStock(ctx, "", items)
		return Order{}, err
	}

	order := Order{
		ID:          orderIDPrefix + s.newID(),
		OrderNumber: number,
		UserID:      userID,
		Status:      domain.OrderStatusPending,
		OrderDate:   now,
		Items:       items,
		Total:       total,
		UpdatedAt:   now,
	}
	if err := s.orders.Insert(ctx, order); err != nil {
		s.restoreStock(ctx, order.OrderNumber, items)
		return Order{}, s.mapRepositoryError(err)
	}

	s.metrics.OrderCreated()
	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		CurrentStatus: order.Status.String(),
		ActorID:       userID,
		OccurredAt:    now,
		Metadata: map[string]any{
			"total":     order.Total.String(),
			"itemCount": len(order.Items),
		},
	})
	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderNumber string) (Order, error) {
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return Order{}, fmt.Errorf("%w: order number is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByNumber(ctx, orderNumber)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) ListUserOrders(ctx context.Context, userID string, page Pagination) (domain.CursorPage[Order], error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	result, err := s.orders.ListByUser(ctx, userID, page)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return result, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	if filter.Status != 0 && !filter.Status.Valid() {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown status filter", ErrOrderInvalidInput)
	}
	result, err := s.orders.List(ctx, repositories.OrderListFilter{
		Status:     filter.Status,
		UserID:     strings.TrimSpace(filter.UserID),
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return result, nil
}

// UpdateStatus applies the general transition table without a time gate. Cancelling through this
// path returns the items to stock like every other cancellation.
func (s *orderService) UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error) {
	orderNumber, err := validateStatusCommand(cmd)
	if err != nil {
		return Order{}, err
	}

	now := s.now()
	var previous OrderStatus
	order, err := s.orders.Mutate(ctx, orderNumber, func(o *domain.Order) error {
		previous = o.Status
		if !domain.IsValidTransition(o.Status, cmd.Status) {
			return invalidTransition(o.Status, cmd.Status)
		}
		applyStatus(o, cmd.Status, now)
		return nil
	})
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.afterTransition(ctx, order, previous, cmd.ActorID, transitionSourceUser, now)
	return order, nil
}

// UpdateStatusByAdmin cancels any non-terminal order immediately. Forward moves must respect the
// cumulative minimum delay measured from the order date.
func (s *orderService) UpdateStatusByAdmin(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error) {
	orderNumber, err := validateStatusCommand(cmd)
	if err != nil {
		return Order{}, err
	}

	now := s.now()
	settings := s.config.Get()
	var previous OrderStatus
	order, err := s.orders.Mutate(ctx, orderNumber, func(o *domain.Order) error {
		previous = o.Status
		if cmd.Status == domain.OrderStatusCancelled && domain.CanAdminCancel(o.Status) {
			applyStatus(o, cmd.Status, now)
			return nil
		}
		if minimum, gated := domain.MinimumElapsed(o.Status, cmd.Status, settings); gated {
			if earliest := o.OrderDate.Add(minimum); earliest.After(now) {
				return fmt.Errorf("%w: %s to %s allowed from %s", ErrOrderTooEarly, o.Status, cmd.Status, earliest.Format(time.RFC3339))
			}
		}
		if !domain.IsValidTransition(o.Status, cmd.Status) {
			return invalidTransition(o.Status, cmd.Status)
		}
		applyStatus(o, cmd.Status, now)
		return nil
	})
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.afterTransition(ctx, order, previous, cmd.ActorID, transitionSourceAdmin, now)
	return order, nil
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderNumber := strings.TrimSpace(cmd.OrderNumber)
	if orderNumber == "" {
		return Order{}, fmt.Errorf("%w: order number is required", ErrOrderInvalidInput)
	}
	actorID := strings.TrimSpace(cmd.ActorID)
	if actorID == "" {
		return Order{}, fmt.Errorf("%w: actor id is required", ErrOrderInvalidInput)
	}

	now := s.now()
	var previous OrderStatus
	order, err := s.orders.Mutate(ctx, orderNumber, func(o *domain.Order) error {
		previous = o.Status
		if !domain.CanUserCancel(o.Status) {
			return fmt.Errorf("%w: only pending orders can be cancelled, order is %s", ErrOrderInvalidTransition, o.Status)
		}
		if o.UserID != actorID {
			return fmt.Errorf("%w: order %s belongs to another user", ErrOrderForbidden, orderNumber)
		}
		applyStatus(o, domain.OrderStatusCancelled, now)
		return nil
	})
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.afterTransition(ctx, order, previous, actorID, transitionSourceUser, now)
	return order, nil
}

// AdvanceDueOrders moves every order of sweep.From whose order date is at or before the sweep
// cutoff to sweep.To. Each order is re-read inside its own transaction so an order changed by an
// admin since the query is skipped. Failures are collected and the remaining orders still run.
func (s *orderService) AdvanceDueOrders(ctx context.Context, sweep AutomationSweep) (SweepResult, error) {
	result := SweepResult{Sweep: sweep.Name, From: sweep.From, To: sweep.To}
	settings := s.config.Get()
	if !settings.AutoModeEnabled {
		result.Disabled = true
		return result, nil
	}

	now := s.now()
	cutoff := sweep.Cutoff(now, settings)
	result.Cutoff = cutoff

	due, err := s.orders.ListDue(ctx, sweep.From, cutoff)
	if err != nil {
		return result, fmt.Errorf("sweep %s: %w", sweep.Name, s.mapRepositoryError(err))
	}
	result.Candidates = len(due)

	var errs []error
	for _, candidate := range due {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		order, err := s.orders.Mutate(ctx, candidate.OrderNumber, func(o *domain.Order) error {
			if o.Status != sweep.From || o.OrderDate.After(cutoff) {
				return errSweepStale
			}
			applyStatus(o, sweep.To, now)
			return nil
		})
		switch {
		case errors.Is(err, errSweepStale):
			result.Skipped++
		case err != nil:
			result.Failed++
			s.metrics.SweepOrderFailed(sweep.Name)
			s.logger(ctx, "order.sweep.order.failed", map[string]any{
				"sweep": sweep.Name,
				"order": candidate.OrderNumber,
				"error": err.Error(),
			})
			errs = append(errs, fmt.Errorf("order %s: %w", candidate.OrderNumber, s.mapRepositoryError(err)))
		default:
			result.Advanced++
			s.afterTransition(ctx, order, sweep.From, AutomationActorID, transitionSourceAutomation, now)
		}
	}

	if len(errs) > 0 {
		return result, fmt.Errorf("sweep %s: %w", sweep.Name, errors.Join(errs...))
	}
	return result, nil
}

// afterTransition runs the side effects of a committed status change. It must only be called
// once the transaction has returned because Mutate callbacks can be retried.
func (s *orderService) afterTransition(ctx context.Context, order Order, previous OrderStatus, actorID, source string, now time.Time) {
	s.metrics.OrderTransitioned(previous, order.Status, source)

	eventType := orderEventStatusChanged
	if order.Status == domain.OrderStatusCancelled {
		eventType = orderEventCancelled
		s.restoreStock(ctx, order.OrderNumber, order.Items)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           eventType,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		PreviousStatus: previous.String(),
		CurrentStatus:  order.Status.String(),
		ActorID:        strings.TrimSpace(actorID),
		OccurredAt:     now,
		Metadata:       map[string]any{"source": source},
	})
}

// restoreStock returns every item to stock. Each item is attempted independently and failures
// are only logged; the order stays cancelled.
func (s *orderService) restoreStock(ctx context.Context, orderNumber string, items []OrderItem) {
	if s.stock == nil {
		return
	}
	for _, item := range items {
		if _, err := s.stock.Increment(ctx, item.ProductID, item.Quantity); err != nil {
			s.metrics.StockRestoreFailed(item.ProductID)
			s.logger(ctx, "order.stock.restore.failed", map[string]any{
				"order":     orderNumber,
				"productId": item.ProductID,
				"quantity":  item.Quantity,
				"error":     err.Error(),
			})
		}
	}
}

func (s *orderService) buildOrderItems(input []CreateOrderItem) ([]OrderItem, decimal.Decimal, error) {
	if len(input) == 0 {
		return nil, decimal.Zero, fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}

	items := make([]OrderItem, 0, len(input))
	total := decimal.Zero
	for i, item := range input {
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" {
			return nil, decimal.Zero, fmt.Errorf("%w: items[%d].productId is required", ErrOrderInvalidInput, i)
		}
		if item.Quantity <= 0 {
			return nil, decimal.Zero, fmt.Errorf("%w: items[%d].quantity must be positive", ErrOrderInvalidInput, i)
		}
		if item.Price.IsNeg() {
			return nil, decimal.Zero, fmt.Errorf("%w: items[%d].price must not be negative", ErrOrderInvalidInput, i)
		}

		quantity, err := decimal.New(int64(item.Quantity), 0)
		if err != nil {
			return nil, decimal.Zero, fmt.Errorf("%w: items[%d].quantity: %v", ErrOrderInvalidInput, i, err)
		}
		line, err := item.Price.Mul(quantity)
		if err != nil {
			return nil, decimal.Zero, fmt.Errorf("%w: items[%d] amount: %v", ErrOrderInvalidInput, i, err)
		}
		if total, err = total.Add(line); err != nil {
			return nil, decimal.Zero, fmt.Errorf("%w: order total: %v", ErrOrderInvalidInput, err)
		}

		items = append(items, OrderItem{
			ProductID:   productID,
			ProductName: s.sanitize(item.ProductName),
			Image:       s.sanitize(item.Image),
			Quantity:    item.Quantity,
			Price:       item.Price,
		})
	}
	return items, total, nil
}

func (s *orderService) sanitize(value string) string {
	return strings.TrimSpace(s.sanitizer.Sanitize(value))
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, ErrOrderInvalidTransition), errors.Is(err, ErrOrderTooEarly), errors.Is(err, ErrOrderForbidden):
		return err
	case errors.Is(err, pagination.ErrInvalidPageToken):
		return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}

	return err
}

func (s *orderService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	if s.counters == nil {
		return "ORD-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8]), nil
	}
	seq, err := s.counters.Next(ctx, fmt.Sprintf("%s:%04d", orderCounterKey, now.Year()), 1)
	if err != nil {
		return "", fmt.Errorf("order: allocate order number: %w", err)
	}
	return fmt.Sprintf("ORD-%04d-%06d", now.Year(), seq), nil
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.ID == "" {
		event.ID = eventIDPrefix + s.newID()
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderNumber,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

func validateStatusCommand(cmd UpdateOrderStatusCommand) (string, error) {
	orderNumber := strings.TrimSpace(cmd.OrderNumber)
	if orderNumber == "" {
		return "", fmt.Errorf("%w: order number is required", ErrOrderInvalidInput)
	}
	if !cmd.Status.Valid() {
		return "", fmt.Errorf("%w: status is required", ErrOrderInvalidInput)
	}
	return orderNumber, nil
}

func invalidTransition(current, requested OrderStatus) error {
	return fmt.Errorf("%w: %s to %s", ErrOrderInvalidTransition, current, requested)
}

func applyStatus(order *Order, status OrderStatus, now time.Time) {
	order.Status = status
	order.UpdatedAt = now
	if status == domain.OrderStatusCancelled {
		cancelledAt := now
		order.CancelledAt = &cancelledAt
	}
}

type staticSettings domain.AutomationSettings

func (s staticSettings) Get() AutomationSettings { return AutomationSettings(s) }

type noopOrderMetrics struct{}

func (noopOrderMetrics) OrderCreated() {}
func (noopOrderMetrics) OrderTransitioned(OrderStatus, OrderStatus, string) {}
func (noopOrderMetrics) StockRestoreFailed(string) {}
func (noopOrderMetrics) SweepOrderFailed(string) {}
