package repositories

import (
	"context"
	"time"

	domain "github.com/hanko-field/orderflow/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection. Each
// storage backend provides its own implementation.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Stock() StockRepository
	Counters() CounterRepository
	AutomationSettings() AutomationSettingsRepository
	HealthChecks() []DependencyCheck
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderMutation edits an order inside a read-modify-write transaction. Returning an error aborts
// the transaction and the error is returned from Mutate unchanged.
type OrderMutation func(order *domain.Order) error

// OrderRepository persists orders. Orders are never deleted.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	// ListDue returns orders in status whose order date is at or before cutoff, oldest first.
	ListDue(ctx context.Context, status domain.OrderStatus, cutoff time.Time) ([]domain.Order, error)
	ListByUser(ctx context.Context, userID string, page domain.Pagination) (domain.CursorPage[domain.Order], error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	// Mutate loads the order, applies fn and writes the result within a transaction scoped to that
	// order. The returned order reflects the committed state.
	Mutate(ctx context.Context, orderNumber string, fn OrderMutation) (domain.Order, error)
}

// StockRepository stores per-product availability. Decrement must be an atomic conditional update
// returning a StockError with StockErrorInsufficient when the quantity exceeds availability.
type StockRepository interface {
	Get(ctx context.Context, productID string) (domain.StockLevel, error)
	Decrement(ctx context.Context, productID string, quantity int) (domain.StockLevel, error)
	Increment(ctx context.Context, productID string, quantity int) (domain.StockLevel, error)
	Set(ctx context.Context, productID string, available int) (domain.StockLevel, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// AutomationSettingsRepository persists the runtime automation settings. Load returns a NotFound
// RepositoryError when nothing has been saved yet.
type AutomationSettingsRepository interface {
	Load(ctx context.Context) (domain.AutomationSettings, error)
	Save(ctx context.Context, settings domain.AutomationSettings) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// OrderListFilter narrows admin order listings. A zero Status lists every status.
type OrderListFilter struct {
	Status     domain.OrderStatus
	UserID     string
	Pagination domain.Pagination
}
