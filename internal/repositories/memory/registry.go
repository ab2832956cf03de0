// Package memory provides process-local repositories for tests and single-instance development
// runs. Nothing is persisted across restarts.
package memory

import (
	"context"
	"sync"
	"time"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/repositories"
)

// Registry bundles the in-memory repositories.
type Registry struct {
	orders   *OrderRepository
	stock    *StockRepository
	counters *CounterRepository
	settings *AutomationSettingsRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs empty in-memory repositories. clock stamps stock updates and may be nil.
func NewRegistry(clock func() time.Time) *Registry {
	return &Registry{
		orders:   NewOrderRepository(),
		stock:    NewStockRepository(clock),
		counters: NewCounterRepository(),
		settings: &AutomationSettingsRepository{},
	}
}

func (r *Registry) Close(context.Context) error { return nil }

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) Stock() repositories.StockRepository { return r.stock }

func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

func (r *Registry) AutomationSettings() repositories.AutomationSettingsRepository { return r.settings }

func (r *Registry) HealthChecks() []repositories.DependencyCheck {
	return []repositories.DependencyCheck{{
		Name:     "memory",
		Critical: true,
		Check:    func(context.Context) error { return nil },
	}}
}

// CounterRepository hands out monotonically increasing sequence values.
type CounterRepository struct {
	mu     sync.Mutex
	values map[string]int64
}

func NewCounterRepository() *CounterRepository {
	return &CounterRepository{values: make(map[string]int64)}
}

func (r *CounterRepository) Next(_ context.Context, counterID string, step int64) (int64, error) {
	if err := repositories.ValidateCounterInput("counters.next", counterID, step); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[counterID] += step
	return r.values[counterID], nil
}

// AutomationSettingsRepository stores a single settings snapshot.
type AutomationSettingsRepository struct {
	mu       sync.Mutex
	settings *domain.AutomationSettings
}

func (r *AutomationSettingsRepository) Load(context.Context) (domain.AutomationSettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.settings == nil {
		return domain.AutomationSettings{}, notFound("automation_settings.load")
	}
	return *r.settings, nil
}

func (r *AutomationSettingsRepository) Save(_ context.Context, settings domain.AutomationSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings = &settings
	return nil
}
