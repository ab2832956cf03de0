// Package firestore implements the repositories on Cloud Firestore. Orders live under
// orders/{orderNumber}, stock under stock/{productId} and counters under counters/{id}.
package firestore

import (
	"context"
	"fmt"
	"time"

	pfirestore "github.com/hanko-field/orderflow/internal/platform/firestore"
	"github.com/hanko-field/orderflow/internal/repositories"
)

// Registry wires every Firestore repository to a shared provider.
type Registry struct {
	provider *pfirestore.Provider
	orders   *OrderRepository
	stock    *StockRepository
	counters *CounterRepository
	settings *AutomationSettingsRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds the Firestore repositories. clock stamps stock and counter updates.
func NewRegistry(provider *pfirestore.Provider, clock func() time.Time) (*Registry, error) {
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("firestore registry: %w", err)
	}
	stock, err := NewStockRepository(provider, clock)
	if err != nil {
		return nil, fmt.Errorf("firestore registry: %w", err)
	}
	counters, err := NewCounterRepository(provider, clock)
	if err != nil {
		return nil, fmt.Errorf("firestore registry: %w", err)
	}
	settings, err := NewAutomationSettingsRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("firestore registry: %w", err)
	}
	return &Registry{
		provider: provider,
		orders:   orders,
		stock:    stock,
		counters: counters,
		settings: settings,
	}, nil
}

func (r *Registry) Close(ctx context.Context) error { return r.provider.Close(ctx) }

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) Stock() repositories.StockRepository { return r.stock }

func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

func (r *Registry) AutomationSettings() repositories.AutomationSettingsRepository {
	return r.settings
}

func (r *Registry) HealthChecks() []repositories.DependencyCheck {
	return []repositories.DependencyCheck{{Name: "firestore", Critical: true, Check: r.provider.Ping}}
}
