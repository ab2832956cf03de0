package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/platform/pagination"
	"github.com/hanko-field/orderflow/internal/repositories"
)

// OrderRepository keeps orders in a map keyed by order number. A single mutex serialises every
// write, which gives Mutate the same isolation a backend transaction would.
type OrderRepository struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{orders: make(map[string]domain.Order)}
}

func (r *OrderRepository) Insert(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.orders[order.OrderNumber]; exists {
		return conflict("orders.insert")
	}
	r.orders[order.OrderNumber] = cloneOrder(order)
	return nil
}

func (r *OrderRepository) FindByNumber(_ context.Context, orderNumber string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	order, ok := r.orders[orderNumber]
	if !ok {
		return domain.Order{}, notFound("orders.get")
	}
	return cloneOrder(order), nil
}

func (r *OrderRepository) ListDue(_ context.Context, status domain.OrderStatus, cutoff time.Time) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var due []domain.Order
	for _, order := range r.orders {
		if order.Status == status && !order.OrderDate.After(cutoff) {
			due = append(due, cloneOrder(order))
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].OrderDate.Equal(due[j].OrderDate) {
			return due[i].OrderNumber < due[j].OrderNumber
		}
		return due[i].OrderDate.Before(due[j].OrderDate)
	})
	return due, nil
}

func (r *OrderRepository) ListByUser(ctx context.Context, userID string, page domain.Pagination) (domain.CursorPage[domain.Order], error) {
	return r.List(ctx, repositories.OrderListFilter{UserID: userID, Pagination: page})
}

func (r *OrderRepository) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, repositories.NewStoreError(backendName, "orders.list", repositories.KindUnknown, err)
	}

	r.mu.RLock()
	matched := make([]domain.Order, 0, len(r.orders))
	for _, order := range r.orders {
		if filter.Status != 0 && order.Status != filter.Status {
			continue
		}
		if filter.UserID != "" && order.UserID != filter.UserID {
			continue
		}
		if !cursor.Before(order.OrderDate, order.OrderNumber) {
			continue
		}
		matched = append(matched, cloneOrder(order))
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].OrderDate.Equal(matched[j].OrderDate) {
			return matched[i].OrderNumber > matched[j].OrderNumber
		}
		return matched[i].OrderDate.After(matched[j].OrderDate)
	})

	size := pagination.Normalize(filter.Pagination.PageSize)
	page := domain.CursorPage[domain.Order]{Items: matched}
	if len(matched) > size {
		page.Items = matched[:size]
		last := page.Items[size-1]
		page.NextPageToken, _ = pagination.EncodeToken(pagination.Cursor{Time: last.OrderDate, Key: last.OrderNumber})
	}
	return page, nil
}

func (r *OrderRepository) Mutate(_ context.Context, orderNumber string, fn repositories.OrderMutation) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.orders[orderNumber]
	if !ok {
		return domain.Order{}, notFound("orders.mutate")
	}
	working := cloneOrder(current)
	if err := fn(&working); err != nil {
		return domain.Order{}, err
	}
	working.OrderNumber = current.OrderNumber
	r.orders[orderNumber] = cloneOrder(working)
	return working, nil
}

func cloneOrder(order domain.Order) domain.Order {
	order.Items = append([]domain.OrderItem(nil), order.Items...)
	if order.CancelledAt != nil {
		cancelledAt := *order.CancelledAt
		order.CancelledAt = &cancelledAt
	}
	return order
}
