package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/govalues/decimal"

	domain "github.com/hanko-field/orderflow/internal/domain"
	pfirestore "github.com/hanko-field/orderflow/internal/platform/firestore"
	"github.com/hanko-field/orderflow/internal/platform/pagination"
	"github.com/hanko-field/orderflow/internal/repositories"
)

const ordersCollection = "orders"

type orderDocument struct {
	ID          string              `firestore:"id"`
	OrderNumber string              `firestore:"orderNumber"`
	UserID      string              `firestore:"userId"`
	Status      string              `firestore:"status"`
	OrderDate   time.Time           `firestore:"orderDate"`
	Items       []orderItemDocument `firestore:"items"`
	Total       string              `firestore:"total"`
	UpdatedAt   time.Time           `firestore:"updatedAt"`
	CancelledAt *time.Time          `firestore:"cancelledAt,omitempty"`
}

type orderItemDocument struct {
	ProductID   string `firestore:"productId"`
	ProductName string `firestore:"productName,omitempty"`
	Image       string `firestore:"image,omitempty"`
	Quantity    int64  `firestore:"quantity"`
	Price       string `firestore:"price"`
}

// OrderRepository stores orders keyed by order number so that lookups and per-order
// transactions address a single document.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.Collection[orderDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewCollection[orderDocument](provider, ordersCollection),
	}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	return r.orders.Create(ctx, order.OrderNumber, encodeOrder(order))
}

func (r *OrderRepository) FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, orderNumber)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(doc)
}

func (r *OrderRepository) ListDue(ctx context.Context, status domain.OrderStatus, cutoff time.Time) ([]domain.Order, error) {
	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("status", "==", status.String()).
			Where("orderDate", "<=", cutoff.UTC()).
			OrderBy("orderDate", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	return decodeOrders(docs)
}

func (r *OrderRepository) ListByUser(ctx context.Context, userID string, page domain.Pagination) (domain.CursorPage[domain.Order], error) {
	return r.List(ctx, repositories.OrderListFilter{UserID: userID, Pagination: page})
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
	}
	size := pagination.Normalize(filter.Pagination.PageSize)

	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.Status != 0 {
			q = q.Where("status", "==", filter.Status.String())
		}
		if filter.UserID != "" {
			q = q.Where("userId", "==", filter.UserID)
		}
		q = q.OrderBy("orderDate", firestore.Desc).OrderBy("orderNumber", firestore.Desc)
		if !cursor.IsZero() {
			q = q.StartAfter(cursor.Time, cursor.Key)
		}
		return q.Limit(size + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	orders, err := decodeOrders(docs)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	page := domain.CursorPage[domain.Order]{Items: orders}
	if len(orders) > size {
		page.Items = orders[:size]
		last := page.Items[size-1]
		page.NextPageToken, _ = pagination.EncodeToken(pagination.Cursor{Time: last.OrderDate, Key: last.OrderNumber})
	}
	return page, nil
}

func (r *OrderRepository) Mutate(ctx context.Context, orderNumber string, fn repositories.OrderMutation) (domain.Order, error) {
	var result domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.orders.Ref(ctx, orderNumber)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return pfirestore.WrapError("orders.mutate", err)
		}
		doc, err := r.orders.Decode(snap)
		if err != nil {
			return err
		}
		order, err := decodeOrder(doc)
		if err != nil {
			return err
		}
		if err := fn(&order); err != nil {
			return err
		}
		order.OrderNumber = orderNumber
		result = order
		return tx.Set(ref, encodeOrder(order))
	})
	if err != nil {
		return domain.Order{}, err
	}
	return result, nil
}

func encodeOrder(order domain.Order) orderDocument {
	items := make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDocument{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Image:       item.Image,
			Quantity:    int64(item.Quantity),
			Price:       item.Price.String(),
		})
	}
	doc := orderDocument{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Status:      order.Status.String(),
		OrderDate:   order.OrderDate.UTC(),
		Items:       items,
		Total:       order.Total.String(),
		UpdatedAt:   order.UpdatedAt.UTC(),
	}
	if order.CancelledAt != nil {
		cancelledAt := order.CancelledAt.UTC()
		doc.CancelledAt = &cancelledAt
	}
	return doc
}

func decodeOrder(doc orderDocument) (domain.Order, error) {
	status, err := domain.ParseOrderStatus(doc.Status)
	if err != nil {
		return domain.Order{}, fmt.Errorf("orders.decode %s: %w", doc.OrderNumber, err)
	}
	total, err := decimal.Parse(doc.Total)
	if err != nil {
		return domain.Order{}, fmt.Errorf("orders.decode %s total: %w", doc.OrderNumber, err)
	}
	items := make([]domain.OrderItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		price, err := decimal.Parse(item.Price)
		if err != nil {
			return domain.Order{}, fmt.Errorf("orders.decode %s price: %w", doc.OrderNumber, err)
		}
		items = append(items, domain.OrderItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Image:       item.Image,
			Quantity:    int(item.Quantity),
			Price:       price,
		})
	}
	order := domain.Order{
		ID:          doc.ID,
		OrderNumber: doc.OrderNumber,
		UserID:      doc.UserID,
		Status:      status,
		OrderDate:   doc.OrderDate.UTC(),
		Items:       items,
		Total:       total,
		UpdatedAt:   doc.UpdatedAt.UTC(),
	}
	if doc.CancelledAt != nil {
		cancelledAt := doc.CancelledAt.UTC()
		order.CancelledAt = &cancelledAt
	}
	return order, nil
}

func decodeOrders(docs []orderDocument) ([]domain.Order, error) {
	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		order, err := decodeOrder(doc)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}
