package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/govalues/decimal"
	"github.com/jackc/pgx/v5"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/platform/pagination"
	"github.com/hanko-field/orderflow/internal/repositories"
)

var orderColumns = []string{
	"id", "order_number", "user_id", "status", "order_date", "items", "total::text", "updated_at", "cancelled_at",
}

type orderItemRow struct {
	ProductID   string `json:"productId"`
	ProductName string `json:"productName,omitempty"`
	Image       string `json:"image,omitempty"`
	Quantity    int    `json:"quantity"`
	Price       string `json:"price"`
}

// OrderRepository stores orders in the orders table with items embedded as JSONB.
type OrderRepository struct {
	db *DB
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

func NewOrderRepository(db *DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	items, err := encodeItems(order.Items)
	if err != nil {
		return wrapError("orders.insert", err)
	}
	statement := r.db.QueryBuilder.Insert("orders").
		Columns("id", "order_number", "user_id", "status", "order_date", "items", "total", "updated_at", "cancelled_at").
		Values(order.ID, order.OrderNumber, order.UserID, order.Status.String(), order.OrderDate.UTC(),
			items, sq.Expr("?::numeric", order.Total.String()), order.UpdatedAt.UTC(), order.CancelledAt)

	sql, args, err := statement.ToSql()
	if err != nil {
		return wrapError("orders.insert", err)
	}
	if _, err := r.db.Pool.Exec(ctx, sql, args...); err != nil {
		return wrapError("orders.insert", err)
	}
	return nil
}

func (r *OrderRepository) FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	statement := r.db.QueryBuilder.Select(orderColumns...).From("orders").Where(sq.Eq{"order_number": orderNumber})
	sql, args, err := statement.ToSql()
	if err != nil {
		return domain.Order{}, wrapError("orders.get", err)
	}
	order, err := scanOrder(r.db.Pool.QueryRow(ctx, sql, args...))
	if err != nil {
		return domain.Order{}, wrapError("orders.get", err)
	}
	return order, nil
}

func (r *OrderRepository) ListDue(ctx context.Context, status domain.OrderStatus, cutoff time.Time) ([]domain.Order, error) {
	statement := r.db.QueryBuilder.Select(orderColumns...).From("orders").
		Where(sq.Eq{"status": status.String()}).
		Where(sq.LtOrEq{"order_date": cutoff.UTC()}).
		OrderBy("order_date ASC", "order_number ASC")
	return r.query(ctx, "orders.list_due", statement)
}

func (r *OrderRepository) ListByUser(ctx context.Context, userID string, page domain.Pagination) (domain.CursorPage[domain.Order], error) {
	return r.List(ctx, repositories.OrderListFilter{UserID: userID, Pagination: page})
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, wrapError("orders.list", err)
	}
	size := pagination.Normalize(filter.Pagination.PageSize)

	statement := r.db.QueryBuilder.Select(orderColumns...).From("orders")
	if filter.Status != 0 {
		statement = statement.Where(sq.Eq{"status": filter.Status.String()})
	}
	if filter.UserID != "" {
		statement = statement.Where(sq.Eq{"user_id": filter.UserID})
	}
	if !cursor.IsZero() {
		statement = statement.Where(sq.Or{
			sq.Lt{"order_date": cursor.Time.UTC()},
			sq.And{sq.Eq{"order_date": cursor.Time.UTC()}, sq.Lt{"order_number": cursor.Key}},
		})
	}
	statement = statement.OrderBy("order_date DESC", "order_number DESC").Limit(uint64(size + 1))

	orders, err := r.query(ctx, "orders.list", statement)
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
	var (
		result domain.Order
		fnErr  error
	)
	err := pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		selectSQL, args, err := r.db.QueryBuilder.Select(orderColumns...).From("orders").
			Where(sq.Eq{"order_number": orderNumber}).
			Suffix("FOR UPDATE").
			ToSql()
		if err != nil {
			return err
		}
		order, err := scanOrder(tx.QueryRow(ctx, selectSQL, args...))
		if err != nil {
			return wrapError("orders.mutate", err)
		}
		if fnErr = fn(&order); fnErr != nil {
			return fnErr
		}
		order.OrderNumber = orderNumber

		items, err := encodeItems(order.Items)
		if err != nil {
			return err
		}
		updateSQL, args, err := r.db.QueryBuilder.Update("orders").
			Set("status", order.Status.String()).
			Set("items", items).
			Set("total", sq.Expr("?::numeric", order.Total.String())).
			Set("updated_at", order.UpdatedAt.UTC()).
			Set("cancelled_at", order.CancelledAt).
			Where(sq.Eq{"order_number": orderNumber}).
			ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, updateSQL, args...); err != nil {
			return err
		}
		result = order
		return nil
	})
	if err != nil {
		if fnErr != nil && errors.Is(err, fnErr) {
			return domain.Order{}, fnErr
		}
		return domain.Order{}, wrapError("orders.mutate", err)
	}
	return result, nil
}

func (r *OrderRepository) query(ctx context.Context, op string, statement sq.SelectBuilder) ([]domain.Order, error) {
	sql, args, err := statement.ToSql()
	if err != nil {
		return nil, wrapError(op, err)
	}
	rows, err := r.db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, wrapError(op, err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, wrapError(op, err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError(op, err)
	}
	return orders, nil
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		order       domain.Order
		status      string
		items       []byte
		total       string
		cancelledAt *time.Time
	)
	if err := row.Scan(&order.ID, &order.OrderNumber, &order.UserID, &status, &order.OrderDate,
		&items, &total, &order.UpdatedAt, &cancelledAt); err != nil {
		return domain.Order{}, err
	}

	parsed, err := domain.ParseOrderStatus(status)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order %s: %w", order.OrderNumber, err)
	}
	order.Status = parsed
	if order.Total, err = decimal.Parse(total); err != nil {
		return domain.Order{}, fmt.Errorf("order %s total: %w", order.OrderNumber, err)
	}
	if order.Items, err = decodeItems(items); err != nil {
		return domain.Order{}, fmt.Errorf("order %s items: %w", order.OrderNumber, err)
	}
	order.OrderDate = order.OrderDate.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	if cancelledAt != nil {
		utc := cancelledAt.UTC()
		order.CancelledAt = &utc
	}
	return order, nil
}

func encodeItems(items []domain.OrderItem) ([]byte, error) {
	rows := make([]orderItemRow, 0, len(items))
	for _, item := range items {
		rows = append(rows, orderItemRow{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Image:       item.Image,
			Quantity:    item.Quantity,
			Price:       item.Price.String(),
		})
	}
	return json.Marshal(rows)
}

func decodeItems(raw []byte) ([]domain.OrderItem, error) {
	var rows []orderItemRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	items := make([]domain.OrderItem, 0, len(rows))
	for _, row := range rows {
		price, err := decimal.Parse(row.Price)
		if err != nil {
			return nil, err
		}
		items = append(items, domain.OrderItem{
			ProductID:   row.ProductID,
			ProductName: row.ProductName,
			Image:       row.Image,
			Quantity:    row.Quantity,
			Price:       price,
		})
	}
	return items, nil
}
