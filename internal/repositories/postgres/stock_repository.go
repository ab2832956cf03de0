package postgres

import (
	"context"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/repositories"
)

// StockRepository keeps availability in the stock table. Decrement is one conditional UPDATE so
// the database serialises concurrent buyers of the last unit.
type StockRepository struct {
	db  *DB
	now func() time.Time
}

var _ repositories.StockRepository = (*StockRepository)(nil)

func NewStockRepository(db *DB, clock func() time.Time) *StockRepository {
	if clock == nil {
		clock = time.Now
	}
	return &StockRepository{db: db, now: clock}
}

func (r *StockRepository) Get(ctx context.Context, productID string) (domain.StockLevel, error) {
	sql, args, err := r.db.QueryBuilder.Select("product_id", "available", "updated_at").
		From("stock").
		Where(sq.Eq{"product_id": productID}).
		ToSql()
	if err != nil {
		return domain.StockLevel{}, wrapError("stock.get", err)
	}
	level, err := scanStock(r.db.Pool.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.StockLevel{}, repositories.NewStockError("stock.get", repositories.StockErrorNotFound, productID, err)
	}
	if err != nil {
		return domain.StockLevel{}, wrapError("stock.get", err)
	}
	return level, nil
}

func (r *StockRepository) Decrement(ctx context.Context, productID string, quantity int) (domain.StockLevel, error) {
	const op = "stock.decrement"
	if quantity <= 0 {
		return domain.StockLevel{}, repositories.NewStockError(op, repositories.StockErrorInvalidQuantity, productID, nil)
	}
	statement := r.db.QueryBuilder.Update("stock").
		Set("available", sq.Expr("available - ?", quantity)).
		Set("updated_at", r.now().UTC()).
		Where(sq.Eq{"product_id": productID}).
		Where(sq.GtOrEq{"available": quantity})

	level, err := r.update(ctx, statement)
	if errors.Is(err, pgx.ErrNoRows) {
		// Nothing matched: either the product is unknown or it lacks stock.
		if _, getErr := r.Get(ctx, productID); getErr != nil {
			return domain.StockLevel{}, getErr
		}
		return domain.StockLevel{}, repositories.NewStockError(op, repositories.StockErrorInsufficient, productID, nil)
	}
	if err != nil {
		return domain.StockLevel{}, wrapError(op, err)
	}
	return level, nil
}

func (r *StockRepository) Increment(ctx context.Context, productID string, quantity int) (domain.StockLevel, error) {
	const op = "stock.increment"
	if quantity <= 0 {
		return domain.StockLevel{}, repositories.NewStockError(op, repositories.StockErrorInvalidQuantity, productID, nil)
	}
	statement := r.db.QueryBuilder.Update("stock").
		Set("available", sq.Expr("available + ?", quantity)).
		Set("updated_at", r.now().UTC()).
		Where(sq.Eq{"product_id": productID})

	level, err := r.update(ctx, statement)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.StockLevel{}, repositories.NewStockError(op, repositories.StockErrorNotFound, productID, err)
	}
	if err != nil {
		return domain.StockLevel{}, wrapError(op, err)
	}
	return level, nil
}

func (r *StockRepository) Set(ctx context.Context, productID string, available int) (domain.StockLevel, error) {
	const op = "stock.set"
	if available < 0 {
		return domain.StockLevel{}, repositories.NewStockError(op, repositories.StockErrorInvalidQuantity, productID, nil)
	}
	sql, args, err := r.db.QueryBuilder.Insert("stock").
		Columns("product_id", "available", "updated_at").
		Values(productID, available, r.now().UTC()).
		Suffix("ON CONFLICT (product_id) DO UPDATE SET available = EXCLUDED.available, updated_at = EXCLUDED.updated_at").
		Suffix("RETURNING product_id, available, updated_at").
		ToSql()
	if err != nil {
		return domain.StockLevel{}, wrapError(op, err)
	}
	level, err := scanStock(r.db.Pool.QueryRow(ctx, sql, args...))
	if err != nil {
		return domain.StockLevel{}, wrapError(op, err)
	}
	return level, nil
}

func (r *StockRepository) update(ctx context.Context, statement sq.UpdateBuilder) (domain.StockLevel, error) {
	sql, args, err := statement.Suffix("RETURNING product_id, available, updated_at").ToSql()
	if err != nil {
		return domain.StockLevel{}, err
	}
	return scanStock(r.db.Pool.QueryRow(ctx, sql, args...))
}

func scanStock(row pgx.Row) (domain.StockLevel, error) {
	var level domain.StockLevel
	if err := row.Scan(&level.ProductID, &level.Available, &level.UpdatedAt); err != nil {
		return domain.StockLevel{}, err
	}
	level.UpdatedAt = level.UpdatedAt.UTC()
	return level, nil
}
