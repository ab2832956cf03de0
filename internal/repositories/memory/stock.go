package memory

import (
	"context"
	"sync"
	"time"

	domain "github.com/hanko-field/orderflow/internal/domain"
	"github.com/hanko-field/orderflow/internal/repositories"
)

// StockRepository is a mutex-guarded stock ledger. Every update checks and writes under the lock,
// so decrements are atomic per product.
type StockRepository struct {
	mu    sync.Mutex
	stock map[string]domain.StockLevel
	now   func() time.Time
}

var _ repositories.StockRepository = (*StockRepository)(nil)

func NewStockRepository(clock func() time.Time) *StockRepository {
	if clock == nil {
		clock = time.Now
	}
	return &StockRepository{stock: make(map[string]domain.StockLevel), now: clock}
}

func (r *StockRepository) Get(_ context.Context, productID string) (domain.StockLevel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	level, ok := r.stock[productID]
	if !ok {
		return domain.StockLevel{}, repositories.NewStockError("stock.get", repositories.StockErrorNotFound, productID, nil)
	}
	return level, nil
}

func (r *StockRepository) Decrement(_ context.Context, productID string, quantity int) (domain.StockLevel, error) {
	const op = "stock.decrement"
	if quantity <= 0 {
		return domain.StockLevel{}, repositories.NewStockError(op, repositories.StockErrorInvalidQuantity, productID, nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	level, ok := r.stock[productID]
	if !ok {
		return domain.StockLevel{}, repositories.NewStockError(op, repositories.StockErrorNotFound, productID, nil)
	}
	if level.Available < quantity {
		return domain.StockLevel{}, repositories.NewStockError(op, repositories.StockErrorInsufficient, productID, nil)
	}
	level.Available -= quantity
	level.UpdatedAt = r.now().UTC()
	r.stock[productID] = level
	return level, nil
}

func (r *StockRepository) Increment(_ context.Context, productID string, quantity int) (domain.StockLevel, error) {
	const op = "stock.increment"
	if quantity <= 0 {
		return domain.StockLevel{}, repositories.NewStockError(op, repositories.StockErrorInvalidQuantity, productID, nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	level, ok := r.stock[productID]
	if !ok {
		return domain.StockLevel{}, repositories.NewStockError(op, repositories.StockErrorNotFound, productID, nil)
	}
	level.Available += quantity
	level.UpdatedAt = r.now().UTC()
	r.stock[productID] = level
	return level, nil
}

func (r *StockRepository) Set(_ context.Context, productID string, available int) (domain.StockLevel, error) {
	if available < 0 {
		return domain.StockLevel{}, repositories.NewStockError("stock.set", repositories.StockErrorInvalidQuantity, productID, nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	level := domain.StockLevel{ProductID: productID, Available: available, UpdatedAt: r.now().UTC()}
	r.stock[productID] = level
	return level, nil
}
