package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hanko-field/orderflow/internal/repositories"
)

var (
	// ErrStockInvalidInput signals the caller provided invalid arguments.
	ErrStockInvalidInput = errors.New("stock: invalid input")
	// ErrInsufficientStock indicates the requested quantity exceeds availability.
	ErrInsufficientStock = errors.New("stock: insufficient stock")
	// ErrStockNotFound indicates the product has no stock record.
	ErrStockNotFound = errors.New("stock: product not found")
	// ErrStockUnavailable indicates the stock store could not be reached.
	ErrStockUnavailable = errors.New("stock: unavailable")
)

// InventoryServiceDeps bundles the collaborators required to construct the stock ledger.
type InventoryServiceDeps struct {
	Stock  repositories.StockRepository
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	repo   repositories.StockRepository
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)
}

var _ StockLedger = (*inventoryService)(nil)

// NewInventoryService wires dependencies into a concrete StockLedger implementation.
func NewInventoryService(deps InventoryServiceDeps) (StockLedger, error) {
	if deps.Stock == nil {
		return nil, errors.New("inventory service: stock repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &inventoryService{
		repo: deps.Stock,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *inventoryService) IsAvailable(ctx context.Context, productID string, quantity int) (bool, error) {
	productID, err := validateStockInput(productID, quantity)
	if err != nil {
		return false, err
	}
	level, err := s.repo.Get(ctx, productID)
	if err != nil {
		mapped := s.mapRepositoryError(err)
		if errors.Is(mapped, ErrStockNotFound) {
			return false, nil
		}
		return false, mapped
	}
	return level.Available >= quantity, nil
}

func (s *inventoryService) Decrement(ctx context.Context, productID string, quantity int) (StockLevel, error) {
	productID, err := validateStockInput(productID, quantity)
	if err != nil {
		return StockLevel{}, err
	}
	level, err := s.repo.Decrement(ctx, productID, quantity)
	if err != nil {
		return StockLevel{}, s.mapRepositoryError(err)
	}
	return level, nil
}

func (s *inventoryService) Increment(ctx context.Context, productID string, quantity int) (StockLevel, error) {
	productID, err := validateStockInput(productID, quantity)
	if err != nil {
		return StockLevel{}, err
	}
	level, err := s.repo.Increment(ctx, productID, quantity)
	if err != nil {
		return StockLevel{}, s.mapRepositoryError(err)
	}
	return level, nil
}

func (s *inventoryService) GetStock(ctx context.Context, productID string) (StockLevel, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return StockLevel{}, fmt.Errorf("%w: product id is required", ErrStockInvalidInput)
	}
	level, err := s.repo.Get(ctx, productID)
	if err != nil {
		return StockLevel{}, s.mapRepositoryError(err)
	}
	return level, nil
}

func (s *inventoryService) SetStock(ctx context.Context, productID string, available int) (StockLevel, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return StockLevel{}, fmt.Errorf("%w: product id is required", ErrStockInvalidInput)
	}
	if available < 0 {
		return StockLevel{}, fmt.Errorf("%w: available must not be negative", ErrStockInvalidInput)
	}
	level, err := s.repo.Set(ctx, productID, available)
	if err != nil {
		return StockLevel{}, s.mapRepositoryError(err)
	}
	s.logger(ctx, "stock.set", map[string]any{"productId": productID, "available": level.Available})
	return level, nil
}

// DecrementAll takes every line or none. Lines are aggregated per product and applied in product
// order; when one fails the lines already taken are returned to stock before the error surfaces.
func (s *inventoryService) DecrementAll(ctx context.Context, lines []StockLine) error {
	normalised, err := normaliseStockLines(lines)
	if err != nil {
		return err
	}

	taken := make([]StockLine, 0, len(normalised))
	for _, line := range normalised {
		if _, err := s.repo.Decrement(ctx, line.ProductID, line.Quantity); err != nil {
			s.compensate(ctx, taken)
			return s.mapRepositoryError(err)
		}
		taken = append(taken, line)
	}
	return nil
}

func (s *inventoryService) compensate(ctx context.Context, taken []StockLine) {
	for _, line := range taken {
		if _, err := s.repo.Increment(ctx, line.ProductID, line.Quantity); err != nil {
			s.logger(ctx, "stock.compensate.failed", map[string]any{
				"productId": line.ProductID,
				"quantity":  line.Quantity,
				"error":     err.Error(),
			})
		}
	}
}

func (s *inventoryService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorInsufficient:
			return fmt.Errorf("%w: %s", ErrInsufficientStock, stockErr.ProductID)
		case repositories.StockErrorNotFound:
			return fmt.Errorf("%w: %s", ErrStockNotFound, stockErr.ProductID)
		case repositories.StockErrorInvalidQuantity:
			return fmt.Errorf("%w: %s", ErrStockInvalidInput, stockErr.Message)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrStockNotFound
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrStockUnavailable, err)
		}
	}
	return err
}

func validateStockInput(productID string, quantity int) (string, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return "", fmt.Errorf("%w: product id is required", ErrStockInvalidInput)
	}
	if quantity <= 0 {
		return "", fmt.Errorf("%w: quantity for %s must be positive", ErrStockInvalidInput, productID)
	}
	return productID, nil
}

func normaliseStockLines(lines []StockLine) ([]StockLine, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: at least one line is required", ErrStockInvalidInput)
	}
	aggregated := make(map[string]int, len(lines))
	for _, line := range lines {
		productID, err := validateStockInput(line.ProductID, line.Quantity)
		if err != nil {
			return nil, err
		}
		aggregated[productID] += line.Quantity
	}

	result := make([]StockLine, 0, len(aggregated))
	for productID, quantity := range aggregated {
		result = append(result, StockLine{ProductID: productID, Quantity: quantity})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ProductID < result[j].ProductID })
	return result, nil
}
