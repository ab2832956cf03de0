package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/hanko-field/orderflow/internal/domain"
	pfirestore "github.com/hanko-field/orderflow/internal/platform/firestore"
	"github.com/hanko-field/orderflow/internal/repositories"
)

const stockCollection = "stock"

type stockDocument struct {
	ProductID string    `firestore:"productId"`
	Available int64     `firestore:"available"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (d stockDocument) domain() domain.StockLevel {
	return domain.StockLevel{ProductID: d.ProductID, Available: int(d.Available), UpdatedAt: d.UpdatedAt.UTC()}
}

// StockRepository keeps one document per product under stock/{productId}. Every change is a
// transactional read-check-write so concurrent decrements never oversell.
type StockRepository struct {
	provider *pfirestore.Provider
	stock    *pfirestore.Collection[stockDocument]
	now      func() time.Time
}

var _ repositories.StockRepository = (*StockRepository)(nil)

func NewStockRepository(provider *pfirestore.Provider, clock func() time.Time) (*StockRepository, error) {
	if provider == nil {
		return nil, errors.New("stock repository requires firestore provider")
	}
	if clock == nil {
		clock = time.Now
	}
	return &StockRepository{
		provider: provider,
		stock:    pfirestore.NewCollection[stockDocument](provider, stockCollection),
		now:      clock,
	}, nil
}

func (r *StockRepository) Get(ctx context.Context, productID string) (domain.StockLevel, error) {
	doc, err := r.stock.Get(ctx, productID)
	if err != nil {
		if repositories.IsKind(err, repositories.KindNotFound) {
			return domain.StockLevel{}, repositories.NewStockError("stock.get", repositories.StockErrorNotFound, productID, err)
		}
		return domain.StockLevel{}, err
	}
	return doc.domain(), nil
}

func (r *StockRepository) Decrement(ctx context.Context, productID string, quantity int) (domain.StockLevel, error) {
	const op = "stock.decrement"
	if quantity <= 0 {
		return domain.StockLevel{}, repositories.NewStockError(op, repositories.StockErrorInvalidQuantity, productID, nil)
	}
	return r.adjust(ctx, op, productID, -quantity)
}

func (r *StockRepository) Increment(ctx context.Context, productID string, quantity int) (domain.StockLevel, error) {
	const op = "stock.increment"
	if quantity <= 0 {
		return domain.StockLevel{}, repositories.NewStockError(op, repositories.StockErrorInvalidQuantity, productID, nil)
	}
	return r.adjust(ctx, op, productID, quantity)
}

func (r *StockRepository) Set(ctx context.Context, productID string, available int) (domain.StockLevel, error) {
	if available < 0 {
		return domain.StockLevel{}, repositories.NewStockError("stock.set", repositories.StockErrorInvalidQuantity, productID, nil)
	}
	doc := stockDocument{ProductID: productID, Available: int64(available), UpdatedAt: r.now().UTC()}
	if err := r.stock.Set(ctx, productID, doc); err != nil {
		return domain.StockLevel{}, err
	}
	return doc.domain(), nil
}

func (r *StockRepository) adjust(ctx context.Context, op, productID string, delta int) (domain.StockLevel, error) {
	var result stockDocument
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.stock.Ref(ctx, productID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return repositories.NewStockError(op, repositories.StockErrorNotFound, productID, nil)
		}
		if err != nil {
			return err
		}
		doc, err := r.stock.Decode(snap)
		if err != nil {
			return err
		}
		if doc.Available+int64(delta) < 0 {
			return repositories.NewStockError(op, repositories.StockErrorInsufficient, productID, nil)
		}
		doc.ProductID = productID
		doc.Available += int64(delta)
		doc.UpdatedAt = r.now().UTC()
		result = doc
		return tx.Set(ref, doc)
	})
	if err != nil {
		var stockErr *repositories.StockError
		if errors.As(err, &stockErr) {
			return domain.StockLevel{}, stockErr
		}
		return domain.StockLevel{}, pfirestore.WrapError(op, err)
	}
	return result.domain(), nil
}
