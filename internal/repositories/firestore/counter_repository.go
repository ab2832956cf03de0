package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/hanko-field/orderflow/internal/platform/firestore"
	"github.com/hanko-field/orderflow/internal/repositories"
)

const countersCollection = "counters"

type counterDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// CounterRepository implements repositories.CounterRepository backed by Firestore transactions.
type CounterRepository struct {
	provider *pfirestore.Provider
	counters *pfirestore.Collection[counterDocument]
	now      func() time.Time
}

// NewCounterRepository constructs a Firestore-backed counter repository.
func NewCounterRepository(provider *pfirestore.Provider, clock func() time.Time) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	if clock == nil {
		clock = time.Now
	}
	return &CounterRepository{
		provider: provider,
		counters: pfirestore.NewCollection[counterDocument](provider, countersCollection),
		now:      clock,
	}, nil
}

// Next atomically increments the counter identified by counterID and returns the new value. The
// first call for an id creates the counter at step.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	const op = "counters.next"
	if err := repositories.ValidateCounterInput(op, counterID, step); err != nil {
		return 0, err
	}

	var next int64
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.counters.Ref(ctx, counterID)
		if err != nil {
			return err
		}
		doc := counterDocument{UpdatedAt: r.now().UTC()}

		snap, err := tx.Get(ref)
		switch status.Code(err) {
		case codes.NotFound:
			doc.CurrentValue = step
			next = doc.CurrentValue
			return tx.Create(ref, doc)
		case codes.OK:
		default:
			return err
		}

		current, err := r.counters.Decode(snap)
		if err != nil {
			return fmt.Errorf("%s %s: %w", op, counterID, err)
		}
		doc.CurrentValue = current.CurrentValue + step
		next = doc.CurrentValue
		return tx.Set(ref, doc)
	})
	if err != nil {
		return 0, pfirestore.WrapError(op, err)
	}
	return next, nil
}
