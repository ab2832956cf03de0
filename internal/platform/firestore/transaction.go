package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

// TxFunc runs inside a Firestore transaction. Firestore replays it on contention, so it must
// only touch state through tx.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// TxOption adjusts a single RunTransaction call.
type TxOption func(*txPolicy)

type txPolicy struct {
	attempts int
	budget   time.Duration
	readOnly bool
}

var defaultTxPolicy = txPolicy{attempts: 5, budget: 15 * time.Second}

// WithTxAttempts bounds how often Firestore replays fn on contention.
func WithTxAttempts(attempts int) TxOption {
	return func(p *txPolicy) {
		if attempts > 0 {
			p.attempts = attempts
		}
	}
}

// WithTxTimeout caps the whole transaction, replays included. A tighter caller deadline wins.
func WithTxTimeout(budget time.Duration) TxOption {
	return func(p *txPolicy) {
		if budget > 0 {
			p.budget = budget
		}
	}
}

// ReadOnly runs a consistent multi-document read without taking write locks.
func ReadOnly() TxOption {
	return func(p *txPolicy) { p.readOnly = true }
}

func (p txPolicy) firestoreOptions() []firestore.TransactionOption {
	opts := []firestore.TransactionOption{firestore.MaxAttempts(p.attempts)}
	if p.readOnly {
		opts = append(opts, firestore.ReadOnly)
	}
	return opts
}

// RunTransaction runs fn on client. An error returned by fn comes back as-is so callers can match
// their own sentinels; only Firestore failures are wrapped.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc, opts ...TxOption) error {
	switch {
	case client == nil:
		return WrapError("transaction", errors.New("client is nil"))
	case fn == nil:
		return WrapError("transaction", errors.New("transaction function is nil"))
	}

	policy := defaultTxPolicy
	for _, opt := range opts {
		if opt != nil {
			opt(&policy)
		}
	}
	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > policy.budget {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, policy.budget)
		defer cancel()
	}

	var fnErr error
	err := client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		fnErr = fn(ctx, tx)
		return fnErr
	}, policy.firestoreOptions()...)
	if err != nil && fnErr != nil && errors.Is(err, fnErr) {
		return fnErr
	}
	return WrapError("transaction", err)
}
