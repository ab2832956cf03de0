package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanko-field/orderflow/internal/repositories"
)

func TestWrapErrorClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind repositories.ErrorKind
	}{
		{name: "no rows", err: pgx.ErrNoRows, kind: repositories.KindNotFound},
		{name: "unique", err: &pgconn.PgError{Code: pgerrcode.UniqueViolation}, kind: repositories.KindConflict},
		{name: "serialization", err: fmt.Errorf("tx: %w", &pgconn.PgError{Code: pgerrcode.SerializationFailure}), kind: repositories.KindConflict},
		{name: "connection", err: &pgconn.PgError{Code: pgerrcode.ConnectionFailure}, kind: repositories.KindUnavailable},
		{name: "syntax", err: &pgconn.PgError{Code: pgerrcode.SyntaxError}, kind: repositories.KindUnknown},
		{name: "other", err: errors.New("boom"), kind: repositories.KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := wrapError("stock.decrement", tc.err)

			var storeErr *repositories.StoreError
			require.ErrorAs(t, wrapped, &storeErr)
			assert.Equal(t, tc.kind, storeErr.Kind)
			assert.Equal(t, "postgres", storeErr.Backend)
			assert.ErrorIs(t, wrapped, tc.err)
		})
	}
}

func TestWrapErrorPassThrough(t *testing.T) {
	assert.NoError(t, wrapError("op", nil))
	assert.ErrorIs(t, wrapError("op", context.Canceled), context.Canceled)

	already := repositories.NewStoreError("postgres", "orders.get", repositories.KindNotFound, nil)
	assert.Same(t, already, wrapError("orders.mutate", already))
}
