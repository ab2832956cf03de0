package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hanko-field/orderflow/internal/repositories"
)

const backendName = "postgres"

// wrapError classifies pgx errors as repositories.StoreError. Context errors pass through.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var classified repositories.RepositoryError
	if errors.As(err, &classified) {
		return err
	}
	return repositories.NewStoreError(backendName, op, classify(err), err)
}

func classify(err error) repositories.ErrorKind {
	if errors.Is(err, pgx.ErrNoRows) {
		return repositories.KindNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgerrcode.UniqueViolation,
			pgErr.Code == pgerrcode.SerializationFailure,
			pgErr.Code == pgerrcode.DeadlockDetected,
			pgErr.Code == pgerrcode.CheckViolation:
			return repositories.KindConflict
		case pgerrcode.IsConnectionException(pgErr.Code),
			pgerrcode.IsInsufficientResources(pgErr.Code),
			pgErr.Code == pgerrcode.AdminShutdown,
			pgErr.Code == pgerrcode.CannotConnectNow:
			return repositories.KindUnavailable
		}
		return repositories.KindUnknown
	}
	if pgconn.SafeToRetry(err) {
		return repositories.KindUnavailable
	}
	return repositories.KindUnknown
}
