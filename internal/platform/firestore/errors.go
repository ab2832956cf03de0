package firestore

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hanko-field/orderflow/internal/repositories"
)

const backendName = "firestore"

// WrapError classifies a Firestore/gRPC error as a repositories.StoreError. Context errors and
// errors that are already classified pass through untouched.
func WrapError(op string, err error) error {
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

	switch status.Code(err) {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}
	return repositories.NewStoreError(backendName, op, kindOf(status.Code(err)), err)
}

func kindOf(code codes.Code) repositories.ErrorKind {
	switch code {
	case codes.NotFound:
		return repositories.KindNotFound
	case codes.AlreadyExists, codes.FailedPrecondition, codes.Aborted, codes.OutOfRange:
		return repositories.KindConflict
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal:
		return repositories.KindUnavailable
	default:
		return repositories.KindUnknown
	}
}

// NotFoundError marks a document that decoded as absent.
func NotFoundError(op string, err error) error {
	return repositories.NewStoreError(backendName, op, repositories.KindNotFound, err)
}
