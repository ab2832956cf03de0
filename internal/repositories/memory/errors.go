package memory

import (
	"errors"

	"github.com/hanko-field/orderflow/internal/repositories"
)

const backendName = "memory"

var (
	errNotFound = errors.New("not found")
	errExists   = errors.New("already exists")
)

func notFound(op string) error {
	return repositories.NewStoreError(backendName, op, repositories.KindNotFound, errNotFound)
}

func conflict(op string) error {
	return repositories.NewStoreError(backendName, op, repositories.KindConflict, errExists)
}
