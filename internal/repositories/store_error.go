package repositories

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a storage failure for the services layer.
type ErrorKind uint8

const (
	KindUnknown ErrorKind = iota
	KindNotFound
	KindConflict
	KindUnavailable
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// StoreError is the RepositoryError every backend returns. Each backend only decides the Kind;
// the message and unwrapping behave the same everywhere.
type StoreError struct {
	Backend string
	Op      string
	Kind    ErrorKind
	Err     error
}

var _ RepositoryError = (*StoreError)(nil)

// NewStoreError wraps err. A nil err is replaced by the kind's name so the message stays useful.
func NewStoreError(backend, op string, kind ErrorKind, err error) *StoreError {
	if err == nil {
		err = errors.New(kind.String())
	}
	return &StoreError{Backend: backend, Op: op, Kind: kind, Err: err}
}

func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *StoreError) IsNotFound() bool    { return e != nil && e.Kind == KindNotFound }
func (e *StoreError) IsConflict() bool    { return e != nil && e.Kind == KindConflict }
func (e *StoreError) IsUnavailable() bool { return e != nil && e.Kind == KindUnavailable }

// IsKind reports whether err, or anything it wraps, is a RepositoryError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var repoErr RepositoryError
	if !errors.As(err, &repoErr) {
		return false
	}
	switch kind {
	case KindNotFound:
		return repoErr.IsNotFound()
	case KindConflict:
		return repoErr.IsConflict()
	case KindUnavailable:
		return repoErr.IsUnavailable()
	default:
		return !repoErr.IsNotFound() && !repoErr.IsConflict() && !repoErr.IsUnavailable()
	}
}

// ErrInvalidCounterInput rejects counter requests that cannot produce a sequence value.
var ErrInvalidCounterInput = errors.New("counter: invalid input")

// ValidateCounterInput is shared by every CounterRepository backend.
func ValidateCounterInput(op, counterID string, step int64) error {
	switch {
	case counterID == "":
		return fmt.Errorf("%s: %w: counter id is required", op, ErrInvalidCounterInput)
	case step <= 0:
		return fmt.Errorf("%s: %w: step must be positive, got %d", op, ErrInvalidCounterInput, step)
	}
	return nil
}
