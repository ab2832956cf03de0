package repositories

import "fmt"

// StockErrorCode enumerates repository error causes for stock ledger operations.
type StockErrorCode string

const (
	// StockErrorUnknown represents an unspecified failure.
	StockErrorUnknown StockErrorCode = "stock_unknown"
	// StockErrorInsufficient indicates the requested quantity exceeds availability.
	StockErrorInsufficient StockErrorCode = "stock_insufficient"
	// StockErrorNotFound indicates the product has no stock record.
	StockErrorNotFound StockErrorCode = "stock_not_found"
	// StockErrorInvalidQuantity indicates a non-positive or negative quantity was supplied.
	StockErrorInvalidQuantity StockErrorCode = "stock_invalid_quantity"
)

// StockError wraps stock-specific failures with machine readable codes. It also satisfies
// RepositoryError so callers that only classify errors keep working.
type StockError struct {
	Op        string
	ProductID string
	Code      StockErrorCode
	Message   string
	Err       error
}

// Error implements the error interface.
func (e *StockError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *StockError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *StockError) IsNotFound() bool { return e != nil && e.Code == StockErrorNotFound }

func (e *StockError) IsConflict() bool { return e != nil && e.Code == StockErrorInsufficient }

func (e *StockError) IsUnavailable() bool { return false }

// NewStockError constructs a typed stock error for the given product.
func NewStockError(op string, code StockErrorCode, productID string, err error) *StockError {
	message := string(code)
	if productID != "" {
		message = fmt.Sprintf("%s (product %s)", code, productID)
	}
	return &StockError{
		Op:        op,
		ProductID: productID,
		Code:      code,
		Message:   message,
		Err:       err,
	}
}
