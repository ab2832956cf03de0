package domain

import (
	"time"

	"github.com/govalues/decimal"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Order is a placed purchase tracked through the fulfilment lifecycle. OrderDate is set once at
// creation and is the only timestamp used for automation timing.
type Order struct {
	ID          string
	OrderNumber string
	UserID      string
	Status      OrderStatus
	OrderDate   time.Time
	Items       []OrderItem
	Total       decimal.Decimal
	UpdatedAt   time.Time
	CancelledAt *time.Time
}

// OrderItem captures a purchased product line. ProductName and Image are display snapshots.
type OrderItem struct {
	ProductID   string
	ProductName string
	Image       string
	Quantity    int
	Price       decimal.Decimal
}

// StockLevel is the ledger view of a single product's sellable quantity.
type StockLevel struct {
	ProductID string
	Available int
	UpdatedAt time.Time
}

// StockLine is a product/quantity pair used for bulk ledger operations.
type StockLine struct {
	ProductID string
	Quantity  int
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	Checks      map[string]SystemHealthCheck
	GeneratedAt time.Time
}
