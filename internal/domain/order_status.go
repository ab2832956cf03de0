package domain

import (
	"errors"
	"fmt"
	"strings"
)

// OrderStatus is the lifecycle position of an order. The zero value is not a valid status.
type OrderStatus uint8

const (
	OrderStatusPending OrderStatus = iota + 1
	OrderStatusProcessing
	OrderStatusShipped
	OrderStatusDelivered
	OrderStatusCancelled
)

// ErrUnknownOrderStatus is returned when parsing a value outside the status set.
var ErrUnknownOrderStatus = errors.New("order status: unknown value")

var orderStatusNames = map[OrderStatus]string{
	OrderStatusPending:    "PENDING",
	OrderStatusProcessing: "PROCESSING",
	OrderStatusShipped:    "SHIPPED",
	OrderStatusDelivered:  "DELIVERED",
	OrderStatusCancelled:  "CANCELLED",
}

// OrderStatuses lists every valid status in lifecycle order.
func OrderStatuses() []OrderStatus {
	return []OrderStatus{
		OrderStatusPending,
		OrderStatusProcessing,
		OrderStatusShipped,
		OrderStatusDelivered,
		OrderStatusCancelled,
	}
}

// ParseOrderStatus accepts the canonical upper-case names case-insensitively. "CANCELED" is
// accepted as an alternate spelling.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	if normalized == "CANCELED" {
		return OrderStatusCancelled, nil
	}
	for status, name := range orderStatusNames {
		if name == normalized {
			return status, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownOrderStatus, raw)
}

func (s OrderStatus) String() string {
	if name, ok := orderStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("OrderStatus(%d)", uint8(s))
}

// Valid reports whether s is one of the declared statuses.
func (s OrderStatus) Valid() bool {
	_, ok := orderStatusNames[s]
	return ok
}

// IsTerminal reports whether no further transitions are possible.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// MarshalText implements encoding.TextMarshaler.
func (s OrderStatus) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownOrderStatus, uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *OrderStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseOrderStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
