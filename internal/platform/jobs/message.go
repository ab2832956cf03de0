package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hanko-field/orderflow/internal/services"
)

// orderEventMessage is the JSON body shared by every transport.
type orderEventMessage struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	OrderID        string         `json:"orderId"`
	OrderNumber    string         `json:"orderNumber"`
	UserID         string         `json:"userId,omitempty"`
	PreviousStatus string         `json:"previousStatus,omitempty"`
	CurrentStatus  string         `json:"currentStatus"`
	ActorID        string         `json:"actorId,omitempty"`
	OccurredAt     string         `json:"occurredAt"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

func encodeOrderEvent(event services.OrderEvent) ([]byte, error) {
	data, err := json.Marshal(orderEventMessage{
		ID:             event.ID,
		Type:           event.Type,
		OrderID:        event.OrderID,
		OrderNumber:    event.OrderNumber,
		UserID:         event.UserID,
		PreviousStatus: event.PreviousStatus,
		CurrentStatus:  event.CurrentStatus,
		ActorID:        event.ActorID,
		OccurredAt:     event.OccurredAt.UTC().Format(time.RFC3339Nano),
		Metadata:       event.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal order event: %w", err)
	}
	return data, nil
}

// eventAttributes are the routing attributes consumers filter on without decoding the body.
func eventAttributes(event services.OrderEvent) map[string]string {
	attrs := map[string]string{
		"eventId":     event.ID,
		"eventType":   event.Type,
		"orderNumber": event.OrderNumber,
	}
	if event.CurrentStatus != "" {
		attrs["status"] = event.CurrentStatus
	}
	return attrs
}
