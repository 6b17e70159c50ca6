package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/imrishuroy/go-storefront-orderflow/internal/aws"
)

// Event types carried on the orders queue.
const (
	EventPlaced        = "order.placed"
	EventStatusChanged = "order.status_changed"
)

// Event is the payload sent from API -> SQS -> worker.
type Event struct {
	Type           string    `json:"type"`
	OrderID        string    `json:"order_id"`
	Status         Status    `json:"status,omitempty"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	CorrelationID  string    `json:"correlation_id,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// EventPublisher sends order lifecycle events to the fulfillment side.
type EventPublisher interface {
	Publish(ctx context.Context, ev Event) error
}

// SQSEventPublisher publishes events through the SQS Publisher.
type SQSEventPublisher struct {
	publisher *aws.Publisher
}

// NewSQSEventPublisher wraps p.
func NewSQSEventPublisher(p *aws.Publisher) *SQSEventPublisher {
	return &SQSEventPublisher{publisher: p}
}

// Publish marshals ev and sends it with type and order id as message attributes.
func (s *SQSEventPublisher) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	attrs := map[string]string{
		"event_type":      ev.Type,
		"order_id":        ev.OrderID,
		"idempotency_key": ev.IdempotencyKey,
		"correlation_id":  ev.CorrelationID,
	}
	return s.publisher.Send(ctx, string(body), attrs)
}
