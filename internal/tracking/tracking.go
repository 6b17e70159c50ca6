// Package tracking describes the shipment timeline shown to customers.
// Carrier integrations plug in through the Carrier interface.
package tracking

import (
	"context"
	"sort"
	"time"

	"github.com/imrishuroy/go-storefront-orderflow/internal/orders"
)

// Event is one entry of a shipment timeline. Status is the carrier's own
// wording and is unrelated to orders.Status.
type Event struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Location    string    `json:"location"`
	Description string    `json:"description"`
}

// Carrier returns the shipment events known for an order.
type Carrier interface {
	Events(ctx context.Context, o orders.Order) ([]Event, error)
}

// Timeline returns events sorted most recent first.
func Timeline(events []Event) []Event {
	out := make([]Event, len(events))
	copy(out, events)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// Info is the tracking view of an order.
type Info struct {
	OrderID           string               `json:"order_id"`
	Status            orders.Status        `json:"status"`
	PaymentStatus     orders.PaymentStatus `json:"payment_status"`
	TrackingNumber    string               `json:"tracking_number,omitempty"`
	Carrier           string               `json:"carrier,omitempty"`
	EstimatedDelivery time.Time            `json:"estimated_delivery"`
	Events            []Event              `json:"events"`
}

// Track builds the tracking view of o from c.
func Track(ctx context.Context, c Carrier, o orders.Order) (Info, error) {
	events, err := c.Events(ctx, o)
	if err != nil {
		return Info{}, err
	}
	return Info{
		OrderID:           o.ID,
		Status:            o.Status,
		PaymentStatus:     o.PaymentStatus,
		TrackingNumber:    o.TrackingNumber,
		Carrier:           o.Carrier,
		EstimatedDelivery: o.EstimatedDelivery,
		Events:            Timeline(events),
	}, nil
}
