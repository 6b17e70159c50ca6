package tracking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/imrishuroy/go-storefront-orderflow/internal/orders"
)

// StaticCarrier derives a plausible timeline from the order status and dates
// alone. It stands in until a real carrier API is connected.
type StaticCarrier struct {
	Name      string
	Warehouse string
}

// NewStaticCarrier returns a StaticCarrier with default name and warehouse.
func NewStaticCarrier() *StaticCarrier {
	return &StaticCarrier{Name: "Standard Shipping", Warehouse: "Fulfillment Center"}
}

// NewTrackingNumber returns a carrier-style tracking number.
func (c *StaticCarrier) NewTrackingNumber() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "TRK" + strings.ToUpper(raw[:12])
}

func (c *StaticCarrier) Events(ctx context.Context, o orders.Order) ([]Event, error) {
	placed := o.CreatedAt
	events := []Event{{
		Status:      "Order Placed",
		Timestamp:   placed,
		Location:    "Online",
		Description: "Your order has been received",
	}}
	if o.Status == orders.StatusPending {
		return events, nil
	}
	if o.Status == orders.StatusCancelled {
		return append(events, Event{
			Status:      "Cancelled",
			Timestamp:   o.UpdatedAt,
			Location:    "Online",
			Description: "The order was cancelled",
		}), nil
	}

	events = append(events, Event{
		Status:      "Processing",
		Timestamp:   placed.Add(24 * time.Hour),
		Location:    c.Warehouse,
		Description: "Your order is being prepared",
	})
	if o.Status == orders.StatusProcessing {
		return events, nil
	}

	desc := "Your package has been shipped"
	if o.TrackingNumber != "" {
		desc = fmt.Sprintf("Shipped with %s, tracking number %s", c.carrierName(o), o.TrackingNumber)
	}
	events = append(events, Event{
		Status:      "Shipped",
		Timestamp:   placed.Add(48 * time.Hour),
		Location:    c.Warehouse,
		Description: desc,
	})
	if o.Status == orders.StatusDelivered {
		at := o.EstimatedDelivery
		if at.IsZero() {
			at = o.UpdatedAt
		}
		events = append(events, Event{
			Status:      "Delivered",
			Timestamp:   at,
			Location:    o.ShippingAddress.City,
			Description: "Your package has been delivered",
		})
	}
	return events, nil
}

func (c *StaticCarrier) carrierName(o orders.Order) string {
	if o.Carrier != "" {
		return o.Carrier
	}
	return c.Name
}
