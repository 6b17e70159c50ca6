package orders

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-storefront-orderflow/internal/payment"
)

// timeLayout is fixed width so created_at sorts lexically in the user index.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// orderRecord is the item stored in the orders table.
type orderRecord struct {
	OrderID           string          `dynamodbav:"order_id"` // PK
	UserID            string          `dynamodbav:"user_id,omitempty"`
	TotalAmount       string          `dynamodbav:"total_amount"`
	Status            string          `dynamodbav:"status"`
	PaymentStatus     string          `dynamodbav:"payment_status"`
	ShippingAddress   Address         `dynamodbav:"shipping_address"`
	BillingAddress    Address         `dynamodbav:"billing_address"`
	PaymentMethod     payment.Summary `dynamodbav:"payment_method"`
	CreatedAt         string          `dynamodbav:"created_at"`
	UpdatedAt         string          `dynamodbav:"updated_at"`
	EstimatedDelivery string          `dynamodbav:"estimated_delivery"`
	TrackingNumber    string          `dynamodbav:"tracking_number,omitempty"`
	Carrier           string          `dynamodbav:"carrier,omitempty"`
	ItemCount         int             `dynamodbav:"item_count"`
	Version           int64           `dynamodbav:"version"`
}

// itemRecord is the item stored in the order_items table.
type itemRecord struct {
	OrderID   string          `dynamodbav:"order_id"` // PK
	ItemID    string          `dynamodbav:"item_id"`  // SK
	Position  int             `dynamodbav:"position"`
	ProductID string          `dynamodbav:"product_id"`
	Quantity  int             `dynamodbav:"quantity"`
	UnitPrice string          `dynamodbav:"unit_price"`
	Product   ProductSnapshot `dynamodbav:"product"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func toOrderRecord(o Order) orderRecord {
	return orderRecord{
		OrderID:           o.ID,
		UserID:            o.UserID,
		TotalAmount:       o.TotalAmount.String(),
		Status:            string(o.Status),
		PaymentStatus:     string(o.PaymentStatus),
		ShippingAddress:   o.ShippingAddress,
		BillingAddress:    o.BillingAddress,
		PaymentMethod:     o.PaymentMethod,
		CreatedAt:         formatTime(o.CreatedAt),
		UpdatedAt:         formatTime(o.UpdatedAt),
		EstimatedDelivery: formatTime(o.EstimatedDelivery),
		TrackingNumber:    o.TrackingNumber,
		Carrier:           o.Carrier,
		ItemCount:         len(o.Items),
		Version:           o.Version,
	}
}

func (r orderRecord) toOrder() (Order, error) {
	total, err := decimal.NewFromString(r.TotalAmount)
	if err != nil {
		return Order{}, fmt.Errorf("order %s: parse total %q: %w", r.OrderID, r.TotalAmount, err)
	}
	o := Order{
		ID:              r.OrderID,
		UserID:          r.UserID,
		TotalAmount:     total,
		Status:          Status(r.Status),
		PaymentStatus:   PaymentStatus(r.PaymentStatus),
		ShippingAddress: r.ShippingAddress,
		BillingAddress:  r.BillingAddress,
		PaymentMethod:   r.PaymentMethod,
		TrackingNumber:  r.TrackingNumber,
		Carrier:         r.Carrier,
		Version:         r.Version,
	}
	if o.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
		return Order{}, err
	}
	if o.UpdatedAt, err = parseTime(r.UpdatedAt); err != nil {
		return Order{}, err
	}
	if o.EstimatedDelivery, err = parseTime(r.EstimatedDelivery); err != nil {
		return Order{}, err
	}
	return o, nil
}

func toItemRecord(orderID string, pos int, it OrderItem) itemRecord {
	return itemRecord{
		OrderID:   orderID,
		ItemID:    it.ID,
		Position:  pos,
		ProductID: it.ProductID,
		Quantity:  it.Quantity,
		UnitPrice: it.UnitPrice.String(),
		Product:   it.Product,
	}
}

func (r itemRecord) toItem() (OrderItem, error) {
	price, err := decimal.NewFromString(r.UnitPrice)
	if err != nil {
		return OrderItem{}, fmt.Errorf("item %s: parse unit price %q: %w", r.ItemID, r.UnitPrice, err)
	}
	return OrderItem{
		ID:        r.ItemID,
		OrderID:   r.OrderID,
		ProductID: r.ProductID,
		Quantity:  r.Quantity,
		UnitPrice: price,
		Product:   r.Product,
	}, nil
}
