package orders

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-storefront-orderflow/internal/payment"
)

// Address is a shipping or billing address. Billing addresses are value
// copies, never references to the shipping address.
type Address struct {
	FirstName string `json:"first_name" dynamodbav:"first_name" validate:"required"`
	LastName  string `json:"last_name" dynamodbav:"last_name" validate:"required"`
	Address   string `json:"address" dynamodbav:"address" validate:"required"`
	City      string `json:"city" dynamodbav:"city" validate:"required"`
	State     string `json:"state" dynamodbav:"state" validate:"required"`
	ZipCode   string `json:"zip_code" dynamodbav:"zip_code" validate:"required"`
	Country   string `json:"country" dynamodbav:"country" validate:"required"`
	Email     string `json:"email,omitempty" dynamodbav:"email,omitempty" validate:"omitempty,email"`
	Phone     string `json:"phone,omitempty" dynamodbav:"phone,omitempty"`
}

// ProductSnapshot is the denormalized product data stored with a line item for display.
type ProductSnapshot struct {
	Name  string `json:"name" dynamodbav:"name"`
	Slug  string `json:"slug,omitempty" dynamodbav:"slug,omitempty"`
	Image string `json:"image,omitempty" dynamodbav:"image,omitempty"`
}

// OrderItem is one line of an order. UnitPrice is the price at order time.
type OrderItem struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	ProductID string          `json:"product_id" validate:"required"`
	Quantity  int             `json:"quantity" validate:"min=1"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Product   ProductSnapshot `json:"product"`
}

// LineTotal is quantity * unit price.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Order is a placed order together with its line items.
type Order struct {
	ID                string          `json:"id" validate:"required"`
	UserID            string          `json:"user_id,omitempty"`
	Items             []OrderItem     `json:"items" validate:"required,min=1,dive"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	Status            Status          `json:"status" validate:"required"`
	PaymentStatus     PaymentStatus   `json:"payment_status" validate:"required"`
	ShippingAddress   Address         `json:"shipping_address"`
	BillingAddress    Address         `json:"billing_address"`
	PaymentMethod     payment.Summary `json:"payment_method"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	EstimatedDelivery time.Time       `json:"estimated_delivery"`
	TrackingNumber    string          `json:"tracking_number,omitempty"`
	Carrier           string          `json:"carrier,omitempty"`
	Version           int64           `json:"version"`
}

// SumItems returns the sum of the line totals of items.
func SumItems(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.LineTotal())
	}
	return total
}

// ListFilter narrows List. An empty filter lists every order.
type ListFilter struct {
	UserID string
}

// Patch holds the order-level fields an update may change. Nil fields are left alone.
// ExpectedVersion, when non-zero, makes the update conditional on the stored version.
type Patch struct {
	Status          *Status
	PaymentStatus   *PaymentStatus
	ShippingAddress *Address
	TrackingNumber  *string
	Carrier         *string
	ExpectedVersion int64
}
