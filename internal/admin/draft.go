package admin

import "github.com/imrishuroy/go-storefront-orderflow/internal/orders"

// DraftItem is an editable order line. Prices are not part of a draft; they
// are taken from the catalog on save.
type DraftItem struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"min=1"`
}

// Draft is the editable form of an order.
type Draft struct {
	OrderID         string               `json:"order_id" validate:"required"`
	Version         int64                `json:"version"`
	Items           []DraftItem          `json:"items" validate:"required,min=1,dive"`
	Status          orders.Status        `json:"status" validate:"required"`
	PaymentStatus   orders.PaymentStatus `json:"payment_status" validate:"required"`
	ShippingAddress orders.Address       `json:"shipping_address"`
}

// NewDraft builds a draft from o.
func NewDraft(o orders.Order) *Draft {
	d := &Draft{
		OrderID:         o.ID,
		Version:         o.Version,
		Status:          o.Status,
		PaymentStatus:   o.PaymentStatus,
		ShippingAddress: o.ShippingAddress,
	}
	for _, it := range o.Items {
		d.AddItem(it.ProductID, it.Quantity)
	}
	return d
}

// AddItem adds qty of productID, merging with an existing line.
func (d *Draft) AddItem(productID string, qty int) {
	for i := range d.Items {
		if d.Items[i].ProductID == productID {
			d.Items[i].Quantity += qty
			return
		}
	}
	d.Items = append(d.Items, DraftItem{ProductID: productID, Quantity: qty})
}

// RemoveItem drops the line for productID.
func (d *Draft) RemoveItem(productID string) {
	out := d.Items[:0]
	for _, it := range d.Items {
		if it.ProductID != productID {
			out = append(out, it)
		}
	}
	d.Items = out
}

// SetQuantity sets the quantity of productID, adding the line if missing.
func (d *Draft) SetQuantity(productID string, qty int) {
	for i := range d.Items {
		if d.Items[i].ProductID == productID {
			d.Items[i].Quantity = qty
			return
		}
	}
	d.Items = append(d.Items, DraftItem{ProductID: productID, Quantity: qty})
}

// mergeItems folds repeated products into one line, keeping first-seen order.
func mergeItems(items []DraftItem) []DraftItem {
	d := Draft{}
	for _, it := range items {
		d.AddItem(it.ProductID, it.Quantity)
	}
	return d.Items
}
