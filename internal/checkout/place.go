package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-storefront-orderflow/internal/cart"
	"github.com/imrishuroy/go-storefront-orderflow/internal/orders"
	"github.com/imrishuroy/go-storefront-orderflow/internal/payment"
	"github.com/imrishuroy/go-storefront-orderflow/internal/validation"
)

// Delivery is estimated 5 to 7 days out.
const (
	minDeliveryDays    = 5
	deliveryJitterDays = 3
)

// Confirmation is what the shopper sees after placing an order.
type Confirmation struct {
	OrderID           string             `json:"order_id"`
	Items             []orders.OrderItem `json:"items"`
	Total             decimal.Decimal    `json:"total"`
	ShippingAddress   orders.Address     `json:"shipping_address"`
	BillingAddress    orders.Address     `json:"billing_address"`
	PaymentMethod     payment.Summary    `json:"payment_method"`
	OrderDate         time.Time          `json:"order_date"`
	EstimatedDelivery time.Time          `json:"estimated_delivery"`
	// Persisted is false for guest checkouts, whose orders are not stored.
	Persisted bool `json:"persisted"`
}

// PlaceOrder submits the order from the review step.
//
// An empty cart moves the workflow to the failed step. A storage failure
// keeps the workflow at review with the cart untouched and the message in
// LastError, so the shopper can retry. Guest orders are built but not stored.
func (w *Workflow) PlaceOrder(ctx context.Context) (*Confirmation, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.step {
	case StepSubmitted:
		return w.confirmation, ErrAlreadySubmitted
	case StepReview:
	default:
		return nil, ErrWrongStep
	}

	now := w.deps.Now()
	if err := w.checkForms(now); err != nil {
		w.lastErr = err.Error()
		return nil, err
	}

	if err := w.cart.Refresh(ctx); err != nil {
		w.lastErr = err.Error()
		return nil, err
	}
	cartItems := w.cart.Items()
	if len(cartItems) == 0 {
		w.step = StepFailed
		w.lastErr = ErrEmptyCart.Error()
		w.deps.Logger.WarnContext(ctx, "checkout with empty cart", "checkout_id", w.id)
		return nil, ErrEmptyCart
	}

	order := w.buildOrder(now, cartItems)
	if err := w.deps.Validate.Struct(order); err != nil {
		verr := &ValidationError{Step: StepReview, Fields: validation.FieldErrors(err)}
		w.lastErr = verr.Error()
		return nil, verr
	}

	persisted, duplicate := false, false
	if userID, ok := w.deps.CurrentUser(ctx); ok {
		order.UserID = userID
		key := w.key()
		err := w.deps.Orders.CreateOrder(ctx, key, order)
		var dup *orders.DuplicateSubmissionError
		switch {
		case errors.As(err, &dup):
			// an earlier attempt with this key already stored an order
			stored, err := w.resolveDuplicate(ctx, dup, order)
			if err != nil {
				w.lastErr = err.Error()
				return nil, err
			}
			w.deps.Logger.InfoContext(ctx, "duplicate order submission", "checkout_id", w.id, "order_id", stored.ID)
			order, duplicate = *stored, true
		case err != nil:
			w.lastErr = err.Error()
			w.deps.Logger.ErrorContext(ctx, "order persistence failed", "checkout_id", w.id, "order_id", order.ID, "err", err)
			_ = w.deps.Metrics.Count(ctx, "CheckoutFailed", 1, nil)
			return nil, err
		}
		persisted = true
	}

	if err := w.cart.Clear(ctx); err != nil {
		// the order exists; a leftover cart is only cosmetic
		w.deps.Logger.WarnContext(ctx, "clear cart after checkout", "checkout_id", w.id, "err", err)
	}

	w.payment = payment.Details{}
	w.lastErr = ""
	w.step = StepSubmitted
	w.confirmation = &Confirmation{
		OrderID:           order.ID,
		Items:             order.Items,
		Total:             order.TotalAmount,
		ShippingAddress:   order.ShippingAddress,
		BillingAddress:    order.BillingAddress,
		PaymentMethod:     order.PaymentMethod,
		OrderDate:         order.CreatedAt,
		EstimatedDelivery: order.EstimatedDelivery,
		Persisted:         persisted,
	}

	w.deps.Logger.InfoContext(ctx, "order placed", "checkout_id", w.id, "order_id", order.ID, "persisted", persisted)
	_ = w.deps.Metrics.Count(ctx, "OrdersPlaced", 1, nil)

	if persisted && !duplicate && w.deps.Events != nil {
		ev := orders.Event{
			Type:           orders.EventPlaced,
			OrderID:        order.ID,
			Status:         orders.StatusPending,
			IdempotencyKey: w.key(),
			OccurredAt:     now,
		}
		if err := w.deps.Events.Publish(ctx, ev); err != nil {
			w.deps.Logger.ErrorContext(ctx, "publish order.placed", "order_id", order.ID, "err", err)
		}
	}
	return w.confirmation, nil
}

// checkForms re-checks every form before submission, since forms stay
// editable at the review step.
func (w *Workflow) checkForms(now time.Time) error {
	for _, f := range []struct {
		step Step
		form orders.Address
	}{{StepShipping, w.shipping}, {StepBilling, w.billing}} {
		if err := w.deps.Validate.Struct(f.form); err != nil {
			return &ValidationError{Step: f.step, Fields: validation.FieldErrors(err)}
		}
	}
	if w.payment.CardNumber == "" {
		return &ValidationError{Step: StepPayment, Fields: map[string]string{"card_number": "is required"}}
	}
	if msg := payment.Validate(w.payment, now); msg != "" {
		return &ValidationError{Step: StepPayment, Fields: map[string]string{"payment": msg}}
	}
	return nil
}

// resolveDuplicate loads the order an earlier submission stored under the
// same key. It is only accepted when its lines match the order built now.
func (w *Workflow) resolveDuplicate(ctx context.Context, dup *orders.DuplicateSubmissionError, built orders.Order) (*orders.Order, error) {
	stored, err := w.deps.Orders.Get(ctx, dup.OrderID)
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", dup.OrderID, err)
	}
	if stored == nil {
		return nil, fmt.Errorf("%w: %s", orders.ErrNotFound, dup.OrderID)
	}
	if !sameLines(stored.Items, built.Items) {
		w.deps.Logger.WarnContext(ctx, "idempotency key reused with a different cart",
			"checkout_id", w.id, "order_id", stored.ID)
		return nil, ErrKeyReused
	}
	return stored, nil
}

// sameLines reports whether a and b order the same quantities of the same
// products at the same unit prices.
func sameLines(a, b []orders.OrderItem) bool {
	if len(a) != len(b) {
		return false
	}
	type line struct {
		qty   int
		price string
	}
	lines := make(map[string]line, len(a))
	for _, it := range a {
		lines[it.ProductID] = line{it.Quantity, it.UnitPrice.String()}
	}
	for _, it := range b {
		if l, ok := lines[it.ProductID]; !ok || l != (line{it.Quantity, it.UnitPrice.String()}) {
			return false
		}
	}
	return true
}

func (w *Workflow) key() string {
	if w.idempotencyKey != "" {
		return w.idempotencyKey
	}
	return w.id
}

func (w *Workflow) buildOrder(now time.Time, cartItems []cart.Item) orders.Order {
	id := uuid.NewString()
	items := make([]orders.OrderItem, 0, len(cartItems))
	for _, ci := range cartItems {
		items = append(items, orders.OrderItem{
			ID:        uuid.NewString(),
			OrderID:   id,
			ProductID: ci.Product.ID,
			Quantity:  ci.Quantity,
			UnitPrice: ci.Product.Price,
			Product:   ci.Product.Snapshot(),
		})
	}
	return orders.Order{
		ID:                id,
		Items:             items,
		TotalAmount:       orders.SumItems(items),
		Status:            orders.StatusPending,
		PaymentStatus:     orders.PaymentPending,
		ShippingAddress:   w.shipping,
		BillingAddress:    w.billing,
		PaymentMethod:     payment.Summarize(w.payment),
		CreatedAt:         now,
		EstimatedDelivery: now.AddDate(0, 0, minDeliveryDays+w.deps.IntN(deliveryJitterDays)),
	}
}
