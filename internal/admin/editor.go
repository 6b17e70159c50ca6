// Package admin implements back-office editing of placed orders.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-storefront-orderflow/internal/catalog"
	"github.com/imrishuroy/go-storefront-orderflow/internal/orders"
)

var ErrUnknownProduct = errors.New("unknown product")

// Repository is the order storage the editor works against.
type Repository interface {
	Get(ctx context.Context, orderID string) (*orders.Order, error)
	List(ctx context.Context, filter orders.ListFilter) ([]orders.Order, error)
	ReplaceItems(ctx context.Context, orderID string, items []orders.OrderItem, p orders.Patch) (*orders.Order, error)
	Delete(ctx context.Context, orderID string) error
}

// Products supplies current catalog data used to re-price edited orders.
type Products interface {
	BatchGet(ctx context.Context, ids []string) (map[string]catalog.Product, error)
}

// Editor loads orders into editable drafts and saves them back.
type Editor struct {
	repo     Repository
	products Products
	events   orders.EventPublisher
	validate *validatorv10.Validate
	strict   bool
	logger   *slog.Logger
	nowFunc  func() time.Time
}

// Option configures an Editor.
type Option func(*Editor)

// WithStrictTransitions controls whether Save rejects status changes the
// transition table does not allow. It is on by default.
func WithStrictTransitions(strict bool) Option {
	return func(e *Editor) { e.strict = strict }
}

func WithEvents(p orders.EventPublisher) Option {
	return func(e *Editor) { e.events = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Editor) { e.logger = l }
}

func NewEditor(repo Repository, products Products, validate *validatorv10.Validate, opts ...Option) *Editor {
	e := &Editor{
		repo:     repo,
		products: products,
		validate: validate,
		strict:   true,
		logger:   slog.Default(),
		nowFunc:  time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// List returns orders newest first.
func (e *Editor) List(ctx context.Context, filter orders.ListFilter) ([]orders.Order, error) {
	return e.repo.List(ctx, filter)
}

// Load returns an editable draft of the order.
func (e *Editor) Load(ctx context.Context, orderID string) (*Draft, error) {
	o, err := e.repo.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, fmt.Errorf("%w: %s", orders.ErrNotFound, orderID)
	}
	return NewDraft(*o), nil
}

// Save replaces the line items of the order with the draft's, priced at the
// current catalog price, and applies the draft's status, payment status and
// shipping address in the same write. The write fails with
// orders.ErrVersionConflict if the order changed since the draft was loaded.
func (e *Editor) Save(ctx context.Context, d Draft) (*orders.Order, error) {
	d.Items = mergeItems(d.Items)
	if err := e.validate.Struct(d); err != nil {
		return nil, err
	}
	if _, err := orders.ParseStatus(string(d.Status)); err != nil {
		return nil, err
	}
	if _, err := orders.ParsePaymentStatus(string(d.PaymentStatus)); err != nil {
		return nil, err
	}

	current, err := e.repo.Get(ctx, d.OrderID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, fmt.Errorf("%w: %s", orders.ErrNotFound, d.OrderID)
	}
	if e.strict {
		if err := orders.ValidateTransition(current.Status, d.Status); err != nil {
			return nil, err
		}
	}

	ids := make([]string, 0, len(d.Items))
	for _, it := range d.Items {
		ids = append(ids, it.ProductID)
	}
	products, err := e.products.BatchGet(ctx, ids)
	if err != nil {
		return nil, err
	}

	items := make([]orders.OrderItem, 0, len(d.Items))
	for _, it := range d.Items {
		p, ok := products[it.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownProduct, it.ProductID)
		}
		items = append(items, orders.OrderItem{
			OrderID:   d.OrderID,
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: p.Price,
			Product:   p.Snapshot(),
		})
	}

	status, paymentStatus, shipping := d.Status, d.PaymentStatus, d.ShippingAddress
	updated, err := e.repo.ReplaceItems(ctx, d.OrderID, items, orders.Patch{
		Status:          &status,
		PaymentStatus:   &paymentStatus,
		ShippingAddress: &shipping,
		ExpectedVersion: d.Version,
	})
	if err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "order edited",
		"order_id", updated.ID, "version", updated.Version, "status", updated.Status.String(), "total", updated.TotalAmount.String())

	if current.Status != updated.Status && e.events != nil {
		ev := orders.Event{
			Type:       orders.EventStatusChanged,
			OrderID:    updated.ID,
			Status:     updated.Status,
			OccurredAt: e.nowFunc(),
		}
		if err := e.events.Publish(ctx, ev); err != nil {
			e.logger.ErrorContext(ctx, "publish order.status_changed", "order_id", updated.ID, "err", err)
		}
	}
	return updated, nil
}

// Delete removes the order together with its line items.
func (e *Editor) Delete(ctx context.Context, orderID string) error {
	if err := e.repo.Delete(ctx, orderID); err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "order deleted", "order_id", orderID)
	return nil
}
