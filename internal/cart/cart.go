package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-storefront-orderflow/internal/catalog"
)

var ErrInvalidQuantity = errors.New("quantity must be at least 1")

// Item is one product line in a cart. Product is the snapshot taken when the
// product was first added.
type Item struct {
	Product  catalog.Product `json:"product"`
	Quantity int             `json:"quantity"`
}

// LineTotal is price * quantity.
func (i Item) LineTotal() decimal.Decimal {
	return i.Product.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Store persists the items of a cart between requests.
type Store interface {
	Load(ctx context.Context, sessionID string) ([]Item, error)
	Save(ctx context.Context, sessionID string, items []Item) error
	Delete(ctx context.Context, sessionID string) error
}

// Cart is the shopping cart of one browsing session. Every mutation is
// written through to the Store; the whole item list is saved, so concurrent
// writers for the same session resolve last-write-wins.
type Cart struct {
	mu        sync.Mutex
	sessionID string
	store     Store
	items     []Item
}

// Open loads the cart for sessionID. A session with no saved cart gets an empty one.
func Open(ctx context.Context, store Store, sessionID string) (*Cart, error) {
	c := &Cart{sessionID: sessionID, store: store}
	if err := c.Refresh(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// SessionID returns the session the cart belongs to.
func (c *Cart) SessionID() string { return c.sessionID }

// Refresh replaces the in-memory items with the stored ones.
func (c *Cart) Refresh(ctx context.Context) error {
	items, err := c.store.Load(ctx, c.sessionID)
	if err != nil {
		return fmt.Errorf("load cart %s: %w", c.sessionID, err)
	}
	c.mu.Lock()
	c.items = items
	c.mu.Unlock()
	return nil
}

// Add inserts p or increments the quantity of an existing line by qty.
func (c *Cart) Add(ctx context.Context, p catalog.Product, qty int) error {
	if qty < 1 {
		return ErrInvalidQuantity
	}
	return c.mutate(ctx, func(items []Item) []Item {
		for i := range items {
			if items[i].Product.ID == p.ID {
				items[i].Quantity += qty
				return items
			}
		}
		return append(items, Item{Product: p, Quantity: qty})
	})
}

// Remove drops the line for productID. Unknown products are ignored.
func (c *Cart) Remove(ctx context.Context, productID string) error {
	return c.mutate(ctx, func(items []Item) []Item {
		out := items[:0]
		for _, it := range items {
			if it.Product.ID != productID {
				out = append(out, it)
			}
		}
		return out
	})
}

// UpdateQuantity sets the quantity of the line for productID. Unknown
// products are ignored.
func (c *Cart) UpdateQuantity(ctx context.Context, productID string, qty int) error {
	if qty < 1 {
		return ErrInvalidQuantity
	}
	return c.mutate(ctx, func(items []Item) []Item {
		for i := range items {
			if items[i].Product.ID == productID {
				items[i].Quantity = qty
			}
		}
		return items
	})
}

// Clear empties the cart and deletes its stored copy.
func (c *Cart) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.Delete(ctx, c.sessionID); err != nil {
		return fmt.Errorf("clear cart %s: %w", c.sessionID, err)
	}
	c.items = nil
	return nil
}

// Items returns a copy of the cart lines in insertion order.
func (c *Cart) Items() []Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Item, len(c.items))
	copy(out, c.items)
	return out
}

// Total is the sum of price * quantity over all lines.
func (c *Cart) Total() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := decimal.Zero
	for _, it := range c.items {
		total = total.Add(it.LineTotal())
	}
	return total
}

// ItemCount is the sum of quantities.
func (c *Cart) ItemCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, it := range c.items {
		n += it.Quantity
	}
	return n
}

// mutate applies fn to a copy of the items and keeps the result only when it
// was saved.
func (c *Cart) mutate(ctx context.Context, fn func([]Item) []Item) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := make([]Item, len(c.items))
	copy(next, c.items)
	next = fn(next)
	if err := c.store.Save(ctx, c.sessionID, next); err != nil {
		return fmt.Errorf("save cart %s: %w", c.sessionID, err)
	}
	c.items = next
	return nil
}
