package admin

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-storefront-orderflow/internal/catalog"
	"github.com/imrishuroy/go-storefront-orderflow/internal/dynamotest"
	"github.com/imrishuroy/go-storefront-orderflow/internal/orders"
	"github.com/imrishuroy/go-storefront-orderflow/internal/validation"
)

type recordingEvents struct {
	events []orders.Event
}

func (r *recordingEvents) Publish(ctx context.Context, ev orders.Event) error {
	r.events = append(r.events, ev)
	return nil
}

type fixture struct {
	editor   *Editor
	repo     *orders.Store
	products *catalog.Store
	events   *recordingEvents
	fake     *dynamotest.Fake
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	fake := dynamotest.New()
	fake.CreateTable("orders", "order_id", "")
	fake.CreateIndex("orders", orders.UserIndex, "user_id", "created_at")
	fake.CreateTable("order_items", "order_id", "item_id")
	fake.CreateTable("products", "product_id", "")

	repo := orders.NewStore(fake, "orders", "order_items", nil)
	products := catalog.NewStore(fake, "products")
	events := &recordingEvents{}
	opts = append([]Option{WithEvents(events), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return fixture{
		editor:   NewEditor(repo, products, validation.New(), opts...),
		repo:     repo,
		products: products,
		events:   events,
		fake:     fake,
	}
}

func (f fixture) seedOrder(t *testing.T, status orders.Status) {
	t.Helper()
	items := []orders.OrderItem{{
		ProductID: "ring",
		Quantity:  2,
		UnitPrice: decimal.NewFromInt(100),
		Product:   orders.ProductSnapshot{Name: "Ring"},
	}}
	addr := orders.Address{FirstName: "Ada", LastName: "L", Address: "1 Main", City: "Leeds", State: "WY", ZipCode: "LS1", Country: "UK"}
	o := orders.Order{
		ID:              "o-1",
		UserID:          "u-1",
		Items:           items,
		TotalAmount:     orders.SumItems(items),
		Status:          status,
		PaymentStatus:   orders.PaymentPending,
		ShippingAddress: addr,
		BillingAddress:  addr,
		CreatedAt:       time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, f.repo.CreateOrder(context.Background(), "", o))
}

func (f fixture) seedProduct(t *testing.T, id string, price int64) {
	t.Helper()
	require.NoError(t, f.products.Put(context.Background(), catalog.Product{ID: id, Name: "Product " + id, Price: decimal.NewFromInt(price)}))
}

func TestSave_RepricesAtCurrentCatalogPrice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedOrder(t, orders.StatusPending)
	f.seedProduct(t, "ring", 120)

	d, err := f.editor.Load(ctx, "o-1")
	require.NoError(t, err)
	require.Len(t, d.Items, 1)
	assert.Equal(t, 2, d.Items[0].Quantity)

	d.SetQuantity("ring", 3)
	saved, err := f.editor.Save(ctx, *d)
	require.NoError(t, err)

	assert.True(t, saved.TotalAmount.Equal(decimal.NewFromInt(360)), "total %s", saved.TotalAmount)
	require.Len(t, saved.Items, 1)
	assert.True(t, saved.Items[0].UnitPrice.Equal(decimal.NewFromInt(120)))
	assert.Equal(t, "Product ring", saved.Items[0].Product.Name)
	assert.Equal(t, int64(2), saved.Version)
	assert.Empty(t, f.events.events, "status unchanged, no event")
}

func TestSave_AddRemoveItemsAndStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedOrder(t, orders.StatusPending)
	f.seedProduct(t, "ring", 100)
	f.seedProduct(t, "chain", 40)

	d, err := f.editor.Load(ctx, "o-1")
	require.NoError(t, err)
	d.AddItem("chain", 1)
	d.AddItem("chain", 1)
	d.RemoveItem("ring")
	d.Status = orders.StatusProcessing
	d.PaymentStatus = orders.PaymentCompleted
	d.ShippingAddress.City = "York"

	saved, err := f.editor.Save(ctx, *d)
	require.NoError(t, err)
	require.Len(t, saved.Items, 1)
	assert.Equal(t, "chain", saved.Items[0].ProductID)
	assert.Equal(t, 2, saved.Items[0].Quantity)
	assert.True(t, saved.TotalAmount.Equal(decimal.NewFromInt(80)))
	assert.Equal(t, orders.StatusProcessing, saved.Status)
	assert.Equal(t, orders.PaymentCompleted, saved.PaymentStatus)
	assert.Equal(t, "York", saved.ShippingAddress.City)
	assert.Equal(t, 1, f.fake.Len("order_items"))

	require.Len(t, f.events.events, 1)
	assert.Equal(t, orders.EventStatusChanged, f.events.events[0].Type)
	assert.Equal(t, orders.StatusProcessing, f.events.events[0].Status)
}

func TestSave_StrictTransitions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedOrder(t, orders.StatusPending)
	f.seedProduct(t, "ring", 100)

	d, err := f.editor.Load(ctx, "o-1")
	require.NoError(t, err)
	d.Status = orders.StatusDelivered

	_, err = f.editor.Save(ctx, *d)
	assert.ErrorIs(t, err, orders.ErrInvalidTransition)

	lenient := newFixture(t, WithStrictTransitions(false))
	lenient.seedOrder(t, orders.StatusPending)
	lenient.seedProduct(t, "ring", 100)
	d, err = lenient.editor.Load(ctx, "o-1")
	require.NoError(t, err)
	d.Status = orders.StatusDelivered
	saved, err := lenient.editor.Save(ctx, *d)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusDelivered, saved.Status)
}

func TestSave_Rejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedOrder(t, orders.StatusPending)
	f.seedProduct(t, "ring", 100)

	d, err := f.editor.Load(ctx, "o-1")
	require.NoError(t, err)

	unknown := *d
	unknown.Items = []DraftItem{{ProductID: "ghost", Quantity: 1}}
	_, err = f.editor.Save(ctx, unknown)
	assert.ErrorIs(t, err, ErrUnknownProduct)

	empty := *d
	empty.Items = nil
	_, err = f.editor.Save(ctx, empty)
	assert.Error(t, err)

	zero := *d
	zero.Items = []DraftItem{{ProductID: "ring", Quantity: 0}}
	_, err = f.editor.Save(ctx, zero)
	assert.Error(t, err)

	badStatus := *d
	badStatus.Items = []DraftItem{{ProductID: "ring", Quantity: 1}}
	badStatus.Status = "lost"
	_, err = f.editor.Save(ctx, badStatus)
	assert.Error(t, err)

	got, _ := f.repo.Get(ctx, "o-1")
	assert.Equal(t, int64(1), got.Version, "rejected saves must not write")
}

func TestSave_StaleDraftConflicts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedOrder(t, orders.StatusPending)
	f.seedProduct(t, "ring", 100)

	first, err := f.editor.Load(ctx, "o-1")
	require.NoError(t, err)
	second, err := f.editor.Load(ctx, "o-1")
	require.NoError(t, err)

	first.SetQuantity("ring", 5)
	_, err = f.editor.Save(ctx, *first)
	require.NoError(t, err)

	second.SetQuantity("ring", 1)
	_, err = f.editor.Save(ctx, *second)
	assert.True(t, errors.Is(err, orders.ErrVersionConflict), "got %v", err)
}

func TestLoadAndDelete_NotFound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.editor.Load(ctx, "missing")
	assert.ErrorIs(t, err, orders.ErrNotFound)

	f.seedOrder(t, orders.StatusPending)
	require.NoError(t, f.editor.Delete(ctx, "o-1"))
	assert.Equal(t, 0, f.fake.Len("orders"))
	assert.Equal(t, 0, f.fake.Len("order_items"))
	assert.ErrorIs(t, f.editor.Delete(ctx, "o-1"), orders.ErrNotFound)
}

func TestList_PassesFilter(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, orders.StatusPending)

	all, err := f.editor.List(context.Background(), orders.ListFilter{UserID: "u-1"})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "o-1", all[0].ID)
}
