package catalog

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-storefront-orderflow/internal/dynamotest"
)

func newTestStore() (*Store, *dynamotest.Fake) {
	fake := dynamotest.New().CreateTable("products", "product_id", "")
	return NewStore(fake, "products"), fake
}

func TestPutGet_DerivesSlug(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	p := Product{ID: "p-1", Name: "Gold Ring 22K", Price: decimal.RequireFromString("2150.00"), Images: []string{"a.jpg", "b.jpg"}, InStock: true}
	if err := s.Put(ctx, p); err != nil {
		t.Fatalf("Put error: %v", err)
	}

	got, err := s.Get(ctx, "p-1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got == nil {
		t.Fatalf("expected product, got nil")
	}
	if got.Slug != "gold-ring-22k" {
		t.Fatalf("expected derived slug, got %q", got.Slug)
	}
	if !got.Price.Equal(decimal.RequireFromString("2150")) {
		t.Fatalf("unexpected price %s", got.Price)
	}
	if snap := got.Snapshot(); snap.Image != "a.jpg" || snap.Name != "Gold Ring 22K" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestGet_Missing(t *testing.T) {
	s, _ := newTestStore()
	got, err := s.Get(context.Background(), "nope")
	if err != nil || got != nil {
		t.Fatalf("expected nil, nil; got %v, %v", got, err)
	}
}

func TestPut_RejectsNegativePrice(t *testing.T) {
	s, fake := newTestStore()
	err := s.Put(context.Background(), Product{ID: "p", Name: "x", Price: decimal.NewFromInt(-1)})
	if !errors.Is(err, ErrNegativePrice) {
		t.Fatalf("expected ErrNegativePrice, got %v", err)
	}
	if fake.Len("products") != 0 {
		t.Fatalf("negative price product stored")
	}
}

func TestBatchGet_ChunksAndSkipsMissing(t *testing.T) {
	s, fake := newTestStore()
	ctx := context.Background()
	for i := 0; i < 150; i++ {
		p := Product{ID: fmt.Sprintf("p-%03d", i), Name: "item", Price: decimal.NewFromInt(int64(i))}
		if err := s.Put(ctx, p); err != nil {
			t.Fatalf("Put error: %v", err)
		}
	}

	ids := []string{"missing"}
	for i := 0; i < 150; i++ {
		ids = append(ids, fmt.Sprintf("p-%03d", i))
	}
	ids = append(ids, "p-000")

	products, err := s.BatchGet(ctx, ids)
	if err != nil {
		t.Fatalf("BatchGet error: %v", err)
	}
	if len(products) != 150 {
		t.Fatalf("expected 150 products, got %d", len(products))
	}
	if !products["p-120"].Price.Equal(decimal.NewFromInt(120)) {
		t.Fatalf("unexpected price for p-120: %s", products["p-120"].Price)
	}
	if fake.Calls("BatchGetItem") != 2 {
		t.Fatalf("expected 2 batch calls, got %d", fake.Calls("BatchGetItem"))
	}
}
