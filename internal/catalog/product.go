package catalog

import (
	"fmt"

	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-storefront-orderflow/internal/orders"
)

// Product is a catalog entry. Carts and orders keep a copy of it taken when
// the product was added; the catalog always holds the current price.
type Product struct {
	ID         string          `json:"id" validate:"required"`
	Name       string          `json:"name" validate:"required"`
	Slug       string          `json:"slug"`
	Price      decimal.Decimal `json:"price"`
	Weight     float64         `json:"weight,omitempty"`
	WeightUnit string          `json:"weight_unit,omitempty"`
	Purity     string          `json:"purity,omitempty"`
	Images     []string        `json:"images,omitempty"`
	Category   string          `json:"category,omitempty"`
	InStock    bool            `json:"in_stock"`
}

// Snapshot returns the display fields stored alongside an order line.
func (p Product) Snapshot() orders.ProductSnapshot {
	s := orders.ProductSnapshot{Name: p.Name, Slug: p.Slug}
	if len(p.Images) > 0 {
		s.Image = p.Images[0]
	}
	return s
}

// record is the item stored in the products table.
type record struct {
	ProductID  string   `dynamodbav:"product_id"` // PK
	Name       string   `dynamodbav:"name"`
	Slug       string   `dynamodbav:"slug"`
	Price      string   `dynamodbav:"price"`
	Weight     float64  `dynamodbav:"weight,omitempty"`
	WeightUnit string   `dynamodbav:"weight_unit,omitempty"`
	Purity     string   `dynamodbav:"purity,omitempty"`
	Images     []string `dynamodbav:"images,omitempty"`
	Category   string   `dynamodbav:"category,omitempty"`
	InStock    bool     `dynamodbav:"in_stock"`
}

func toRecord(p Product) record {
	s := p.Slug
	if s == "" {
		s = slug.Make(p.Name)
	}
	return record{
		ProductID:  p.ID,
		Name:       p.Name,
		Slug:       s,
		Price:      p.Price.String(),
		Weight:     p.Weight,
		WeightUnit: p.WeightUnit,
		Purity:     p.Purity,
		Images:     p.Images,
		Category:   p.Category,
		InStock:    p.InStock,
	}
}

func (r record) toProduct() (Product, error) {
	price, err := decimal.NewFromString(r.Price)
	if err != nil {
		return Product{}, fmt.Errorf("product %s: parse price %q: %w", r.ProductID, r.Price, err)
	}
	return Product{
		ID:         r.ProductID,
		Name:       r.Name,
		Slug:       r.Slug,
		Price:      price,
		Weight:     r.Weight,
		WeightUnit: r.WeightUnit,
		Purity:     r.Purity,
		Images:     r.Images,
		Category:   r.Category,
		InStock:    r.InStock,
	}, nil
}
