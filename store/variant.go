package store

import (
	"context"
)

// Variant is a purchasable configuration of a product.
type Variant struct {
	ID         int32
	ProductID  int32
	Price      float64
	StockCount int32
	Attributes []VariantAttribute
}

// VariantAttribute is one name/value pair such as color=black.
type VariantAttribute struct {
	Name  string
	Value string
}

// LowStockThreshold is the stock count under which a variant counts as scarce.
const LowStockThreshold = 10

func (s *Store) CreateVariant(ctx context.Context, create *Variant) (*Variant, error) {
	return s.driver.CreateVariant(ctx, create)
}

func (s *Store) ListVariants(ctx context.Context, productID int32) ([]*Variant, error) {
	return s.driver.ListVariants(ctx, productID)
}
