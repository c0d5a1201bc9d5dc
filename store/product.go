package store

import (
	"context"

	"github.com/pkg/errors"
)

// Product is a catalog entry.
type Product struct {
	ID            int32
	Name          string
	Category      string
	Price         float64
	Brand         string
	Description   string
	AverageRating float64
	CreatedTs     int64
}

// FindProduct is the find condition for products.
type FindProduct struct {
	ID       *int32
	IDs      []int32
	Category *string
	Limit    int
}

// ProductEmbedding is the vector of a product's searchable text.
type ProductEmbedding struct {
	ProductID int32
	Model     string
	Embedding []float32
	UpdatedTs int64
}

// ProductWithScore is a vector search hit over products.
type ProductWithScore struct {
	Product *Product
	Score   float32 // 0-1, higher is more similar
}

// ProductVectorSearchOptions restricts product search to one category.
type ProductVectorSearchOptions struct {
	Vector   []float32
	Category string
	Model    string
	Limit    int
}

// Validate validates the ProductVectorSearchOptions.
func (o *ProductVectorSearchOptions) Validate() error {
	if len(o.Vector) == 0 {
		return errors.New("vector cannot be empty")
	}
	if o.Limit < 0 {
		return errors.Errorf("limit cannot be negative: %d", o.Limit)
	}
	if o.Limit == 0 {
		o.Limit = 20
	}
	if o.Limit > 1000 {
		return errors.Errorf("limit too large (max 1000): %d", o.Limit)
	}
	return nil
}

// SearchText is the text embedded for product search.
func (p *Product) SearchText() string {
	return p.Name + ". " + p.Brand + " " + p.Category + ". " + p.Description
}

func (s *Store) CreateProduct(ctx context.Context, create *Product) (*Product, error) {
	return s.driver.CreateProduct(ctx, create)
}

func (s *Store) ListProducts(ctx context.Context, find *FindProduct) ([]*Product, error) {
	return s.driver.ListProducts(ctx, find)
}

// GetProduct returns the product or nil when it does not exist.
func (s *Store) GetProduct(ctx context.Context, id int32) (*Product, error) {
	list, err := s.driver.ListProducts(ctx, &FindProduct{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// ProductExists reports whether a product with id exists.
func (s *Store) ProductExists(ctx context.Context, id int32) (bool, error) {
	product, err := s.GetProduct(ctx, id)
	if err != nil {
		return false, err
	}
	return product != nil, nil
}

func (s *Store) UpsertProductEmbedding(ctx context.Context, embedding *ProductEmbedding) error {
	return s.driver.UpsertProductEmbedding(ctx, embedding)
}

func (s *Store) ListProductsWithoutEmbedding(ctx context.Context, model string, limit int) ([]*Product, error) {
	return s.driver.ListProductsWithoutEmbedding(ctx, model, limit)
}

// SearchProducts runs a category-filtered vector search over products.
func (s *Store) SearchProducts(ctx context.Context, opts *ProductVectorSearchOptions) ([]*ProductWithScore, error) {
	if err := opts.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid search options")
	}
	return s.driver.SearchProducts(ctx, opts)
}
