// Package catalog searches products by meaning within a category.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hrygo/productsense/ai/core/embedding"
	"github.com/hrygo/productsense/store"
)

// DefaultTopK is how many products a vector search retrieves.
const DefaultTopK = 20

// ResponseSize is how many search hits are returned to a shopper.
const ResponseSize = 8

// Store is the persistence product search needs. *store.Store satisfies it.
type Store interface {
	SearchProducts(ctx context.Context, opts *store.ProductVectorSearchOptions) ([]*store.ProductWithScore, error)
	AppendUserSearch(ctx context.Context, id int32, query string) error
}

// Product is a search hit as returned to clients.
type Product struct {
	ID            int32   `json:"id"`
	Name          string  `json:"name"`
	Category      string  `json:"category"`
	Price         float64 `json:"price"`
	Brand         string  `json:"brand"`
	Description   string  `json:"description"`
	AverageRating float64 `json:"average_rating"`
	Score         float32 `json:"score,omitempty"`
}

// FromStore converts a stored product.
func FromStore(p *store.Product) Product {
	return Product{
		ID:            p.ID,
		Name:          p.Name,
		Category:      p.Category,
		Price:         p.Price,
		Brand:         p.Brand,
		Description:   p.Description,
		AverageRating: p.AverageRating,
	}
}

// IDs returns the product ids in order.
func IDs(products []Product) []int32 {
	ids := make([]int32, len(products))
	for i, p := range products {
		ids[i] = p.ID
	}
	return ids
}

// Searcher runs embedding search over products.
type Searcher struct {
	store    Store
	embedder embedding.Service
	model    string
	topK     int
}

// NewSearcher creates a Searcher. model labels the stored product vectors.
func NewSearcher(st Store, embedder embedding.Service, model string, topK int) *Searcher {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Searcher{store: st, embedder: embedder, model: model, topK: topK}
}

// Search returns the products closest to query, best first. A non-empty
// category restricts the search to it. When userID is set and something was
// found, the query is pushed onto the user's search history.
func (s *Searcher) Search(ctx context.Context, userID int32, query, category string) ([]Product, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []Product{}, nil
	}

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := s.store.SearchProducts(ctx, &store.ProductVectorSearchOptions{
		Vector:   vector,
		Category: strings.ToLower(strings.TrimSpace(category)),
		Model:    s.model,
		Limit:    s.topK,
	})
	if err != nil {
		return nil, fmt.Errorf("search products: %w", err)
	}

	products := make([]Product, 0, len(hits))
	for _, h := range hits {
		p := FromStore(h.Product)
		p.Score = h.Score
		products = append(products, p)
	}
	slog.Debug("catalog: product search",
		"query", query,
		"category", category,
		"hits", len(products),
	)

	if userID > 0 && len(products) > 0 {
		if err := s.store.AppendUserSearch(ctx, userID, query); err != nil {
			slog.Warn("catalog: failed to record search history",
				"user_id", userID,
				"error", err,
			)
		}
	}
	return products, nil
}
