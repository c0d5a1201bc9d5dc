package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/hrygo/productsense/ai/core/embedding"
	"github.com/hrygo/productsense/store"
)

// DefaultBatchSize is how many rows are embedded per request.
const DefaultBatchSize = 64

// IndexStore is the persistence the Indexer backfills.
type IndexStore interface {
	ListProductsWithoutEmbedding(ctx context.Context, model string, limit int) ([]*store.Product, error)
	UpsertProductEmbedding(ctx context.Context, embedding *store.ProductEmbedding) error
	ListReviewsWithoutEmbedding(ctx context.Context, model string, limit int) ([]*store.Review, error)
	UpsertReviewEmbedding(ctx context.Context, embedding *store.ReviewEmbedding) error
}

// IndexStats counts the rows embedded by one Run.
type IndexStats struct {
	Products int
	Reviews  int
}

// Indexer embeds products and reviews that have no vector for its model yet.
type Indexer struct {
	store     IndexStore
	embedder  embedding.Service
	model     string
	batchSize int
}

func NewIndexer(st IndexStore, embedder embedding.Service, model string, batchSize int) *Indexer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Indexer{store: st, embedder: embedder, model: model, batchSize: batchSize}
}

// Run backfills both tables until nothing is left to embed.
func (ix *Indexer) Run(ctx context.Context) (IndexStats, error) {
	var stats IndexStats
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := ix.backfill(ctx, "products", ix.productBatch)
		stats.Products = n
		return err
	})
	g.Go(func() error {
		n, err := ix.backfill(ctx, "reviews", ix.reviewBatch)
		stats.Reviews = n
		return err
	})
	err := g.Wait()
	return stats, err
}

// backfill calls batch until it reports a short page.
func (ix *Indexer) backfill(ctx context.Context, kind string, batch func(context.Context) (int, error)) (int, error) {
	total := 0
	for {
		n, err := batch(ctx)
		total += n
		if err != nil {
			return total, fmt.Errorf("embed %s: %w", kind, err)
		}
		if n > 0 {
			slog.Info("catalog: embedded batch", "kind", kind, "count", n, "total", total, "model", ix.model)
		}
		if n < ix.batchSize {
			return total, nil
		}
	}
}

func (ix *Indexer) productBatch(ctx context.Context) (int, error) {
	products, err := ix.store.ListProductsWithoutEmbedding(ctx, ix.model, ix.batchSize)
	if err != nil || len(products) == 0 {
		return 0, err
	}
	texts := make([]string, len(products))
	for i, p := range products {
		texts[i] = p.SearchText()
	}
	vectors, err := ix.embed(ctx, texts)
	if err != nil {
		return 0, err
	}
	for i, p := range products {
		if err := ix.store.UpsertProductEmbedding(ctx, &store.ProductEmbedding{
			ProductID: p.ID,
			Model:     ix.model,
			Embedding: vectors[i],
		}); err != nil {
			return i, err
		}
	}
	return len(products), nil
}

func (ix *Indexer) reviewBatch(ctx context.Context) (int, error) {
	reviews, err := ix.store.ListReviewsWithoutEmbedding(ctx, ix.model, ix.batchSize)
	if err != nil || len(reviews) == 0 {
		return 0, err
	}
	texts := make([]string, len(reviews))
	for i, r := range reviews {
		texts[i] = r.Text
	}
	vectors, err := ix.embed(ctx, texts)
	if err != nil {
		return 0, err
	}
	for i, r := range reviews {
		if err := ix.store.UpsertReviewEmbedding(ctx, &store.ReviewEmbedding{
			ReviewID:  r.ID,
			Model:     ix.model,
			Embedding: vectors[i],
		}); err != nil {
			return i, err
		}
	}
	return len(reviews), nil
}

func (ix *Indexer) embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(texts))
	}
	return vectors, nil
}
