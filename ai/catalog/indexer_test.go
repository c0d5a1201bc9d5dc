package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/productsense/ai/core/embedding"
	"github.com/hrygo/productsense/store"
	"github.com/hrygo/productsense/store/teststore"
)

func TestIndexerBackfills(t *testing.T) {
	s := teststore.New(t)
	ctx := context.Background()
	userID, productID := teststore.Seed(t, s)
	embedder := embedding.NewHashService(256)

	stats, err := NewIndexer(s, embedder, testModel, 2).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, IndexStats{Products: 1, Reviews: 3}, stats)

	again, err := NewIndexer(s, embedder, testModel, 2).Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, again)

	products, err := NewSearcher(s, embedder, testModel, 0).Search(ctx, userID, "daypack with rain cover", "backpacks")
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, productID, products[0].ID)

	reviews, err := s.SearchReviews(ctx, &store.ReviewVectorSearchOptions{
		Vector: must(embedder.Embed(ctx, "zipper broke")), ProductID: productID, Model: testModel, Limit: 3,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, reviews)
}

func TestIndexerKeepsModelsApart(t *testing.T) {
	s := teststore.New(t)
	ctx := context.Background()
	teststore.Seed(t, s)

	_, err := NewIndexer(s, embedding.NewHashService(64), "hash-64", 0).Run(ctx)
	require.NoError(t, err)

	stats, err := NewIndexer(s, embedding.NewHashService(256), testModel, 0).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, IndexStats{Products: 1, Reviews: 3}, stats)
}

type failingEmbedder struct{ embedding.Service }

func (failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("quota exceeded")
}

func TestIndexerReportsEmbedFailure(t *testing.T) {
	s := teststore.New(t)
	teststore.Seed(t, s)

	_, err := NewIndexer(s, failingEmbedder{embedding.NewHashService(64)}, testModel, 0).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}
