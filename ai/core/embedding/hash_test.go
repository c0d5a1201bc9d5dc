package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func TestHashServiceSimilarity(t *testing.T) {
	svc, err := NewService(&Config{Provider: ProviderLocal, Model: "hash", Dimensions: 128})
	require.NoError(t, err)
	assert.Equal(t, 128, svc.Dimensions())

	ctx := context.Background()
	query, err := svc.Embed(ctx, "comfortable straps")
	require.NoError(t, err)
	vectors, err := svc.EmbedBatch(ctx, []string{"The straps are very comfortable", "Zipper broke quickly"})
	require.NoError(t, err)

	assert.InDelta(t, 1.0, math.Sqrt(dot(query, query)), 1e-5)
	assert.Greater(t, dot(query, vectors[0]), dot(query, vectors[1]))
}

func TestHashServiceEmptyText(t *testing.T) {
	vec, err := NewHashService(0).Embed(context.Background(), "  ")
	require.NoError(t, err)
	assert.Len(t, vec, 256)
	assert.Zero(t, dot(vec, vec))

	_, err = NewHashService(8).EmbedBatch(context.Background(), nil)
	assert.Error(t, err)
}
