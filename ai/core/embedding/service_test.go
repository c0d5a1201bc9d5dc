package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewService_RequiresModel(t *testing.T) {
	_, err := NewService(&Config{})
	assert.Error(t, err)
}

func TestEmbedBatch_PreservesInputOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		// Returned out of order on purpose.
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data": []any{
				map[string]any{"object": "embedding", "index": 1, "embedding": []float32{0, 1}},
				map[string]any{"object": "embedding", "index": 0, "embedding": []float32{1, 0}},
			},
		})
	}))
	defer srv.Close()

	svc, err := NewService(&Config{Model: "text-embedding-3-small", APIKey: "k", BaseURL: srv.URL, Dimensions: 2})
	require.NoError(t, err)

	vectors, err := svc.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, vectors[0])
	assert.Equal(t, []float32{0, 1}, vectors[1])
	assert.Equal(t, 2, svc.Dimensions())
}

func TestEmbedBatch_Empty(t *testing.T) {
	svc, err := NewService(&Config{Model: "m"})
	require.NoError(t, err)
	_, err = svc.EmbedBatch(context.Background(), nil)
	assert.Error(t, err)
}
