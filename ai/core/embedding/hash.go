package embedding

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// ProviderLocal selects the offline hashing embedder.
const ProviderLocal = "local"

// HashService embeds text with the hashing trick over lowercase word tokens.
// Vectors are L2-normalized, so texts sharing words score higher under cosine
// similarity. It needs no network and is deterministic, which makes it the
// embedder for offline development and tests.
type HashService struct {
	dimensions int
}

// NewHashService creates a hashing embedder producing vectors of dims length.
func NewHashService(dims int) *HashService {
	if dims <= 0 {
		dims = 256
	}
	return &HashService{dimensions: dims}
}

func (h *HashService) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dimensions)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range tokens {
		f := fnv.New32a()
		_, _ = f.Write([]byte(tok))
		vec[f.Sum32()%uint32(h.dimensions)]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}

func (h *HashService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("no texts provided for embedding")
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := h.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (h *HashService) Dimensions() int {
	return h.dimensions
}

var _ Service = (*HashService)(nil)
