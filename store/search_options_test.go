package store

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProductVectorSearchOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		opts    *ProductVectorSearchOptions
		wantErr bool
		errMsg  string
	}{
		{"valid defaults", &ProductVectorSearchOptions{Vector: []float32{0.1}}, false, ""},
		{"empty Vector", &ProductVectorSearchOptions{Vector: []float32{}}, true, "vector cannot be empty"},
		{"Limit negative", &ProductVectorSearchOptions{Vector: []float32{0.1}, Limit: -1}, true, "limit cannot be negative"},
		{"Limit > 1000", &ProductVectorSearchOptions{Vector: []float32{0.1}, Limit: 1001}, true, "limit too large"},
		{"Limit == 1000", &ProductVectorSearchOptions{Vector: []float32{0.1}, Limit: 1000}, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, strings.Contains(err.Error(), tt.errMsg),
					"expected error to contain %q, got %q", tt.errMsg, err.Error())
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestProductVectorSearchOptions_Validate_SetsDefaultLimit(t *testing.T) {
	opts := &ProductVectorSearchOptions{Vector: []float32{0.1}}

	require.NoError(t, opts.Validate())
	assert.Equal(t, 20, opts.Limit)
}

func TestReviewVectorSearchOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		opts    *ReviewVectorSearchOptions
		wantErr bool
		errMsg  string
	}{
		{"valid", &ReviewVectorSearchOptions{ProductID: 1, Vector: []float32{0.1}}, false, ""},
		{"ProductID <= 0", &ReviewVectorSearchOptions{Vector: []float32{0.1}}, true, "invalid ProductID"},
		{"nil Vector", &ReviewVectorSearchOptions{ProductID: 1}, true, "vector cannot be empty"},
		{"Limit negative", &ReviewVectorSearchOptions{ProductID: 1, Vector: []float32{0.1}, Limit: -3}, true, "limit cannot be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestUserMemorySearchOptions_Validate(t *testing.T) {
	opts := &UserMemorySearchOptions{UserID: 3, Vector: []float32{1}}
	require.NoError(t, opts.Validate())
	assert.Equal(t, 10, opts.Limit)

	assert.Error(t, (&UserMemorySearchOptions{Vector: []float32{1}}).Validate())
	assert.Error(t, (&UserMemorySearchOptions{UserID: 3}).Validate())
}

func TestSentimentRatingRange(t *testing.T) {
	tests := []struct {
		sentiment Sentiment
		low, high int32
	}{
		{SentimentPositive, 4, 5},
		{SentimentNeutral, 3, 3},
		{SentimentNegative, 1, 2},
		{Sentiment(""), 4, 5},
	}
	for _, tt := range tests {
		low, high := tt.sentiment.RatingRange()
		assert.Equal(t, tt.low, low, string(tt.sentiment))
		assert.Equal(t, tt.high, high, string(tt.sentiment))
	}
}

func TestPrependSearch(t *testing.T) {
	history := []string{"d", "c", "b", "a", "z"}

	got := PrependSearch(history, "e", MaxSearchHistory)
	assert.Equal(t, []string{"e", "d", "c", "b", "a"}, got)

	assert.Equal(t, []string{"first"}, PrependSearch(nil, "first", MaxSearchHistory))
	assert.Equal(t, []string{"x", "d"}, PrependSearch(history, "x", 2))
}

func TestNewClaim(t *testing.T) {
	before := time.Now().Unix()
	claim := NewClaim(7, 9, "trace", 5*time.Minute)

	assert.Equal(t, int32(7), claim.ProductID)
	assert.Equal(t, int32(9), claim.UserID)
	assert.GreaterOrEqual(t, claim.Now, before)
	assert.Equal(t, int64(300), claim.Now-claim.StaleBefore)
}
