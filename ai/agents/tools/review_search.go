package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hrygo/productsense/ai/agents/orchestrator"
	"github.com/hrygo/productsense/ai/core/embedding"
	"github.com/hrygo/productsense/ai/core/llm"
	"github.com/hrygo/productsense/store"
)

const (
	// ReviewSearchName is the tool name the reviews agent is prompted with.
	ReviewSearchName = "search_reviews"

	defaultReviewLimit = 8
	maxReviewLimit     = 20
	toolTimeout        = 15 * time.Second
)

var errNoWorkflow = errors.New("tool called outside a personalization run")

// ReviewSearcher is the vector search the tool needs.
type ReviewSearcher interface {
	SearchReviews(ctx context.Context, opts *store.ReviewVectorSearchOptions) ([]*store.ReviewWithScore, error)
}

// ReviewSearchInput is the tool argument object.
type ReviewSearchInput struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// ReviewSearchTool finds the reviews of the current product closest to a query.
type ReviewSearchTool struct {
	store    ReviewSearcher
	embedder embedding.Service
	model    string
	cache    *ResultCache
}

// NewReviewSearchTool creates the tool. model labels stored vectors; cache may be nil.
func NewReviewSearchTool(searcher ReviewSearcher, embedder embedding.Service, model string, cache *ResultCache) (*ReviewSearchTool, error) {
	if searcher == nil {
		return nil, fmt.Errorf("review searcher cannot be nil")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder cannot be nil")
	}
	return &ReviewSearchTool{store: searcher, embedder: embedder, model: model, cache: cache}, nil
}

func (t *ReviewSearchTool) Name() string { return ReviewSearchName }

func (t *ReviewSearchTool) Description() string {
	return `Search this product's customer reviews by meaning.

Input: {"query": "what the shopper cares about", "limit": 8}
Output: matching reviews with rating and review_id, best match first.`
}

func (t *ReviewSearchTool) Parameters() *llm.JSONSchema {
	return &llm.JSONSchema{
		Type: "object",
		Properties: map[string]*llm.JSONSchema{
			"query": {Type: "string", Description: "Aspect or preference to look for in reviews"},
			"limit": {Type: "integer", Description: "Maximum reviews to return"},
		},
		Required: []string{"query"},
	}
}

// Run executes the search for the product of the run carried by ctx.
func (t *ReviewSearchTool) Run(ctx context.Context, input string) (string, error) {
	wc := orchestrator.WorkflowFromContext(ctx)
	if wc == nil {
		return "", errNoWorkflow
	}

	var args ReviewSearchInput
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("invalid JSON input: %w", err)
	}
	args.Query = strings.TrimSpace(args.Query)
	if args.Query == "" {
		return "", fmt.Errorf("query is required")
	}
	if args.Limit <= 0 {
		args.Limit = defaultReviewLimit
	}
	if args.Limit > maxReviewLimit {
		args.Limit = maxReviewLimit
	}

	key := NewCacheKey(ReviewSearchName, wc.ProductID, fmt.Sprintf("%s|%d", strings.ToLower(args.Query), args.Limit))
	if out, ok := t.cache.Get(key); ok {
		return out, nil
	}

	ctx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()

	vector, err := t.embedder.Embed(ctx, args.Query)
	if err != nil {
		return "", fmt.Errorf("embed query: %w", err)
	}
	hits, err := t.store.SearchReviews(ctx, &store.ReviewVectorSearchOptions{
		Vector:    vector,
		ProductID: wc.ProductID,
		Model:     t.model,
		Limit:     args.Limit,
	})
	if err != nil {
		return "", fmt.Errorf("search reviews: %w", err)
	}

	out := formatReviews(args.Query, hits)
	t.cache.Set(key, out)
	return out, nil
}

func formatReviews(query string, hits []*store.ReviewWithScore) string {
	if len(hits) == 0 {
		return fmt.Sprintf("No reviews found matching: %s", query)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d review(s) matching: %s\n", len(hits), query)
	for i, h := range hits {
		fmt.Fprintf(&b, "%d. [review_id=%d rating=%d/5] %s\n", i+1, h.Review.ID, h.Review.Rating, strings.TrimSpace(h.Review.Text))
	}
	return b.String()
}
