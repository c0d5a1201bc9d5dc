package store

import (
	"context"

	"github.com/pkg/errors"
)

// Review is a customer review of a product.
type Review struct {
	ID        int32
	ProductID int32
	Rating    int32
	Text      string
	CreatedTs int64
}

// FindReview is the find condition for reviews. Limit and Offset page the
// result; Count ignores them.
type FindReview struct {
	ID        *int32
	ProductID *int32
	Limit     int
	Offset    int
}

// ReviewEmbedding is the vector of a review's text.
type ReviewEmbedding struct {
	ReviewID  int32
	Model     string
	Embedding []float32
	UpdatedTs int64
}

// ReviewWithScore is a vector search hit over reviews.
type ReviewWithScore struct {
	Review *Review
	Score  float32
}

// ReviewVectorSearchOptions restricts review search to one product.
type ReviewVectorSearchOptions struct {
	Vector    []float32
	ProductID int32
	Model     string
	Limit     int
}

// Validate validates the ReviewVectorSearchOptions.
func (o *ReviewVectorSearchOptions) Validate() error {
	if o.ProductID <= 0 {
		return errors.Errorf("invalid ProductID: %d", o.ProductID)
	}
	if len(o.Vector) == 0 {
		return errors.New("vector cannot be empty")
	}
	if o.Limit < 0 {
		return errors.Errorf("limit cannot be negative: %d", o.Limit)
	}
	if o.Limit == 0 {
		o.Limit = 20
	}
	return nil
}

// Sentiment buckets reviews by rating.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// RatingRange returns the inclusive rating bounds for a sentiment.
// Unknown values are treated as positive.
func (s Sentiment) RatingRange() (int32, int32) {
	switch s {
	case SentimentNegative:
		return 1, 2
	case SentimentNeutral:
		return 3, 3
	default:
		return 4, 5
	}
}

// FindReviewMentions counts reviews mentioning a feature with a given sentiment.
type FindReviewMentions struct {
	ProductIDs []int32
	Feature    string
	Sentiment  Sentiment
}

// ReviewMentionCount is the per-product result of CountReviewMentions.
type ReviewMentionCount struct {
	ProductID int32
	Count     int32
}

func (s *Store) CreateReview(ctx context.Context, create *Review) (*Review, error) {
	return s.driver.CreateReview(ctx, create)
}

func (s *Store) ListReviews(ctx context.Context, find *FindReview) ([]*Review, error) {
	return s.driver.ListReviews(ctx, find)
}

// CountReviews returns how many reviews match find regardless of paging.
func (s *Store) CountReviews(ctx context.Context, find *FindReview) (int, error) {
	return s.driver.CountReviews(ctx, find)
}

// GetReview returns the review or nil when it does not exist.
func (s *Store) GetReview(ctx context.Context, id int32) (*Review, error) {
	list, err := s.driver.ListReviews(ctx, &FindReview{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (s *Store) UpsertReviewEmbedding(ctx context.Context, embedding *ReviewEmbedding) error {
	return s.driver.UpsertReviewEmbedding(ctx, embedding)
}

func (s *Store) ListReviewsWithoutEmbedding(ctx context.Context, model string, limit int) ([]*Review, error) {
	return s.driver.ListReviewsWithoutEmbedding(ctx, model, limit)
}

// SearchReviews runs a product-filtered vector search over reviews.
func (s *Store) SearchReviews(ctx context.Context, opts *ReviewVectorSearchOptions) ([]*ReviewWithScore, error) {
	if err := opts.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid search options")
	}
	return s.driver.SearchReviews(ctx, opts)
}

// CountReviewMentions returns products ordered by matching review count, highest first.
func (s *Store) CountReviewMentions(ctx context.Context, find *FindReviewMentions) ([]*ReviewMentionCount, error) {
	if len(find.ProductIDs) == 0 || find.Feature == "" {
		return nil, nil
	}
	return s.driver.CountReviewMentions(ctx, find)
}
