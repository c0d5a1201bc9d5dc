package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/hrygo/productsense/store"
)

func (d *DB) CreateReview(ctx context.Context, create *store.Review) (*store.Review, error) {
	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}
	if err := d.db.QueryRowContext(ctx,
		"INSERT INTO review (product_id, rating, text, created_ts) VALUES ("+placeholders(4)+") RETURNING id",
		create.ProductID, create.Rating, create.Text, create.CreatedTs,
	).Scan(&create.ID); err != nil {
		return nil, errors.Wrap(err, "failed to create review")
	}
	return create, nil
}

func reviewWhere(find *store.FindReview) (string, []any) {
	where, args := []string{"1 = 1"}, []any{}
	if find.ID != nil {
		where, args = append(where, "r.id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.ProductID != nil {
		where, args = append(where, "r.product_id = "+placeholder(len(args)+1)), append(args, *find.ProductID)
	}
	return strings.Join(where, " AND "), args
}

func (d *DB) ListReviews(ctx context.Context, find *store.FindReview) ([]*store.Review, error) {
	where, args := reviewWhere(find)
	query := `SELECT r.id, r.product_id, r.rating, r.text, r.created_ts FROM review r WHERE ` + where + ` ORDER BY r.id`
	if find.Limit > 0 {
		query += " LIMIT " + placeholder(len(args)+1)
		args = append(args, find.Limit)
		if find.Offset > 0 {
			query += " OFFSET " + placeholder(len(args)+1)
			args = append(args, find.Offset)
		}
	}
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list reviews")
	}
	defer rows.Close()

	list := []*store.Review{}
	for rows.Next() {
		var r store.Review
		if err := rows.Scan(&r.ID, &r.ProductID, &r.Rating, &r.Text, &r.CreatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan review")
		}
		list = append(list, &r)
	}
	return list, errors.Wrap(rows.Err(), "failed to iterate reviews")
}

func (d *DB) CountReviews(ctx context.Context, find *store.FindReview) (int, error) {
	where, args := reviewWhere(find)
	var count int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM review r WHERE `+where, args...).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "failed to count reviews")
	}
	return count, nil
}

func (d *DB) UpsertReviewEmbedding(ctx context.Context, embedding *store.ReviewEmbedding) error {
	if embedding.UpdatedTs == 0 {
		embedding.UpdatedTs = time.Now().Unix()
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO review_embedding (review_id, model, embedding, updated_ts)
		VALUES (`+placeholders(4)+`)
		ON CONFLICT (review_id, model)
		DO UPDATE SET embedding = EXCLUDED.embedding, updated_ts = EXCLUDED.updated_ts`,
		embedding.ReviewID, embedding.Model, pgvector.NewVector(embedding.Embedding), embedding.UpdatedTs)
	return errors.Wrap(err, "failed to upsert review embedding")
}

func (d *DB) ListReviewsWithoutEmbedding(ctx context.Context, model string, limit int) ([]*store.Review, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT r.id, r.product_id, r.rating, r.text, r.created_ts
		FROM review r
		WHERE NOT EXISTS (SELECT 1 FROM review_embedding e WHERE e.review_id = r.id AND e.model = $1)
		ORDER BY r.id
		LIMIT $2`, model, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list reviews without embedding")
	}
	defer rows.Close()

	list := []*store.Review{}
	for rows.Next() {
		var r store.Review
		if err := rows.Scan(&r.ID, &r.ProductID, &r.Rating, &r.Text, &r.CreatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan review")
		}
		list = append(list, &r)
	}
	return list, errors.Wrap(rows.Err(), "failed to iterate reviews")
}

// SearchReviews ranks the reviews of one product by cosine similarity.
func (d *DB) SearchReviews(ctx context.Context, opts *store.ReviewVectorSearchOptions) ([]*store.ReviewWithScore, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT r.id, r.product_id, r.rating, r.text, r.created_ts, 1 - (e.embedding <=> $1) AS score
		FROM review_embedding e
		JOIN review r ON r.id = e.review_id
		WHERE r.product_id = $2 AND e.model = $3
		ORDER BY e.embedding <=> $1
		LIMIT $4`,
		pgvector.NewVector(opts.Vector), opts.ProductID, opts.Model, opts.Limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search reviews")
	}
	defer rows.Close()

	results := []*store.ReviewWithScore{}
	for rows.Next() {
		var (
			r     store.Review
			score float32
		)
		if err := rows.Scan(&r.ID, &r.ProductID, &r.Rating, &r.Text, &r.CreatedTs, &score); err != nil {
			return nil, errors.Wrap(err, "failed to scan review search result")
		}
		results = append(results, &store.ReviewWithScore{Review: &r, Score: score})
	}
	return results, errors.Wrap(rows.Err(), "failed to iterate review search results")
}

func (d *DB) CountReviewMentions(ctx context.Context, find *store.FindReviewMentions) ([]*store.ReviewMentionCount, error) {
	low, high := find.Sentiment.RatingRange()
	rows, err := d.db.QueryContext(ctx, `
		SELECT product_id, COUNT(*) AS mentions
		FROM review
		WHERE product_id = ANY($1) AND text ILIKE '%' || $2 || '%' AND rating BETWEEN $3 AND $4
		GROUP BY product_id
		ORDER BY mentions DESC, product_id`,
		pq.Array(find.ProductIDs), find.Feature, low, high)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count review mentions")
	}
	defer rows.Close()

	list := []*store.ReviewMentionCount{}
	for rows.Next() {
		var c store.ReviewMentionCount
		if err := rows.Scan(&c.ProductID, &c.Count); err != nil {
			return nil, errors.Wrap(err, "failed to scan review mention count")
		}
		list = append(list, &c)
	}
	return list, errors.Wrap(rows.Err(), "failed to iterate review mention counts")
}
