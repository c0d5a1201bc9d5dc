package sqlite

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/productsense/store"
)

func (d *DB) CreateReview(ctx context.Context, create *store.Review) (*store.Review, error) {
	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}
	result, err := d.db.ExecContext(ctx,
		"INSERT INTO review (product_id, rating, text, created_ts) VALUES (?, ?, ?, ?)",
		create.ProductID, create.Rating, create.Text, create.CreatedTs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create review")
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read review id")
	}
	create.ID = int32(id)
	return create, nil
}

func reviewWhere(find *store.FindReview) (string, []any) {
	where, args := []string{"1 = 1"}, []any{}
	if find.ID != nil {
		where, args = append(where, "r.id = ?"), append(args, *find.ID)
	}
	if find.ProductID != nil {
		where, args = append(where, "r.product_id = ?"), append(args, *find.ProductID)
	}
	return strings.Join(where, " AND "), args
}

func (d *DB) ListReviews(ctx context.Context, find *store.FindReview) ([]*store.Review, error) {
	where, args := reviewWhere(find)
	query := `SELECT r.id, r.product_id, r.rating, r.text, r.created_ts FROM review r WHERE ` + where + ` ORDER BY r.id`
	if find.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, find.Limit)
		if find.Offset > 0 {
			query += " OFFSET ?"
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
	vec, err := encodeVector(embedding.Embedding)
	if err != nil {
		return err
	}
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO review_embedding (review_id, model, embedding, updated_ts)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (review_id, model)
		DO UPDATE SET embedding = excluded.embedding, updated_ts = excluded.updated_ts`,
		embedding.ReviewID, embedding.Model, vec, embedding.UpdatedTs)
	return errors.Wrap(err, "failed to upsert review embedding")
}

func (d *DB) ListReviewsWithoutEmbedding(ctx context.Context, model string, limit int) ([]*store.Review, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT r.id, r.product_id, r.rating, r.text, r.created_ts
		FROM review r
		WHERE NOT EXISTS (SELECT 1 FROM review_embedding e WHERE e.review_id = r.id AND e.model = ?)
		ORDER BY r.id
		LIMIT ?`, model, limit)
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

func (d *DB) SearchReviews(ctx context.Context, opts *store.ReviewVectorSearchOptions) ([]*store.ReviewWithScore, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT r.id, r.product_id, r.rating, r.text, r.created_ts, e.embedding
		FROM review_embedding e
		JOIN review r ON r.id = e.review_id
		WHERE r.product_id = ? AND e.model = ?`, opts.ProductID, opts.Model)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search reviews")
	}
	defer rows.Close()

	results := []*store.ReviewWithScore{}
	for rows.Next() {
		var (
			r   store.Review
			raw string
		)
		if err := rows.Scan(&r.ID, &r.ProductID, &r.Rating, &r.Text, &r.CreatedTs, &raw); err != nil {
			return nil, errors.Wrap(err, "failed to scan review search result")
		}
		vec, err := decodeVector(raw)
		if err != nil {
			return nil, err
		}
		results = append(results, &store.ReviewWithScore{Review: &r, Score: cosineSimilarity(opts.Vector, vec)})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate review search results")
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// CountReviewMentions relies on LIKE being case-insensitive for ASCII in SQLite.
func (d *DB) CountReviewMentions(ctx context.Context, find *store.FindReviewMentions) ([]*store.ReviewMentionCount, error) {
	low, high := find.Sentiment.RatingRange()
	in, args := inClause(find.ProductIDs)
	args = append(args, find.Feature, low, high)

	rows, err := d.db.QueryContext(ctx, `
		SELECT product_id, COUNT(*) AS mentions
		FROM review
		WHERE product_id IN `+in+` AND text LIKE '%' || ? || '%' AND rating BETWEEN ? AND ?
		GROUP BY product_id
		ORDER BY mentions DESC, product_id`, args...)
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
