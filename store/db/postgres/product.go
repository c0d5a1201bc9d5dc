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

const productColumns = `p.id, p.name, p.category, p.price, p.brand, p.description, p.created_ts,
	COALESCE((SELECT AVG(r.rating) FROM review r WHERE r.product_id = p.id), 0)`

func (d *DB) CreateProduct(ctx context.Context, create *store.Product) (*store.Product, error) {
	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}
	stmt := `
		INSERT INTO product (name, category, price, brand, description, created_ts)
		VALUES (` + placeholders(6) + `)
		RETURNING id`
	if err := d.db.QueryRowContext(ctx, stmt,
		create.Name, create.Category, create.Price, create.Brand, create.Description, create.CreatedTs,
	).Scan(&create.ID); err != nil {
		return nil, errors.Wrap(err, "failed to create product")
	}
	return create, nil
}

func (d *DB) ListProducts(ctx context.Context, find *store.FindProduct) ([]*store.Product, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "p.id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if len(find.IDs) > 0 {
		where, args = append(where, "p.id = ANY("+placeholder(len(args)+1)+")"), append(args, pq.Array(find.IDs))
	}
	if find.Category != nil {
		where, args = append(where, "p.category = "+placeholder(len(args)+1)), append(args, *find.Category)
	}

	query := `SELECT ` + productColumns + ` FROM product p WHERE ` + strings.Join(where, " AND ") + ` ORDER BY p.id`
	if find.Limit > 0 {
		query += " LIMIT " + placeholder(len(args)+1)
		args = append(args, find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list products")
	}
	defer rows.Close()

	list := []*store.Product{}
	for rows.Next() {
		var p store.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Price, &p.Brand, &p.Description, &p.CreatedTs, &p.AverageRating); err != nil {
			return nil, errors.Wrap(err, "failed to scan product")
		}
		list = append(list, &p)
	}
	return list, errors.Wrap(rows.Err(), "failed to iterate products")
}

func (d *DB) UpsertProductEmbedding(ctx context.Context, embedding *store.ProductEmbedding) error {
	if embedding.UpdatedTs == 0 {
		embedding.UpdatedTs = time.Now().Unix()
	}
	stmt := `
		INSERT INTO product_embedding (product_id, model, embedding, updated_ts)
		VALUES (` + placeholders(4) + `)
		ON CONFLICT (product_id, model)
		DO UPDATE SET embedding = EXCLUDED.embedding, updated_ts = EXCLUDED.updated_ts`
	_, err := d.db.ExecContext(ctx, stmt,
		embedding.ProductID, embedding.Model, pgvector.NewVector(embedding.Embedding), embedding.UpdatedTs)
	return errors.Wrap(err, "failed to upsert product embedding")
}

func (d *DB) ListProductsWithoutEmbedding(ctx context.Context, model string, limit int) ([]*store.Product, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM product p
		WHERE NOT EXISTS (SELECT 1 FROM product_embedding e WHERE e.product_id = p.id AND e.model = $1)
		ORDER BY p.id
		LIMIT $2`, model, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list products without embedding")
	}
	defer rows.Close()

	list := []*store.Product{}
	for rows.Next() {
		var p store.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Price, &p.Brand, &p.Description, &p.CreatedTs, &p.AverageRating); err != nil {
			return nil, errors.Wrap(err, "failed to scan product")
		}
		list = append(list, &p)
	}
	return list, errors.Wrap(rows.Err(), "failed to iterate products")
}

// SearchProducts ranks products of one category by cosine similarity.
func (d *DB) SearchProducts(ctx context.Context, opts *store.ProductVectorSearchOptions) ([]*store.ProductWithScore, error) {
	where, args := []string{"e.model = $2"}, []any{pgvector.NewVector(opts.Vector), opts.Model}
	if opts.Category != "" {
		where, args = append(where, "p.category = "+placeholder(len(args)+1)), append(args, opts.Category)
	}
	args = append(args, opts.Limit)

	query := `
		SELECT ` + productColumns + `, 1 - (e.embedding <=> $1) AS score
		FROM product_embedding e
		JOIN product p ON p.id = e.product_id
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY e.embedding <=> $1
		LIMIT ` + placeholder(len(args))

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search products")
	}
	defer rows.Close()

	results := []*store.ProductWithScore{}
	for rows.Next() {
		var (
			p     store.Product
			score float32
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Price, &p.Brand, &p.Description, &p.CreatedTs, &p.AverageRating, &score); err != nil {
			return nil, errors.Wrap(err, "failed to scan product search result")
		}
		results = append(results, &store.ProductWithScore{Product: &p, Score: score})
	}
	return results, errors.Wrap(rows.Err(), "failed to iterate product search results")
}
