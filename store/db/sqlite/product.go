package sqlite

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/productsense/store"
)

const productColumns = `p.id, p.name, p.category, p.price, p.brand, p.description, p.created_ts,
	COALESCE((SELECT AVG(r.rating) FROM review r WHERE r.product_id = p.id), 0)`

func (d *DB) CreateProduct(ctx context.Context, create *store.Product) (*store.Product, error) {
	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}
	result, err := d.db.ExecContext(ctx, `
		INSERT INTO product (name, category, price, brand, description, created_ts)
		VALUES (`+placeholders(6)+`)`,
		create.Name, create.Category, create.Price, create.Brand, create.Description, create.CreatedTs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create product")
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read product id")
	}
	create.ID = int32(id)
	return create, nil
}

func (d *DB) ListProducts(ctx context.Context, find *store.FindProduct) ([]*store.Product, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "p.id = ?"), append(args, *find.ID)
	}
	if len(find.IDs) > 0 {
		in, inArgs := inClause(find.IDs)
		where, args = append(where, "p.id IN "+in), append(args, inArgs...)
	}
	if find.Category != nil {
		where, args = append(where, "p.category = ?"), append(args, *find.Category)
	}

	query := `SELECT ` + productColumns + ` FROM product p WHERE ` + strings.Join(where, " AND ") + ` ORDER BY p.id`
	if find.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, find.Limit)
	}
	return d.queryProducts(ctx, query, args...)
}

func (d *DB) UpsertProductEmbedding(ctx context.Context, embedding *store.ProductEmbedding) error {
	if embedding.UpdatedTs == 0 {
		embedding.UpdatedTs = time.Now().Unix()
	}
	vec, err := encodeVector(embedding.Embedding)
	if err != nil {
		return err
	}
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO product_embedding (product_id, model, embedding, updated_ts)
		VALUES (`+placeholders(4)+`)
		ON CONFLICT (product_id, model)
		DO UPDATE SET embedding = excluded.embedding, updated_ts = excluded.updated_ts`,
		embedding.ProductID, embedding.Model, vec, embedding.UpdatedTs)
	return errors.Wrap(err, "failed to upsert product embedding")
}

func (d *DB) ListProductsWithoutEmbedding(ctx context.Context, model string, limit int) ([]*store.Product, error) {
	return d.queryProducts(ctx, `
		SELECT `+productColumns+`
		FROM product p
		WHERE NOT EXISTS (SELECT 1 FROM product_embedding e WHERE e.product_id = p.id AND e.model = ?)
		ORDER BY p.id
		LIMIT ?`, model, limit)
}

// SearchProducts loads the candidate vectors of the category and ranks them in memory.
func (d *DB) SearchProducts(ctx context.Context, opts *store.ProductVectorSearchOptions) ([]*store.ProductWithScore, error) {
	where, args := []string{"e.model = ?"}, []any{opts.Model}
	if opts.Category != "" {
		where, args = append(where, "p.category = ?"), append(args, opts.Category)
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT `+productColumns+`, e.embedding
		FROM product_embedding e
		JOIN product p ON p.id = e.product_id
		WHERE `+strings.Join(where, " AND "), args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search products")
	}
	defer rows.Close()

	results := []*store.ProductWithScore{}
	for rows.Next() {
		var (
			p   store.Product
			raw string
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Price, &p.Brand, &p.Description, &p.CreatedTs, &p.AverageRating, &raw); err != nil {
			return nil, errors.Wrap(err, "failed to scan product search result")
		}
		vec, err := decodeVector(raw)
		if err != nil {
			return nil, err
		}
		results = append(results, &store.ProductWithScore{Product: &p, Score: cosineSimilarity(opts.Vector, vec)})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate product search results")
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

func (d *DB) queryProducts(ctx context.Context, query string, args ...any) ([]*store.Product, error) {
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
