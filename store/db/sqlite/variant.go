package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/hrygo/productsense/store"
)

func (d *DB) CreateVariant(ctx context.Context, create *store.Variant) (*store.Variant, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx,
		"INSERT INTO variant (product_id, price, stock_count) VALUES (?, ?, ?)",
		create.ProductID, create.Price, create.StockCount)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create variant")
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read variant id")
	}
	create.ID = int32(id)

	for _, attr := range create.Attributes {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO variant_attribute (variant_id, name, value) VALUES (?, ?, ?)",
			create.ID, attr.Name, attr.Value,
		); err != nil {
			return nil, errors.Wrapf(err, "failed to create variant attribute %s", attr.Name)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit variant")
	}
	return create, nil
}

func (d *DB) ListVariants(ctx context.Context, productID int32) ([]*store.Variant, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT v.id, v.product_id, v.price, v.stock_count, a.name, a.value
		FROM variant v
		LEFT JOIN variant_attribute a ON a.variant_id = v.id
		WHERE v.product_id = ?
		ORDER BY v.id, a.name`, productID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list variants")
	}
	defer rows.Close()

	list := []*store.Variant{}
	var current *store.Variant
	for rows.Next() {
		var (
			v           store.Variant
			name, value sql.NullString
		)
		if err := rows.Scan(&v.ID, &v.ProductID, &v.Price, &v.StockCount, &name, &value); err != nil {
			return nil, errors.Wrap(err, "failed to scan variant")
		}
		if current == nil || current.ID != v.ID {
			current = &v
			list = append(list, current)
		}
		if name.Valid && value.Valid {
			current.Attributes = append(current.Attributes, store.VariantAttribute{Name: name.String, Value: value.String})
		}
	}
	return list, errors.Wrap(rows.Err(), "failed to iterate variants")
}
