package sqlite

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/hrygo/productsense/store"
)

func (d *DB) CreateTraceSpans(ctx context.Context, spans []*store.TraceSpan) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trace_span (trace_id, span_id, parent_id, name, start_ms, end_ms, status, attributes)
		VALUES (`+placeholders(8)+`)
		ON CONFLICT (trace_id, span_id) DO NOTHING`)
	if err != nil {
		return errors.Wrap(err, "failed to prepare trace span insert")
	}
	defer stmt.Close()

	for _, span := range spans {
		attrs, err := json.Marshal(span.Attributes)
		if err != nil {
			return errors.Wrap(err, "failed to encode span attributes")
		}
		if _, err := stmt.ExecContext(ctx,
			span.TraceID, span.SpanID, span.ParentID, span.Name, span.StartMs, span.EndMs, span.Status, string(attrs),
		); err != nil {
			return errors.Wrapf(err, "failed to insert span %s", span.SpanID)
		}
	}
	return errors.Wrap(tx.Commit(), "failed to commit trace spans")
}

func (d *DB) ListTraceSpans(ctx context.Context, traceID string) ([]*store.TraceSpan, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT trace_id, span_id, parent_id, name, start_ms, end_ms, status, attributes
		FROM trace_span
		WHERE trace_id = ?
		ORDER BY start_ms, span_id`, traceID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list trace spans")
	}
	defer rows.Close()

	list := []*store.TraceSpan{}
	for rows.Next() {
		var (
			span  store.TraceSpan
			attrs string
		)
		if err := rows.Scan(&span.TraceID, &span.SpanID, &span.ParentID, &span.Name, &span.StartMs, &span.EndMs, &span.Status, &attrs); err != nil {
			return nil, errors.Wrap(err, "failed to scan trace span")
		}
		if attrs != "" && attrs != "null" {
			if err := json.Unmarshal([]byte(attrs), &span.Attributes); err != nil {
				return nil, errors.Wrap(err, "failed to decode span attributes")
			}
		}
		list = append(list, &span)
	}
	return list, errors.Wrap(rows.Err(), "failed to iterate trace spans")
}
