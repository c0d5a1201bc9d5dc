package postgres

import (
	"context"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/hrygo/productsense/store"
)

func (d *DB) CreateUserMemory(ctx context.Context, create *store.UserMemory) (*store.UserMemory, error) {
	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}
	if err := d.db.QueryRowContext(ctx,
		"INSERT INTO user_memory (user_id, content, model, embedding, created_ts) VALUES ("+placeholders(5)+") RETURNING id",
		create.UserID, create.Content, create.Model, pgvector.NewVector(create.Embedding), create.CreatedTs,
	).Scan(&create.ID); err != nil {
		return nil, errors.Wrap(err, "failed to create user memory")
	}
	return create, nil
}

func (d *DB) ListUserMemories(ctx context.Context, find *store.FindUserMemory) ([]*store.UserMemory, error) {
	limit := find.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, user_id, content, model, created_ts
		FROM user_memory
		WHERE user_id = $1
		ORDER BY created_ts DESC, id DESC
		LIMIT $2`, find.UserID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list user memories")
	}
	defer rows.Close()

	list := []*store.UserMemory{}
	for rows.Next() {
		var m store.UserMemory
		if err := rows.Scan(&m.ID, &m.UserID, &m.Content, &m.Model, &m.CreatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan user memory")
		}
		list = append(list, &m)
	}
	return list, errors.Wrap(rows.Err(), "failed to iterate user memories")
}

func (d *DB) SearchUserMemories(ctx context.Context, opts *store.UserMemorySearchOptions) ([]*store.UserMemoryWithScore, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, user_id, content, model, created_ts, 1 - (embedding <=> $1) AS score
		FROM user_memory
		WHERE user_id = $2 AND model = $3 AND 1 - (embedding <=> $1) >= $4
		ORDER BY embedding <=> $1
		LIMIT $5`,
		pgvector.NewVector(opts.Vector), opts.UserID, opts.Model, opts.MinScore, opts.Limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search user memories")
	}
	defer rows.Close()

	results := []*store.UserMemoryWithScore{}
	for rows.Next() {
		var (
			m     store.UserMemory
			score float32
		)
		if err := rows.Scan(&m.ID, &m.UserID, &m.Content, &m.Model, &m.CreatedTs, &score); err != nil {
			return nil, errors.Wrap(err, "failed to scan user memory search result")
		}
		results = append(results, &store.UserMemoryWithScore{Memory: &m, Score: score})
	}
	return results, errors.Wrap(rows.Err(), "failed to iterate user memory search results")
}
