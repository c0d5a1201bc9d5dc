package sqlite

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/productsense/store"
)

func (d *DB) CreateUserMemory(ctx context.Context, create *store.UserMemory) (*store.UserMemory, error) {
	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}
	vec, err := encodeVector(create.Embedding)
	if err != nil {
		return nil, err
	}
	result, err := d.db.ExecContext(ctx,
		"INSERT INTO user_memory (user_id, content, model, embedding, created_ts) VALUES (?, ?, ?, ?, ?)",
		create.UserID, create.Content, create.Model, vec, create.CreatedTs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create user memory")
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read user memory id")
	}
	create.ID = int32(id)
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
		WHERE user_id = ?
		ORDER BY created_ts DESC, id DESC
		LIMIT ?`, find.UserID, limit)
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
		SELECT id, user_id, content, model, created_ts, embedding
		FROM user_memory
		WHERE user_id = ? AND model = ?`, opts.UserID, opts.Model)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search user memories")
	}
	defer rows.Close()

	results := []*store.UserMemoryWithScore{}
	for rows.Next() {
		var (
			m   store.UserMemory
			raw string
		)
		if err := rows.Scan(&m.ID, &m.UserID, &m.Content, &m.Model, &m.CreatedTs, &raw); err != nil {
			return nil, errors.Wrap(err, "failed to scan user memory search result")
		}
		vec, err := decodeVector(raw)
		if err != nil {
			return nil, err
		}
		score := cosineSimilarity(opts.Vector, vec)
		if score < opts.MinScore {
			continue
		}
		results = append(results, &store.UserMemoryWithScore{Memory: &m, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate user memory search results")
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}
