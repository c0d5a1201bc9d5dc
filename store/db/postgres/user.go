package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/productsense/store"
)

func (d *DB) CreateUser(ctx context.Context, create *store.User) (*store.User, error) {
	hobbies, lifestyle, history, err := marshalUserLists(create)
	if err != nil {
		return nil, err
	}
	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}

	stmt := `
		INSERT INTO app_user (first_name, gender, age, location, hobbies, lifestyle_preferences, search_history, created_ts)
		VALUES (` + placeholders(8) + `)
		RETURNING id`
	if err := d.db.QueryRowContext(ctx, stmt,
		create.FirstName, create.Gender, create.Age, create.Location,
		hobbies, lifestyle, history, create.CreatedTs,
	).Scan(&create.ID); err != nil {
		return nil, errors.Wrap(err, "failed to create user")
	}
	return create, nil
}

func (d *DB) GetUser(ctx context.Context, id int32) (*store.User, error) {
	var (
		user                        store.User
		hobbies, lifestyle, history []byte
	)
	err := d.db.QueryRowContext(ctx, `
		SELECT id, first_name, gender, age, location, hobbies, lifestyle_preferences, search_history, created_ts
		FROM app_user WHERE id = $1`, id,
	).Scan(&user.ID, &user.FirstName, &user.Gender, &user.Age, &user.Location, &hobbies, &lifestyle, &history, &user.CreatedTs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get user %d", id)
	}
	if err := unmarshalUserLists(&user, hobbies, lifestyle, history); err != nil {
		return nil, err
	}
	return &user, nil
}

func (d *DB) ListUsers(ctx context.Context) ([]*store.User, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, first_name, gender, age, location, hobbies, lifestyle_preferences, search_history, created_ts
		FROM app_user ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list users")
	}
	defer rows.Close()

	list := []*store.User{}
	for rows.Next() {
		var (
			user                        store.User
			hobbies, lifestyle, history []byte
		)
		if err := rows.Scan(&user.ID, &user.FirstName, &user.Gender, &user.Age, &user.Location, &hobbies, &lifestyle, &history, &user.CreatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan user")
		}
		if err := unmarshalUserLists(&user, hobbies, lifestyle, history); err != nil {
			return nil, err
		}
		list = append(list, &user)
	}
	return list, errors.Wrap(rows.Err(), "failed to iterate users")
}

// AppendUserSearch rewrites the history inside one transaction so concurrent
// searches by the same user do not drop each other's entries.
func (d *DB) AppendUserSearch(ctx context.Context, id int32, query string, keep int) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	var raw []byte
	err = tx.QueryRowContext(ctx, "SELECT search_history FROM app_user WHERE id = $1 FOR UPDATE", id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "failed to read search history")
	}

	var history []string
	if err := json.Unmarshal(raw, &history); err != nil {
		return errors.Wrap(err, "failed to decode search history")
	}
	updated, err := json.Marshal(store.PrependSearch(history, query, keep))
	if err != nil {
		return errors.Wrap(err, "failed to encode search history")
	}
	if _, err := tx.ExecContext(ctx, "UPDATE app_user SET search_history = $1 WHERE id = $2", updated, id); err != nil {
		return errors.Wrap(err, "failed to update search history")
	}
	return errors.Wrap(tx.Commit(), "failed to commit search history")
}

func marshalUserLists(u *store.User) ([]byte, []byte, []byte, error) {
	lists := [3][]string{u.Hobbies, u.LifestylePreferences, u.SearchHistory}
	var out [3][]byte
	for i, l := range lists {
		if l == nil {
			l = []string{}
		}
		b, err := json.Marshal(l)
		if err != nil {
			return nil, nil, nil, errors.Wrap(err, "failed to encode user profile list")
		}
		out[i] = b
	}
	return out[0], out[1], out[2], nil
}

func unmarshalUserLists(u *store.User, hobbies, lifestyle, history []byte) error {
	for _, f := range []struct {
		raw []byte
		dst *[]string
	}{
		{hobbies, &u.Hobbies},
		{lifestyle, &u.LifestylePreferences},
		{history, &u.SearchHistory},
	} {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return errors.Wrap(err, "failed to decode user profile list")
		}
	}
	return nil
}
