package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/productsense/store"
)

func (d *DB) CreateUser(ctx context.Context, create *store.User) (*store.User, error) {
	lists := make([]string, 3)
	for i, l := range [][]string{create.Hobbies, create.LifestylePreferences, create.SearchHistory} {
		if l == nil {
			l = []string{}
		}
		b, err := json.Marshal(l)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode user profile list")
		}
		lists[i] = string(b)
	}
	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}

	result, err := d.db.ExecContext(ctx, `
		INSERT INTO app_user (first_name, gender, age, location, hobbies, lifestyle_preferences, search_history, created_ts)
		VALUES (`+placeholders(8)+`)`,
		create.FirstName, create.Gender, create.Age, create.Location, lists[0], lists[1], lists[2], create.CreatedTs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create user")
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read user id")
	}
	create.ID = int32(id)
	return create, nil
}

func (d *DB) GetUser(ctx context.Context, id int32) (*store.User, error) {
	var (
		user                        store.User
		hobbies, lifestyle, history string
	)
	err := d.db.QueryRowContext(ctx, `
		SELECT id, first_name, gender, age, location, hobbies, lifestyle_preferences, search_history, created_ts
		FROM app_user WHERE id = ?`, id,
	).Scan(&user.ID, &user.FirstName, &user.Gender, &user.Age, &user.Location, &hobbies, &lifestyle, &history, &user.CreatedTs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get user %d", id)
	}
	if err := decodeLists(
		[]string{hobbies, lifestyle, history},
		[]*[]string{&user.Hobbies, &user.LifestylePreferences, &user.SearchHistory},
	); err != nil {
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
			hobbies, lifestyle, history string
		)
		if err := rows.Scan(&user.ID, &user.FirstName, &user.Gender, &user.Age, &user.Location, &hobbies, &lifestyle, &history, &user.CreatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan user")
		}
		if err := decodeLists(
			[]string{hobbies, lifestyle, history},
			[]*[]string{&user.Hobbies, &user.LifestylePreferences, &user.SearchHistory},
		); err != nil {
			return nil, err
		}
		list = append(list, &user)
	}
	return list, errors.Wrap(rows.Err(), "failed to iterate users")
}

func (d *DB) AppendUserSearch(ctx context.Context, id int32, query string, keep int) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	var raw string
	err = tx.QueryRowContext(ctx, "SELECT search_history FROM app_user WHERE id = ?", id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "failed to read search history")
	}

	var history []string
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		return errors.Wrap(err, "failed to decode search history")
	}
	updated, err := json.Marshal(store.PrependSearch(history, query, keep))
	if err != nil {
		return errors.Wrap(err, "failed to encode search history")
	}
	if _, err := tx.ExecContext(ctx, "UPDATE app_user SET search_history = ? WHERE id = ?", string(updated), id); err != nil {
		return errors.Wrap(err, "failed to update search history")
	}
	return errors.Wrap(tx.Commit(), "failed to commit search history")
}

func decodeLists(raws []string, dsts []*[]string) error {
	for i, raw := range raws {
		if raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(raw), dsts[i]); err != nil {
			return errors.Wrap(err, "failed to decode user profile list")
		}
	}
	return nil
}
