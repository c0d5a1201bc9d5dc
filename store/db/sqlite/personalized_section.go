package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/hrygo/productsense/store"
)

func (d *DB) GetPersonalizedSection(ctx context.Context, productID, userID int32) (*store.PersonalizedSection, error) {
	var (
		section store.PersonalizedSection
		raw     sql.NullString
	)
	err := d.db.QueryRowContext(ctx, `
		SELECT product_id, user_id, personalization, status, trace_id, created_ts, updated_ts
		FROM personalized_section
		WHERE product_id = ? AND user_id = ?`, productID, userID,
	).Scan(&section.ProductID, &section.UserID, &raw, &section.Status, &section.TraceID, &section.CreatedTs, &section.UpdatedTs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get personalized section")
	}
	if raw.Valid && raw.String != "" {
		section.Personalization = json.RawMessage(raw.String)
	}
	return &section, nil
}

func (d *DB) CreatePersonalizedSection(ctx context.Context, create *store.PersonalizedSection) (*store.PersonalizedSection, error) {
	var personalization any
	if create.Personalization != nil {
		personalization = string(create.Personalization)
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO personalized_section (product_id, user_id, personalization, status, trace_id, created_ts, updated_ts)
		VALUES (`+placeholders(7)+`)
		ON CONFLICT (product_id, user_id) DO NOTHING`,
		create.ProductID, create.UserID, personalization, create.Status, create.TraceID, create.CreatedTs, create.UpdatedTs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create personalized section")
	}
	return d.GetPersonalizedSection(ctx, create.ProductID, create.UserID)
}

// UpsertPersonalizedSection writes the row. A nil personalization keeps the stored one.
func (d *DB) UpsertPersonalizedSection(ctx context.Context, upsert *store.PersonalizedSection) (*store.PersonalizedSection, error) {
	var personalization any
	if upsert.Personalization != nil {
		personalization = string(upsert.Personalization)
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO personalized_section (product_id, user_id, personalization, status, trace_id, created_ts, updated_ts)
		VALUES (`+placeholders(7)+`)
		ON CONFLICT (product_id, user_id) DO UPDATE SET
			personalization = COALESCE(excluded.personalization, personalized_section.personalization),
			status = excluded.status,
			trace_id = excluded.trace_id,
			updated_ts = excluded.updated_ts`,
		upsert.ProductID, upsert.UserID, personalization, upsert.Status, upsert.TraceID, upsert.CreatedTs, upsert.UpdatedTs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert personalized section")
	}
	return d.GetPersonalizedSection(ctx, upsert.ProductID, upsert.UserID)
}

// ClaimPersonalizedSection flips the row to in-progress unless a live run holds it.
func (d *DB) ClaimPersonalizedSection(ctx context.Context, claim *store.ClaimPersonalizedSection) (bool, error) {
	result, err := d.db.ExecContext(ctx, `
		INSERT INTO personalized_section (product_id, user_id, status, trace_id, created_ts, updated_ts)
		VALUES (?1, ?2, ?3, ?4, ?5, ?5)
		ON CONFLICT (product_id, user_id) DO UPDATE SET
			status = excluded.status,
			trace_id = excluded.trace_id,
			updated_ts = excluded.updated_ts
		WHERE personalized_section.status <> ?3 OR personalized_section.updated_ts < ?6`,
		claim.ProductID, claim.UserID, store.SectionStatusInProgress, claim.TraceID, claim.Now, claim.StaleBefore)
	if err != nil {
		return false, errors.Wrap(err, "failed to claim personalized section")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read claim result")
	}
	return n == 1, nil
}

func (d *DB) ResetPersonalization(ctx context.Context) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"personalized_section", "user_memory"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return errors.Wrapf(err, "failed to clear %s", table)
		}
	}
	return errors.Wrap(tx.Commit(), "failed to commit reset")
}
