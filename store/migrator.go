package store

import (
	"context"
	"embed"
	"fmt"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/hrygo/productsense/internal/version"
)

//go:embed migration
var migrationFS embed.FS

// Migrate applies the latest schema when the stored schema version is behind
// the running binary.
func (s *Store) Migrate(ctx context.Context) error {
	initialized, err := s.driver.IsInitialized(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to check database initialization")
	}

	current := version.GetCurrentVersion(s.profile.Mode)
	if initialized {
		schemaVersion, err := s.driver.GetSchemaVersion(ctx)
		if err != nil {
			return errors.Wrap(err, "failed to get schema version")
		}
		if schemaVersion != "" && version.IsVersionGreaterOrEqualThan(schemaVersion, current) {
			slog.Debug("store: schema up to date", "schema_version", schemaVersion)
			return nil
		}
	}

	path := fmt.Sprintf("migration/%s/LATEST.sql", s.profile.Driver)
	buf, err := migrationFS.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read migration %s", path)
	}
	if _, err := s.driver.GetDB().ExecContext(ctx, string(buf)); err != nil {
		return errors.Wrapf(err, "failed to apply migration %s", path)
	}
	if err := s.driver.SetSchemaVersion(ctx, current); err != nil {
		return errors.Wrap(err, "failed to record schema version")
	}
	slog.Info("store: schema migrated", "driver", s.profile.Driver, "schema_version", current)
	return nil
}
