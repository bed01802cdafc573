package sqlite

import (
	"context"
	"fmt"
)

// SchemaVersion is the schema version this build expects.
const SchemaVersion = 2

type migration struct {
	version     int
	description string
	statements  []string
}

var migrations = []migration{
	{
		version:     1,
		description: "statement uploads and parsed transactions",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS statement_uploads (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				original_file_name TEXT NOT NULL,
				uploaded_at TEXT NOT NULL,
				status TEXT NOT NULL,
				error_message TEXT,
				parsed_at TEXT,
				confirmed_at TEXT,
				updated_at TEXT NOT NULL,
				version INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS parsed_transactions (
				upload_id TEXT NOT NULL REFERENCES statement_uploads(id),
				position INTEGER NOT NULL,
				id TEXT NOT NULL,
				date TEXT NOT NULL,
				description TEXT NOT NULL,
				amount TEXT NOT NULL,
				currency TEXT NOT NULL,
				suggested_category_id TEXT NOT NULL,
				confirmed_category_id TEXT,
				original_text TEXT,
				PRIMARY KEY (upload_id, id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_uploads_user ON statement_uploads(user_id, uploaded_at)`,
		},
	},
	{
		version:     2,
		description: "raw document location",
		statements: []string{
			`ALTER TABLE statement_uploads ADD COLUMN document_uri TEXT NOT NULL DEFAULT ''`,
		},
	},
}

// Migrate brings the schema up to SchemaVersion. Each migration runs in
// its own transaction together with the PRAGMA user_version bump.
func (s *Store) Migrate(ctx context.Context) error {
	var current int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("Migrate: read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := s.apply(ctx, m); err != nil {
			return err
		}
		s.log.Info().
			Int("version", m.version).
			Str("description", m.description).
			Msg("Applied migration")
	}

	var final int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&final); err != nil {
		return fmt.Errorf("Migrate: verify schema version: %w", err)
	}
	if final != SchemaVersion {
		return fmt.Errorf("Migrate: schema version mismatch: expected %d, got %d", SchemaVersion, final)
	}
	return nil
}

func (s *Store) apply(ctx context.Context, m migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("Migrate: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range m.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("Migrate: migration %d: %w", m.version, err)
		}
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
		return fmt.Errorf("Migrate: set schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("Migrate: commit migration %d: %w", m.version, err)
	}
	return nil
}
