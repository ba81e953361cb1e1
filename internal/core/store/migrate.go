package store

import (
	"context"
	"errors"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS fetch_log (
		id TEXT PRIMARY KEY,
		method TEXT NOT NULL,
		url TEXT NOT NULL,
		final_url TEXT,
		status INTEGER NOT NULL DEFAULT 0,
		content_type TEXT,
		body_bytes INTEGER NOT NULL DEFAULT 0,
		title TEXT,
		excerpt TEXT,
		error TEXT,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		fetched_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_fetch_log_fetched_at ON fetch_log(fetched_at);`,
	`CREATE INDEX IF NOT EXISTS idx_fetch_log_url ON fetch_log(url);`,
}

// Migrate ensures the required database tables exist.
func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	for _, stmt := range schemaStatements {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store migration failed: %w", err)
		}
	}

	return nil
}
