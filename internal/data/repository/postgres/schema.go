package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the engine's own tables when they are missing. The
// dynamic form tables themselves are created by the upstream form service;
// only the ledger, backups and job queue belong to this engine.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS field_migrations (
			id BIGSERIAL PRIMARY KEY,
			field_id TEXT,
			form_id TEXT NOT NULL,
			migration_type TEXT NOT NULL,
			table_name TEXT NOT NULL,
			column_name TEXT NOT NULL,
			old_value JSONB,
			new_value JSONB,
			backup_id UUID,
			executed_by TEXT NOT NULL,
			executed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			success BOOLEAN NOT NULL,
			error_message TEXT,
			rollback_sql TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_field_migrations_form ON field_migrations (form_id)`,
		`CREATE INDEX IF NOT EXISTS idx_field_migrations_table ON field_migrations (table_name)`,
		`CREATE TABLE IF NOT EXISTS field_data_backups (
			id UUID PRIMARY KEY,
			field_id TEXT NOT NULL,
			form_id TEXT NOT NULL,
			table_name TEXT NOT NULL,
			column_name TEXT NOT NULL,
			data_snapshot JSONB NOT NULL DEFAULT '[]'::jsonb,
			backup_type TEXT NOT NULL,
			retention_until TIMESTAMPTZ NOT NULL,
			created_by TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_field_data_backups_retention ON field_data_backups (retention_until)`,
		`CREATE TABLE IF NOT EXISTS migration_jobs (
			id UUID PRIMARY KEY,
			fingerprint TEXT NOT NULL,
			type TEXT NOT NULL,
			table_name TEXT NOT NULL,
			column_name TEXT NOT NULL,
			new_column_name TEXT NOT NULL DEFAULT '',
			old_type TEXT NOT NULL DEFAULT '',
			new_type TEXT NOT NULL DEFAULT '',
			field_id TEXT NOT NULL,
			form_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			priority INT NOT NULL,
			attempts INT NOT NULL DEFAULT 0,
			max_attempts INT NOT NULL,
			status TEXT NOT NULL,
			last_error TEXT,
			enqueued_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_migration_jobs_status ON migration_jobs (status, priority, enqueued_at)`,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure engine schema: %w", err)
		}
	}

	return nil
}
