package postgres

import (
	"context"
	"fmt"
)

// schemaStatements create the conductor's tables on boot. Statements are
// idempotent so every start can run them.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS release_runs (
		run_id UUID PRIMARY KEY,
		tag TEXT NOT NULL,
		commit_sha TEXT,
		trigger_source TEXT,
		status TEXT NOT NULL,
		outcome TEXT,
		published BOOLEAN NOT NULL DEFAULT FALSE,
		release_id TEXT,
		gate_effect TEXT,
		gate_rule TEXT,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS release_runs_tag_idx ON release_runs (tag, started_at DESC)`,
	`CREATE TABLE IF NOT EXISTS release_jobs (
		job_id UUID PRIMARY KEY,
		run_id UUID NOT NULL REFERENCES release_runs (run_id) ON DELETE CASCADE,
		target_triple TEXT NOT NULL,
		host_os TEXT NOT NULL,
		strategy TEXT NOT NULL,
		state TEXT NOT NULL,
		reason TEXT,
		archive_name TEXT,
		archive_sha256 TEXT,
		archive_size_bytes BIGINT,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (run_id, target_triple)
	)`,
	`CREATE TABLE IF NOT EXISTS release_records (
		tag TEXT PRIMARY KEY,
		release_id TEXT NOT NULL,
		backend TEXT NOT NULL,
		artifact_count INTEGER NOT NULL DEFAULT 0,
		published_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS release_assets (
		tag TEXT NOT NULL REFERENCES release_records (tag) ON DELETE CASCADE,
		archive_name TEXT NOT NULL,
		target_triple TEXT NOT NULL,
		sha256 TEXT,
		size_bytes BIGINT,
		uploaded_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (tag, archive_name)
	)`,
	`CREATE TABLE IF NOT EXISTS audit_events (
		event_id BIGSERIAL PRIMARY KEY,
		occurred_at TIMESTAMPTZ NOT NULL,
		actor TEXT NOT NULL,
		action TEXT NOT NULL,
		resource_type TEXT NOT NULL,
		resource_id TEXT NOT NULL,
		request_id TEXT,
		ip TEXT,
		user_agent TEXT,
		payload JSONB,
		integrity_sha256 TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS audit_events_action_idx ON audit_events (action, occurred_at DESC)`,
}

// EnsureSchema applies the schema statements in order.
func EnsureSchema(ctx context.Context, db DB) error {
	if db == nil {
		return fmt.Errorf("schema: db is required")
	}
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
