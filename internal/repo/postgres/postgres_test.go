package postgres

import (
	"strings"
	"testing"
)

func TestJobUpsertKeyedByJobID(t *testing.T) {
	if !strings.Contains(upsertJobQuery, "ON CONFLICT (job_id) DO UPDATE") {
		t.Fatalf("expected job upsert conflict clause")
	}
	if !strings.Contains(upsertJobQuery, "finished_at = EXCLUDED.finished_at") {
		t.Fatalf("expected terminal timestamp carried on upsert")
	}
	if !strings.Contains(selectJobsByRunQuery, "ORDER BY") {
		t.Fatalf("expected deterministic job ordering")
	}
}

func TestReleaseUpsertKeyedByTag(t *testing.T) {
	if !strings.Contains(upsertReleaseQuery, "ON CONFLICT (tag) DO UPDATE") {
		t.Fatalf("expected release upsert keyed by tag")
	}
	if !strings.Contains(insertAssetQuery, "ON CONFLICT (tag, archive_name) DO UPDATE") {
		t.Fatalf("expected asset upsert keyed by tag and name")
	}
}

func TestConcludeRunPreservesCommit(t *testing.T) {
	if !strings.Contains(concludeRunQuery, "COALESCE($7, commit_sha)") {
		t.Fatalf("conclude must not blank an already recorded commit")
	}
	if !strings.Contains(markStaleRunsQuery, "started_at < $4") {
		t.Fatalf("stale sweep must be bounded by the deadline")
	}
}

func TestSchemaCoversAllTables(t *testing.T) {
	joined := strings.Join(schemaStatements, "\n")
	for _, table := range []string{
		"release_runs", "release_jobs", "release_records", "release_assets", "audit_events",
	} {
		if !strings.Contains(joined, "CREATE TABLE IF NOT EXISTS "+table) {
			t.Fatalf("schema missing table %s", table)
		}
	}
	if !strings.Contains(joined, "UNIQUE (run_id, target_triple)") {
		t.Fatalf("one job per target per run must be enforced")
	}
}

func TestNilStoreGuards(t *testing.T) {
	if NewRunStore(nil) != nil {
		t.Fatalf("expected nil run store for nil db")
	}
	if NewJobStore(nil) != nil {
		t.Fatalf("expected nil job store for nil db")
	}
	if NewReleaseStore(nil) != nil {
		t.Fatalf("expected nil release store for nil db")
	}
}
