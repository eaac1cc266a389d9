package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/slipway-labs/slipway-go/internal/repo"
)

type JobStore struct {
	db DB
}

const (
	upsertJobQuery = `INSERT INTO release_jobs (
		job_id,
		run_id,
		target_triple,
		host_os,
		strategy,
		state,
		reason,
		archive_name,
		archive_sha256,
		archive_size_bytes,
		started_at,
		finished_at,
		updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,NOW())
	ON CONFLICT (job_id) DO UPDATE SET
		state = EXCLUDED.state,
		reason = EXCLUDED.reason,
		archive_name = EXCLUDED.archive_name,
		archive_sha256 = EXCLUDED.archive_sha256,
		archive_size_bytes = EXCLUDED.archive_size_bytes,
		finished_at = EXCLUDED.finished_at,
		updated_at = NOW()`

	selectJobsByRunQuery = `SELECT job_id, run_id, target_triple, host_os, strategy, state, reason,
		archive_name, archive_sha256, archive_size_bytes, started_at, finished_at, updated_at
	FROM release_jobs
	WHERE run_id = $1
	ORDER BY started_at ASC, target_triple ASC`
)

func NewJobStore(db DB) *JobStore {
	if db == nil {
		return nil
	}
	return &JobStore{db: db}
}

func (s *JobStore) UpsertJob(ctx context.Context, job repo.ReleaseJob) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("job store not initialized")
	}
	jobID := strings.TrimSpace(job.JobID)
	if jobID == "" {
		return fmt.Errorf("job id is required")
	}
	runID := strings.TrimSpace(job.RunID)
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	triple := strings.TrimSpace(job.Triple)
	if triple == "" {
		return fmt.Errorf("target triple is required")
	}
	state := strings.TrimSpace(job.State)
	if state == "" {
		return fmt.Errorf("state is required")
	}
	var size sql.NullInt64
	if job.ArchiveSize > 0 {
		size = sql.NullInt64{Int64: job.ArchiveSize, Valid: true}
	}
	_, err := s.db.ExecContext(
		ctx,
		upsertJobQuery,
		jobID,
		runID,
		triple,
		strings.TrimSpace(job.HostOS),
		strings.TrimSpace(job.Strategy),
		state,
		nullIfEmpty(job.Reason),
		nullIfEmpty(job.ArchiveName),
		nullIfEmpty(job.ArchiveSHA256),
		size,
		normalizeTime(job.StartedAt),
		nullTime(job.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert job: %w", err)
	}
	return nil
}

func (s *JobStore) ListJobsByRun(ctx context.Context, runID string) ([]repo.ReleaseJob, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("job store not initialized")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, fmt.Errorf("run id is required")
	}
	rows, err := s.db.QueryContext(ctx, selectJobsByRunQuery, runID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]repo.ReleaseJob, 0)
	for rows.Next() {
		var job repo.ReleaseJob
		var reason, archiveName, archiveSHA sql.NullString
		var size sql.NullInt64
		var finishedAt sql.NullTime
		if err := rows.Scan(
			&job.JobID, &job.RunID, &job.Triple, &job.HostOS, &job.Strategy, &job.State, &reason,
			&archiveName, &archiveSHA, &size, &job.StartedAt, &finishedAt, &job.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		if reason.Valid {
			job.Reason = reason.String
		}
		if archiveName.Valid {
			job.ArchiveName = archiveName.String
		}
		if archiveSHA.Valid {
			job.ArchiveSHA256 = archiveSHA.String
		}
		if size.Valid {
			job.ArchiveSize = size.Int64
		}
		if finishedAt.Valid {
			finished := finishedAt.Time.UTC()
			job.FinishedAt = &finished
		}
		job.StartedAt = job.StartedAt.UTC()
		job.UpdatedAt = job.UpdatedAt.UTC()
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}
