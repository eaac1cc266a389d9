package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/slipway-labs/slipway-go/internal/repo"
)

type RunStore struct {
	db DB
}

const (
	insertRunQuery = `INSERT INTO release_runs (
		run_id,
		tag,
		commit_sha,
		trigger_source,
		status,
		started_at
	) VALUES ($1,$2,$3,$4,$5,$6)`

	selectRunColumns = `run_id, tag, commit_sha, trigger_source, status, outcome, published,
		release_id, gate_effect, gate_rule, started_at, finished_at`

	concludeRunQuery = `UPDATE release_runs SET
		status = $1,
		outcome = $2,
		published = $3,
		release_id = $4,
		gate_effect = $5,
		gate_rule = $6,
		commit_sha = COALESCE($7, commit_sha),
		finished_at = $8
	WHERE run_id = $9`

	markStaleRunsQuery = `UPDATE release_runs SET
		status = $1,
		outcome = $2,
		finished_at = NOW()
	WHERE status = $3 AND started_at < $4`
)

func NewRunStore(db DB) *RunStore {
	if db == nil {
		return nil
	}
	return &RunStore{db: db}
}

func (s *RunStore) CreateRun(ctx context.Context, run repo.ReleaseRun) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	runID := strings.TrimSpace(run.RunID)
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	tag := strings.TrimSpace(run.Tag)
	if tag == "" {
		return fmt.Errorf("tag is required")
	}
	status := strings.TrimSpace(run.Status)
	if status == "" {
		status = repo.RunStatusRunning
	}
	_, err := s.db.ExecContext(
		ctx,
		insertRunQuery,
		runID,
		tag,
		nullIfEmpty(run.Commit),
		nullIfEmpty(run.Source),
		status,
		normalizeTime(run.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *RunStore) GetRun(ctx context.Context, id string) (repo.ReleaseRun, error) {
	if s == nil || s.db == nil {
		return repo.ReleaseRun{}, fmt.Errorf("run store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return repo.ReleaseRun{}, fmt.Errorf("run id is required")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+selectRunColumns+` FROM release_runs WHERE run_id = $1`,
		id,
	)
	run, err := scanRun(row)
	if err != nil {
		return repo.ReleaseRun{}, handleNotFound(err)
	}
	return run, nil
}

func (s *RunStore) ListRuns(ctx context.Context, filter repo.RunFilter) ([]repo.ReleaseRun, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("run store not initialized")
	}
	clauses := make([]string, 0, 2)
	args := make([]any, 0, 3)
	if strings.TrimSpace(filter.Tag) != "" {
		args = append(args, strings.TrimSpace(filter.Tag))
		clauses = append(clauses, fmt.Sprintf("tag = $%d", len(args)))
	}
	if strings.TrimSpace(filter.Status) != "" {
		args = append(args, strings.TrimSpace(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + selectRunColumns + ` FROM release_runs`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]repo.ReleaseRun, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

func (s *RunStore) ConcludeRun(ctx context.Context, run repo.ReleaseRun) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	runID := strings.TrimSpace(run.RunID)
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	outcome := strings.TrimSpace(run.Outcome)
	if outcome == "" {
		return fmt.Errorf("outcome is required")
	}
	finished := run.FinishedAt
	if finished == nil {
		now := time.Now().UTC()
		finished = &now
	}
	res, err := s.db.ExecContext(
		ctx,
		concludeRunQuery,
		repo.RunStatusConcluded,
		outcome,
		run.Published,
		nullIfEmpty(run.ReleaseID),
		nullIfEmpty(run.GateEffect),
		nullIfEmpty(run.GateRule),
		nullIfEmpty(run.Commit),
		nullTime(finished),
		runID,
	)
	if err != nil {
		return fmt.Errorf("conclude run: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conclude run: %w", err)
	}
	if rows == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (s *RunStore) MarkStaleRunsFailed(ctx context.Context, startedBefore time.Time, reason string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("run store not initialized")
	}
	res, err := s.db.ExecContext(
		ctx,
		markStaleRunsQuery,
		repo.RunStatusConcluded,
		"failed",
		repo.RunStatusRunning,
		startedBefore.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("mark stale runs: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark stale runs: %w", err)
	}
	if rows > 0 && strings.TrimSpace(reason) != "" {
		// Jobs left non-terminal by the dead run carry the reason.
		if _, err := s.db.ExecContext(
			ctx,
			`UPDATE release_jobs SET state = 'failed', reason = $1, updated_at = NOW()
			 WHERE state NOT IN ('succeeded','failed')
			   AND run_id IN (SELECT run_id FROM release_runs WHERE status = $2)`,
			strings.TrimSpace(reason),
			repo.RunStatusConcluded,
		); err != nil {
			return rows, fmt.Errorf("mark stale jobs: %w", err)
		}
	}
	return rows, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (repo.ReleaseRun, error) {
	var run repo.ReleaseRun
	var commit, source, outcome, releaseID, gateEffect, gateRule sql.NullString
	var finishedAt sql.NullTime
	if err := row.Scan(
		&run.RunID, &run.Tag, &commit, &source, &run.Status, &outcome, &run.Published,
		&releaseID, &gateEffect, &gateRule, &run.StartedAt, &finishedAt,
	); err != nil {
		return repo.ReleaseRun{}, err
	}
	if commit.Valid {
		run.Commit = commit.String
	}
	if source.Valid {
		run.Source = source.String
	}
	if outcome.Valid {
		run.Outcome = outcome.String
	}
	if releaseID.Valid {
		run.ReleaseID = releaseID.String
	}
	if gateEffect.Valid {
		run.GateEffect = gateEffect.String
	}
	if gateRule.Valid {
		run.GateRule = gateRule.String
	}
	if finishedAt.Valid {
		finished := finishedAt.Time.UTC()
		run.FinishedAt = &finished
	}
	run.StartedAt = run.StartedAt.UTC()
	return run, nil
}
