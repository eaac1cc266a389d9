package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slipway-labs/slipway-go/internal/domain"
	"github.com/slipway-labs/slipway-go/internal/orchestrator"
	"github.com/slipway-labs/slipway-go/internal/repo"
)

// runRecorder persists orchestrator progress: every job transition lands as a
// job-row upsert, and the run conclusion closes the run row and mirrors the
// published release.
type runRecorder struct {
	logger   *slog.Logger
	runs     repo.RunRepository
	jobs     repo.JobRepository
	releases repo.ReleaseRepository
	backend  string
}

func newRunRecorder(logger *slog.Logger, runs repo.RunRepository, jobs repo.JobRepository, releases repo.ReleaseRepository, backend string) *runRecorder {
	return &runRecorder{
		logger:   logger,
		runs:     runs,
		jobs:     jobs,
		releases: releases,
		backend:  backend,
	}
}

func (r *runRecorder) JobUpdated(ctx context.Context, job domain.BuildJob) error {
	return r.jobs.UpsertJob(ctx, releaseJobRow(job, nil))
}

func (r *runRecorder) RunConcluded(ctx context.Context, summary orchestrator.RunSummary) error {
	for _, res := range summary.Jobs {
		if res.Artifact == nil {
			continue
		}
		if err := r.jobs.UpsertJob(ctx, releaseJobRow(res.Job, res.Artifact)); err != nil {
			r.logger.Warn("record job artifact", "job_id", res.Job.ID, "error", err)
		}
	}

	finished := summary.FinishedAt
	if err := r.runs.ConcludeRun(ctx, repo.ReleaseRun{
		RunID:      summary.RunID,
		Tag:        summary.Tag,
		Commit:     summary.Commit,
		Source:     summary.Source,
		Status:     repo.RunStatusConcluded,
		Outcome:    string(summary.Outcome),
		Published:  summary.Published,
		ReleaseID:  summary.ReleaseID,
		GateEffect: summary.GateEffect,
		GateRule:   summary.GateRule,
		StartedAt:  summary.StartedAt,
		FinishedAt: &finished,
	}); err != nil {
		return fmt.Errorf("conclude run %s: %w", summary.RunID, err)
	}

	if !summary.Published {
		return nil
	}

	assets := make([]repo.ReleaseAsset, 0, len(summary.Jobs))
	for _, res := range summary.Jobs {
		if res.Artifact == nil {
			continue
		}
		assets = append(assets, repo.ReleaseAsset{
			Tag:         summary.Tag,
			ArchiveName: res.Artifact.ArchiveName,
			Triple:      res.Artifact.Triple,
			SHA256:      res.Artifact.SHA256,
			SizeBytes:   res.Artifact.SizeBytes,
			UploadedAt:  summary.FinishedAt,
		})
	}
	release := repo.Release{
		Tag:           summary.Tag,
		ReleaseID:     summary.ReleaseID,
		Backend:       r.backend,
		ArtifactCount: len(assets),
		PublishedAt:   summary.FinishedAt,
	}
	if err := r.releases.UpsertRelease(ctx, release, assets); err != nil {
		return fmt.Errorf("record release %s: %w", summary.Tag, err)
	}
	return nil
}

func releaseJobRow(job domain.BuildJob, artifact *domain.Artifact) repo.ReleaseJob {
	row := repo.ReleaseJob{
		JobID:      job.ID,
		RunID:      job.RunID,
		Triple:     job.Target.Triple,
		HostOS:     job.Target.HostOS,
		Strategy:   string(job.Target.Strategy),
		State:      string(job.State),
		Reason:     job.Reason,
		StartedAt:  job.StartedAt,
		FinishedAt: job.FinishedAt,
	}
	if artifact != nil {
		row.ArchiveName = artifact.ArchiveName
		row.ArchiveSHA256 = artifact.SHA256
		row.ArchiveSize = artifact.SizeBytes
	}
	return row
}
