package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/slipway-labs/slipway-go/internal/repo"
)

type janitorConfig struct {
	// Deadline is how long a run may stay running before the janitor
	// concludes it as failed. Covers conductor restarts mid-run.
	Deadline time.Duration
	Interval time.Duration
}

// janitor periodically fails runs that outlived the run deadline. Rows stuck
// in running state after a crash would otherwise stay running forever.
type janitor struct {
	logger   *slog.Logger
	runs     repo.RunRepository
	deadline time.Duration
	interval time.Duration
}

func startJanitor(ctx context.Context, logger *slog.Logger, runs repo.RunRepository, cfg janitorConfig) {
	if runs == nil {
		return
	}
	deadline := cfg.Deadline
	if deadline <= 0 {
		deadline = 2 * time.Hour
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	j := &janitor{
		logger:   logger,
		runs:     runs,
		deadline: deadline,
		interval: interval,
	}
	go j.run(ctx)
}

func (j *janitor) run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *janitor) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-j.deadline)
	n, err := j.runs.MarkStaleRunsFailed(ctx, cutoff, "deadline_exceeded")
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		j.logger.Warn("stale run sweep failed", "component", "janitor", "error", err)
		return
	}
	if n > 0 {
		j.logger.Warn("stale runs concluded", "component", "janitor", "count", n, "deadline", j.deadline.String())
	}
}
