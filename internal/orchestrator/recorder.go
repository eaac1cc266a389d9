package orchestrator

import (
	"context"

	"github.com/slipway-labs/slipway-go/internal/domain"
)

// Recorder receives pipeline progress so the conductor can persist it.
// Recording failures are logged by the orchestrator and never fail a build.
type Recorder interface {
	JobUpdated(ctx context.Context, job domain.BuildJob) error
	RunConcluded(ctx context.Context, summary RunSummary) error
}

// NopRecorder discards all progress.
type NopRecorder struct{}

func (NopRecorder) JobUpdated(context.Context, domain.BuildJob) error { return nil }

func (NopRecorder) RunConcluded(context.Context, RunSummary) error { return nil }
