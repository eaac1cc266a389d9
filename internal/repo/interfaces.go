// Package repo defines the persistence boundary of the conductor: run and
// job progress, plus the mirror of what was last published per tag.
package repo

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not_found")

// ReleaseRun is the persisted record of one orchestrated run.
type ReleaseRun struct {
	RunID      string
	Tag        string
	Commit     string
	Source     string
	Status     string
	Outcome    string
	Published  bool
	ReleaseID  string
	GateEffect string
	GateRule   string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// Run status values. Outcome stays empty until the run concludes.
const (
	RunStatusRunning   = "running"
	RunStatusConcluded = "concluded"
)

// ReleaseJob is the persisted record of one build job, upserted on every
// state transition.
type ReleaseJob struct {
	JobID         string
	RunID         string
	Triple        string
	HostOS        string
	Strategy      string
	State         string
	Reason        string
	ArchiveName   string
	ArchiveSHA256 string
	ArchiveSize   int64
	StartedAt     time.Time
	FinishedAt    *time.Time
	UpdatedAt     time.Time
}

// Release mirrors the hosting side: what the last publish of a tag attached.
type Release struct {
	Tag           string
	ReleaseID     string
	Backend       string
	ArtifactCount int
	PublishedAt   time.Time
	UpdatedAt     time.Time
	Assets        []ReleaseAsset
}

type ReleaseAsset struct {
	Tag         string
	ArchiveName string
	Triple      string
	SHA256      string
	SizeBytes   int64
	UploadedAt  time.Time
}

type RunFilter struct {
	Tag    string
	Status string
	Limit  int
}

// RunRepository manages run rows. Runs are created running and concluded
// exactly once.
type RunRepository interface {
	CreateRun(ctx context.Context, run ReleaseRun) error
	GetRun(ctx context.Context, id string) (ReleaseRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]ReleaseRun, error)
	ConcludeRun(ctx context.Context, run ReleaseRun) error
	// MarkStaleRunsFailed concludes runs still marked running past the
	// deadline, covering conductor restarts mid-run. It returns the number
	// of rows concluded.
	MarkStaleRunsFailed(ctx context.Context, startedBefore time.Time, reason string) (int64, error)
}

// JobRepository manages job rows keyed by job id.
type JobRepository interface {
	UpsertJob(ctx context.Context, job ReleaseJob) error
	ListJobsByRun(ctx context.Context, runID string) ([]ReleaseJob, error)
}

// ReleaseRepository manages the published-release mirror, upserted by tag
// with assets replaced wholesale.
type ReleaseRepository interface {
	UpsertRelease(ctx context.Context, release Release, assets []ReleaseAsset) error
	GetRelease(ctx context.Context, tag string) (Release, error)
	ListReleases(ctx context.Context, limit int) ([]Release, error)
}
