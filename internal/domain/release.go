package domain

import "strings"

// RunOutcome classifies a concluded release run.
type RunOutcome string

const (
	RunOutcomeSucceeded RunOutcome = "succeeded"
	RunOutcomeDegraded  RunOutcome = "degraded"
	RunOutcomeFailed    RunOutcome = "failed"
)

// OutcomeForCounts derives the run outcome from terminal job counts. A run
// succeeds only when every job succeeded, is degraded when at least one job
// succeeded alongside failures, and failed when nothing succeeded.
func OutcomeForCounts(succeeded, failed int) RunOutcome {
	switch {
	case succeeded > 0 && failed == 0:
		return RunOutcomeSucceeded
	case succeeded > 0:
		return RunOutcomeDegraded
	default:
		return RunOutcomeFailed
	}
}

// ReleaseRecord accumulates the artifacts published under one tag. A tag maps
// to exactly one record and an artifact attaches at most once per triple.
type ReleaseRecord struct {
	Tag string

	artifacts []Artifact
	seen      map[string]struct{}
}

func NewReleaseRecord(tag string) *ReleaseRecord {
	return &ReleaseRecord{
		Tag:  strings.TrimSpace(tag),
		seen: make(map[string]struct{}),
	}
}

// Attach appends an artifact unless one with the same triple is already
// attached. It reports whether the artifact was added.
func (r *ReleaseRecord) Attach(artifact Artifact) bool {
	if r == nil {
		return false
	}
	key := strings.TrimSpace(artifact.Triple)
	if key == "" {
		return false
	}
	if r.seen == nil {
		r.seen = make(map[string]struct{})
	}
	if _, ok := r.seen[key]; ok {
		return false
	}
	r.seen[key] = struct{}{}
	r.artifacts = append(r.artifacts, artifact)
	return true
}

// Artifacts returns the attached artifacts in attach order.
func (r *ReleaseRecord) Artifacts() []Artifact {
	if r == nil {
		return nil
	}
	out := make([]Artifact, len(r.artifacts))
	copy(out, r.artifacts)
	return out
}
