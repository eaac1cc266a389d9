package domain

import (
	"errors"
	"strings"
	"time"
)

// JobState represents the lifecycle state of a build job.
type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateTesting   JobState = "testing"
	JobStateBuilding  JobState = "building"
	JobStatePackaging JobState = "packaging"
	JobStateSucceeded JobState = "succeeded"
	JobStateFailed    JobState = "failed"
)

// BuildJob binds one TargetSpec to one source revision for the duration of a
// run. Jobs are discarded once their outcome is recorded.
type BuildJob struct {
	ID         string
	RunID      string
	Tag        string
	Commit     string
	Target     TargetSpec
	State      JobState
	Reason     string
	StartedAt  time.Time
	FinishedAt *time.Time
}

func (j BuildJob) Validate() error {
	if strings.TrimSpace(j.ID) == "" {
		return errors.New("job id is required")
	}
	if strings.TrimSpace(j.RunID) == "" {
		return errors.New("run id is required")
	}
	if strings.TrimSpace(j.Tag) == "" {
		return errors.New("tag is required")
	}
	if err := j.Target.Validate(); err != nil {
		return err
	}
	if NormalizeJobState(string(j.State)) == "" {
		return errors.New("state is required")
	}
	return nil
}

// NormalizeJobState maps free-form status values to canonical job states.
func NormalizeJobState(value string) JobState {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(JobStateQueued), "pending":
		return JobStateQueued
	case string(JobStateTesting):
		return JobStateTesting
	case string(JobStateBuilding):
		return JobStateBuilding
	case string(JobStatePackaging):
		return JobStatePackaging
	case string(JobStateSucceeded):
		return JobStateSucceeded
	case string(JobStateFailed):
		return JobStateFailed
	default:
		return ""
	}
}

// IsTerminalJobState reports whether a job can never leave the given state.
func IsTerminalJobState(state JobState) bool {
	return state == JobStateSucceeded || state == JobStateFailed
}

// CanTransitionJobState enforces forward-only, single-step progression
// through the job lifecycle. Failed is reachable from testing, building, and
// packaging; terminal states are never left.
func CanTransitionJobState(current, next JobState) bool {
	if current == "" || next == "" {
		return false
	}
	if current == next {
		return true
	}
	if IsTerminalJobState(current) {
		return false
	}
	if next == JobStateFailed {
		switch current {
		case JobStateTesting, JobStateBuilding, JobStatePackaging:
			return true
		default:
			return false
		}
	}
	return jobStateOrder(current)+1 == jobStateOrder(next)
}

func jobStateOrder(state JobState) int {
	switch state {
	case JobStateQueued:
		return 1
	case JobStateTesting:
		return 2
	case JobStateBuilding:
		return 3
	case JobStatePackaging:
		return 4
	case JobStateSucceeded:
		return 5
	default:
		return 0
	}
}
