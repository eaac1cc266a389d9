package domain

import "testing"

func TestCanTransitionJobState(t *testing.T) {
	allowed := [][2]JobState{
		{JobStateQueued, JobStateTesting},
		{JobStateTesting, JobStateBuilding},
		{JobStateBuilding, JobStatePackaging},
		{JobStatePackaging, JobStateSucceeded},
		{JobStateTesting, JobStateFailed},
		{JobStateBuilding, JobStateFailed},
		{JobStatePackaging, JobStateFailed},
		{JobStateTesting, JobStateTesting},
	}
	for _, pair := range allowed {
		if !CanTransitionJobState(pair[0], pair[1]) {
			t.Fatalf("transition %s -> %s should be allowed", pair[0], pair[1])
		}
	}

	denied := [][2]JobState{
		{JobStateQueued, JobStateBuilding},
		{JobStateQueued, JobStateSucceeded},
		{JobStateQueued, JobStateFailed},
		{JobStateTesting, JobStateQueued},
		{JobStateBuilding, JobStateTesting},
		{JobStateSucceeded, JobStateFailed},
		{JobStateSucceeded, JobStateTesting},
		{JobStateFailed, JobStateTesting},
		{JobStateFailed, JobStateSucceeded},
		{"", JobStateTesting},
		{JobStateQueued, ""},
	}
	for _, pair := range denied {
		if CanTransitionJobState(pair[0], pair[1]) {
			t.Fatalf("transition %s -> %s should be denied", pair[0], pair[1])
		}
	}
}

func TestIsTerminalJobState(t *testing.T) {
	if !IsTerminalJobState(JobStateSucceeded) || !IsTerminalJobState(JobStateFailed) {
		t.Fatalf("succeeded and failed are terminal")
	}
	for _, state := range []JobState{JobStateQueued, JobStateTesting, JobStateBuilding, JobStatePackaging} {
		if IsTerminalJobState(state) {
			t.Fatalf("%s should not be terminal", state)
		}
	}
}

func TestNormalizeJobState(t *testing.T) {
	if got := NormalizeJobState(" Queued "); got != JobStateQueued {
		t.Fatalf("NormalizeJobState(queued) = %q", got)
	}
	if got := NormalizeJobState("pending"); got != JobStateQueued {
		t.Fatalf("NormalizeJobState(pending) = %q", got)
	}
	if got := NormalizeJobState("exploded"); got != "" {
		t.Fatalf("NormalizeJobState(exploded) = %q, want empty", got)
	}
}

func TestBuildJobValidate(t *testing.T) {
	job := BuildJob{
		ID:    "8f9a4a1e-9a9b-4a57-8a7e-0d2f6f5f1c11",
		RunID: "c2b7e1aa-31f2-4be4-9a48-7f4fd0a2f9d0",
		Tag:   "v1.2.3",
		Target: TargetSpec{
			HostOS:   "linux",
			Triple:   "x86_64-unknown-linux-gnu",
			Strategy: StrategyNative,
		},
		State: JobStateQueued,
	}
	if err := job.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}

	missingTag := job
	missingTag.Tag = " "
	if err := missingTag.Validate(); err == nil {
		t.Fatalf("missing tag should fail validation")
	}

	badState := job
	badState.State = "paused"
	if err := badState.Validate(); err == nil {
		t.Fatalf("unknown state should fail validation")
	}
}
