package domain

import "testing"

func TestReleaseRecordAttach(t *testing.T) {
	record := NewReleaseRecord("v1.2.3")
	artifact := Artifact{
		Triple:      "x86_64-unknown-linux-gnu",
		ArchiveName: "cgf-x86_64-unknown-linux-gnu.tar.gz",
		ArchivePath: "/tmp/cgf-x86_64-unknown-linux-gnu.tar.gz",
	}
	if !record.Attach(artifact) {
		t.Fatalf("first attach should succeed")
	}
	if record.Attach(artifact) {
		t.Fatalf("second attach of same triple should be rejected")
	}
	other := artifact
	other.Triple = "aarch64-apple-darwin"
	other.ArchiveName = "cgf-aarch64-apple-darwin.tar.gz"
	if !record.Attach(other) {
		t.Fatalf("attach of distinct triple should succeed")
	}
	if got := len(record.Artifacts()); got != 2 {
		t.Fatalf("len(Artifacts()) = %d, want 2", got)
	}
}

func TestOutcomeForCounts(t *testing.T) {
	if got := OutcomeForCounts(3, 0); got != RunOutcomeSucceeded {
		t.Fatalf("OutcomeForCounts(3,0) = %q", got)
	}
	if got := OutcomeForCounts(2, 1); got != RunOutcomeDegraded {
		t.Fatalf("OutcomeForCounts(2,1) = %q", got)
	}
	if got := OutcomeForCounts(0, 3); got != RunOutcomeFailed {
		t.Fatalf("OutcomeForCounts(0,3) = %q", got)
	}
	if got := OutcomeForCounts(0, 0); got != RunOutcomeFailed {
		t.Fatalf("OutcomeForCounts(0,0) = %q", got)
	}
}
