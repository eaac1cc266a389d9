package auditlog

import (
	"net"
	"testing"
	"time"
)

func TestComputeIntegritySHA256_Deterministic(t *testing.T) {
	occurredAt := time.Unix(1700000000, 0).UTC()
	event := Event{
		OccurredAt:   occurredAt,
		Actor:        "alice",
		Action:       "run.created",
		ResourceType: "release_run",
		ResourceID:   "v1.2.3",
		RequestID:    "req-123",
		IP:           net.ParseIP("192.0.2.1"),
		UserAgent:    "test-agent",
	}
	payloadJSON := []byte(`{"tag":"v1.2.3","targets":6}`)

	a, err := ComputeIntegritySHA256(event, payloadJSON)
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	b, err := ComputeIntegritySHA256(event, payloadJSON)
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	if a != b {
		t.Fatalf("integrity mismatch: %q vs %q", a, b)
	}
}

func TestComputeIntegritySHA256_ChangesOnPayload(t *testing.T) {
	occurredAt := time.Unix(1700000000, 0).UTC()
	event := Event{
		OccurredAt:   occurredAt,
		Actor:        "alice",
		Action:       "run.created",
		ResourceType: "release_run",
		ResourceID:   "v1.2.3",
	}

	a, err := ComputeIntegritySHA256(event, []byte(`{"tag":"v1.2.3"}`))
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	b, err := ComputeIntegritySHA256(event, []byte(`{"tag":"v1.2.4"}`))
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	if a == b {
		t.Fatalf("expected integrity to differ")
	}
}

func TestEventValidate(t *testing.T) {
	base := Event{
		OccurredAt:   time.Unix(1700000000, 0).UTC(),
		Actor:        "webhook",
		Action:       "run.created",
		ResourceType: "release_run",
		ResourceID:   "v1.2.3",
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}

	missingActor := base
	missingActor.Actor = "  "
	if err := missingActor.Validate(); err == nil {
		t.Fatalf("expected error for blank actor")
	}

	missingAction := base
	missingAction.Action = ""
	if err := missingAction.Validate(); err == nil {
		t.Fatalf("expected error for blank action")
	}
}
