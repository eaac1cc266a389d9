package main

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/slipway-labs/slipway-go/internal/domain"
	"github.com/slipway-labs/slipway-go/internal/orchestrator"
	"github.com/slipway-labs/slipway-go/internal/repo"
)

type fakeStarter struct {
	mu       sync.Mutex
	triggers []orchestrator.Trigger
	done     chan orchestrator.Trigger
}

func (f *fakeStarter) Run(_ context.Context, trigger orchestrator.Trigger) (orchestrator.RunSummary, error) {
	f.mu.Lock()
	f.triggers = append(f.triggers, trigger)
	f.mu.Unlock()
	if f.done != nil {
		f.done <- trigger
	}
	return orchestrator.RunSummary{RunID: trigger.RunID, Tag: trigger.Tag, Outcome: domain.RunOutcomeSucceeded}, nil
}

func (f *fakeStarter) started() []orchestrator.Trigger {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]orchestrator.Trigger(nil), f.triggers...)
}

// blockingStarter hands each run's context to the test and holds the run
// open until that context is canceled.
type blockingStarter struct {
	ctxs chan context.Context
}

func (b *blockingStarter) Run(ctx context.Context, trigger orchestrator.Trigger) (orchestrator.RunSummary, error) {
	b.ctxs <- ctx
	<-ctx.Done()
	return orchestrator.RunSummary{RunID: trigger.RunID, Tag: trigger.Tag, Outcome: domain.RunOutcomeFailed}, ctx.Err()
}

func recvCtx(t *testing.T, ch chan context.Context) context.Context {
	t.Helper()
	select {
	case ctx := <-ch:
		return ctx
	case <-time.After(2 * time.Second):
		t.Fatalf("run never started")
		return nil
	}
}

func TestCoordinatorTriggerStartsRun(t *testing.T) {
	runs := newFakeRunRepo()
	starter := &fakeStarter{done: make(chan orchestrator.Trigger, 1)}
	baseCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	coord := newCoordinator(baseCtx, testLogger(), testDB(t), runs, starter)

	runID, err := coord.Trigger(context.Background(), triggerRequest{
		Tag:    "refs/tags/v1.2.3",
		Commit: "abc123",
		Source: "webhook",
	})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if runID == "" {
		t.Fatalf("expected a run id")
	}

	select {
	case trig := <-starter.done:
		if trig.RunID != runID || trig.Tag != "v1.2.3" || trig.Commit != "abc123" || trig.Source != "webhook" {
			t.Fatalf("unexpected orchestrator trigger %+v", trig)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run never started")
	}
	coord.Wait()

	created := runs.created()
	if len(created) != 1 {
		t.Fatalf("expected one run row, got %d", len(created))
	}
	row := created[0]
	if row.RunID != runID || row.Tag != "v1.2.3" || row.Status != repo.RunStatusRunning {
		t.Fatalf("unexpected run row %+v", row)
	}
	if row.StartedAt.IsZero() {
		t.Fatalf("run row must carry a start time")
	}
}

func TestCoordinatorRejectsNonReleaseTag(t *testing.T) {
	runs := newFakeRunRepo()
	starter := &fakeStarter{}
	coord := newCoordinator(context.Background(), testLogger(), testDB(t), runs, starter)

	if _, err := coord.Trigger(context.Background(), triggerRequest{Tag: "refs/heads/main"}); err == nil {
		t.Fatalf("expected rejection")
	}
	if got := len(runs.created()); got != 0 {
		t.Fatalf("rejected trigger must not create a run row, got %d", got)
	}
	coord.Wait()
	if got := len(starter.started()); got != 0 {
		t.Fatalf("rejected trigger must not start a run, got %d", got)
	}
}

func TestCoordinatorCreateRunFailure(t *testing.T) {
	runs := newFakeRunRepo()
	runs.createErr = errors.New("connection refused")
	starter := &fakeStarter{}
	coord := newCoordinator(context.Background(), testLogger(), testDB(t), runs, starter)

	_, err := coord.Trigger(context.Background(), triggerRequest{Tag: "v1.0.0"})
	if err == nil || !strings.Contains(err.Error(), "create run") {
		t.Fatalf("expected create run error, got %v", err)
	}
	coord.Wait()
	if got := len(starter.started()); got != 0 {
		t.Fatalf("failed create must not start a run, got %d", got)
	}
}

func TestCoordinatorSupersedesSameTag(t *testing.T) {
	runs := newFakeRunRepo()
	starter := &blockingStarter{ctxs: make(chan context.Context, 2)}
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	coord := newCoordinator(baseCtx, testLogger(), testDB(t), runs, starter)

	first, err := coord.Trigger(context.Background(), triggerRequest{Tag: "v1.0.0"})
	if err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	ctx1 := recvCtx(t, starter.ctxs)

	second, err := coord.Trigger(context.Background(), triggerRequest{Tag: "v1.0.0"})
	if err != nil {
		t.Fatalf("second trigger: %v", err)
	}
	ctx2 := recvCtx(t, starter.ctxs)

	if first == second {
		t.Fatalf("each trigger must get its own run id")
	}
	if ctx1.Err() == nil {
		t.Fatalf("first run must be canceled by the superseding push")
	}
	if ctx2.Err() != nil {
		t.Fatalf("superseding run must stay alive, got %v", ctx2.Err())
	}

	cancelBase()
	coord.Wait()

	coord.mu.Lock()
	inflight := len(coord.inflight)
	coord.mu.Unlock()
	if inflight != 0 {
		t.Fatalf("inflight map must drain, got %d entries", inflight)
	}
}

func TestCoordinatorKeepsDistinctTagsIndependent(t *testing.T) {
	runs := newFakeRunRepo()
	starter := &blockingStarter{ctxs: make(chan context.Context, 2)}
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	coord := newCoordinator(baseCtx, testLogger(), testDB(t), runs, starter)

	if _, err := coord.Trigger(context.Background(), triggerRequest{Tag: "v1.0.0"}); err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	ctx1 := recvCtx(t, starter.ctxs)
	if _, err := coord.Trigger(context.Background(), triggerRequest{Tag: "v2.0.0"}); err != nil {
		t.Fatalf("second trigger: %v", err)
	}
	ctx2 := recvCtx(t, starter.ctxs)

	if ctx1.Err() != nil || ctx2.Err() != nil {
		t.Fatalf("runs for different tags must not cancel each other")
	}

	cancelBase()
	coord.Wait()
}
