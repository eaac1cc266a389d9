package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/slipway-labs/slipway-go/internal/domain"
	"github.com/slipway-labs/slipway-go/internal/orchestrator"
	"github.com/slipway-labs/slipway-go/internal/platform/auditlog"
	"github.com/slipway-labs/slipway-go/internal/repo"
)

// runStarter is the slice of the orchestrator the coordinator drives.
type runStarter interface {
	Run(ctx context.Context, trigger orchestrator.Trigger) (orchestrator.RunSummary, error)
}

// triggerRequest carries everything a trigger wants audited alongside the tag.
type triggerRequest struct {
	Tag       string
	Commit    string
	Source    string
	Actor     string
	Delivery  string
	RequestID string
	IP        net.IP
	UserAgent string
}

type inflightRun struct {
	runID  string
	cancel context.CancelFunc
}

// coordinator owns run lifecycles: it starts a run per accepted trigger and
// cancels the in-flight run of a tag when a newer push of the same tag
// supersedes it. Run contexts derive from the service context, not the
// triggering request, so a run outlives the webhook delivery that started it.
type coordinator struct {
	logger  *slog.Logger
	db      *sql.DB
	runs    repo.RunRepository
	orch    runStarter
	baseCtx context.Context

	mu       sync.Mutex
	inflight map[string]*inflightRun
	wg       sync.WaitGroup
}

func newCoordinator(ctx context.Context, logger *slog.Logger, db *sql.DB, runs repo.RunRepository, orch runStarter) *coordinator {
	return &coordinator{
		logger:   logger,
		db:       db,
		runs:     runs,
		orch:     orch,
		baseCtx:  ctx,
		inflight: make(map[string]*inflightRun),
	}
}

// Trigger validates the tag, records the run, supersedes any in-flight run of
// the same tag, and starts the new run in the background. It returns the new
// run's id.
func (c *coordinator) Trigger(ctx context.Context, req triggerRequest) (string, error) {
	tag, err := domain.ParseReleaseTag(req.Tag)
	if err != nil {
		return "", err
	}

	runID := uuid.NewString()
	now := time.Now().UTC()
	if err := c.runs.CreateRun(ctx, repo.ReleaseRun{
		RunID:     runID,
		Tag:       tag.Raw,
		Commit:    req.Commit,
		Source:    req.Source,
		Status:    repo.RunStatusRunning,
		StartedAt: now,
	}); err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}

	runCtx, cancel := context.WithCancel(c.baseCtx)

	c.mu.Lock()
	supersededID := ""
	if prev, ok := c.inflight[tag.Raw]; ok {
		supersededID = prev.runID
		prev.cancel()
	}
	c.inflight[tag.Raw] = &inflightRun{runID: runID, cancel: cancel}
	c.mu.Unlock()

	if supersededID != "" {
		c.logger.Info("run superseded", "tag", tag.Raw, "run_id", supersededID, "superseded_by", runID)
	}
	c.auditTrigger(ctx, req, runID, tag.Raw, supersededID)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.release(tag.Raw, runID, cancel)

		summary, err := c.orch.Run(runCtx, orchestrator.Trigger{
			RunID:  runID,
			Tag:    tag.Raw,
			Commit: req.Commit,
			Source: req.Source,
		})
		if err != nil {
			c.logger.Error("run failed", "run_id", runID, "tag", tag.Raw, "error", err)
		}
		c.auditConclusion(req, summary)
	}()

	return runID, nil
}

// release drops the tag's in-flight slot unless a newer run already took it.
func (c *coordinator) release(tag string, runID string, cancel context.CancelFunc) {
	cancel()
	c.mu.Lock()
	if cur, ok := c.inflight[tag]; ok && cur.runID == runID {
		delete(c.inflight, tag)
	}
	c.mu.Unlock()
}

// Wait blocks until every in-flight run has concluded. For shutdown, after the
// service context is canceled.
func (c *coordinator) Wait() {
	c.wg.Wait()
}

func (c *coordinator) auditTrigger(ctx context.Context, req triggerRequest, runID string, tag string, supersededID string) {
	payload := map[string]any{
		"service": "conductor",
		"run_id":  runID,
		"tag":     tag,
		"source":  req.Source,
		"commit":  req.Commit,
	}
	if req.Delivery != "" {
		payload["delivery"] = req.Delivery
	}
	if supersededID != "" {
		payload["superseded_run_id"] = supersededID
	}

	auditCtx, cancelAudit := context.WithTimeout(ctx, 750*time.Millisecond)
	defer cancelAudit()
	_, err := auditlog.Insert(auditCtx, c.db, auditlog.Event{
		OccurredAt:   time.Now().UTC(),
		Actor:        actorOrWebhook(req.Actor),
		Action:       "release_run.trigger",
		ResourceType: "release_run",
		ResourceID:   runID,
		RequestID:    req.RequestID,
		IP:           req.IP,
		UserAgent:    req.UserAgent,
		Payload:      payload,
	})
	if err != nil {
		c.logger.Warn("audit run trigger", "run_id", runID, "error", err)
	}
}

// auditConclusion runs after the orchestrator returned; it must land even when
// the run's context was canceled by a superseding push.
func (c *coordinator) auditConclusion(req triggerRequest, summary orchestrator.RunSummary) {
	if summary.RunID == "" {
		return
	}
	auditCtx, cancelAudit := context.WithTimeout(context.WithoutCancel(c.baseCtx), 2*time.Second)
	defer cancelAudit()

	payload := map[string]any{
		"service":   "conductor",
		"run_id":    summary.RunID,
		"tag":       summary.Tag,
		"outcome":   string(summary.Outcome),
		"succeeded": len(summary.SucceededTriples()),
		"failed":    len(summary.FailedTriples()),
		"published": summary.Published,
	}
	if summary.ReleaseID != "" {
		payload["release_id"] = summary.ReleaseID
	}
	if summary.GateEffect != "" {
		payload["gate_effect"] = summary.GateEffect
		payload["gate_rule"] = summary.GateRule
	}
	if summary.Image != nil {
		payload["image_ref"] = summary.Image.Ref
		payload["image_pushed"] = summary.Image.Pushed
		if summary.Image.Error != "" {
			payload["image_error"] = summary.Image.Error
		}
	}
	_, err := auditlog.Insert(auditCtx, c.db, auditlog.Event{
		OccurredAt:   time.Now().UTC(),
		Actor:        actorOrWebhook(req.Actor),
		Action:       "release_run.conclude",
		ResourceType: "release_run",
		ResourceID:   summary.RunID,
		RequestID:    req.RequestID,
		Payload:      payload,
	})
	if err != nil {
		c.logger.Warn("audit run conclusion", "run_id", summary.RunID, "error", err)
	}

	if !summary.Published {
		return
	}
	_, err = auditlog.Insert(auditCtx, c.db, auditlog.Event{
		OccurredAt:   time.Now().UTC(),
		Actor:        actorOrWebhook(req.Actor),
		Action:       "release.publish",
		ResourceType: "release",
		ResourceID:   summary.Tag,
		RequestID:    req.RequestID,
		Payload: map[string]any{
			"service":    "conductor",
			"run_id":     summary.RunID,
			"tag":        summary.Tag,
			"release_id": summary.ReleaseID,
			"uploaded":   summary.Publish.Uploaded,
			"replaced":   summary.Publish.Replaced,
		},
	})
	if err != nil {
		c.logger.Warn("audit release publish", "tag", summary.Tag, "error", err)
	}
}

func actorOrWebhook(actor string) string {
	if strings.TrimSpace(actor) == "" {
		return "webhook"
	}
	return strings.TrimSpace(actor)
}
