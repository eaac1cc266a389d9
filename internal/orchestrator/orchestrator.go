// Package orchestrator runs the release pipeline for one pushed tag: one
// build job per matrix target fanned out over worker goroutines, failures
// isolated per job, survivors fanned back in for a single publish step.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/slipway-labs/slipway-go/internal/archive"
	"github.com/slipway-labs/slipway-go/internal/buildrun"
	"github.com/slipway-labs/slipway-go/internal/checkout"
	"github.com/slipway-labs/slipway-go/internal/domain"
	"github.com/slipway-labs/slipway-go/internal/forge"
	"github.com/slipway-labs/slipway-go/internal/gate"
	"github.com/slipway-labs/slipway-go/internal/imagepack"
	"github.com/slipway-labs/slipway-go/internal/registry"
	"github.com/slipway-labs/slipway-go/internal/toolchain"
)

// CheckoutProvider produces a source worktree for a tag and reports the
// commit it resolved to.
type CheckoutProvider interface {
	Fetch(ctx context.Context, tag string, dir string) (string, error)
}

// Builder runs the test and compile phases of one job.
type Builder interface {
	Test(ctx context.Context, in buildrun.Input) (string, error)
	Compile(ctx context.Context, in buildrun.Input) (buildrun.CompileOutput, error)
}

// Packager turns a compiled binary into a release artifact.
type Packager interface {
	Pack(binaryPath string, target domain.TargetSpec, destDir string) (domain.Artifact, error)
}

// ImageBuilder drives the container distribution channel.
type ImageBuilder interface {
	Build(ctx context.Context, in imagepack.Input) (imagepack.Image, error)
}

// Trigger describes why a run started. Commit may be empty; each job resolves
// the tag's commit during checkout.
type Trigger struct {
	RunID  string
	Tag    string
	Commit string
	Source string
}

// JobResult is the terminal record of one build job.
type JobResult struct {
	Job      domain.BuildJob
	Artifact *domain.Artifact
	// BinaryPath is the compiled binary on the host, valid until the run
	// workdir is removed.
	BinaryPath string
	Commit     string
	Err        error
}

// ImageStatus records the secondary container distribution channel. Its
// failure never changes the run outcome.
type ImageStatus struct {
	Ref    string `json:"ref,omitempty"`
	Pushed bool   `json:"pushed"`
	Error  string `json:"error,omitempty"`
}

// RunSummary enumerates the per-target outcome of a concluded run.
type RunSummary struct {
	RunID      string
	Tag        string
	Commit     string
	Source     string
	Outcome    domain.RunOutcome
	Jobs       []JobResult
	Published  bool
	ReleaseID  string
	Publish    forge.Result
	GateEffect string
	GateRule   string
	Image      *ImageStatus
	StartedAt  time.Time
	FinishedAt time.Time
}

// SucceededTriples returns the triples of succeeded jobs in matrix order.
func (s RunSummary) SucceededTriples() []string {
	var out []string
	for _, res := range s.Jobs {
		if res.Job.State == domain.JobStateSucceeded {
			out = append(out, res.Job.Target.Triple)
		}
	}
	return out
}

// FailedTriples returns the triples of failed jobs in matrix order.
func (s RunSummary) FailedTriples() []string {
	var out []string
	for _, res := range s.Jobs {
		if res.Job.State == domain.JobStateFailed {
			out = append(out, res.Job.Target.Triple)
		}
	}
	return out
}

type Config struct {
	// WorkRoot is the parent of per-run scratch directories.
	WorkRoot     string
	KeepWorkdirs bool
	// BinaryName is the bare release binary name, needed for the image
	// channel staging.
	BinaryName string
	// ImageTarget is the triple whose binary feeds the image channel.
	ImageTarget string
}

type Deps struct {
	Logger    *slog.Logger
	Registry  *registry.Registry
	Checkout  CheckoutProvider
	Resolver  toolchain.Resolver
	Builder   Builder
	Packager  Packager
	Publisher forge.Publisher
	Gate      *gate.Spec
	Image     ImageBuilder
	Recorder  Recorder
}

// Orchestrator owns the fan-out/fan-in pipeline. Construct with New.
type Orchestrator struct {
	log       *slog.Logger
	targets   *registry.Registry
	checkout  CheckoutProvider
	resolver  toolchain.Resolver
	builder   Builder
	packager  Packager
	publisher forge.Publisher
	gateSpec  *gate.Spec
	image     ImageBuilder
	recorder  Recorder
	cfg       Config
}

func New(deps Deps, cfg Config) (*Orchestrator, error) {
	if deps.Registry == nil || deps.Registry.Len() == 0 {
		return nil, registry.ErrNoTargets
	}
	if deps.Checkout == nil {
		return nil, errors.New("orchestrator: checkout provider is required")
	}
	if deps.Resolver == nil {
		return nil, errors.New("orchestrator: toolchain resolver is required")
	}
	if deps.Builder == nil {
		return nil, errors.New("orchestrator: builder is required")
	}
	if deps.Packager == nil {
		return nil, errors.New("orchestrator: packager is required")
	}
	if deps.Publisher == nil {
		return nil, errors.New("orchestrator: publisher is required")
	}
	if deps.Image != nil && strings.TrimSpace(cfg.BinaryName) == "" {
		return nil, errors.New("orchestrator: binary name is required for the image channel")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := deps.Recorder
	if recorder == nil {
		recorder = NopRecorder{}
	}
	if strings.TrimSpace(cfg.WorkRoot) == "" {
		cfg.WorkRoot = filepath.Join(os.TempDir(), "slipway")
	}
	if strings.TrimSpace(cfg.ImageTarget) == "" {
		cfg.ImageTarget = "x86_64-unknown-linux-musl"
	}
	return &Orchestrator{
		log:       logger,
		targets:   deps.Registry,
		checkout:  deps.Checkout,
		resolver:  deps.Resolver,
		builder:   deps.Builder,
		packager:  deps.Packager,
		publisher: deps.Publisher,
		gateSpec:  deps.Gate,
		image:     deps.Image,
		recorder:  recorder,
		cfg:       cfg,
	}, nil
}

// Run executes one release run to conclusion. Per-job failures land in the
// summary, not in the returned error; the error reports a malformed trigger
// or a publish step that attached nothing.
func (o *Orchestrator) Run(ctx context.Context, trigger Trigger) (RunSummary, error) {
	tag, err := domain.ParseReleaseTag(trigger.Tag)
	if err != nil {
		return RunSummary{}, fmt.Errorf("reject trigger: %w", err)
	}
	trigger.Tag = tag.Raw
	if strings.TrimSpace(trigger.RunID) == "" {
		trigger.RunID = uuid.NewString()
	}

	log := o.log.With("run_id", trigger.RunID, "tag", trigger.Tag)
	started := time.Now().UTC()
	runDir := filepath.Join(o.cfg.WorkRoot, trigger.RunID)

	specs := o.targets.Targets()
	log.Info("run started", "targets", len(specs), "source", trigger.Source)

	index := make(map[string]int, len(specs))
	for i, spec := range specs {
		index[spec.Triple] = i
	}

	results := make(chan JobResult, len(specs))
	var wg sync.WaitGroup
	for _, spec := range specs {
		wg.Add(1)
		go func(spec domain.TargetSpec) {
			defer wg.Done()
			results <- o.runJob(ctx, log, trigger, spec, filepath.Join(runDir, spec.Triple))
		}(spec)
	}
	wg.Wait()
	close(results)

	ordered := make([]JobResult, len(specs))
	for res := range results {
		ordered[index[res.Job.Target.Triple]] = res
	}

	summary := RunSummary{
		RunID:     trigger.RunID,
		Tag:       trigger.Tag,
		Commit:    trigger.Commit,
		Source:    trigger.Source,
		Jobs:      ordered,
		StartedAt: started,
	}
	var artifacts []domain.Artifact
	succeeded, failed := 0, 0
	for _, res := range ordered {
		if res.Job.State == domain.JobStateSucceeded {
			succeeded++
			if res.Artifact != nil {
				artifacts = append(artifacts, *res.Artifact)
			}
			if res.Commit != "" {
				summary.Commit = res.Commit
			}
		} else {
			failed++
		}
	}
	summary.Outcome = domain.OutcomeForCounts(succeeded, failed)
	log.Info("run fanned in", "succeeded", succeeded, "failed", failed, "outcome", summary.Outcome)

	publishErr := o.publish(ctx, log, &summary, artifacts)
	o.buildImage(ctx, log, &summary, ordered, runDir)

	summary.FinishedAt = time.Now().UTC()
	// The conclusion must land even when the run was superseded mid-flight.
	concludeCtx := context.WithoutCancel(ctx)
	if err := o.recorder.RunConcluded(concludeCtx, summary); err != nil {
		log.Warn("record run conclusion", "error", err)
	}
	o.cleanup(log, runDir)

	if publishErr != nil {
		return summary, publishErr
	}
	return summary, nil
}

// publish evaluates the gate and attaches the succeeded artifacts. A publish
// failure that attached nothing flips the outcome to failed and is returned.
func (o *Orchestrator) publish(ctx context.Context, log *slog.Logger, summary *RunSummary, artifacts []domain.Artifact) error {
	if len(artifacts) == 0 {
		return nil
	}

	if o.gateSpec != nil {
		decision, err := gate.Evaluate(*o.gateSpec, gate.Context{
			Run: gate.RunContext{
				Tag:       summary.Tag,
				Commit:    summary.Commit,
				Outcome:   string(summary.Outcome),
				Total:     len(summary.Jobs),
				Succeeded: len(artifacts),
				Failed:    len(summary.Jobs) - len(artifacts),
			},
			Targets: gate.TargetsContext{
				Succeeded: summary.SucceededTriples(),
				Failed:    summary.FailedTriples(),
			},
		})
		if err != nil {
			log.Error("evaluate publish gate", "error", err)
			summary.GateEffect = gate.EffectDeny
			return nil
		}
		summary.GateEffect = decision.Effect
		summary.GateRule = decision.RuleID
		if !decision.Allowed() {
			log.Warn("publish denied by gate", "rule", decision.RuleID)
			return nil
		}
	}

	res, err := o.publisher.Publish(ctx, forge.Request{
		Tag:       summary.Tag,
		Commit:    summary.Commit,
		Artifacts: artifacts,
	})
	summary.Publish = res
	if err != nil {
		summary.Outcome = domain.RunOutcomeFailed
		log.Error("publish release", "error", err)
		return fmt.Errorf("publish release %s: %w", summary.Tag, err)
	}
	summary.Published = true
	summary.ReleaseID = res.ReleaseID
	log.Info("release published", "release_id", res.ReleaseID,
		"uploaded", len(res.Uploaded), "replaced", len(res.Replaced), "failed", len(res.Failed))
	return nil
}

// buildImage drives the container channel from the image target's own
// compiled binary. It only records its outcome; the run outcome is settled.
func (o *Orchestrator) buildImage(ctx context.Context, log *slog.Logger, summary *RunSummary, results []JobResult, runDir string) {
	if o.image == nil || !summary.Published {
		return
	}
	var source *JobResult
	for i := range results {
		if results[i].Job.Target.Triple == o.cfg.ImageTarget {
			source = &results[i]
			break
		}
	}
	if source == nil || source.Job.State != domain.JobStateSucceeded || source.BinaryPath == "" {
		summary.Image = &ImageStatus{Error: "image target " + o.cfg.ImageTarget + " did not succeed"}
		log.Warn("image channel skipped", "image_target", o.cfg.ImageTarget)
		return
	}

	img, err := o.image.Build(ctx, imagepack.Input{
		Tag:        summary.Tag,
		BinaryPath: source.BinaryPath,
		BinaryName: o.cfg.BinaryName,
		Dir:        filepath.Join(runDir, o.cfg.ImageTarget, "image"),
	})
	if err != nil {
		summary.Image = &ImageStatus{Error: err.Error()}
		log.Warn("image channel failed", "error", err)
		return
	}
	summary.Image = &ImageStatus{Ref: img.Ref, Pushed: img.Pushed}
	log.Info("image published", "ref", img.Ref, "pushed", img.Pushed)
}

func (o *Orchestrator) runJob(ctx context.Context, log *slog.Logger, trigger Trigger, spec domain.TargetSpec, jobDir string) JobResult {
	now := time.Now().UTC()
	job := domain.BuildJob{
		ID:        uuid.NewString(),
		RunID:     trigger.RunID,
		Tag:       trigger.Tag,
		Commit:    trigger.Commit,
		Target:    spec,
		State:     domain.JobStateQueued,
		StartedAt: now,
	}
	log = log.With("job_id", job.ID, "triple", spec.Triple)
	o.record(ctx, job)

	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return o.failJob(ctx, log, job, fmt.Errorf("create job workdir: %w", err))
	}

	o.advance(ctx, log, &job, domain.JobStateTesting)
	srcDir := filepath.Join(jobDir, "src")
	commit, err := o.checkout.Fetch(ctx, trigger.Tag, srcDir)
	if err != nil {
		return o.failJob(ctx, log, job, err)
	}
	job.Commit = commit

	handle, err := o.resolver.Resolve(ctx, spec)
	if err != nil {
		return o.failJob(ctx, log, job, err)
	}
	in := buildrun.Input{Dir: srcDir, Target: spec, Handle: handle}
	if _, err := o.builder.Test(ctx, in); err != nil {
		return o.failJob(ctx, log, job, err)
	}

	o.advance(ctx, log, &job, domain.JobStateBuilding)
	out, err := o.builder.Compile(ctx, in)
	if err != nil {
		return o.failJob(ctx, log, job, err)
	}

	o.advance(ctx, log, &job, domain.JobStatePackaging)
	artifact, err := o.packager.Pack(out.BinaryPath, spec, filepath.Join(jobDir, "dist"))
	if err != nil {
		return o.failJob(ctx, log, job, err)
	}

	o.advance(ctx, log, &job, domain.JobStateSucceeded)
	log.Info("job succeeded", "archive", artifact.ArchiveName)
	return JobResult{
		Job:        job,
		Artifact:   &artifact,
		BinaryPath: out.BinaryPath,
		Commit:     commit,
	}
}

// failJob concludes a job at its boundary: the failure is logged with the
// triple, recorded, and never reaches a sibling job.
func (o *Orchestrator) failJob(ctx context.Context, log *slog.Logger, job domain.BuildJob, err error) JobResult {
	job.Reason = failureReason(err)
	o.advance(ctx, log, &job, domain.JobStateFailed)
	log.Error("job failed", "reason", job.Reason, "state", job.State, "error", err)
	return JobResult{Job: job, Err: err, Commit: job.Commit}
}

func (o *Orchestrator) advance(ctx context.Context, log *slog.Logger, job *domain.BuildJob, next domain.JobState) {
	if job.State == domain.JobStateQueued && next == domain.JobStateFailed {
		// Pre-phase failures (workdir setup) conclude through testing so the
		// lifecycle stays forward-only.
		job.State = domain.JobStateTesting
	}
	if !domain.CanTransitionJobState(job.State, next) {
		log.Warn("job transition rejected", "from", job.State, "to", next)
		return
	}
	job.State = next
	if domain.IsTerminalJobState(next) {
		finished := time.Now().UTC()
		job.FinishedAt = &finished
	}
	o.record(ctx, *job)
}

func (o *Orchestrator) record(ctx context.Context, job domain.BuildJob) {
	if err := o.recorder.JobUpdated(ctx, job); err != nil {
		o.log.Warn("record job update", "error", err, "job_id", job.ID, "state", job.State)
	}
}

func (o *Orchestrator) cleanup(log *slog.Logger, runDir string) {
	if o.cfg.KeepWorkdirs {
		return
	}
	if err := os.RemoveAll(runDir); err != nil {
		log.Warn("remove run workdir", "error", err, "dir", runDir)
	}
}

// failureReason maps a job-fatal error onto its taxonomy code.
func failureReason(err error) string {
	switch {
	case errors.Is(err, checkout.ErrCheckoutFailed):
		return "checkout_failed"
	case errors.Is(err, toolchain.ErrHostMismatch):
		return "host_mismatch"
	case errors.Is(err, toolchain.ErrInstallerNotFound):
		return "installer_not_found"
	case errors.Is(err, toolchain.ErrResolveFailed):
		return "resolve_failed"
	case errors.Is(err, buildrun.ErrTestsFailed):
		return "tests_failed"
	case errors.Is(err, buildrun.ErrCompileFailed):
		return "compile_failed"
	case errors.Is(err, archive.ErrBinaryMissing):
		return "binary_missing"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "job_failed"
	}
}
