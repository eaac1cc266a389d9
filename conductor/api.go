package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/slipway-labs/slipway-go/internal/domain"
	"github.com/slipway-labs/slipway-go/internal/platform/auth"
	"github.com/slipway-labs/slipway-go/internal/registry"
	"github.com/slipway-labs/slipway-go/internal/repo"
)

// runTriggerer is the slice of the coordinator the handlers use.
type runTriggerer interface {
	Trigger(ctx context.Context, req triggerRequest) (string, error)
}

type conductorAPI struct {
	logger   *slog.Logger
	db       *sql.DB
	runs     repo.RunRepository
	jobs     repo.JobRepository
	releases repo.ReleaseRepository
	targets  *registry.Registry
	triggers runTriggerer

	webhookSecret string
}

func newConductorAPI(
	logger *slog.Logger,
	db *sql.DB,
	runs repo.RunRepository,
	jobs repo.JobRepository,
	releases repo.ReleaseRepository,
	targets *registry.Registry,
	triggers runTriggerer,
	webhookSecret string,
) *conductorAPI {
	return &conductorAPI{
		logger:        logger,
		db:            db,
		runs:          runs,
		jobs:          jobs,
		releases:      releases,
		targets:       targets,
		triggers:      triggers,
		webhookSecret: strings.TrimSpace(webhookSecret),
	}
}

func (api *conductorAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/push", api.handlePushWebhook)

	mux.HandleFunc("GET /targets", api.handleListTargets)

	mux.HandleFunc("GET /runs", api.handleListRuns)
	mux.HandleFunc("POST /runs", api.handleTriggerRun)
	mux.HandleFunc("GET /runs/{run_id}", api.handleGetRun)
	mux.HandleFunc("GET /runs/{run_id}/jobs", api.handleListRunJobs)

	mux.HandleFunc("GET /releases", api.handleListReleases)
	mux.HandleFunc("GET /releases/{tag}", api.handleGetRelease)
}

type targetResponse struct {
	Triple     string `json:"triple"`
	HostOS     string `json:"host_os"`
	Strategy   string `json:"strategy"`
	CrossImage string `json:"cross_image,omitempty"`
}

func (api *conductorAPI) handleListTargets(w http.ResponseWriter, r *http.Request) {
	specs := api.targets.Targets()
	out := make([]targetResponse, 0, len(specs))
	for _, spec := range specs {
		out = append(out, targetResponse{
			Triple:     spec.Triple,
			HostOS:     spec.HostOS,
			Strategy:   string(spec.Strategy),
			CrossImage: spec.CrossImage,
		})
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"targets": out})
}

type releaseRunResponse struct {
	RunID      string     `json:"run_id"`
	Tag        string     `json:"tag"`
	Commit     string     `json:"commit,omitempty"`
	Source     string     `json:"source,omitempty"`
	Status     string     `json:"status"`
	Outcome    string     `json:"outcome,omitempty"`
	Published  bool       `json:"published"`
	ReleaseID  string     `json:"release_id,omitempty"`
	GateEffect string     `json:"gate_effect,omitempty"`
	GateRule   string     `json:"gate_rule,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func runResponse(run repo.ReleaseRun) releaseRunResponse {
	return releaseRunResponse{
		RunID:      run.RunID,
		Tag:        run.Tag,
		Commit:     run.Commit,
		Source:     run.Source,
		Status:     run.Status,
		Outcome:    run.Outcome,
		Published:  run.Published,
		ReleaseID:  run.ReleaseID,
		GateEffect: run.GateEffect,
		GateRule:   run.GateRule,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
	}
}

var allowedRunStates = map[string]struct{}{
	repo.RunStatusRunning:   {},
	repo.RunStatusConcluded: {},
}

func (api *conductorAPI) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := clampInt(parseIntQuery(r, "limit", 100), 1, 500)
	tag := strings.TrimSpace(r.URL.Query().Get("tag"))
	state := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("state")))
	if state != "" {
		if _, ok := allowedRunStates[state]; !ok {
			api.writeError(w, r, http.StatusBadRequest, "invalid_state")
			return
		}
	}

	runs, err := api.runs.ListRuns(r.Context(), repo.RunFilter{
		Tag:    tag,
		Status: state,
		Limit:  limit,
	})
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	out := make([]releaseRunResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, runResponse(run))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

func (api *conductorAPI) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(r.PathValue("run_id"))
	if runID == "" {
		api.writeError(w, r, http.StatusBadRequest, "run_id_required")
		return
	}

	run, err := api.runs.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "not_found")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.writeJSON(w, http.StatusOK, runResponse(run))
}

type releaseJobResponse struct {
	JobID         string     `json:"job_id"`
	RunID         string     `json:"run_id"`
	Triple        string     `json:"triple"`
	HostOS        string     `json:"host_os"`
	Strategy      string     `json:"strategy"`
	State         string     `json:"state"`
	Reason        string     `json:"reason,omitempty"`
	ArchiveName   string     `json:"archive_name,omitempty"`
	ArchiveSHA256 string     `json:"archive_sha256,omitempty"`
	ArchiveSize   int64      `json:"archive_size_bytes,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (api *conductorAPI) handleListRunJobs(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(r.PathValue("run_id"))
	if runID == "" {
		api.writeError(w, r, http.StatusBadRequest, "run_id_required")
		return
	}

	jobs, err := api.jobs.ListJobsByRun(r.Context(), runID)
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	out := make([]releaseJobResponse, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, releaseJobResponse{
			JobID:         job.JobID,
			RunID:         job.RunID,
			Triple:        job.Triple,
			HostOS:        job.HostOS,
			Strategy:      job.Strategy,
			State:         job.State,
			Reason:        job.Reason,
			ArchiveName:   job.ArchiveName,
			ArchiveSHA256: job.ArchiveSHA256,
			ArchiveSize:   job.ArchiveSize,
			StartedAt:     job.StartedAt,
			FinishedAt:    job.FinishedAt,
			UpdatedAt:     job.UpdatedAt,
		})
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"jobs": out})
}

type triggerRunRequest struct {
	Tag string `json:"tag"`
}

func (api *conductorAPI) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.Subject) == "" {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	var req triggerRunRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	if strings.TrimSpace(req.Tag) == "" {
		api.writeError(w, r, http.StatusBadRequest, "tag_required")
		return
	}
	tag, err := domain.ParseReleaseTag(req.Tag)
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_tag")
		return
	}

	runID, err := api.triggers.Trigger(r.Context(), triggerRequest{
		Tag:       tag.Raw,
		Source:    "api",
		Actor:     identity.Subject,
		RequestID: r.Header.Get("X-Request-Id"),
		IP:        requestIP(r.RemoteAddr),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	w.Header().Set("Location", "/runs/"+runID)
	api.writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "accepted",
		"run_id": runID,
		"tag":    tag.Raw,
	})
}

type releaseAssetResponse struct {
	ArchiveName string    `json:"archive_name"`
	Triple      string    `json:"triple"`
	SHA256      string    `json:"sha256"`
	SizeBytes   int64     `json:"size_bytes"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

type releaseResponse struct {
	Tag           string                 `json:"tag"`
	ReleaseID     string                 `json:"release_id,omitempty"`
	Backend       string                 `json:"backend"`
	ArtifactCount int                    `json:"artifact_count"`
	PublishedAt   time.Time              `json:"published_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
	Assets        []releaseAssetResponse `json:"assets,omitempty"`
}

func releaseToResponse(release repo.Release) releaseResponse {
	out := releaseResponse{
		Tag:           release.Tag,
		ReleaseID:     release.ReleaseID,
		Backend:       release.Backend,
		ArtifactCount: release.ArtifactCount,
		PublishedAt:   release.PublishedAt,
		UpdatedAt:     release.UpdatedAt,
	}
	for _, asset := range release.Assets {
		out.Assets = append(out.Assets, releaseAssetResponse{
			ArchiveName: asset.ArchiveName,
			Triple:      asset.Triple,
			SHA256:      asset.SHA256,
			SizeBytes:   asset.SizeBytes,
			UploadedAt:  asset.UploadedAt,
		})
	}
	return out
}

func (api *conductorAPI) handleListReleases(w http.ResponseWriter, r *http.Request) {
	limit := clampInt(parseIntQuery(r, "limit", 100), 1, 500)

	releases, err := api.releases.ListReleases(r.Context(), limit)
	if err != nil {
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	out := make([]releaseResponse, 0, len(releases))
	for _, release := range releases {
		out = append(out, releaseToResponse(release))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"releases": out})
}

func (api *conductorAPI) handleGetRelease(w http.ResponseWriter, r *http.Request) {
	tag := strings.TrimSpace(r.PathValue("tag"))
	if tag == "" {
		api.writeError(w, r, http.StatusBadRequest, "tag_required")
		return
	}

	release, err := api.releases.GetRelease(r.Context(), tag)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "not_found")
			return
		}
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.writeJSON(w, http.StatusOK, releaseToResponse(release))
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func (api *conductorAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func (api *conductorAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}

func requestIP(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}

func parseIntQuery(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func clampInt(v int, min int, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
