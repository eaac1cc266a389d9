package forge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

type RESTConfig struct {
	// BaseURL is the API root, e.g. https://forge.example.com/api/v3.
	BaseURL string
	// UploadURL overrides the asset upload root; defaults to BaseURL.
	UploadURL string
	Owner     string
	Repo      string
	Token     string
}

func (c RESTConfig) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("forge base URL is required")
	}
	if strings.TrimSpace(c.Owner) == "" {
		return errors.New("forge owner is required")
	}
	if strings.TrimSpace(c.Repo) == "" {
		return errors.New("forge repo is required")
	}
	if strings.TrimSpace(c.Token) == "" {
		return errors.New("forge token is required")
	}
	return nil
}

// RESTPublisher maintains one release per tag on a GitHub-compatible forge.
type RESTPublisher struct {
	cfg    RESTConfig
	client *http.Client
}

func NewRESTPublisher(ctx context.Context, cfg RESTConfig) (*RESTPublisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if strings.TrimSpace(cfg.UploadURL) == "" {
		cfg.UploadURL = cfg.BaseURL
	}
	cfg.UploadURL = strings.TrimRight(strings.TrimSpace(cfg.UploadURL), "/")

	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token}))
	client.Timeout = 60 * time.Second

	return &RESTPublisher{cfg: cfg, client: client}, nil
}

type forgeRelease struct {
	ID      int64        `json:"id"`
	TagName string       `json:"tag_name"`
	Assets  []forgeAsset `json:"assets"`
}

type forgeAsset struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func (p *RESTPublisher) Publish(ctx context.Context, req Request) (Result, error) {
	tag := strings.TrimSpace(req.Tag)
	if tag == "" {
		return Result{}, fmt.Errorf("%w: tag is required", ErrPublishFailed)
	}

	release, found, err := p.getReleaseByTag(ctx, tag)
	if err != nil {
		return Result{}, fmt.Errorf("%w: lookup release %s: %v", ErrPublishFailed, tag, err)
	}
	if !found {
		release, err = p.createRelease(ctx, tag, req.Commit)
		if errors.Is(err, errReleaseExists) {
			// Another publisher won the race; adopt its release.
			release, found, err = p.getReleaseByTag(ctx, tag)
			if err != nil || !found {
				return Result{}, fmt.Errorf("%w: release %s vanished after conflict: %v", ErrPublishFailed, tag, err)
			}
		} else if err != nil {
			return Result{}, fmt.Errorf("%w: create release %s: %v", ErrPublishFailed, tag, err)
		}
	}

	existing := make(map[string]int64, len(release.Assets))
	for _, asset := range release.Assets {
		existing[asset.Name] = asset.ID
	}

	result := Result{ReleaseID: strconv.FormatInt(release.ID, 10)}
	var lastErr error
	for _, artifact := range req.Artifacts {
		if assetID, ok := existing[artifact.ArchiveName]; ok {
			if err := p.deleteAsset(ctx, assetID); err != nil {
				lastErr = err
				result.Failed = append(result.Failed, artifact.ArchiveName)
				continue
			}
			result.Replaced = append(result.Replaced, artifact.ArchiveName)
		}
		if err := p.uploadAsset(ctx, release.ID, artifact.ArchivePath, artifact.ArchiveName); err != nil {
			lastErr = err
			result.Failed = append(result.Failed, artifact.ArchiveName)
			continue
		}
		result.Uploaded = append(result.Uploaded, artifact.ArchiveName)
	}

	if len(req.Artifacts) > 0 && len(result.Uploaded) == 0 {
		return result, fmt.Errorf("%w: no assets attached to %s: %v", ErrPublishFailed, tag, lastErr)
	}
	return result, nil
}

var errReleaseExists = errors.New("release already exists")

func (p *RESTPublisher) getReleaseByTag(ctx context.Context, tag string) (forgeRelease, bool, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/releases/tags/%s",
		p.cfg.BaseURL, p.cfg.Owner, p.cfg.Repo, url.PathEscape(tag))

	var release forgeRelease
	status, err := p.doJSON(ctx, http.MethodGet, endpoint, nil, &release)
	if err != nil {
		return forgeRelease{}, false, err
	}
	switch status {
	case http.StatusOK:
		return release, true, nil
	case http.StatusNotFound:
		return forgeRelease{}, false, nil
	default:
		return forgeRelease{}, false, fmt.Errorf("unexpected status %d", status)
	}
}

func (p *RESTPublisher) createRelease(ctx context.Context, tag string, commit string) (forgeRelease, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/releases", p.cfg.BaseURL, p.cfg.Owner, p.cfg.Repo)

	body := map[string]any{
		"tag_name":   tag,
		"name":       tag,
		"draft":      false,
		"prerelease": false,
	}
	if strings.TrimSpace(commit) != "" {
		body["target_commitish"] = commit
	}

	var release forgeRelease
	status, err := p.doJSON(ctx, http.MethodPost, endpoint, body, &release)
	if err != nil {
		return forgeRelease{}, err
	}
	switch status {
	case http.StatusCreated, http.StatusOK:
		return release, nil
	case http.StatusUnprocessableEntity:
		return forgeRelease{}, errReleaseExists
	default:
		return forgeRelease{}, fmt.Errorf("unexpected status %d", status)
	}
}

func (p *RESTPublisher) deleteAsset(ctx context.Context, assetID int64) error {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/releases/assets/%d",
		p.cfg.BaseURL, p.cfg.Owner, p.cfg.Repo, assetID)

	status, err := p.doJSON(ctx, http.MethodDelete, endpoint, nil, nil)
	if err != nil {
		return err
	}
	if status != http.StatusNoContent && status != http.StatusOK {
		return fmt.Errorf("delete asset %d: unexpected status %d", assetID, status)
	}
	return nil
}

func (p *RESTPublisher) uploadAsset(ctx context.Context, releaseID int64, path string, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat archive: %w", err)
	}

	endpoint := fmt.Sprintf("%s/repos/%s/%s/releases/%d/assets?name=%s",
		p.cfg.UploadURL, p.cfg.Owner, p.cfg.Repo, releaseID, url.QueryEscape(name))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, f)
	if err != nil {
		return err
	}
	httpReq.ContentLength = info.Size()
	httpReq.Header.Set("Content-Type", contentTypeFor(name))

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upload %s: unexpected status %d", name, resp.StatusCode)
	}
	return nil
}

func (p *RESTPublisher) doJSON(ctx context.Context, method string, endpoint string, body any, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		blob, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(blob)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if out != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
