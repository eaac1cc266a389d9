// Package forge publishes release artifacts. The REST publisher talks to a
// GitHub-compatible releases API; the bucket publisher writes archives to
// object storage for air-gapped installs. Both upsert by tag: publishing the
// same tag again replaces assets on the one existing release instead of
// creating a second one.
package forge

import (
	"context"
	"errors"
	"strings"

	"github.com/slipway-labs/slipway-go/internal/domain"
)

var ErrPublishFailed = errors.New("publish_failed")

type Request struct {
	Tag       string
	Commit    string
	Artifacts []domain.Artifact
}

type Result struct {
	ReleaseID string
	// Uploaded lists archive names attached by this publish.
	Uploaded []string
	// Replaced lists archives that displaced an asset of the same name.
	Replaced []string
	// Failed lists archives that could not be attached. Publish reports an
	// error only when nothing at all was attached.
	Failed []string
}

type Publisher interface {
	Publish(ctx context.Context, req Request) (Result, error)
}

func contentTypeFor(archiveName string) string {
	switch {
	case strings.HasSuffix(archiveName, ".tar.gz"):
		return "application/gzip"
	case strings.HasSuffix(archiveName, ".zip"):
		return "application/zip"
	default:
		return "application/octet-stream"
	}
}
