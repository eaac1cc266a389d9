package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/slipway-labs/slipway-go/internal/repo"
)

type ReleaseStore struct {
	db DB
}

const (
	upsertReleaseQuery = `INSERT INTO release_records (
		tag,
		release_id,
		backend,
		artifact_count,
		published_at,
		updated_at
	) VALUES ($1,$2,$3,$4,$5,NOW())
	ON CONFLICT (tag) DO UPDATE SET
		release_id = EXCLUDED.release_id,
		backend = EXCLUDED.backend,
		artifact_count = EXCLUDED.artifact_count,
		updated_at = NOW()`

	insertAssetQuery = `INSERT INTO release_assets (
		tag,
		archive_name,
		target_triple,
		sha256,
		size_bytes,
		uploaded_at
	) VALUES ($1,$2,$3,$4,$5,$6)
	ON CONFLICT (tag, archive_name) DO UPDATE SET
		target_triple = EXCLUDED.target_triple,
		sha256 = EXCLUDED.sha256,
		size_bytes = EXCLUDED.size_bytes,
		uploaded_at = EXCLUDED.uploaded_at`

	selectReleaseQuery = `SELECT tag, release_id, backend, artifact_count, published_at, updated_at
	FROM release_records
	WHERE tag = $1`

	selectAssetsQuery = `SELECT tag, archive_name, target_triple, sha256, size_bytes, uploaded_at
	FROM release_assets
	WHERE tag = $1
	ORDER BY archive_name ASC`
)

func NewReleaseStore(db DB) *ReleaseStore {
	if db == nil {
		return nil
	}
	return &ReleaseStore{db: db}
}

// UpsertRelease records what a publish attached: one release row per tag and
// its asset list replaced wholesale. The publisher is the only writer for a
// tag, at fan-in, so the statements need no transaction.
func (s *ReleaseStore) UpsertRelease(ctx context.Context, release repo.Release, assets []repo.ReleaseAsset) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("release store not initialized")
	}
	tag := strings.TrimSpace(release.Tag)
	if tag == "" {
		return fmt.Errorf("tag is required")
	}
	releaseID := strings.TrimSpace(release.ReleaseID)
	if releaseID == "" {
		return fmt.Errorf("release id is required")
	}
	backend := strings.TrimSpace(release.Backend)
	if backend == "" {
		return fmt.Errorf("backend is required")
	}

	_, err := s.db.ExecContext(
		ctx,
		upsertReleaseQuery,
		tag,
		releaseID,
		backend,
		len(assets),
		normalizeTime(release.PublishedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert release: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM release_assets WHERE tag = $1`, tag); err != nil {
		return fmt.Errorf("clear release assets: %w", err)
	}
	for _, asset := range assets {
		name := strings.TrimSpace(asset.ArchiveName)
		if name == "" {
			return fmt.Errorf("asset archive name is required")
		}
		uploaded := asset.UploadedAt
		if uploaded.IsZero() {
			uploaded = time.Now().UTC()
		}
		if _, err := s.db.ExecContext(
			ctx,
			insertAssetQuery,
			tag,
			name,
			strings.TrimSpace(asset.Triple),
			nullIfEmpty(asset.SHA256),
			asset.SizeBytes,
			uploaded.UTC(),
		); err != nil {
			return fmt.Errorf("insert release asset: %w", err)
		}
	}
	return nil
}

func (s *ReleaseStore) GetRelease(ctx context.Context, tag string) (repo.Release, error) {
	if s == nil || s.db == nil {
		return repo.Release{}, fmt.Errorf("release store not initialized")
	}
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return repo.Release{}, fmt.Errorf("tag is required")
	}
	var release repo.Release
	row := s.db.QueryRowContext(ctx, selectReleaseQuery, tag)
	if err := row.Scan(
		&release.Tag, &release.ReleaseID, &release.Backend, &release.ArtifactCount,
		&release.PublishedAt, &release.UpdatedAt,
	); err != nil {
		return repo.Release{}, handleNotFound(err)
	}
	release.PublishedAt = release.PublishedAt.UTC()
	release.UpdatedAt = release.UpdatedAt.UTC()

	assets, err := s.listAssets(ctx, tag)
	if err != nil {
		return repo.Release{}, err
	}
	release.Assets = assets
	return release, nil
}

func (s *ReleaseStore) ListReleases(ctx context.Context, limit int) ([]repo.Release, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("release store not initialized")
	}
	query := `SELECT tag, release_id, backend, artifact_count, published_at, updated_at
	FROM release_records
	ORDER BY published_at DESC`
	args := make([]any, 0, 1)
	if limit > 0 {
		args = append(args, limit)
		query += " LIMIT $1"
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list releases: %w", err)
	}
	defer rows.Close()

	releases := make([]repo.Release, 0)
	for rows.Next() {
		var release repo.Release
		if err := rows.Scan(
			&release.Tag, &release.ReleaseID, &release.Backend, &release.ArtifactCount,
			&release.PublishedAt, &release.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan release: %w", err)
		}
		release.PublishedAt = release.PublishedAt.UTC()
		release.UpdatedAt = release.UpdatedAt.UTC()
		releases = append(releases, release)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list releases: %w", err)
	}
	return releases, nil
}

func (s *ReleaseStore) listAssets(ctx context.Context, tag string) ([]repo.ReleaseAsset, error) {
	rows, err := s.db.QueryContext(ctx, selectAssetsQuery, tag)
	if err != nil {
		return nil, fmt.Errorf("list release assets: %w", err)
	}
	defer rows.Close()

	assets := make([]repo.ReleaseAsset, 0)
	for rows.Next() {
		var asset repo.ReleaseAsset
		var sha sql.NullString
		if err := rows.Scan(
			&asset.Tag, &asset.ArchiveName, &asset.Triple, &sha, &asset.SizeBytes, &asset.UploadedAt,
		); err != nil {
			return nil, fmt.Errorf("scan release asset: %w", err)
		}
		if sha.Valid {
			asset.SHA256 = sha.String
		}
		asset.UploadedAt = asset.UploadedAt.UTC()
		assets = append(assets, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list release assets: %w", err)
	}
	return assets, nil
}
