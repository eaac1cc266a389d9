package forge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/minio/minio-go/v7"
)

// BucketPublisher writes release archives to object storage under
// <tag>/<archive-name>. Overwriting an existing key is the upsert: the
// bucket never grows a second copy of a tag's archive.
type BucketPublisher struct {
	client *minio.Client
	bucket string
}

func NewBucketPublisher(client *minio.Client, bucket string) (*BucketPublisher, error) {
	if client == nil {
		return nil, errors.New("minio client is required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("bucket is required")
	}
	return &BucketPublisher{client: client, bucket: strings.TrimSpace(bucket)}, nil
}

func (p *BucketPublisher) Publish(ctx context.Context, req Request) (Result, error) {
	if p == nil || p.client == nil {
		return Result{}, errors.New("bucket publisher not initialized")
	}
	tag := strings.TrimSpace(req.Tag)
	if tag == "" {
		return Result{}, fmt.Errorf("%w: tag is required", ErrPublishFailed)
	}

	result := Result{ReleaseID: tag}
	var lastErr error
	for _, artifact := range req.Artifacts {
		key := ObjectKey(tag, artifact.ArchiveName)

		_, statErr := p.client.StatObject(ctx, p.bucket, key, minio.StatObjectOptions{})
		exists := statErr == nil

		f, err := os.Open(artifact.ArchivePath)
		if err != nil {
			lastErr = err
			result.Failed = append(result.Failed, artifact.ArchiveName)
			continue
		}
		opts := minio.PutObjectOptions{
			ContentType: contentTypeFor(artifact.ArchiveName),
			UserMetadata: map[string]string{
				"Sha256": artifact.SHA256,
				"Commit": req.Commit,
			},
		}
		_, err = p.client.PutObject(ctx, p.bucket, key, f, artifact.SizeBytes, opts)
		_ = f.Close()
		if err != nil {
			lastErr = err
			result.Failed = append(result.Failed, artifact.ArchiveName)
			continue
		}

		if exists {
			result.Replaced = append(result.Replaced, artifact.ArchiveName)
		}
		result.Uploaded = append(result.Uploaded, artifact.ArchiveName)
	}

	if len(req.Artifacts) > 0 && len(result.Uploaded) == 0 {
		return result, fmt.Errorf("%w: no archives stored for %s: %v", ErrPublishFailed, tag, lastErr)
	}
	return result, nil
}

// ObjectKey is the bucket layout for a published archive.
func ObjectKey(tag string, archiveName string) string {
	return tag + "/" + archiveName
}
