package domain

import (
	"errors"
	"strings"
)

// Artifact is the packaged output of one succeeded build job. It is owned by
// the release publisher until attached to a release.
type Artifact struct {
	Triple      string
	ArchiveName string
	ArchivePath string
	SHA256      string
	SizeBytes   int64
}

func (a Artifact) Validate() error {
	if err := ValidateTriple(a.Triple); err != nil {
		return err
	}
	if strings.TrimSpace(a.ArchiveName) == "" {
		return errors.New("archive name is required")
	}
	if strings.TrimSpace(a.ArchivePath) == "" {
		return errors.New("archive path is required")
	}
	return nil
}
