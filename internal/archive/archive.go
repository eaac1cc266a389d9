// Package archive wraps release binaries into distributable archives. Unix
// targets ship tar.gz, Windows targets ship zip. The archive holds exactly
// one entry, the binary, with its execute bit intact.
package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/slipway-labs/slipway-go/internal/domain"
)

var ErrBinaryMissing = errors.New("binary_missing")

const binaryMode = 0o755

type Packager struct {
	binaryName string
}

func NewPackager(binaryName string) (*Packager, error) {
	if strings.TrimSpace(binaryName) == "" {
		return nil, errors.New("binary name is required")
	}
	return &Packager{binaryName: strings.TrimSpace(binaryName)}, nil
}

// ArchiveName returns the archive file name for a triple. The shape is
// <binary>-<triple>.<ext> and consumers parse it, so it never changes with
// configuration.
func (p *Packager) ArchiveName(triple string) string {
	return p.binaryName + "-" + triple + archiveExt(triple)
}

func archiveExt(triple string) string {
	if domain.IsWindowsTriple(triple) {
		return ".zip"
	}
	return ".tar.gz"
}

// Pack archives the binary at binaryPath into destDir and returns the
// resulting artifact with its digest and size.
func (p *Packager) Pack(binaryPath string, target domain.TargetSpec, destDir string) (domain.Artifact, error) {
	info, err := os.Stat(binaryPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.Artifact{}, fmt.Errorf("%w: %s", ErrBinaryMissing, binaryPath)
		}
		return domain.Artifact{}, fmt.Errorf("stat binary: %w", err)
	}
	if info.IsDir() {
		return domain.Artifact{}, fmt.Errorf("%w: %s is a directory", ErrBinaryMissing, binaryPath)
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return domain.Artifact{}, fmt.Errorf("create archive dir: %w", err)
	}

	name := p.ArchiveName(target.Triple)
	path := filepath.Join(destDir, name)
	entryName := domain.BinaryFileName(p.binaryName, target.Triple)

	out, err := os.Create(path)
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("create archive: %w", err)
	}
	defer out.Close()

	hasher := sha256.New()
	counter := &countingWriter{w: io.MultiWriter(out, hasher)}

	if domain.IsWindowsTriple(target.Triple) {
		err = writeZip(counter, binaryPath, entryName, info.Size())
	} else {
		err = writeTarGz(counter, binaryPath, entryName, info.Size())
	}
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("write archive %s: %w", name, err)
	}
	if err := out.Close(); err != nil {
		return domain.Artifact{}, fmt.Errorf("close archive: %w", err)
	}

	artifact := domain.Artifact{
		Triple:      target.Triple,
		ArchiveName: name,
		ArchivePath: path,
		SHA256:      hex.EncodeToString(hasher.Sum(nil)),
		SizeBytes:   counter.n,
	}
	if err := artifact.Validate(); err != nil {
		return domain.Artifact{}, err
	}
	return artifact, nil
}

func writeTarGz(w io.Writer, binaryPath string, entryName string, size int64) error {
	src, err := os.Open(binaryPath)
	if err != nil {
		return err
	}
	defer src.Close()

	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	hdr := &tar.Header{
		Name: entryName,
		Mode: binaryMode,
		Size: size,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if _, err := io.Copy(tw, src); err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func writeZip(w io.Writer, binaryPath string, entryName string, size int64) error {
	src, err := os.Open(binaryPath)
	if err != nil {
		return err
	}
	defer src.Close()

	zw := zip.NewWriter(w)
	hdr := &zip.FileHeader{
		Name:   entryName,
		Method: zip.Deflate,
	}
	hdr.SetMode(binaryMode)
	hdr.UncompressedSize64 = uint64(size)

	entry, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	if _, err := io.Copy(entry, src); err != nil {
		return err
	}
	return zw.Close()
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
