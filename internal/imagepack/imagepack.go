// Package imagepack builds the container distribution channel for a release:
// the static release binary copied into a minimal runtime base image with the
// binary as the image entrypoint. It reuses the binary a build job already
// produced and never recompiles.
package imagepack

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/slipway-labs/slipway-go/internal/buildexec"
)

var (
	ErrBuildFailed = errors.New("image_build_failed")
	ErrPushFailed  = errors.New("image_push_failed")
)

const (
	dockerfileName  = "Dockerfile"
	installDir      = "/usr/local/bin"
	outputTailBytes = 2048
)

// Config describes the image channel. Repo is the image repository without a
// tag, e.g. ghcr.io/acme/cgf; the release tag becomes the image tag.
type Config struct {
	DockerBin string
	Repo      string
	Base      string
	Push      bool
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Repo) == "" {
		return errors.New("image repo is required")
	}
	return nil
}

// Builder stages a build context and drives docker through the command
// executor.
type Builder struct {
	runner buildexec.Runner
	cfg    Config
}

func NewBuilder(runner buildexec.Runner, cfg Config) (*Builder, error) {
	if runner == nil {
		return nil, errors.New("imagepack: runner is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.DockerBin) == "" {
		cfg.DockerBin = "docker"
	}
	if strings.TrimSpace(cfg.Base) == "" {
		cfg.Base = "alpine:3.22"
	}
	return &Builder{runner: runner, cfg: cfg}, nil
}

// Input names the binary to package and the scratch directory for the build
// context. Dir must be job-scoped so concurrent runs never collide.
type Input struct {
	Tag        string
	BinaryPath string
	BinaryName string
	Dir        string
}

type Image struct {
	Ref    string
	Pushed bool
}

// Build stages Dockerfile plus binary in in.Dir, builds <repo>:<tag> and
// optionally pushes it. Failures here belong to the secondary distribution
// channel and must not change the run outcome; the caller records them.
func (b *Builder) Build(ctx context.Context, in Input) (Image, error) {
	if b == nil {
		return Image{}, errors.New("imagepack: nil builder")
	}
	tag := strings.TrimSpace(in.Tag)
	if tag == "" {
		return Image{}, errors.New("imagepack: tag is required")
	}
	name := strings.TrimSpace(in.BinaryName)
	if name == "" {
		return Image{}, errors.New("imagepack: binary name is required")
	}
	if strings.TrimSpace(in.Dir) == "" {
		return Image{}, errors.New("imagepack: context dir is required")
	}
	if _, err := os.Stat(in.BinaryPath); err != nil {
		return Image{}, fmt.Errorf("stat release binary: %w", err)
	}

	if err := os.MkdirAll(in.Dir, 0o755); err != nil {
		return Image{}, fmt.Errorf("create build context: %w", err)
	}
	if err := stageBinary(in.BinaryPath, filepath.Join(in.Dir, name)); err != nil {
		return Image{}, err
	}
	dockerfile := Dockerfile(b.cfg.Base, name)
	if err := os.WriteFile(filepath.Join(in.Dir, dockerfileName), []byte(dockerfile), 0o644); err != nil {
		return Image{}, fmt.Errorf("write dockerfile: %w", err)
	}

	ref := b.cfg.Repo + ":" + tag
	res, err := b.runner.Run(ctx, buildexec.Command{
		Bin:  b.cfg.DockerBin,
		Args: []string{"build", "--tag", ref, in.Dir},
	})
	if err != nil {
		return Image{}, fmt.Errorf("run image build: %w", err)
	}
	if !res.OK() {
		return Image{}, fmt.Errorf("%w: %s: %s", ErrBuildFailed, ref, buildexec.Tail(res.Output, outputTailBytes))
	}
	if !b.cfg.Push {
		return Image{Ref: ref}, nil
	}

	res, err = b.runner.Run(ctx, buildexec.Command{
		Bin:  b.cfg.DockerBin,
		Args: []string{"push", ref},
	})
	if err != nil {
		return Image{}, fmt.Errorf("run image push: %w", err)
	}
	if !res.OK() {
		return Image{}, fmt.Errorf("%w: %s: %s", ErrPushFailed, ref, buildexec.Tail(res.Output, outputTailBytes))
	}
	return Image{Ref: ref, Pushed: true}, nil
}

// Dockerfile renders the two-layer runtime image: base plus the binary,
// entrypoint in exec form.
func Dockerfile(base, binary string) string {
	install := installDir + "/" + binary
	var b strings.Builder
	fmt.Fprintf(&b, "FROM %s\n", base)
	fmt.Fprintf(&b, "COPY %s %s\n", binary, install)
	fmt.Fprintf(&b, "ENTRYPOINT [%q]\n", install)
	return b.String()
}

func stageBinary(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open release binary: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o755)
	if err != nil {
		return fmt.Errorf("stage release binary: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("stage release binary: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("stage release binary: %w", err)
	}
	return nil
}
