// Package buildrun executes the two build phases of a release job: the full
// test suite under the default toolchain, then the release compile for the
// job's target triple. The two phases fail differently on purpose. A test
// failure means the sources are bad for every target; a compile failure is
// specific to one target's toolchain.
package buildrun

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/slipway-labs/slipway-go/internal/buildexec"
	"github.com/slipway-labs/slipway-go/internal/domain"
	"github.com/slipway-labs/slipway-go/internal/toolchain"
)

var (
	ErrTestsFailed   = errors.New("tests_failed")
	ErrCompileFailed = errors.New("compile_failed")
)

const logTailBytes = 4096

type Config struct {
	BinaryName string
	// Command templates expand {triple} and {binary} before running.
	TestCommand    string
	CompileCommand string
	OutputPath     string
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BinaryName) == "" {
		return errors.New("binary name is required")
	}
	return nil
}

// ContainerRunnerFunc builds a runner that executes inside the given image.
type ContainerRunnerFunc func(image string) (buildexec.Runner, error)

type Builder struct {
	cfg          Config
	host         buildexec.Runner
	containerFor ContainerRunnerFunc
}

func New(cfg Config, host buildexec.Runner, containerFor ContainerRunnerFunc) (*Builder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if host == nil {
		return nil, errors.New("host runner is required")
	}
	if strings.TrimSpace(cfg.TestCommand) == "" {
		cfg.TestCommand = "cargo test --locked"
	}
	if strings.TrimSpace(cfg.CompileCommand) == "" {
		cfg.CompileCommand = "cargo build --release --locked --target {triple}"
	}
	if strings.TrimSpace(cfg.OutputPath) == "" {
		cfg.OutputPath = "target/{triple}/release/{binary}"
	}
	if containerFor == nil {
		containerFor = func(image string) (buildexec.Runner, error) {
			return buildexec.NewDockerRunner("", image)
		}
	}
	return &Builder{cfg: cfg, host: host, containerFor: containerFor}, nil
}

type Input struct {
	// Dir is the job's source checkout on the host.
	Dir    string
	Target domain.TargetSpec
	Handle toolchain.Handle
}

// Test runs the full suite under the default toolchain and returns the tail
// of its output.
func (b *Builder) Test(ctx context.Context, in Input) (string, error) {
	runner, err := b.runnerFor(in.Handle)
	if err != nil {
		return "", fmt.Errorf("test phase: %w", err)
	}

	bin, args := splitCommand(b.expand(b.cfg.TestCommand, in.Target.Triple))
	res, err := runner.Run(ctx, buildexec.Command{
		Dir:  in.Dir,
		Env:  in.Handle.Env,
		Bin:  bin,
		Args: args,
	})
	if err != nil {
		return "", fmt.Errorf("run test command: %w", err)
	}
	tail := buildexec.Tail(res.Output, logTailBytes)
	if !res.OK() {
		return tail, fmt.Errorf("%w: %s exited %d: %s", ErrTestsFailed, bin, res.ExitCode, tail)
	}
	return tail, nil
}

type CompileOutput struct {
	// BinaryPath is the host path of the produced release binary.
	BinaryPath string
	Log        string
}

// Compile builds the release binary for the input's triple and verifies it
// exists where the output template says it should.
func (b *Builder) Compile(ctx context.Context, in Input) (CompileOutput, error) {
	runner, err := b.runnerFor(in.Handle)
	if err != nil {
		return CompileOutput{}, fmt.Errorf("compile phase: %w", err)
	}

	bin, args := splitCommand(b.expand(b.cfg.CompileCommand, in.Target.Triple))
	res, err := runner.Run(ctx, buildexec.Command{
		Dir:  in.Dir,
		Env:  in.Handle.Env,
		Bin:  bin,
		Args: args,
	})
	if err != nil {
		return CompileOutput{}, fmt.Errorf("run compile command: %w", err)
	}
	tail := buildexec.Tail(res.Output, logTailBytes)
	if !res.OK() {
		return CompileOutput{}, fmt.Errorf("%w: %s exited %d: %s", ErrCompileFailed, bin, res.ExitCode, tail)
	}

	binaryPath := filepath.Join(in.Dir, filepath.FromSlash(b.expand(b.cfg.OutputPath, in.Target.Triple)))
	info, err := os.Stat(binaryPath)
	if err != nil {
		return CompileOutput{}, fmt.Errorf("%w: no binary at %s", ErrCompileFailed, binaryPath)
	}
	if info.IsDir() {
		return CompileOutput{}, fmt.Errorf("%w: %s is a directory", ErrCompileFailed, binaryPath)
	}

	return CompileOutput{BinaryPath: binaryPath, Log: tail}, nil
}

func (b *Builder) runnerFor(handle toolchain.Handle) (buildexec.Runner, error) {
	switch handle.Kind {
	case toolchain.KindHost:
		return b.host, nil
	case toolchain.KindContainer:
		return b.containerFor(handle.Image)
	default:
		return nil, fmt.Errorf("unsupported toolchain kind %q", handle.Kind)
	}
}

func (b *Builder) expand(tmpl string, triple string) string {
	out := strings.ReplaceAll(tmpl, "{triple}", triple)
	return strings.ReplaceAll(out, "{binary}", domain.BinaryFileName(b.cfg.BinaryName, triple))
}

func splitCommand(command string) (string, []string) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}
