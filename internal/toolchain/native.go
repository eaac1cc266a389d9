package toolchain

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/slipway-labs/slipway-go/internal/buildexec"
	"github.com/slipway-labs/slipway-go/internal/domain"
)

const installerOutputTail = 2048

type NativeConfig struct {
	InstallerBin string
	Channel      string
	// HostOS is the matrix host OS this resolver runs on. Defaults to the
	// process's own platform.
	HostOS string
}

// NativeResolver installs the release channel with the host installer and
// adds the target triple to it. The installer is not safe to run
// concurrently, so resolutions serialize; resolved triples are cached so a
// second job for the same triple returns without touching the installer.
type NativeResolver struct {
	runner buildexec.Runner
	cfg    NativeConfig

	mu    sync.Mutex
	ready map[string]Handle
}

func NewNativeResolver(runner buildexec.Runner, cfg NativeConfig) (*NativeResolver, error) {
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	if strings.TrimSpace(cfg.InstallerBin) == "" {
		cfg.InstallerBin = "rustup"
	}
	if strings.TrimSpace(cfg.Channel) == "" {
		cfg.Channel = "stable"
	}
	if strings.TrimSpace(cfg.HostOS) == "" {
		cfg.HostOS = domain.HostOSForGOOS(runtime.GOOS)
	}
	if cfg.HostOS == "" {
		return nil, fmt.Errorf("unsupported build host platform %q", runtime.GOOS)
	}
	return &NativeResolver{
		runner: runner,
		cfg:    cfg,
		ready:  make(map[string]Handle),
	}, nil
}

func (r *NativeResolver) Resolve(ctx context.Context, target domain.TargetSpec) (Handle, error) {
	if target.Strategy != domain.StrategyNative {
		return Handle{}, fmt.Errorf("%w: native resolver got strategy %q", ErrResolveFailed, target.Strategy)
	}
	if !strings.EqualFold(strings.TrimSpace(target.HostOS), r.cfg.HostOS) {
		return Handle{}, fmt.Errorf("%w: target %s needs a %s host, resolver runs on %s",
			ErrHostMismatch, target.Triple, target.HostOS, r.cfg.HostOS)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if handle, ok := r.ready[target.Triple]; ok {
		return handle, nil
	}

	res, err := r.runner.Run(ctx, buildexec.Command{
		Bin:  r.cfg.InstallerBin,
		Args: []string{"--version"},
	})
	if err != nil || !res.OK() {
		return Handle{}, fmt.Errorf("%w: %s is not available", ErrInstallerNotFound, r.cfg.InstallerBin)
	}

	res, err = r.runner.Run(ctx, buildexec.Command{
		Bin:  r.cfg.InstallerBin,
		Args: []string{"toolchain", "install", r.cfg.Channel, "--profile", "minimal"},
	})
	if err != nil {
		return Handle{}, fmt.Errorf("%w: install %s: %v", ErrResolveFailed, r.cfg.Channel, err)
	}
	if !res.OK() {
		return Handle{}, fmt.Errorf("%w: install %s exited %d: %s",
			ErrResolveFailed, r.cfg.Channel, res.ExitCode, buildexec.Tail(res.Output, installerOutputTail))
	}

	res, err = r.runner.Run(ctx, buildexec.Command{
		Bin:  r.cfg.InstallerBin,
		Args: []string{"target", "add", target.Triple, "--toolchain", r.cfg.Channel},
	})
	if err != nil {
		return Handle{}, fmt.Errorf("%w: add target %s: %v", ErrResolveFailed, target.Triple, err)
	}
	if !res.OK() {
		return Handle{}, fmt.Errorf("%w: add target %s exited %d: %s",
			ErrResolveFailed, target.Triple, res.ExitCode, buildexec.Tail(res.Output, installerOutputTail))
	}

	handle := Handle{
		Triple: target.Triple,
		Kind:   KindHost,
		Env:    []string{"RUSTUP_TOOLCHAIN=" + r.cfg.Channel},
	}
	r.ready[target.Triple] = handle
	return handle, nil
}
