// Package toolchain prepares the build environment a target compiles with.
// Native targets get the host compiler plus the added cross target; cross
// targets get a containerized build environment. Resolution is idempotent:
// resolving the same target twice converges on the same handle and performs
// no work the first resolution did not already do.
package toolchain

import (
	"context"
	"errors"
	"fmt"

	"github.com/slipway-labs/slipway-go/internal/domain"
)

var (
	ErrResolveFailed     = errors.New("resolve_failed")
	ErrHostMismatch      = errors.New("host_mismatch")
	ErrInstallerNotFound = errors.New("installer_not_found")
)

type Kind string

const (
	// KindHost builds run directly on the orchestrator host.
	KindHost Kind = "host"
	// KindContainer builds run inside the resolved image.
	KindContainer Kind = "container"
)

// Handle is the resolved build environment for one target. The build runner
// executes the test and compile commands through it without knowing how the
// environment was prepared.
type Handle struct {
	Triple string
	Kind   Kind
	// Image is set for container handles.
	Image string
	// Env holds KEY=VALUE pairs the build commands run with.
	Env []string
}

type Resolver interface {
	Resolve(ctx context.Context, target domain.TargetSpec) (Handle, error)
}

// Set dispatches resolution on the target's toolchain strategy.
type Set struct {
	Native Resolver
	Cross  Resolver
}

func (s Set) Resolve(ctx context.Context, target domain.TargetSpec) (Handle, error) {
	switch target.Strategy {
	case domain.StrategyNative:
		if s.Native == nil {
			return Handle{}, fmt.Errorf("%w: no native resolver configured", ErrResolveFailed)
		}
		return s.Native.Resolve(ctx, target)
	case domain.StrategyCross:
		if s.Cross == nil {
			return Handle{}, fmt.Errorf("%w: no cross resolver configured", ErrResolveFailed)
		}
		return s.Cross.Resolve(ctx, target)
	default:
		return Handle{}, fmt.Errorf("%w: unsupported strategy %q", ErrResolveFailed, target.Strategy)
	}
}
