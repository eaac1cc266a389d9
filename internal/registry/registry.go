// Package registry holds the fixed build matrix: the ordered list of targets
// a release run fans out over. The matrix is defined in code and validated
// when the registry is constructed, before any job starts.
package registry

import (
	"errors"
	"fmt"

	"github.com/slipway-labs/slipway-go/internal/domain"
)

var (
	ErrNoTargets       = errors.New("no_targets")
	ErrSpecInvalid     = errors.New("target_spec_invalid")
	ErrTripleDuplicate = errors.New("target_triple_duplicate")
)

// Registry is an immutable, validated sequence of target specs.
type Registry struct {
	targets []domain.TargetSpec
}

// New validates every spec and the uniqueness of the triples. Any violation
// aborts construction; a partially valid matrix is never returned.
func New(targets []domain.TargetSpec) (*Registry, error) {
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}
	seen := make(map[string]struct{}, len(targets))
	copied := make([]domain.TargetSpec, len(targets))
	for i, spec := range targets {
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("target %d: %w: %v", i, ErrSpecInvalid, err)
		}
		if _, ok := seen[spec.Triple]; ok {
			return nil, fmt.Errorf("target %d: %w: %s", i, ErrTripleDuplicate, spec.Triple)
		}
		seen[spec.Triple] = struct{}{}
		copied[i] = spec
	}
	return &Registry{targets: copied}, nil
}

// Targets returns the matrix in definition order. The returned slice is a
// copy; callers cannot mutate registry state.
func (r *Registry) Targets() []domain.TargetSpec {
	if r == nil {
		return nil
	}
	out := make([]domain.TargetSpec, len(r.targets))
	copy(out, r.targets)
	return out
}

// Len returns the number of targets in the matrix.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.targets)
}

// Lookup returns the target spec for a triple when present.
func (r *Registry) Lookup(triple string) (domain.TargetSpec, bool) {
	if r == nil {
		return domain.TargetSpec{}, false
	}
	for _, spec := range r.targets {
		if spec.Triple == triple {
			return spec, true
		}
	}
	return domain.TargetSpec{}, false
}

// DefaultCrossImageMusl is the containerized build environment for the
// static musl target.
const DefaultCrossImageMusl = "ghcr.io/cross-rs/x86_64-unknown-linux-musl:0.2.5"

// Default is the compiled-in release matrix.
func Default() (*Registry, error) {
	return New([]domain.TargetSpec{
		{HostOS: "linux", Triple: "x86_64-unknown-linux-gnu", Strategy: domain.StrategyNative},
		{HostOS: "linux", Triple: "aarch64-unknown-linux-gnu", Strategy: domain.StrategyNative},
		{HostOS: "linux", Triple: "x86_64-unknown-linux-musl", Strategy: domain.StrategyCross, CrossImage: DefaultCrossImageMusl},
		{HostOS: "macos", Triple: "x86_64-apple-darwin", Strategy: domain.StrategyNative},
		{HostOS: "macos", Triple: "aarch64-apple-darwin", Strategy: domain.StrategyNative},
		{HostOS: "windows", Triple: "x86_64-pc-windows-msvc", Strategy: domain.StrategyNative},
	})
}
