package registry

import (
	"errors"
	"testing"

	"github.com/slipway-labs/slipway-go/internal/domain"
)

func TestDefaultMatrixIsValid(t *testing.T) {
	reg, err := Default()
	if err != nil {
		t.Fatalf("Default(): %v", err)
	}
	targets := reg.Targets()
	if len(targets) == 0 {
		t.Fatalf("default matrix is empty")
	}
	seen := make(map[string]struct{}, len(targets))
	for _, spec := range targets {
		if err := spec.Validate(); err != nil {
			t.Fatalf("default target %s: %v", spec.Triple, err)
		}
		if _, ok := seen[spec.Triple]; ok {
			t.Fatalf("duplicate triple in default matrix: %s", spec.Triple)
		}
		seen[spec.Triple] = struct{}{}
	}
}

func TestNewRejectsDuplicateTriple(t *testing.T) {
	_, err := New([]domain.TargetSpec{
		{HostOS: "linux", Triple: "x86_64-unknown-linux-gnu", Strategy: domain.StrategyNative},
		{HostOS: "linux", Triple: "x86_64-unknown-linux-gnu", Strategy: domain.StrategyNative},
	})
	if !errors.Is(err, ErrTripleDuplicate) {
		t.Fatalf("err = %v, want ErrTripleDuplicate", err)
	}
}

func TestNewRejectsMalformedSpec(t *testing.T) {
	_, err := New([]domain.TargetSpec{
		{HostOS: "linux", Triple: "not-a-triple-at-all-really", Strategy: domain.StrategyNative},
	})
	if !errors.Is(err, ErrSpecInvalid) {
		t.Fatalf("err = %v, want ErrSpecInvalid", err)
	}

	_, err = New([]domain.TargetSpec{
		{HostOS: "linux", Triple: "x86_64-unknown-linux-musl", Strategy: domain.StrategyCross},
	})
	if !errors.Is(err, ErrSpecInvalid) {
		t.Fatalf("cross without image: err = %v, want ErrSpecInvalid", err)
	}
}

func TestNewRejectsEmptyMatrix(t *testing.T) {
	if _, err := New(nil); !errors.Is(err, ErrNoTargets) {
		t.Fatalf("err = %v, want ErrNoTargets", err)
	}
}

func TestTargetsReturnsCopyInOrder(t *testing.T) {
	reg, err := New([]domain.TargetSpec{
		{HostOS: "linux", Triple: "x86_64-unknown-linux-gnu", Strategy: domain.StrategyNative},
		{HostOS: "macos", Triple: "aarch64-apple-darwin", Strategy: domain.StrategyNative},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	first := reg.Targets()
	if first[0].Triple != "x86_64-unknown-linux-gnu" || first[1].Triple != "aarch64-apple-darwin" {
		t.Fatalf("order not preserved: %+v", first)
	}
	first[0].Triple = "mutated"
	if got := reg.Targets()[0].Triple; got != "x86_64-unknown-linux-gnu" {
		t.Fatalf("registry state mutated through returned slice: %q", got)
	}
}

func TestLookup(t *testing.T) {
	reg, err := Default()
	if err != nil {
		t.Fatalf("Default(): %v", err)
	}
	spec, ok := reg.Lookup("x86_64-unknown-linux-musl")
	if !ok {
		t.Fatalf("musl target missing from default matrix")
	}
	if spec.Strategy != domain.StrategyCross || spec.CrossImage == "" {
		t.Fatalf("musl target should be cross with an image: %+v", spec)
	}
	if _, ok := reg.Lookup("riscv64gc-unknown-linux-gnu"); ok {
		t.Fatalf("unexpected triple present")
	}
}
