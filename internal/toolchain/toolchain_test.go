package toolchain

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/slipway-labs/slipway-go/internal/buildexec"
	"github.com/slipway-labs/slipway-go/internal/domain"
)

type fakeRunner struct {
	calls   []buildexec.Command
	respond func(cmd buildexec.Command) (buildexec.Result, error)
}

func (f *fakeRunner) Run(ctx context.Context, cmd buildexec.Command) (buildexec.Result, error) {
	f.calls = append(f.calls, cmd)
	if f.respond != nil {
		return f.respond(cmd)
	}
	return buildexec.Result{}, nil
}

func nativeTarget() domain.TargetSpec {
	return domain.TargetSpec{
		HostOS:   "linux",
		Triple:   "x86_64-unknown-linux-gnu",
		Strategy: domain.StrategyNative,
	}
}

func crossTarget() domain.TargetSpec {
	return domain.TargetSpec{
		HostOS:     "linux",
		Triple:     "x86_64-unknown-linux-musl",
		Strategy:   domain.StrategyCross,
		CrossImage: "ghcr.io/cross-rs/x86_64-unknown-linux-musl:0.2.5",
	}
}

func TestNativeResolveInstallsChannelAndTarget(t *testing.T) {
	runner := &fakeRunner{}
	resolver, err := NewNativeResolver(runner, NativeConfig{HostOS: "linux"})
	if err != nil {
		t.Fatalf("NewNativeResolver() err=%v", err)
	}

	handle, err := resolver.Resolve(context.Background(), nativeTarget())
	if err != nil {
		t.Fatalf("Resolve() err=%v", err)
	}
	if handle.Kind != KindHost {
		t.Fatalf("Kind=%q, want host", handle.Kind)
	}
	if handle.Triple != "x86_64-unknown-linux-gnu" {
		t.Fatalf("Triple=%q", handle.Triple)
	}
	if len(handle.Env) != 1 || handle.Env[0] != "RUSTUP_TOOLCHAIN=stable" {
		t.Fatalf("Env=%v", handle.Env)
	}

	if len(runner.calls) != 3 {
		t.Fatalf("calls=%d, want version+install+target-add", len(runner.calls))
	}
	install := strings.Join(runner.calls[1].Args, " ")
	if install != "toolchain install stable --profile minimal" {
		t.Fatalf("install args=%q", install)
	}
	add := strings.Join(runner.calls[2].Args, " ")
	if add != "target add x86_64-unknown-linux-gnu --toolchain stable" {
		t.Fatalf("target add args=%q", add)
	}
}

func TestNativeResolveIsIdempotent(t *testing.T) {
	runner := &fakeRunner{}
	resolver, err := NewNativeResolver(runner, NativeConfig{HostOS: "linux"})
	if err != nil {
		t.Fatalf("NewNativeResolver() err=%v", err)
	}

	first, err := resolver.Resolve(context.Background(), nativeTarget())
	if err != nil {
		t.Fatalf("first Resolve() err=%v", err)
	}
	callsAfterFirst := len(runner.calls)

	second, err := resolver.Resolve(context.Background(), nativeTarget())
	if err != nil {
		t.Fatalf("second Resolve() err=%v", err)
	}
	if len(runner.calls) != callsAfterFirst {
		t.Fatalf("second resolve ran %d extra commands", len(runner.calls)-callsAfterFirst)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("handles differ: %+v vs %+v", first, second)
	}
}

func TestNativeResolveHostMismatch(t *testing.T) {
	resolver, err := NewNativeResolver(&fakeRunner{}, NativeConfig{HostOS: "linux"})
	if err != nil {
		t.Fatalf("NewNativeResolver() err=%v", err)
	}

	target := domain.TargetSpec{
		HostOS:   "macos",
		Triple:   "aarch64-apple-darwin",
		Strategy: domain.StrategyNative,
	}
	_, err = resolver.Resolve(context.Background(), target)
	if !errors.Is(err, ErrHostMismatch) {
		t.Fatalf("err=%v, want ErrHostMismatch", err)
	}
}

func TestNativeResolveInstallerMissing(t *testing.T) {
	runner := &fakeRunner{respond: func(cmd buildexec.Command) (buildexec.Result, error) {
		if len(cmd.Args) == 1 && cmd.Args[0] == "--version" {
			return buildexec.Result{}, errors.New("exec: \"rustup\": executable file not found in $PATH")
		}
		return buildexec.Result{}, nil
	}}
	resolver, err := NewNativeResolver(runner, NativeConfig{HostOS: "linux"})
	if err != nil {
		t.Fatalf("NewNativeResolver() err=%v", err)
	}

	_, err = resolver.Resolve(context.Background(), nativeTarget())
	if !errors.Is(err, ErrInstallerNotFound) {
		t.Fatalf("err=%v, want ErrInstallerNotFound", err)
	}
}

func TestNativeResolveInstallFailure(t *testing.T) {
	runner := &fakeRunner{respond: func(cmd buildexec.Command) (buildexec.Result, error) {
		if len(cmd.Args) > 0 && cmd.Args[0] == "toolchain" {
			return buildexec.Result{ExitCode: 1, Output: "error: could not download component"}, nil
		}
		return buildexec.Result{}, nil
	}}
	resolver, err := NewNativeResolver(runner, NativeConfig{HostOS: "linux"})
	if err != nil {
		t.Fatalf("NewNativeResolver() err=%v", err)
	}

	_, err = resolver.Resolve(context.Background(), nativeTarget())
	if !errors.Is(err, ErrResolveFailed) {
		t.Fatalf("err=%v, want ErrResolveFailed", err)
	}
	if !strings.Contains(err.Error(), "could not download component") {
		t.Fatalf("err=%v, want installer output", err)
	}
}

func TestCrossResolvePullsMissingImage(t *testing.T) {
	runner := &fakeRunner{respond: func(cmd buildexec.Command) (buildexec.Result, error) {
		if len(cmd.Args) > 0 && cmd.Args[0] == "image" {
			return buildexec.Result{ExitCode: 1, Output: "Error: No such image"}, nil
		}
		return buildexec.Result{}, nil
	}}
	resolver, err := NewCrossResolver(runner, CrossConfig{})
	if err != nil {
		t.Fatalf("NewCrossResolver() err=%v", err)
	}

	handle, err := resolver.Resolve(context.Background(), crossTarget())
	if err != nil {
		t.Fatalf("Resolve() err=%v", err)
	}
	if handle.Kind != KindContainer {
		t.Fatalf("Kind=%q, want container", handle.Kind)
	}
	if handle.Image != "ghcr.io/cross-rs/x86_64-unknown-linux-musl:0.2.5" {
		t.Fatalf("Image=%q", handle.Image)
	}

	if len(runner.calls) != 2 {
		t.Fatalf("calls=%d, want inspect+pull", len(runner.calls))
	}
	if runner.calls[1].Args[0] != "pull" {
		t.Fatalf("second call args=%v", runner.calls[1].Args)
	}
}

func TestCrossResolveSkipsPullWhenPresent(t *testing.T) {
	runner := &fakeRunner{}
	resolver, err := NewCrossResolver(runner, CrossConfig{})
	if err != nil {
		t.Fatalf("NewCrossResolver() err=%v", err)
	}

	if _, err := resolver.Resolve(context.Background(), crossTarget()); err != nil {
		t.Fatalf("first Resolve() err=%v", err)
	}
	if len(runner.calls) != 1 {
		t.Fatalf("calls=%d, want inspect only", len(runner.calls))
	}

	if _, err := resolver.Resolve(context.Background(), crossTarget()); err != nil {
		t.Fatalf("second Resolve() err=%v", err)
	}
	if len(runner.calls) != 1 {
		t.Fatalf("second resolve should hit the cache, calls=%d", len(runner.calls))
	}
}

func TestCrossResolvePullFailure(t *testing.T) {
	runner := &fakeRunner{respond: func(cmd buildexec.Command) (buildexec.Result, error) {
		return buildexec.Result{ExitCode: 1, Output: "pull access denied"}, nil
	}}
	resolver, err := NewCrossResolver(runner, CrossConfig{})
	if err != nil {
		t.Fatalf("NewCrossResolver() err=%v", err)
	}

	_, err = resolver.Resolve(context.Background(), crossTarget())
	if !errors.Is(err, ErrResolveFailed) {
		t.Fatalf("err=%v, want ErrResolveFailed", err)
	}
}

func TestSetDispatchesOnStrategy(t *testing.T) {
	native := &fakeRunner{}
	cross := &fakeRunner{}
	nativeResolver, err := NewNativeResolver(native, NativeConfig{HostOS: "linux"})
	if err != nil {
		t.Fatalf("NewNativeResolver() err=%v", err)
	}
	crossResolver, err := NewCrossResolver(cross, CrossConfig{})
	if err != nil {
		t.Fatalf("NewCrossResolver() err=%v", err)
	}
	set := Set{Native: nativeResolver, Cross: crossResolver}

	handle, err := set.Resolve(context.Background(), crossTarget())
	if err != nil {
		t.Fatalf("Resolve(cross) err=%v", err)
	}
	if handle.Kind != KindContainer {
		t.Fatalf("Kind=%q, want container", handle.Kind)
	}
	if len(native.calls) != 0 {
		t.Fatalf("native runner should be untouched")
	}

	handle, err = set.Resolve(context.Background(), nativeTarget())
	if err != nil {
		t.Fatalf("Resolve(native) err=%v", err)
	}
	if handle.Kind != KindHost {
		t.Fatalf("Kind=%q, want host", handle.Kind)
	}

	_, err = set.Resolve(context.Background(), domain.TargetSpec{Strategy: "emulated"})
	if !errors.Is(err, ErrResolveFailed) {
		t.Fatalf("err=%v, want ErrResolveFailed", err)
	}
}
