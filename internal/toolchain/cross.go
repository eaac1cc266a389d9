package toolchain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/slipway-labs/slipway-go/internal/buildexec"
	"github.com/slipway-labs/slipway-go/internal/domain"
)

type CrossConfig struct {
	DockerBin string
}

// CrossResolver ensures the target's build image is present locally,
// pulling it when it is not. The handle points the build runner at the
// image; nothing is installed on the host.
type CrossResolver struct {
	runner buildexec.Runner
	cfg    CrossConfig

	mu      sync.Mutex
	present map[string]struct{}
}

func NewCrossResolver(runner buildexec.Runner, cfg CrossConfig) (*CrossResolver, error) {
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	if strings.TrimSpace(cfg.DockerBin) == "" {
		cfg.DockerBin = "docker"
	}
	return &CrossResolver{
		runner:  runner,
		cfg:     cfg,
		present: make(map[string]struct{}),
	}, nil
}

func (r *CrossResolver) Resolve(ctx context.Context, target domain.TargetSpec) (Handle, error) {
	if target.Strategy != domain.StrategyCross {
		return Handle{}, fmt.Errorf("%w: cross resolver got strategy %q", ErrResolveFailed, target.Strategy)
	}
	image := strings.TrimSpace(target.CrossImage)
	if image == "" {
		return Handle{}, fmt.Errorf("%w: target %s has no build image", ErrResolveFailed, target.Triple)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.present[image]; ok {
		return r.handleFor(target.Triple, image), nil
	}

	res, err := r.runner.Run(ctx, buildexec.Command{
		Bin:  r.cfg.DockerBin,
		Args: []string{"image", "inspect", image},
	})
	if err != nil {
		return Handle{}, fmt.Errorf("%w: inspect %s: %v", ErrResolveFailed, image, err)
	}
	if !res.OK() {
		res, err = r.runner.Run(ctx, buildexec.Command{
			Bin:  r.cfg.DockerBin,
			Args: []string{"pull", image},
		})
		if err != nil {
			return Handle{}, fmt.Errorf("%w: pull %s: %v", ErrResolveFailed, image, err)
		}
		if !res.OK() {
			return Handle{}, fmt.Errorf("%w: pull %s exited %d: %s",
				ErrResolveFailed, image, res.ExitCode, buildexec.Tail(res.Output, installerOutputTail))
		}
	}

	r.present[image] = struct{}{}
	return r.handleFor(target.Triple, image), nil
}

func (r *CrossResolver) handleFor(triple string, image string) Handle {
	return Handle{
		Triple: triple,
		Kind:   KindContainer,
		Image:  image,
	}
}
