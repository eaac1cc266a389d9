// Package checkout materializes repository sources for a release run. Each
// build job gets its own clone so that nothing one target writes into the
// source tree can leak into another target's build.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/slipway-labs/slipway-go/internal/buildexec"
)

var ErrCheckoutFailed = errors.New("checkout_failed")

const outputTailBytes = 2048

type Config struct {
	GitBin  string
	RepoURL string
	Depth   int
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.RepoURL) == "" {
		return errors.New("repo URL is required")
	}
	return nil
}

type Checkout struct {
	runner buildexec.Runner
	cfg    Config
}

func New(runner buildexec.Runner, cfg Config) (*Checkout, error) {
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.GitBin) == "" {
		cfg.GitBin = "git"
	}
	if cfg.Depth <= 0 {
		cfg.Depth = 1
	}
	return &Checkout{runner: runner, cfg: cfg}, nil
}

// Fetch clones the repository at tag into dir and returns the commit the tag
// resolves to. The clone is shallow; release builds never need history.
func (c *Checkout) Fetch(ctx context.Context, tag string, dir string) (string, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return "", fmt.Errorf("%w: tag is required", ErrCheckoutFailed)
	}
	if strings.TrimSpace(dir) == "" {
		return "", fmt.Errorf("%w: destination dir is required", ErrCheckoutFailed)
	}

	res, err := c.runner.Run(ctx, buildexec.Command{
		Bin: c.cfg.GitBin,
		Args: []string{
			"clone",
			"--depth", fmt.Sprintf("%d", c.cfg.Depth),
			"--branch", tag,
			"--single-branch",
			c.cfg.RepoURL,
			dir,
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCheckoutFailed, err)
	}
	if !res.OK() {
		return "", fmt.Errorf("%w: git clone exited %d: %s", ErrCheckoutFailed, res.ExitCode, buildexec.Tail(res.Output, outputTailBytes))
	}

	res, err = c.runner.Run(ctx, buildexec.Command{
		Dir:  dir,
		Bin:  c.cfg.GitBin,
		Args: []string{"rev-parse", "HEAD"},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCheckoutFailed, err)
	}
	if !res.OK() {
		return "", fmt.Errorf("%w: git rev-parse exited %d: %s", ErrCheckoutFailed, res.ExitCode, buildexec.Tail(res.Output, outputTailBytes))
	}

	commit := strings.TrimSpace(res.Output)
	if commit == "" {
		return "", fmt.Errorf("%w: could not resolve HEAD commit", ErrCheckoutFailed)
	}
	return commit, nil
}
