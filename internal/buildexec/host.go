package buildexec

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// HostRunner executes commands directly on the conductor host.
type HostRunner struct{}

func NewHostRunner() *HostRunner {
	return &HostRunner{}
}

func (r *HostRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	if strings.TrimSpace(cmd.Bin) == "" {
		return Result{}, errors.New("command binary is required")
	}

	c := exec.CommandContext(ctx, cmd.Bin, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}

	out, err := c.CombinedOutput()
	result := Result{Output: string(out)}
	if err != nil {
		if ctx.Err() != nil {
			return result, fmt.Errorf("run %s: %w", cmd.Bin, ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("run %s: %w", cmd.Bin, err)
	}
	return result, nil
}
