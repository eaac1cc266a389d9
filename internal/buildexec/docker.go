package buildexec

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

const containerWorkdir = "/work"

// DockerRunner executes commands inside a containerized build environment.
// The command's Dir is bind-mounted as the container workdir so the build
// reads and writes the same worktree the host-side steps use.
type DockerRunner struct {
	dockerBin string
	image     string
}

func NewDockerRunner(dockerBin, image string) (*DockerRunner, error) {
	dockerBin = strings.TrimSpace(dockerBin)
	if dockerBin == "" {
		dockerBin = "docker"
	}
	if _, err := exec.LookPath(dockerBin); err != nil {
		return nil, fmt.Errorf("docker binary not found: %w", err)
	}
	image = strings.TrimSpace(image)
	if image == "" {
		return nil, errors.New("image is required")
	}
	return &DockerRunner{dockerBin: dockerBin, image: image}, nil
}

func (r *DockerRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	if r == nil {
		return Result{}, errors.New("docker runner is nil")
	}
	if strings.TrimSpace(cmd.Bin) == "" {
		return Result{}, errors.New("command binary is required")
	}
	if strings.TrimSpace(cmd.Dir) == "" {
		return Result{}, errors.New("working directory is required")
	}

	c := exec.CommandContext(ctx, r.dockerBin, dockerRunArgs(r.image, cmd)...)
	out, err := c.CombinedOutput()
	result := Result{Output: string(out)}
	if err != nil {
		if ctx.Err() != nil {
			return result, fmt.Errorf("docker run: %w", ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("docker run: %w", err)
	}
	return result, nil
}

func dockerRunArgs(image string, cmd Command) []string {
	args := []string{
		"run",
		"--rm",
		"--volume", cmd.Dir + ":" + containerWorkdir,
		"--workdir", containerWorkdir,
	}
	if uid := os.Getuid(); uid >= 0 {
		args = append(args, "--user", fmt.Sprintf("%d:%d", uid, os.Getgid()))
	}
	for _, kv := range cmd.Env {
		if strings.TrimSpace(kv) == "" {
			continue
		}
		args = append(args, "--env", kv)
	}
	args = append(args, image, cmd.Bin)
	args = append(args, cmd.Args...)
	return args
}
