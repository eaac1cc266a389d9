// Package buildexec runs external build commands. It is the single boundary
// between the orchestrator's components and the processes they drive: the
// toolchain installer, the test and compile commands, git, and docker. A
// Runner reports the command's exit code and combined output; a non-zero exit
// is a result, not an error. Errors are reserved for failures to run the
// command at all.
package buildexec

import (
	"context"
	"strings"
)

// Command describes one external process invocation.
type Command struct {
	// Dir is the working directory. For container runners it is the host
	// path mounted as the container workdir.
	Dir string
	// Env holds KEY=VALUE pairs appended to the inherited environment.
	Env  []string
	Bin  string
	Args []string
}

// Result carries the observed outcome of a finished command.
type Result struct {
	ExitCode int
	Output   string
}

// OK reports whether the command exited zero.
func (r Result) OK() bool {
	return r.ExitCode == 0
}

type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// Tail returns at most max trailing bytes of output, trimmed, starting at a
// line boundary when one falls inside the window. Failure reasons persisted
// for a job keep the end of the output, which is where build tools report
// what went wrong.
func Tail(output string, max int) string {
	s := strings.TrimSpace(output)
	if max <= 0 || len(s) <= max {
		return s
	}
	s = s[len(s)-max:]
	if idx := strings.IndexByte(s, '\n'); idx >= 0 && idx+1 < len(s) {
		s = s[idx+1:]
	}
	return strings.TrimSpace(s)
}
