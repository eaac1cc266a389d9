package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ToolchainStrategy selects how a target obtains a working compiler.
type ToolchainStrategy string

const (
	StrategyNative ToolchainStrategy = "native"
	StrategyCross  ToolchainStrategy = "cross"
)

// NormalizeStrategy maps free-form strategy values to canonical ones.
func NormalizeStrategy(value string) ToolchainStrategy {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(StrategyNative):
		return StrategyNative
	case string(StrategyCross):
		return StrategyCross
	default:
		return ""
	}
}

// TargetSpec describes one entry of the release matrix. Specs are immutable
// once the registry is built; identity is the target triple.
type TargetSpec struct {
	HostOS     string
	Triple     string
	Strategy   ToolchainStrategy
	CrossImage string
}

var knownHostOS = map[string]struct{}{
	"linux":   {},
	"macos":   {},
	"windows": {},
}

func (s TargetSpec) Validate() error {
	host := strings.ToLower(strings.TrimSpace(s.HostOS))
	if host == "" {
		return errors.New("host os is required")
	}
	if _, ok := knownHostOS[host]; !ok {
		return fmt.Errorf("unknown host os %q", s.HostOS)
	}
	if err := ValidateTriple(s.Triple); err != nil {
		return err
	}
	switch NormalizeStrategy(string(s.Strategy)) {
	case StrategyNative:
		if strings.TrimSpace(s.CrossImage) != "" {
			return errors.New("cross image is only valid for cross targets")
		}
	case StrategyCross:
		if strings.TrimSpace(s.CrossImage) == "" {
			return errors.New("cross image is required for cross targets")
		}
	default:
		return fmt.Errorf("unknown toolchain strategy %q", s.Strategy)
	}
	return nil
}

// ValidateTriple checks the arch-vendor-os[-abi] shape of a target triple.
func ValidateTriple(triple string) error {
	trimmed := strings.TrimSpace(triple)
	if trimmed == "" {
		return errors.New("target triple is required")
	}
	if trimmed != strings.ToLower(trimmed) {
		return fmt.Errorf("target triple %q must be lowercase", triple)
	}
	parts := strings.Split(trimmed, "-")
	if len(parts) < 3 || len(parts) > 4 {
		return fmt.Errorf("target triple %q must have 3 or 4 segments", triple)
	}
	for _, part := range parts {
		if part == "" {
			return fmt.Errorf("target triple %q has an empty segment", triple)
		}
	}
	return nil
}

// HostOSForGOOS maps a Go runtime GOOS value to the matrix host OS name, or
// "" when no matrix host runs that platform.
func HostOSForGOOS(goos string) string {
	switch goos {
	case "linux":
		return "linux"
	case "darwin":
		return "macos"
	case "windows":
		return "windows"
	default:
		return ""
	}
}

// TripleOS returns the operating-system segment of a triple, or "" when the
// triple is malformed.
func TripleOS(triple string) string {
	parts := strings.Split(strings.TrimSpace(triple), "-")
	if len(parts) < 3 {
		return ""
	}
	return parts[2]
}

// IsWindowsTriple reports whether the triple targets Windows.
func IsWindowsTriple(triple string) bool {
	return TripleOS(triple) == "windows"
}

// BinaryFileName returns the file name the compiler produces for the binary
// on the triple's platform.
func BinaryFileName(name string, triple string) string {
	if IsWindowsTriple(triple) && !strings.HasSuffix(name, ".exe") {
		return name + ".exe"
	}
	return name
}
