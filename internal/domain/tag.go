package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const tagRefPrefix = "refs/tags/"

var releaseTagPattern = regexp.MustCompile(`^v(\d+)\.(\d+)\.(\d+)$`)

// ReleaseTag is a parsed v<major>.<minor>.<patch> version tag. Only tags of
// this exact shape trigger release runs.
type ReleaseTag struct {
	Raw   string
	Major int
	Minor int
	Patch int
}

// ParseReleaseTag parses a version tag, accepting either the bare tag or its
// fully qualified git ref form (refs/tags/v1.2.3).
func ParseReleaseTag(value string) (ReleaseTag, error) {
	trimmed := strings.TrimSpace(value)
	trimmed = strings.TrimPrefix(trimmed, tagRefPrefix)
	match := releaseTagPattern.FindStringSubmatch(trimmed)
	if match == nil {
		return ReleaseTag{}, fmt.Errorf("not a release tag: %q", value)
	}
	major, errMajor := strconv.Atoi(match[1])
	minor, errMinor := strconv.Atoi(match[2])
	patch, errPatch := strconv.Atoi(match[3])
	if errMajor != nil || errMinor != nil || errPatch != nil {
		return ReleaseTag{}, fmt.Errorf("not a release tag: %q", value)
	}
	return ReleaseTag{Raw: trimmed, Major: major, Minor: minor, Patch: patch}, nil
}

// IsReleaseTag reports whether value names a release tag, in bare or ref form.
func IsReleaseTag(value string) bool {
	_, err := ParseReleaseTag(value)
	return err == nil
}
