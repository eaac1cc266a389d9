package domain

import "testing"

func TestParseReleaseTag(t *testing.T) {
	tag, err := ParseReleaseTag("v1.2.3")
	if err != nil {
		t.Fatalf("ParseReleaseTag(v1.2.3): %v", err)
	}
	if tag.Raw != "v1.2.3" || tag.Major != 1 || tag.Minor != 2 || tag.Patch != 3 {
		t.Fatalf("ParseReleaseTag(v1.2.3) = %+v", tag)
	}

	tag, err = ParseReleaseTag("refs/tags/v10.0.42")
	if err != nil {
		t.Fatalf("ParseReleaseTag(refs/tags/v10.0.42): %v", err)
	}
	if tag.Raw != "v10.0.42" || tag.Major != 10 || tag.Minor != 0 || tag.Patch != 42 {
		t.Fatalf("ParseReleaseTag(refs/tags/v10.0.42) = %+v", tag)
	}

	rejected := []string{
		"",
		"main",
		"refs/heads/main",
		"v1.2",
		"v1.2.3.4",
		"V1.2.3",
		"v1.2.3-rc1",
		"1.2.3",
		"refs/tags/release-1",
	}
	for _, value := range rejected {
		if IsReleaseTag(value) {
			t.Fatalf("IsReleaseTag(%q) = true, want false", value)
		}
	}
}
