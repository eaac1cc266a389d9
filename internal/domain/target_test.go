package domain

import "testing"

func TestValidateTriple(t *testing.T) {
	valid := []string{
		"x86_64-unknown-linux-gnu",
		"x86_64-unknown-linux-musl",
		"aarch64-apple-darwin",
		"x86_64-pc-windows-msvc",
	}
	for _, triple := range valid {
		if err := ValidateTriple(triple); err != nil {
			t.Fatalf("ValidateTriple(%q) = %v, want nil", triple, err)
		}
	}

	invalid := []string{
		"",
		"x86_64",
		"x86_64-linux",
		"x86_64-unknown-linux-gnu-extra",
		"x86_64--linux-gnu",
		"X86_64-unknown-linux-gnu",
		"-unknown-linux-gnu",
	}
	for _, triple := range invalid {
		if err := ValidateTriple(triple); err == nil {
			t.Fatalf("ValidateTriple(%q) = nil, want error", triple)
		}
	}
}

func TestTargetSpecValidate(t *testing.T) {
	spec := TargetSpec{HostOS: "linux", Triple: "x86_64-unknown-linux-gnu", Strategy: StrategyNative}
	if err := spec.Validate(); err != nil {
		t.Fatalf("native spec: %v", err)
	}

	cross := TargetSpec{
		HostOS:     "linux",
		Triple:     "x86_64-unknown-linux-musl",
		Strategy:   StrategyCross,
		CrossImage: "ghcr.io/cross-rs/x86_64-unknown-linux-musl:0.2.5",
	}
	if err := cross.Validate(); err != nil {
		t.Fatalf("cross spec: %v", err)
	}

	cases := map[string]TargetSpec{
		"missing host":          {Triple: "x86_64-unknown-linux-gnu", Strategy: StrategyNative},
		"unknown host":          {HostOS: "solaris", Triple: "x86_64-unknown-linux-gnu", Strategy: StrategyNative},
		"bad triple":            {HostOS: "linux", Triple: "nope", Strategy: StrategyNative},
		"unknown strategy":      {HostOS: "linux", Triple: "x86_64-unknown-linux-gnu", Strategy: "emulated"},
		"cross without image":   {HostOS: "linux", Triple: "x86_64-unknown-linux-musl", Strategy: StrategyCross},
		"native with image":     {HostOS: "linux", Triple: "x86_64-unknown-linux-gnu", Strategy: StrategyNative, CrossImage: "img"},
		"missing strategy only": {HostOS: "linux", Triple: "x86_64-unknown-linux-gnu"},
	}
	for name, bad := range cases {
		if err := bad.Validate(); err == nil {
			t.Fatalf("%s: Validate() = nil, want error", name)
		}
	}
}

func TestIsWindowsTriple(t *testing.T) {
	if !IsWindowsTriple("x86_64-pc-windows-msvc") {
		t.Fatalf("msvc triple should be windows")
	}
	if IsWindowsTriple("x86_64-unknown-linux-gnu") {
		t.Fatalf("linux triple should not be windows")
	}
	if IsWindowsTriple("x86_64-apple-darwin") {
		t.Fatalf("darwin triple should not be windows")
	}
}
