package platform

import (
	"runtime"
	"testing"
)

func TestDetect(t *testing.T) {
	// Reset detection cache for clean test
	detectionDone = false
	detectedPlatform = ""

	p := Detect()
	if p == "" {
		t.Error("Detect() returned empty platform")
	}

	if runtime.GOOS == "darwin" && p != PlatformMacOS {
		t.Errorf("Expected PlatformMacOS on darwin, got %s", p)
	}

	// Detection should be cached
	p2 := Detect()
	if p != p2 {
		t.Errorf("Detect() not cached: got %s then %s", p, p2)
	}
}

func TestPlatformString(t *testing.T) {
	tests := []struct {
		platform Platform
		expected string
	}{
		{PlatformMacOS, "macOS"},
		{PlatformLinux, "Linux"},
		{PlatformWSL1, "WSL1"},
		{PlatformWSL2, "WSL2"},
		{PlatformWindows, "Windows"},
		{PlatformUnknown, "Unknown"},
	}

	for _, tt := range tests {
		if got := tt.platform.String(); got != tt.expected {
			t.Errorf("Platform(%s).String() = %s, want %s", tt.platform, got, tt.expected)
		}
	}
}

func TestIsWSL(t *testing.T) {
	tests := []struct {
		platform Platform
		expected bool
	}{
		{PlatformWSL1, true},
		{PlatformWSL2, true},
		{PlatformLinux, false},
		{PlatformMacOS, false},
	}

	for _, tt := range tests {
		detectedPlatform = tt.platform
		detectionDone = true
		if got := IsWSL(); got != tt.expected {
			t.Errorf("IsWSL() for %s = %v, want %v", tt.platform, got, tt.expected)
		}
	}

	// Restore real detection for other tests
	detectionDone = false
	detectedPlatform = ""
}

func TestCheckFsnotifySupport(t *testing.T) {
	// A temp dir sits on a regular filesystem in CI; non-Linux platforms
	// always return "".
	if msg := CheckFsnotifySupport(t.TempDir()); msg != "" {
		t.Logf("environment-specific warning: %s", msg)
	}
}
