package orchestrator

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNeedsHandoffRegenerationMissingMarker(t *testing.T) {
	dir := t.TempDir()
	if !needsHandoffRegeneration(filepath.Join(dir, "absent"), time.Now().Unix()) {
		t.Fatal("expected regeneration when the marker is absent")
	}
}

func TestNeedsHandoffRegenerationStaleMarker(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "marker")
	if err := os.WriteFile(marker, []byte("script"), 0755); err != nil {
		t.Fatalf("write marker: %v", err)
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(marker, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	if !needsHandoffRegeneration(marker, time.Now().Unix()) {
		t.Fatal("expected regeneration when the marker predates the config timestamp")
	}
}

func TestNeedsHandoffRegenerationFreshMarker(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "marker")
	if err := os.WriteFile(marker, []byte("script"), 0755); err != nil {
		t.Fatalf("write marker: %v", err)
	}
	recent := time.Now()
	if err := os.Chtimes(marker, recent, recent); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	if needsHandoffRegeneration(marker, recent.Add(-time.Hour).Unix()) {
		t.Fatal("did not expect regeneration when the marker postdates the config timestamp")
	}
}

// TestRunDropsToEmergencyOnConfigFailure exercises the CONFIG state's
// failure path end to end: a node configuration server port the kernel
// command line never supplies is a malformed-config failure the real
// agent also can't recover from, and must land in EMERGENCY rather than
// exit.
func TestRunDropsToEmergencyOnConfigFailure(t *testing.T) {
	var exec string
	execProcess = func(argv0 string, argv []string, envv []string) error {
		exec = argv0
		return nil
	}
	defer func() { execProcess = origExecProcess }()

	Run(Config{SkipEarlyBoot: true})

	if exec != "/bin/bash" {
		t.Fatalf("expected Run to fall back to the emergency shell, got exec of %q", exec)
	}
}

var origExecProcess = execProcess
