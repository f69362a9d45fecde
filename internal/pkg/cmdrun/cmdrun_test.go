package cmdrun

import (
	"testing"

	"github.com/flatcar-linux/netboot-agent/internal/pkg/agenterrors"
)

func TestRunSuccess(t *testing.T) {
	result, err := Run("true", nil, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ExitCode != 0 {
		t.Fatalf("expected exit 0, got %d", result.ExitCode)
	}
}

func TestRunFailureIsToolFailure(t *testing.T) {
	_, err := Run("false", nil, Options{})
	if err == nil {
		t.Fatal("expected error from false")
	}
	var toolErr *agenterrors.ToolFailure
	if _, ok := err.(*agenterrors.ToolFailure); !ok {
		t.Fatalf("expected *agenterrors.ToolFailure, got %T", err)
	}
	toolErr = err.(*agenterrors.ToolFailure)
	if toolErr.ExitCode != 1 {
		t.Fatalf("expected exit code 1, got %d", toolErr.ExitCode)
	}
}

func TestRunTolerated(t *testing.T) {
	result, err := Run("false", nil, Options{Tolerate: true})
	if err != nil {
		t.Fatalf("tolerated failure should not return an error: %v", err)
	}
	if result.ExitCode != 1 {
		t.Fatalf("expected exit code 1, got %d", result.ExitCode)
	}
}

func TestCapture(t *testing.T) {
	out, err := Capture("echo", "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "hello\n" {
		t.Fatalf("unexpected output: %q", out)
	}
}
