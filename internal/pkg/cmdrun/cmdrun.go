// Package cmdrun spawns external tools with a uniform success/failure and
// output-capture contract. Apart from svctoggle's script runner, every
// component that needs to run a tool goes through here so tolerated
// failures and error reporting stay consistent.
package cmdrun

import (
	"bytes"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/flatcar-linux/netboot-agent/internal/pkg/agenterrors"
)

// Options controls a single invocation.
type Options struct {
	// Capture merges stdout and stderr into Result.Output instead of
	// passing them through to the agent's own stdout/stderr.
	Capture bool
	// Tolerate suppresses the ToolFailure error on non-zero exit; the
	// caller inspects Result.ExitCode itself. Used for calls whose failure
	// is expected and handled by the caller (RAID stop, per-interface DHCP,
	// mount of /run).
	Tolerate bool
	// Stdin, if set, is piped to the child's stdin.
	Stdin string
}

// Result is what a completed invocation produced.
type Result struct {
	ExitCode int
	Output   string
}

// Run executes name with args to completion. On a non-zero exit it returns
// *agenterrors.ToolFailure unless opts.Tolerate is set, in which case the
// non-zero Result is returned with a nil error.
func Run(name string, args []string, opts Options) (Result, error) {
	cmd := exec.Command(name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Pdeathsig: syscall.SIGTERM}

	var out bytes.Buffer
	if opts.Capture {
		cmd.Stdout = &out
		cmd.Stderr = &out
	} else {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}
	if opts.Stdin != "" {
		cmd.Stdin = strings.NewReader(opts.Stdin)
	}

	err := cmd.Run()
	result := Result{Output: out.String()}
	if err == nil {
		return result, nil
	}

	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		// Failed to even start (binary missing, permissions, ...); this
		// is never tolerated regardless of opts.Tolerate.
		return result, &agenterrors.ToolFailure{Tool: name, Args: args, ExitCode: -1, Output: err.Error()}
	}
	result.ExitCode = exitErr.ExitCode()

	if opts.Tolerate {
		return result, nil
	}
	return result, &agenterrors.ToolFailure{Tool: name, Args: args, ExitCode: result.ExitCode, Output: result.Output}
}

// RunV is Run with Capture: false — passthrough output, used for the
// handful of calls whose output the operator wants to see live on the
// console.
func RunV(name string, args ...string) error {
	_, err := Run(name, args, Options{})
	return err
}

// Capture is Run with Capture: true, returning just the combined output.
func Capture(name string, args ...string) (string, error) {
	result, err := Run(name, args, Options{Capture: true})
	return result.Output, err
}
