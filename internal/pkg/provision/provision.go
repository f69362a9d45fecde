// Package provision invokes the external partitioner, which consumes the
// ignition declaration copied to a fixed location it reads from.
package provision

import (
	"fmt"
	"io"
	"os"

	"github.com/flatcar-linux/netboot-agent/internal/pkg/agenterrors"
	"github.com/flatcar-linux/netboot-agent/internal/pkg/cmdrun"
)

// RunDir is where the partitioner expects its copy of the ignition file.
const RunDir = "/run"

// IgnitionCopyPath is the fixed location the partitioner reads from.
const IgnitionCopyPath = RunDir + "/ignition.json"

// Run ensures /run exists, copies the ignition file there, and invokes the
// partitioner for the disks stage.
func Run(ignitionPath string) error {
	if err := os.MkdirAll(RunDir, 0755); err != nil {
		return &agenterrors.ProvisioningFailed{Stage: "mkdir /run", Cause: err}
	}

	if err := copyFile(ignitionPath, IgnitionCopyPath); err != nil {
		return &agenterrors.ProvisioningFailed{Stage: "copy ignition to /run", Cause: err}
	}

	if _, err := cmdrun.Run("ignition", []string{"-platform", "file", "-stage", "disks"}, cmdrun.Options{Capture: true}); err != nil {
		return &agenterrors.ProvisioningFailed{Stage: "disks", Cause: err}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	return out.Close()
}
