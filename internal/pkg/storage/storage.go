// Package storage probes block devices for presence and filesystem type.
package storage

import (
	"os"
	"strings"

	"github.com/flatcar-linux/netboot-agent/internal/pkg/cmdrun"
)

// DevicePresent reports whether path exists as a block device node.
func DevicePresent(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeDevice != 0 && info.Mode()&os.ModeCharDevice == 0
}

// FilesystemType invokes blkid requesting the TYPE attribute. Absence of a
// filesystem is not an error: it returns ("", nil).
func FilesystemType(device string) (string, error) {
	result, err := cmdrun.Run("blkid", []string{"-o", "export", "-s", "TYPE", device}, cmdrun.Options{Capture: true, Tolerate: true})
	if err != nil {
		return "", err
	}
	if result.ExitCode != 0 {
		// blkid exits non-zero when the device has no recognized
		// filesystem or does not exist; that is the expected "absent"
		// case, not a tool failure.
		return "", nil
	}

	for _, line := range strings.Split(result.Output, "\n") {
		if rest, ok := strings.CutPrefix(line, "TYPE="); ok {
			return strings.Trim(rest, "\""), nil
		}
	}
	return "", nil
}
