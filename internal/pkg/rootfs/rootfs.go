// Package rootfs pulls the root filesystem image into the target root
// mount with bounded retry, confirmed by a marker file.
package rootfs

import (
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/flatcar-linux/netboot-agent/internal/pkg/agenterrors"
	"github.com/flatcar-linux/netboot-agent/internal/pkg/cmdrun"
)

// InstalledMarker is the durable marker asserting the rootfs has been
// populated at least once.
const InstalledMarker = ".filesystem_installed_marker"

// DefaultMaxRetries and DefaultDelay are the default retry bounds.
const (
	DefaultMaxRetries = 5
	DefaultDelay      = 10 * time.Second
)

// Sync invokes the file-sync tool to pull source into destination
// (the target root), making up to maxRetries attempts in total with delay
// between attempts. On first success it (re)creates InstalledMarker under
// destination.
func Sync(source, destination string, maxRetries int, delay time.Duration) error {
	args := []string{"-azP", "--info=progress2,name0", "--no-inc-recursive", source, destination}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		log.WithFields(log.Fields{"attempt": attempt, "max": maxRetries, "source": source}).Info("syncing root filesystem")
		_, err := cmdrun.Run("rsync", args, cmdrun.Options{Capture: true})
		if err == nil {
			return touchMarker(destination)
		}
		lastErr = err
		log.WithFields(log.Fields{"attempt": attempt, "err": err}).Warn("rootfs sync attempt failed")
		if attempt < maxRetries {
			time.Sleep(delay)
		}
	}

	return &agenterrors.RootfsSyncFailed{Source: source, Destination: destination, Attempts: maxRetries, Cause: lastErr}
}

func touchMarker(destination string) error {
	path := filepath.Join(destination, InstalledMarker)
	return os.WriteFile(path, []byte("rootfs sync completed\n"), 0644)
}

// Installed reports whether destination already carries InstalledMarker.
func Installed(destination string) bool {
	_, err := os.Stat(filepath.Join(destination, InstalledMarker))
	return err == nil
}
