// Package earlyboot performs the early-userspace bring-up normally left to
// a dedicated initramfs helper: mounting /proc and /sys, loading
// storage/network kernel modules, populating /dev, and bringing up a DHCP
// lease. It gives the orchestrator a real INIT state to drive instead of
// assuming this already happened.
package earlyboot

import (
	"os"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/flatcar-linux/netboot-agent/internal/pkg/cmdrun"
)

// modules is the fixed list probed at boot, covering the storage and
// network controllers the provisioning fleet actually uses.
var modules = []string{
	"usbhid", "ehci-hcd", "xhci-hcd",
	"virtio", "virtio_pci", "virtio_blk", "virtio_net", "virtio_scsi", "virtio_ring",
	"mlx5_core", "mlx5_en", "mlx5_ib", "mlx5_eswitch",
	"nvme", "nvme_core", "nvme_pci",
}

// dhcpTimeout bounds the DHCP attempt on a single interface.
const dhcpTimeout = 10 * time.Second

// MountPseudoFilesystems mounts /proc and /sys. Failure here is
// EarlyBringupFailure — logged, not fatal unless it prevents a later step.
func MountPseudoFilesystems() error {
	if _, err := cmdrun.Run("mount", []string{"-t", "proc", "none", "/proc"}, cmdrun.Options{Capture: true}); err != nil {
		log.WithFields(log.Fields{"err": err}).Warn("failed to mount /proc")
	}
	if _, err := cmdrun.Run("mount", []string{"-t", "sysfs", "none", "/sys"}, cmdrun.Options{Capture: true}); err != nil {
		log.WithFields(log.Fields{"err": err}).Warn("failed to mount /sys")
		return err
	}
	return nil
}

// LoadKernelModules probes the fixed module list with modprobe, tolerating
// failure per module (a module not built into a given kernel is routine).
func LoadKernelModules() {
	for _, mod := range modules {
		if _, err := cmdrun.Run("modprobe", []string{mod}, cmdrun.Options{Capture: true, Tolerate: true}); err != nil {
			log.WithFields(log.Fields{"module": mod, "err": err}).Warn("module not found or failed to load")
		}
	}
}

// PopulateDevNodes mounts devtmpfs and runs mdev to populate /dev.
func PopulateDevNodes() {
	if _, err := cmdrun.Run("mount", []string{"-t", "devtmpfs", "devtmpfs", "/dev"}, cmdrun.Options{Capture: true, Tolerate: true}); err != nil {
		log.WithFields(log.Fields{"err": err}).Warn("failed to mount /dev")
	}
	if _, err := cmdrun.Run("mdev", []string{"-s"}, cmdrun.Options{Capture: true, Tolerate: true}); err != nil {
		log.WithFields(log.Fields{"err": err}).Warn("mdev -s failed")
	}
}

// ConfigureNetwork brings each non-loopback interface up and attempts a
// bounded DHCP lease, stopping at the first interface that succeeds.
// Returns false if no interface obtained a lease.
func ConfigureNetwork() bool {
	entries, err := os.ReadDir("/sys/class/net")
	if err != nil {
		log.WithFields(log.Fields{"err": err}).Warn("failed to enumerate network interfaces")
		return false
	}

	for _, entry := range entries {
		name := entry.Name()
		if name == "lo" || name == "" {
			continue
		}

		log.WithFields(log.Fields{"interface": name}).Info("bringing interface up")
		if res, err := cmdrun.Run("ip", []string{"link", "set", "dev", name, "up"}, cmdrun.Options{Capture: true, Tolerate: true}); err != nil || res.ExitCode != 0 {
			log.WithFields(log.Fields{"interface": name, "err": err}).Warn("failed to bring interface up")
			continue
		}

		log.WithFields(log.Fields{"interface": name, "timeout": dhcpTimeout}).Info("attempting dhcp lease")
		timeoutSecs := strconv.Itoa(int(dhcpTimeout.Seconds()))
		res, err := cmdrun.Run("timeout", []string{timeoutSecs, "dhclient", "-v", name}, cmdrun.Options{Capture: true, Tolerate: true})
		if err == nil && res.ExitCode == 0 {
			log.WithFields(log.Fields{"interface": name}).Info("dhcp lease obtained")
			return true
		}

		log.WithFields(log.Fields{"interface": name}).Warn("dhcp failed, bringing interface down")
		cmdrun.Run("ip", []string{"link", "set", "dev", name, "down"}, cmdrun.Options{Capture: true, Tolerate: true})
	}

	return false
}

// FinalizeEarlyBoot remounts /run as a hardened tmpfs and tightens the
// process umask, mirroring the source's final_setup step.
func FinalizeEarlyBoot() {
	if _, err := cmdrun.Run("mount", []string{"-t", "tmpfs", "tmpfs", "/run", "-o", "mode=0755,nodev,nosuid"}, cmdrun.Options{Capture: true, Tolerate: true}); err != nil {
		log.WithFields(log.Fields{"err": err}).Warn("failed to mount /run as tmpfs")
	}
	os.Umask(0o077)
}
