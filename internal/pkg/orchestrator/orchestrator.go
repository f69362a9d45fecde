// Package orchestrator implements the boot-provisioning state machine:
// the decision tree that takes a freshly booted machine from a minimal
// kernel environment to kexec-handoff into its fully provisioned on-disk
// operating system.
//
// The agent is strictly single-threaded and sequential: every step here
// runs in program order, because each one depends on the previous one's
// side effects on kernel state.
package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/flatcar-linux/netboot-agent/internal/pkg/cmdline"
	"github.com/flatcar-linux/netboot-agent/internal/pkg/cmdrun"
	"github.com/flatcar-linux/netboot-agent/internal/pkg/earlyboot"
	"github.com/flatcar-linux/netboot-agent/internal/pkg/handoff"
	"github.com/flatcar-linux/netboot-agent/internal/pkg/hostid"
	"github.com/flatcar-linux/netboot-agent/internal/pkg/ignition"
	"github.com/flatcar-linux/netboot-agent/internal/pkg/netconfig"
	"github.com/flatcar-linux/netboot-agent/internal/pkg/nodeconfig"
	"github.com/flatcar-linux/netboot-agent/internal/pkg/personalize"
	"github.com/flatcar-linux/netboot-agent/internal/pkg/provision"
	"github.com/flatcar-linux/netboot-agent/internal/pkg/raid"
	"github.com/flatcar-linux/netboot-agent/internal/pkg/rootfs"
	"github.com/flatcar-linux/netboot-agent/internal/pkg/storage"
	"github.com/flatcar-linux/netboot-agent/internal/pkg/svctoggle"
)

// Config is the set of paths the orchestrator operates over: cobra flags
// on cmd/netboot-agent (see DESIGN.md) so the state machine is testable
// outside a real initramfs.
type Config struct {
	IgnitionPath string
	Sysroot      string
	ScratchDir   string

	// DefaultRootfsSource is the rsync source every sync pulls from.
	// NodeConfiguration carries no field for this, so it comes from the
	// agent's own configuration rather than being fetched per node.
	DefaultRootfsSource string

	// SkipEarlyBoot lets callers (tests, or a caller that already ran
	// early bring-up via some other collaborator) skip the INIT sub-phase.
	SkipEarlyBoot bool
}

// DefaultConfig returns the agent's fixed default paths.
func DefaultConfig() Config {
	return Config{
		IgnitionPath:        ignition.DefaultPath,
		Sysroot:             "/sysroot",
		ScratchDir:          "/tmp",
		DefaultRootfsSource: "rsync://rootfs.internal/images/default/*",
	}
}

// execProcess is syscall.Exec, indirected so tests can observe an
// EMERGENCY/handoff decision without actually replacing the test
// process's image.
var execProcess = syscall.Exec

// Run drives the full state machine. On success it never returns: it
// replaces the process image with the handoff script. On any fatal error
// it replaces the process image with an interactive shell (EMERGENCY) and
// only returns if that exec itself fails.
func Run(cfg Config) {
	bootID := uuid.New().String()
	logger := log.WithField("boot_id", bootID)

	if err := runStates(cfg, logger); err != nil {
		logger.WithField("err", err).Error("unrecoverable failure, dropping to emergency shell")
		emergency(logger)
		return
	}
}

func emergency(logger *log.Entry) {
	if err := execProcess("/bin/bash", []string{"bash"}, os.Environ()); err != nil {
		logger.WithField("err", err).Error("failed to exec emergency shell")
	}
}

// runStates implements the state machine's transitions, returning the
// first fatal error, or nil after EXEC is about to be entered (at which
// point execProcess either replaces the process, or the caller gets an
// error via the one case where exec itself returns).
func runStates(cfg Config, logger *log.Entry) error {
	// --- INIT ---
	if !cfg.SkipEarlyBoot {
		logger.Info("state=INIT")
		if err := earlyboot.MountPseudoFilesystems(); err != nil {
			logger.WithField("err", err).Warn("early filesystem bring-up failed, continuing")
		}
		earlyboot.LoadKernelModules()
		earlyboot.PopulateDevNodes()
		if !earlyboot.ConfigureNetwork() {
			return fmt.Errorf("no network: no interface obtained a dhcp lease")
		}
		earlyboot.FinalizeEarlyBoot()
	}

	// --- CONFIG ---
	logger.Info("state=CONFIG")
	args, err := cmdline.Read()
	if err != nil {
		return fmt.Errorf("reading kernel command line: %w", err)
	}
	server := args["nodeconfigserver"]
	port, err := strconv.Atoi(args["nodeconfigserverport"])
	if err != nil {
		return fmt.Errorf("nodeconfigserverport is not a valid integer: %w", err)
	}

	identity, err := hostid.Discover(server, port)
	if err != nil {
		return fmt.Errorf("discovering host identity: %w", err)
	}
	logger = logger.WithField("mac", identity.MAC)

	nodeCfg, err := nodeconfig.Fetch(server, port, identity.MAC)
	if err != nil {
		return fmt.Errorf("fetching node configuration: %w", err)
	}

	decl, err := ignition.Read(cfg.IgnitionPath)
	if err != nil {
		return fmt.Errorf("reading ignition declaration: %w", err)
	}
	root, err := decl.RootFilesystem()
	if err != nil {
		return fmt.Errorf("locating root filesystem: %w", err)
	}

	// --- ROOT ---
	logger.Info("state=ROOT")
	if _, err := raid.Assemble(decl, root); err != nil {
		return fmt.Errorf("assembling raid: %w", err)
	}

	if !storage.DevicePresent(root.Device) {
		if err := provisionStorage(cfg); err != nil {
			return err
		}
	} else if fsType, err := storage.FilesystemType(root.Device); err != nil || fsType == "" {
		if err := provisionStorage(cfg); err != nil {
			return err
		}
	}

	if _, err := cmdrun.Run("mount", []string{"-t", root.Format, root.Device, cfg.Sysroot}, cmdrun.Options{Capture: true}); err != nil {
		return fmt.Errorf("mounting %s at %s: %w", root.Device, cfg.Sysroot, err)
	}

	// --- SYNC ---
	logger.Info("state=SYNC")
	if !rootfs.Installed(cfg.Sysroot) || nodeCfg.ForceResync() {
		if err := rootfs.Sync(cfg.DefaultRootfsSource, cfg.Sysroot, rootfs.DefaultMaxRetries, rootfs.DefaultDelay); err != nil {
			return fmt.Errorf("syncing root filesystem: %w", err)
		}
	}

	// --- HANDOFF ---
	logger.Info("state=HANDOFF")
	markerPath := filepath.Join(cfg.Sysroot, handoff.Marker)
	if needsHandoffRegeneration(markerPath, nodeCfg.ConfigTimestamp) {
		if err := regenerateHandoff(cfg, markerPath, nodeCfg, root); err != nil {
			return err
		}
	}

	// --- PERSONALIZE ---
	logger.Info("state=PERSONALIZE")
	if err := personalize.Apply(cfg.Sysroot, nodeCfg.Name, nodeCfg.DNSServers, nodeCfg.SSHKey); err != nil {
		return fmt.Errorf("personalizing target root: %w", err)
	}

	if err := applyNetworkConfig(cfg, nodeCfg); err != nil {
		return fmt.Errorf("generating network config: %w", err)
	}

	scratchKernel := filepath.Join(cfg.ScratchDir, "vmlinuz")
	scratchInitrd := filepath.Join(cfg.ScratchDir, "initrd.img")
	scratchHandoff := filepath.Join(cfg.ScratchDir, "kexec.sh")
	if err := copyFile(filepath.Join(cfg.Sysroot, nodeCfg.Kernel), scratchKernel); err != nil {
		return fmt.Errorf("copying kernel to scratch: %w", err)
	}
	if err := copyFile(filepath.Join(cfg.Sysroot, nodeCfg.Initrd), scratchInitrd); err != nil {
		return fmt.Errorf("copying initrd to scratch: %w", err)
	}
	if err := copyFile(markerPath, scratchHandoff); err != nil {
		return fmt.Errorf("copying handoff script to scratch: %w", err)
	}
	if err := os.Chmod(scratchHandoff, 0700); err != nil {
		return fmt.Errorf("chmod handoff script: %w", err)
	}

	if err := svctoggle.Apply(cfg.Sysroot, nodeCfg.Systemd.Enable, nodeCfg.Systemd.Disable); err != nil {
		logger.WithField("err", err).Warn("service toggler failed, handoff may not boot cleanly")
	}

	if _, err := cmdrun.Run("sync", nil, cmdrun.Options{Capture: true, Tolerate: true}); err != nil {
		logger.WithField("err", err).Warn("sync failed")
	}
	if _, err := cmdrun.Run("umount", []string{cfg.Sysroot}, cmdrun.Options{Capture: true, Tolerate: true}); err != nil {
		logger.WithField("err", err).Warn("failed to unmount sysroot")
	}

	// --- EXEC ---
	logger.Info("state=EXEC")
	if err := execProcess(scratchHandoff, []string{scratchHandoff}, os.Environ()); err != nil {
		return fmt.Errorf("exec handoff script: %w", err)
	}
	return nil
}

func provisionStorage(cfg Config) error {
	if err := provision.Run(cfg.IgnitionPath); err != nil {
		return fmt.Errorf("provisioning storage: %w", err)
	}
	return nil
}

// needsHandoffRegeneration is the HANDOFF state's guard: regenerate if
// the marker is absent, or its mtime is older than the node
// configuration's timestamp.
func needsHandoffRegeneration(markerPath string, configTimestamp int64) bool {
	info, err := os.Stat(markerPath)
	if err != nil {
		return true
	}
	return info.ModTime().Before(time.Unix(configTimestamp, 0))
}

func regenerateHandoff(cfg Config, markerPath string, nodeCfg *nodeconfig.Config, root ignition.Filesystem) error {
	appendLine, err := handoff.BuildCmdline(nodeCfg.KernelArguments, root)
	if err != nil {
		return fmt.Errorf("building handoff cmdline: %w", err)
	}
	kernelPath := filepath.Join(cfg.ScratchDir, "vmlinuz")
	initrdPath := filepath.Join(cfg.ScratchDir, "initrd.img")
	if err := handoff.Write(markerPath, kernelPath, initrdPath, appendLine); err != nil {
		return fmt.Errorf("writing handoff script: %w", err)
	}
	return nil
}

func applyNetworkConfig(cfg Config, nodeCfg *nodeconfig.Config) error {
	if err := netconfig.PurgeYAML(filepath.Join(cfg.Sysroot, netconfig.YAMLDir)); err != nil {
		return fmt.Errorf("purging stale yaml network config: %w", err)
	}

	if nodeCfg.IsDGX() {
		configs := netconfig.GenerateIfupdown(nodeCfg.Interfaces)
		return netconfig.WriteIfupdown(filepath.Join(cfg.Sysroot, netconfig.IfupdownDir), configs)
	}

	yamlDoc, err := netconfig.GenerateYAML(nodeCfg.Interfaces)
	if err != nil {
		return err
	}
	return netconfig.WriteYAML(filepath.Join(cfg.Sysroot, netconfig.YAMLDir), yamlDoc)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := out.ReadFrom(in); err != nil {
		return err
	}
	return out.Close()
}
