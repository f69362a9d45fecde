// Command netboot-agent is PID 1 of the provisioning initramfs: it drives
// a freshly booted, disk-less machine through configuration discovery,
// storage provisioning, and rootfs sync, then hands the kernel off to the
// fully provisioned on-disk operating system via kexec.
package main

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/flatcar-linux/netboot-agent/internal/pkg/orchestrator"
)

var version = "devel"

var (
	ignitionPath  string
	sysroot       string
	scratchDir    string
	rootfsSource  string
	skipEarlyBoot bool
	logLevel      string

	cmdRoot = &cobra.Command{
		Use:   "netboot-agent",
		Short: "Network-boot provisioning agent",
		Long: `netboot-agent takes a machine from a minimal network-booted kernel
environment to a fully provisioned, kexec'd-into on-disk operating system.`,
		Run: run,
	}

	cmdVersion = &cobra.Command{
		Use:   "version",
		Short: "Print the version number and exit.",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("netboot-agent version %s\n", version)
		},
	}
)

func init() {
	defaults := orchestrator.DefaultConfig()

	cmdRoot.PersistentFlags().StringVar(&ignitionPath, "ignition", defaults.IgnitionPath, "path to the ignition-style disk declaration")
	cmdRoot.PersistentFlags().StringVar(&sysroot, "sysroot", defaults.Sysroot, "mountpoint for the target root filesystem")
	cmdRoot.PersistentFlags().StringVar(&scratchDir, "scratch-dir", defaults.ScratchDir, "writable initramfs directory for the staged kernel/initrd/handoff script")
	cmdRoot.PersistentFlags().StringVar(&rootfsSource, "rootfs-source", defaults.DefaultRootfsSource, "rsync source URI for the root filesystem image")
	cmdRoot.PersistentFlags().BoolVar(&skipEarlyBoot, "skip-early-boot", false, "skip mounting /proc,/sys,/dev and DHCP bring-up (assumes a collaborator already did it)")
	cmdRoot.PersistentFlags().StringVar(&logLevel, "log-level", "info", "logrus level: debug, info, warn, error")

	cmdRoot.AddCommand(cmdVersion)
}

func main() {
	if err := cmdRoot.Execute(); err != nil {
		log.WithField("err", err).Fatal("netboot-agent failed to start")
	}
}

func run(cmd *cobra.Command, args []string) {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		log.WithField("level", logLevel).Warn("unrecognized log level, defaulting to info")
		level = log.InfoLevel
	}
	log.SetLevel(level)
	log.SetOutput(os.Stdout)

	log.Infof("netboot-agent %s starting", version)

	cfg := orchestrator.Config{
		IgnitionPath:        ignitionPath,
		Sysroot:             sysroot,
		ScratchDir:          scratchDir,
		DefaultRootfsSource: rootfsSource,
		SkipEarlyBoot:       skipEarlyBoot,
	}

	// Run never returns on the success path — it execs the handoff
	// script or, on failure, an emergency shell. Returning at all means
	// even the emergency exec failed; there is nothing left to do but
	// exit non-zero so a supervising process (or the kernel panic-on-
	// PID-1-exit behavior) takes over.
	orchestrator.Run(cfg)
	os.Exit(1)
}
