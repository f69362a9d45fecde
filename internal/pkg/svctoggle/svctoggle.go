// Package svctoggle enables and disables target-system services by
// running systemctl inside a chroot of the target root, bind-mounting
// /dev, /proc, /sys from the initramfs first so systemd has what it needs
// to talk to the running kernel.
package svctoggle

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"
)

// strictMode enables http://redsymbol.net/articles/unofficial-bash-strict-mode/
// for the generated chroot script; a failed mount or chroot should abort
// the rest of the script rather than silently skip ahead.
const strictMode = "set -euo pipefail"

// unitNamePattern is a conservative subset of systemd's unit-name
// grammar (valid characters, optionally a known unit-type suffix —
// systemctl itself defaults a bare name to ".service", and the node
// configuration's service lists are bare names, e.g. "sshd"); strict
// enough to reject anything that would break out of the single-quoted
// systemctl argument below.
var unitNamePattern = regexp.MustCompile(`^[A-Za-z0-9:_.\@-]+(\.(service|socket|timer|target|mount|path|device))?$`)

// Apply composes the bind-mount/chroot/systemctl script and runs it.
//
// Enables every service in enable and disables every service in disable —
// two distinct lists, not the same list run through both verbs.
//
// A non-zero exit of the script, or an invalid unit name, is returned as
// an error; the orchestrator logs it as a tolerated failure and proceeds.
func Apply(sysroot string, enable, disable []string) error {
	script, err := render(sysroot, enable, disable)
	if err != nil {
		return err
	}
	return runScript(script)
}

func render(sysroot string, enable, disable []string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "mount --bind /dev  %s/dev\n", sysroot)
	fmt.Fprintf(&b, "mount --bind /proc %s/proc\n", sysroot)
	fmt.Fprintf(&b, "mount --bind /sys  %s/sys\n", sysroot)

	for _, svc := range enable {
		name, err := escapeUnit(svc)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "chroot %s /bin/bash -c 'systemctl enable %s'\n", sysroot, name)
	}
	for _, svc := range disable {
		name, err := escapeUnit(svc)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "chroot %s /bin/bash -c 'systemctl disable %s'\n", sysroot, name)
	}

	fmt.Fprintf(&b, "umount %s/sys\n", sysroot)
	fmt.Fprintf(&b, "umount %s/proc\n", sysroot)
	fmt.Fprintf(&b, "umount %s/dev\n", sysroot)

	return b.String(), nil
}

// escapeUnit validates svc as a systemd unit name. Service names come
// from the node configuration document, a trusted provisioning
// collaborator, but validating before interpolating into a generated
// shell script is free and removes a whole class of script-injection bug.
func escapeUnit(svc string) (string, error) {
	if !unitNamePattern.MatchString(svc) {
		log.WithFields(log.Fields{"service": svc}).Warn("service name is not a valid systemd unit name, rejecting")
		return "", fmt.Errorf("invalid systemd unit name %q", svc)
	}
	return svc, nil
}

// runScript stages script as an unlinked memory-backed temp file and runs
// it under bash strict mode by sourcing /proc/self/fd/3, so the generated
// script never touches disk under the target root and vanishes the moment
// the child process (or this one) exits. Output is gathered into a buffer
// and only surfaced on failure.
func runScript(script string) error {
	f, err := os.CreateTemp("", "netboot-agent-svctoggle")
	if err != nil {
		return fmt.Errorf("staging service-toggle script: %w", err)
	}
	if _, err := io.Copy(f, strings.NewReader(script)); err != nil {
		f.Close()
		return fmt.Errorf("writing service-toggle script: %w", err)
	}
	if err := os.Remove(f.Name()); err != nil {
		f.Close()
		return fmt.Errorf("unlinking service-toggle script: %w", err)
	}
	defer f.Close()

	cmd := exec.Command("/bin/bash", "-c", strictMode+"\n. /proc/self/fd/3\n")
	cmd.SysProcAttr = &syscall.SysProcAttr{Pdeathsig: syscall.SIGTERM}
	cmd.ExtraFiles = []*os.File{f}

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("running service-toggle script: %w\n%s", err, out)
	}
	return nil
}
