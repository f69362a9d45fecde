// Package raid stops pre-existing arrays and assembles the array declared
// for the root filesystem.
package raid

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/flatcar-linux/netboot-agent/internal/pkg/agenterrors"
	"github.com/flatcar-linux/netboot-agent/internal/pkg/cmdrun"
	"github.com/flatcar-linux/netboot-agent/internal/pkg/ignition"
)

// ProcMdstatPath is where the kernel reports active RAID arrays.
const ProcMdstatPath = "/proc/mdstat"

// Assemble stops any currently active arrays (tolerated failure — the
// array may not exist yet) and then assembles root's declared array from
// its component devices. It is a no-op returning (false, nil) if root's
// device does not name a RAID device.
func Assemble(decl *ignition.Declaration, root ignition.Filesystem) (bool, error) {
	if !ignition.IsRaidDevice(root.Device) {
		return false, nil
	}

	raidEntry, ok := decl.RaidFor(root.Device)
	if !ok {
		return false, fmt.Errorf("root device %s names a raid device but no matching raid entry was declared", root.Device)
	}

	for _, active := range activeArrays(ProcMdstatPath) {
		log.WithFields(log.Fields{"array": active}).Info("stopping pre-existing raid array")
		if _, err := cmdrun.Run("mdadm", []string{"--stop", "/dev/" + active}, cmdrun.Options{Capture: true, Tolerate: true}); err != nil {
			log.WithFields(log.Fields{"array": active, "err": err}).Warn("failed to stop raid array, continuing")
		}
	}

	args := append([]string{"--assemble", root.Device}, raidEntry.Devices...)
	if _, err := cmdrun.Run("mdadm", args, cmdrun.Options{Capture: true}); err != nil {
		log.WithFields(log.Fields{"device": root.Device, "err": err}).Warn("raid assembly failed, proceeding to provisioning")
		return false, nil
	}
	return true, nil
}

// activeArrays returns the mdN names /proc/mdstat reports as active. A
// missing or unreadable file yields no arrays rather than an error: a
// kernel without any md devices configured does not expose /proc/mdstat
// at all.
func activeArrays(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var arrays []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "md") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 || fields[1] != ":" || fields[2] != "active" {
			continue
		}
		arrays = append(arrays, fields[0])
	}
	return arrays
}

// UUID reads the detail view of device and returns its UUID in canonical
// colon-separated hexadecimal form.
func UUID(device string) (string, error) {
	output, err := cmdrun.Capture("mdadm", "--detail", device)
	if err != nil {
		return "", &agenterrors.HandoffGenerationFailed{Reason: fmt.Sprintf("reading raid uuid for %s", device), Cause: err}
	}

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(strings.ToLower(line), "uuid") {
			continue
		}
		_, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		return strings.TrimSpace(value), nil
	}
	return "", &agenterrors.HandoffGenerationFailed{Reason: fmt.Sprintf("no UUID line in mdadm --detail %s output", device)}
}
