// Package handoff builds the kexec-handoff script: the self-contained
// executable that, when run, replaces the running kernel with the fully
// provisioned on-disk system. Its mtime is the durable signal for
// "when was this script last generated".
package handoff

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/flatcar-linux/netboot-agent/internal/pkg/agenterrors"
	"github.com/flatcar-linux/netboot-agent/internal/pkg/ignition"
	"github.com/flatcar-linux/netboot-agent/internal/pkg/raid"
)

// Marker is the durable script path under the target root.
const Marker = ".bootstrapped_marker"

// scriptTemplate is the two-line kexec script. It is rendered with
// text/template rather than html/template because the output is a shell
// script, not HTML — html/template's auto-escaping would mangle the
// quoting this script depends on.
const scriptTemplate = `kexec -l "{{.Kernel}}" --initrd="{{.Initrd}}" --append="{{.Cmdline}}"
kexec -e
`

type templateData struct {
	Kernel  string
	Initrd  string
	Cmdline string
}

// BuildCmdline constructs the --append value: start from
// kernelArguments, append the three rd.md* tokens if root is a RAID
// device, then append root=UUID=<uuid> or root=<device> depending on
// what's available.
func BuildCmdline(kernelArguments string, root ignition.Filesystem) (string, error) {
	cmdline := kernelArguments

	if ignition.IsRaidDevice(root.Device) {
		raidUUID, err := raid.UUID(root.Device)
		if err != nil {
			return "", &agenterrors.HandoffGenerationFailed{Reason: "root is a raid device but its uuid could not be read", Cause: err}
		}
		cmdline = strings.TrimSpace(fmt.Sprintf("%s rd.md=1 rd.md.auto=1 rd.md.uuid=%s", cmdline, raidUUID))
	}

	switch {
	case root.UUID != "":
		cmdline = strings.TrimSpace(fmt.Sprintf("%s root=UUID=%s", cmdline, root.UUID))
	case root.Device != "":
		cmdline = strings.TrimSpace(fmt.Sprintf("%s root=%s", cmdline, root.Device))
	default:
		return "", &agenterrors.HandoffGenerationFailed{Reason: "no root uuid or device available"}
	}

	return cmdline, nil
}

// Render produces the script contents for the given kernel/initrd paths
// and constructed cmdline.
func Render(kernelPath, initrdPath, cmdline string) (string, error) {
	tmpl, err := template.New("handoff").Parse(scriptTemplate)
	if err != nil {
		return "", err
	}
	var out bytes.Buffer
	if err := tmpl.Execute(&out, templateData{Kernel: kernelPath, Initrd: initrdPath, Cmdline: cmdline}); err != nil {
		return "", err
	}
	return out.String(), nil
}

// Write renders and writes the handoff script to path, mode 0755.
func Write(path, kernelPath, initrdPath, cmdline string) error {
	contents, err := Render(kernelPath, initrdPath, cmdline)
	if err != nil {
		return &agenterrors.HandoffGenerationFailed{Reason: "rendering script", Cause: err}
	}
	if err := os.WriteFile(path, []byte(contents), 0755); err != nil {
		return &agenterrors.HandoffGenerationFailed{Reason: "writing script", Cause: err}
	}
	// os.WriteFile only applies the mode bits on creation; force it so a
	// regenerated script over a stale one is still executable.
	return os.Chmod(path, 0755)
}
