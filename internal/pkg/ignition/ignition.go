// Package ignition parses and exposes the reduced ignition-style
// disk/filesystem declaration shipped in the initramfs. This is
// deliberately not the full upstream Ignition wire format — see DESIGN.md
// for why — but a typed decode of the filesystems/raid subset this agent
// actually needs.
package ignition

import (
	"encoding/json"
	"os"
	"path"
	"strings"

	"github.com/pkg/errors"

	"github.com/flatcar-linux/netboot-agent/internal/pkg/agenterrors"
)

// Filesystem is one entry of storage.filesystems.
type Filesystem struct {
	Device string `json:"device"`
	Format string `json:"format"`
	Path   string `json:"path"`
	UUID   string `json:"uuid,omitempty"`
}

// Raid is one entry of storage.raid.
type Raid struct {
	Name    string   `json:"name"`
	Devices []string `json:"devices"`
}

// storage mirrors the "storage" key of the declaration.
type storage struct {
	Filesystems []Filesystem `json:"filesystems"`
	Raid        []Raid       `json:"raid"`
}

// Declaration is the parsed ignition document.
type Declaration struct {
	Storage storage `json:"storage"`
}

// DefaultPath is the fixed initramfs location of the ignition document.
const DefaultPath = "/ignition.json"

// Read loads and parses the ignition declaration at path.
func Read(path string) (*Declaration, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &agenterrors.IgnitionUnreadable{Path: path, Cause: errors.Wrap(err, "read")}
	}

	var decl Declaration
	if err := json.Unmarshal(raw, &decl); err != nil {
		return nil, &agenterrors.IgnitionUnreadable{Path: path, Cause: errors.Wrap(err, "parse")}
	}
	return &decl, nil
}

// RootFilesystem returns the filesystem entry whose mountpoint is "/".
func (d *Declaration) RootFilesystem() (Filesystem, error) {
	for _, fs := range d.Storage.Filesystems {
		if fs.Path == "/" {
			return fs, nil
		}
	}
	return Filesystem{}, &agenterrors.NoRootDeclared{}
}

// RaidFor returns the RAID entry whose name shares device's last path
// component, e.g. device "/dev/md0" matches a raid entry named "md0".
func (d *Declaration) RaidFor(device string) (Raid, bool) {
	last := path.Base(device)
	for _, r := range d.Storage.Raid {
		if strings.Contains(r.Name, last) {
			return r, true
		}
	}
	return Raid{}, false
}

// IsRaidDevice reports whether device names a software-RAID device
// (substring "md" identifies a RAID device name).
func IsRaidDevice(device string) bool {
	return strings.Contains(path.Base(device), "md")
}
