package handoff

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/flatcar-linux/netboot-agent/internal/pkg/ignition"
)

// S1 — single-disk fresh node: root has a uuid, no raid.
func TestBuildCmdlineWithUUID(t *testing.T) {
	root := ignition.Filesystem{Device: "/dev/sda2", Format: "ext4", Path: "/", UUID: "1111-AAAA"}
	cmdline, err := BuildCmdline("ro quiet", root)
	if err != nil {
		t.Fatalf("BuildCmdline: %v", err)
	}
	if cmdline != "ro quiet root=UUID=1111-AAAA" {
		t.Fatalf("unexpected cmdline: %q", cmdline)
	}
}

// S6 — missing root uuid, no raid: falls back to root=<device>.
func TestBuildCmdlineFallsBackToDevice(t *testing.T) {
	root := ignition.Filesystem{Device: "/dev/sda2", Format: "ext4", Path: "/"}
	cmdline, err := BuildCmdline("ro quiet", root)
	if err != nil {
		t.Fatalf("BuildCmdline: %v", err)
	}
	if cmdline != "ro quiet root=/dev/sda2" {
		t.Fatalf("unexpected cmdline: %q", cmdline)
	}
	if strings.Contains(cmdline, "UUID=") {
		t.Fatal("did not expect a UUID= token when none was declared")
	}
}

func TestRender(t *testing.T) {
	out, err := Render("/tmp/vmlinuz", "/tmp/initrd.img", "ro quiet root=UUID=1111-AAAA")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	want := "kexec -l \"/tmp/vmlinuz\" --initrd=\"/tmp/initrd.img\" --append=\"ro quiet root=UUID=1111-AAAA\"\nkexec -e\n"
	if out != want {
		t.Fatalf("unexpected script:\ngot:  %q\nwant: %q", out, want)
	}
}

func TestWriteSetsExecutableMode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".bootstrapped_marker")

	if err := Write(path, "/tmp/vmlinuz", "/tmp/initrd.img", "ro quiet root=/dev/sda2"); err != nil {
		t.Fatalf("Write: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0755 {
		t.Fatalf("expected mode 0755, got %o", info.Mode().Perm())
	}
}
