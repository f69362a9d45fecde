package netconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/flatcar-linux/netboot-agent/internal/pkg/nodeconfig"
)

func TestToCIDR(t *testing.T) {
	cidr, ok := toCIDR("192.168.1.10", "255.255.255.0")
	if !ok {
		t.Fatal("expected a valid CIDR")
	}
	if cidr != "192.168.1.10/24" {
		t.Fatalf("unexpected cidr: %q", cidr)
	}

	if _, ok := toCIDR("not-an-ip", "255.255.255.0"); ok {
		t.Fatal("expected failure for an invalid address")
	}
	if _, ok := toCIDR("", ""); ok {
		t.Fatal("expected failure for empty input")
	}
}

func TestGenerateYAMLContainsAddressAndRoutes(t *testing.T) {
	interfaces := map[string]nodeconfig.Interface{
		"eno1": {
			MAC:     "aa:bb:cc:dd:ee:ff",
			IPv4:    "10.0.0.5",
			Netmask: "255.255.255.0",
			Gateway: "10.0.0.1",
			Routes: []nodeconfig.Route{
				{IPOrRange: "192.168.0.0/24"},
				{IPOrRange: "0.0.0.0/0", Default: true},
			},
		},
	}

	out, err := GenerateYAML(interfaces)
	if err != nil {
		t.Fatalf("GenerateYAML: %v", err)
	}

	for _, want := range []string{
		"version: 2",
		"renderer: networkd",
		"dhcp4: false",
		"macaddress: aa:bb:cc:dd:ee:ff",
		"10.0.0.5/24",
		"via: 10.0.0.1",
		"to: 192.168.0.0/24",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, out)
		}
	}
	if strings.Count(out, "0.0.0.0/0") != 1 {
		t.Errorf("expected the default route to appear exactly once (via gateway, not via the routes entry), got:\n%s", out)
	}
}

func TestGenerateIfupdownMatchesTemplate(t *testing.T) {
	interfaces := map[string]nodeconfig.Interface{
		"eno1": {
			MAC:     "aa:bb:cc:dd:ee:ff",
			IPv4:    "10.0.0.5",
			Netmask: "255.255.255.0",
			Gateway: "10.0.0.1",
			Routes: []nodeconfig.Route{
				{IPOrRange: "192.168.0.0/24"},
			},
		},
	}

	configs := GenerateIfupdown(interfaces)
	got := configs["eno1"]
	want := "auto eno1\n" +
		"iface eno1 inet static\n" +
		"    hwaddress ether aa:bb:cc:dd:ee:ff\n" +
		"    address 10.0.0.5\n" +
		"    netmask 255.255.255.0\n" +
		"    gateway 10.0.0.1\n" +
		"    post-up ip route add 192.168.0.0/24 dev eno1\n"

	if got != want {
		t.Fatalf("unexpected ifupdown config:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestPurgeYAMLRemovesOnlyYAML(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"old.yaml", "keep.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatalf("writing fixture: %v", err)
		}
	}

	if err := PurgeYAML(dir); err != nil {
		t.Fatalf("PurgeYAML: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "old.yaml")); !os.IsNotExist(err) {
		t.Fatal("expected old.yaml to be removed")
	}
	if _, err := os.Stat(filepath.Join(dir, "keep.txt")); err != nil {
		t.Fatal("expected keep.txt to survive the purge")
	}
}

func TestPurgeYAMLMissingDir(t *testing.T) {
	if err := PurgeYAML("/nonexistent/netplan/dir"); err != nil {
		t.Fatalf("expected no error for a missing directory, got %v", err)
	}
}

func TestWriteIfupdownFileNames(t *testing.T) {
	dir := t.TempDir()
	configs := GenerateIfupdown(map[string]nodeconfig.Interface{
		"eno1": {IPv4: "10.0.0.5", Netmask: "255.255.255.0"},
		"eno2": {IPv4: "10.0.0.6", Netmask: "255.255.255.0"},
	})

	if err := WriteIfupdown(dir, configs); err != nil {
		t.Fatalf("WriteIfupdown: %v", err)
	}

	for _, name := range []string{"eno1.cfg", "eno2.cfg"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected %s to exist: %v", name, err)
		}
	}
}
