package earlyboot

import "testing"

// The rest of this package shells out to mount, modprobe, mdev, ip, and
// dhclient against real kernel state (/sys/class/net, /proc, /dev), which
// is untestable without a real or containerized kernel. What's left to
// check here is the fixed data this package is built around.

func TestModuleListIsNonEmpty(t *testing.T) {
	if len(modules) == 0 {
		t.Fatal("expected a non-empty module probe list")
	}
	seen := make(map[string]bool, len(modules))
	for _, m := range modules {
		if m == "" {
			t.Fatal("module list contains an empty entry")
		}
		if seen[m] {
			t.Fatalf("module %q listed more than once", m)
		}
		seen[m] = true
	}
}

func TestDHCPTimeoutIsPositive(t *testing.T) {
	if dhcpTimeout <= 0 {
		t.Fatalf("dhcpTimeout must be positive, got %v", dhcpTimeout)
	}
}
