// Package personalize writes the hostname, DNS resolver, and
// authorized-keys files into the mounted target root.
package personalize

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Apply writes /etc/hostname, /etc/resolv.conf, and
// /root/.ssh/authorized_keys under sysroot.
//
// The raw key is written, a single line, mode 0600.
func Apply(sysroot, hostname string, dnsServers []string, sshKey string) error {
	if err := os.WriteFile(filepath.Join(sysroot, "etc", "hostname"), []byte(hostname), 0644); err != nil {
		return fmt.Errorf("writing hostname: %w", err)
	}

	var resolv strings.Builder
	for _, ds := range dnsServers {
		resolv.WriteString(fmt.Sprintf("nameserver %s\n", ds))
	}
	if err := os.WriteFile(filepath.Join(sysroot, "etc", "resolv.conf"), []byte(resolv.String()), 0644); err != nil {
		return fmt.Errorf("writing resolv.conf: %w", err)
	}

	sshDir := filepath.Join(sysroot, "root", ".ssh")
	if err := os.MkdirAll(sshDir, 0700); err != nil {
		return fmt.Errorf("creating %s: %w", sshDir, err)
	}
	authorizedKeys := filepath.Join(sshDir, "authorized_keys")
	if err := os.WriteFile(authorizedKeys, []byte(sshKey+"\n"), 0600); err != nil {
		return fmt.Errorf("writing authorized_keys: %w", err)
	}
	// os.WriteFile only applies the given mode when creating the file; if
	// authorized_keys already existed with looser permissions, force them.
	if err := os.Chmod(authorizedKeys, 0600); err != nil {
		return fmt.Errorf("chmod authorized_keys: %w", err)
	}

	return nil
}
