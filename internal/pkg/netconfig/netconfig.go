// Package netconfig renders the two network-config dialects this agent
// supports: a declarative-YAML (networkd) document and a line-oriented
// (ifupdown) file per interface. Selection between them is the
// orchestrator's job (driven by NodeConfiguration.os_type); this package
// never decides which backend to use. The Generate functions only return
// file contents; PurgeYAML, WriteYAML and WriteIfupdown are the separate
// helpers that touch the filesystem.
package netconfig

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/flatcar-linux/netboot-agent/internal/pkg/nodeconfig"
)

// YAMLDir is where the declarative-YAML backend's files live.
const YAMLDir = "/etc/netplan"

// YAMLFileName is the single file the declarative-YAML backend writes.
const YAMLFileName = "01-netcfg.yaml"

// IfupdownDir is where the line-oriented backend's per-interface files
// live.
const IfupdownDir = "/etc/network/interfaces.d"

// ethernetRoute mirrors a networkd route entry.
type ethernetRoute struct {
	To  string `yaml:"to"`
	Via string `yaml:"via,omitempty"`
}

// ethernetConfig mirrors one entry of network.ethernets.
type ethernetConfig struct {
	DHCP4      bool            `yaml:"dhcp4"`
	MACAddress string          `yaml:"macaddress,omitempty"`
	Addresses  []string        `yaml:"addresses,omitempty"`
	Routes     []ethernetRoute `yaml:"routes,omitempty"`
}

type networkDoc struct {
	Network struct {
		Version   int                       `yaml:"version"`
		Renderer  string                    `yaml:"renderer"`
		Ethernets map[string]ethernetConfig `yaml:"ethernets"`
	} `yaml:"network"`
}

// GenerateYAML renders the declarative-YAML document for interfaces.
//
// Every distinct ethernetConfig value produced here is its own Go struct
// value, so there is nothing to suppress: gopkg.in/yaml.v3 never emits
// anchors for values that aren't literally the same pointer.
func GenerateYAML(interfaces map[string]nodeconfig.Interface) (string, error) {
	var doc networkDoc
	doc.Network.Version = 2
	doc.Network.Renderer = "networkd"
	doc.Network.Ethernets = make(map[string]ethernetConfig, len(interfaces))

	for _, name := range sortedKeys(interfaces) {
		iface := interfaces[name]
		cfg := ethernetConfig{DHCP4: false}

		if iface.MAC != "" {
			cfg.MACAddress = iface.MAC
		}

		if cidr, ok := toCIDR(iface.IPv4, iface.Netmask); ok {
			cfg.Addresses = append(cfg.Addresses, cidr)
		} else if iface.IPv4 != "" || iface.Netmask != "" {
			log.WithFields(log.Fields{"interface": name, "ipv4": iface.IPv4, "netmask": iface.Netmask}).Warn("could not parse ipv4/netmask, omitting address")
		}

		if iface.Gateway != "" {
			cfg.Routes = append(cfg.Routes, ethernetRoute{To: "0.0.0.0/0", Via: iface.Gateway})
		}
		for _, route := range iface.Routes {
			if route.Default || route.IPOrRange == "" {
				continue
			}
			cfg.Routes = append(cfg.Routes, ethernetRoute{To: route.IPOrRange})
		}

		doc.Network.Ethernets[name] = cfg
	}

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return "", fmt.Errorf("marshal network config: %w", err)
	}
	return string(out), nil
}

// GenerateIfupdown renders one file's contents per interface, keyed by
// interface name (not file name — WriteIfupdown adds the ".cfg"
// suffix).
func GenerateIfupdown(interfaces map[string]nodeconfig.Interface) map[string]string {
	configs := make(map[string]string, len(interfaces))

	for name, iface := range interfaces {
		var lines []string
		lines = append(lines, fmt.Sprintf("auto %s", name))
		lines = append(lines, fmt.Sprintf("iface %s inet static", name))

		if iface.MAC != "" {
			lines = append(lines, fmt.Sprintf("    hwaddress ether %s", iface.MAC))
		}
		if _, ok := toCIDR(iface.IPv4, iface.Netmask); ok {
			lines = append(lines, fmt.Sprintf("    address %s", iface.IPv4))
			lines = append(lines, fmt.Sprintf("    netmask %s", iface.Netmask))
		} else if iface.IPv4 != "" || iface.Netmask != "" {
			log.WithFields(log.Fields{"interface": name, "ipv4": iface.IPv4, "netmask": iface.Netmask}).Warn("could not parse ipv4/netmask, omitting address")
		}
		if iface.Gateway != "" {
			lines = append(lines, fmt.Sprintf("    gateway %s", iface.Gateway))
		}
		for _, route := range iface.Routes {
			if route.Default || route.IPOrRange == "" {
				continue
			}
			lines = append(lines, fmt.Sprintf("    post-up ip route add %s dev %s", route.IPOrRange, name))
		}

		configs[name] = strings.Join(lines, "\n") + "\n"
	}
	return configs
}

// PurgeYAML removes any existing *.yaml files from dir, so a prior
// declarative-YAML config can't interfere with whichever backend the
// current boot selects.
func PurgeYAML(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("removing %s: %w", path, err)
		}
	}
	return nil
}

// WriteYAML writes contents to dir/YAMLFileName, creating dir if needed.
func WriteYAML(dir, contents string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, YAMLFileName), []byte(contents), 0644)
}

// WriteIfupdown writes one file per entry of configs to dir, creating dir
// if needed. File names are "<interface>.cfg".
func WriteIfupdown(dir string, configs map[string]string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	for name, contents := range configs {
		path := filepath.Join(dir, name+".cfg")
		if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}
	return nil
}

// toCIDR computes the "<ip>/<prefix>" literal from an IPv4 address and
// dotted-decimal netmask, reporting false if either fails to parse.
func toCIDR(ipv4, netmask string) (string, bool) {
	if ipv4 == "" || netmask == "" {
		return "", false
	}
	ip := net.ParseIP(ipv4).To4()
	if ip == nil {
		return "", false
	}
	maskIP := net.ParseIP(netmask).To4()
	if maskIP == nil {
		return "", false
	}
	mask := net.IPMask(maskIP)
	ones, bits := mask.Size()
	if bits == 0 {
		// Size() returns (0, 0) for a non-canonical mask (not a
		// contiguous run of ones); that is not a valid netmask.
		return "", false
	}
	return fmt.Sprintf("%s/%d", ip.String(), ones), true
}

func sortedKeys(interfaces map[string]nodeconfig.Interface) []string {
	keys := make([]string, 0, len(interfaces))
	for k := range interfaces {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
