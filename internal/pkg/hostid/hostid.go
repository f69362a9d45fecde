// Package hostid derives this machine's identity for the purpose of
// fetching its node configuration: the IPv4 address that routes toward
// the config server, and the MAC address of the interface that owns it.
package hostid

import (
	"fmt"
	"net"
	"strings"

	"github.com/flatcar-linux/netboot-agent/internal/pkg/agenterrors"
)

// Identity is the derived {outbound_ip, mac} pair this machine presents to
// the config server. It is never persisted — recomputed every boot.
type Identity struct {
	OutboundIP string
	MAC        string
}

// Discover "connects" a UDP socket to server:port — no packets are sent,
// this only asks the kernel's routing table which local address it would
// use — then finds the interface that owns that local address and returns
// its hardware address in lowercase colon-separated form.
func Discover(server string, port int) (Identity, error) {
	conn, err := net.Dial("udp4", fmt.Sprintf("%s:%d", server, port))
	if err != nil {
		return Identity{}, &agenterrors.NoRouteToConfigServer{Server: server, Port: port, Cause: err}
	}
	defer conn.Close()

	localAddr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return Identity{}, &agenterrors.NoRouteToConfigServer{Server: server, Port: port, Cause: fmt.Errorf("unexpected local address type %T", conn.LocalAddr())}
	}
	outboundIP := localAddr.IP.String()

	mac, err := macForIP(outboundIP)
	if err != nil {
		return Identity{}, err
	}

	return Identity{OutboundIP: outboundIP, MAC: mac}, nil
}

func macForIP(ip string) (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", &agenterrors.NoInterfaceForIP{IP: ip}
	}

	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if ipNet.IP.String() == ip {
				return strings.ToLower(iface.HardwareAddr.String()), nil
			}
		}
	}

	return "", &agenterrors.NoInterfaceForIP{IP: ip}
}
