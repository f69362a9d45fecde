// Package nodeconfig fetches the per-host configuration from the remote
// config server keyed by MAC address.
package nodeconfig

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	retryablehttp "github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/flatcar-linux/netboot-agent/internal/pkg/agenterrors"
)

// MaxAttempts is the maximum number of GET attempts before giving up.
const MaxAttempts = 5

// PerAttemptTimeout bounds each HTTP round trip.
const PerAttemptTimeout = 10 * time.Second

// Interface is the network interface declared for a node.
type Interface struct {
	MAC     string  `json:"mac"`
	IPv4    string  `json:"ipv4"`
	Netmask string  `json:"netmask"`
	Gateway string  `json:"gateway"`
	Routes  []Route `json:"routes"`
}

// Route is one static route entry under an interface.
type Route struct {
	IPOrRange string `json:"ip_or_range"`
	Default   bool   `json:"default"`
}

// Systemd is the systemd.enable/systemd.disable service lists.
type Systemd struct {
	Enable  []string `json:"enable"`
	Disable []string `json:"disable"`
}

// Config is the per-host document fetched from the config server.
type Config struct {
	Name                string               `json:"name"`
	DNSServers          []string             `json:"dns_servers"`
	SSHKey              string               `json:"ssh_key"`
	Kernel              string               `json:"kernel"`
	Initrd              string               `json:"initrd"`
	KernelArguments     string               `json:"kernel_arguments"`
	OSType              string               `json:"os_type"`
	ProvisioningStatus  string               `json:"provisioning_status"`
	ConfigTimestamp     int64                `json:"config_timestamp"`
	Systemd             Systemd              `json:"systemd"`
	Interfaces          map[string]Interface `json:"interfaces"`
}

// IsDGX reports whether this node selects the line-oriented network-config
// backend.
func (c *Config) IsDGX() bool { return c.OSType == "dgx" }

// ForceResync reports whether provisioning_status mandates an
// unconditional rootfs resync.
func (c *Config) ForceResync() bool { return c.ProvisioningStatus == "sync" }

// Fetch retrieves http://{server}:{port}/nodes/{mac}.json, retrying up to
// MaxAttempts times on transport failure or a non-2xx response. A 2xx
// response whose Content-Type is not JSON fails at once, without a retry.
func Fetch(server string, port int, mac string) (*Config, error) {
	url := fmt.Sprintf("http://%s:%d/nodes/%s.json", server, port, mac)

	client := retryablehttp.NewClient()
	client.RetryMax = MaxAttempts - 1
	client.HTTPClient.Timeout = PerAttemptTimeout
	client.Logger = nil
	client.CheckRetry = func(_ context.Context, resp *http.Response, err error) (bool, error) {
		if err != nil {
			return true, nil
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return true, nil
		}
		return false, nil
	}

	attempt := 0
	client.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, retryNumber int) {
		attempt = retryNumber + 1
		log.WithFields(log.Fields{"url": url, "attempt": attempt}).Info("fetching node configuration")
	}

	resp, err := client.Get(url)
	if err != nil {
		return nil, &agenterrors.NodeConfigUnavailable{URL: url, Attempt: attempt, Cause: errors.Wrap(err, "http get")}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &agenterrors.NodeConfigUnavailable{URL: url, Attempt: attempt, Cause: fmt.Errorf("unexpected status %s", resp.Status)}
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "application/json") {
		return nil, &agenterrors.NodeConfigUnavailable{URL: url, Attempt: attempt, Cause: fmt.Errorf("unexpected content-type %q", ct)}
	}

	var cfg Config
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return nil, &agenterrors.NodeConfigUnavailable{URL: url, Attempt: attempt, Cause: errors.Wrap(err, "decode")}
	}
	return &cfg, nil
}
