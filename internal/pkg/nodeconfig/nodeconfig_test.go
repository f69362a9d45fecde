package nodeconfig

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/nodes/aa:bb:cc:dd:ee:ff.json", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"name": "node1", "dns_servers": ["1.1.1.1"], "os_type": "ubuntu", "config_timestamp": 1000}`))
	}))
	defer srv.Close()

	host, portStr := mustSplitHostPort(t, srv.URL)
	cfg, err := Fetch(host, portStr, "aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	assert.Equal(t, "node1", cfg.Name)
	assert.Equal(t, []string{"1.1.1.1"}, cfg.DNSServers)
	assert.False(t, cfg.IsDGX(), "ubuntu should not select the dgx backend")
}

func TestFetchNonJSONFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	host, port := mustSplitHostPort(t, srv.URL)
	_, err := Fetch(host, port, "aa:bb:cc:dd:ee:ff")
	require.Error(t, err)
}

func mustSplitHostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parsing test server URL: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parsing test server port: %v", err)
	}
	return u.Hostname(), port
}
