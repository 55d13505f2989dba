package discovery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandSubnet(t *testing.T) {
	ips := expandSubnet("192.168.1")
	require.Len(t, ips, 254)
	assert.Equal(t, "192.168.1.1", ips[0])
	assert.Equal(t, "192.168.1.254", ips[253])
}

func TestGetLocalSubnetsShape(t *testing.T) {
	// Interface-dependent, so only check the shape of whatever comes back.
	for _, subnet := range getLocalSubnets() {
		parts := strings.Split(subnet, ".")
		assert.Len(t, parts, 3, "a /24 prefix has three octets: %q", subnet)
	}
}

func TestIsHueBridge(t *testing.T) {
	bridge := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/config" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"name":"Philips hue","bridgeid":"ECB5FAFFFE000000"}`))
	}))
	defer bridge.Close()

	notBridge := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"hello":"world"}`))
	}))
	defer notBridge.Close()

	client := &http.Client{Timeout: time.Second}

	// The probe builds "http://<ip>/api/config", so handing it host:port
	// exercises the same code path against the test server.
	host := strings.TrimPrefix(bridge.URL, "http://")
	assert.True(t, isHueBridge(context.Background(), client, host))

	host = strings.TrimPrefix(notBridge.URL, "http://")
	assert.False(t, isHueBridge(context.Background(), client, host), "a response without bridgeid is not a bridge")
}

func TestIsElgatoKeyLightCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, isElgatoKeyLight(ctx, "192.0.2.1"))
}
