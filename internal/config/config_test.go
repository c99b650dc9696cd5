package config

import (
	"os"
	"testing"
	"time"

	"github.com/wysentanu/upnpcore/internal/types"
)

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()

	if c.DeviceKind != types.MediaServer {
		t.Errorf("DeviceKind = %v, want MediaServer", c.DeviceKind)
	}
	if c.UUID == "" {
		t.Error("DefaultConfig should generate a non-empty UUID")
	}
	if c.AdvertiseInterval != 1800*time.Second {
		t.Errorf("AdvertiseInterval = %v, want 1800s", c.AdvertiseInterval)
	}
	if c.MaxSubscriptionTimeout != 24*time.Hour {
		t.Errorf("MaxSubscriptionTimeout = %v, want 24h", c.MaxSubscriptionTimeout)
	}
}

func TestDefaultConfigGeneratesDistinctUUIDs(t *testing.T) {
	a := DefaultConfig()
	b := DefaultConfig()
	if a.UUID == b.UUID {
		t.Error("two DefaultConfig calls produced the same UUID")
	}
}

func TestLoadFromEnvOverridesDefaults(t *testing.T) {
	for k, v := range map[string]string{
		"UPNP_FRIENDLY_NAME":                "Living Room Server",
		"UPNP_UUID":                         "11111111-1111-1111-1111-111111111111",
		"UPNP_INTERFACE":                    "eth0",
		"UPNP_HTTP_PORT":                    "8200",
		"UPNP_ADVERTISE_INTERVAL_SECONDS":   "900",
		"UPNP_SEARCH_MX":                    "5",
		"UPNP_SUBSCRIPTION_TIMEOUT_SECONDS": "600",
	} {
		os.Setenv(k, v)
		defer os.Unsetenv(k)
	}

	c := DefaultConfig()
	c.LoadFromEnv()

	if c.FriendlyName != "Living Room Server" {
		t.Errorf("FriendlyName = %q", c.FriendlyName)
	}
	if c.UUID != "11111111-1111-1111-1111-111111111111" {
		t.Errorf("UUID = %q", c.UUID)
	}
	if c.InterfaceName != "eth0" {
		t.Errorf("InterfaceName = %q", c.InterfaceName)
	}
	if c.HTTPPort != 8200 {
		t.Errorf("HTTPPort = %d", c.HTTPPort)
	}
	if c.AdvertiseInterval != 900*time.Second {
		t.Errorf("AdvertiseInterval = %v", c.AdvertiseInterval)
	}
	if c.SearchMX != 5 {
		t.Errorf("SearchMX = %d", c.SearchMX)
	}
	if c.DefaultSubscriptionTimeout != 600*time.Second {
		t.Errorf("DefaultSubscriptionTimeout = %v", c.DefaultSubscriptionTimeout)
	}
}

func TestLoadFromEnvIgnoresUnsetVars(t *testing.T) {
	os.Unsetenv("UPNP_FRIENDLY_NAME")
	c := DefaultConfig()
	want := c.FriendlyName
	c.LoadFromEnv()
	if c.FriendlyName != want {
		t.Errorf("FriendlyName changed to %q despite unset env var", c.FriendlyName)
	}
}

func TestLoadFromEnvIgnoresMalformedIntegers(t *testing.T) {
	os.Setenv("UPNP_HTTP_PORT", "not-a-number")
	defer os.Unsetenv("UPNP_HTTP_PORT")

	c := DefaultConfig()
	want := c.HTTPPort
	c.LoadFromEnv()
	if c.HTTPPort != want {
		t.Errorf("HTTPPort = %d, want unchanged %d for malformed input", c.HTTPPort, want)
	}
}

func TestDeviceType(t *testing.T) {
	c := DefaultConfig()
	c.DeviceKind = types.MediaRenderer
	c.DeviceName = "MediaRenderer"
	c.MajorVersion = 2

	dt := c.DeviceType()
	if dt.Kind != types.MediaRenderer {
		t.Errorf("Kind = %v, want MediaRenderer", dt.Kind)
	}
	if dt.Version != 2 {
		t.Errorf("Version = %d, want 2", dt.Version)
	}
}
