// Package config holds the runtime's tunables, loaded with sensible
// defaults and overridable from the environment, in the same
// DefaultConfig/LoadFromEnv shape the teacher used for its media-server
// configuration.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/wysentanu/upnpcore/internal/types"
)

// Config holds the tunables for a root device: the device it
// advertises, how often it readvertises, and how it answers searches.
type Config struct {
	// Device identity
	FriendlyName string
	UUID         string // bare uuid, no "uuid:" prefix
	DeviceKind   types.DeviceKind
	DeviceName   string
	MajorVersion int
	MinorVersion int

	// Network
	InterfaceName string // "" selects the first non-loopback interface
	HTTPPort      int

	// SSDP timing, spec.md §4.4
	AdvertiseInterval time.Duration
	SearchMX          int

	// GENA timing, spec.md §4.7
	DefaultSubscriptionTimeout time.Duration
	MaxSubscriptionTimeout     time.Duration
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		FriendlyName:  "upnpcore device",
		UUID:          uuid.NewString(),
		DeviceKind:    types.MediaServer,
		DeviceName:    "MediaServer",
		MajorVersion:  1,
		MinorVersion:  0,
		InterfaceName: "",
		HTTPPort:      0, // 0: bind an ephemeral port

		AdvertiseInterval: 1800 * time.Second,
		SearchMX:          3,

		DefaultSubscriptionTimeout: 1800 * time.Second,
		MaxSubscriptionTimeout:     24 * time.Hour,
	}
}

// LoadFromEnv overrides c's fields from environment variables.
func (c *Config) LoadFromEnv() {
	if val := os.Getenv("UPNP_FRIENDLY_NAME"); val != "" {
		c.FriendlyName = val
	}
	if val := os.Getenv("UPNP_UUID"); val != "" {
		c.UUID = val
	}
	if val := os.Getenv("UPNP_INTERFACE"); val != "" {
		c.InterfaceName = val
	}
	if val := os.Getenv("UPNP_HTTP_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.HTTPPort = port
		}
	}
	if val := os.Getenv("UPNP_ADVERTISE_INTERVAL_SECONDS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.AdvertiseInterval = time.Duration(n) * time.Second
		}
	}
	if val := os.Getenv("UPNP_SEARCH_MX"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.SearchMX = n
		}
	}
	if val := os.Getenv("UPNP_SUBSCRIPTION_TIMEOUT_SECONDS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.DefaultSubscriptionTimeout = time.Duration(n) * time.Second
		}
	}
}

// DeviceType renders the configured device kind/version as a
// types.DeviceType.
func (c *Config) DeviceType() types.DeviceType {
	return types.DeviceType{
		Kind:    c.DeviceKind,
		Name:    c.DeviceName,
		Version: uint8(c.MajorVersion),
	}
}
