package types

import (
	"fmt"
	"strconv"
	"strings"
)

// ServiceKind enumerates the UPnP service kinds the core recognises by
// name. Anything else round-trips as Unknown, carrying its raw name.
type ServiceKind int

const (
	ContentDirectory ServiceKind = iota
	RenderingControl
	ConnectionManager
	AVTransport
	UnknownService
)

// DeviceKind enumerates the UPnP device kinds the core recognises.
type DeviceKind int

const (
	MediaServer DeviceKind = iota
	MediaRenderer
	InternetGateway
	UnknownDevice
)

var serviceNames = map[ServiceKind]string{
	ContentDirectory:  "ContentDirectory",
	RenderingControl:  "RenderingControl",
	ConnectionManager: "ConnectionManager",
	AVTransport:       "AVTransport",
}

var deviceNames = map[DeviceKind]string{
	MediaServer:     "MediaServer",
	MediaRenderer:   "MediaRenderer",
	InternetGateway: "InternetGatewayDevice",
}

// ServiceType is {kind, version} in the spec's data model, e.g.
// urn:schemas-upnp-org:service:RenderingControl:2.
type ServiceType struct {
	Kind    ServiceKind
	Name    string // raw name, set for UnknownService kinds
	Version uint8
}

// DeviceType is {kind, version}, e.g.
// urn:schemas-upnp-org:device:MediaRenderer:1.
type DeviceType struct {
	Kind    DeviceKind
	Name    string
	Version uint8
}

// FormatServiceURN renders the wire form of a ServiceType.
func FormatServiceURN(t ServiceType) string {
	name := t.Name
	if n, ok := serviceNames[t.Kind]; ok {
		name = n
	}
	return fmt.Sprintf("urn:schemas-upnp-org:service:%s:%d", name, t.Version)
}

// ParseServiceURN parses a service URN. Unrecognised names still parse
// successfully as UnknownService with Name populated, so the scanner
// can reject them by kind without the parser itself failing.
func ParseServiceURN(urn string) (ServiceType, error) {
	name, version, err := parseTypeURN(urn, "service")
	if err != nil {
		return ServiceType{}, err
	}
	for kind, n := range serviceNames {
		if n == name {
			return ServiceType{Kind: kind, Version: version}, nil
		}
	}
	return ServiceType{Kind: UnknownService, Name: name, Version: version}, nil
}

// FormatDeviceURN renders the wire form of a DeviceType.
func FormatDeviceURN(t DeviceType) string {
	name := t.Name
	if n, ok := deviceNames[t.Kind]; ok {
		name = n
	}
	return fmt.Sprintf("urn:schemas-upnp-org:device:%s:%d", name, t.Version)
}

// ParseDeviceURN parses a device URN, same leniency as ParseServiceURN.
func ParseDeviceURN(urn string) (DeviceType, error) {
	name, version, err := parseTypeURN(urn, "device")
	if err != nil {
		return DeviceType{}, err
	}
	for kind, n := range deviceNames {
		if n == name {
			return DeviceType{Kind: kind, Version: version}, nil
		}
	}
	return DeviceType{Kind: UnknownDevice, Name: name, Version: version}, nil
}

// parseTypeURN splits "urn:schemas-upnp-org:<category>:<Name>:<version>".
func parseTypeURN(urn, category string) (name string, version uint8, err error) {
	parts := strings.Split(urn, ":")
	if len(parts) != 5 || parts[0] != "urn" || parts[1] != "schemas-upnp-org" || parts[2] != category {
		return "", 0, fmt.Errorf("types: malformed %s urn %q", category, urn)
	}
	v, err := strconv.ParseUint(parts[4], 10, 8)
	if err != nil {
		return "", 0, fmt.Errorf("types: malformed %s version in urn %q: %w", category, urn, err)
	}
	return parts[3], uint8(v), nil
}

// ServiceIDURN renders the wire serviceId for a service kind, e.g.
// urn:upnp-org:serviceId:RenderingControl.
func ServiceIDURN(kind ServiceKind) string {
	if n, ok := serviceNames[kind]; ok {
		return "urn:upnp-org:serviceId:" + n
	}
	return "urn:upnp-org:serviceId:Unknown"
}
