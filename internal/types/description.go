package types

import (
	"encoding/xml"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// descRoot mirrors the wire shape of a UPnP device description
// document (spec.md §6). Field tags follow the pattern used by
// GLTSC-upnpctl's IGD discovery: plain xml tags over an unmarshalled
// tree rather than a hand-rolled scanner (the teacher's
// extractControlURL used ad hoc string.Index scanning — we replace it
// with a real decoder here since the spec requires robust parsing of a
// known shape).
type descRoot struct {
	XMLName     xml.Name       `xml:"root"`
	SpecVersion descSpecVer    `xml:"specVersion"`
	Device      descDevice     `xml:"device"`
	URLBase     string         `xml:"URLBase"`
}

type descSpecVer struct {
	Major int `xml:"major"`
	Minor int `xml:"minor"`
}

type descDevice struct {
	DeviceType       string         `xml:"deviceType"`
	FriendlyName     string         `xml:"friendlyName"`
	UDN              string         `xml:"UDN"`
	PresentationURL  string         `xml:"presentationURL"`
	ServiceList      []descService  `xml:"serviceList>service"`
}

type descService struct {
	ServiceType string `xml:"serviceType"`
	ServiceID   string `xml:"serviceId"`
	SCPDURL     string `xml:"SCPDURL"`
	ControlURL  string `xml:"controlURL"`
	EventSubURL string `xml:"eventSubURL"`
}

// ParseDeviceDescription parses a device description document fetched
// from a Device's Location URL. locationURL is used to resolve
// relative SCPD/control/eventSub URLs against the document's URLBase
// (or, absent that, the location itself) as required by UPnP.
func ParseDeviceDescription(body []byte, locationURL string) (*Device, error) {
	var root descRoot
	if err := xml.Unmarshal(body, &root); err != nil {
		return nil, fmt.Errorf("types: parse device description: %w", err)
	}

	if root.Device.UDN == "" {
		return nil, fmt.Errorf("types: device description missing UDN")
	}

	devType, err := ParseDeviceURN(root.Device.DeviceType)
	if err != nil {
		return nil, fmt.Errorf("types: device description has invalid deviceType: %w", err)
	}

	base := root.URLBase
	if base == "" {
		base = locationURL
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("types: invalid base url %q: %w", base, err)
	}

	dev := &Device{
		Type:         devType,
		MajorVersion: root.SpecVersion.Major,
		MinorVersion: root.SpecVersion.Minor,
		FriendlyName: root.Device.FriendlyName,
		Udn:          root.Device.UDN,
		BaseURL:      baseURL.String(),
		PresURL:      resolveURL(baseURL, root.Device.PresentationURL),
		Location:     locationURL,
		Services:     make(map[ServiceKind]*Service),
	}

	if u, err := url.Parse(locationURL); err == nil {
		dev.RelURL = u.Path
	}

	for _, svc := range root.Device.ServiceList {
		st, err := ParseServiceURN(svc.ServiceType)
		if err != nil {
			continue // unparseable service entries are dropped, not fatal
		}
		dev.Services[st.Kind] = &Service{
			Type:                 st,
			ID:                   svc.ServiceID,
			SCPDURL:              resolveURL(baseURL, svc.SCPDURL),
			ControlURL:           resolveURL(baseURL, svc.ControlURL),
			EventSubscriptionURL: resolveURL(baseURL, svc.EventSubURL),
		}
	}

	return dev, nil
}

func resolveURL(base *url.URL, ref string) string {
	if ref == "" {
		return ""
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(refURL).String()
}

// FormatCacheControl renders a CACHE-CONTROL header value.
func FormatCacheControl(maxAge int) string {
	return "max-age=" + strconv.Itoa(maxAge)
}

// ParseCacheControl parses a CACHE-CONTROL header value, accepting
// exactly "max-age=<unsigned integer>" and rejecting any deviation
// (case, sign, fractional values, missing digits).
func ParseCacheControl(value string) (int, error) {
	const prefix = "max-age="
	if !strings.HasPrefix(value, prefix) {
		return 0, fmt.Errorf("types: malformed cache-control %q", value)
	}
	digits := value[len(prefix):]
	if digits == "" {
		return 0, fmt.Errorf("types: malformed cache-control %q", value)
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("types: malformed cache-control %q", value)
		}
	}
	n, err := strconv.ParseUint(digits, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("types: cache-control value out of range %q: %w", value, err)
	}
	return int(n), nil
}
