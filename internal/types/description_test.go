package types

import "testing"

func TestCacheControlRoundTrip(t *testing.T) {
	for _, maxAge := range []int{0, 1, 1800, 86400} {
		header := FormatCacheControl(maxAge)
		got, err := ParseCacheControl(header)
		if err != nil {
			t.Fatalf("ParseCacheControl(%q) error: %v", header, err)
		}
		if got != maxAge {
			t.Errorf("round trip: got %d, want %d", got, maxAge)
		}
	}
}

func TestParseCacheControlRejectsMalformed(t *testing.T) {
	tests := []string{
		"",
		"max-age=",
		"max-age=-5",
		"max-age=1.5",
		"Max-Age=100", // wrong case
		"no-cache",
		"max-age=100 ",
	}
	for _, v := range tests {
		if _, err := ParseCacheControl(v); err == nil {
			t.Errorf("ParseCacheControl(%q) = nil error, want error", v)
		}
	}
}

func TestParseDeviceDescription(t *testing.T) {
	const doc = `<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
<specVersion><major>1</major><minor>0</minor></specVersion>
<device>
<deviceType>urn:schemas-upnp-org:device:MediaServer:1</deviceType>
<friendlyName>Test Server</friendlyName>
<UDN>uuid:5a10ba50-6e4a-11e2-bcfd-0800200c9a66</UDN>
<serviceList>
<service>
<serviceType>urn:schemas-upnp-org:service:ContentDirectory:1</serviceType>
<serviceId>urn:upnp-org:serviceId:ContentDirectory</serviceId>
<SCPDURL>/cd.xml</SCPDURL>
<controlURL>/cd/control</controlURL>
<eventSubURL>/cd/event</eventSubURL>
</service>
</serviceList>
</device>
</root>`

	dev, err := ParseDeviceDescription([]byte(doc), "http://192.168.1.5:8080/device.xml")
	if err != nil {
		t.Fatalf("ParseDeviceDescription error: %v", err)
	}

	if dev.FriendlyName != "Test Server" {
		t.Errorf("FriendlyName = %q", dev.FriendlyName)
	}
	if dev.Udn != "uuid:5a10ba50-6e4a-11e2-bcfd-0800200c9a66" {
		t.Errorf("Udn = %q", dev.Udn)
	}
	if dev.Type.Kind != MediaServer {
		t.Errorf("Type.Kind = %v, want MediaServer", dev.Type.Kind)
	}

	svc, ok := dev.Services[ContentDirectory]
	if !ok {
		t.Fatalf("ContentDirectory service not parsed")
	}
	if svc.ControlURL != "http://192.168.1.5:8080/cd/control" {
		t.Errorf("ControlURL = %q, want resolved absolute URL", svc.ControlURL)
	}
	if svc.EventSubscriptionURL != "http://192.168.1.5:8080/cd/event" {
		t.Errorf("EventSubscriptionURL = %q", svc.EventSubscriptionURL)
	}
}

func TestParseDeviceDescriptionMissingUDN(t *testing.T) {
	const doc = `<?xml version="1.0"?>
<root><device><deviceType>urn:schemas-upnp-org:device:MediaServer:1</deviceType></device></root>`
	if _, err := ParseDeviceDescription([]byte(doc), "http://x/device.xml"); err == nil {
		t.Fatal("expected error for missing UDN")
	}
}
