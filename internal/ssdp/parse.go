package ssdp

import (
	"fmt"
	"log"
	"time"

	"github.com/wysentanu/upnpcore/internal/httpparser"
	"github.com/wysentanu/upnpcore/internal/types"
)

// notificationParser feeds one datagram through an httpparser.Parser in
// Both mode and turns the result into a DeviceNotificationInfo, mirroring
// ssdp::Parser from the original C++ source (upnp.ssdp.parseutils.h).
type notificationParser struct {
	hp *httpparser.Parser
	cb func(types.DeviceNotificationInfo)
}

func newNotificationParser(cb func(types.DeviceNotificationInfo)) *notificationParser {
	p := &notificationParser{hp: httpparser.New(httpparser.Both), cb: cb}
	p.hp.SetHeadersCompletedCallback(p.onHeaders)
	return p
}

// parse resets the underlying parser for a fresh self-contained
// datagram and feeds it the full message.
func (p *notificationParser) parse(msg []byte) {
	p.hp.Reset()
	if _, err := p.hp.Parse(msg); err != nil {
		log.Printf("[ssdp] dropping malformed datagram: %v", err)
	}
}

func (p *notificationParser) onHeaders() {
	info, err := decodeNotification(p.hp)
	if err != nil {
		log.Printf("[ssdp] dropping datagram: %v", err)
		return
	}
	if p.cb != nil {
		p.cb(info)
	}
}

func decodeNotification(hp *httpparser.Parser) (types.DeviceNotificationInfo, error) {
	var info types.DeviceNotificationInfo

	usn := hp.Header("USN")
	deviceID, deviceType, err := types.ParseUSN(usn)
	if err != nil {
		return info, fmt.Errorf("bad USN: %w", err)
	}
	info.DeviceID = deviceID
	info.DeviceType = deviceType
	info.Location = hp.Header("LOCATION")

	if hp.Method() == "NOTIFY" {
		nts := hp.Header("NTS")
		switch nts {
		case "ssdp:alive":
			info.Notification = types.Alive
		case "ssdp:byebye":
			info.Notification = types.ByeBye
		default:
			return info, fmt.Errorf("unrecognised NTS %q", nts)
		}
		if nt := hp.Header("NT"); nt != "" {
			info.DeviceType = nt
		}

		maxAge, err := types.ParseCacheControl(hp.Header("CACHE-CONTROL"))
		if err != nil {
			if info.Notification == types.Alive {
				return info, fmt.Errorf("bad cache-control: %w", err)
			}
			maxAge = 0
		}
		info.ExpirationTime = time.Duration(maxAge) * time.Second
	} else {
		if hp.Status() != 200 {
			return info, fmt.Errorf("search response status %d", hp.Status())
		}
		info.Notification = types.Alive
		if st := hp.Header("ST"); st != "" {
			info.DeviceType = st
		}

		maxAge, err := types.ParseCacheControl(hp.Header("CACHE-CONTROL"))
		if err != nil {
			return info, fmt.Errorf("bad cache-control: %w", err)
		}
		info.ExpirationTime = time.Duration(maxAge) * time.Second
	}

	return info, nil
}

// searchParser decodes an inbound M-SEARCH request, used by the SSDP
// server to answer search traffic. mx is nil for a unicast search with
// no MX header (respond immediately); otherwise it is the requested MX
// in seconds, still to be clamped and randomised by the caller.
type searchParser struct {
	hp *httpparser.Parser
	cb func(searchTarget string, mx *int)
}

func newSearchParser(cb func(string, *int)) *searchParser {
	p := &searchParser{hp: httpparser.New(httpparser.Request), cb: cb}
	p.hp.SetHeadersCompletedCallback(p.onHeaders)
	return p
}

func (p *searchParser) parse(msg []byte) {
	p.hp.Reset()
	if _, err := p.hp.Parse(msg); err != nil {
		log.Printf("[ssdp] dropping malformed search datagram: %v", err)
	}
}

func (p *searchParser) onHeaders() {
	if p.hp.Method() != "M-SEARCH" {
		return
	}
	if p.hp.Header("MAN") != `"ssdp:discover"` {
		return
	}

	mxHeader := p.hp.Header("MX")
	var mx *int
	if mxHeader != "" {
		var seconds int
		if _, err := fmt.Sscanf(mxHeader, "%d", &seconds); err == nil {
			mx = &seconds
		}
	}

	if p.cb != nil {
		p.cb(p.hp.Header("ST"), mx)
	}
}
