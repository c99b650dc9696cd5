package ssdp

import (
	"fmt"
	"log"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/wysentanu/upnpcore/internal/ifaces"
	"github.com/wysentanu/upnpcore/internal/ioloop"
	"github.com/wysentanu/upnpcore/internal/types"
)

// message is one precomputed SSDP datagram, built once at Run and
// rewritten on demand when a search response must advertise a
// requested (lower) version instead of the device's own.
type message struct {
	nt  string
	usn string
	alive string // full alive datagram text
	byebye string // full byebye datagram text
}

// Server is the root-device SSDP server of spec.md §4.4: periodic
// ssdp:alive announcements, M-SEARCH responses, and a best-effort
// ssdp:byebye burst on shutdown.
type Server struct {
	loop *ioloop.Loop

	sock  *ioloop.UDPSocket
	timer *ioloop.Timer

	device            *types.Device
	advertiseInterval time.Duration

	announceMsgs []string
	byebyeMsgs   []string

	rootMsg    message
	udnMsg     message
	deviceMsg  message
	serviceMsgs []message
}

// NewServer creates an SSDP server scheduled on loop.
func NewServer(loop *ioloop.Loop) *Server {
	return &Server{loop: loop}
}

// Run binds the socket, joins the multicast group, precomputes the
// announce/byebye message sets for device, and starts the announce
// schedule: burst the whole announce set broadcastRepeat (3) times
// with a jittered 50-200ms gap, then retransmit every advertiseInterval.
func (s *Server) Run(device *types.Device, advertiseInterval time.Duration) error {
	s.device = device
	s.advertiseInterval = advertiseInterval

	sock, err := s.loop.NewUDPSocket(":1900")
	if err != nil {
		return fmt.Errorf("ssdp server: %w", err)
	}
	s.sock = sock

	if err := sock.SetBroadcast(true); err != nil {
		log.Printf("[ssdp server] set broadcast: %v", err)
	}
	if err := sock.SetTTL(serverTTL); err != nil {
		log.Printf("[ssdp server] set ttl: %v", err)
	}

	allIfaces, err := ifaces.Enumerate()
	if err != nil {
		return fmt.Errorf("ssdp server: %w", err)
	}
	for _, ifc := range allIfaces {
		if ifc.IsLoopback {
			continue
		}
		if err := sock.SetMembership(multicastIP, ifc.Raw(), ioloop.JoinGroup); err != nil {
			log.Printf("[ssdp server] join group on %s: %v", ifc.Name, err)
		}
	}

	sock.Recv(func(msg []byte, src *net.UDPAddr) {
		s.handleDatagram(msg, src)
	})

	s.buildMessages()
	s.timer = s.loop.NewTimer()
	s.announce(broadcastRepeat)

	return nil
}

func (s *Server) handleDatagram(msg []byte, src *net.UDPAddr) {
	p := newSearchParser(func(st string, mx *int) {
		s.respondToSearch(st, mx, src)
	})
	p.parse(msg)
}

func (s *Server) buildMessages() {
	dev := s.device
	maxAge := 1800

	build := func(nt, usn string) message {
		return message{
			nt:  nt,
			usn: usn,
			alive: fmt.Sprintf(
				"NOTIFY * HTTP/1.1\r\n"+
					"HOST:239.255.255.250:1900\r\n"+
					"CACHE-CONTROL:max-age=%d\r\n"+
					"LOCATION:%s\r\n"+
					"SERVER: UPnP/1.1 upnpcore/1.0\r\n"+
					"NT:%s\r\n"+
					"NTS:ssdp:alive\r\n"+
					"USN:%s\r\n\r\n",
				maxAge, dev.Location, nt, usn),
			byebye: fmt.Sprintf(
				"NOTIFY * HTTP/1.1\r\n"+
					"HOST:239.255.255.250:1900\r\n"+
					"NT:%s\r\n"+
					"NTS:ssdp:byebye\r\n"+
					"USN:%s\r\n\r\n",
				nt, usn),
		}
	}

	s.rootMsg = build("upnp:rootdevice", dev.Udn+"::upnp:rootdevice")
	s.udnMsg = build(dev.Udn, dev.Udn)
	s.deviceMsg = build(types.FormatDeviceURN(dev.Type), dev.Udn+"::"+types.FormatDeviceURN(dev.Type))

	s.serviceMsgs = s.serviceMsgs[:0]
	for _, svc := range dev.Services {
		urn := types.FormatServiceURN(svc.Type)
		s.serviceMsgs = append(s.serviceMsgs, build(urn, dev.Udn+"::"+urn))
	}

	s.announceMsgs = []string{s.rootMsg.alive, s.udnMsg.alive, s.deviceMsg.alive}
	s.byebyeMsgs = []string{s.rootMsg.byebye, s.udnMsg.byebye, s.deviceMsg.byebye}
	for _, m := range s.serviceMsgs {
		s.announceMsgs = append(s.announceMsgs, m.alive)
		s.byebyeMsgs = append(s.byebyeMsgs, m.byebye)
	}
}

// announce transmits the full announce set, then reschedules itself:
// while repeatsLeft > 1 it retries after a uniform [50,200]ms jitter;
// once the initial burst is exhausted it falls back to advertiseInterval.
func (s *Server) announce(repeatsLeft int) {
	dest := multicastUDPAddr()
	for _, msg := range s.announceMsgs {
		s.sock.Send(dest, []byte(msg), nil)
	}

	if repeatsLeft > 1 {
		jitter := time.Duration(50+rand.Intn(151)) * time.Millisecond
		s.timer.Start(jitter, 0, func() { s.announce(repeatsLeft - 1) })
		return
	}

	interval := s.advertiseInterval
	if interval <= 0 {
		interval = 1800 * time.Second
	}
	s.timer.Start(interval, interval, func() { s.announce(1) })
}

func (s *Server) respondToSearch(searchTarget string, mx *int, src *net.UDPAddr) {
	var delay time.Duration
	if mx != nil {
		n := *mx
		if n > 120 {
			n = 120
		}
		if n > 0 {
			delay = time.Duration(rand.Intn(n*1000+1)) * time.Millisecond
		}
	}

	msgs := s.matchSearchTarget(searchTarget)
	if len(msgs) == 0 {
		return
	}

	timer := s.loop.NewTimer()
	timer.Start(delay, 0, func() {
		for _, msg := range msgs {
			s.sock.Send(src, []byte(toSearchResponse(msg)), nil)
		}
	})
}

// matchSearchTarget implements the ST dispatch table from spec.md §4.4.
func (s *Server) matchSearchTarget(st string) []message {
	dev := s.device

	switch {
	case st == "ssdp:all":
		all := []message{s.rootMsg, s.udnMsg, s.deviceMsg}
		return append(all, s.serviceMsgs...)
	case st == "upnp:rootdevice":
		return []message{s.rootMsg}
	case st == "uuid:"+dev.Udn:
		return []message{s.udnMsg}
	}

	if dt, err := types.ParseDeviceURN(st); err == nil {
		if dt.Kind == dev.Type.Kind && dt.Version <= dev.Type.Version {
			return []message{rewriteVersion(s.deviceMsg, st)}
		}
		return nil
	}

	if svcType, err := types.ParseServiceURN(st); err == nil {
		for _, svc := range dev.Services {
			if svc.Type.Kind == svcType.Kind && svcType.Version <= svc.Type.Version {
				for _, m := range s.serviceMsgs {
					if m.nt == types.FormatServiceURN(svc.Type) {
						return []message{rewriteVersion(m, st)}
					}
				}
			}
		}
	}

	return nil
}

// rewriteVersion rewrites a precomputed message to advertise the
// requested (lower-or-equal) version instead of the device's own, per
// the spec's ST-version-downgrade rule.
func rewriteVersion(m message, requestedNT string) message {
	m.nt = requestedNT
	if idx := strings.Index(m.usn, "::"); idx != -1 {
		m.usn = m.usn[:idx+2] + requestedNT
	}
	return m
}

func toSearchResponse(m message) string {
	// Reconstruct a status-line response from the alive NOTIFY's
	// fields; LOCATION/CACHE-CONTROL are embedded in m.alive already.
	location := headerFromMessage(m.alive, "LOCATION")
	cacheControl := headerFromMessage(m.alive, "CACHE-CONTROL")

	return fmt.Sprintf(
		"HTTP/1.1 200 OK\r\n"+
			"CACHE-CONTROL:%s\r\n"+
			"EXT:\r\n"+
			"LOCATION:%s\r\n"+
			"SERVER: UPnP/1.1 upnpcore/1.0\r\n"+
			"ST:%s\r\n"+
			"USN:%s\r\n\r\n",
		cacheControl, location, m.nt, m.usn)
}

func headerFromMessage(msg, name string) string {
	prefix := name + ":"
	for _, line := range splitLines(msg) {
		if len(line) > len(prefix) && line[:len(prefix)] == prefix {
			return line[len(prefix):]
		}
	}
	return ""
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i+1 < len(s); i++ {
		if s[i] == '\r' && s[i+1] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 2
			i++
		}
	}
	return lines
}

// Stop sends the byebye set once, best-effort, closes the socket and
// invokes cb exactly once.
func (s *Server) Stop(cb func()) {
	if s.timer != nil {
		s.timer.Stop()
	}
	if s.sock == nil {
		if cb != nil {
			s.loop.Post(cb)
		}
		return
	}

	dest := multicastUDPAddr()
	for _, msg := range s.byebyeMsgs {
		s.sock.Send(dest, []byte(msg), nil)
	}
	s.sock.Close(cb)
}
