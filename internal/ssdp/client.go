package ssdp

import (
	"fmt"
	"log"
	"net"
	"time"

	"github.com/wysentanu/upnpcore/internal/ifaces"
	"github.com/wysentanu/upnpcore/internal/ioloop"
	"github.com/wysentanu/upnpcore/internal/types"
)

// Client is the SSDP client of spec.md §4.3: it binds a UDP socket,
// joins the SSDP multicast group, issues M-SEARCH bursts and decodes
// NOTIFY/search-response traffic into DeviceNotificationInfo callbacks.
type Client struct {
	loop *ioloop.Loop

	searchTimeout time.Duration
	onNotify      func(types.DeviceNotificationInfo)

	sock   *ioloop.UDPSocket
	parser *notificationParser
}

// NewClient creates an SSDP client scheduled on loop. searchTimeout, if
// zero, defaults to 3s (the spec's MX default).
func NewClient(loop *ioloop.Loop, searchTimeout time.Duration) *Client {
	if searchTimeout <= 0 {
		searchTimeout = defaultSearchMX * time.Second
	}
	return &Client{loop: loop, searchTimeout: searchTimeout}
}

// SetNotificationCallback installs the callback invoked, on the loop
// goroutine and in arrival order, for every decoded NOTIFY or search
// response.
func (c *Client) SetNotificationCallback(cb func(types.DeviceNotificationInfo)) {
	c.onNotify = cb
}

// Run binds an ephemeral UDP port on bindAddr, joins the SSDP
// multicast group on every usable interface, and starts receiving.
// bindAddr defaults to ":0" (all interfaces) when empty.
func (c *Client) Run(bindAddr string) error {
	if bindAddr == "" {
		bindAddr = ":0"
	}

	sock, err := c.loop.NewUDPSocket(bindAddr)
	if err != nil {
		return fmt.Errorf("ssdp client: %w", err)
	}
	c.sock = sock

	if err := sock.SetBroadcast(true); err != nil {
		log.Printf("[ssdp client] set broadcast: %v", err)
	}
	if err := sock.SetTTL(clientTTL); err != nil {
		log.Printf("[ssdp client] set ttl: %v", err)
	}

	allIfaces, err := ifaces.Enumerate()
	if err != nil {
		return fmt.Errorf("ssdp client: %w", err)
	}
	for _, ifc := range allIfaces {
		if ifc.IsLoopback {
			continue
		}
		if err := sock.SetMembership(multicastIP, ifc.Raw(), ioloop.JoinGroup); err != nil {
			log.Printf("[ssdp client] join group on %s: %v", ifc.Name, err)
		}
	}

	c.parser = newNotificationParser(c.onNotify)
	sock.Recv(func(msg []byte, _ *net.UDPAddr) {
		c.parser.parse(msg)
	})

	return nil
}

// Search issues an M-SEARCH for target (default "ssdp:all") to destIp
// (default the SSDP multicast group), sent five times to absorb UDP
// loss as the spec requires. Delivery is fire-and-forget.
func (c *Client) Search(target string, destIP net.IP) {
	if target == "" {
		target = "ssdp:all"
	}
	dest := multicastUDPAddr()
	if destIP != nil {
		dest = &net.UDPAddr{IP: destIP, Port: 1900}
	}

	msg := fmt.Sprintf(
		"M-SEARCH * HTTP/1.1\r\n"+
			"HOST:%s\r\n"+
			"MAN:\"ssdp:discover\"\r\n"+
			"MX:%d\r\n"+
			"ST:%s\r\n"+
			"\r\n",
		dest.String(), int(c.searchTimeout/time.Second), target,
	)
	data := []byte(msg)

	for i := 0; i < searchBursts; i++ {
		c.sock.Send(dest, data, nil)
	}
}

// Close shuts down the client's socket.
func (c *Client) Close(cb func()) {
	if c.sock == nil {
		if cb != nil {
			c.loop.Post(cb)
		}
		return
	}
	c.sock.Close(cb)
}
