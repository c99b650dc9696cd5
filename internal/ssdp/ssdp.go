// Package ssdp implements the SSDP client and server described in
// spec.md §4.3/§4.4: HTTP-over-UDP-multicast discovery, building on
// internal/ioloop for scheduling and internal/httpparser for decoding.
package ssdp

import "net"

const (
	// MulticastAddr is the well-known SSDP multicast group and port.
	MulticastAddr = "239.255.255.250:1900"

	defaultSearchMX = 3
	searchBursts    = 5
	serverTTL       = 2
	clientTTL       = 4
	broadcastRepeat = 3
)

var multicastIP = net.ParseIP("239.255.255.250")

func multicastUDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: multicastIP, Port: 1900}
}
