// Package ifaces enumerates usable network interfaces for binding SSDP
// sockets and for filling in the LOCATION host of advertised devices.
package ifaces

import (
	"fmt"
	"net"
)

// Interface is one {name, address, isLoopback} tuple as described by
// the spec's network-interface-enumeration component.
type Interface struct {
	Name       string
	Addr       net.IP
	IsLoopback bool
	raw        net.Interface
}

// Raw returns the underlying net.Interface, needed by socket calls that
// take a *net.Interface (multicast group join/leave).
func (i Interface) Raw() *net.Interface {
	return &i.raw
}

// Enumerate lists every interface that is up and has at least one IPv4
// address, loopback included, one entry per interface for its first
// IPv4 address.
func Enumerate() ([]Interface, error) {
	ifs, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("enumerate interfaces: %w", err)
	}

	var out []Interface
	for _, iface := range ifs {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			v4 := ipNet.IP.To4()
			if v4 == nil {
				continue
			}
			out = append(out, Interface{
				Name:       iface.Name,
				Addr:       v4,
				IsLoopback: iface.Flags&net.FlagLoopback != 0,
				raw:        iface,
			})
			break
		}
	}
	return out, nil
}

// ByName returns the first interface matching name (loopback or not).
// If name is empty it returns the first non-loopback interface, or the
// first interface of any kind when only loopback ones exist.
func ByName(name string) (Interface, error) {
	all, err := Enumerate()
	if err != nil {
		return Interface{}, err
	}

	if name != "" {
		for _, i := range all {
			if i.Name == name {
				return i, nil
			}
		}
		return Interface{}, fmt.Errorf("interface %q not found", name)
	}

	for _, i := range all {
		if !i.IsLoopback {
			return i, nil
		}
	}
	for _, i := range all {
		return i, nil
	}
	return Interface{}, fmt.Errorf("no usable network interface found")
}
