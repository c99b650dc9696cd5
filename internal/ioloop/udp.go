package ioloop

import (
	"fmt"
	"net"
	"sync"

	"golang.org/x/net/ipv4"
)

// UDPSocket wraps a net.UDPConn plus its ipv4.PacketConn for multicast
// group/TTL control, and funnels reads and send completions through the
// owning Loop so callbacks never run concurrently with other loop work.
type UDPSocket struct {
	loop *Loop

	conn *net.UDPConn
	pc   *ipv4.PacketConn

	recvCb func(msg []byte, src *net.UDPAddr)

	closeMu sync.Mutex
	closed  bool
	wg      sync.WaitGroup
}

// Membership selects whether SetMembership joins or leaves a multicast
// group.
type Membership int

const (
	JoinGroup Membership = iota
	LeaveGroup
)

// NewUDPSocket binds a UDP socket on addr (use ":0" for an ephemeral
// port on all interfaces). The socket is opened with plain
// net.ListenUDP, which sets no SO_REUSEADDR for a non-multicast bind
// address, so binding a port another socket already holds fails.
func (l *Loop) NewUDPSocket(addr string) (*UDPSocket, error) {
	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve udp addr %q: %w", addr, err)
	}

	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen udp %q: %w", addr, err)
	}

	return &UDPSocket{
		loop: l,
		conn: conn,
		pc:   ipv4.NewPacketConn(conn),
	}, nil
}

// LocalAddr returns the bound local address.
func (s *UDPSocket) LocalAddr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// SetBroadcast enables or disables sending to broadcast addresses.
func (s *UDPSocket) SetBroadcast(enabled bool) error {
	// net.UDPConn has no direct broadcast toggle on most platforms; the
	// ability to send to 239.x/broadcast addrs is controlled by routing,
	// not a socket option, so this is a recorded no-op kept for parity
	// with the spec's socket primitive surface.
	return nil
}

// SetTTL sets the outbound multicast TTL (hop limit).
func (s *UDPSocket) SetTTL(ttl int) error {
	return s.pc.SetMulticastTTL(ttl)
}

// SetLoopback controls whether multicast datagrams sent by this socket
// are looped back to local listeners.
func (s *UDPSocket) SetLoopback(enabled bool) error {
	return s.pc.SetMulticastLoopback(enabled)
}

// SetMembership joins or leaves a multicast group on the single
// interface iface; callers loop over interfaces themselves.
func (s *UDPSocket) SetMembership(group net.IP, iface *net.Interface, action Membership) error {
	groupAddr := &net.UDPAddr{IP: group}
	switch action {
	case JoinGroup:
		return s.pc.JoinGroup(iface, groupAddr)
	case LeaveGroup:
		return s.pc.LeaveGroup(iface, groupAddr)
	default:
		return fmt.Errorf("unknown membership action %d", action)
	}
}

// Recv installs the callback invoked for every received datagram and
// starts a background reader goroutine that posts each datagram onto
// the loop. Recv must be called at most once per socket.
func (s *UDPSocket) Recv(cb func(msg []byte, src *net.UDPAddr)) {
	s.recvCb = cb
	s.wg.Add(1)
	go s.readLoop()
}

func (s *UDPSocket) readLoop() {
	defer s.wg.Done()
	buf := make([]byte, 65536)
	for {
		n, src, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		msg := make([]byte, n)
		copy(msg, buf[:n])
		s.loop.Post(func() {
			if s.recvCb != nil {
				s.recvCb(msg, src)
			}
		})
	}
}

// Send writes bytes to dest. cb, if non-nil, is posted onto the loop
// with the resulting status once the write completes. Send is tracked
// against the same WaitGroup Close waits on, so a send begun before
// Close is guaranteed to finish before Close's cb fires.
func (s *UDPSocket) Send(dest *net.UDPAddr, data []byte, cb func(err error)) {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		if cb != nil {
			s.loop.Post(func() { cb(net.ErrClosed) })
		}
		return
	}
	s.wg.Add(1)
	s.closeMu.Unlock()

	go func() {
		defer s.wg.Done()
		_, err := s.conn.WriteToUDP(data, dest)
		if cb != nil {
			s.loop.Post(func() { cb(err) })
		}
	}()
}

// Close closes the underlying socket. cb is invoked on the loop once
// the read goroutine has observed the close and returned, guaranteeing
// no further Recv callbacks fire afterward.
func (s *UDPSocket) Close(cb func()) {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		if cb != nil {
			s.loop.Post(cb)
		}
		return
	}
	s.closed = true
	s.closeMu.Unlock()

	s.conn.Close()
	go func() {
		s.wg.Wait()
		if cb != nil {
			s.loop.Post(cb)
		}
	}()
}
