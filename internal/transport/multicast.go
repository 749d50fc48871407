// ABOUTME: Multicast socket factory
// ABOUTME: Builds the shared group sockets with TTL, loopback and QoS marking
package transport

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// Multicast group parameters. TTL/hop limit of 1 keeps traffic on the local
// segment; loopback stays enabled so the host hears its own stream for
// monitoring, and the receive path de-duplicates by HostId.
const (
	GroupV4 = "239.255.43.2"
	GroupV6 = "ff02::7667:7667"
	Port    = 7667
	TTL     = 1

	// Expedited Forwarding (DSCP 46) shifted into the TOS byte.
	dscpEF = 46 << 2
)

// MulticastLock is the platform shim that must be held while the group
// sockets are open. Android-equivalent platforms supply a real one; desktop
// uses NopLock.
type MulticastLock interface {
	Acquire() error
	Release()
}

// NopLock is the desktop multicast lock: nothing to hold.
type NopLock struct{}

func (NopLock) Acquire() error { return nil }
func (NopLock) Release()       {}

// Conn is one multicast group membership used for both send and receive.
// Loopback-echo de-duplication happens in the dispatcher, not here.
type Conn struct {
	udp   *net.UDPConn
	group *net.UDPAddr
	ipv6  bool
}

// ListenV4 joins an IPv4 party group on the given interface (nil for the
// system default). The socket binds the all-interfaces address with address
// reuse so multiple receivers on one host are allowed.
func ListenV4(ifi *net.Interface, group string, port int) (*Conn, error) {
	groupIP := net.ParseIP(group)
	if groupIP == nil || groupIP.To4() == nil {
		return nil, fmt.Errorf("invalid IPv4 multicast group %q", group)
	}

	lc := net.ListenConfig{Control: reuseAddr}
	pc, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("failed to bind multicast socket: %w", err)
	}
	udp := pc.(*net.UDPConn)

	p := ipv4.NewPacketConn(udp)
	if err := p.JoinGroup(ifi, &net.UDPAddr{IP: groupIP}); err != nil {
		udp.Close()
		return nil, fmt.Errorf("failed to join group %s: %w", group, err)
	}
	if err := p.SetMulticastTTL(TTL); err != nil {
		log.Printf("transport: failed to set multicast TTL: %v", err)
	}
	if err := p.SetMulticastLoopback(true); err != nil {
		log.Printf("transport: failed to enable multicast loopback: %v", err)
	}
	// Audio priority where the OS permits; failure is not fatal.
	if err := p.SetTOS(dscpEF); err != nil {
		log.Printf("transport: failed to set DSCP EF: %v", err)
	}

	log.Printf("transport: joined multicast group %s:%d", group, port)

	return &Conn{
		udp:   udp,
		group: &net.UDPAddr{IP: groupIP, Port: port},
	}, nil
}

// ListenV6 joins an IPv6 party group.
func ListenV6(ifi *net.Interface, group string, port int) (*Conn, error) {
	groupIP := net.ParseIP(group)
	if groupIP == nil || groupIP.To4() != nil {
		return nil, fmt.Errorf("invalid IPv6 multicast group %q", group)
	}

	lc := net.ListenConfig{Control: reuseAddr}
	pc, err := lc.ListenPacket(context.Background(), "udp6", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("failed to bind multicast socket: %w", err)
	}
	udp := pc.(*net.UDPConn)

	p := ipv6.NewPacketConn(udp)
	if err := p.JoinGroup(ifi, &net.UDPAddr{IP: groupIP}); err != nil {
		udp.Close()
		return nil, fmt.Errorf("failed to join group %s: %w", group, err)
	}
	if err := p.SetMulticastHopLimit(TTL); err != nil {
		log.Printf("transport: failed to set hop limit: %v", err)
	}
	if err := p.SetMulticastLoopback(true); err != nil {
		log.Printf("transport: failed to enable multicast loopback: %v", err)
	}
	if err := p.SetTrafficClass(dscpEF); err != nil {
		log.Printf("transport: failed to set traffic class: %v", err)
	}

	log.Printf("transport: joined multicast group [%s]:%d", group, port)

	return &Conn{
		udp:   udp,
		group: &net.UDPAddr{IP: groupIP, Port: port},
		ipv6:  true,
	}, nil
}

// Wrap adapts an already-bound UDP socket into a Conn sending toward dest.
// Used by tests to drive a Conn over a plain loopback socket.
func Wrap(udp *net.UDPConn, dest *net.UDPAddr) *Conn {
	return &Conn{udp: udp, group: dest}
}

// ReadFrom receives one datagram with the given timeout. A deadline expiry
// returns ok=false with no error: on the live path timeouts are data events,
// not failures.
func (c *Conn) ReadFrom(buf []byte, timeout time.Duration) (int, *net.UDPAddr, bool, error) {
	if err := c.udp.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, nil, false, err
	}
	n, addr, err := c.udp.ReadFromUDP(buf)
	if err != nil {
		if ne, isNetErr := err.(net.Error); isNetErr && ne.Timeout() {
			return 0, nil, false, nil
		}
		return 0, nil, false, err
	}
	return n, addr, true, nil
}

// WriteTo sends one datagram to the party group.
func (c *Conn) WriteTo(b []byte) error {
	_, err := c.udp.WriteToUDP(b, c.group)
	return err
}

// LocalAddr returns the bound address.
func (c *Conn) LocalAddr() net.Addr {
	return c.udp.LocalAddr()
}

// Close leaves the group.
func (c *Conn) Close() error {
	return c.udp.Close()
}

// LocalIP finds the non-loopback address this host sends from, used as the
// local HostId for loopback-echo de-duplication.
func LocalIP() (net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					return ipnet.IP, nil
				}
			}
		}
	}

	return nil, fmt.Errorf("no usable interface address found")
}
