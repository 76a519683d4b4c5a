// Package mcast carries waveguide packets over an administratively scoped
// IPv4 multicast group on the local segment.
package mcast

import (
	"fmt"
	"net"
	"net/netip"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/net/ipv4"
)

const (
	// DefaultGroup is the group and port every instance joins.
	DefaultGroup = "239.0.0.143:4442"
	// TTL keeps packets within the local network segment.
	TTL = 2

	maxDatagram = 65535
	queueLen    = 64
)

// Packet is one received datagram.
type Packet struct {
	From netip.AddrPort
	Data []byte
}

// Conn is the socket pair: one bound to the group for receiving, one
// connected to it for sending.
type Conn struct {
	log     zerolog.Logger
	recv    net.PacketConn
	send    net.Conn
	packets chan Packet

	closeOnce sync.Once
	done      chan struct{}
}

// Listen joins group on ifname (the system default when empty) and starts
// the reader goroutine.
func Listen(group, ifname string, log zerolog.Logger) (*Conn, error) {
	addr, err := ParseGroup(group)
	if err != nil {
		return nil, err
	}
	var iface *net.Interface
	if ifname != "" {
		iface, err = net.InterfaceByName(ifname)
		if err != nil {
			return nil, fmt.Errorf("multicast interface %s: %w", ifname, err)
		}
	}

	// Binding the group address itself makes the kernel set SO_REUSEADDR,
	// so several instances on one host can share the port.
	recv, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	if err := ipv4.NewPacketConn(recv).JoinGroup(iface, &net.UDPAddr{IP: addr.IP}); err != nil {
		_ = recv.Close()
		return nil, fmt.Errorf("join %s: %w", addr.IP, err)
	}

	send, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		_ = recv.Close()
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if err := configureSender(ipv4.NewPacketConn(send), iface); err != nil {
		_ = recv.Close()
		_ = send.Close()
		return nil, err
	}

	log.Info().Str("group", addr.String()).Str("iface", ifname).Msg("joined multicast group")
	return newConn(recv, send, log), nil
}

func configureSender(p *ipv4.PacketConn, iface *net.Interface) error {
	if err := p.SetMulticastTTL(TTL); err != nil {
		return fmt.Errorf("set multicast ttl: %w", err)
	}
	// Fake identities on the same host must hear each other.
	if err := p.SetMulticastLoopback(true); err != nil {
		return fmt.Errorf("set multicast loopback: %w", err)
	}
	if iface != nil {
		if err := p.SetMulticastInterface(iface); err != nil {
			return fmt.Errorf("set multicast interface: %w", err)
		}
	}
	return nil
}

func newConn(recv net.PacketConn, send net.Conn, log zerolog.Logger) *Conn {
	c := &Conn{
		log:     log,
		recv:    recv,
		send:    send,
		packets: make(chan Packet, queueLen),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// ParseGroup resolves host:port and requires an IPv4 multicast address.
func ParseGroup(group string) (*net.UDPAddr, error) {
	ap, err := netip.ParseAddrPort(group)
	if err != nil {
		return nil, fmt.Errorf("multicast group %q: %w", group, err)
	}
	if !ap.Addr().Is4() || !ap.Addr().IsMulticast() {
		return nil, fmt.Errorf("multicast group %q: not an IPv4 multicast address", group)
	}
	return net.UDPAddrFromAddrPort(ap), nil
}

// Packets delivers received datagrams. It is closed when the receive
// socket fails or Close is called.
func (c *Conn) Packets() <-chan Packet {
	return c.packets
}

// Send writes one datagram to the group.
func (c *Conn) Send(data []byte) error {
	_, err := c.send.Write(data)
	return err
}

// Close stops the reader and releases both sockets.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.recv.Close()
		if serr := c.send.Close(); err == nil {
			err = serr
		}
	})
	return err
}

func (c *Conn) readLoop() {
	defer close(c.packets)
	buf := make([]byte, maxDatagram)
	for {
		n, addr, err := c.recv.ReadFrom(buf)
		if err != nil {
			select {
			case <-c.done:
			default:
				c.log.Error().Err(err).Msg("multicast receive failed")
			}
			return
		}
		p := Packet{Data: append([]byte(nil), buf[:n]...)}
		if ua, ok := addr.(*net.UDPAddr); ok {
			p.From = ua.AddrPort()
		}
		select {
		case c.packets <- p:
		case <-c.done:
			return
		default:
			c.log.Warn().Str("from", p.From.String()).Msg("receive queue full, dropping packet")
		}
	}
}
