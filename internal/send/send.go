// Package send puts rebuilt packets on the wire at the network layer.
package send

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/rs/zerolog"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// ErrMalformedPacket is returned for bytes that do not start with a
// usable IPv4 or IPv6 header.
var ErrMalformedPacket = errors.New("malformed network packet")

// Sender transmits one network-layer packet.
type Sender interface {
	Send(packet []byte) error
}

// RawSender writes packets through raw IP sockets. The IPv4 header is
// written as given; for IPv6 the kernel builds the fixed header from the
// source, destination and hop limit of the packet. It needs CAP_NET_RAW.
type RawSender struct {
	log zerolog.Logger
}

// NewRawSender returns a sender over raw sockets.
func NewRawSender(log zerolog.Logger) *RawSender {
	return &RawSender{log: log.With().Str("component", "send").Logger()}
}

// Send transmits packet, which must start with an IP header.
func (s *RawSender) Send(packet []byte) error {
	if len(packet) == 0 {
		return fmt.Errorf("%w: empty packet", ErrMalformedPacket)
	}
	switch packet[0] >> 4 {
	case ipv4.Version:
		return s.send4(packet)
	case ipv6.Version:
		return s.send6(packet)
	}
	return fmt.Errorf("%w: IP version %d", ErrMalformedPacket, packet[0]>>4)
}

func (s *RawSender) send4(packet []byte) error {
	h, err := ipv4.ParseHeader(packet)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPacket, err)
	}
	if h.Len > len(packet) {
		return fmt.Errorf("%w: header length %d exceeds packet", ErrMalformedPacket, h.Len)
	}

	c, err := net.ListenPacket("ip4:"+strconv.Itoa(h.Protocol), "0.0.0.0")
	if err != nil {
		return fmt.Errorf("open raw socket: %w", err)
	}
	defer c.Close()

	raw, err := ipv4.NewRawConn(c)
	if err != nil {
		return fmt.Errorf("open raw socket: %w", err)
	}
	if err := raw.WriteTo(h, packet[h.Len:], nil); err != nil {
		return fmt.Errorf("send to %s: %w", h.Dst, err)
	}
	s.log.Debug().Str("dst", h.Dst.String()).Int("proto", h.Protocol).Int("bytes", len(packet)).Msg("packet sent")
	return nil
}

const ipv6HeaderLen = 40

func (s *RawSender) send6(packet []byte) error {
	if len(packet) < ipv6HeaderLen {
		return fmt.Errorf("%w: short IPv6 header", ErrMalformedPacket)
	}
	next := int(packet[6])
	hopLimit := int(packet[7])
	src := net.IP(packet[8:24])
	dst := net.IP(packet[24:40])

	c, err := net.ListenPacket("ip6:"+strconv.Itoa(next), "::")
	if err != nil {
		return fmt.Errorf("open raw socket: %w", err)
	}
	defer c.Close()

	cm := &ipv6.ControlMessage{Src: src, HopLimit: hopLimit}
	if _, err := ipv6.NewPacketConn(c).WriteTo(packet[ipv6HeaderLen:], cm, &net.IPAddr{IP: dst}); err != nil {
		return fmt.Errorf("send to %s: %w", dst, err)
	}
	s.log.Debug().Str("dst", dst.String()).Int("next_header", next).Int("bytes", len(packet)).Msg("packet sent")
	return nil
}

// DryRun logs packets instead of sending them.
type DryRun struct {
	log zerolog.Logger
}

// NewDryRun returns a sender that only logs.
func NewDryRun(log zerolog.Logger) *DryRun {
	return &DryRun{log: log.With().Str("component", "send").Logger()}
}

func (d *DryRun) Send(packet []byte) error {
	d.log.Info().Int("bytes", len(packet)).Hex("packet", packet).Msg("dry run, packet not sent")
	return nil
}
