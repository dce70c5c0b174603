package rebuild

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"reflect"

	"github.com/google/gopacket/layers"

	"sigscope/internal/models"
	"sigscope/internal/parser"
)

// handler resolves the edited form of one captured layer. orig is the
// entry the captured layer dissects to; entry is the caller's version.
type handler func(b *build, s *slot, orig, entry models.Layer) error

var handlers = map[models.Kind]handler{
	models.KindEther: overlayEthernet,
	models.KindIP:    overlayIPv4,
	models.KindIPv6:  overlayIPv6,
	models.KindTCP:   overlayTCP,
	models.KindUDP:   overlayUDP,
	models.KindSCTP:  overlaySCTP,
	models.KindHTTP:  rebuildHTTP,
}

func violation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", models.ErrStructuralViolation, fmt.Sprintf(format, args...))
}

func overlayEthernet(_ *build, s *slot, orig, entry models.Layer) error {
	eth, ok := s.orig.(*layers.Ethernet)
	if !ok {
		return violation("Ether entry over %s", layerType(s.orig))
	}
	e := entry.(models.Ether)
	src, err := net.ParseMAC(e.Src)
	if err != nil {
		return violation("Ether src %q", e.Src)
	}
	dst, err := net.ParseMAC(e.Dst)
	if err != nil {
		return violation("Ether dst %q", e.Dst)
	}
	cp := *eth
	cp.SrcMAC, cp.DstMAC = src, dst
	s.layer = &cp
	s.changed = e != orig.(models.Ether)
	return nil
}

func parseIP(addr string, v4 bool) (net.IP, error) {
	ip := net.ParseIP(addr)
	if ip == nil {
		return nil, violation("address %q", addr)
	}
	if v4 {
		if ip = ip.To4(); ip == nil {
			return nil, violation("address %q is not IPv4", addr)
		}
	} else if ip.To4() != nil {
		return nil, violation("address %q is not IPv6", addr)
	}
	return ip, nil
}

func overlayIPv4(_ *build, s *slot, orig, entry models.Layer) error {
	ip, ok := s.orig.(*layers.IPv4)
	if !ok {
		return violation("IP entry over %s", layerType(s.orig))
	}
	e := entry.(models.IP)
	src, err := parseIP(e.Src, true)
	if err != nil {
		return err
	}
	dst, err := parseIP(e.Dst, true)
	if err != nil {
		return err
	}
	cp := *ip
	cp.SrcIP, cp.DstIP = src, dst
	s.layer, s.network = &cp, &cp
	s.changed = !src.Equal(ip.SrcIP) || !dst.Equal(ip.DstIP)
	return nil
}

func overlayIPv6(_ *build, s *slot, orig, entry models.Layer) error {
	ip, ok := s.orig.(*layers.IPv6)
	if !ok {
		return violation("IPv6 entry over %s", layerType(s.orig))
	}
	e := entry.(models.IPv6)
	src, err := parseIP(e.Src, false)
	if err != nil {
		return err
	}
	dst, err := parseIP(e.Dst, false)
	if err != nil {
		return err
	}
	cp := *ip
	cp.SrcIP, cp.DstIP = src.To16(), dst.To16()
	// Extension headers are separate positions of the chain.
	cp.HopByHop = nil
	s.layer, s.network = &cp, &cp
	s.changed = !src.Equal(ip.SrcIP) || !dst.Equal(ip.DstIP)
	return nil
}

func overlayTCP(_ *build, s *slot, orig, entry models.Layer) error {
	tcp, ok := s.orig.(*layers.TCP)
	if !ok {
		return violation("TCP entry over %s", layerType(s.orig))
	}
	e := entry.(models.TCP)
	cp := *tcp
	cp.SrcPort, cp.DstPort = layers.TCPPort(e.Sport), layers.TCPPort(e.Dport)
	s.layer, s.transport = &cp, &cp
	s.changed = e != orig.(models.TCP)
	return nil
}

func overlayUDP(_ *build, s *slot, orig, entry models.Layer) error {
	udp, ok := s.orig.(*layers.UDP)
	if !ok {
		return violation("UDP entry over %s", layerType(s.orig))
	}
	e := entry.(models.UDP)
	cp := *udp
	cp.SrcPort, cp.DstPort = layers.UDPPort(e.Sport), layers.UDPPort(e.Dport)
	s.layer, s.transport = &cp, &cp
	s.changed = e != orig.(models.UDP)
	return nil
}

func overlaySCTP(_ *build, s *slot, orig, entry models.Layer) error {
	sctp, ok := s.orig.(*layers.SCTP)
	if !ok {
		return violation("SCTP entry over %s", layerType(s.orig))
	}
	if len(s.header) < 12 {
		return violation("SCTP header of %d bytes", len(s.header))
	}
	e := entry.(models.SCTP)
	cp := *sctp
	cp.SrcPort, cp.DstPort = layers.SCTPPort(e.Sport), layers.SCTPPort(e.Dport)
	s.layer = sctpHeader{sctp: &cp, checksum: s.header[8:12]}
	s.changed = e != orig.(models.SCTP)
	return nil
}

// rebuildHTTP re-emits the message head and body only when the entry was
// edited; an untouched message keeps its captured bytes.
func rebuildHTTP(_ *build, s *slot, orig, entry models.Layer) error {
	e := entry.(models.HTTPMessage)
	o := orig.(models.HTTPMessage)
	if e.Response != o.Response {
		return violation("%s entry over %s", e.LayerName(), o.LayerName())
	}
	if reflect.DeepEqual(e, o) {
		return nil
	}
	msg, err := parser.BuildHTTP(e)
	if err != nil {
		return err
	}
	s.header = msg
	s.changed = true
	return nil
}

// overlayBytes serves RawPayload and every layer without its own variant:
// literal edited bytes replace the captured contents.
func overlayBytes(_ *build, s *slot, orig, entry models.Layer) error {
	var edited models.Bytes
	switch e := entry.(type) {
	case models.RawPayload:
		edited = e.Bytes
	case models.Generic:
		if e.Name != orig.LayerName() {
			return violation("position holds %q, captured frame has %q", e.Name, orig.LayerName())
		}
		edited = e.Bytes
	}
	if edited == nil || bytesEqual(edited, s.header) {
		return nil
	}
	s.header = edited
	s.changed = true
	return nil
}

// chunkBody resolves the DATA chunk body from the tree entry at position i.
func (b *build) chunkBody(i int) ([]byte, error) {
	captured := b.dis.Chunk.Body
	switch {
	case i >= len(b.edited)+1:
		// The tree ends before the chunk header.
		return captured, nil
	case i == len(b.edited):
		// Header present without a body entry: an empty body, unless the
		// capture itself had no room for one.
		if i >= len(b.dis.Tree) {
			return captured, nil
		}
		return nil, nil
	}

	switch e := b.edited[i].(type) {
	case models.ApplicationPDU:
		if len(e.Data) > 0 {
			if o, ok := b.capturedPDU(i); ok && o.Protocol == e.Protocol && jsonEqual(o.Data, e.Data) {
				return captured, nil
			}
			return b.r.pdu.Encode(e.Protocol, e.Data)
		}
		if e.OriginData == "" {
			return nil, nil
		}
		body, err := hex.DecodeString(e.OriginData)
		if err != nil {
			return nil, violation("%s origin_data is not hex", e.Protocol)
		}
		return body, nil
	case models.ChunkPayload:
		return e.OriginData, nil
	case nil:
		return nil, violation("nil layer at position %d", i)
	default:
		return nil, violation("%q cannot carry a DATA chunk body", e.LayerName())
	}
}

func (b *build) capturedPDU(i int) (models.ApplicationPDU, bool) {
	if i >= len(b.dis.Tree) {
		return models.ApplicationPDU{}, false
	}
	p, ok := b.dis.Tree[i].(models.ApplicationPDU)
	return p, ok && p.Decoded()
}

// jsonEqual compares two structured trees by value, ignoring formatting.
func jsonEqual(a, b json.RawMessage) bool {
	va, err := decodeJSON(a)
	if err != nil {
		return false
	}
	vb, err := decodeJSON(b)
	if err != nil {
		return false
	}
	return reflect.DeepEqual(va, vb)
}

func decodeJSON(raw json.RawMessage) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	err := dec.Decode(&v)
	return v, err
}
