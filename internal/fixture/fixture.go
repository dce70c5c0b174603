// Package fixture builds frames and capture files for tests.
package fixture

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"net"
	"testing"
	"time"

	"github.com/free5gc/aper"
	"github.com/free5gc/ngap"
	"github.com/free5gc/ngap/ngapType"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/require"
)

var (
	SrcMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	DstMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
	SrcIP  = net.IP{10, 0, 0, 1}
	DstIP  = net.IP{10, 0, 0, 2}
)

const (
	SCTPSrcPort = 38412
	SCTPDstPort = 38412
	VerifyTag   = 0x01020304
)

// Chunk describes one SCTP DATA chunk.
type Chunk struct {
	Flags     uint8
	TSN       uint32
	StreamID  uint16
	StreamSeq uint16
	PPID      uint32
	Body      []byte
}

// Complete flags a chunk holding a whole message (B and E bits).
const Complete = 0x03

// DataChunk serializes c with its padding.
func DataChunk(c Chunk) []byte {
	out := make([]byte, 16, 16+len(c.Body)+3)
	out[0] = 0
	out[1] = c.Flags
	binary.BigEndian.PutUint16(out[2:4], uint16(16+len(c.Body)))
	binary.BigEndian.PutUint32(out[4:8], c.TSN)
	binary.BigEndian.PutUint16(out[8:10], c.StreamID)
	binary.BigEndian.PutUint16(out[10:12], c.StreamSeq)
	binary.BigEndian.PutUint32(out[12:16], c.PPID)
	out = append(out, c.Body...)
	for len(out)%4 != 0 {
		out = append(out, 0)
	}
	return out
}

// SackChunk is a minimal SACK chunk, used to place a control chunk ahead of
// or behind a DATA chunk.
func SackChunk(cumTSN uint32) []byte {
	out := make([]byte, 16)
	out[0] = uint8(layers.SCTPChunkTypeSack)
	binary.BigEndian.PutUint16(out[2:4], 16)
	binary.BigEndian.PutUint32(out[4:8], cumTSN)
	binary.BigEndian.PutUint32(out[8:12], 65535)
	return out
}

func serialize(t testing.TB, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ls...))
	return append([]byte(nil), buf.Bytes()...)
}

func ethernet(typ layers.EthernetType) *layers.Ethernet {
	return &layers.Ethernet{SrcMAC: SrcMAC, DstMAC: DstMAC, EthernetType: typ}
}

func ipv4(proto layers.IPProtocol) *layers.IPv4 {
	return &layers.IPv4{Version: 4, TTL: 64, Id: 0x1234, Flags: layers.IPv4DontFragment, Protocol: proto, SrcIP: SrcIP, DstIP: DstIP}
}

// SCTPFrame builds Ethernet/IPv4/SCTP carrying the given raw chunks, with
// valid IPv4 and CRC32c checksums.
func SCTPFrame(t testing.TB, chunks ...[]byte) []byte {
	t.Helper()
	sctp := &layers.SCTP{SrcPort: SCTPSrcPort, DstPort: SCTPDstPort, VerificationTag: VerifyTag}
	return serialize(t, ethernet(layers.EthernetTypeIPv4), ipv4(layers.IPProtocolSCTP), sctp, gopacket.Payload(bytes.Join(chunks, nil)))
}

// UDPFrame builds Ethernet/IPv4/UDP with payload. Short frames are padded
// to the Ethernet minimum.
func UDPFrame(t testing.TB, sport, dport uint16, payload []byte) []byte {
	t.Helper()
	ip := ipv4(layers.IPProtocolUDP)
	udp := &layers.UDP{SrcPort: layers.UDPPort(sport), DstPort: layers.UDPPort(dport)}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	return serialize(t, ethernet(layers.EthernetTypeIPv4), ip, udp, gopacket.Payload(payload))
}

// TCPFrame builds Ethernet/IPv4/TCP with payload.
func TCPFrame(t testing.TB, sport, dport uint16, payload []byte) []byte {
	t.Helper()
	ip := ipv4(layers.IPProtocolTCP)
	tcp := &layers.TCP{SrcPort: layers.TCPPort(sport), DstPort: layers.TCPPort(dport), Seq: 1000, Ack: 2000, PSH: true, ACK: true, Window: 502}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
	return serialize(t, ethernet(layers.EthernetTypeIPv4), ip, tcp, gopacket.Payload(payload))
}

// NestedIPFrame builds Ethernet and depth IPv4 headers, each carrying the
// next as IP-in-IP, around a UDP datagram.
func NestedIPFrame(t testing.TB, depth int, payload []byte) []byte {
	t.Helper()
	ls := []gopacket.SerializableLayer{ethernet(layers.EthernetTypeIPv4)}
	for i := 1; i < depth; i++ {
		ls = append(ls, ipv4(layers.IPProtocolIPv4))
	}
	inner := ipv4(layers.IPProtocolUDP)
	udp := &layers.UDP{SrcPort: 1234, DstPort: 5678}
	require.NoError(t, udp.SetNetworkLayerForChecksum(inner))
	ls = append(ls, inner, udp, gopacket.Payload(payload))
	return serialize(t, ls...)
}

// ARPFrame builds a frame without a network layer.
func ARPFrame(t testing.TB) []byte {
	t.Helper()
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   SrcMAC,
		SourceProtAddress: SrcIP,
		DstHwAddress:      make([]byte, 6),
		DstProtAddress:    DstIP,
	}
	return serialize(t, ethernet(layers.EthernetTypeARP), arp)
}

// SCTPOffset is where the SCTP common header starts in an SCTPFrame.
const SCTPOffset = 14 + 20

// CRCValid reports whether the SCTP packet starting at offset carries a
// correct CRC32c.
func CRCValid(packet []byte, offset int) bool {
	sctp := append([]byte(nil), packet[offset:]...)
	want := binary.LittleEndian.Uint32(sctp[8:12])
	copy(sctp[8:12], []byte{0, 0, 0, 0})
	return crc32.Checksum(sctp, crc32.MakeTable(crc32.Castagnoli)) == want
}

// Pcap writes frames into a classic pcap file, one second apart.
func Pcap(t testing.TB, frames ...[]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	for i, f := range frames {
		require.NoError(t, w.WritePacket(CaptureInfo(i, f), f))
	}
	return buf.Bytes()
}

// PcapNG writes frames into a pcapng file.
func PcapNG(t testing.TB, frames ...[]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := pcapgo.NewNgWriter(&buf, layers.LinkTypeEthernet)
	require.NoError(t, err)
	for i, f := range frames {
		require.NoError(t, w.WritePacket(CaptureInfo(i, f), f))
	}
	require.NoError(t, w.Flush())
	return buf.Bytes()
}

// CaptureInfo is the metadata frame i of a fixture capture is written with.
func CaptureInfo(i int, frame []byte) gopacket.CaptureInfo {
	return gopacket.CaptureInfo{
		Timestamp:     time.Unix(1700000000+int64(i), 250000000).UTC(),
		CaptureLength: len(frame),
		Length:        len(frame),
	}
}

// ErrorIndication is an NGAP ErrorIndication with a single misc cause.
func ErrorIndication(cause aper.Enumerated) ngapType.NGAPPDU {
	pdu := ngapType.NGAPPDU{
		Present:           ngapType.NGAPPDUPresentInitiatingMessage,
		InitiatingMessage: new(ngapType.InitiatingMessage),
	}
	msg := pdu.InitiatingMessage
	msg.ProcedureCode.Value = ngapType.ProcedureCodeErrorIndication
	msg.Criticality.Value = ngapType.CriticalityPresentIgnore
	msg.Value.Present = ngapType.InitiatingMessagePresentErrorIndication
	msg.Value.ErrorIndication = new(ngapType.ErrorIndication)

	ie := ngapType.ErrorIndicationIEs{}
	ie.Id.Value = ngapType.ProtocolIEIDCause
	ie.Criticality.Value = ngapType.CriticalityPresentIgnore
	ie.Value.Present = ngapType.ErrorIndicationIEsPresentCause
	ie.Value.Cause = &ngapType.Cause{
		Present: ngapType.CausePresentMisc,
		Misc:    &ngapType.CauseMisc{Value: cause},
	}
	list := &msg.Value.ErrorIndication.ProtocolIEs
	list.List = append(list.List, ie)
	return pdu
}

// NGAPBytes APER-encodes pdu.
func NGAPBytes(t testing.TB, pdu ngapType.NGAPPDU) []byte {
	t.Helper()
	b, err := ngap.Encoder(pdu)
	require.NoError(t, err)
	return b
}

// F1APSetup is an F1AP InitiatingMessage envelope (procedure code 1,
// reject) around a three-byte open-type value.
var F1APSetup = []byte{0x00, 0x01, 0x00, 0x03, 0x00, 0x00, 0x00}

// F1APGarbage claims a 64-byte value but ends after the length.
var F1APGarbage = []byte{0x00, 0x01, 0x00, 0x40}
