package rebuild

import (
	"encoding/json"
	"net"
	"testing"

	"github.com/free5gc/aper"
	"github.com/free5gc/ngap/ngapType"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigscope/internal/fixture"
	"sigscope/internal/models"
	"sigscope/internal/parser"
	"sigscope/internal/pdu"
)

type env struct {
	dis *parser.Dissector
	pdu *pdu.Adapter
}

func newEnv() env {
	a := pdu.New(zerolog.Nop())
	return env{dis: parser.New(a), pdu: a}
}

func (e env) rebuilder(checksums bool) *Rebuilder {
	return New(e.dis, e.pdu, Options{ComputeChecksums: checksums})
}

func (e env) tree(frame []byte) models.Tree {
	return e.dis.Dissect(frame, layers.LinkTypeEthernet)
}

func ngapChunk(t *testing.T, cause aper.Enumerated, tsn uint32) []byte {
	raw := fixture.NGAPBytes(t, fixture.ErrorIndication(cause))
	return fixture.DataChunk(fixture.Chunk{Flags: fixture.Complete, TSN: tsn, StreamID: 1, PPID: pdu.PPIDNGAP, Body: raw})
}

func TestUneditedTreeIsByteIdentical(t *testing.T) {
	e := newEnv()
	frames := map[string][]byte{
		"ngap":         fixture.SCTPFrame(t, ngapChunk(t, ngapType.CauseMiscPresentUnspecified, 1)),
		"sack first":   fixture.SCTPFrame(t, fixture.SackChunk(3), ngapChunk(t, ngapType.CauseMiscPresentUnspecified, 4)),
		"bundled":      fixture.SCTPFrame(t, fixture.DataChunk(fixture.Chunk{Flags: 0x01, PPID: 18, Body: []byte{1, 2, 3}}), fixture.SackChunk(2)),
		"padded udp":   fixture.UDPFrame(t, 1234, 5678, []byte("hello")),
		"http":         fixture.TCPFrame(t, 40000, 8080, []byte("GET / HTTP/1.1\r\nHost: a\r\nX-Odd: 1\r\n\r\n")),
		"f1ap garbage": fixture.SCTPFrame(t, fixture.DataChunk(fixture.Chunk{Flags: fixture.Complete, PPID: pdu.PPIDF1AP, Body: fixture.F1APGarbage})),
		"arp":          fixture.ARPFrame(t),
	}
	for name, frame := range frames {
		t.Run(name, func(t *testing.T) {
			for _, checksums := range []bool{false, true} {
				out, err := e.rebuilder(checksums).Rebuild(frame, layers.LinkTypeEthernet, e.tree(frame))
				require.NoError(t, err)
				assert.Equal(t, frame, out)
			}
		})
	}
}

func TestTruncatedFramesRebuildVerbatim(t *testing.T) {
	e := newEnv()
	full := fixture.SCTPFrame(t, ngapChunk(t, ngapType.CauseMiscPresentUnspecified, 1))
	cuts := map[string]int{
		"ethernet header":   10,
		"ipv4 header":       14 + 12,
		"sctp header":       14 + 20 + 6,
		"data chunk header": 14 + 20 + 12 + 8,
		"chunk body":        len(full) - 3,
	}
	for name, cut := range cuts {
		t.Run(name, func(t *testing.T) {
			frame := full[:cut]
			tree := e.tree(frame)
			require.NoError(t, tree.Validate())
			for _, checksums := range []bool{false, true} {
				out, err := e.rebuilder(checksums).Rebuild(frame, layers.LinkTypeEthernet, tree)
				require.NoError(t, err)
				assert.Equal(t, frame, out)
			}
		})
	}
}

func TestRebuildAtDepthCap(t *testing.T) {
	e := newEnv()
	frame := fixture.NestedIPFrame(t, 20, []byte("deep"))
	tree := e.tree(frame)
	require.Len(t, tree, models.MaxDepth)

	out, err := e.rebuilder(true).RebuildFromNetwork(frame, layers.LinkTypeEthernet, tree)
	require.NoError(t, err)
	assert.Equal(t, frame[14:], out)
}

func TestUneditedTreeFromNetwork(t *testing.T) {
	e := newEnv()
	frame := fixture.UDPFrame(t, 1234, 5678, []byte("hello"))
	out, err := e.rebuilder(true).RebuildFromNetwork(frame, layers.LinkTypeEthernet, e.tree(frame))
	require.NoError(t, err)
	// Ethernet header and link padding are both dropped.
	assert.Equal(t, frame[14:14+20+8+5], out)
}

func TestShorterTreeKeepsCapturedRemainder(t *testing.T) {
	e := newEnv()
	frame := fixture.SCTPFrame(t, ngapChunk(t, ngapType.CauseMiscPresentUnspecified, 1))
	out, err := e.rebuilder(false).Rebuild(frame, layers.LinkTypeEthernet, e.tree(frame)[:2])
	require.NoError(t, err)
	assert.Equal(t, frame, out)
}

func TestEditNGAPCause(t *testing.T) {
	e := newEnv()
	frame := fixture.SCTPFrame(t, ngapChunk(t, ngapType.CauseMiscPresentUnspecified, 1))
	want := fixture.SCTPFrame(t, ngapChunk(t, ngapType.CauseMiscPresentHardwareFailure, 1))
	require.Equal(t, len(frame), len(want))

	data, err := json.Marshal(fixture.ErrorIndication(ngapType.CauseMiscPresentHardwareFailure))
	require.NoError(t, err)
	tree := e.tree(frame)
	tree[4] = models.ApplicationPDU{Protocol: models.ProtocolNGAP, Data: data}

	t.Run("checksums refreshed", func(t *testing.T) {
		out, err := e.rebuilder(true).Rebuild(frame, layers.LinkTypeEthernet, tree)
		require.NoError(t, err)
		assert.Equal(t, want, out)
		assert.True(t, fixture.CRCValid(out, fixture.SCTPOffset))
	})

	t.Run("captured checksums kept", func(t *testing.T) {
		out, err := e.rebuilder(false).Rebuild(frame, layers.LinkTypeEthernet, tree)
		require.NoError(t, err)
		require.Len(t, out, len(frame))
		bodyStart := fixture.SCTPOffset + 12 + 16
		for i := range out {
			if out[i] != frame[i] {
				assert.GreaterOrEqual(t, i, bodyStart, "byte %d changed outside the chunk body", i)
			}
		}
		assert.Equal(t, frame[fixture.SCTPOffset+8:fixture.SCTPOffset+12], out[fixture.SCTPOffset+8:fixture.SCTPOffset+12])
		assert.NotEqual(t, frame, out)
	})
}

func TestEditChunkHeader(t *testing.T) {
	e := newEnv()
	frame := fixture.SCTPFrame(t, ngapChunk(t, ngapType.CauseMiscPresentUnspecified, 1))
	tree := e.tree(frame)
	hdr := tree[3].(models.SCTPChunkData)
	hdr.TSN = 500
	tree[3] = hdr

	out, err := e.rebuilder(true).Rebuild(frame, layers.LinkTypeEthernet, tree)
	require.NoError(t, err)
	assert.Equal(t, fixture.SCTPFrame(t, ngapChunk(t, ngapType.CauseMiscPresentUnspecified, 500)), out)
}

func TestEditChunkKeepsBundledChunks(t *testing.T) {
	e := newEnv()
	sack := fixture.SackChunk(9)
	frame := fixture.SCTPFrame(t, fixture.DataChunk(fixture.Chunk{Flags: fixture.Complete, PPID: 18, Body: []byte{1, 2, 3}}), sack)
	tree := e.tree(frame)
	tree[4] = models.ChunkPayload{Protocol: "S1AP", OriginData: models.Bytes{9, 9, 9, 9, 9}}

	out, err := e.rebuilder(true).Rebuild(frame, layers.LinkTypeEthernet, tree)
	require.NoError(t, err)
	want := fixture.SCTPFrame(t, fixture.DataChunk(fixture.Chunk{Flags: fixture.Complete, PPID: 18, Body: []byte{9, 9, 9, 9, 9}}), sack)
	assert.Equal(t, want, out)
}

func TestChunkHeaderWithoutBodyEntry(t *testing.T) {
	e := newEnv()
	frame := fixture.SCTPFrame(t, ngapChunk(t, ngapType.CauseMiscPresentUnspecified, 1))
	out, err := e.rebuilder(true).Rebuild(frame, layers.LinkTypeEthernet, e.tree(frame)[:4])
	require.NoError(t, err)
	want := fixture.SCTPFrame(t, fixture.DataChunk(fixture.Chunk{Flags: fixture.Complete, TSN: 1, StreamID: 1, PPID: pdu.PPIDNGAP}))
	assert.Equal(t, want, out)
}

func TestMalformedPDUReplaysOrigin(t *testing.T) {
	e := newEnv()
	frame := fixture.SCTPFrame(t, fixture.DataChunk(fixture.Chunk{Flags: fixture.Complete, PPID: pdu.PPIDF1AP, Body: fixture.F1APGarbage}))
	tree := e.tree(frame)
	p := tree[4].(models.ApplicationPDU)
	p.OriginData = "00010041"
	tree[4] = p

	out, err := e.rebuilder(true).Rebuild(frame, layers.LinkTypeEthernet, tree)
	require.NoError(t, err)
	want := fixture.SCTPFrame(t, fixture.DataChunk(fixture.Chunk{Flags: fixture.Complete, PPID: pdu.PPIDF1AP, Body: []byte{0, 1, 0, 0x41}}))
	assert.Equal(t, want, out)
}

func TestEditUDPPorts(t *testing.T) {
	e := newEnv()
	frame := fixture.UDPFrame(t, 1234, 5678, []byte("hello"))
	tree := e.tree(frame)
	tree[2] = models.UDP{Sport: 1111, Dport: 5678}

	out, err := e.rebuilder(true).Rebuild(frame, layers.LinkTypeEthernet, tree)
	require.NoError(t, err)
	assert.Equal(t, fixture.UDPFrame(t, 1111, 5678, []byte("hello")), out)
}

func TestEditIPRefreshesTransportChecksum(t *testing.T) {
	e := newEnv()
	frame := fixture.UDPFrame(t, 1234, 5678, []byte("hello"))
	tree := e.tree(frame)
	tree[1] = models.IP{Src: "10.0.0.9", Dst: "10.0.0.2"}

	out, err := e.rebuilder(true).Rebuild(frame, layers.LinkTypeEthernet, tree)
	require.NoError(t, err)

	pkt := gopacket.NewPacket(out, layers.LinkTypeEthernet, gopacket.Default)
	ip := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	udp := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
	assert.Equal(t, "10.0.0.9", ip.SrcIP.String())

	orig := gopacket.NewPacket(frame, layers.LinkTypeEthernet, gopacket.Default).Layer(layers.LayerTypeUDP).(*layers.UDP)
	assert.NotEqual(t, orig.Checksum, udp.Checksum)
}

func TestEditHTTPHeader(t *testing.T) {
	e := newEnv()
	frame := fixture.TCPFrame(t, 40000, 8080, []byte("GET /a HTTP/1.1\r\nHost: old\r\nX-Odd: 1\r\n\r\n"))
	tree := e.tree(frame)
	msg := tree[3].(models.HTTPMessage)
	msg.Headers = append(models.Headers(nil), msg.Headers...)
	msg.Headers.Set("Host", "new.example")
	tree[3] = msg

	out, err := e.rebuilder(true).Rebuild(frame, layers.LinkTypeEthernet, tree)
	require.NoError(t, err)
	want := fixture.TCPFrame(t, 40000, 8080, []byte("GET /a HTTP/1.1\r\nHost: new.example\r\nX-Odd: 1\r\n\r\n"))
	assert.Equal(t, want, out)
}

func TestEditIPv6(t *testing.T) {
	e := newEnv()
	build := func(src string) []byte {
		ip := &layers.IPv6{Version: 6, HopLimit: 64, NextHeader: layers.IPProtocolUDP, SrcIP: net.ParseIP(src), DstIP: net.ParseIP("2001:db8::2")}
		udp := &layers.UDP{SrcPort: 9, DstPort: 9}
		require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
		buf := gopacket.NewSerializeBuffer()
		require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true},
			&layers.Ethernet{SrcMAC: fixture.SrcMAC, DstMAC: fixture.DstMAC, EthernetType: layers.EthernetTypeIPv6},
			ip, udp, gopacket.Payload("ping")))
		return append([]byte(nil), buf.Bytes()...)
	}
	frame := build("2001:db8::1")
	tree := e.tree(frame)
	require.Equal(t, models.KindIPv6, tree[1].Kind())

	tree[1] = models.IPv6{Src: "2001:db8::7", Dst: "2001:db8::2"}
	out, err := e.rebuilder(true).Rebuild(frame, layers.LinkTypeEthernet, tree)
	require.NoError(t, err)
	assert.Equal(t, build("2001:db8::7"), out)

	tree[1] = models.IPv6{Src: "10.0.0.1", Dst: "2001:db8::2"}
	_, err = e.rebuilder(true).Rebuild(frame, layers.LinkTypeEthernet, tree)
	assert.ErrorIs(t, err, models.ErrStructuralViolation)
}

func TestRebuildErrors(t *testing.T) {
	e := newEnv()
	sctpFrame := fixture.SCTPFrame(t, ngapChunk(t, ngapType.CauseMiscPresentUnspecified, 1))

	t.Run("unsupported message set", func(t *testing.T) {
		tree := e.tree(sctpFrame)
		tree[4] = models.ApplicationPDU{Protocol: "S1AP", Data: json.RawMessage(`{}`)}
		_, err := e.rebuilder(true).Rebuild(sctpFrame, layers.LinkTypeEthernet, tree)
		assert.ErrorIs(t, err, pdu.ErrUnsupportedMessageSet)
	})

	t.Run("undecodable tree", func(t *testing.T) {
		tree := e.tree(sctpFrame)
		tree[4] = models.ApplicationPDU{Protocol: models.ProtocolNGAP, Data: json.RawMessage(`{"Present":0}`)}
		_, err := e.rebuilder(true).Rebuild(sctpFrame, layers.LinkTypeEthernet, tree)
		assert.ErrorIs(t, err, pdu.ErrEncode)
	})

	t.Run("kind mismatch", func(t *testing.T) {
		tree := e.tree(sctpFrame)
		tree[2] = models.UDP{Sport: 1, Dport: 2}
		_, err := e.rebuilder(true).Rebuild(sctpFrame, layers.LinkTypeEthernet, tree)
		assert.ErrorIs(t, err, models.ErrStructuralViolation)
	})

	t.Run("raw payload under chunk", func(t *testing.T) {
		tree := e.tree(sctpFrame)
		tree[4] = models.RawPayload{Bytes: models.Bytes{1}}
		_, err := e.rebuilder(true).Rebuild(sctpFrame, layers.LinkTypeEthernet, tree)
		assert.ErrorIs(t, err, models.ErrStructuralViolation)
	})

	t.Run("bad mac", func(t *testing.T) {
		tree := e.tree(sctpFrame)
		tree[0] = models.Ether{Src: "nope", Dst: "02:00:00:00:00:02"}
		_, err := e.rebuilder(true).Rebuild(sctpFrame, layers.LinkTypeEthernet, tree)
		assert.ErrorIs(t, err, models.ErrStructuralViolation)
	})

	t.Run("renamed generic layer", func(t *testing.T) {
		arp := fixture.ARPFrame(t)
		tree := e.tree(arp)
		tree[1] = models.Generic{Name: "Dot1Q"}
		_, err := e.rebuilder(true).Rebuild(arp, layers.LinkTypeEthernet, tree)
		assert.ErrorIs(t, err, models.ErrStructuralViolation)
	})

	t.Run("no network layer", func(t *testing.T) {
		arp := fixture.ARPFrame(t)
		_, err := e.rebuilder(true).RebuildFromNetwork(arp, layers.LinkTypeEthernet, e.tree(arp))
		assert.ErrorIs(t, err, ErrNoNetworkLayer)
	})
}
