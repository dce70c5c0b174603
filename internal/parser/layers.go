package parser

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"sigscope/internal/models"
	"sigscope/internal/pdu"
)

// Dissector turns raw frames into layer trees.
type Dissector struct {
	pdu *pdu.Adapter
}

// New returns a dissector that classifies SCTP chunk bodies with adapter.
func New(adapter *pdu.Adapter) *Dissector {
	return &Dissector{pdu: adapter}
}

// Dissection is a tree together with the gopacket layers it was built
// from. Layers[i] produced Tree[i]; the chunk body entry has a nil layer.
type Dissection struct {
	Tree   models.Tree
	Layers []gopacket.Layer
	// Chunk is set when an SCTP DATA chunk ended the walk.
	Chunk *ChunkSpan
}

// ChunkSpan locates a DATA chunk inside its SCTP packet.
type ChunkSpan struct {
	// Index is the tree position of the chunk header.
	Index int
	// Region runs from the chunk header to the end of the SCTP packet.
	Region []byte
	// Body is the user data, without padding.
	Body []byte
	// Trailing holds the chunks bundled after this one.
	Trailing []byte
}

// Dissect returns the layer tree of data. It never fails: bytes that do not
// decode end up in a RawPayload entry.
func (d *Dissector) Dissect(data []byte, link gopacket.Decoder) models.Tree {
	return d.Walk(data, link).Tree
}

// Walk dissects data and keeps the gopacket layers aligned with the tree.
func (d *Dissector) Walk(data []byte, link gopacket.Decoder) Dissection {
	pkt := gopacket.NewPacket(data, link, gopacket.DecodeOptions{NoCopy: true})
	chain, failed := salvage(pkt.Layers(), data)
	w := &walker{d: d}
	for i, l := range chain {
		if len(w.out.Tree) >= models.MaxDepth {
			break
		}
		fn, ok := layerFuncs[l.LayerType()]
		if !ok {
			fn = dissectGeneric
		}
		if i == failed {
			fn = dissectRaw
		}
		if fn(w, l) {
			break
		}
	}
	if len(w.out.Tree) == 0 {
		w.add(models.RawPayload{Bytes: copyBytes(data)}, nil)
	}
	return w.out
}

// salvage folds a layer that failed to decode into a payload holding the
// bytes it was given. gopacket adds the half-decoded layer to the chain
// before the DecodeFailure, and the failure then carries no bytes. The
// returned index is the folded position, or -1.
func salvage(chain []gopacket.Layer, data []byte) ([]gopacket.Layer, int) {
	n := len(chain)
	if n < 2 || chain[n-1].LayerType() != gopacket.LayerTypeDecodeFailure || len(chain[n-1].LayerContents()) > 0 {
		return chain, -1
	}
	given := data
	if n >= 3 {
		given = chain[n-3].LayerPayload()
	}
	return append(chain[:n-2:n-2], gopacket.Payload(given)), n - 2
}

type walker struct {
	d   *Dissector
	out Dissection

	sctp *layers.SCTP
	// chunkOffset counts SCTP payload bytes taken by chunks already walked.
	chunkOffset int
}

func (w *walker) add(entry models.Layer, l gopacket.Layer) {
	w.out.Tree = append(w.out.Tree, entry)
	w.out.Layers = append(w.out.Layers, l)
}

// layerFunc appends the entry for l and reports whether descent stops.
type layerFunc func(w *walker, l gopacket.Layer) bool

var layerFuncs = map[gopacket.LayerType]layerFunc{
	layers.LayerTypeEthernet:        dissectEthernet,
	layers.LayerTypeIPv4:            dissectIPv4,
	layers.LayerTypeIPv6:            dissectIPv6,
	layers.LayerTypeTCP:             dissectTCP,
	layers.LayerTypeUDP:             dissectUDP,
	layers.LayerTypeSCTP:            dissectSCTP,
	layers.LayerTypeSCTPData:        dissectSCTPData,
	gopacket.LayerTypePayload:       dissectPayload,
	gopacket.LayerTypeDecodeFailure: dissectRaw,
}

func dissectEthernet(w *walker, l gopacket.Layer) bool {
	eth := l.(*layers.Ethernet)
	w.add(models.Ether{Src: eth.SrcMAC.String(), Dst: eth.DstMAC.String()}, l)
	return false
}

func dissectIPv4(w *walker, l gopacket.Layer) bool {
	ip := l.(*layers.IPv4)
	w.add(models.IP{Src: ip.SrcIP.String(), Dst: ip.DstIP.String()}, l)
	return false
}

func dissectIPv6(w *walker, l gopacket.Layer) bool {
	ip := l.(*layers.IPv6)
	w.add(models.IPv6{Src: ip.SrcIP.String(), Dst: ip.DstIP.String()}, l)
	return false
}

func dissectTCP(w *walker, l gopacket.Layer) bool {
	tcp := l.(*layers.TCP)
	w.add(models.TCP{Sport: uint16(tcp.SrcPort), Dport: uint16(tcp.DstPort)}, l)
	return false
}

func dissectUDP(w *walker, l gopacket.Layer) bool {
	udp := l.(*layers.UDP)
	w.add(models.UDP{Sport: uint16(udp.SrcPort), Dport: uint16(udp.DstPort)}, l)
	return false
}

func dissectSCTP(w *walker, l gopacket.Layer) bool {
	sctp := l.(*layers.SCTP)
	w.sctp = sctp
	w.chunkOffset = 0
	w.add(models.SCTP{Sport: uint16(sctp.SrcPort), Dport: uint16(sctp.DstPort)}, l)
	return false
}

// dissectSCTPData emits the chunk header and its body, then stops: nothing
// below a DATA chunk is walked.
func dissectSCTPData(w *walker, l gopacket.Layer) bool {
	chunk := l.(*layers.SCTPData)
	span := w.chunkSpan(chunk)
	span.Index = len(w.out.Tree)
	w.out.Chunk = span

	w.add(ChunkEntry(chunk), l)
	if len(w.out.Tree) < models.MaxDepth {
		body := w.d.pdu.ClassifyChunk(uint32(chunk.PayloadProtocol), chunk.BeginFragment, chunk.EndFragment, span.Body)
		w.add(body, nil)
	}
	return true
}

// ChunkEntry maps a decoded DATA chunk header to its tree entry.
func ChunkEntry(chunk *layers.SCTPData) models.SCTPChunkData {
	return models.SCTPChunkData{
		Reserved:  chunk.Flags >> 4,
		DelaySack: chunk.Flags&0x08 != 0,
		Unordered: chunk.Unordered,
		Beginning: chunk.BeginFragment,
		Ending:    chunk.EndFragment,
		TSN:       chunk.TSN,
		StreamID:  chunk.StreamId,
		StreamSeq: chunk.StreamSequence,
		ProtoID:   uint32(chunk.PayloadProtocol),
	}
}

// chunkSpan cuts the chunk out of the SCTP payload using the chunk length
// field. gopacket hands the DATA chunk everything up to the end of the
// packet, bundled chunks included.
func (w *walker) chunkSpan(chunk *layers.SCTPData) *ChunkSpan {
	var region []byte
	if w.sctp != nil && w.chunkOffset <= len(w.sctp.Payload) {
		region = w.sctp.Payload[w.chunkOffset:]
	} else {
		region = append(append([]byte{}, chunk.Contents...), chunk.Payload...)
	}
	if len(region) < 16 {
		return &ChunkSpan{Region: region}
	}
	end := clamp(int(chunk.Length), 16, len(region))
	padded := clamp((int(chunk.Length)+3)&^3, end, len(region))
	return &ChunkSpan{
		Region:   region,
		Body:     region[16:end],
		Trailing: region[padded:],
	}
}

func dissectPayload(w *walker, l gopacket.Layer) bool {
	data := l.LayerContents()
	if isHTTP(data) {
		if msg, ok := parseHTTP(data); ok {
			w.add(msg, l)
			return true
		}
	}
	w.add(models.RawPayload{Bytes: copyBytes(data)}, l)
	return false
}

func dissectRaw(w *walker, l gopacket.Layer) bool {
	w.add(models.RawPayload{Bytes: copyBytes(l.LayerContents())}, l)
	return false
}

// dissectGeneric names any other layer after its gopacket type. SCTP
// control chunks ahead of a DATA chunk advance the chunk offset.
func dissectGeneric(w *walker, l gopacket.Layer) bool {
	if w.sctp != nil {
		w.chunkOffset += len(l.LayerContents())
	}
	w.add(models.Generic{Name: l.LayerType().String()}, l)
	return false
}

func copyBytes(b []byte) models.Bytes {
	return models.Bytes(append([]byte{}, b...))
}

func clamp(v, lo, hi int) int {
	if v > hi {
		v = hi
	}
	if v < lo {
		v = lo
	}
	return v
}
