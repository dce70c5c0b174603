// Package rebuild turns an edited layer tree back into frame bytes, using
// the captured frame as the template for everything the tree does not say.
package rebuild

import (
	"errors"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"sigscope/internal/models"
	"sigscope/internal/parser"
	"sigscope/internal/pdu"
)

// ErrNoNetworkLayer is returned by RebuildFromNetwork for a frame without
// an IPv4 or IPv6 layer.
var ErrNoNetworkLayer = errors.New("frame has no network layer")

// Options controls how re-serialized layers are written.
type Options struct {
	// ComputeChecksums refreshes the IPv4, TCP, UDP and SCTP checksums of
	// every layer that is re-serialized. When off, captured checksum values
	// are written back unchanged.
	ComputeChecksums bool
}

// Rebuilder reconstructs frames from edited trees.
type Rebuilder struct {
	dissector *parser.Dissector
	pdu       *pdu.Adapter
	opts      Options
}

// New returns a Rebuilder. The dissector must be the one the trees were
// produced with, so the captured chain lines up with the tree positions.
func New(d *parser.Dissector, adapter *pdu.Adapter, opts Options) *Rebuilder {
	return &Rebuilder{dissector: d, pdu: adapter, opts: opts}
}

// Rebuild reconstructs the whole frame, link layer included.
func (r *Rebuilder) Rebuild(frame []byte, link gopacket.Decoder, edited models.Tree) ([]byte, error) {
	return r.rebuild(frame, link, edited, false)
}

// RebuildFromNetwork reconstructs the frame starting at its first IPv4 or
// IPv6 layer. Link framing is left to the sending stack.
func (r *Rebuilder) RebuildFromNetwork(frame []byte, link gopacket.Decoder, edited models.Tree) ([]byte, error) {
	return r.rebuild(frame, link, edited, true)
}

// slot is one position of the captured chain during a rebuild.
type slot struct {
	orig gopacket.Layer
	// header is emitted when the slot is copied verbatim.
	header []byte
	// rest is the captured payload of the innermost slot.
	rest []byte
	// trailer follows the inner layers inside this one, such as link
	// padding after an IP packet.
	trailer []byte

	// layer serializes the edited form of the slot.
	layer   gopacket.SerializableLayer
	changed bool
	dirty   bool

	network   gopacket.NetworkLayer
	transport interface {
		SetNetworkLayerForChecksum(gopacket.NetworkLayer) error
	}
}

type build struct {
	r      *Rebuilder
	dis    parser.Dissection
	edited models.Tree
	frame  []byte
	slots  []slot
	start  int
}

func (r *Rebuilder) rebuild(frame []byte, link gopacket.Decoder, edited models.Tree, fromNetwork bool) ([]byte, error) {
	dis := r.dissector.Walk(frame, link)

	n := len(dis.Tree)
	if dis.Chunk != nil {
		n = dis.Chunk.Index + 1
	}
	if n > models.MaxDepth {
		n = models.MaxDepth
	}

	b := &build{r: r, dis: dis, edited: edited, frame: frame}
	if fromNetwork {
		b.start = -1
		for i := 0; i < n; i++ {
			if k := dis.Tree[i].Kind(); k == models.KindIP || k == models.KindIPv6 {
				b.start = i
				break
			}
		}
		if b.start < 0 {
			return nil, ErrNoNetworkLayer
		}
	}

	var arena [models.MaxDepth]slot
	b.slots = arena[:n]
	for i := b.start; i < n; i++ {
		if err := b.resolve(i); err != nil {
			return nil, err
		}
	}
	b.propagate()
	return b.serialize()
}

// entry returns the edited entry at position i, or the captured one once
// the edited tree is exhausted.
func (b *build) entry(i int) models.Layer {
	if i < len(b.edited) {
		return b.edited[i]
	}
	return b.dis.Tree[i]
}

func (b *build) resolve(i int) error {
	s := &b.slots[i]
	s.orig = b.dis.Layers[i]
	orig := b.dis.Tree[i]
	entry := b.entry(i)
	if entry == nil {
		return fmt.Errorf("%w: nil layer at position %d", models.ErrStructuralViolation, i)
	}
	if entry.Kind() != orig.Kind() {
		return fmt.Errorf("%w: position %d holds %q, captured frame has %q",
			models.ErrStructuralViolation, i, entry.LayerName(), orig.LayerName())
	}

	if b.dis.Chunk != nil && i == b.dis.Chunk.Index {
		return b.resolveChunk(s, entry.(models.SCTPChunkData))
	}

	if s.orig == nil {
		// The whole frame was kept as one raw payload.
		s.header = b.frame
	} else {
		s.header = s.orig.LayerContents()
		if i == len(b.slots)-1 {
			s.rest = s.orig.LayerPayload()
		} else {
			s.trailer = trailer(s.orig.LayerPayload(), b.span(i+1))
		}
	}

	h, ok := handlers[orig.Kind()]
	if !ok {
		h = overlayBytes
	}
	return h(b, s, orig, entry)
}

// span is the number of captured bytes the slot at i covers.
func (b *build) span(i int) int {
	if b.dis.Chunk != nil && i == b.dis.Chunk.Index {
		return len(b.dis.Chunk.Region)
	}
	l := b.dis.Layers[i]
	if l == nil {
		return 0
	}
	return len(l.LayerContents()) + len(l.LayerPayload())
}

func trailer(payload []byte, inner int) []byte {
	if inner >= len(payload) {
		return nil
	}
	return payload[inner:]
}

// networkFor returns the nearest network layer outside position i.
func (b *build) networkFor(i int) *slot {
	for j := i - 1; j >= b.start; j-- {
		if b.slots[j].network != nil {
			return &b.slots[j]
		}
	}
	return nil
}

// propagate marks every slot whose bytes differ from the capture: its own
// fields changed, something inside it changed, or its checksum covers
// network addresses that changed.
func (b *build) propagate() {
	for i := len(b.slots) - 1; i >= b.start; i-- {
		s := &b.slots[i]
		s.dirty = s.changed
		if i+1 < len(b.slots) && b.slots[i+1].dirty {
			s.dirty = true
		}
		if s.transport != nil && b.r.opts.ComputeChecksums {
			if n := b.networkFor(i); n != nil && n.changed {
				s.dirty = true
			}
		}
	}
}

func (b *build) serialize() ([]byte, error) {
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: b.r.opts.ComputeChecksums}
	buf := gopacket.NewSerializeBuffer()

	if last := len(b.slots) - 1; last >= b.start {
		if err := appendBytes(buf, b.slots[last].rest); err != nil {
			return nil, err
		}
	}
	for i := len(b.slots) - 1; i >= b.start; i-- {
		s := &b.slots[i]
		if err := appendBytes(buf, s.trailer); err != nil {
			return nil, err
		}

		var layer gopacket.SerializableLayer = rawLayer{typ: layerType(s.orig), header: s.header}
		layerOpts := opts
		if s.dirty && s.layer != nil {
			layer = s.layer
			if s.transport != nil && opts.ComputeChecksums {
				n := b.networkFor(i)
				if n == nil || s.transport.SetNetworkLayerForChecksum(n.network) != nil {
					layerOpts.ComputeChecksums = false
				}
			}
		}
		if err := layer.SerializeTo(buf, layerOpts); err != nil {
			return nil, fmt.Errorf("serialize %s: %w", layer.LayerType(), err)
		}
		buf.PushLayer(layer.LayerType())
	}
	return append([]byte(nil), buf.Bytes()...), nil
}

func appendBytes(buf gopacket.SerializeBuffer, b []byte) error {
	if len(b) == 0 {
		return nil
	}
	out, err := buf.AppendBytes(len(b))
	if err != nil {
		return err
	}
	copy(out, b)
	return nil
}

func layerType(l gopacket.Layer) gopacket.LayerType {
	if l == nil {
		return gopacket.LayerTypePayload
	}
	return l.LayerType()
}

// resolveChunk overlays the chunk header fields and picks the chunk body
// from the entry after it.
func (b *build) resolveChunk(s *slot, entry models.SCTPChunkData) error {
	span := b.dis.Chunk
	s.header = span.Region

	chunk, ok := s.orig.(*layers.SCTPData)
	if !ok {
		return fmt.Errorf("%w: DATA chunk at position %d", models.ErrStructuralViolation, span.Index)
	}
	body, err := b.chunkBody(span.Index + 1)
	if err != nil {
		return err
	}

	s.changed = entry != parser.ChunkEntry(chunk) || !bytesEqual(body, span.Body)
	s.layer = dataChunk{header: entry, body: body, trailing: span.Trailing}
	return nil
}

func bytesEqual(a, b []byte) bool {
	return string(a) == string(b)
}
