package rebuild

import (
	"encoding/binary"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"sigscope/internal/models"
)

// rawLayer prepends captured or literal header bytes unchanged.
type rawLayer struct {
	typ    gopacket.LayerType
	header []byte
}

func (r rawLayer) LayerType() gopacket.LayerType { return r.typ }

func (r rawLayer) SerializeTo(b gopacket.SerializeBuffer, _ gopacket.SerializeOptions) error {
	bytes, err := b.PrependBytes(len(r.header))
	if err != nil {
		return err
	}
	copy(bytes, r.header)
	return nil
}

// sctpHeader serializes the SCTP common header. gopacket only writes the
// checksum field when asked to compute it, so the captured value is put
// back otherwise.
type sctpHeader struct {
	sctp     *layers.SCTP
	checksum []byte
}

func (s sctpHeader) LayerType() gopacket.LayerType { return layers.LayerTypeSCTP }

func (s sctpHeader) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	if err := s.sctp.SerializeTo(b, opts); err != nil {
		return err
	}
	if !opts.ComputeChecksums {
		copy(b.Bytes()[8:12], s.checksum)
	}
	return nil
}

// dataChunk serializes one SCTP DATA chunk followed by the chunks that were
// bundled after it. layers.SCTPData cannot be used: it drops the I bit and
// the reserved flag bits.
type dataChunk struct {
	header   models.SCTPChunkData
	body     []byte
	trailing []byte
}

const dataChunkHeaderLen = 16

func (c dataChunk) LayerType() gopacket.LayerType { return layers.LayerTypeSCTPData }

func (c dataChunk) flags() uint8 {
	f := c.header.Reserved << 4
	if c.header.DelaySack {
		f |= 0x08
	}
	if c.header.Unordered {
		f |= 0x04
	}
	if c.header.Beginning {
		f |= 0x02
	}
	if c.header.Ending {
		f |= 0x01
	}
	return f
}

func (c dataChunk) SerializeTo(b gopacket.SerializeBuffer, _ gopacket.SerializeOptions) error {
	pad := (4 - len(c.body)%4) % 4
	tail, err := b.AppendBytes(len(c.body) + pad + len(c.trailing))
	if err != nil {
		return err
	}
	n := copy(tail, c.body)
	for i := 0; i < pad; i++ {
		tail[n+i] = 0
	}
	copy(tail[n+pad:], c.trailing)

	h, err := b.PrependBytes(dataChunkHeaderLen)
	if err != nil {
		return err
	}
	h[0] = uint8(layers.SCTPChunkTypeData)
	h[1] = c.flags()
	binary.BigEndian.PutUint16(h[2:4], uint16(dataChunkHeaderLen+len(c.body)))
	binary.BigEndian.PutUint32(h[4:8], c.header.TSN)
	binary.BigEndian.PutUint16(h[8:10], c.header.StreamID)
	binary.BigEndian.PutUint16(h[10:12], c.header.StreamSeq)
	binary.BigEndian.PutUint32(h[12:16], c.header.ProtoID)
	return nil
}
