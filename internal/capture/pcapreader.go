package capture

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// ErrUnknownFormat marks input that is neither pcap nor pcapng.
var ErrUnknownFormat = errors.New("unknown capture format")

const pcapngSectionHeader = 0x0A0D0D0A

// packetReader is implemented by both pcapgo readers.
type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
}

// PcapReader reads frames from an in-memory pcap or pcapng file.
type PcapReader struct {
	r      packetReader
	format string
	// link resolves the link type of one frame.
	link func(ci gopacket.CaptureInfo) (layers.LinkType, error)
}

// NewPcapReader sniffs the container format of data and opens it.
func NewPcapReader(data []byte) (*PcapReader, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: %d bytes", ErrUnknownFormat, len(data))
	}
	src := bytes.NewReader(data)
	if binary.BigEndian.Uint32(data[:4]) == pcapngSectionHeader {
		// Interfaces of one file may differ in link type; without this
		// option pcapgo skips every frame not on the first interface's type.
		opts := pcapgo.DefaultNgReaderOptions
		opts.WantMixedLinkType = true
		r, err := pcapgo.NewNgReader(src, opts)
		if err != nil {
			return nil, fmt.Errorf("open pcapng: %w", err)
		}
		link := func(ci gopacket.CaptureInfo) (layers.LinkType, error) {
			iface, err := r.Interface(ci.InterfaceIndex)
			if err != nil {
				return 0, err
			}
			return iface.LinkType, nil
		}
		return &PcapReader{r: r, format: "pcapng", link: link}, nil
	}
	r, err := pcapgo.NewReader(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownFormat, err)
	}
	link := func(gopacket.CaptureInfo) (layers.LinkType, error) {
		return r.LinkType(), nil
	}
	return &PcapReader{r: r, format: "pcap", link: link}, nil
}

// Format returns "pcap" or "pcapng".
func (pr *PcapReader) Format() string {
	return pr.format
}

// ReadAll returns every frame of the capture in file order, each with the
// link type of the interface it was captured on.
func (pr *PcapReader) ReadAll() ([]Frame, error) {
	var frames []Frame
	for {
		data, ci, err := pr.r.ReadPacketData()
		if errors.Is(err, io.EOF) {
			return frames, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read frame %d: %w", len(frames), err)
		}
		link, err := pr.link(ci)
		if err != nil {
			return nil, fmt.Errorf("read frame %d: %w", len(frames), err)
		}
		frames = append(frames, Frame{Data: data, Info: ci, LinkType: link})
	}
}
