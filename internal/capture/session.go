package capture

import (
	"errors"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"sigscope/internal/flow"
	"sigscope/internal/models"
	"sigscope/internal/parser"
)

// ErrIndexOutOfRange marks a frame reference that is not valid for the
// current load.
var ErrIndexOutOfRange = errors.New("frame index out of range")

// Frame is one captured frame exactly as read from the file. It is never
// modified after load.
type Frame struct {
	Data     []byte
	Info     gopacket.CaptureInfo
	LinkType layers.LinkType
}

// Ref names a frame of one particular load.
type Ref struct {
	Generation uint64
	Index      int
}

// Session holds the frames of the most recent load. Every Load replaces
// the frames wholesale and bumps the generation, so a Ref taken before a
// reload no longer resolves. A Session is not safe for concurrent use.
type Session struct {
	dissector  *parser.Dissector
	generation uint64
	frames     []Frame
	flows      *flow.Table
}

// NewSession returns an empty session that dissects with d.
func NewSession(d *parser.Dissector) *Session {
	return &Session{dissector: d, flows: flow.NewTable()}
}

// Load reads a pcap or pcapng file from data, dissects every frame and
// makes them the current session. On error the previous session is kept.
func (s *Session) Load(data []byte) (models.LoadResult, error) {
	reader, err := NewPcapReader(data)
	if err != nil {
		return models.LoadResult{}, err
	}
	frames, err := reader.ReadAll()
	if err != nil {
		return models.LoadResult{}, err
	}

	flows := flow.NewTable()
	infos := make([]models.FrameInfo, len(frames))
	for i, f := range frames {
		info := s.dissector.Frame(i, f.Data, f.LinkType, f.Info)
		if t := parser.ExtractFlowTuple(info.Layers); t.Valid {
			info.FlowID = flows.Track(i, t.SrcIP, t.DstIP, t.SrcPort, t.DstPort, t.Protocol, info.Length, f.Info.Timestamp)
		}
		infos[i] = info
	}

	s.frames = frames
	s.flows = flows
	s.generation++
	return models.LoadResult{Generation: s.generation, Frames: infos}, nil
}

// Original returns frame index of the current load.
func (s *Session) Original(index int) (Frame, error) {
	if index < 0 || index >= len(s.frames) {
		return Frame{}, fmt.Errorf("%w: %d (session holds %d frames)", ErrIndexOutOfRange, index, len(s.frames))
	}
	return s.frames[index], nil
}

// OriginalAt resolves ref, rejecting references into an earlier load.
func (s *Session) OriginalAt(ref Ref) (Frame, error) {
	if ref.Generation != s.generation {
		return Frame{}, fmt.Errorf("%w: generation %d is stale (current %d)", ErrIndexOutOfRange, ref.Generation, s.generation)
	}
	return s.Original(ref.Index)
}

// Generation returns the stamp of the current load, 0 before any load.
func (s *Session) Generation() uint64 {
	return s.generation
}

// Len returns the number of frames of the current load.
func (s *Session) Len() int {
	return len(s.frames)
}

// Flows returns the flow table of the current load.
func (s *Session) Flows() []flow.Flow {
	return s.flows.Flows()
}
