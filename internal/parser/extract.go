package parser

import (
	"sigscope/internal/flow"
	"sigscope/internal/models"
)

// FlowTuple holds the 5-tuple of a dissected frame.
type FlowTuple struct {
	SrcIP    string
	DstIP    string
	SrcPort  uint16
	DstPort  uint16
	Protocol string
	Valid    bool
}

// Key returns the direction-independent flow key of t.
func (t FlowTuple) Key() flow.Key {
	return flow.MakeKey(t.SrcIP, t.DstIP, t.SrcPort, t.DstPort, t.Protocol)
}

// ExtractFlowTuple reads the flow 5-tuple from a tree without touching the
// frame bytes again. A tree without a network layer yields an invalid tuple.
func ExtractFlowTuple(tree models.Tree) FlowTuple {
	var t FlowTuple
	for _, l := range tree {
		switch v := l.(type) {
		case models.IP:
			t.SrcIP, t.DstIP, t.Valid = v.Src, v.Dst, true
			t.Protocol = "IPv4"
		case models.IPv6:
			t.SrcIP, t.DstIP, t.Valid = v.Src, v.Dst, true
			t.Protocol = "IPv6"
		case models.TCP:
			t.SrcPort, t.DstPort, t.Protocol = v.Sport, v.Dport, "TCP"
		case models.UDP:
			t.SrcPort, t.DstPort, t.Protocol = v.Sport, v.Dport, "UDP"
		case models.SCTP:
			t.SrcPort, t.DstPort, t.Protocol = v.Sport, v.Dport, "SCTP"
		}
	}
	return t
}
