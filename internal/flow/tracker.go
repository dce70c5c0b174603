package flow

import (
	"fmt"
	"sort"
	"time"
)

// Key is a normalized 5-tuple. Both directions map to the same flow.
type Key struct {
	IP1      string
	IP2      string
	Port1    uint16
	Port2    uint16
	Protocol string
}

func MakeKey(srcIP, dstIP string, srcPort, dstPort uint16, protocol string) Key {
	// Normalize: smaller IP first; if IPs equal, smaller port first
	if srcIP < dstIP || (srcIP == dstIP && srcPort < dstPort) {
		return Key{IP1: srcIP, IP2: dstIP, Port1: srcPort, Port2: dstPort, Protocol: protocol}
	}
	return Key{IP1: dstIP, IP2: srcIP, Port1: dstPort, Port2: srcPort, Protocol: protocol}
}

// Flow holds statistics for one flow (an SCTP association, TCP connection
// or UDP exchange) of the loaded capture.
type Flow struct {
	ID          uint64 `json:"id"`
	SrcIP       string `json:"srcIp"`
	DstIP       string `json:"dstIp"`
	SrcPort     uint16 `json:"srcPort"`
	DstPort     uint16 `json:"dstPort"`
	Protocol    string `json:"protocol"`
	PacketCount int    `json:"packetCount"`
	ByteCount   int64  `json:"byteCount"`
	FirstSeen   int64  `json:"firstSeen"` // unix ms, capture time
	LastSeen    int64  `json:"lastSeen"`  // unix ms, capture time
	FwdPackets  int    `json:"fwdPackets"`
	FwdBytes    int64  `json:"fwdBytes"`
	RevPackets  int    `json:"revPackets"`
	RevBytes    int64  `json:"revBytes"`
	// Frames lists the session indexes of the flow's frames.
	Frames []int `json:"frames"`
}

// Table is the flow table of one capture load. It is rebuilt with the
// session and is not safe for concurrent use.
type Table struct {
	flows  map[Key]*Flow
	nextID uint64
}

// NewTable creates an empty flow table.
func NewTable() *Table {
	return &Table{flows: make(map[Key]*Flow)}
}

// Track records frame index in its flow and returns the flow ID.
func (t *Table) Track(index int, srcIP, dstIP string, srcPort, dstPort uint16, protocol string, length int, ts time.Time) uint64 {
	key := MakeKey(srcIP, dstIP, srcPort, dstPort, protocol)
	ms := ts.UnixMilli()

	f, exists := t.flows[key]
	if !exists {
		t.nextID++
		f = &Flow{
			ID:        t.nextID,
			SrcIP:     srcIP,
			DstIP:     dstIP,
			SrcPort:   srcPort,
			DstPort:   dstPort,
			Protocol:  protocol,
			FirstSeen: ms,
		}
		t.flows[key] = f
	}

	f.PacketCount++
	f.ByteCount += int64(length)
	f.LastSeen = ms
	f.Frames = append(f.Frames, index)

	// "forward" = matches the first frame's source
	if srcIP == f.SrcIP && srcPort == f.SrcPort {
		f.FwdPackets++
		f.FwdBytes += int64(length)
	} else {
		f.RevPackets++
		f.RevBytes += int64(length)
	}
	return f.ID
}

// Flows returns a copy of all flows ordered by ID.
func (t *Table) Flows() []Flow {
	out := make([]Flow, 0, len(t.flows))
	for _, f := range t.flows {
		cp := *f
		cp.Frames = append([]int(nil), f.Frames...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of flows.
func (t *Table) Len() int {
	return len(t.flows)
}

// String returns a human-readable description of the flow.
func (f *Flow) String() string {
	return fmt.Sprintf("Flow#%d %s:%d <-> %s:%d [%s] pkts=%d bytes=%d",
		f.ID, f.SrcIP, f.SrcPort, f.DstIP, f.DstPort, f.Protocol, f.PacketCount, f.ByteCount)
}
