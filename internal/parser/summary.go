package parser

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"

	"sigscope/internal/models"
)

// summarize picks the innermost protocol of a tree and builds the
// address and info columns of the frame list.
func summarize(tree models.Tree) (protocol, src, dst, info string) {
	protocol = "Unknown"
	var sport, dport uint16
	hasPorts := false

	for _, l := range tree {
		switch v := l.(type) {
		case models.Ether:
			protocol = "Ethernet"
			if src == "" {
				src, dst = v.Src, v.Dst
			}
		case models.IP:
			protocol, src, dst = "IPv4", v.Src, v.Dst
		case models.IPv6:
			protocol, src, dst = "IPv6", v.Src, v.Dst
		case models.TCP:
			protocol, sport, dport, hasPorts = "TCP", v.Sport, v.Dport, true
			info = fmt.Sprintf("%d -> %d", v.Sport, v.Dport)
		case models.UDP:
			protocol, sport, dport, hasPorts = "UDP", v.Sport, v.Dport, true
			info = fmt.Sprintf("%d -> %d", v.Sport, v.Dport)
		case models.SCTP:
			protocol, sport, dport, hasPorts = "SCTP", v.Sport, v.Dport, true
			info = fmt.Sprintf("%d -> %d", v.Sport, v.Dport)
		case models.SCTPChunkData:
			info = fmt.Sprintf("DATA TSN=%d SID=%d SSN=%d PPID=%d", v.TSN, v.StreamID, v.StreamSeq, v.ProtoID)
			if !v.Complete() {
				info += " (fragment)"
			}
		case models.ApplicationPDU:
			protocol = v.Protocol
			info = pduInfo(v)
		case models.ChunkPayload:
			protocol = v.Protocol
			info = fmt.Sprintf("%s Len=%d", info, len(v.OriginData))
		case models.HTTPMessage:
			protocol = "HTTP"
			info = startLine(v)
		case models.RawPayload:
			info = fmt.Sprintf("%s Len=%d", info, len(v.Bytes))
		}
	}

	if hasPorts {
		src = joinHostPort(src, sport)
		dst = joinHostPort(dst, dport)
	}
	return protocol, src, dst, info
}

func joinHostPort(host string, port uint16) string {
	if host == "" || net.ParseIP(host) == nil {
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(int(port)))
}

type procedure struct {
	ProcedureCode struct {
		Value int64
	}
}

// pduInfo describes the elementary procedure of a decoded PDU. NGAP and
// F1AP share the envelope shape, so one view serves both.
func pduInfo(p models.ApplicationPDU) string {
	if !p.Decoded() {
		return "Malformed: " + p.Error
	}
	var env struct {
		InitiatingMessage   *procedure
		SuccessfulOutcome   *procedure
		UnsuccessfulOutcome *procedure
	}
	if err := json.Unmarshal(p.Data, &env); err != nil {
		return p.Protocol
	}
	switch {
	case env.InitiatingMessage != nil:
		return fmt.Sprintf("InitiatingMessage procedureCode=%d", env.InitiatingMessage.ProcedureCode.Value)
	case env.SuccessfulOutcome != nil:
		return fmt.Sprintf("SuccessfulOutcome procedureCode=%d", env.SuccessfulOutcome.ProcedureCode.Value)
	case env.UnsuccessfulOutcome != nil:
		return fmt.Sprintf("UnsuccessfulOutcome procedureCode=%d", env.UnsuccessfulOutcome.ProcedureCode.Value)
	}
	return p.Protocol
}

func startLine(m models.HTTPMessage) string {
	names := requestLine
	if m.Response {
		names = responseLine
	}
	line := ""
	for _, name := range names {
		v, _ := m.Headers.Get(name)
		if line != "" {
			line += " "
		}
		line += v
	}
	return line
}
