package models

import (
	"encoding/json"
)

// Kind is the closed set of layer variants a tree can hold.
type Kind int

const (
	KindGeneric Kind = iota
	KindEther
	KindIP
	KindIPv6
	KindTCP
	KindUDP
	KindSCTP
	KindSCTPChunkData
	KindApplicationPDU
	KindChunkPayload
	KindHTTP
	KindRaw
)

// Layer names used as the "name" discriminant on the wire.
const (
	NameEther         = "Ether"
	NameIP            = "IP"
	NameIPv6          = "IPv6"
	NameTCP           = "TCP"
	NameUDP           = "UDP"
	NameSCTP          = "SCTP"
	NameSCTPChunkData = "SCTPChunkData"
	NameHTTPRequest   = "HTTPRequest"
	NameHTTPResponse  = "HTTPResponse"
	NameRawPayload    = "RawPayload"
)

// Names of the two application message sets that are decoded.
const (
	ProtocolNGAP = "NGAP"
	ProtocolF1AP = "F1 AP"
)

// IsMessageSet reports whether name is one of the decoded message sets.
func IsMessageSet(name string) bool {
	return name == ProtocolNGAP || name == ProtocolF1AP
}

// Layer is one protocol header or terminal payload of a frame.
type Layer interface {
	LayerName() string
	Kind() Kind
}

// Terminal reports whether descent stops at l.
func Terminal(l Layer) bool {
	switch l.Kind() {
	case KindSCTPChunkData, KindApplicationPDU, KindChunkPayload, KindHTTP:
		return true
	}
	return false
}

type Ether struct {
	Src string `json:"src"`
	Dst string `json:"dst"`
}

func (Ether) LayerName() string { return NameEther }
func (Ether) Kind() Kind        { return KindEther }

type IP struct {
	Src string `json:"src"`
	Dst string `json:"dst"`
}

func (IP) LayerName() string { return NameIP }
func (IP) Kind() Kind        { return KindIP }

type IPv6 struct {
	Src string `json:"src"`
	Dst string `json:"dst"`
}

func (IPv6) LayerName() string { return NameIPv6 }
func (IPv6) Kind() Kind        { return KindIPv6 }

type TCP struct {
	Sport uint16 `json:"sport"`
	Dport uint16 `json:"dport"`
}

func (TCP) LayerName() string { return NameTCP }
func (TCP) Kind() Kind        { return KindTCP }

type UDP struct {
	Sport uint16 `json:"sport"`
	Dport uint16 `json:"dport"`
}

func (UDP) LayerName() string { return NameUDP }
func (UDP) Kind() Kind        { return KindUDP }

type SCTP struct {
	Sport uint16 `json:"sport"`
	Dport uint16 `json:"dport"`
}

func (SCTP) LayerName() string { return NameSCTP }
func (SCTP) Kind() Kind        { return KindSCTP }

// SCTPChunkData is the header of an SCTP DATA chunk. Its body is carried by
// the tree entry that follows it.
type SCTPChunkData struct {
	Reserved  uint8  `json:"reserved"`
	DelaySack bool   `json:"delay_sack"`
	Unordered bool   `json:"unordered"`
	Beginning bool   `json:"beginning"`
	Ending    bool   `json:"ending"`
	TSN       uint32 `json:"tsn"`
	StreamID  uint16 `json:"stream_id"`
	StreamSeq uint16 `json:"stream_seq"`
	ProtoID   uint32 `json:"proto_id"`
}

func (SCTPChunkData) LayerName() string { return NameSCTPChunkData }
func (SCTPChunkData) Kind() Kind        { return KindSCTPChunkData }

// Complete reports whether the chunk holds an unfragmented message.
func (c SCTPChunkData) Complete() bool {
	return c.Beginning && c.Ending
}

// ApplicationPDU is a chunk body of a decoded message set. Exactly one of
// Data or Error is set; on error OriginData keeps the undecodable bytes.
type ApplicationPDU struct {
	Protocol   string          `json:"-"`
	Data       json.RawMessage `json:"data,omitempty"`
	Error      string          `json:"error,omitempty"`
	OriginData string          `json:"origin_data,omitempty"`
}

func (p ApplicationPDU) LayerName() string { return p.Protocol }
func (ApplicationPDU) Kind() Kind          { return KindApplicationPDU }

// Decoded reports whether the PDU carries a structured tree.
func (p ApplicationPDU) Decoded() bool {
	return len(p.Data) > 0 && p.Error == ""
}

// ChunkPayload is a chunk body that is not decoded: a known but
// unsupported protocol, a fragment, or an unmapped protocol id.
type ChunkPayload struct {
	Protocol   string `json:"-"`
	OriginData Bytes  `json:"origin_data"`
}

func (p ChunkPayload) LayerName() string { return p.Protocol }
func (ChunkPayload) Kind() Kind          { return KindChunkPayload }

// HTTPMessage is an HTTP request or response head with its body. Start-line
// parts travel as pseudo headers.
type HTTPMessage struct {
	Response bool    `json:"-"`
	Headers  Headers `json:"headers"`
	Body     Bytes   `json:"body"`
}

func (m HTTPMessage) LayerName() string {
	if m.Response {
		return NameHTTPResponse
	}
	return NameHTTPRequest
}
func (HTTPMessage) Kind() Kind { return KindHTTP }

type RawPayload struct {
	Bytes Bytes `json:"bytes"`
}

func (RawPayload) LayerName() string { return NameRawPayload }
func (RawPayload) Kind() Kind        { return KindRaw }

// Generic is any layer without a dedicated variant. Bytes, when set on an
// edited tree, replaces the captured layer contents.
type Generic struct {
	Name  string `json:"-"`
	Bytes Bytes  `json:"bytes,omitempty"`
}

func (g Generic) LayerName() string { return g.Name }
func (Generic) Kind() Kind          { return KindGeneric }
