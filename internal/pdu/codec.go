// Package pdu adapts the ASN.1 APER codecs of the signaling message sets
// carried in SCTP DATA chunks.
package pdu

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"sigscope/internal/models"
)

var (
	// ErrDecode marks a payload that does not decode under its message set.
	ErrDecode = errors.New("pdu decode failed")
	// ErrUnsupportedMessageSet marks a name outside the configured message sets.
	ErrUnsupportedMessageSet = errors.New("unsupported message set")
	// ErrEncode marks a structured tree that does not encode.
	ErrEncode = errors.New("pdu encode failed")
)

// MessageSet identifies one configured application grammar.
type MessageSet int

const (
	NGAP MessageSet = iota
	F1AP
)

// Name is the wire name of the message set.
func (m MessageSet) Name() string {
	switch m {
	case NGAP:
		return models.ProtocolNGAP
	case F1AP:
		return models.ProtocolF1AP
	}
	return fmt.Sprintf("MessageSet(%d)", int(m))
}

// PPID is the SCTP payload protocol identifier of the message set.
func (m MessageSet) PPID() uint32 {
	switch m {
	case NGAP:
		return PPIDNGAP
	case F1AP:
		return PPIDF1AP
	}
	return 0
}

// ParseMessageSet maps a wire name back to its message set.
func ParseMessageSet(name string) (MessageSet, error) {
	switch name {
	case models.ProtocolNGAP:
		return NGAP, nil
	case models.ProtocolF1AP:
		return F1AP, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedMessageSet, name)
}

func messageSetForPPID(id uint32) (MessageSet, bool) {
	switch id {
	case PPIDNGAP:
		return NGAP, true
	case PPIDF1AP:
		return F1AP, true
	}
	return 0, false
}

// Codec converts between the APER bytes of one message set and its JSON
// structured tree.
type Codec interface {
	Decode(b []byte) (json.RawMessage, error)
	Encode(tree json.RawMessage) ([]byte, error)
}

// Result is the outcome of decoding one payload: either Tree is set, or Err
// is set and Origin holds the input bytes.
type Result struct {
	Name   string
	Tree   json.RawMessage
	Err    error
	Origin []byte
}

// OK reports whether the payload decoded.
func (r Result) OK() bool { return r.Err == nil }

// Layer converts the result to its tree entry.
func (r Result) Layer() models.ApplicationPDU {
	if r.OK() {
		return models.ApplicationPDU{Protocol: r.Name, Data: r.Tree}
	}
	return models.ApplicationPDU{
		Protocol:   r.Name,
		Error:      r.Err.Error(),
		OriginData: hex.EncodeToString(r.Origin),
	}
}

// Adapter dispatches decode and encode requests to the configured codecs.
type Adapter struct {
	codecs map[MessageSet]Codec
	log    zerolog.Logger
}

// New returns an adapter with the NGAP and F1AP codecs.
func New(log zerolog.Logger) *Adapter {
	return NewWithCodecs(log, map[MessageSet]Codec{
		NGAP: ngapCodec{},
		F1AP: f1apCodec{},
	})
}

// NewWithCodecs returns an adapter over the given codecs.
func NewWithCodecs(log zerolog.Logger, codecs map[MessageSet]Codec) *Adapter {
	return &Adapter{codecs: codecs, log: log.With().Str("component", "pdu").Logger()}
}

// Decode decodes b under the message set registered for protoID.
func (a *Adapter) Decode(protoID uint32, b []byte) Result {
	set, ok := messageSetForPPID(protoID)
	if !ok {
		return Result{
			Name:   ProtocolName(protoID),
			Err:    fmt.Errorf("%w: payload protocol %d", ErrUnsupportedMessageSet, protoID),
			Origin: b,
		}
	}
	codec, ok := a.codecs[set]
	if !ok {
		return Result{
			Name:   set.Name(),
			Err:    fmt.Errorf("%w: no codec for %s", ErrUnsupportedMessageSet, set.Name()),
			Origin: b,
		}
	}
	tree, err := safeDecode(codec, b)
	if err != nil {
		a.log.Debug().Err(err).Str("message_set", set.Name()).Int("bytes", len(b)).Msg("payload did not decode")
		return Result{Name: set.Name(), Err: err, Origin: b}
	}
	return Result{Name: set.Name(), Tree: tree}
}

// Encode encodes a structured tree of the named message set.
func (a *Adapter) Encode(name string, tree json.RawMessage) ([]byte, error) {
	set, err := ParseMessageSet(name)
	if err != nil {
		return nil, err
	}
	codec, ok := a.codecs[set]
	if !ok {
		return nil, fmt.Errorf("%w: no codec for %s", ErrUnsupportedMessageSet, name)
	}
	if len(tree) == 0 {
		return nil, fmt.Errorf("%w: %s: empty structured tree", ErrEncode, name)
	}
	b, err := safeEncode(codec, tree)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEncode, name, err)
	}
	return b, nil
}

// ClassifyChunk returns the tree entry for the body of a DATA chunk. Only a
// complete chunk of a configured message set is decoded; anything else is
// carried verbatim under its registry name.
func (a *Adapter) ClassifyChunk(protoID uint32, beginning, ending bool, payload []byte) models.Layer {
	if _, ok := messageSetForPPID(protoID); ok && beginning && ending {
		return a.Decode(protoID, payload).Layer()
	}
	return models.ChunkPayload{
		Protocol:   ProtocolName(protoID),
		OriginData: models.Bytes(append([]byte{}, payload...)),
	}
}

func safeDecode(c Codec, b []byte) (tree json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			tree, err = nil, fmt.Errorf("%w: codec panic: %v", ErrDecode, r)
		}
	}()
	tree, err = c.Decode(b)
	if err != nil && !errors.Is(err, ErrDecode) {
		err = fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return tree, err
}

func safeEncode(c Codec, tree json.RawMessage) (b []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			b, err = nil, fmt.Errorf("codec panic: %v", r)
		}
	}()
	return c.Encode(tree)
}
