package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// MaxDepth caps the number of entries in a tree.
const MaxDepth = 16

// ErrStructuralViolation marks an edited tree that cannot be rebuilt.
var ErrStructuralViolation = errors.New("structural violation")

// Tree is the ordered outer-to-inner layer list of one frame.
type Tree []Layer

// Validate checks the structural rules a tree must satisfy before it is
// handed to the rebuilder.
func (t Tree) Validate() error {
	if len(t) > MaxDepth {
		return fmt.Errorf("%w: %d layers exceeds depth %d", ErrStructuralViolation, len(t), MaxDepth)
	}
	end := -1
	for i, l := range t {
		if l == nil {
			return fmt.Errorf("%w: layer %d is empty", ErrStructuralViolation, i)
		}
		if end >= 0 && i > end {
			return fmt.Errorf("%w: layer %d (%s) follows terminal layer %s",
				ErrStructuralViolation, i, l.LayerName(), t[end].LayerName())
		}
		body := l.Kind() == KindApplicationPDU || l.Kind() == KindChunkPayload
		afterChunk := i > 0 && t[i-1].Kind() == KindSCTPChunkData
		switch {
		case body && !afterChunk:
			return fmt.Errorf("%w: chunk payload %q at layer %d without a preceding %s",
				ErrStructuralViolation, l.LayerName(), i, NameSCTPChunkData)
		case afterChunk && !body:
			return fmt.Errorf("%w: %q at layer %d cannot carry a %s body",
				ErrStructuralViolation, l.LayerName(), i, NameSCTPChunkData)
		}
		if Terminal(l) && end < 0 {
			end = i
			if l.Kind() == KindSCTPChunkData {
				end = i + 1
			}
		}
	}
	return nil
}

func (t Tree) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, l := range t {
		if i > 0 {
			buf.WriteByte(',')
		}
		b, err := MarshalLayer(l)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func (t *Tree) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	if raws == nil {
		*t = nil
		return nil
	}
	out := make(Tree, 0, len(raws))
	for i, raw := range raws {
		afterChunk := i > 0 && out[i-1].Kind() == KindSCTPChunkData
		l, err := unmarshalLayer(raw, afterChunk)
		if err != nil {
			return fmt.Errorf("layer %d: %w", i, err)
		}
		out = append(out, l)
	}
	*t = out
	return nil
}

// MarshalLayer encodes l as a JSON object whose first key is "name".
func MarshalLayer(l Layer) ([]byte, error) {
	if l == nil {
		return nil, errors.New("nil layer")
	}
	name, err := json.Marshal(l.LayerName())
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString(`{"name":`)
	buf.Write(name)
	if inner := bytes.TrimSpace(body[1 : len(body)-1]); len(inner) > 0 {
		buf.WriteByte(',')
		buf.Write(inner)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

type layerDecoder func(name string, raw json.RawMessage) (Layer, error)

// layerDecoders maps a name discriminant to its variant. Names that are not
// listed decode to Generic.
var layerDecoders = map[string]layerDecoder{
	NameEther:         decodeAs[Ether],
	NameIP:            decodeAs[IP],
	NameIPv6:          decodeAs[IPv6],
	NameTCP:           decodeAs[TCP],
	NameUDP:           decodeAs[UDP],
	NameSCTP:          decodeAs[SCTP],
	NameSCTPChunkData: decodeAs[SCTPChunkData],
	NameRawPayload:    decodeAs[RawPayload],
	NameHTTPRequest:   decodeHTTP(false),
	NameHTTPResponse:  decodeHTTP(true),
	ProtocolNGAP:      decodeApplicationPDU,
	ProtocolF1AP:      decodeApplicationPDU,
}

func decodeAs[T Layer](_ string, raw json.RawMessage) (Layer, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func decodeHTTP(response bool) layerDecoder {
	return func(_ string, raw json.RawMessage) (Layer, error) {
		var m HTTPMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		m.Response = response
		return m, nil
	}
}

func decodeApplicationPDU(name string, raw json.RawMessage) (Layer, error) {
	var fields struct {
		Data       json.RawMessage `json:"data"`
		Error      string          `json:"error"`
		OriginData Bytes           `json:"origin_data"`
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	p := ApplicationPDU{Protocol: name, Error: fields.Error}
	if d := bytes.TrimSpace(fields.Data); len(d) > 0 && !bytes.Equal(d, []byte("null")) {
		p.Data = d
	}
	if fields.OriginData != nil {
		p.OriginData = fields.OriginData.Hex()
	}
	return p, nil
}

func decodeChunkPayload(name string, raw json.RawMessage) (Layer, error) {
	p := ChunkPayload{Protocol: name}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return p, nil
}

func decodeGeneric(name string, raw json.RawMessage) (Layer, error) {
	g := Generic{Name: name}
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, err
	}
	return g, nil
}

func unmarshalLayer(raw json.RawMessage, afterChunk bool) (Layer, error) {
	var head struct {
		Name *string `json:"name"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, err
	}
	if head.Name == nil || *head.Name == "" {
		return nil, fmt.Errorf("%w: missing name", ErrStructuralViolation)
	}
	name := *head.Name
	if afterChunk && !IsMessageSet(name) {
		return decodeChunkPayload(name, raw)
	}
	if dec, ok := layerDecoders[name]; ok {
		return dec(name, raw)
	}
	return decodeGeneric(name, raw)
}
