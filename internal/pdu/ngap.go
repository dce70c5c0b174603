package pdu

import (
	"encoding/json"
	"fmt"

	"github.com/free5gc/ngap"
	"github.com/free5gc/ngap/ngapType"
)

// ngapCodec exposes NGAP-PDU (TS 38.413) as the JSON form of
// ngapType.NGAPPDU.
type ngapCodec struct{}

func (ngapCodec) Decode(b []byte) (json.RawMessage, error) {
	msg, err := ngap.Decoder(b)
	if err != nil {
		return nil, fmt.Errorf("%w: ngap: %v", ErrDecode, err)
	}
	return json.Marshal(msg)
}

func (ngapCodec) Encode(tree json.RawMessage) ([]byte, error) {
	var msg ngapType.NGAPPDU
	if err := json.Unmarshal(tree, &msg); err != nil {
		return nil, fmt.Errorf("ngap: structured tree: %w", err)
	}
	if msg.Present == ngapType.NGAPPDUPresentNothing {
		return nil, fmt.Errorf("ngap: no PDU alternative present")
	}
	return ngap.Encoder(msg)
}
