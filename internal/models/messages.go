package models

import "encoding/json"

// WSMessage is the envelope for all WebSocket communication.
type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// OpenFileRequest carries a capture file. Data is the byte-array form the
// UI produces; Base64 is accepted for scripted clients.
type OpenFileRequest struct {
	Data   Bytes  `json:"data,omitempty"`
	Base64 string `json:"base64,omitempty"`
}

// ReplayRequest asks for frame Index of load Generation to be rebuilt from
// Layers and sent.
type ReplayRequest struct {
	Index      int    `json:"index"`
	Generation uint64 `json:"generation"`
	Layers     Tree   `json:"layers"`
}

// ReplayResult reports what was handed to the send primitive.
type ReplayResult struct {
	Index  int    `json:"index"`
	Length int    `json:"length"`
	Sent   bool   `json:"sent"`
	RawHex string `json:"raw_hex"`
}

// EncodeRequest is a direct message encode: Name is a message-set name.
type EncodeRequest struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data"`
}

// EncodeResponse carries the encoded bytes as hex.
type EncodeResponse struct {
	Hex string `json:"hex"`
}

// ErrorPayload describes an error sent to the client.
type ErrorPayload struct {
	Message string `json:"message"`
}
