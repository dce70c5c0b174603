package models

// FrameInfo is one dissected frame as shown in the frame list.
type FrameInfo struct {
	Number         int    `json:"number"`
	Timestamp      string `json:"timestamp"`
	Length         int    `json:"length"`
	CapturedLength int    `json:"captured_length"`
	SrcAddr        string `json:"src"`
	DstAddr        string `json:"dst"`
	Protocol       string `json:"protocol"`
	Info           string `json:"info"`
	FlowID         uint64 `json:"flow_id,omitempty"`
	Layers         Tree   `json:"layers"`
	HexDump        string `json:"hex_dump"`
	RawHex         string `json:"raw_hex"`
}

// LoadResult is the reply to a capture load. Replay requests for its
// frames must carry Generation.
type LoadResult struct {
	Generation uint64      `json:"generation"`
	Frames     []FrameInfo `json:"frames"`
}
