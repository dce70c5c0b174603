package parser

import (
	"fmt"
	"strings"

	"github.com/google/gopacket"

	"sigscope/internal/models"
)

// Frame dissects one captured frame into its list entry.
func (d *Dissector) Frame(number int, data []byte, link gopacket.Decoder, ci gopacket.CaptureInfo) models.FrameInfo {
	info := models.FrameInfo{
		Number:         number,
		Timestamp:      formatTimestamp(ci),
		Length:         ci.Length,
		CapturedLength: ci.CaptureLength,
	}
	if info.Length == 0 {
		info.Length = len(data)
	}
	if info.CapturedLength == 0 {
		info.CapturedLength = len(data)
	}

	info.Layers = d.Dissect(data, link)
	info.Protocol, info.SrcAddr, info.DstAddr, info.Info = summarize(info.Layers)

	if len(data) > 0 {
		info.HexDump = formatHexDump(data)
		info.RawHex = formatRawHex(data)
	}
	return info
}

// formatTimestamp renders the capture time as epoch seconds with
// microseconds.
func formatTimestamp(ci gopacket.CaptureInfo) string {
	if ci.Timestamp.IsZero() {
		return "0.000000"
	}
	ts := ci.Timestamp
	return fmt.Sprintf("%d.%06d", ts.Unix(), ts.Nanosecond()/1000)
}

func formatHexDump(data []byte) string {
	var sb strings.Builder
	for offset := 0; offset < len(data); offset += 16 {
		sb.WriteString(fmt.Sprintf("%04x  ", offset))

		end := offset + 16
		if end > len(data) {
			end = len(data)
		}
		for i := offset; i < offset+16; i++ {
			if i < end {
				sb.WriteString(fmt.Sprintf("%02x ", data[i]))
			} else {
				sb.WriteString("   ")
			}
			if i == offset+7 {
				sb.WriteByte(' ')
			}
		}
		sb.WriteString(" |")

		for i := offset; i < end; i++ {
			b := data[i]
			if b >= 0x20 && b <= 0x7e {
				sb.WriteByte(b)
			} else {
				sb.WriteByte('.')
			}
		}
		sb.WriteString("|\n")
	}
	return sb.String()
}

func formatRawHex(data []byte) string {
	return models.Bytes(data).Hex()
}
