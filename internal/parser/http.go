package parser

import (
	"bytes"
	"fmt"
	"strings"

	"sigscope/internal/models"
)

// Start-line parts travel as pseudo headers.
const (
	headerMethod       = "Method"
	headerPath         = "Path"
	headerVersion      = "Http-Version"
	headerStatusCode   = "Status-Code"
	headerReasonPhrase = "Reason-Phrase"

	// unknownHeaders is the bucket for headers outside the known tables.
	unknownHeaders = "Unknown-Headers"
)

var (
	requestLine  = []string{headerMethod, headerPath, headerVersion}
	responseLine = []string{headerVersion, headerStatusCode, headerReasonPhrase}
)

var generalHeaders = []string{
	"Cache-Control", "Connection", "Permanent", "Content-Length", "Content-MD5",
	"Content-Type", "Date", "Keep-Alive", "Pragma", "Upgrade", "Via", "Warning",
}

var requestHeaders = []string{
	"A-IM", "Accept", "Accept-Charset", "Accept-Encoding", "Accept-Language",
	"Accept-Datetime", "Access-Control-Request-Method", "Access-Control-Request-Headers",
	"Authorization", "Cookie", "Expect", "Forwarded", "From", "Host", "HTTP2-Settings",
	"If-Match", "If-Modified-Since", "If-None-Match", "If-Range", "If-Unmodified-Since",
	"Max-Forwards", "Origin", "Proxy-Authorization", "Range", "Referer", "TE", "User-Agent",
}

var responseHeaders = []string{
	"Access-Control-Allow-Origin", "Access-Control-Allow-Credentials", "Access-Control-Expose-Headers",
	"Access-Control-Max-Age", "Access-Control-Allow-Methods", "Access-Control-Allow-Headers",
	"Accept-Patch", "Accept-Ranges", "Age", "Allow", "Alt-Svc", "Content-Disposition",
	"Content-Encoding", "Content-Language", "Content-Location", "Content-Range",
	"Delta-Base", "ETag", "Expires", "IM", "Last-Modified", "Link", "Location",
	"P3P", "Proxy-Authenticate", "Public-Key-Pins", "Retry-After", "Server", "Set-Cookie",
	"Strict-Transport-Security", "Trailer", "Transfer-Encoding", "Tk", "Vary", "WWW-Authenticate",
	"X-Frame-Options",
}

var (
	knownRequest  = headerSet(generalHeaders, requestHeaders)
	knownResponse = headerSet(generalHeaders, responseHeaders)
)

func headerSet(lists ...[]string) map[string]bool {
	set := make(map[string]bool)
	for _, list := range lists {
		for _, name := range list {
			set[strings.ToLower(name)] = true
		}
	}
	return set
}

var httpMethods = []string{
	"GET ", "POST", "PUT ", "DELE", "HEAD", "PATC", "OPTI", "CONN", "TRAC",
}

func isHTTP(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	if bytes.HasPrefix(data, []byte("HTTP/")) {
		return true
	}
	s := string(data[:4])
	for _, m := range httpMethods {
		if s == m {
			return true
		}
	}
	return false
}

// httpHead is a parsed message head with headers split into the known
// tables and the unknown bucket.
type httpHead struct {
	response bool
	line     models.Headers
	known    models.Headers
	unknown  models.Headers
}

// flatten merges the buckets into the single ordered mapping of a tree
// entry. Unknown headers travel as one entry holding their header block.
func (h httpHead) flatten() models.Headers {
	out := make(models.Headers, 0, len(h.line)+len(h.known)+1)
	out = append(out, h.line...)
	out = append(out, h.known...)
	if len(h.unknown) == 0 {
		return out
	}
	lines := make([]string, len(h.unknown))
	for i, hdr := range h.unknown {
		lines[i] = hdr.Name + ": " + hdr.Value
	}
	return append(out, models.Header{Name: unknownHeaders, Value: strings.Join(lines, "\r\n")})
}

// splitHead sorts an edited mapping back into start line, known headers and
// the unknown bucket.
func splitHead(m models.HTTPMessage) httpHead {
	h := httpHead{response: m.Response}
	line, known := requestLine, knownRequest
	if m.Response {
		line, known = responseLine, knownResponse
	}
	pseudo := make(map[string]bool, len(line))
	for _, name := range line {
		pseudo[name] = true
	}
	for _, hdr := range m.Headers {
		switch {
		case pseudo[hdr.Name]:
			h.line = append(h.line, hdr)
		case hdr.Name == unknownHeaders:
			h.unknown = append(h.unknown, parseHeaderBlock(hdr.Value)...)
		case known[strings.ToLower(hdr.Name)]:
			h.known = append(h.known, hdr)
		default:
			h.unknown = append(h.unknown, hdr)
		}
	}
	return h
}

// parseHTTP splits data into head and body. Header names keep their case.
func parseHTTP(data []byte) (models.HTTPMessage, bool) {
	head, body, _ := bytes.Cut(data, []byte("\r\n\r\n"))
	lines := strings.Split(string(head), "\r\n")
	if len(lines) == 0 || lines[0] == "" {
		return models.HTTPMessage{}, false
	}

	h := httpHead{response: strings.HasPrefix(lines[0], "HTTP/")}
	parts := strings.SplitN(lines[0], " ", 3)
	for len(parts) < 3 {
		parts = append(parts, "")
	}
	names, known := requestLine, knownRequest
	if h.response {
		names, known = responseLine, knownResponse
	}
	for i, name := range names {
		h.line = append(h.line, models.Header{Name: name, Value: parts[i]})
	}

	for _, hdr := range parseHeaderBlock(strings.Join(lines[1:], "\r\n")) {
		if known[strings.ToLower(hdr.Name)] {
			h.known = append(h.known, hdr)
		} else {
			h.unknown = append(h.unknown, hdr)
		}
	}

	msg := models.HTTPMessage{Response: h.response, Headers: h.flatten()}
	if len(body) > 0 {
		msg.Body = copyBytes(body)
	}
	return msg, true
}

func parseHeaderBlock(block string) models.Headers {
	var out models.Headers
	for _, line := range strings.Split(block, "\r\n") {
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		out = append(out, models.Header{Name: name, Value: strings.TrimLeft(value, " \t")})
	}
	return out
}

// BuildHTTP renders an HTTP message entry back to wire bytes: start line,
// known headers, the unknown bucket, a blank line and the body.
func BuildHTTP(m models.HTTPMessage) ([]byte, error) {
	h := splitHead(m)
	names := requestLine
	if m.Response {
		names = responseLine
	}
	parts := make([]string, len(names))
	for i, name := range names {
		v, _ := h.line.Get(name)
		parts[i] = v
	}
	if parts[0] == "" {
		return nil, fmt.Errorf("%w: %s without %s", models.ErrStructuralViolation, m.LayerName(), names[0])
	}

	var buf bytes.Buffer
	buf.WriteString(strings.TrimRight(strings.Join(parts, " "), " "))
	buf.WriteString("\r\n")
	for _, hdr := range append(h.known, h.unknown...) {
		if strings.ContainsAny(hdr.Name, "\r\n:") || strings.ContainsAny(hdr.Value, "\r\n") {
			return nil, fmt.Errorf("%w: header %q contains a line break", models.ErrStructuralViolation, hdr.Name)
		}
		buf.WriteString(hdr.Name)
		buf.WriteString(": ")
		buf.WriteString(hdr.Value)
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
	buf.Write(m.Body)
	return buf.Bytes(), nil
}
