package handlers

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/free5gc/ngap/ngapType"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigscope/internal/capture"
	"sigscope/internal/engine"
	"sigscope/internal/fixture"
	"sigscope/internal/models"
	"sigscope/internal/pdu"
	"sigscope/internal/rebuild"
	"sigscope/internal/send"
)

type recordingSender struct {
	mu      sync.Mutex
	packets [][]byte
}

func (r *recordingSender) Send(p []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.packets = append(r.packets, append([]byte(nil), p...))
	return nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.packets)
}

func newServer(t *testing.T, maxUpload int64) (*httptest.Server, *recordingSender) {
	sender := &recordingSender{}
	eng := engine.New(zerolog.Nop(), sender, engine.Options{ComputeChecksums: true})
	mux := http.NewServeMux()
	RegisterRoutes(mux, eng, maxUpload, zerolog.Nop())
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, sender
}

func capturePcap(t *testing.T) []byte {
	raw := fixture.NGAPBytes(t, fixture.ErrorIndication(ngapType.CauseMiscPresentUnspecified))
	return fixture.Pcap(t,
		fixture.SCTPFrame(t, fixture.DataChunk(fixture.Chunk{Flags: fixture.Complete, PPID: pdu.PPIDNGAP, Body: raw})),
		fixture.UDPFrame(t, 1234, 5678, []byte("hello")),
	)
}

func open(t *testing.T, srv *httptest.Server, body []byte) models.LoadResult {
	resp, err := http.Post(srv.URL+"/api/open", "application/octet-stream", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res models.LoadResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	return res
}

func postJSON(t *testing.T, url string, v interface{}) *http.Response {
	body, err := json.Marshal(v)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestOpenRawBody(t *testing.T) {
	srv, _ := newServer(t, 1<<20)
	res := open(t, srv, capturePcap(t))
	assert.EqualValues(t, 1, res.Generation)
	require.Len(t, res.Frames, 2)
	assert.Equal(t, "NGAP", res.Frames[0].Protocol)
	assert.Equal(t, "UDP", res.Frames[1].Protocol)
}

func TestOpenMultipart(t *testing.T) {
	srv, _ := newServer(t, 1<<20)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "n2.pcap")
	require.NoError(t, err)
	_, err = fw.Write(capturePcap(t))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(srv.URL+"/api/open", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestOpenRejects(t *testing.T) {
	srv, _ := newServer(t, 64)

	resp, err := http.Post(srv.URL+"/api/open", "application/octet-stream", strings.NewReader("garbage!"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/open", "application/octet-stream", bytes.NewReader(capturePcap(t)))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "upload above the cap")

	resp, err = http.Get(srv.URL + "/api/open")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestReplayStatuses(t *testing.T) {
	srv, sender := newServer(t, 1<<20)
	res := open(t, srv, capturePcap(t))
	tree := res.Frames[0].Layers

	resp := postJSON(t, srv.URL+"/api/replay", models.ReplayRequest{Index: 0, Generation: res.Generation, Layers: tree})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, 1, sender.count())

	resp = postJSON(t, srv.URL+"/api/replay", models.ReplayRequest{Index: 9, Generation: res.Generation, Layers: tree})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	bad := append(models.Tree(nil), tree...)
	bad[2] = models.TCP{Sport: 1, Dport: 2}
	resp = postJSON(t, srv.URL+"/api/replay", models.ReplayRequest{Index: 0, Generation: res.Generation, Layers: bad})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var payload models.ErrorPayload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Contains(t, payload.Message, "structural")

	r, err := http.Post(srv.URL+"/api/replay", "application/json", strings.NewReader(`{"index":0,"layers":[{"src":"x"}]}`))
	require.NoError(t, err)
	r.Body.Close()
	assert.Equal(t, http.StatusBadRequest, r.StatusCode)

	assert.Equal(t, 1, sender.count())
}

func TestEncodeEndpoint(t *testing.T) {
	srv, _ := newServer(t, 1<<20)

	data, err := json.Marshal(fixture.ErrorIndication(ngapType.CauseMiscPresentUnspecified))
	require.NoError(t, err)
	resp := postJSON(t, srv.URL+"/api/encode", models.EncodeRequest{Name: models.ProtocolNGAP, Data: data})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out models.EncodeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	want := fixture.NGAPBytes(t, fixture.ErrorIndication(ngapType.CauseMiscPresentUnspecified))
	assert.Equal(t, fmt.Sprintf("%x", want), out.Hex)

	resp = postJSON(t, srv.URL+"/api/encode", models.EncodeRequest{Name: "RUA", Data: data})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFlowsEndpoint(t *testing.T) {
	srv, _ := newServer(t, 1<<20)
	open(t, srv, capturePcap(t))

	resp, err := http.Get(srv.URL + "/api/flows")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var flows []map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&flows))
	require.Len(t, flows, 2)
	assert.Equal(t, "SCTP", flows[0]["protocol"])
}

func TestStatusFor(t *testing.T) {
	wrap := func(err error) error { return fmt.Errorf("context: %w", err) }
	assert.Equal(t, http.StatusNotFound, StatusFor(wrap(capture.ErrIndexOutOfRange)))
	for _, err := range []error{
		models.ErrStructuralViolation,
		pdu.ErrUnsupportedMessageSet,
		pdu.ErrDecode,
		pdu.ErrEncode,
		capture.ErrUnknownFormat,
		rebuild.ErrNoNetworkLayer,
		send.ErrMalformedPacket,
	} {
		assert.Equal(t, http.StatusBadRequest, StatusFor(wrap(err)), err.Error())
	}
	assert.Equal(t, http.StatusInternalServerError, StatusFor(errors.New("socket: permission denied")))
}

func readUntil(t *testing.T, conn *websocket.Conn, typ string) models.WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg models.WSMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == typ {
			return msg
		}
	}
}

func TestWebSocketCommands(t *testing.T) {
	srv, sender := newServer(t, 1<<20)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	command := func(typ string, payload interface{}) {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		require.NoError(t, conn.WriteJSON(models.WSMessage{Type: typ, Payload: raw}))
	}

	command("open_file", models.OpenFileRequest{Base64: base64.StdEncoding.EncodeToString(capturePcap(t))})
	msg := readUntil(t, conn, "capture_loaded")
	var res models.LoadResult
	require.NoError(t, json.Unmarshal(msg.Payload, &res))
	require.Len(t, res.Frames, 2)

	command("replay_packet", models.ReplayRequest{Index: 0, Generation: res.Generation, Layers: res.Frames[0].Layers})
	msg = readUntil(t, conn, "replayed")
	var replayed models.ReplayResult
	require.NoError(t, json.Unmarshal(msg.Payload, &replayed))
	assert.True(t, replayed.Sent)
	assert.Equal(t, 1, sender.count())

	command("json_to_asn1", models.EncodeRequest{Name: models.ProtocolF1AP, Data: json.RawMessage(`{"Present":1,"InitiatingMessage":{"ProcedureCode":{"Value":1},"Criticality":{"Value":0},"Value":"AAAA"}}`)})
	msg = readUntil(t, conn, "encoded")
	var enc models.EncodeResponse
	require.NoError(t, json.Unmarshal(msg.Payload, &enc))
	assert.Equal(t, "00010003000000", enc.Hex)

	command("get_flows", struct{}{})
	readUntil(t, conn, "flows")

	command("reticulate", struct{}{})
	msg = readUntil(t, conn, "error")
	assert.Contains(t, string(msg.Payload), "unknown command")
}
