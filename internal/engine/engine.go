package engine

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"sigscope/internal/capture"
	"sigscope/internal/flow"
	"sigscope/internal/models"
	"sigscope/internal/parser"
	"sigscope/internal/pdu"
	"sigscope/internal/rebuild"
	"sigscope/internal/send"
)

// Client represents a connected WebSocket client that receives broadcasts.
type Client interface {
	SendMessage(msg models.WSMessage) error
}

// Options configures replay.
type Options struct {
	ComputeChecksums bool
	// DryRun rebuilds packets but hands them to a logging sender.
	DryRun bool
}

// Engine owns the capture session and serializes every operation on it.
type Engine struct {
	mu        sync.Mutex
	session   *capture.Session
	adapter   *pdu.Adapter
	rebuilder *rebuild.Rebuilder
	sender    send.Sender
	dryRun    bool
	log       zerolog.Logger

	clientsMu sync.Mutex
	clients   map[Client]bool
}

// New creates an Engine that replays through sender. In dry-run mode the
// sender is replaced by one that only logs.
func New(log zerolog.Logger, sender send.Sender, opts Options) *Engine {
	log = log.With().Str("component", "engine").Logger()
	if opts.DryRun || sender == nil {
		sender = send.NewDryRun(log)
		opts.DryRun = true
	}
	adapter := pdu.New(log)
	dissector := parser.New(adapter)
	return &Engine{
		session:   capture.NewSession(dissector),
		adapter:   adapter,
		rebuilder: rebuild.New(dissector, adapter, rebuild.Options{ComputeChecksums: opts.ComputeChecksums}),
		sender:    sender,
		dryRun:    opts.DryRun,
		log:       log,
		clients:   make(map[Client]bool),
	}
}

// RegisterClient adds a client to receive broadcasts.
func (e *Engine) RegisterClient(c Client) {
	e.clientsMu.Lock()
	defer e.clientsMu.Unlock()
	e.clients[c] = true
}

// UnregisterClient removes a client.
func (e *Engine) UnregisterClient(c Client) {
	e.clientsMu.Lock()
	defer e.clientsMu.Unlock()
	delete(e.clients, c)
}

// LoadCapture replaces the session with the capture in data and
// broadcasts the dissected frames.
func (e *Engine) LoadCapture(data []byte) (models.LoadResult, error) {
	e.mu.Lock()
	res, err := e.session.Load(data)
	e.mu.Unlock()
	if err != nil {
		e.log.Warn().Err(err).Int("bytes", len(data)).Msg("capture load failed")
		return models.LoadResult{}, err
	}

	e.log.Info().Uint64("generation", res.Generation).Int("frames", len(res.Frames)).Msg("capture loaded")
	e.broadcastJSON("capture_loaded", res)
	return res, nil
}

// LoadCaptureFile reads a capture file from disk and loads it.
func (e *Engine) LoadCaptureFile(path string) (models.LoadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.LoadResult{}, fmt.Errorf("read capture: %w", err)
	}
	return e.LoadCapture(data)
}

// Replay rebuilds frame req.Index from the edited tree, starting at its
// network layer, and sends it. Nothing is sent when any step fails, and an
// empty tree replays nothing. req.Generation must match the current load.
func (e *Engine) Replay(req models.ReplayRequest) (models.ReplayResult, error) {
	if err := req.Layers.Validate(); err != nil {
		return models.ReplayResult{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	frame, err := e.session.OriginalAt(capture.Ref{Generation: req.Generation, Index: req.Index})
	if err != nil {
		return models.ReplayResult{}, err
	}
	if len(req.Layers) == 0 {
		e.log.Debug().Int("index", req.Index).Msg("empty tree, nothing replayed")
		return models.ReplayResult{Index: req.Index}, nil
	}

	packet, err := e.rebuilder.RebuildFromNetwork(frame.Data, frame.LinkType, req.Layers)
	if err != nil {
		e.log.Warn().Err(err).Int("index", req.Index).Msg("rebuild failed")
		return models.ReplayResult{}, fmt.Errorf("rebuild frame %d: %w", req.Index, err)
	}
	if err := e.sender.Send(packet); err != nil {
		e.log.Error().Err(err).Int("index", req.Index).Msg("send failed")
		return models.ReplayResult{}, fmt.Errorf("send frame %d: %w", req.Index, err)
	}

	res := models.ReplayResult{
		Index:  req.Index,
		Length: len(packet),
		Sent:   !e.dryRun,
		RawHex: hex.EncodeToString(packet),
	}
	e.log.Info().Int("index", req.Index).Int("bytes", len(packet)).Bool("sent", res.Sent).Msg("frame replayed")
	e.broadcastJSON("replayed", res)
	return res, nil
}

// EncodeMessage encodes a structured tree of a message set without a frame
// and returns the bytes as hex.
func (e *Engine) EncodeMessage(req models.EncodeRequest) (string, error) {
	b, err := e.adapter.Encode(req.Name, req.Data)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Flows returns the flows of the current capture.
func (e *Engine) Flows() []flow.Flow {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Flows()
}

// Generation returns the stamp of the current capture load.
func (e *Engine) Generation() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Generation()
}

func (e *Engine) broadcastJSON(typ string, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		e.log.Error().Err(err).Str("type", typ).Msg("marshal broadcast")
		return
	}
	e.broadcast(models.WSMessage{Type: typ, Payload: payload})
}

func (e *Engine) broadcast(msg models.WSMessage) {
	e.clientsMu.Lock()
	clients := make([]Client, 0, len(e.clients))
	for c := range e.clients {
		clients = append(clients, c)
	}
	e.clientsMu.Unlock()

	for _, c := range clients {
		c.SendMessage(msg)
	}
}
