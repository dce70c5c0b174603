package handlers

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"sigscope/internal/engine"
	"sigscope/internal/models"
)

const (
	writeWait  = 5 * time.Second
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  64 << 10,
	WriteBufferSize: 64 << 10,
}

// WSClient wraps a WebSocket connection and implements engine.Client.
type WSClient struct {
	conn   *websocket.Conn
	eng    *engine.Engine
	log    zerolog.Logger
	sendCh chan models.WSMessage
	done   chan struct{}
}

// NewWSClient creates a WSClient and registers it with the engine.
func NewWSClient(conn *websocket.Conn, eng *engine.Engine, log zerolog.Logger) *WSClient {
	c := &WSClient{
		conn:   conn,
		eng:    eng,
		log:    log.With().Str("remote", conn.RemoteAddr().String()).Logger(),
		sendCh: make(chan models.WSMessage, sendBuffer),
		done:   make(chan struct{}),
	}
	eng.RegisterClient(c)
	go c.writeLoop()
	return c
}

// SendMessage queues a message for async delivery. When the buffer is
// full the oldest queued message is dropped to make room.
func (c *WSClient) SendMessage(msg models.WSMessage) error {
	select {
	case <-c.done:
		return nil
	default:
	}
	select {
	case c.sendCh <- msg:
		return nil
	default:
		select {
		case <-c.sendCh:
		default:
		}
		select {
		case c.sendCh <- msg:
		default:
			c.log.Warn().Str("type", msg.Type).Msg("client send buffer full, message dropped")
		}
		return nil
	}
}

// writeLoop drains the send channel and writes to the WebSocket.
func (c *WSClient) writeLoop() {
	defer c.conn.Close()
	for {
		select {
		case msg := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.log.Debug().Err(err).Msg("websocket write failed")
				return
			}
		case <-c.done:
			return
		}
	}
}

// ReadLoop reads messages from the client and dispatches commands.
func (c *WSClient) ReadLoop() {
	defer func() {
		c.eng.UnregisterClient(c)
		close(c.done)
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg models.WSMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError("invalid message format")
			continue
		}
		c.handleCommand(msg)
	}
}

func (c *WSClient) handleCommand(msg models.WSMessage) {
	switch msg.Type {
	case "open_file":
		var req models.OpenFileRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			c.sendError("invalid open_file payload: " + err.Error())
			return
		}
		data := []byte(req.Data)
		if req.Base64 != "" {
			b, err := base64.StdEncoding.DecodeString(req.Base64)
			if err != nil {
				c.sendError("invalid open_file payload: " + err.Error())
				return
			}
			data = b
		}
		// The engine broadcasts capture_loaded to every client, this one
		// included.
		if _, err := c.eng.LoadCapture(data); err != nil {
			c.sendError("failed to read capture: " + err.Error())
		}

	case "replay_packet":
		var req models.ReplayRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			c.sendError("invalid replay_packet payload: " + err.Error())
			return
		}
		if _, err := c.eng.Replay(req); err != nil {
			c.sendError("replay failed: " + err.Error())
		}

	case "json_to_asn1":
		var req models.EncodeRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			c.sendError("invalid json_to_asn1 payload: " + err.Error())
			return
		}
		out, err := c.eng.EncodeMessage(req)
		if err != nil {
			c.sendError("encode failed: " + err.Error())
			return
		}
		c.sendJSON("encoded", models.EncodeResponse{Hex: out})

	case "get_flows":
		c.sendJSON("flows", c.eng.Flows())

	default:
		c.sendError("unknown command: " + msg.Type)
	}
}

func (c *WSClient) sendJSON(typ string, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		c.sendError("marshal " + typ + ": " + err.Error())
		return
	}
	c.SendMessage(models.WSMessage{Type: typ, Payload: payload})
}

func (c *WSClient) sendError(message string) {
	payload, _ := json.Marshal(models.ErrorPayload{Message: message})
	c.SendMessage(models.WSMessage{Type: "error", Payload: payload})
}

// HandleWebSocket is the HTTP handler for WebSocket upgrades.
func HandleWebSocket(eng *engine.Engine, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}
		client := NewWSClient(conn, eng, log)
		client.ReadLoop()
	}
}
