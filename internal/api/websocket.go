package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// WebSocket message types for the event stream
const (
	// Client -> Server messages
	MsgTypePing = "ping"

	// Server -> Client messages
	MsgTypeConnected = "connected"
	MsgTypeStage     = "stage"
	MsgTypePong      = "pong"
	MsgTypeError     = "error"
)

const wsWriteWait = 10 * time.Second

// WSMessage is the envelope for every frame on the event stream
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// WSErrorResponse is the payload of an error frame
type WSErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// WebSocketHandler streams pipeline stage transitions to connected clients
type WebSocketHandler struct {
	pipeline Pipeline
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewWebSocketHandler creates a new event stream handler
func NewWebSocketHandler(pipeline Pipeline, logger *slog.Logger) EventsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketHandler{
		pipeline: pipeline,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Provisioning stations connect from arbitrary hosts
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
		},
		logger: logger,
	}
}

// HandleEvents upgrades the connection and forwards every stage event until the client leaves
func (wsh *WebSocketHandler) HandleEvents(c echo.Context) error {
	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	events, cancel := wsh.pipeline.Subscribe()
	defer cancel()

	conn := &wsConn{ws: ws}
	wsh.logger.Debug("event stream client connected", "remote", c.RealIP())

	if err := conn.send(WSMessage{Type: MsgTypeConnected, Timestamp: time.Now().UnixMilli()}); err != nil {
		return nil
	}

	done := make(chan struct{})
	go wsh.readLoop(conn, done)

	for {
		select {
		case <-done:
			wsh.logger.Debug("event stream client disconnected", "remote", c.RealIP())
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			msg := WSMessage{
				Type:      MsgTypeStage,
				ID:        ev.JobID,
				Payload:   mustJSON(ev),
				Timestamp: time.Now().UnixMilli(),
			}
			if err := conn.send(msg); err != nil {
				wsh.logger.Debug("event stream write failed", "error", err)
				return nil
			}
		}
	}
}

// readLoop answers pings and closes done once the client goes away.
func (wsh *WebSocketHandler) readLoop(conn *wsConn, done chan<- struct{}) {
	defer close(done)
	for {
		var msg WSMessage
		if err := conn.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				wsh.logger.Warn("event stream connection error", "error", err)
			}
			return
		}

		switch msg.Type {
		case MsgTypePing:
			conn.send(WSMessage{Type: MsgTypePong, ID: msg.ID, Timestamp: time.Now().UnixMilli()})
		default:
			conn.send(WSMessage{
				Type:      MsgTypeError,
				Payload:   mustJSON(WSErrorResponse{Message: "Unknown message type: " + msg.Type, Code: "INVALID_TYPE"}),
				Timestamp: time.Now().UnixMilli(),
			})
		}
	}
}

// wsConn serializes writes; gorilla allows one concurrent writer.
type wsConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (w *wsConn) send(msg WSMessage) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return w.ws.WriteJSON(msg)
}

func mustJSON(v interface{}) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}

