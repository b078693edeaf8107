package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/nikicat/sudo-prompt/internal/elevate"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Send pings to peer with this period.
	pingPeriod = 30 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 512
)

// WSMessage represents a message sent over the WebSocket.
type WSMessage struct {
	Type string `json:"type"`

	// For snapshot - no omitempty to ensure the array is always present in JSON
	Prompts []elevate.PromptInfo `json:"prompts"`

	// For prompt_started, prompt_joined and prompt_resolved
	Prompt *elevate.PromptInfo `json:"prompt,omitempty"`

	// For prompt_resolved
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// WSHandler streams coordinator events over WebSocket connections.
type WSHandler struct {
	coord *elevate.Coordinator

	// Active connections
	connsMu sync.RWMutex
	conns   map[*wsConnection]struct{}
}

// NewWSHandler creates a new WebSocket handler.
func NewWSHandler(coord *elevate.Coordinator) *WSHandler {
	return &WSHandler{
		coord: coord,
		conns: make(map[*wsConnection]struct{}),
	}
}

// wsConnection represents a single WebSocket connection.
type wsConnection struct {
	handler   *WSHandler
	conn      *websocket.Conn
	send      chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// HandleWS handles WebSocket upgrade requests. Authentication is done by
// the server middleware.
func (h *WSHandler) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Error("WebSocket accept failed", "error", err)
		return
	}

	conn.SetReadLimit(maxMessageSize)

	// Use background context - the WebSocket connection lives beyond the HTTP request
	ctx, cancel := context.WithCancel(context.Background())
	wsc := &wsConnection{
		handler: h,
		conn:    conn,
		send:    make(chan []byte, 256),
		ctx:     ctx,
		cancel:  cancel,
	}

	// Register connection
	h.connsMu.Lock()
	h.conns[wsc] = struct{}{}
	h.connsMu.Unlock()

	// Subscribe before the snapshot so no event falls in between.
	h.coord.Subscribe(wsc)

	// Send initial snapshot
	if err := wsc.sendSnapshot(); err != nil {
		slog.Error("Failed to send snapshot", "error", err)
		wsc.close()
		return
	}

	// Start reader and writer goroutines
	go wsc.writePump()
	go wsc.readPump()
}

// ConnectionCount returns the number of open WebSocket connections.
func (h *WSHandler) ConnectionCount() int {
	h.connsMu.RLock()
	defer h.connsMu.RUnlock()
	return len(h.conns)
}

// OnEvent implements elevate.Observer.
func (wsc *wsConnection) OnEvent(event elevate.Event) {
	prompt := event.Prompt
	msg := WSMessage{Prompt: &prompt}

	switch event.Type {
	case elevate.EventPromptStarted:
		msg.Type = "prompt_started"
	case elevate.EventPromptJoined:
		msg.Type = "prompt_joined"
	case elevate.EventPromptGranted:
		msg.Type = "prompt_resolved"
		msg.Result = string(elevate.ResolutionGranted)
	case elevate.EventPromptDenied:
		msg.Type = "prompt_resolved"
		msg.Result = string(elevate.ResolutionDenied)
	case elevate.EventPromptFailed:
		msg.Type = "prompt_resolved"
		msg.Result = string(elevate.ResolutionFailed)
		if errors.Is(event.Err, elevate.ErrPromptTimeout) {
			msg.Result = string(elevate.ResolutionTimedOut)
		}
	default:
		return
	}
	if event.Err != nil {
		msg.Error = event.Err.Error()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to marshal WebSocket message", "error", err)
		return
	}

	// Non-blocking send - drop message if client is slow
	select {
	case wsc.send <- data:
	case <-wsc.ctx.Done():
	default:
		slog.Warn("WebSocket send buffer full, dropping message")
	}
}

// sendSnapshot sends the current state to the client.
func (wsc *wsConnection) sendSnapshot() error {
	msg := WSMessage{
		Type:    "snapshot",
		Prompts: wsc.handler.coord.Pending(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	// Send directly (not through channel) for initial snapshot
	ctx, cancel := context.WithTimeout(wsc.ctx, writeWait)
	defer cancel()
	return wsc.conn.Write(ctx, websocket.MessageText, data)
}

// writePump pumps messages from the send channel to the WebSocket connection.
func (wsc *wsConnection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		wsc.close()
	}()

	for {
		select {
		case <-wsc.ctx.Done():
			return

		case message := <-wsc.send:
			ctx, cancel := context.WithTimeout(wsc.ctx, writeWait)
			err := wsc.conn.Write(ctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				slog.Debug("WebSocket write failed", "error", err)
				return
			}

		case <-ticker.C:
			// Send ping
			ctx, cancel := context.WithTimeout(wsc.ctx, writeWait)
			err := wsc.conn.Ping(ctx)
			cancel()
			if err != nil {
				slog.Debug("WebSocket ping failed", "error", err)
				return
			}
		}
	}
}

// readPump reads messages from the WebSocket connection.
// We don't expect any messages from the client, this is just for close detection.
func (wsc *wsConnection) readPump() {
	defer wsc.close()

	for {
		if _, _, err := wsc.conn.Read(wsc.ctx); err != nil {
			// Connection closed
			return
		}
		// Ignore any messages from client
	}
}

// close cleans up the connection.
func (wsc *wsConnection) close() {
	wsc.closeOnce.Do(func() {
		wsc.cancel()

		wsc.handler.coord.Unsubscribe(wsc)

		wsc.handler.connsMu.Lock()
		delete(wsc.handler.conns, wsc)
		wsc.handler.connsMu.Unlock()

		wsc.conn.Close(websocket.StatusNormalClosure, "")
	})
}

// CloseAll closes every open connection.
func (h *WSHandler) CloseAll() {
	h.connsMu.RLock()
	conns := make([]*wsConnection, 0, len(h.conns))
	for wsc := range h.conns {
		conns = append(conns, wsc)
	}
	h.connsMu.RUnlock()

	for _, wsc := range conns {
		wsc.close()
	}
}
