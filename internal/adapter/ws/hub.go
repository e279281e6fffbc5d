// Package ws implements the WebSocket adapter: a firehose of task status
// changes and per-task event streams.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/Strob0t/agentrelay/internal/port/broadcast"
)

const (
	outboxSize   = 64
	writeTimeout = 5 * time.Second
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// conn is one firehose client. Messages queue in outbox and a writer
// goroutine drains it; a full outbox drops the client.
type conn struct {
	ws     *websocket.Conn
	outbox chan []byte
	cancel context.CancelFunc
}

// Hub manages firehose connections and broadcasts messages to them.
type Hub struct {
	mu    sync.RWMutex
	conns map[*conn]struct{}
}

var _ broadcast.Broadcaster = (*Hub)(nil)

// NewHub creates a new WebSocket hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[*conn]struct{})}
}

// HandleWS handles GET /ws.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		slog.ErrorContext(r.Context(), "websocket accept failed", "error", err)
		return
	}

	// The handler returns once the connection is registered; the request
	// context is not used past this point.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	c := &conn{ws: ws, outbox: make(chan []byte, outboxSize), cancel: cancel}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	slog.InfoContext(r.Context(), "websocket connected", "remote", r.RemoteAddr)

	// CloseRead consumes control frames and cancels ctx when the peer goes away.
	ctx = ws.CloseRead(ctx)
	go h.writeLoop(ctx, c)
}

func (h *Hub) writeLoop(ctx context.Context, c *conn) {
	defer h.remove(c)
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.outbox:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.ws.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				slog.Debug("websocket write failed", "error", err)
				return
			}
		}
	}
}

// Broadcast queues a message for every connected client. It never blocks.
func (h *Hub) Broadcast(_ context.Context, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("websocket marshal failed", "error", err)
		return
	}

	h.mu.RLock()
	var slow []*conn
	for c := range h.conns {
		select {
		case c.outbox <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		slog.Warn("websocket client fell behind, disconnecting")
		go func() {
			_ = c.ws.Close(websocket.StatusPolicyViolation, "client fell behind")
			h.remove(c)
		}()
	}
}

// BroadcastEvent marshals a typed event and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}
	h.Broadcast(ctx, Message{Type: eventType, Payload: data})
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[*conn]struct{})
	h.mu.Unlock()
	for c := range conns {
		c.cancel()
		_ = c.ws.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	_, ok := h.conns[c]
	delete(h.conns, c)
	h.mu.Unlock()

	if ok {
		c.cancel()
		_ = c.ws.Close(websocket.StatusNormalClosure, "")
		slog.Info("websocket disconnected")
	}
}
