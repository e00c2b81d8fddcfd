// Package relay pushes expert replies to the chat sessions listening for them.
package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const writeTimeout = 5 * time.Second

// Hub tracks the websocket listeners of every session.
type Hub struct {
	mu     sync.RWMutex
	active map[string]map[*websocket.Conn]struct{}
	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		active: make(map[string]map[*websocket.Conn]struct{}),
		logger: logger,
	}
}

// Register adds a listener for sessionID. A session may have several
// listeners, one per open tab.
func (h *Hub) Register(sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.active[sessionID]; !exists {
		h.active[sessionID] = make(map[*websocket.Conn]struct{})
	}
	h.active[sessionID][conn] = struct{}{}
	h.logger.Info("Relay listener registered", "session_id", sessionID, "listeners", len(h.active[sessionID]))
}

// Unregister removes a listener. Unknown connections are ignored.
func (h *Hub) Unregister(sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.active[sessionID]
	if !ok {
		return
	}
	if _, exists := conns[conn]; !exists {
		return
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(h.active, sessionID)
	}
	h.logger.Info("Relay listener unregistered", "session_id", sessionID)
}

// Listeners returns how many connections listen on sessionID.
func (h *Hub) Listeners(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active[sessionID])
}

// Broadcast writes payload to every listener of sessionID and returns how
// many received it. Listeners that fail are closed and dropped.
func (h *Hub) Broadcast(ctx context.Context, sessionID string, payload []byte) int {
	// Snapshot connections to avoid holding the lock during writes.
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.active[sessionID]))
	for c := range h.active[sessionID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range conns {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := c.Write(wctx, websocket.MessageText, payload)
		cancel()
		if err != nil {
			h.logger.Warn("Relay write failed, dropping listener", "session_id", sessionID, "error", err)
			_ = c.Close(websocket.StatusInternalError, "write failed")
			h.Unregister(sessionID, c)
			continue
		}
		delivered++
	}
	return delivered
}

// CloseAll disconnects every listener.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sid, conns := range h.active {
		for c := range conns {
			_ = c.Close(websocket.StatusGoingAway, "relay shutting down")
		}
		h.logger.Info("Relay listeners closed", "session_id", sid)
	}
	h.active = make(map[string]map[*websocket.Conn]struct{})
}
