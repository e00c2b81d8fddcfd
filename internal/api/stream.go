package api

import (
	"container/list"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ashureev/netdesk/internal/config"
	"github.com/ashureev/netdesk/internal/identity"
	"github.com/ashureev/netdesk/internal/store"
)

// streamEvent is one session change addressed to a user.
type streamEvent struct {
	UserID    string          `json:"-"`
	Kind      store.EventKind `json:"kind"`
	SessionID string          `json:"session_id"`
}

type queuedEvent struct {
	id    int64
	event streamEvent
}

// sseConnection represents a single SSE client connection.
type sseConnection struct {
	id      int64
	userID  string
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
	closed  bool
}

// Broker fans session events out to the SSE streams of their owner and keeps
// a short per-user backlog for clients reconnecting with Last-Event-ID.
type Broker struct {
	events chan streamEvent
	done   chan struct{}

	connectionsMu sync.RWMutex
	connections   map[string]map[int64]*sseConnection

	queueMu   sync.RWMutex
	queues    map[string]*list.List
	queueSize int

	counterMu    sync.Mutex
	eventCounter int64
	connectionID int64

	keepalive  time.Duration
	retryDelay time.Duration
	closeOnce  sync.Once
}

// NewBroker creates a broker and starts its broadcast loop.
func NewBroker(cfg config.SSEConfig) *Broker {
	keepalive := cfg.KeepaliveInterval
	if keepalive <= 0 {
		keepalive = 15 * time.Second
	}
	retry := cfg.RetryDelay
	if retry <= 0 {
		retry = 5 * time.Second
	}
	b := &Broker{
		events:      make(chan streamEvent, 256),
		done:        make(chan struct{}),
		connections: make(map[string]map[int64]*sseConnection),
		queues:      make(map[string]*list.List),
		queueSize:   100,
		keepalive:   keepalive,
		retryDelay:  retry,
	}
	go b.broadcastLoop()
	return b
}

// Observer returns a store observer that publishes the events of userID.
func (b *Broker) Observer(userID string) store.Observer {
	return func(e store.Event) {
		b.Publish(streamEvent{UserID: userID, Kind: e.Kind, SessionID: e.SessionID})
	}
}

// Publish queues an event without blocking. Events are dropped when the
// broker is saturated; clients resynchronise on the next event.
func (b *Broker) Publish(e streamEvent) {
	select {
	case <-b.done:
	case b.events <- e:
	default:
		slog.Warn("SSE broker saturated, dropping event", "user_id", e.UserID, "kind", e.Kind)
	}
}

// Forget drops the backlog of a user whose workspace was torn down.
func (b *Broker) Forget(userID string) {
	b.queueMu.Lock()
	defer b.queueMu.Unlock()
	delete(b.queues, userID)
}

// Close stops the broadcast loop.
func (b *Broker) Close() {
	b.closeOnce.Do(func() { close(b.done) })
}

func (b *Broker) nextEventID() int64 {
	b.counterMu.Lock()
	defer b.counterMu.Unlock()
	b.eventCounter++
	return b.eventCounter
}

func (b *Broker) enqueue(userID string, id int64, e streamEvent) {
	b.queueMu.Lock()
	defer b.queueMu.Unlock()

	l, ok := b.queues[userID]
	if !ok {
		l = list.New()
		b.queues[userID] = l
	}
	l.PushBack(&queuedEvent{id: id, event: e})
	for l.Len() > b.queueSize {
		l.Remove(l.Front())
	}
}

func (b *Broker) missed(userID string, after int64) []*queuedEvent {
	b.queueMu.RLock()
	defer b.queueMu.RUnlock()

	l, ok := b.queues[userID]
	if !ok {
		return nil
	}
	var out []*queuedEvent
	for e := l.Front(); e != nil; e = e.Next() {
		if q := e.Value.(*queuedEvent); q.id > after {
			out = append(out, q)
		}
	}
	return out
}

func (b *Broker) broadcastLoop() {
	for {
		select {
		case <-b.done:
			return
		case e := <-b.events:
			id := b.nextEventID()
			b.enqueue(e.UserID, id, e)

			// Snapshot connections to avoid holding the lock during writes.
			b.connectionsMu.RLock()
			conns := make([]*sseConnection, 0, len(b.connections[e.UserID]))
			for _, c := range b.connections[e.UserID] {
				conns = append(conns, c)
			}
			b.connectionsMu.RUnlock()

			for _, c := range conns {
				b.send(c, id, e)
			}
		}
	}
}

func (b *Broker) send(c *sseConnection, id int64, e streamEvent) {
	data, err := json.Marshal(e)
	if err != nil {
		slog.Error("Failed to marshal SSE event", "error", err, "conn_id", c.id)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if err := writeSSEWithID(c.writer, id, "session", string(data)); err != nil {
		slog.Warn("Failed to write to SSE connection", "error", err, "conn_id", c.id, "user_id", c.userID)
		return
	}
	c.flusher.Flush()
}

// HandleStream streams session events of the caller.
func (b *Broker) HandleStream(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	lastEventID := int64(0)
	idHeader := r.Header.Get("Last-Event-ID")
	if idHeader == "" {
		idHeader = r.URL.Query().Get("lastEventId")
	}
	if idHeader != "" {
		if parsed, err := strconv.ParseInt(idHeader, 10, 64); err == nil {
			lastEventID = parsed
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if _, err := io.WriteString(w, fmt.Sprintf("retry: %d\n\n", b.retryDelay.Milliseconds())); err != nil {
		slog.Warn("Failed to write SSE retry header", "error", err, "user_id", userID)
		return
	}
	flusher.Flush()

	b.counterMu.Lock()
	b.connectionID++
	connID := b.connectionID
	b.counterMu.Unlock()

	conn := &sseConnection{id: connID, userID: userID, writer: w, flusher: flusher}

	// Replay before registering so backlog and live events keep their order.
	if lastEventID > 0 {
		for _, q := range b.missed(userID, lastEventID) {
			b.send(conn, q.id, q.event)
		}
	}

	b.connectionsMu.Lock()
	if _, exists := b.connections[userID]; !exists {
		b.connections[userID] = make(map[int64]*sseConnection)
	}
	b.connections[userID][connID] = conn
	b.connectionsMu.Unlock()

	defer func() {
		conn.mu.Lock()
		conn.closed = true
		conn.mu.Unlock()

		b.connectionsMu.Lock()
		if userConns, exists := b.connections[userID]; exists {
			delete(userConns, connID)
			if len(userConns) == 0 {
				delete(b.connections, userID)
			}
		}
		b.connectionsMu.Unlock()
		slog.Info("SSE connection closed", "user_id", userID, "conn_id", connID)
	}()

	conn.mu.Lock()
	err := writeSSE(w, "connected", fmt.Sprintf(`{"status":"connected","conn_id":%d}`, connID))
	if err == nil {
		flusher.Flush()
	}
	conn.mu.Unlock()
	if err != nil {
		slog.Warn("Failed to write SSE connected event", "error", err, "user_id", userID)
		return
	}

	slog.Info("SSE connection established", "user_id", userID, "conn_id", connID, "reconnect", lastEventID > 0)

	keepalive := time.NewTicker(b.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-b.done:
			return
		case <-keepalive.C:
			conn.mu.Lock()
			err := writeSSE(w, "ping", `{"status":"alive"}`)
			if err == nil {
				flusher.Flush()
			}
			conn.mu.Unlock()
			if err != nil {
				slog.Warn("Failed to write SSE keepalive ping", "error", err, "user_id", userID)
				return
			}
		}
	}
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEWithID(w io.Writer, id int64, event, data string) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}
