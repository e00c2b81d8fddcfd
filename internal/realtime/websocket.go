package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"

	"github.com/coder/websocket"
)

// maxFrameSize bounds a single pushed message.
const maxFrameSize = 64 << 10

// WebSocketChannel subscribes to <baseURL>/ws/chat/<sessionID>.
type WebSocketChannel struct {
	baseURL string
	logger  *slog.Logger
}

// NewWebSocketChannel creates a channel for the given ws:// or wss:// base URL.
func NewWebSocketChannel(baseURL string, logger *slog.Logger) (*WebSocketChannel, error) {
	if logger == nil {
		logger = slog.Default()
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse realtime URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return nil, fmt.Errorf("unsupported realtime URL scheme %q", u.Scheme)
	}
	return &WebSocketChannel{baseURL: strings.TrimRight(baseURL, "/"), logger: logger}, nil
}

// URL returns the endpoint dialed for a session.
func (c *WebSocketChannel) URL(sessionID string) string {
	return c.baseURL + "/ws/chat/" + url.PathEscape(sessionID)
}

// Connect dials the push endpoint for a session.
func (c *WebSocketChannel) Connect(ctx context.Context, sessionID string) (Subscription, error) {
	conn, _, err := websocket.Dial(ctx, c.URL(sessionID), nil)
	if err != nil {
		return nil, fmt.Errorf("dial realtime endpoint: %w", err)
	}
	conn.SetReadLimit(maxFrameSize)
	c.logger.Info("Realtime connection established", "session_id", sessionID)
	return &wsSubscription{conn: conn}, nil
}

type wsSubscription struct {
	conn *websocket.Conn
}

func (s *wsSubscription) Receive(ctx context.Context) ([]byte, error) {
	_, data, err := s.conn.Read(ctx)
	if err != nil {
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("read realtime message: %w", err)
	}
	return data, nil
}

func (s *wsSubscription) Close() error {
	if err := s.conn.Close(websocket.StatusNormalClosure, ""); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("close realtime connection: %w", err)
	}
	return nil
}
