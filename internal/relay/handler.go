package relay

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/netdesk/internal/api"
	"github.com/ashureev/netdesk/internal/notify"
	"github.com/ashureev/netdesk/internal/realtime"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

const (
	maxBodySize        = 1 << 20
	telegramSecretHdr  = "X-Telegram-Bot-Api-Secret-Token"
	defaultExpertLabel = "Expert"
)

var errNoSessionID = errors.New("reply does not reference a session")

// Publisher fans a payload out to other relay instances.
type Publisher interface {
	Publish(ctx context.Context, sessionID string, payload []byte) (int64, error)
}

// Handler serves the relay endpoints.
type Handler struct {
	hub           *Hub
	publisher     Publisher
	webhookSecret string
	logger        *slog.Logger
}

// NewHandler creates the relay handler. publisher may be nil.
func NewHandler(hub *Hub, publisher Publisher, webhookSecret string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{hub: hub, publisher: publisher, webhookSecret: webhookSecret, logger: logger}
}

// RegisterRoutes registers the relay routes on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/chat/{sessionID}", h.ServeWS)
	r.Post("/api/expert/reply", h.ExpertReply)
	r.Post("/telegram/webhook", h.TelegramWebhook)
	r.Get("/api/health", func(w http.ResponseWriter, _ *http.Request) {
		api.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

type listenerMessage struct {
	Type string `json:"type"`
}

// ServeWS upgrades the request and keeps the listener registered until the
// client goes away.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "listener ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	h.hub.Register(sessionID, ws)
	defer h.hub.Unregister(sessionID, ws)

	ctx := r.Context()
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("WebSocket closed by client", "session_id", sessionID)
			} else if ctx.Err() == nil {
				h.logger.Warn("WebSocket read error", "error", err, "session_id", sessionID)
			}
			return
		}

		var msg listenerMessage
		if json.Unmarshal(data, &msg) == nil && msg.Type == "ping" {
			if err := ws.Write(ctx, websocket.MessageText, []byte(`{"type":"pong"}`)); err != nil {
				h.logger.Debug("Failed to send pong", "error", err)
			}
		}
	}
}

type expertReplyRequest struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
	Sender    string `json:"sender"`
}

type deliveryResponse struct {
	SessionID string `json:"session_id"`
	Delivered int    `json:"delivered"`
	Published int64  `json:"published"`
}

// ExpertReply pushes a reply typed by an expert to the session.
func (h *Handler) ExpertReply(w http.ResponseWriter, r *http.Request) {
	var req expertReplyRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.SessionID) == "" || strings.TrimSpace(req.Content) == "" {
		api.Error(w, http.StatusBadRequest, "session_id and content are required")
		return
	}

	resp, err := h.deliver(r.Context(), req.SessionID, realtime.ExpertMessage(req.Content, req.Sender))
	if err != nil {
		h.logger.Error("Expert reply delivery failed", "session_id", req.SessionID, "error", err)
		api.Error(w, http.StatusBadGateway, "delivery failed")
		return
	}
	api.JSON(w, http.StatusOK, resp)
}

type telegramUser struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

type telegramMessage struct {
	MessageID int64            `json:"message_id"`
	Text      string           `json:"text"`
	From      *telegramUser    `json:"from"`
	ReplyTo   *telegramMessage `json:"reply_to_message"`
}

type telegramUpdate struct {
	UpdateID int64            `json:"update_id"`
	Message  *telegramMessage `json:"message"`
}

// TelegramWebhook turns replies to handoff notifications into pushes. Updates
// that are not such replies are acknowledged and ignored so Telegram does not
// redeliver them.
func (h *Handler) TelegramWebhook(w http.ResponseWriter, r *http.Request) {
	if h.webhookSecret != "" {
		got := r.Header.Get(telegramSecretHdr)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.webhookSecret)) != 1 {
			api.Error(w, http.StatusUnauthorized, "invalid webhook secret")
			return
		}
	}

	var upd telegramUpdate
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid update")
		return
	}

	msg := upd.Message
	if msg == nil || strings.TrimSpace(msg.Text) == "" || msg.ReplyTo == nil {
		h.logger.Debug("Ignoring telegram update", "update_id", upd.UpdateID)
		api.JSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	sessionID, err := sessionIDFromHandoff(msg.ReplyTo.Text)
	if err != nil {
		h.logger.Info("Ignoring telegram reply", "update_id", upd.UpdateID, "reason", err)
		api.JSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	resp, err := h.deliver(r.Context(), sessionID, realtime.ExpertMessage(msg.Text, msg.From.displayName()))
	if err != nil {
		// Telegram retries non-2xx responses, which is what we want here.
		h.logger.Error("Telegram reply delivery failed", "session_id", sessionID, "error", err)
		api.Error(w, http.StatusBadGateway, "delivery failed")
		return
	}
	h.logger.Info("Telegram reply relayed", "session_id", sessionID, "delivered", resp.Delivered, "published", resp.Published)
	api.JSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) deliver(ctx context.Context, sessionID string, msg realtime.Inbound) (deliveryResponse, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return deliveryResponse{}, fmt.Errorf("marshal expert message: %w", err)
	}

	resp := deliveryResponse{SessionID: sessionID}
	if h.publisher != nil {
		n, err := h.publisher.Publish(ctx, sessionID, payload)
		if err != nil {
			return deliveryResponse{}, err
		}
		resp.Published = n
	}
	resp.Delivered = h.hub.Broadcast(ctx, sessionID, payload)
	return resp, nil
}

// sessionIDFromHandoff finds the session ID line of a handoff notification.
func sessionIDFromHandoff(text string) (string, error) {
	for line := range strings.SplitSeq(text, "\n") {
		idx := strings.Index(line, notify.SessionIDLabel)
		if idx < 0 {
			continue
		}
		fields := strings.Fields(line[idx+len(notify.SessionIDLabel):])
		if len(fields) > 0 {
			return fields[0], nil
		}
	}
	return "", errNoSessionID
}

func (u *telegramUser) displayName() string {
	if u == nil {
		return defaultExpertLabel
	}
	if name := strings.TrimSpace(u.FirstName + " " + u.LastName); name != "" {
		return name
	}
	if u.Username != "" {
		return "@" + u.Username
	}
	return defaultExpertLabel
}
