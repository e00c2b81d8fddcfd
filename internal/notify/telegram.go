package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/netdesk/internal/domain"
)

// DefaultTelegramAPI is the Bot API endpoint.
const DefaultTelegramAPI = "https://api.telegram.org"

// SessionIDLabel prefixes the session line in every expert notification. The
// relay looks for it when an expert replies to a notification.
const SessionIDLabel = "Session ID:"

var errTelegramNotOK = errors.New("telegram api returned ok=false")

// TelegramConfig holds bot settings.
type TelegramConfig struct {
	APIURL       string
	BotToken     string
	ExpertChatID string
	Timeout      time.Duration
}

// Telegram sends notifications through the Telegram Bot API.
type Telegram struct {
	endpoint     string
	expertChatID string
	client       *http.Client
	logger       *slog.Logger
}

// NewTelegram creates a Telegram notifier.
func NewTelegram(cfg TelegramConfig, logger *slog.Logger) *Telegram {
	if logger == nil {
		logger = slog.Default()
	}
	api := cfg.APIURL
	if api == "" {
		api = DefaultTelegramAPI
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Telegram{
		endpoint:     strings.TrimRight(api, "/") + "/bot" + cfg.BotToken + "/sendMessage",
		expertChatID: cfg.ExpertChatID,
		client:       &http.Client{Timeout: timeout},
		logger:       logger,
	}
}

type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type replyMarkup struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

type sendMessageRequest struct {
	ChatID      string      `json:"chat_id"`
	Text        string      `json:"text"`
	ParseMode   string      `json:"parse_mode"`
	ReplyMarkup replyMarkup `json:"reply_markup"`
}

// SendHandoff posts the full history of a session to the expert chat.
func (t *Telegram) SendHandoff(ctx context.Context, sessionID, lastUserText string, history []domain.Message) error {
	var lines []string
	for _, m := range history {
		switch m.Role {
		case domain.RoleUser:
			lines = append(lines, "👤 User: "+html.EscapeString(m.Content))
		case domain.RoleAssistant:
			lines = append(lines, "🤖 Assistant: "+html.EscapeString(m.Content))
		case domain.RoleExpert, domain.RoleEngineer:
			lines = append(lines, "🛠 "+m.Role.Label()+": "+html.EscapeString(m.Content))
		case domain.RoleSystem, domain.RoleDisclaimer:
			// Notices are UI chrome and are not relevant to the expert.
		}
	}

	text := fmt.Sprintf("📝 <b>New expert-mode request</b>\n\n<b>%s</b> %s\n\n<b>Chat history:</b>\n%s\n\n<b>Last message:</b>\n%s",
		SessionIDLabel, html.EscapeString(sessionID),
		strings.Join(lines, "\n\n"),
		html.EscapeString(lastUserText),
	)
	if err := t.send(ctx, sessionID, text); err != nil {
		return fmt.Errorf("send handoff: %w", err)
	}
	return nil
}

// SendFollowUp posts a new user message for a session already handed off.
func (t *Telegram) SendFollowUp(ctx context.Context, sessionID, text string) error {
	body := fmt.Sprintf("📨 <b>New message from user</b>\n\n<b>%s</b> %s\n\n<b>Message:</b>\n%s",
		SessionIDLabel, html.EscapeString(sessionID), html.EscapeString(text))
	if err := t.send(ctx, sessionID, body); err != nil {
		return fmt.Errorf("send follow-up: %w", err)
	}
	return nil
}

func (t *Telegram) send(ctx context.Context, sessionID, text string) error {
	payload, err := json.Marshal(sendMessageRequest{
		ChatID:    t.expertChatID,
		Text:      text,
		ParseMode: "HTML",
		ReplyMarkup: replyMarkup{InlineKeyboard: [][]inlineButton{{
			{Text: "Reply", CallbackData: "reply_" + sessionID},
		}}},
	})
	if err != nil {
		return fmt.Errorf("marshal telegram request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			t.logger.Debug("failed to close telegram response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram api error: %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	var out struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode telegram response: %w", err)
	}
	if !out.OK {
		return fmt.Errorf("%w: %s", errTelegramNotOK, out.Description)
	}
	t.logger.Debug("Telegram notification sent", "session_id", sessionID)
	return nil
}

// Ensure both notifiers implement Gateway.
var (
	_ Gateway = (*Telegram)(nil)
	_ Gateway = Noop{}
)
