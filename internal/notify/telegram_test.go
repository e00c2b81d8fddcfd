package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ashureev/netdesk/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelegramSendHandoff(t *testing.T) {
	t.Parallel()

	var got sendMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/botTOKEN/sendMessage" {
			http.NotFound(w, r)
			return
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	defer srv.Close()

	tg := NewTelegram(TelegramConfig{APIURL: srv.URL, BotToken: "TOKEN", ExpertChatID: "42"}, nil)
	history := []domain.Message{
		domain.NewMessage(domain.RoleUser, "switch <core-1> drops packets", "You"),
		domain.NewMessage(domain.RoleAssistant, "check cabling", "Assistant"),
		domain.NewMessage(domain.RoleSystem, "internal notice", ""),
	}

	require.NoError(t, tg.SendHandoff(context.Background(), "sess-1", "still broken", history))

	assert.Equal(t, "42", got.ChatID)
	assert.Equal(t, "HTML", got.ParseMode)
	assert.Contains(t, got.Text, "Session ID:</b> sess-1")
	assert.Contains(t, got.Text, "switch &lt;core-1&gt; drops packets")
	assert.NotContains(t, got.Text, "internal notice")
	assert.True(t, strings.HasSuffix(got.Text, "still broken"))
	require.Len(t, got.ReplyMarkup.InlineKeyboard, 1)
	assert.Equal(t, "reply_sess-1", got.ReplyMarkup.InlineKeyboard[0][0].CallbackData)
}

func TestTelegramErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "BAD") {
			http.Error(w, `{"ok":false}`, http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer srv.Close()

	ctx := context.Background()

	bad := NewTelegram(TelegramConfig{APIURL: srv.URL, BotToken: "BAD", ExpertChatID: "1"}, nil)
	require.Error(t, bad.SendFollowUp(ctx, "s", "hi"))

	notOK := NewTelegram(TelegramConfig{APIURL: srv.URL, BotToken: "T", ExpertChatID: "1"}, nil)
	err := notOK.SendFollowUp(ctx, "s", "hi")
	require.ErrorIs(t, err, errTelegramNotOK)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestNoopNeverFails(t *testing.T) {
	t.Parallel()

	n := Noop{}
	require.NoError(t, n.SendHandoff(context.Background(), "s", "x", nil))
	require.NoError(t, n.SendFollowUp(context.Background(), "s", "x"))
}
