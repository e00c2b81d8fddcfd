package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/netdesk/internal/domain"
	"github.com/ashureev/netdesk/internal/realtime"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	mu    sync.Mutex
	calls map[string][][]byte
	err   error
}

func (p *fakePublisher) Publish(_ context.Context, sessionID string, payload []byte) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return 0, p.err
	}
	if p.calls == nil {
		p.calls = make(map[string][][]byte)
	}
	p.calls[sessionID] = append(p.calls[sessionID], payload)
	return 1, nil
}

func newRelayServer(t *testing.T, pub Publisher, secret string) (*httptest.Server, *Hub) {
	t.Helper()
	hub := NewHub(nil)
	r := chi.NewRouter()
	NewHandler(hub, pub, secret, nil).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		hub.CloseAll()
		srv.Close()
	})
	return srv, hub
}

func listen(t *testing.T, srv *httptest.Server, hub *Hub, sessionID string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	before := hub.Listeners(sessionID)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat/" + sessionID
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })

	require.Eventually(t, func() bool { return hub.Listeners(sessionID) > before }, 2*time.Second, 5*time.Millisecond)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) domain.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	msg, ok, err := realtime.Decode(data)
	require.NoError(t, err)
	require.True(t, ok)
	return msg
}

func post(t *testing.T, url string, body any, header http.Header) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(string(data)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestExpertReplyReachesOnlyItsSession(t *testing.T) {
	t.Parallel()
	pub := &fakePublisher{}
	srv, hub := newRelayServer(t, pub, "")

	a := listen(t, srv, hub, "session-a")
	b := listen(t, srv, hub, "session-b")

	resp := post(t, srv.URL+"/api/expert/reply", expertReplyRequest{SessionID: "session-a", Content: "Reboot the router", Sender: "Jane"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out deliveryResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, 1, out.Delivered)
	assert.EqualValues(t, 1, out.Published)

	msg := readMessage(t, a)
	assert.Equal(t, domain.RoleExpert, msg.Role)
	assert.Equal(t, "Reboot the router", msg.Content)
	assert.Equal(t, "Jane", msg.Sender)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, _, err := b.Read(ctx)
	require.Error(t, err, "session-b must not receive session-a replies")

	pub.mu.Lock()
	assert.Len(t, pub.calls["session-a"], 1)
	pub.mu.Unlock()
}

func TestExpertReplyValidation(t *testing.T) {
	t.Parallel()
	srv, _ := newRelayServer(t, nil, "")

	resp := post(t, srv.URL+"/api/expert/reply", expertReplyRequest{SessionID: "x"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(t, srv.URL+"/api/expert/reply", expertReplyRequest{SessionID: "nobody", Content: "hi"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out deliveryResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Zero(t, out.Delivered)
}

func TestExpertReplyPublishFailure(t *testing.T) {
	t.Parallel()
	srv, _ := newRelayServer(t, &fakePublisher{err: errors.New("redis down")}, "")

	resp := post(t, srv.URL+"/api/expert/reply", expertReplyRequest{SessionID: "s", Content: "hi"}, nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestTelegramWebhookRelaysReplies(t *testing.T) {
	t.Parallel()
	srv, hub := newRelayServer(t, nil, "s3cret")
	conn := listen(t, srv, hub, "abc-123")

	update := telegramUpdate{
		UpdateID: 7,
		Message: &telegramMessage{
			Text: "Try a different cable",
			From: &telegramUser{FirstName: "Ivan", LastName: "Petrov"},
			ReplyTo: &telegramMessage{
				Text: "📝 New expert-mode request\n\nSession ID: abc-123\n\nUser: my link is down",
			},
		},
	}

	resp := post(t, srv.URL+"/telegram/webhook", update, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = post(t, srv.URL+"/telegram/webhook", update, http.Header{telegramSecretHdr: {"s3cret"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	msg := readMessage(t, conn)
	assert.Equal(t, "Try a different cable", msg.Content)
	assert.Equal(t, "Ivan Petrov", msg.Sender)
}

func TestTelegramWebhookIgnoresUnrelatedUpdates(t *testing.T) {
	t.Parallel()
	srv, _ := newRelayServer(t, nil, "")

	for _, upd := range []telegramUpdate{
		{UpdateID: 1},
		{UpdateID: 2, Message: &telegramMessage{Text: "hello"}},
		{UpdateID: 3, Message: &telegramMessage{Text: "hi", ReplyTo: &telegramMessage{Text: "no id here"}}},
	} {
		resp := post(t, srv.URL+"/telegram/webhook", upd, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode, "update %d", upd.UpdateID)
	}
}

func TestSessionIDFromHandoff(t *testing.T) {
	t.Parallel()

	id, err := sessionIDFromHandoff("header\nSession ID: 4f1c\nmore")
	require.NoError(t, err)
	assert.Equal(t, "4f1c", id)

	_, err = sessionIDFromHandoff("Session ID:   \n")
	require.ErrorIs(t, err, errNoSessionID)
}

func TestDisplayName(t *testing.T) {
	t.Parallel()

	var nobody *telegramUser
	assert.Equal(t, "Expert", nobody.displayName())
	assert.Equal(t, "@netops", (&telegramUser{Username: "netops"}).displayName())
	assert.Equal(t, "Ann", (&telegramUser{FirstName: "Ann"}).displayName())
}

func TestHubUnregisterOnDisconnect(t *testing.T) {
	t.Parallel()
	srv, hub := newRelayServer(t, nil, "")

	conn := listen(t, srv, hub, "s")
	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))

	require.Eventually(t, func() bool { return hub.Listeners("s") == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, hub.Broadcast(context.Background(), "s", []byte(`{}`)))
}

func TestListenerPing(t *testing.T) {
	t.Parallel()
	srv, hub := newRelayServer(t, nil, "")
	conn := listen(t, srv, hub, "s")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`)))
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"pong"}`, string(data))
}
