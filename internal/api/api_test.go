package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/netdesk/internal/agent"
	"github.com/ashureev/netdesk/internal/config"
	"github.com/ashureev/netdesk/internal/domain"
	"github.com/ashureev/netdesk/internal/identity"
	"github.com/ashureev/netdesk/internal/orchestrator"
	"github.com/ashureev/netdesk/internal/store"
	"github.com/ashureev/netdesk/internal/ticket"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	*httptest.Server
	client   *http.Client
	registry *orchestrator.Registry
	repo     *store.SQLiteIncidents
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := &config.Config{
		Port:      "0",
		AI:        config.AIConfig{Backend: config.AIBackendSimulated},
		Ticketing: config.TicketingConfig{Backend: config.TicketBackendLocal},
		Realtime:  config.RealtimeConfig{Backend: config.RealtimeBackendNone},
		RateLimit: config.RateLimitConfig{RequestsPerWindow: 5, WindowDuration: time.Minute},
		SSE:       config.SSEConfig{KeepaliveInterval: time.Second, MaxRequestBodySize: 1 << 10},
	}

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "desk.db"))
	require.NoError(t, err)
	desk := ticket.NewDesk(repo)
	broker := NewBroker(cfg.SSE)

	registry := orchestrator.NewRegistry(func(userID string) (*orchestrator.Orchestrator, error) {
		return orchestrator.New(orchestrator.Deps{
			UserID:       userID,
			Responder:    agent.Simulated{},
			Tickets:      desk,
			Observer:     broker.Observer(userID),
			PollInterval: time.Hour,
			AckDelay:     10 * time.Millisecond,
		})
	}, nil)

	h := NewHandler(registry, repo, broker, cfg)
	r := chi.NewRouter()
	r.Use(identity.Middleware(true))
	h.RegisterRoutes(r)

	srv := httptest.NewServer(r)
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		broker.Close()
		srv.Close()
		registry.Close()
		h.Close()
		_ = repo.Close()
	})
	return &testServer{Server: srv, client: &http.Client{Jar: jar}, registry: registry, repo: repo}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (s *testServer) session(t *testing.T, id string) sessionView {
	t.Helper()
	resp := s.do(t, http.MethodGet, "/api/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decodeBody[sessionView](t, resp)
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	list := decodeBody[sessionListResponse](t, s.do(t, http.MethodGet, "/api/sessions", nil))
	require.Len(t, list.Sessions, 1, "new workspaces start with one session")
	first := list.Sessions[0]
	assert.True(t, first.Active)
	assert.Equal(t, domain.DefaultTitle, first.Title)

	resp := s.do(t, http.MethodPost, "/api/sessions", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	second := decodeBody[sessionView](t, resp)
	assert.True(t, second.Active)

	list = decodeBody[sessionListResponse](t, s.do(t, http.MethodGet, "/api/sessions", nil))
	require.Len(t, list.Sessions, 2)
	assert.Equal(t, second.ID, list.Sessions[0].ID)
	assert.Equal(t, second.ID, list.ActiveID)

	resp = s.do(t, http.MethodPost, "/api/sessions/"+first.ID+"/select", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decodeBody[sessionView](t, resp).Active)

	resp = s.do(t, http.MethodDelete, "/api/sessions/"+first.ID, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	list = decodeBody[sessionListResponse](t, s.do(t, http.MethodGet, "/api/sessions", nil))
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, second.ID, list.ActiveID)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/sessions/"+first.ID, nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, "/api/sessions/"+first.ID, nil).StatusCode)
}

func TestSendMessageGetsReply(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	id := decodeBody[sessionView](t, s.do(t, http.MethodPost, "/api/sessions", nil)).ID

	resp := s.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", sendRequest{Text: "packet loss on switch"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	sv := decodeBody[sessionView](t, resp)
	assert.Equal(t, "packet loss on switch", sv.Title)
	require.NotEmpty(t, sv.Messages)
	assert.Equal(t, domain.RoleUser, sv.Messages[0].Role)

	require.Eventually(t, func() bool {
		return len(s.session(t, id).Messages) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, agent.SimulatedReply, s.session(t, id).Messages[1].Content)

	resp = s.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", sendRequest{Text: "   "})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Len(t, decodeBody[sessionView](t, resp).Messages, 2)
}

func TestSendMessageValidation(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	id := decodeBody[sessionView](t, s.do(t, http.MethodPost, "/api/sessions", nil)).ID

	req, err := http.NewRequest(http.MethodPost, s.URL+"/api/sessions/"+id+"/messages", strings.NewReader("{oops"))
	require.NoError(t, err)
	resp, err := s.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	huge := sendRequest{Text: strings.Repeat("x", 4<<10)}
	assert.Equal(t, http.StatusRequestEntityTooLarge, s.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", huge).StatusCode)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/api/sessions/missing/messages", sendRequest{Text: "hi"}).StatusCode)
}

func TestSendMessageRateLimited(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	id := decodeBody[sessionView](t, s.do(t, http.MethodPost, "/api/sessions", nil)).ID

	for i := 0; i < 5; i++ {
		require.Equal(t, http.StatusAccepted, s.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", sendRequest{Text: "hi"}).StatusCode)
	}
	assert.Equal(t, http.StatusTooManyRequests, s.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", sendRequest{Text: "hi"}).StatusCode)
}

func TestExpertFlowAgainstLocalDesk(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	id := decodeBody[sessionView](t, s.do(t, http.MethodPost, "/api/sessions", nil)).ID

	resp := s.do(t, http.MethodPost, "/api/sessions/"+id+"/expert/toggle", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sv := decodeBody[sessionView](t, resp)
	assert.Equal(t, domain.ModeExpert, sv.Mode)
	assert.Equal(t, domain.DisclaimerShown, sv.Disclaimer)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/sessions/"+id+"/disclaimer", disclaimerRequest{Choice: "maybe"}).StatusCode)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/sessions/"+id+"/disclaimer", disclaimerRequest{Choice: "question"}).StatusCode)
	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, "/api/sessions/"+id+"/disclaimer", disclaimerRequest{Choice: "history"}).StatusCode)

	var incidentID string
	require.Eventually(t, func() bool {
		sv := s.session(t, id)
		incidentID = sv.TicketID
		return sv.ExpertAssigned
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "INC0000001", s.session(t, id).TicketRef)

	require.Equal(t, http.StatusAccepted, s.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", sendRequest{Text: "Port 12 is flapping"}).StatusCode)

	var inc incidentResponse
	require.Eventually(t, func() bool {
		inc = decodeBody[incidentResponse](t, s.do(t, http.MethodGet, "/api/desk/incidents/"+incidentID, nil))
		return len(inc.WorkNotes) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "Port 12 is flapping", inc.WorkNotes[0].Note)
	assert.Equal(t, string(domain.IncidentNew), inc.Status)

	resp = s.do(t, http.MethodPatch, "/api/desk/incidents/"+incidentID, incidentUpdateRequest{Status: "In Progress", AssignedTo: "Jane"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	inc = decodeBody[incidentResponse](t, resp)
	assert.Equal(t, "In Progress", inc.Status)
	assert.Equal(t, "Jane", inc.AssignedTo)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPatch, "/api/desk/incidents/"+incidentID, incidentUpdateRequest{Status: "Vanished"}).StatusCode)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPatch, "/api/desk/incidents/nope", incidentUpdateRequest{Status: "Closed"}).StatusCode)

	resp = s.do(t, http.MethodPut, "/api/sessions/"+id+"/expert", map[string]bool{"enabled": false})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, domain.ModeAI, decodeBody[sessionView](t, resp).Mode)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPut, "/api/sessions/"+id+"/expert", map[string]string{}).StatusCode)
}

func TestLogoutTearsDownWorkspace(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/sessions", nil).StatusCode)
	require.Equal(t, 1, s.registry.Len())

	resp := s.do(t, http.MethodPost, "/api/logout", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Zero(t, s.registry.Len())
}

func TestHealthAndConfig(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/health", nil).StatusCode)
	cfg := decodeBody[map[string]any](t, s.do(t, http.MethodGet, "/api/config", nil))
	assert.Equal(t, "simulated", cfg["ai_backend"])
	assert.Equal(t, "local", cfg["ticket_backend"])
}

func TestStreamDeliversSessionEvents(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	// Establish identity and workspace first so the stream and the API
	// requests share a user.
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/sessions", nil).StatusCode)

	req, err := http.NewRequest(http.MethodGet, s.URL+"/api/stream", nil)
	require.NoError(t, err)
	resp, err := s.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 64)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	waitFor := func(prefix string) string {
		deadline := time.After(3 * time.Second)
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					t.Fatalf("stream closed before %q", prefix)
				}
				if strings.HasPrefix(line, prefix) {
					return line
				}
			case <-deadline:
				t.Fatalf("timed out waiting for %q", prefix)
			}
		}
	}

	waitFor("event: connected")

	created := decodeBody[sessionView](t, s.do(t, http.MethodPost, "/api/sessions", nil))
	for {
		data := strings.TrimPrefix(waitFor("data: "), "data: ")
		var ev streamEvent
		require.NoError(t, json.Unmarshal([]byte(data), &ev))
		if ev.SessionID == created.ID && ev.Kind == store.EventCreated {
			break
		}
	}
}

func TestRateLimiter(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(2, time.Minute)
	defer rl.Stop()

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"), "limits are per key")
}
