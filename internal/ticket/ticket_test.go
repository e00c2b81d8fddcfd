package ticket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/ashureev/netdesk/internal/domain"
	"github.com/ashureev/netdesk/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatTranscriptSkipsDisclaimer(t *testing.T) {
	t.Parallel()

	msgs := []domain.Message{
		domain.NewMessage(domain.RoleUser, "no internet", "You"),
		domain.NewMessage(domain.RoleAssistant, "try rebooting", "Assistant"),
		domain.NewMessage(domain.RoleDisclaimer, "consent", ""),
	}
	assert.Equal(t, "User: no internet\n\nAssistant: try rebooting", FormatTranscript(msgs))
	assert.Empty(t, FormatTranscript(nil))
}

func TestDeskLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "desk.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	desk := NewDesk(repo)
	created, err := desk.CreateIncident(ctx, NewIncident{Title: "issue", Description: "User: issue", UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "INC0000001", created.Ref())
	assert.Equal(t, string(domain.IncidentNew), created.Status)

	require.NoError(t, desk.UpdateIncident(ctx, created.IncidentID, Update{Note: "still broken"}))
	notes, err := repo.ListWorkNotes(ctx, created.IncidentID)
	require.NoError(t, err)
	require.Len(t, notes, 1)

	require.NoError(t, repo.UpdateIncidentStatus(ctx, created.IncidentID, domain.IncidentInProgress, "Jane"))
	st, err := desk.GetStatus(ctx, created.IncidentID)
	require.NoError(t, err)
	assert.Equal(t, Status{Status: "In Progress", AssignedTo: "Jane"}, st)

	_, err = desk.GetStatus(ctx, "missing")
	require.ErrorIs(t, err, store.ErrIncidentNotFound)
}

func TestServiceNowClient(t *testing.T) {
	t.Parallel()

	var gotNote string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "bot" || pass != "secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/now/table/incident":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["short_description"] != "packet loss" || body["caller_id"] != "u1" {
				http.Error(w, "bad body", http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte(`{"result":{"sys_id":"abc123","number":"INC0010001","state":"1"}}`))
		case r.Method == http.MethodPatch && r.URL.Path == "/api/now/table/incident/abc123":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			gotNote = body["work_notes"]
			_, _ = w.Write([]byte(`{"result":{}}`))
		case r.Method == http.MethodGet && r.URL.Path == "/api/now/table/incident/abc123":
			assert.Equal(t, "true", r.URL.Query().Get("sysparm_display_value"))
			_, _ = w.Write([]byte(`{"result":{"state":"In Progress","assigned_to":{"display_value":"Jane Doe"}}}`))
		case r.Method == http.MethodGet && r.URL.Path == "/api/now/table/incident/unassigned":
			_, _ = w.Write([]byte(`{"result":{"state":"New","assigned_to":""}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	c := NewServiceNow(ServiceNowConfig{BaseURL: srv.URL + "/", Username: "bot", Password: "secret"}, nil)

	created, err := c.CreateIncident(ctx, NewIncident{Title: "packet loss", Description: "User: packet loss", UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, Created{IncidentID: "abc123", Number: "INC0010001", Status: "1"}, created)

	require.NoError(t, c.UpdateIncident(ctx, "abc123", Update{Note: "any news?"}))
	assert.Equal(t, "any news?", gotNote)

	st, err := c.GetStatus(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, Status{Status: "In Progress", AssignedTo: "Jane Doe"}, st)

	st, err = c.GetStatus(ctx, "unassigned")
	require.NoError(t, err)
	assert.Equal(t, Status{Status: "New"}, st)

	_, err = c.GetStatus(ctx, "missing")
	require.ErrorIs(t, err, ErrUnavailable)

	bad := NewServiceNow(ServiceNowConfig{BaseURL: srv.URL, Username: "bot", Password: "wrong"}, nil)
	_, err = bad.CreateIncident(ctx, NewIncident{Title: "x"})
	require.ErrorIs(t, err, ErrUnavailable)
}
