package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ashureev/netdesk/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLiteIncidents {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "desk.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestSQLiteIncidents_CreateAndGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestSQLite(t)

	inc := &domain.Incident{Title: "packet loss", Description: "User: packet loss", UserID: "anon_1"}
	require.NoError(t, repo.CreateIncident(ctx, inc))
	assert.NotEmpty(t, inc.ID)
	assert.Equal(t, "INC0000001", inc.Number)
	assert.Equal(t, domain.IncidentNew, inc.Status)

	second := &domain.Incident{Title: "dns", Description: "", UserID: "anon_1"}
	require.NoError(t, repo.CreateIncident(ctx, second))
	assert.Equal(t, "INC0000002", second.Number)

	got, err := repo.GetIncident(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, "packet loss", got.Title)
	assert.Equal(t, "anon_1", got.UserID)

	_, err = repo.GetIncident(ctx, "missing")
	require.ErrorIs(t, err, ErrIncidentNotFound)
}

func TestSQLiteIncidents_WorkNotes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestSQLite(t)

	inc := &domain.Incident{Title: "t", UserID: "u"}
	require.NoError(t, repo.CreateIncident(ctx, inc))

	require.NoError(t, repo.AddWorkNote(ctx, inc.ID, "first"))
	require.NoError(t, repo.AddWorkNote(ctx, inc.ID, "second"))
	require.ErrorIs(t, repo.AddWorkNote(ctx, "missing", "x"), ErrIncidentNotFound)

	notes, err := repo.ListWorkNotes(ctx, inc.ID)
	require.NoError(t, err)
	require.Len(t, notes, 2)
	assert.Equal(t, "first", notes[0].Note)
	assert.Equal(t, "second", notes[1].Note)
}

func TestSQLiteIncidents_UpdateStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestSQLite(t)

	inc := &domain.Incident{Title: "t", UserID: "u"}
	require.NoError(t, repo.CreateIncident(ctx, inc))

	require.NoError(t, repo.UpdateIncidentStatus(ctx, inc.ID, domain.IncidentInProgress, "Jane"))
	got, err := repo.GetIncident(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IncidentInProgress, got.Status)
	assert.Equal(t, "Jane", got.AssignedTo)

	// Empty assignee keeps the current one.
	require.NoError(t, repo.UpdateIncidentStatus(ctx, inc.ID, domain.IncidentResolved, ""))
	got, err = repo.GetIncident(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IncidentResolved, got.Status)
	assert.Equal(t, "Jane", got.AssignedTo)

	require.Error(t, repo.UpdateIncidentStatus(ctx, inc.ID, "Bogus", ""))
	require.ErrorIs(t, repo.UpdateIncidentStatus(ctx, "missing", domain.IncidentClosed, ""), ErrIncidentNotFound)
}
