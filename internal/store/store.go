// Package store provides the in-memory session store and incident persistence.
package store

import (
	"context"
	"errors"

	"github.com/ashureev/netdesk/internal/domain"
)

// ErrIncidentNotFound is returned when an incident does not exist.
var ErrIncidentNotFound = errors.New("incident not found")

// IncidentRepository defines the interface for persisting incidents on the local desk.
type IncidentRepository interface {
	// CreateIncident stores a new incident and fills in its ID, number and timestamps.
	CreateIncident(ctx context.Context, inc *domain.Incident) error

	// GetIncident retrieves an incident by ID.
	GetIncident(ctx context.Context, id string) (*domain.Incident, error)

	// AddWorkNote attaches a follow-up note to an incident.
	AddWorkNote(ctx context.Context, incidentID, note string) error

	// ListWorkNotes returns the notes for an incident, oldest first.
	ListWorkNotes(ctx context.Context, incidentID string) ([]domain.WorkNote, error)

	// UpdateIncidentStatus changes status and assignee. An empty assignee keeps the current one.
	UpdateIncidentStatus(ctx context.Context, id string, status domain.IncidentStatus, assignedTo string) error

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
