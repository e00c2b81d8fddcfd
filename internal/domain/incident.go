package domain

import "time"

// IncidentStatus enumerates lifecycle states for incidents on the local desk.
type IncidentStatus string

const (
	IncidentNew        IncidentStatus = "New"
	IncidentInProgress IncidentStatus = "In Progress"
	IncidentOnHold     IncidentStatus = "On Hold"
	IncidentResolved   IncidentStatus = "Resolved"
	IncidentClosed     IncidentStatus = "Closed"
)

// Valid reports whether s is a known incident status.
func (s IncidentStatus) Valid() bool {
	switch s {
	case IncidentNew, IncidentInProgress, IncidentOnHold, IncidentResolved, IncidentClosed:
		return true
	default:
		return false
	}
}

// Incident is a support ticket raised when a session is handed off to an expert.
type Incident struct {
	ID          string
	Number      string
	Title       string
	Description string
	UserID      string
	Status      IncidentStatus
	AssignedTo  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// WorkNote is a follow-up message attached to an incident.
type WorkNote struct {
	IncidentID string
	Note       string
	CreatedAt  time.Time
}
