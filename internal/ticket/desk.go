package ticket

import (
	"context"
	"fmt"

	"github.com/ashureev/netdesk/internal/domain"
	"github.com/ashureev/netdesk/internal/store"
)

// Desk is a Gateway backed by the local SQLite incident repository.
type Desk struct {
	repo store.IncidentRepository
}

// NewDesk creates a local desk gateway.
func NewDesk(repo store.IncidentRepository) *Desk {
	return &Desk{repo: repo}
}

// CreateIncident stores a new incident with status New.
func (d *Desk) CreateIncident(ctx context.Context, in NewIncident) (Created, error) {
	inc := &domain.Incident{
		Title:       in.Title,
		Description: in.Description,
		UserID:      in.UserID,
		Status:      domain.IncidentNew,
	}
	if err := d.repo.CreateIncident(ctx, inc); err != nil {
		return Created{}, fmt.Errorf("create incident: %w", err)
	}
	return Created{IncidentID: inc.ID, Number: inc.Number, Status: string(inc.Status)}, nil
}

// UpdateIncident records a work note.
func (d *Desk) UpdateIncident(ctx context.Context, incidentID string, u Update) error {
	if err := d.repo.AddWorkNote(ctx, incidentID, u.Note); err != nil {
		return fmt.Errorf("update incident %s: %w", incidentID, err)
	}
	return nil
}

// GetStatus reads the current status and assignee.
func (d *Desk) GetStatus(ctx context.Context, incidentID string) (Status, error) {
	inc, err := d.repo.GetIncident(ctx, incidentID)
	if err != nil {
		return Status{}, fmt.Errorf("get incident %s: %w", incidentID, err)
	}
	return Status{Status: string(inc.Status), AssignedTo: inc.AssignedTo}, nil
}

// Ensure Desk implements Gateway.
var _ Gateway = (*Desk)(nil)
