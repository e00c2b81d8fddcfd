// Package ticket provides TicketingGateway adapters used for expert handoff.
package ticket

import (
	"context"
	"errors"
	"strings"

	"github.com/ashureev/netdesk/internal/domain"
)

// ErrUnavailable marks transport level failures reaching the ticketing system.
var ErrUnavailable = errors.New("ticketing system unavailable")

// NewIncident is the payload for CreateIncident.
type NewIncident struct {
	Title       string
	Description string
	UserID      string
}

// Created is returned by CreateIncident.
type Created struct {
	IncidentID string
	Number     string
	Status     string
}

// Update carries a work note for an existing incident.
type Update struct {
	Note string
}

// Status is the current state of an incident.
type Status struct {
	Status     string
	AssignedTo string
}

// Gateway creates, updates and queries incidents.
type Gateway interface {
	CreateIncident(ctx context.Context, in NewIncident) (Created, error)
	UpdateIncident(ctx context.Context, incidentID string, u Update) error
	GetStatus(ctx context.Context, incidentID string) (Status, error)
}

// Ref returns the identifier shown to users: the human number when the
// backend issues one, the ID otherwise.
func (c Created) Ref() string {
	if c.Number != "" {
		return c.Number
	}
	return c.IncidentID
}

// FormatTranscript renders a session transcript as an incident description.
func FormatTranscript(msgs []domain.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		if m.Role == domain.RoleDisclaimer {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(m.Role.Label())
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}
