package orchestrator

import (
	"context"
	"fmt"

	"github.com/ashureev/netdesk/internal/disclaimer"
	"github.com/ashureev/netdesk/internal/domain"
	"github.com/ashureev/netdesk/internal/ticket"
)

const (
	handoffFailedText = "An error occurred while sending your request to an expert. Please try again later."
	notifyFailedText  = "The engineer could not be notified. Your ticket is open and will be picked up from the queue."
)

func handoffText(ref string) string {
	return fmt.Sprintf("Your request has been forwarded to an expert (ticket %s). Please wait for a reply.", ref)
}

// ToggleExpert is the user-facing expert switch. Once an expert is assigned
// it does nothing; otherwise it enables expert mode, which also retries a
// handoff that failed earlier. DisableExpert is the way back to AI mode.
func (o *Orchestrator) ToggleExpert(ctx context.Context, id string) error {
	sess, err := o.sessions.Get(id)
	if err != nil {
		return err
	}
	if sess.ExpertAssigned {
		o.logger.Info("Expert already assigned, toggle ignored", "session_id", id, "ticket_id", sess.TicketID)
		return nil
	}
	return o.EnableExpert(ctx, id)
}

// EnableExpert puts a session in expert mode. The first time, a ticket is
// created in the background; afterwards supervision simply resumes.
func (o *Orchestrator) EnableExpert(_ context.Context, id string) error {
	var (
		assigned bool
		resume   bool
		handoff  bool
		snapshot domain.Session
	)
	_, err := o.sessions.Modify(id, func(s *domain.Session) bool {
		if s.Mode == domain.ModeExpert && s.ExpertAssigned {
			assigned = true
			return false
		}
		s.Mode = domain.ModeExpert
		disclaimer.Enter(s)
		switch {
		case s.ExpertAssigned:
			resume = true
		case !s.HandoffPending:
			s.HandoffPending = true
			handoff = true
			snapshot = s.Clone()
		}
		return true
	})
	if err != nil {
		return err
	}

	switch {
	case assigned:
		o.logger.Info("Expert already assigned", "session_id", id)
	case resume:
		o.logger.Info("Resuming expert supervision", "session_id", id)
		o.startSupervision(id)
	case handoff:
		o.logger.Info("Handing session off to expert", "session_id", id)
		o.tasks.Go(id, func(ctx context.Context) {
			o.handoff(ctx, id, snapshot)
		})
	}
	return nil
}

// DisableExpert returns a session to AI mode. The ticket stays open and
// in-flight calls still complete.
func (o *Orchestrator) DisableExpert(id string) error {
	changed, err := o.sessions.Modify(id, func(s *domain.Session) bool {
		if s.Mode == domain.ModeAI {
			return false
		}
		s.Mode = domain.ModeAI
		return true
	})
	if err != nil {
		return err
	}
	if changed {
		o.stopSupervision(id)
		o.logger.Info("Expert mode disabled", "session_id", id)
	}
	return nil
}

// ChooseDisclaimer resolves the consent prompt of a session.
func (o *Orchestrator) ChooseDisclaimer(id string, c disclaimer.Choice) error {
	var chooseErr error
	_, err := o.sessions.Modify(id, func(s *domain.Session) bool {
		chooseErr = disclaimer.Choose(s, c)
		return chooseErr == nil
	})
	if err != nil {
		return err
	}
	return chooseErr
}

func (o *Orchestrator) handoff(ctx context.Context, id string, snapshot domain.Session) {
	created, err := o.tickets.CreateIncident(ctx, ticket.NewIncident{
		Title:       snapshot.Title,
		Description: ticket.FormatTranscript(snapshot.Messages),
		UserID:      o.userID,
	})
	if err != nil {
		o.logger.Error("Ticket creation failed", "session_id", id, "error", err)
		_ = o.sessions.Update(id, func(s *domain.Session) {
			s.HandoffPending = false
			s.ExpertAssigned = false
			s.Append(domain.NewMessage(domain.RoleSystem, handoffFailedText, ""))
		})
		return
	}

	var (
		lastUserText string
		history      []domain.Message
	)
	err = o.sessions.Update(id, func(s *domain.Session) {
		s.HandoffPending = false
		s.ExpertAssigned = true
		s.TicketID = created.IncidentID
		s.TicketRef = created.Ref()
		s.TicketStatus = created.Status
		s.Append(domain.NewMessage(domain.RoleSystem, handoffText(created.Ref()), ""))
		lastUserText = s.LastUserText()
		history = s.Clone().Messages
	})
	if err != nil {
		o.logger.Warn("Session deleted before ticket was recorded", "session_id", id, "ticket_id", created.IncidentID)
		return
	}
	o.logger.Info("Ticket created", "session_id", id, "ticket_id", created.IncidentID, "ref", created.Ref())

	if err := o.notifier.SendHandoff(ctx, id, lastUserText, history); err != nil {
		o.logger.Error("Expert notification failed", "session_id", id, "error", err)
		o.systemMessage(id, notifyFailedText)
	}

	sess, err := o.sessions.Get(id)
	if err != nil || ctx.Err() != nil {
		return
	}
	if sess.Mode != domain.ModeExpert {
		return
	}
	o.startSupervision(id)

	// The user may have left expert mode while supervision was starting.
	if sess, err := o.sessions.Get(id); err != nil || sess.Mode != domain.ModeExpert {
		o.stopSupervision(id)
	}
}
