package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/ashureev/netdesk/internal/disclaimer"
	"github.com/ashureev/netdesk/internal/domain"
	"github.com/ashureev/netdesk/internal/ticket"
)

const (
	// UserSender labels messages typed by the user.
	UserSender = "You"
	// AssistantSender labels automated replies.
	AssistantSender = "Assistant"

	forwardedText     = "Message sent to the engineer. Awaiting reply."
	forwardFailedText = "Your message could not be delivered to the engineer. Please try again later."
	followUpFailed    = "The engineer could not be notified about your message."
	aiFailedText      = "The assistant is unavailable right now. Please try again later."
)

// Send appends a user message and routes it to the AI responder or, for a
// session with a ticket in expert mode, to the ticket and the engineer. Blank
// messages are ignored. Replies are applied in the background.
func (o *Orchestrator) Send(_ context.Context, id, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var (
		ack      bool
		ticketID string
	)
	err := o.sessions.Update(id, func(s *domain.Session) {
		if !s.HasUserMessage() {
			s.Title = domain.DeriveTitle(text)
		}
		s.Append(domain.NewMessage(domain.RoleUser, text, UserSender))
		ack = disclaimer.Intercept(s)
		if s.Mode == domain.ModeExpert && s.HasOpenTicket() {
			ticketID = s.TicketID
		}
	})
	if err != nil {
		return err
	}

	if ack {
		o.tasks.Go(id, func(ctx context.Context) {
			o.acknowledge(ctx, id)
		})
	}

	if ticketID != "" {
		o.logger.Debug("Routing message to ticket", "session_id", id, "ticket_id", ticketID)
		o.tasks.Go(id, func(ctx context.Context) {
			o.forwardToExpert(ctx, id, ticketID, text)
		})
		return nil
	}

	o.logger.Debug("Routing message to AI", "session_id", id)
	o.tasks.Go(id, func(ctx context.Context) {
		o.replyWithAI(ctx, id, text)
	})
	return nil
}

func (o *Orchestrator) acknowledge(ctx context.Context, id string) {
	timer := time.NewTimer(o.ackDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}
	if err := o.sessions.Append(id, disclaimer.Acknowledgement()); err != nil {
		o.logger.Debug("Dropping acknowledgement for missing session", "session_id", id)
	}
}

func (o *Orchestrator) replyWithAI(ctx context.Context, id, text string) {
	reply, err := o.responder.Reply(ctx, text)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		o.logger.Error("AI reply failed", "session_id", id, "error", err)
		o.systemMessage(id, aiFailedText)
		return
	}
	if err := o.sessions.Append(id, domain.NewMessage(domain.RoleAssistant, reply, AssistantSender)); err != nil {
		o.logger.Debug("Dropping AI reply for missing session", "session_id", id)
	}
}

func (o *Orchestrator) forwardToExpert(ctx context.Context, id, ticketID, text string) {
	if err := o.tickets.UpdateIncident(ctx, ticketID, ticket.Update{Note: text}); err != nil {
		if ctx.Err() != nil {
			return
		}
		o.logger.Error("Ticket update failed", "session_id", id, "ticket_id", ticketID, "error", err)
		o.systemMessage(id, forwardFailedText)
		return
	}
	o.systemMessage(id, forwardedText)

	if err := o.notifier.SendFollowUp(ctx, id, text); err != nil {
		if ctx.Err() != nil {
			return
		}
		o.logger.Error("Expert follow-up notification failed", "session_id", id, "error", err)
		o.systemMessage(id, followUpFailed)
	}
}
