package domain

import (
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// DefaultTitle is the title of a session that has not received a user message yet.
const DefaultTitle = "New request"

// titleMaxRunes is the length after which a derived title is truncated.
const titleMaxRunes = 25

// Mode selects which channel handles outgoing user messages.
type Mode string

const (
	// ModeAI routes messages to the automated responder.
	ModeAI Mode = "ai"
	// ModeExpert routes messages to the human-backed ticket channel.
	ModeExpert Mode = "expert"
)

// DisclaimerState is the position of a session in the expert consent dialogue.
type DisclaimerState string

const (
	// DisclaimerHidden means the consent prompt has never been shown.
	DisclaimerHidden DisclaimerState = "hidden"
	// DisclaimerShown means the prompt and its two choices are visible.
	DisclaimerShown DisclaimerState = "shown"
	// DisclaimerWaitingForQuestion means the next user message is treated as the question for the engineer.
	DisclaimerWaitingForQuestion DisclaimerState = "waiting_for_question"
	// DisclaimerResolved means the dialogue is over for this session.
	DisclaimerResolved DisclaimerState = "resolved"
)

// Session is one independent conversation thread.
type Session struct {
	ID             string          `json:"id"`
	Title          string          `json:"title"`
	Messages       []Message       `json:"messages"`
	Mode           Mode            `json:"mode"`
	TicketID       string          `json:"ticket_id,omitempty"`
	TicketRef      string          `json:"ticket_ref,omitempty"`
	TicketStatus   string          `json:"ticket_status,omitempty"`
	AssignedTo     string          `json:"assigned_to,omitempty"`
	ExpertAssigned bool            `json:"expert_assigned"`
	HandoffPending bool            `json:"handoff_pending"`
	Disclaimer     DisclaimerState `json:"disclaimer"`
	CreatedAt      time.Time       `json:"created_at"`
}

// NewSession returns an empty AI-mode session with the default title.
func NewSession() *Session {
	return &Session{
		ID:         uuid.NewString(),
		Title:      DefaultTitle,
		Messages:   []Message{},
		Mode:       ModeAI,
		Disclaimer: DisclaimerHidden,
		CreatedAt:  time.Now().UTC(),
	}
}

// NewMessage creates a timestamped message with a fresh ID.
func NewMessage(role Role, content, sender string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
		Sender:    sender,
	}
}

// Clone returns a copy that shares no mutable state with s.
func (s *Session) Clone() Session {
	c := *s
	c.Messages = make([]Message, len(s.Messages))
	copy(c.Messages, s.Messages)
	return c
}

// Append adds messages to the end of the transcript.
func (s *Session) Append(msgs ...Message) {
	s.Messages = append(s.Messages, msgs...)
}

// HasUserMessage reports whether the user has written anything in this session.
func (s *Session) HasUserMessage() bool {
	for _, m := range s.Messages {
		if m.Role == RoleUser {
			return true
		}
	}
	return false
}

// LastUserText returns the content of the most recent user message, or "".
func (s *Session) LastUserText() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleUser {
			return s.Messages[i].Content
		}
	}
	return ""
}

// HasOpenTicket returns true if a ticket has been created for the session.
func (s *Session) HasOpenTicket() bool {
	return s.TicketID != ""
}

// TicketLabel returns the reference shown to users for the session's ticket.
func (s *Session) TicketLabel() string {
	if s.TicketRef != "" {
		return s.TicketRef
	}
	return s.TicketID
}

// UnderSupervision reports whether the session should be polled and subscribed to expert pushes.
func (s *Session) UnderSupervision() bool {
	return s.Mode == ModeExpert && s.ExpertAssigned && s.HasOpenTicket()
}

// DeriveTitle builds a session title from the first user message.
func DeriveTitle(text string) string {
	if utf8.RuneCountInString(text) <= titleMaxRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:titleMaxRunes]) + "..."
}
