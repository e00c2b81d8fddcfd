// Package disclaimer implements the consent dialogue shown once per session
// before expert routing becomes active.
//
// All functions mutate a *domain.Session and are meant to run inside
// store.Sessions.Update so the transition and its transcript entry commit
// together.
package disclaimer

import (
	"errors"
	"fmt"

	"github.com/ashureev/netdesk/internal/domain"
)

// ErrNotShown is returned when a choice is made while no prompt is visible.
var ErrNotShown = errors.New("disclaimer prompt is not shown")

const (
	// ConsentText is the prompt shown when a session first enters expert mode.
	ConsentText = "Your conversation will be handed to a network engineer. " +
		"Should the engineer review your chat history, or would you like to ask a new question?"
	// HistoryText confirms the history option.
	HistoryText = "An engineer will review your chat history and reply here."
	// QuestionText asks for the question when the question option is chosen.
	QuestionText = "What is your question?"
	// AckText is the automated acknowledgement sent after the user asks their question.
	AckText = "An engineer will reply within 15 minutes."
)

// Choice is one of the two options offered by the prompt.
type Choice string

const (
	ChoiceHistory  Choice = "history"
	ChoiceQuestion Choice = "question"
)

// ParseChoice converts a wire value into a Choice.
func ParseChoice(s string) (Choice, error) {
	switch c := Choice(s); c {
	case ChoiceHistory, ChoiceQuestion:
		return c, nil
	default:
		return "", fmt.Errorf("unknown disclaimer choice %q", s)
	}
}

// Enter shows the prompt if the session has never seen it. A session that is
// already showing, waiting or resolved is left untouched.
func Enter(s *domain.Session) bool {
	if s.Disclaimer != domain.DisclaimerHidden && s.Disclaimer != "" {
		return false
	}
	s.Disclaimer = domain.DisclaimerShown
	s.Append(domain.NewMessage(domain.RoleDisclaimer, ConsentText, ""))
	return true
}

// Choose resolves the visible prompt with the given option.
func Choose(s *domain.Session, c Choice) error {
	if s.Disclaimer != domain.DisclaimerShown {
		return ErrNotShown
	}
	switch c {
	case ChoiceHistory:
		s.Disclaimer = domain.DisclaimerResolved
		s.Append(domain.NewMessage(domain.RoleSystem, HistoryText, ""))
	case ChoiceQuestion:
		s.Disclaimer = domain.DisclaimerWaitingForQuestion
		s.Append(domain.NewMessage(domain.RoleSystem, QuestionText, ""))
	default:
		return fmt.Errorf("unknown disclaimer choice %q", c)
	}
	return nil
}

// Intercept is called when a user message has been appended. It resolves a
// session waiting for its question and reports whether the engineer
// acknowledgement must be scheduled.
func Intercept(s *domain.Session) bool {
	if s.Disclaimer != domain.DisclaimerWaitingForQuestion {
		return false
	}
	s.Disclaimer = domain.DisclaimerResolved
	return true
}

// Acknowledgement builds the automated engineer message.
func Acknowledgement() domain.Message {
	return domain.NewMessage(domain.RoleEngineer, AckText, "Engineer")
}
