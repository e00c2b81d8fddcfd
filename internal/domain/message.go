// Package domain contains core domain types for the netdesk support chat.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrSessionNotFound is returned when an operation targets an unknown or deleted session.
var ErrSessionNotFound = errors.New("session not found")

// Role tags the author of a message.
type Role string

const (
	// RoleUser marks messages typed by the end user.
	RoleUser Role = "user"
	// RoleAssistant marks replies from the automated responder.
	RoleAssistant Role = "assistant"
	// RoleSystem marks status, acknowledgement and error notices.
	RoleSystem Role = "system"
	// RoleExpert marks replies pushed by a human expert.
	RoleExpert Role = "expert"
	// RoleEngineer marks automated notices issued on behalf of the engineering desk.
	RoleEngineer Role = "engineer"
	// RoleDisclaimer marks the consent prompt shown before expert routing.
	RoleDisclaimer Role = "disclaimer"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleExpert, RoleEngineer, RoleDisclaimer:
		return true
	default:
		return false
	}
}

// ParseRole converts a wire value into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown message role %q", s)
	}
	return r, nil
}

// Label returns the human readable author label used in handoff transcripts.
func (r Role) Label() string {
	switch r {
	case RoleUser:
		return "User"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	case RoleExpert:
		return "Expert"
	case RoleEngineer:
		return "Engineer"
	case RoleDisclaimer:
		return "Disclaimer"
	default:
		return string(r)
	}
}

// Message is a single transcript entry. It is never modified after creation.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Sender    string    `json:"sender,omitempty"`
}
