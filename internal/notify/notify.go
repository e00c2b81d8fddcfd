// Package notify delivers handoff and follow-up messages to a human expert.
package notify

import (
	"context"
	"log/slog"

	"github.com/ashureev/netdesk/internal/domain"
)

// Gateway notifies the expert channel about a session.
type Gateway interface {
	SendHandoff(ctx context.Context, sessionID, lastUserText string, history []domain.Message) error
	SendFollowUp(ctx context.Context, sessionID, text string) error
}

// Noop logs notifications instead of delivering them. It is used when no
// expert channel is configured.
type Noop struct {
	Logger *slog.Logger
}

func (n Noop) logger() *slog.Logger {
	if n.Logger == nil {
		return slog.Default()
	}
	return n.Logger
}

// SendHandoff logs the handoff.
func (n Noop) SendHandoff(_ context.Context, sessionID, lastUserText string, history []domain.Message) error {
	n.logger().Info("Expert handoff (no notification channel configured)",
		"session_id", sessionID,
		"history_len", len(history),
		"last_message_len", len(lastUserText),
	)
	return nil
}

// SendFollowUp logs the follow-up.
func (n Noop) SendFollowUp(_ context.Context, sessionID, text string) error {
	n.logger().Info("Expert follow-up (no notification channel configured)",
		"session_id", sessionID,
		"message_len", len(text),
	)
	return nil
}
