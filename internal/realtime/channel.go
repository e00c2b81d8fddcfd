// Package realtime receives expert messages pushed for a session and merges
// them into the session store.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/netdesk/internal/domain"
	"github.com/google/uuid"
)

// ErrClosed is returned by Receive after the subscription was closed.
var ErrClosed = errors.New("subscription closed")

// Subscription is one open push stream for a single session.
type Subscription interface {
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// Channel opens push streams.
type Channel interface {
	Connect(ctx context.Context, sessionID string) (Subscription, error)
}

// Inbound is the wire form of a pushed message.
type Inbound struct {
	ID        string     `json:"id,omitempty"`
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Sender    string     `json:"sender,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// ExpertMessage builds the payload for an expert reply.
func ExpertMessage(content, sender string) Inbound {
	now := time.Now().UTC()
	if sender == "" {
		sender = "Expert"
	}
	return Inbound{
		ID:        uuid.NewString(),
		Role:      string(domain.RoleExpert),
		Content:   content,
		Sender:    sender,
		Timestamp: &now,
	}
}

// Decode parses a payload. It returns ok=false for well-formed messages
// whose role is not expert.
func Decode(payload []byte) (msg domain.Message, ok bool, err error) {
	var in Inbound
	if err := json.Unmarshal(payload, &in); err != nil {
		return domain.Message{}, false, fmt.Errorf("decode inbound message: %w", err)
	}
	role, err := domain.ParseRole(in.Role)
	if err != nil {
		return domain.Message{}, false, fmt.Errorf("decode inbound message: %w", err)
	}
	if role != domain.RoleExpert || strings.TrimSpace(in.Content) == "" {
		return domain.Message{}, false, nil
	}

	msg = domain.NewMessage(domain.RoleExpert, in.Content, in.Sender)
	if in.ID != "" {
		msg.ID = in.ID
	}
	if in.Timestamp != nil {
		msg.Timestamp = in.Timestamp.UTC()
	}
	if msg.Sender == "" {
		msg.Sender = domain.RoleExpert.Label()
	}
	return msg, true, nil
}

// Topic is the pub/sub channel name for a session.
func Topic(prefix, sessionID string) string {
	return prefix + sessionID
}

// None is a Channel for deployments without push delivery. Its subscriptions
// block until closed.
type None struct{}

// Connect returns an idle subscription.
func (None) Connect(context.Context, string) (Subscription, error) {
	return &idleSubscription{done: make(chan struct{})}, nil
}

type idleSubscription struct {
	done chan struct{}
	once sync.Once
}

func (s *idleSubscription) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, ErrClosed
	}
}

func (s *idleSubscription) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}
