package agent

import (
	"context"
	"time"
)

// Responder produces a single automated reply for a user message.
type Responder interface {
	Reply(ctx context.Context, text string) (string, error)
}

// SimulatedReply is the fixed answer of the simulated responder.
const SimulatedReply = "This is a simulated response from the system."

// Simulated answers every message with SimulatedReply after Delay.
type Simulated struct {
	Delay time.Duration
}

// Reply waits for the configured delay and returns the canned reply.
func (s Simulated) Reply(ctx context.Context, _ string) (string, error) {
	if s.Delay <= 0 {
		return SimulatedReply, nil
	}
	timer := time.NewTimer(s.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timer.C:
		return SimulatedReply, nil
	}
}

// Ensure all responders implement Responder.
var (
	_ Responder = Simulated{}
	_ Responder = (*GrpcClient)(nil)
	_ Responder = (*HTTPClient)(nil)
)
