package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/netdesk/internal/domain"
	"github.com/ashureev/netdesk/internal/store"
)

// DefaultRetryDelay is the pause before reconnecting a lost subscription.
const DefaultRetryDelay = 5 * time.Second

type subscriptionHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Reconciler keeps at most one subscription per session and appends the
// expert messages it receives to that session's transcript.
type Reconciler struct {
	channel    Channel
	sessions   *store.Sessions
	retryDelay time.Duration
	logger     *slog.Logger

	mu     sync.Mutex
	subs   map[string]*subscriptionHandle
	closed bool
}

// NewReconciler creates a reconciler that writes into sessions.
func NewReconciler(ch Channel, sessions *store.Sessions, retryDelay time.Duration, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	return &Reconciler{
		channel:    ch,
		sessions:   sessions,
		retryDelay: retryDelay,
		logger:     logger,
		subs:       make(map[string]*subscriptionHandle),
	}
}

// Open starts receiving for a session. It returns false when a subscription
// is already open or the reconciler has been shut down.
func (r *Reconciler) Open(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}
	if _, ok := r.subs[sessionID]; ok {
		r.logger.Debug("Realtime subscription already open", "session_id", sessionID)
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &subscriptionHandle{cancel: cancel, done: make(chan struct{})}
	r.subs[sessionID] = h

	go func() {
		defer close(h.done)
		r.run(ctx, sessionID, h)
	}()
	return true
}

// IsOpen reports whether a subscription exists for the session.
func (r *Reconciler) IsOpen(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.subs[sessionID]
	return ok
}

// Close stops the subscription for a session and waits for it to finish.
func (r *Reconciler) Close(sessionID string) {
	r.mu.Lock()
	h, ok := r.subs[sessionID]
	delete(r.subs, sessionID)
	r.mu.Unlock()

	if !ok {
		return
	}
	h.cancel()
	<-h.done
	r.logger.Info("Realtime subscription closed", "session_id", sessionID)
}

// CloseAll stops every subscription. Later calls to Open are ignored.
func (r *Reconciler) CloseAll() {
	r.mu.Lock()
	r.closed = true
	handles := r.subs
	r.subs = make(map[string]*subscriptionHandle)
	r.mu.Unlock()

	for _, h := range handles {
		h.cancel()
	}
	for _, h := range handles {
		<-h.done
	}
}

func (r *Reconciler) forget(sessionID string, h *subscriptionHandle) {
	r.mu.Lock()
	if r.subs[sessionID] == h {
		delete(r.subs, sessionID)
	}
	r.mu.Unlock()
	h.cancel()
}

func (r *Reconciler) run(ctx context.Context, sessionID string, h *subscriptionHandle) {
	for {
		sub, err := r.channel.Connect(ctx, sessionID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Warn("Realtime connect failed, retrying",
				"session_id", sessionID,
				"retry_in", r.retryDelay,
				"error", err,
			)
		} else {
			stop := r.receive(ctx, sessionID, sub)
			if stop && ctx.Err() == nil {
				r.forget(sessionID, h)
			}
			if closeErr := sub.Close(); closeErr != nil {
				r.logger.Debug("failed to close realtime subscription", "session_id", sessionID, "error", closeErr)
			}
			if stop {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(r.retryDelay):
		}
	}
}

// receive reads until the subscription fails. It returns true when the
// session is gone or the context was cancelled.
func (r *Reconciler) receive(ctx context.Context, sessionID string, sub Subscription) bool {
	for {
		payload, err := sub.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return true
			}
			r.logger.Warn("Realtime connection lost", "session_id", sessionID, "error", err)
			return false
		}
		if err := r.Deliver(sessionID, payload); errors.Is(err, domain.ErrSessionNotFound) {
			r.logger.Info("Session gone, dropping realtime subscription", "session_id", sessionID)
			return true
		}
	}
}

// Deliver merges one payload into the session. Malformed payloads are logged
// and dropped; only expert messages are appended.
func (r *Reconciler) Deliver(sessionID string, payload []byte) error {
	msg, ok, err := Decode(payload)
	if err != nil {
		r.logger.Warn("Dropping malformed realtime payload", "session_id", sessionID, "error", err)
		return nil
	}
	if !ok {
		r.logger.Debug("Ignoring non-expert realtime payload", "session_id", sessionID)
		return nil
	}
	if err := r.sessions.Append(sessionID, msg); err != nil {
		return err
	}
	r.logger.Info("Expert message received", "session_id", sessionID, "message_id", msg.ID)
	return nil
}
