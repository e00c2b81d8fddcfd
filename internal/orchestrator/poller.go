package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/netdesk/internal/domain"
	"github.com/ashureev/netdesk/internal/store"
	"github.com/ashureev/netdesk/internal/ticket"
)

// DefaultPollInterval is how often ticket status is checked.
const DefaultPollInterval = 30 * time.Second

type pollHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Poller periodically refreshes the ticket status of supervised sessions.
type Poller struct {
	tickets  ticket.Gateway
	sessions *store.Sessions
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	running map[string]*pollHandle
	closed  bool
}

// NewPoller creates a status poller.
func NewPoller(tickets ticket.Gateway, sessions *store.Sessions, interval time.Duration, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		tickets:  tickets,
		sessions: sessions,
		interval: interval,
		logger:   logger,
		running:  make(map[string]*pollHandle),
	}
}

// Start begins polling a session. Starting an already polled session is a no-op.
func (p *Poller) Start(sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}
	if _, ok := p.running[sessionID]; ok {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &pollHandle{cancel: cancel, done: make(chan struct{})}
	p.running[sessionID] = h

	go func() {
		defer close(h.done)
		p.loop(ctx, sessionID, h)
	}()

	p.logger.Info("Status polling started", "session_id", sessionID, "interval", p.interval)
	return true
}

// Running reports whether a session is being polled.
func (p *Poller) Running(sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.running[sessionID]
	return ok
}

// Stop ends polling for a session and waits for the loop to exit.
func (p *Poller) Stop(sessionID string) {
	p.mu.Lock()
	h, ok := p.running[sessionID]
	delete(p.running, sessionID)
	p.mu.Unlock()

	if !ok {
		return
	}
	h.cancel()
	<-h.done
	p.logger.Info("Status polling stopped", "session_id", sessionID)
}

// StopAll ends every loop. Later calls to Start are ignored.
func (p *Poller) StopAll() {
	p.mu.Lock()
	p.closed = true
	handles := p.running
	p.running = make(map[string]*pollHandle)
	p.mu.Unlock()

	for _, h := range handles {
		h.cancel()
	}
	for _, h := range handles {
		<-h.done
	}
}

func (p *Poller) forget(sessionID string, h *pollHandle) {
	p.mu.Lock()
	if p.running[sessionID] == h {
		delete(p.running, sessionID)
	}
	p.mu.Unlock()
	h.cancel()
}

func (p *Poller) loop(ctx context.Context, sessionID string, h *pollHandle) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.PollOnce(ctx, sessionID); err != nil {
				if ctx.Err() != nil {
					return
				}
				if errors.Is(err, domain.ErrSessionNotFound) {
					p.logger.Info("Session gone, stopping status polling", "session_id", sessionID)
					p.forget(sessionID, h)
					return
				}
				p.logger.Warn("Status poll failed", "session_id", sessionID, "error", err)
			}
		}
	}
}

// PollOnce fetches the ticket status once and records a change. It reports
// whether a status message was appended.
func (p *Poller) PollOnce(ctx context.Context, sessionID string) (bool, error) {
	sess, err := p.sessions.Get(sessionID)
	if err != nil {
		return false, err
	}
	if !sess.HasOpenTicket() {
		return false, nil
	}

	st, err := p.tickets.GetStatus(ctx, sess.TicketID)
	if err != nil {
		return false, fmt.Errorf("get ticket status: %w", err)
	}

	changed, err := p.sessions.Modify(sessionID, func(s *domain.Session) bool {
		if s.TicketID != sess.TicketID {
			return false
		}
		if st.Status == s.TicketStatus && st.AssignedTo == s.AssignedTo {
			return false
		}
		s.TicketStatus = st.Status
		s.AssignedTo = st.AssignedTo
		s.Append(domain.NewMessage(domain.RoleSystem, statusText(s.TicketLabel(), st), ""))
		return true
	})
	if err != nil {
		return false, err
	}
	if changed {
		p.logger.Info("Ticket status changed",
			"session_id", sessionID,
			"ticket_id", sess.TicketID,
			"status", st.Status,
			"assigned_to", st.AssignedTo,
		)
	}
	return changed, nil
}

func statusText(ref string, st ticket.Status) string {
	if st.AssignedTo == "" {
		return fmt.Sprintf("Ticket %s status: %s", ref, st.Status)
	}
	return fmt.Sprintf("Ticket %s status: %s (assigned to %s)", ref, st.Status, st.AssignedTo)
}
