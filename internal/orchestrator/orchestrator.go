// Package orchestrator coordinates chat sessions with the AI responder, the
// ticketing system, expert notifications and realtime expert replies.
//
// Every transcript change goes through store.Sessions. Adapter calls run as
// background tasks keyed by session and commit their results against the
// transcript as it is at commit time.
package orchestrator

import (
	"errors"
	"log/slog"
	"time"

	"github.com/ashureev/netdesk/internal/agent"
	"github.com/ashureev/netdesk/internal/domain"
	"github.com/ashureev/netdesk/internal/notify"
	"github.com/ashureev/netdesk/internal/realtime"
	"github.com/ashureev/netdesk/internal/store"
	"github.com/ashureev/netdesk/internal/ticket"
)

// DefaultAckDelay is the pause before the engineer acknowledgement.
const DefaultAckDelay = 1500 * time.Millisecond

var (
	errNoResponder = errors.New("orchestrator: responder is required")
	errNoTickets   = errors.New("orchestrator: ticket gateway is required")
)

// Deps are the collaborators of one workspace.
type Deps struct {
	UserID    string
	Responder agent.Responder
	Tickets   ticket.Gateway
	Notifier  notify.Gateway
	Realtime  realtime.Channel
	Observer  store.Observer
	Logger    *slog.Logger

	PollInterval       time.Duration
	AckDelay           time.Duration
	RealtimeRetryDelay time.Duration
}

// Orchestrator owns the sessions of one user workspace.
type Orchestrator struct {
	userID    string
	sessions  *store.Sessions
	responder agent.Responder
	tickets   ticket.Gateway
	notifier  notify.Gateway
	poller    *Poller
	inbound   *realtime.Reconciler
	tasks     *tasks
	ackDelay  time.Duration
	logger    *slog.Logger
}

// New builds a workspace with no sessions.
func New(d Deps) (*Orchestrator, error) {
	if d.Responder == nil {
		return nil, errNoResponder
	}
	if d.Tickets == nil {
		return nil, errNoTickets
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("user_id", d.UserID)

	notifier := d.Notifier
	if notifier == nil {
		notifier = notify.Noop{Logger: logger}
	}
	channel := d.Realtime
	if channel == nil {
		channel = realtime.None{}
	}
	ackDelay := d.AckDelay
	if ackDelay <= 0 {
		ackDelay = DefaultAckDelay
	}

	sessions := store.NewSessions(d.Observer)
	return &Orchestrator{
		userID:    d.UserID,
		sessions:  sessions,
		responder: d.Responder,
		tickets:   d.Tickets,
		notifier:  notifier,
		poller:    NewPoller(d.Tickets, sessions, d.PollInterval, logger),
		inbound:   realtime.NewReconciler(channel, sessions, d.RealtimeRetryDelay, logger),
		tasks:     newTasks(),
		ackDelay:  ackDelay,
		logger:    logger,
	}, nil
}

// UserID returns the owner of the workspace.
func (o *Orchestrator) UserID() string {
	return o.userID
}

// Create starts a new session and makes it active.
func (o *Orchestrator) Create() string {
	return o.sessions.Create()
}

// Select makes a session active.
func (o *Orchestrator) Select(id string) error {
	if !o.sessions.Select(id) {
		return domain.ErrSessionNotFound
	}
	return nil
}

// Delete removes a session and cancels everything still running for it.
func (o *Orchestrator) Delete(id string) error {
	if _, err := o.sessions.Get(id); err != nil {
		return err
	}
	o.stopSupervision(id)
	o.tasks.cancelSession(id)
	if !o.sessions.Delete(id) {
		return domain.ErrSessionNotFound
	}
	o.logger.Info("Session deleted", "session_id", id)
	return nil
}

// Get returns a snapshot of a session.
func (o *Orchestrator) Get(id string) (domain.Session, error) {
	return o.sessions.Get(id)
}

// List returns snapshots of all sessions, newest first.
func (o *Orchestrator) List() []domain.Session {
	return o.sessions.List()
}

// Active returns the selected session, if any.
func (o *Orchestrator) Active() (string, bool) {
	return o.sessions.Active()
}

// Close stops all background work. The orchestrator must not be used afterwards.
func (o *Orchestrator) Close() {
	o.poller.StopAll()
	o.inbound.CloseAll()
	o.tasks.close()
	o.logger.Info("Workspace closed")
}

func (o *Orchestrator) startSupervision(id string) {
	o.poller.Start(id)
	o.inbound.Open(id)
}

func (o *Orchestrator) stopSupervision(id string) {
	o.poller.Stop(id)
	o.inbound.Close(id)
}

func (o *Orchestrator) systemMessage(id, text string) {
	if err := o.sessions.Append(id, domain.NewMessage(domain.RoleSystem, text, "")); err != nil {
		o.logger.Debug("Dropping system message for missing session", "session_id", id)
	}
}
