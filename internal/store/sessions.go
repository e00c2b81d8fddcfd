package store

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/ashureev/netdesk/internal/domain"
)

// EventKind describes what changed in the session set.
type EventKind string

const (
	EventCreated  EventKind = "created"
	EventUpdated  EventKind = "updated"
	EventDeleted  EventKind = "deleted"
	EventSelected EventKind = "selected"
)

// Event is emitted after every committed mutation.
type Event struct {
	Kind      EventKind
	SessionID string
}

// Observer receives store events. It is called outside the store lock.
type Observer func(Event)

// Sessions is the in-memory set of chat sessions for one workspace.
// It is the single mutation point for transcripts: async completions commit
// through Update so they always see the transcript as it is at commit time.
type Sessions struct {
	mu       sync.RWMutex
	order    []string // most recently created first
	byID     map[string]*domain.Session
	active   string
	observer Observer
}

// NewSessions creates an empty session store.
func NewSessions(observer Observer) *Sessions {
	return &Sessions{
		byID:     make(map[string]*domain.Session),
		observer: observer,
	}
}

func (s *Sessions) emit(kind EventKind, id string) {
	if s.observer != nil {
		s.observer(Event{Kind: kind, SessionID: id})
	}
}

// Create prepends a fresh session, makes it active and returns its ID.
func (s *Sessions) Create() string {
	sess := domain.NewSession()

	s.mu.Lock()
	s.byID[sess.ID] = sess
	s.order = append([]string{sess.ID}, s.order...)
	s.active = sess.ID
	s.mu.Unlock()

	slog.Debug("Session created", "session_id", sess.ID)
	s.emit(EventCreated, sess.ID)
	return sess.ID
}

// Select makes id the active session. Unknown IDs are ignored.
func (s *Sessions) Select(id string) bool {
	s.mu.Lock()
	if _, ok := s.byID[id]; !ok {
		s.mu.Unlock()
		return false
	}
	s.active = id
	s.mu.Unlock()

	s.emit(EventSelected, id)
	return true
}

// Delete removes a session. If it was active, the next older session becomes
// active, else the next newer one, else there is no active session.
func (s *Sessions) Delete(id string) bool {
	s.mu.Lock()
	if _, ok := s.byID[id]; !ok {
		s.mu.Unlock()
		return false
	}
	idx := slices.Index(s.order, id)
	delete(s.byID, id)
	s.order = slices.Delete(s.order, idx, idx+1)

	if s.active == id {
		switch {
		case len(s.order) == 0:
			s.active = ""
		case idx < len(s.order):
			s.active = s.order[idx]
		default:
			s.active = s.order[idx-1]
		}
	}
	s.mu.Unlock()

	slog.Debug("Session deleted", "session_id", id)
	s.emit(EventDeleted, id)
	return true
}

// Get returns a snapshot of the session.
func (s *Sessions) Get(id string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.byID[id]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return sess.Clone(), nil
}

// List returns snapshots of all sessions, most recently created first.
func (s *Sessions) List() []domain.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Session, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id].Clone())
	}
	return out
}

// Active returns the selected session ID, if any.
func (s *Sessions) Active() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active, s.active != ""
}

// Len returns the number of sessions.
func (s *Sessions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Update applies fn to the live session under the store lock.
// fn must not block and must not call back into the store.
func (s *Sessions) Update(id string, fn func(*domain.Session)) error {
	s.mu.Lock()
	sess, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return domain.ErrSessionNotFound
	}
	fn(sess)
	s.mu.Unlock()

	s.emit(EventUpdated, id)
	return nil
}

// Modify is like Update, but fn reports whether it changed anything and an
// event is only emitted when it did.
func (s *Sessions) Modify(id string, fn func(*domain.Session) bool) (bool, error) {
	s.mu.Lock()
	sess, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return false, domain.ErrSessionNotFound
	}
	changed := fn(sess)
	s.mu.Unlock()

	if changed {
		s.emit(EventUpdated, id)
	}
	return changed, nil
}

// Append adds messages to the end of a session's current transcript.
func (s *Sessions) Append(id string, msgs ...domain.Message) error {
	return s.Update(id, func(sess *domain.Session) {
		sess.Append(msgs...)
	})
}
