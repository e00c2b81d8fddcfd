package orchestrator

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Factory builds the workspace of a user.
type Factory func(userID string) (*Orchestrator, error)

// Registry holds one workspace per user and creates them on first use.
type Registry struct {
	mu       sync.Mutex
	byUser   map[string]*Orchestrator
	lastSeen map[string]time.Time
	factory  Factory
	logger   *slog.Logger
	now      func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(factory Factory, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byUser:   make(map[string]*Orchestrator),
		lastSeen: make(map[string]time.Time),
		factory:  factory,
		logger:   logger,
		now:      time.Now,
	}
}

// Get returns the workspace of userID. A new workspace starts with one
// empty active session.
func (r *Registry) Get(userID string) (*Orchestrator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastSeen[userID] = r.now()
	if o, ok := r.byUser[userID]; ok {
		return o, nil
	}
	o, err := r.factory(userID)
	if err != nil {
		delete(r.lastSeen, userID)
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	o.Create()
	r.byUser[userID] = o
	r.logger.Info("Workspace created", "user_id", userID)
	return o, nil
}

// Lookup returns the workspace of userID without creating one.
func (r *Registry) Lookup(userID string) (*Orchestrator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.byUser[userID]
	return o, ok
}

// Remove tears down the workspace of userID, if any.
func (r *Registry) Remove(userID string) {
	r.mu.Lock()
	o, ok := r.byUser[userID]
	delete(r.byUser, userID)
	delete(r.lastSeen, userID)
	r.mu.Unlock()

	if ok {
		o.Close()
	}
}

// Idle returns the users whose workspace has not been used for ttl.
func (r *Registry) Idle(ttl time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-ttl)
	var idle []string
	for userID := range r.byUser {
		if r.lastSeen[userID].Before(cutoff) {
			idle = append(idle, userID)
		}
	}
	return idle
}

// Len returns the number of live workspaces.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byUser)
}

// Close tears down every workspace.
func (r *Registry) Close() {
	r.mu.Lock()
	all := r.byUser
	r.byUser = make(map[string]*Orchestrator)
	r.lastSeen = make(map[string]time.Time)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, o := range all {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.Close()
		}()
	}
	wg.Wait()
}
