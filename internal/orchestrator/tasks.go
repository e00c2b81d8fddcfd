package orchestrator

import (
	"context"
	"sync"
)

// tasks runs background work keyed by session so that deleting a session
// cancels everything still pending for it.
type tasks struct {
	mu        sync.Mutex
	bySession map[string]map[uint64]context.CancelFunc
	next      uint64
	closed    bool
	wg        sync.WaitGroup
}

func newTasks() *tasks {
	return &tasks{bySession: make(map[string]map[uint64]context.CancelFunc)}
}

// Go runs fn in a goroutine with a context cancelled by cancelSession or close.
// It returns false after close.
func (t *tasks) Go(sessionID string, fn func(ctx context.Context)) bool {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.next++
	id := t.next
	if t.bySession[sessionID] == nil {
		t.bySession[sessionID] = make(map[uint64]context.CancelFunc)
	}
	t.bySession[sessionID][id] = cancel
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		defer t.finish(sessionID, id)
		fn(ctx)
	}()
	return true
}

func (t *tasks) finish(sessionID string, id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m, ok := t.bySession[sessionID]; ok {
		if cancel, ok := m[id]; ok {
			cancel()
			delete(m, id)
		}
		if len(m) == 0 {
			delete(t.bySession, sessionID)
		}
	}
}

// pending returns the number of running tasks for a session.
func (t *tasks) pending(sessionID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.bySession[sessionID])
}

func (t *tasks) cancelSession(sessionID string) {
	t.mu.Lock()
	m := t.bySession[sessionID]
	delete(t.bySession, sessionID)
	t.mu.Unlock()

	for _, cancel := range m {
		cancel()
	}
}

// close cancels every task and waits for all of them to return.
func (t *tasks) close() {
	t.mu.Lock()
	t.closed = true
	all := t.bySession
	t.bySession = make(map[string]map[uint64]context.CancelFunc)
	t.mu.Unlock()

	for _, m := range all {
		for _, cancel := range m {
			cancel()
		}
	}
	t.wg.Wait()
}

// wait blocks until every started task has returned.
func (t *tasks) wait() {
	t.wg.Wait()
}
