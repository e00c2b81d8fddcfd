package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/netdesk/internal/domain"
	"github.com/ashureev/netdesk/internal/realtime"
	"github.com/ashureev/netdesk/internal/ticket"
	"github.com/stretchr/testify/require"
)

var errFake = errors.New("fake failure")

type fakeResponder struct {
	mu      sync.Mutex
	reply   string
	err     error
	block   bool
	calls   []string
	started chan struct{}
}

func (f *fakeResponder) Reply(ctx context.Context, text string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, text)
	block, reply, err := f.block, f.reply, f.err
	started := f.started
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return reply, err
}

type fakeTickets struct {
	mu        sync.Mutex
	creates   []ticket.NewIncident
	notes     []string
	status    ticket.Status
	createErr error
	updateErr error
	statusErr error
	gate      chan struct{}
}

func (f *fakeTickets) CreateIncident(ctx context.Context, in ticket.NewIncident) (ticket.Created, error) {
	f.mu.Lock()
	f.creates = append(f.creates, in)
	n := len(f.creates)
	err, gate := f.createErr, f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ticket.Created{}, ctx.Err()
		}
	}
	if err != nil {
		return ticket.Created{}, err
	}
	return ticket.Created{
		IncidentID: fmt.Sprintf("sys-%d", n),
		Number:     fmt.Sprintf("INC%07d", n),
		Status:     string(domain.IncidentNew),
	}, nil
}

func (f *fakeTickets) UpdateIncident(_ context.Context, _ string, u ticket.Update) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.notes = append(f.notes, u.Note)
	return nil
}

func (f *fakeTickets) GetStatus(context.Context, string) (ticket.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, f.statusErr
}

func (f *fakeTickets) setStatus(s ticket.Status) {
	f.mu.Lock()
	f.status = s
	f.mu.Unlock()
}

func (f *fakeTickets) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.creates)
}

func (f *fakeTickets) noteList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.notes...)
}

type fakeNotifier struct {
	mu         sync.Mutex
	handoffs   []string
	followUps  []string
	handoffErr error
}

func (f *fakeNotifier) SendHandoff(_ context.Context, sessionID, _ string, _ []domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handoffs = append(f.handoffs, sessionID)
	return f.handoffErr
}

func (f *fakeNotifier) SendFollowUp(_ context.Context, _, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.followUps = append(f.followUps, text)
	return nil
}

func (f *fakeNotifier) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handoffs), len(f.followUps)
}

// fakeChannel feeds subscriptions from per-session Go channels.
type fakeChannel struct {
	mu    sync.Mutex
	feeds map[string]chan []byte
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{feeds: make(map[string]chan []byte)}
}

func (f *fakeChannel) feed(id string) chan []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.feeds[id]
	if !ok {
		ch = make(chan []byte, 8)
		f.feeds[id] = ch
	}
	return ch
}

func (f *fakeChannel) Connect(_ context.Context, id string) (realtime.Subscription, error) {
	return fakeSubscription{ch: f.feed(id)}, nil
}

type fakeSubscription struct{ ch chan []byte }

func (s fakeSubscription) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case p := <-s.ch:
		return p, nil
	}
}

func (fakeSubscription) Close() error { return nil }

type harness struct {
	o         *Orchestrator
	responder *fakeResponder
	tickets   *fakeTickets
	notifier  *fakeNotifier
	channel   *fakeChannel
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		responder: &fakeResponder{reply: "Try another cable."},
		tickets:   &fakeTickets{status: ticket.Status{Status: string(domain.IncidentNew)}},
		notifier:  &fakeNotifier{},
		channel:   newFakeChannel(),
	}
	o, err := New(Deps{
		UserID:             "user-1",
		Responder:          h.responder,
		Tickets:            h.tickets,
		Notifier:           h.notifier,
		Realtime:           h.channel,
		PollInterval:       time.Hour,
		AckDelay:           10 * time.Millisecond,
		RealtimeRetryDelay: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(o.Close)
	h.o = o
	return h
}

func (h *harness) session(t *testing.T, id string) domain.Session {
	t.Helper()
	s, err := h.o.Get(id)
	require.NoError(t, err)
	return s
}

func (h *harness) waitFor(t *testing.T, id string, cond func(domain.Session) bool) domain.Session {
	t.Helper()
	var last domain.Session
	require.Eventually(t, func() bool {
		s, err := h.o.Get(id)
		if err != nil {
			return false
		}
		last = s
		return cond(s)
	}, 2*time.Second, 5*time.Millisecond)
	return last
}

func countRole(s domain.Session, role domain.Role) int {
	n := 0
	for _, m := range s.Messages {
		if m.Role == role {
			n++
		}
	}
	return n
}
