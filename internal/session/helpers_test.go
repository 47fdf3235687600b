package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"ridecore/internal/auth"
	"ridecore/internal/feed"
	"ridecore/internal/logger"
	"ridecore/internal/modules/location"
	"ridecore/internal/modules/matching"
	"ridecore/internal/modules/order"
	"ridecore/internal/modules/presence"
	"ridecore/internal/types"
)

type manualClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers chan *manualTicker
}

func newManualClock() *manualClock {
	return &manualClock{
		now:     time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
		tickers: make(chan *manualTicker, 16),
	}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) NewTicker(time.Duration) Ticker {
	t := &manualTicker{clock: c, ch: make(chan time.Time), stopped: make(chan struct{})}
	c.tickers <- t
	return t
}

func (c *manualClock) waitTicker(t *testing.T) *manualTicker {
	t.Helper()
	select {
	case tk := <-c.tickers:
		return tk
	case <-time.After(2 * time.Second):
		t.Fatalf("heartbeat ticker never created")
		return nil
	}
}

type manualTicker struct {
	clock   *manualClock
	ch      chan time.Time
	stopped chan struct{}
	once    sync.Once
}

func (t *manualTicker) C() <-chan time.Time { return t.ch }
func (t *manualTicker) Stop()               { t.once.Do(func() { close(t.stopped) }) }

// tick advances the clock one interval and hands the tick to the loop. It
// reports false when nobody received it within wait.
func (t *manualTicker) tick(wait time.Duration) bool {
	t.clock.mu.Lock()
	t.clock.now = t.clock.now.Add(DefaultHeartbeatInterval)
	now := t.clock.now
	t.clock.mu.Unlock()
	select {
	case t.ch <- now:
		return true
	case <-t.stopped:
		return false
	case <-time.After(wait):
		return false
	}
}

// recordingPresence reports every successful upsert on beats.
type recordingPresence struct {
	Presence
	beats chan presence.UpsertCommand

	mu         sync.Mutex
	offlineErr error
}

// failOffline makes every offline upsert return err until cleared with nil.
func (r *recordingPresence) failOffline(err error) {
	r.mu.Lock()
	r.offlineErr = err
	r.mu.Unlock()
}

func (r *recordingPresence) Upsert(ctx context.Context, cmd presence.UpsertCommand) (*presence.Presence, error) {
	r.mu.Lock()
	failErr := r.offlineErr
	r.mu.Unlock()
	if failErr != nil && !cmd.IsOnline {
		return nil, failErr
	}
	p, err := r.Presence.Upsert(ctx, cmd)
	if err == nil {
		r.beats <- cmd
	}
	return p, err
}

func (r *recordingPresence) next(t *testing.T) presence.UpsertCommand {
	t.Helper()
	select {
	case cmd := <-r.beats:
		return cmd
	case <-time.After(2 * time.Second):
		t.Fatalf("expected a presence upsert")
		return presence.UpsertCommand{}
	}
}

func (r *recordingPresence) none(t *testing.T) {
	t.Helper()
	select {
	case cmd := <-r.beats:
		t.Fatalf("unexpected presence upsert %+v", cmd)
	case <-time.After(50 * time.Millisecond):
	}
}

type stack struct {
	hub      *feed.Hub
	orders   *order.Service
	presence *recordingPresence
	trail    *location.Service
	matcher  *matching.Service
	clock    *manualClock
}

func newStack() *stack {
	log := logger.Discard()
	hub := feed.NewHub()
	orders := order.NewService(order.NewMemoryStore(), hub, log)
	presences := presence.NewService(presence.NewMemoryStore(), hub, presence.Config{}, log)
	trail := location.NewService(location.NewMemoryStore(orders), orders, hub, log)
	return &stack{
		hub:      hub,
		orders:   orders,
		presence: &recordingPresence{Presence: presences, beats: make(chan presence.UpsertCommand, 64)},
		trail:    trail,
		matcher:  matching.NewService(presences, orders, matching.Config{}, log),
		clock:    newManualClock(),
	}
}

func (st *stack) session(t *testing.T, id auth.Identity, at *types.Point) (*Session, *StaticLocation) {
	t.Helper()
	loc := &StaticLocation{}
	if at != nil {
		loc.Set(*at)
	}
	s := New(id, Deps{
		Orders:   st.orders,
		Matcher:  st.matcher,
		Presence: st.presence,
		Trail:    st.trail,
		Feed:     st.hub,
		Location: loc,
		Clock:    st.clock,
		Log:      logger.Discard(),
	}, Config{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start session: %v", err)
	}
	t.Cleanup(s.Stop)
	return s, loc
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
