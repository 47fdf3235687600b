package presence

import (
	"context"
	"errors"
	"testing"
	"time"

	"ridecore/internal/apperr"
	"ridecore/internal/auth"
	"ridecore/internal/feed"
	"ridecore/internal/logger"
	"ridecore/internal/types"
)

var (
	driver    = auth.Identity{UserID: "d1", Role: auth.RoleDriver}
	passenger = auth.Identity{UserID: "p1", Role: auth.RolePassenger}
	shanghai  = types.Point{Lat: 31.2204, Lng: 121.4637}
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestService(t *testing.T) (*Service, *MemoryStore, *fakeClock, <-chan feed.Notification) {
	t.Helper()
	store := NewMemoryStore()
	hub := feed.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ch, _ := hub.Subscribe(ctx, feed.TopicPresence)

	clock := &fakeClock{t: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)}
	svc := NewService(store, hub, Config{MinPublishInterval: time.Hour}, logger.Discard())
	svc.now = clock.Now
	return svc, store, clock, ch
}

func drain(ch <-chan feed.Notification) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestUpsertAuthorization(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Upsert(ctx, UpsertCommand{Actor: passenger, IsOnline: true}); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("passenger upsert: expected ErrForbidden, got %v", err)
	}
	if _, err := svc.Upsert(ctx, UpsertCommand{Actor: driver, DriverID: "d2", IsOnline: true}); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("foreign upsert: expected ErrForbidden, got %v", err)
	}
	if _, err := svc.Upsert(ctx, UpsertCommand{Actor: auth.Identity{}, IsOnline: true}); !errors.Is(err, apperr.ErrNotAuthenticated) {
		t.Fatalf("anonymous upsert: expected ErrNotAuthenticated, got %v", err)
	}
	if _, err := svc.Get(ctx, "d1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected no record written, got %v", err)
	}
}

func TestUpsertKeepsLocationWhenOmitted(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Upsert(ctx, UpsertCommand{Actor: driver, IsOnline: true, Location: &shanghai}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	p, err := svc.Upsert(ctx, UpsertCommand{Actor: driver, IsOnline: false})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if p.IsOnline || p.Location == nil || *p.Location != shanghai {
		t.Fatalf("unexpected presence %+v", p)
	}
}

func TestHeartbeatNotificationsThrottled(t *testing.T) {
	svc, _, clock, ch := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Upsert(ctx, UpsertCommand{Actor: driver, IsOnline: true, Location: &shanghai}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !drain(ch) {
		t.Fatalf("going online must notify")
	}

	clock.Advance(3 * time.Second)
	moved := types.Point{Lat: shanghai.Lat + 0.001, Lng: shanghai.Lng}
	p, err := svc.Upsert(ctx, UpsertCommand{Actor: driver, IsOnline: true, Location: &moved})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if *p.Location != moved {
		t.Fatalf("location not stored")
	}
	if drain(ch) {
		t.Fatalf("location-only heartbeat inside the window should be coalesced")
	}

	if _, err := svc.Upsert(ctx, UpsertCommand{Actor: driver, IsOnline: false}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !drain(ch) {
		t.Fatalf("going offline must notify")
	}
}

func TestCandidatesExcludeOfflineAndStale(t *testing.T) {
	svc, store, clock, _ := newTestService(t)
	ctx := context.Background()

	online := auth.Identity{UserID: "online", Role: auth.RoleDriver}
	offline := auth.Identity{UserID: "offline", Role: auth.RoleDriver}
	stale := auth.Identity{UserID: "stale", Role: auth.RoleDriver}
	noLoc := auth.Identity{UserID: "noloc", Role: auth.RoleDriver}

	mustUpsert := func(id auth.Identity, on bool, loc *types.Point) {
		t.Helper()
		if _, err := svc.Upsert(ctx, UpsertCommand{Actor: id, IsOnline: on, Location: loc}); err != nil {
			t.Fatalf("upsert %s: %v", id.UserID, err)
		}
	}
	mustUpsert(stale, true, &shanghai)
	clock.Advance(DefaultTTL + time.Second)
	mustUpsert(online, true, &shanghai)
	mustUpsert(offline, false, &shanghai)
	mustUpsert(noLoc, true, nil)

	got, err := svc.Candidates(ctx, shanghai, 5)
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if len(got) != 1 || got[0].DriverID != "online" {
		t.Fatalf("expected only the fresh online driver, got %+v", got)
	}

	n, err := svc.ExpireStale(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected one expired driver, got %d, %v", n, err)
	}
	p, _ := store.Get(ctx, "stale")
	if p.IsOnline {
		t.Fatalf("stale driver still online")
	}
	if n, _ := svc.ExpireStale(ctx); n != 0 {
		t.Fatalf("expiry must be idempotent, got %d", n)
	}
}

func TestMemoryStoreCellIndex(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	near := types.Point{Lat: 31.2304, Lng: 121.4837} // ~0.95km east
	far := types.Point{Lat: 31.2304, Lng: 121.5837}  // ~10.5km east
	center := types.Point{Lat: 31.2304, Lng: 121.4737}
	_, _ = store.Upsert(ctx, Update{DriverID: "near", IsOnline: true, Location: &near, At: now})
	_, _ = store.Upsert(ctx, Update{DriverID: "far", IsOnline: true, Location: &far, At: now})

	got, _ := store.NearbyOnline(ctx, center, 5, now.Add(-time.Minute))
	if len(got) != 1 || got[0].DriverID != "near" {
		t.Fatalf("expected only near driver, got %+v", got)
	}

	// moving the far driver close must reindex it
	_, _ = store.Upsert(ctx, Update{DriverID: "far", IsOnline: true, Location: &center, At: now})
	got, _ = store.NearbyOnline(ctx, center, 5, now.Add(-time.Minute))
	if len(got) != 2 {
		t.Fatalf("expected both drivers after move, got %+v", got)
	}

	// huge radius falls back to a full scan
	got, _ = store.NearbyOnline(ctx, center, 20000, now.Add(-time.Minute))
	if len(got) != 2 {
		t.Fatalf("expected full scan to find both, got %+v", got)
	}
}
