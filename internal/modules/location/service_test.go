package location

import (
	"context"
	"errors"
	"testing"
	"time"

	"ridecore/internal/apperr"
	"ridecore/internal/auth"
	"ridecore/internal/feed"
	"ridecore/internal/logger"
	"ridecore/internal/modules/order"
	"ridecore/internal/types"
)

var (
	passenger = auth.Identity{UserID: "p1", Role: auth.RolePassenger}
	driverA   = auth.Identity{UserID: "dA", Role: auth.RoleDriver}
	driverB   = auth.Identity{UserID: "dB", Role: auth.RoleDriver}
)

type fixture struct {
	orders *order.Service
	svc    *Service
	store  *MemoryStore
	hub    *feed.Hub
	order  *order.Order
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	hub := feed.NewHub()
	orders := order.NewService(order.NewMemoryStore(), hub, logger.Discard())
	store := NewMemoryStore(orders)
	svc := NewService(store, orders, hub, logger.Discard())

	o, err := orders.Create(ctx, order.CreateCommand{Actor: passenger, Pickup: types.Point{Lat: 31.2304, Lng: 121.4737}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := orders.Accept(ctx, order.AcceptCommand{OrderID: o.ID, Actor: driverA}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	return &fixture{orders: orders, svc: svc, store: store, hub: hub, order: o}
}

func (f *fixture) advanceTo(t *testing.T, s order.Status) {
	t.Helper()
	for {
		cur, _ := f.orders.Get(context.Background(), f.order.ID)
		if cur.Status == s {
			return
		}
		if _, err := f.orders.Advance(context.Background(), order.AdvanceCommand{OrderID: f.order.ID, Actor: driverA}); err != nil {
			t.Fatalf("advance: %v", err)
		}
	}
}

func TestAppendRequiresStarted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Append(ctx, AppendCommand{Actor: driverA, OrderID: f.order.ID, Position: types.Point{Lat: 31.22, Lng: 121.46}})
	if !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("accepted order: expected ErrInvalidState, got %v", err)
	}
	if pts, _ := f.svc.List(ctx, f.order.ID); len(pts) != 0 {
		t.Fatalf("no point may be written, got %d", len(pts))
	}
}

func TestForeignDriverCannotAppend(t *testing.T) {
	f := newFixture(t)
	f.advanceTo(t, order.StatusStarted)
	ctx := context.Background()

	_, err := f.svc.Append(ctx, AppendCommand{Actor: driverB, OrderID: f.order.ID, Position: types.Point{Lat: 31.22, Lng: 121.46}})
	if !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	_, err = f.svc.Append(ctx, AppendCommand{Actor: passenger, OrderID: f.order.ID, Position: types.Point{Lat: 31.22, Lng: 121.46}})
	if !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("passenger: expected ErrForbidden, got %v", err)
	}
	if pts, _ := f.svc.List(ctx, f.order.ID); len(pts) != 0 {
		t.Fatalf("no point may be written, got %d", len(pts))
	}
	if _, err := f.svc.Append(ctx, AppendCommand{Actor: driverA, OrderID: "missing", Position: types.Point{Lat: 1, Lng: 1}}); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("missing order: expected ErrNotFound, got %v", err)
	}
}

func TestTrailOrderedAndPublished(t *testing.T) {
	f := newFixture(t)
	f.advanceTo(t, order.StatusStarted)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, _ := f.hub.Subscribe(ctx, feed.TopicLocations)

	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	for _, offset := range []int{3, 1, 2} {
		_, err := f.svc.Append(ctx, AppendCommand{
			Actor:      driverA,
			OrderID:    f.order.ID,
			Position:   types.Point{Lat: 31.22 + float64(offset)*0.001, Lng: 121.46},
			RecordedAt: base.Add(time.Duration(offset) * time.Second),
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	select {
	case <-ch:
	default:
		t.Fatalf("expected locations notification")
	}

	pts, err := f.svc.ListFor(ctx, passenger, f.order.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pts) != 3 {
		t.Fatalf("expected 3 points, got %d", len(pts))
	}
	for i := 1; i < len(pts); i++ {
		if pts[i].RecordedAt.Before(pts[i-1].RecordedAt) {
			t.Fatalf("trail out of order at %d", i)
		}
	}
	if _, err := f.svc.ListFor(ctx, driverB, f.order.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("foreign driver list: expected ErrForbidden, got %v", err)
	}

	f.advanceTo(t, order.StatusCompleted)
	_, err = f.svc.Append(ctx, AppendCommand{Actor: driverA, OrderID: f.order.ID, Position: types.Point{Lat: 31.22, Lng: 121.46}})
	if !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("completed order: expected ErrInvalidState, got %v", err)
	}
}

type brokenOrders struct{ err error }

func (b brokenOrders) Get(context.Context, types.ID) (*order.Order, error) { return nil, b.err }

func TestMemoryStoreAppendSurfacesLookupErrors(t *testing.T) {
	ctx := context.Background()
	p := Point{ID: "pt1", OrderID: "o1", DriverID: driverA.UserID, Position: types.Point{Lat: 1, Lng: 1}}

	boom := errors.New("orders unavailable")
	ok, err := NewMemoryStore(brokenOrders{err: boom}).Append(ctx, p)
	if ok || !errors.Is(err, boom) {
		t.Fatalf("expected lookup error, got ok=%v err=%v", ok, err)
	}

	ok, err = NewMemoryStore(brokenOrders{err: order.ErrNotFound}).Append(ctx, p)
	if ok || err != nil {
		t.Fatalf("missing order: expected ok=false without error, got ok=%v err=%v", ok, err)
	}
}
