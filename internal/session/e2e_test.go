package session

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"ridecore/internal/apperr"
	"ridecore/internal/modules/location"
	"ridecore/internal/modules/order"
	"ridecore/internal/types"
)

func TestEndToEndTrip(t *testing.T) {
	st := newStack()
	ctx := context.Background()

	p, _ := st.session(t, passenger, &pickup)
	d, dLoc := st.session(t, driverD, &driverPos)

	o, err := p.CreateOrder(ctx, pickup, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := st.orders.Get(ctx, o.ID)
	if err != nil || got.Status != order.StatusRequested || got.DriverID != nil {
		t.Fatalf("unexpected created order %+v, %v", got, err)
	}

	if err := d.ToggleOnline(ctx, true); err != nil {
		t.Fatalf("online: %v", err)
	}
	st.presence.next(t)
	tk := st.clock.waitTicker(t)

	eventually(t, "driver sees the order nearby", func() bool {
		for _, n := range d.Snapshot().NearbyOrders {
			if n.Order.ID == o.ID {
				return math.Abs(n.DistanceKm-1.45) < 0.1
			}
		}
		return false
	})

	accepted, err := d.AcceptOrder(ctx, o.ID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.Status != order.StatusAccepted || !accepted.BoundTo(driverD.UserID) {
		t.Fatalf("unexpected accepted order %+v", accepted)
	}
	eventually(t, "passenger sees accepted", func() bool {
		cur := p.Snapshot().CurrentOrder
		return cur != nil && cur.Status == order.StatusAccepted
	})

	for _, want := range []order.Status{order.StatusArrived, order.StatusStarted} {
		got, err := d.AdvanceStatus(ctx)
		if err != nil || got.Status != want {
			t.Fatalf("advance to %s: %+v, %v", want, got, err)
		}
	}

	// three heartbeats while started each leave a trail point
	route := []types.Point{
		{Lat: 31.2214, Lng: 121.4647},
		{Lat: 31.2224, Lng: 121.4657},
		{Lat: 31.2234, Lng: 121.4667},
	}
	for i, pos := range route {
		dLoc.Set(pos)
		if !tk.tick(time.Second) {
			t.Fatalf("tick %d not taken", i)
		}
		st.presence.next(t)
	}
	eventually(t, "three trail points", func() bool {
		pts, _ := st.trail.List(ctx, o.ID)
		return len(pts) == 3
	})
	pts, _ := st.trail.List(ctx, o.ID)
	for i := range pts {
		if pts[i].Position != route[i] {
			t.Fatalf("trail point %d = %v, want %v", i, pts[i].Position, route[i])
		}
		if i > 0 && !pts[i].RecordedAt.After(pts[i-1].RecordedAt) {
			t.Fatalf("trail not ordered by recordedAt")
		}
	}
	eventually(t, "passenger sees the trail", func() bool { return len(p.Snapshot().TrailPoints) == 3 })

	_, err = st.trail.Append(ctx, location.AppendCommand{Actor: driverD2, OrderID: o.ID, Position: route[0]})
	if !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("foreign driver append: expected ErrForbidden, got %v", err)
	}

	done, err := d.AdvanceStatus(ctx)
	if err != nil || done.Status != order.StatusCompleted {
		t.Fatalf("complete: %+v, %v", done, err)
	}
	_, err = st.orders.Advance(ctx, order.AdvanceCommand{OrderID: o.ID, Actor: driverD, To: order.StatusArrived})
	if !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Fatalf("arrived after completed: expected ErrInvalidTransition, got %v", err)
	}
	if n := len(mustList(t, st, o.ID)); n != 3 {
		t.Fatalf("trail changed after completion: %d points", n)
	}
}

func mustList(t *testing.T, st *stack, orderID types.ID) []location.Point {
	t.Helper()
	pts, err := st.trail.List(context.Background(), orderID)
	if err != nil {
		t.Fatalf("list trail: %v", err)
	}
	return pts
}
