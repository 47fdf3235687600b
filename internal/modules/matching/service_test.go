package matching

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"ridecore/internal/apperr"
	"ridecore/internal/auth"
	"ridecore/internal/geo"
	"ridecore/internal/logger"
	"ridecore/internal/modules/order"
	"ridecore/internal/modules/presence"
	"ridecore/internal/types"
)

var center = types.Point{Lat: 31.2304, Lng: 121.4737}

// eastOf returns a point roughly km kilometres east of center.
func eastOf(km float64) types.Point {
	return types.Point{Lat: center.Lat, Lng: center.Lng + km/(111.32*0.855)}
}

func newOrderService(t *testing.T, pickups []types.Point) *order.Service {
	t.Helper()
	svc := order.NewService(order.NewMemoryStore(), nil, logger.Discard())
	for i, p := range pickups {
		actor := auth.Identity{UserID: types.ID(fmt.Sprintf("p%02d", i)), Role: auth.RolePassenger}
		if _, err := svc.Create(context.Background(), order.CreateCommand{Actor: actor, Pickup: p}); err != nil {
			t.Fatalf("create: %v", err)
		}
		time.Sleep(time.Millisecond)
	}
	return svc
}

func TestNearbyOpenOrdersBoundsAndOrder(t *testing.T) {
	var pickups []types.Point
	for _, km := range []float64{4.0, 0.5, 7.0, 2.0, 5.5, 1.0} {
		pickups = append(pickups, eastOf(km))
	}
	orders := newOrderService(t, pickups)
	svc := NewService(nil, orders, Config{}, logger.Discard())

	got, err := svc.NearbyOpenOrders(context.Background(), center, 5, 50)
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 orders within 5km, got %d", len(got))
	}
	for i, n := range got {
		if n.DistanceKm > 5 {
			t.Fatalf("order %d outside radius: %.2f", i, n.DistanceKm)
		}
		if d := geo.DistanceKm(center, n.Order.Pickup); d != n.DistanceKm {
			t.Fatalf("distance mismatch: %f vs %f", d, n.DistanceKm)
		}
		if i > 0 && got[i-1].DistanceKm > n.DistanceKm {
			t.Fatalf("not sorted at %d", i)
		}
		if n.Order.Status != order.StatusRequested {
			t.Fatalf("non-open order returned")
		}
	}

	limited, _ := svc.NearbyOpenOrders(context.Background(), center, 5, 2)
	if len(limited) != 2 || limited[0].Order.ID != got[0].Order.ID {
		t.Fatalf("limit not applied to the nearest orders")
	}
}

func TestNearbyOpenOrdersTieBreakByCreation(t *testing.T) {
	p := eastOf(1)
	orders := newOrderService(t, []types.Point{p, p, p})
	svc := NewService(nil, orders, Config{}, logger.Discard())

	got, err := svc.NearbyOpenOrders(context.Background(), center, 0, 0)
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Order.CreatedAt.Before(got[i-1].Order.CreatedAt) {
			t.Fatalf("ties must be ordered by creation time")
		}
	}
}

func TestNearbyOnlineDrivers(t *testing.T) {
	store := presence.NewMemoryStore()
	presences := presence.NewService(store, nil, presence.Config{}, logger.Discard())
	ctx := context.Background()

	upsert := func(id string, online bool, loc *types.Point) {
		t.Helper()
		actor := auth.Identity{UserID: types.ID(id), Role: auth.RoleDriver}
		if _, err := presences.Upsert(ctx, presence.UpsertCommand{Actor: actor, IsOnline: online, Location: loc}); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	a, b, far := eastOf(1), eastOf(1), eastOf(8)
	upsert("d_b", true, &b)
	upsert("d_a", true, &a)
	upsert("d_far", true, &far)
	upsert("d_off", false, &a)
	upsert("d_noloc", true, nil)

	svc := NewService(presences, nil, Config{}, logger.Discard())
	got, err := svc.NearbyOnlineDrivers(ctx, center, 5, 50)
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 drivers, got %+v", got)
	}
	if got[0].Presence.DriverID != "d_a" || got[1].Presence.DriverID != "d_b" {
		t.Fatalf("ties must be ordered by driver id, got %s, %s", got[0].Presence.DriverID, got[1].Presence.DriverID)
	}
}

func TestInvalidCenterRejected(t *testing.T) {
	svc := NewService(nil, nil, Config{}, logger.Discard())
	if _, err := svc.NearbyOpenOrders(context.Background(), types.Point{Lat: 100}, 5, 50); !errors.Is(err, apperr.ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}
}
