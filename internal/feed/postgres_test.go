package feed

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"ridecore/internal/logger"
)

func TestPostgresBusRoundTrip(t *testing.T) {
	dsn := os.Getenv("RIDECORE_TEST_DSN")
	if dsn == "" {
		t.Skip("RIDECORE_TEST_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	defer pool.Close()

	bus := NewPostgresBus(pool, logger.Discard())
	orders, err := bus.Subscribe(ctx, TopicOrders)
	if err != nil {
		t.Fatalf("subscribe orders: %v", err)
	}
	locations, err := bus.Subscribe(ctx, TopicLocations)
	if err != nil {
		t.Fatalf("subscribe locations: %v", err)
	}
	// LISTEN is issued before the connect notification
	for _, ch := range []<-chan Notification{orders, locations} {
		select {
		case <-ch:
		case <-ctx.Done():
			t.Fatalf("no connect notification")
		}
	}

	if err := bus.Publish(ctx, TopicOrders); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case n := <-orders:
		if n.Topic != TopicOrders {
			t.Fatalf("unexpected topic %s", n.Topic)
		}
	case <-ctx.Done():
		t.Fatalf("notification not received")
	}
	select {
	case n := <-locations:
		t.Fatalf("locations subscriber woke for %s", n.Topic)
	case <-time.After(200 * time.Millisecond):
	}
}
