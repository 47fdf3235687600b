// README: Collaborators a dispatch session drives; satisfied by the module services.
package session

import (
	"context"
	"sync"
	"time"

	"ridecore/internal/auth"
	"ridecore/internal/modules/location"
	"ridecore/internal/modules/order"
	"ridecore/internal/modules/presence"
	"ridecore/internal/types"
)

type Orders interface {
	Create(ctx context.Context, cmd order.CreateCommand) (*order.Order, error)
	Accept(ctx context.Context, cmd order.AcceptCommand) (*order.Order, error)
	Advance(ctx context.Context, cmd order.AdvanceCommand) (*order.Order, error)
	Cancel(ctx context.Context, cmd order.CancelCommand) (*order.Order, error)
	ActiveDriverOrders(ctx context.Context, driverID types.ID) ([]*order.Order, error)
	LatestPassengerOrder(ctx context.Context, passengerID types.ID) (*order.Order, error)
}

type Matcher interface {
	NearbyOpenOrders(ctx context.Context, center types.Point, radiusKm float64, limit int) ([]order.Nearby, error)
	NearbyOnlineDrivers(ctx context.Context, center types.Point, radiusKm float64, limit int) ([]presence.Nearby, error)
}

type Presence interface {
	Upsert(ctx context.Context, cmd presence.UpsertCommand) (*presence.Presence, error)
	Get(ctx context.Context, driverID types.ID) (*presence.Presence, error)
}

type Trail interface {
	Append(ctx context.Context, cmd location.AppendCommand) (*location.Point, error)
	ListFor(ctx context.Context, actor auth.Identity, orderID types.ID) ([]location.Point, error)
}

// LocationSource is the actor's device position.
type LocationSource interface {
	CurrentLocation(ctx context.Context) (types.Point, bool)
}

// StaticLocation is a LocationSource whose position is set by the client.
type StaticLocation struct {
	mu  sync.RWMutex
	pos *types.Point
}

func (l *StaticLocation) Set(p types.Point) {
	l.mu.Lock()
	l.pos = &p
	l.mu.Unlock()
}

func (l *StaticLocation) CurrentLocation(context.Context) (types.Point, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.pos == nil {
		return types.Point{}, false
	}
	return *l.pos, true
}

type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) Ticker { return realTicker{time.NewTicker(d)} }

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }
