// README: Persistence contract for orders; implemented by Store (Postgres) and MemoryStore.
package order

import (
	"context"
	"time"

	"ridecore/internal/types"
)

// StatusUpdate is a compare-and-set on (status, status_version).
type StatusUpdate struct {
	OrderID     types.ID
	From        Status
	FromVersion int
	To          Status
	Reason      *string
	At          time.Time
}

type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id types.ID) (*Order, error)
	// Accept binds driverID iff the order is requested and unbound, as one
	// indivisible operation. ok is false when the predicate did not hold.
	Accept(ctx context.Context, id, driverID types.ID, at time.Time) (o *Order, ok bool, err error)
	// UpdateStatus applies u iff the stored status and version still match.
	// Moving to cancelled clears the driver binding.
	UpdateStatus(ctx context.Context, u StatusUpdate) (o *Order, ok bool, err error)
	HasActiveByPassenger(ctx context.Context, passengerID types.ID) (bool, error)
	ListByPassenger(ctx context.Context, passengerID types.ID, limit int) ([]*Order, error)
	ListActiveByDriver(ctx context.Context, driverID types.ID) ([]*Order, error)
	ListByDriver(ctx context.Context, driverID types.ID, limit int) ([]*Order, error)
	NearbyOpen(ctx context.Context, center types.Point, radiusKm float64, limit int) ([]Nearby, error)
	AppendEvent(ctx context.Context, e *Event) error
}
