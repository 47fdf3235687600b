// README: Location trail point recorded by the bound driver while a trip is started.
package location

import (
	"context"
	"time"

	"ridecore/internal/apperr"
	"ridecore/internal/types"
)

var (
	ErrNotStarted = apperr.InvalidState("order not started")
	ErrForbidden  = apperr.Forbidden("only the bound driver may record the trail")
)

type Point struct {
	ID         types.ID    `json:"id"`
	OrderID    types.ID    `json:"order_id"`
	DriverID   types.ID    `json:"driver_id"`
	Position   types.Point `json:"position"`
	RecordedAt time.Time   `json:"recorded_at"`
}

// less orders trail points by RecordedAt, then ID.
func less(a, b Point) bool {
	if !a.RecordedAt.Equal(b.RecordedAt) {
		return a.RecordedAt.Before(b.RecordedAt)
	}
	return a.ID < b.ID
}

type Repository interface {
	// Append stores p iff the order is started and bound to p.DriverID,
	// checked in the same operation as the write. ok is false otherwise.
	Append(ctx context.Context, p Point) (ok bool, err error)
	List(ctx context.Context, orderID types.ID) ([]Point, error)
}
