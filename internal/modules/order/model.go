// README: Order aggregate, status definitions and the transition table.
package order

import (
	"time"

	"ridecore/internal/apperr"
	"ridecore/internal/types"
)

type Status string

const (
	StatusNone      Status = "none"
	StatusRequested Status = "requested"
	StatusAccepted  Status = "accepted"
	StatusArrived   Status = "arrived"
	StatusStarted   Status = "started"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

var AllStatuses = []Status{
	StatusRequested, StatusAccepted, StatusArrived, StatusStarted, StatusCompleted, StatusCancelled,
}

func (s Status) Valid() bool {
	for _, v := range AllStatuses {
		if v == s {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Bound reports whether an order in this status must carry a driver.
func (s Status) Bound() bool {
	switch s {
	case StatusAccepted, StatusArrived, StatusStarted, StatusCompleted:
		return true
	}
	return false
}

type Order struct {
	ID            types.ID     `json:"id"`
	PassengerID   types.ID     `json:"passenger_id"`
	DriverID      *types.ID    `json:"driver_id"`
	Status        Status       `json:"status"`
	StatusVersion int          `json:"status_version"`
	Pickup        types.Point  `json:"pickup"`
	Dropoff       *types.Point `json:"dropoff,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
	AcceptedAt    *time.Time   `json:"accepted_at,omitempty"`
	ArrivedAt     *time.Time   `json:"arrived_at,omitempty"`
	StartedAt     *time.Time   `json:"started_at,omitempty"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
	CancelledAt   *time.Time   `json:"cancelled_at,omitempty"`
	CancelReason  *string      `json:"cancel_reason,omitempty"`
}

// BoundTo reports whether driverID is the order's bound driver.
func (o *Order) BoundTo(driverID types.ID) bool {
	return o.DriverID != nil && *o.DriverID == driverID
}

// Clone returns a deep copy so callers never share pointers with a store.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	cp := *o
	if o.DriverID != nil {
		d := *o.DriverID
		cp.DriverID = &d
	}
	if o.Dropoff != nil {
		p := *o.Dropoff
		cp.Dropoff = &p
	}
	cp.AcceptedAt = clonePtr(o.AcceptedAt)
	cp.ArrivedAt = clonePtr(o.ArrivedAt)
	cp.StartedAt = clonePtr(o.StartedAt)
	cp.CompletedAt = clonePtr(o.CompletedAt)
	cp.CancelledAt = clonePtr(o.CancelledAt)
	cp.CancelReason = clonePtr(o.CancelReason)
	return &cp
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

type Event struct {
	ID         int64
	OrderID    types.ID
	FromStatus Status
	ToStatus   Status
	ActorType  string
	ActorID    *types.ID
	Reason     *string
	CreatedAt  time.Time
}

// Nearby is an open order ranked by distance from a query center.
type Nearby struct {
	Order      *Order  `json:"order"`
	DistanceKm float64 `json:"distance_km"`
}

// AllowedTransitions represents the order state flow (diagram) as code.
var AllowedTransitions = map[Status][]Status{
	StatusRequested: {StatusAccepted, StatusCancelled},
	StatusAccepted:  {StatusArrived, StatusCancelled},
	StatusArrived:   {StatusStarted, StatusCancelled},
	StatusStarted:   {StatusCompleted, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns an error matching ErrInvalidTransition when
// from -> to is not an edge of the state flow.
func ValidateTransition(from, to Status) error {
	if CanTransition(from, to) {
		return nil
	}
	return &apperr.TransitionError{From: string(from), To: string(to)}
}

// NextStatus returns the forward successor of s on the trip chain.
func NextStatus(s Status) (Status, error) {
	switch s {
	case StatusRequested:
		return StatusAccepted, nil
	case StatusAccepted:
		return StatusArrived, nil
	case StatusArrived:
		return StatusStarted, nil
	case StatusStarted:
		return StatusCompleted, nil
	}
	return s, &apperr.TransitionError{From: string(s), To: string(s)}
}
