// README: In-memory Repository; predicates are evaluated under one mutex so it races like the SQL store.
package order

import (
	"context"
	"sort"
	"sync"
	"time"

	"ridecore/internal/geo"
	"ridecore/internal/types"
)

type MemoryStore struct {
	mu     sync.Mutex
	orders map[types.ID]*Order
	events []Event
	seq    int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[types.ID]*Order)}
}

func (m *MemoryStore) Create(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[o.ID]; ok {
		return ErrConflict
	}
	for _, existing := range m.orders {
		if existing.PassengerID == o.PassengerID && !existing.Status.Terminal() {
			return ErrActiveOrder
		}
	}
	m.orders[o.ID] = o.Clone()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id types.ID) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o.Clone(), nil
}

func (m *MemoryStore) Accept(_ context.Context, id, driverID types.ID, at time.Time) (*Order, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.Status != StatusRequested || o.DriverID != nil {
		return nil, false, nil
	}
	d := driverID
	o.DriverID = &d
	o.Status = StatusAccepted
	o.StatusVersion++
	o.AcceptedAt = &at
	o.UpdatedAt = at
	return o.Clone(), true, nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, u StatusUpdate) (*Order, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[u.OrderID]
	if !ok || o.Status != u.From || o.StatusVersion != u.FromVersion {
		return nil, false, nil
	}
	at := u.At
	o.Status = u.To
	o.StatusVersion++
	o.UpdatedAt = at
	switch u.To {
	case StatusArrived:
		o.ArrivedAt = &at
	case StatusStarted:
		o.StartedAt = &at
	case StatusCompleted:
		o.CompletedAt = &at
	case StatusCancelled:
		o.CancelledAt = &at
		o.CancelReason = clonePtr(u.Reason)
		o.DriverID = nil
	}
	return o.Clone(), true, nil
}

func (m *MemoryStore) HasActiveByPassenger(_ context.Context, passengerID types.ID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.PassengerID == passengerID && !o.Status.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) ListByPassenger(_ context.Context, passengerID types.ID, limit int) ([]*Order, error) {
	return m.filter(func(o *Order) bool { return o.PassengerID == passengerID }, limit), nil
}

func (m *MemoryStore) ListActiveByDriver(_ context.Context, driverID types.ID) ([]*Order, error) {
	return m.filter(func(o *Order) bool { return o.BoundTo(driverID) && !o.Status.Terminal() }, 0), nil
}

func (m *MemoryStore) ListByDriver(_ context.Context, driverID types.ID, limit int) ([]*Order, error) {
	return m.filter(func(o *Order) bool { return o.BoundTo(driverID) }, limit), nil
}

func (m *MemoryStore) NearbyOpen(_ context.Context, center types.Point, radiusKm float64, limit int) ([]Nearby, error) {
	open := m.filter(func(o *Order) bool { return o.Status == StatusRequested }, 0)
	ranked := geo.Rank(center, radiusKm, limit, open,
		func(o *Order) (types.Point, bool) { return o.Pickup, true },
		OlderFirst,
	)
	out := make([]Nearby, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, Nearby{Order: r.Item, DistanceKm: r.DistanceKm})
	}
	return out, nil
}

func (m *MemoryStore) AppendEvent(_ context.Context, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	cp := *e
	cp.ID = m.seq
	m.events = append(m.events, cp)
	return nil
}

// Events returns the audit log for one order in append order.
func (m *MemoryStore) Events(orderID types.ID) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out
}

// filter returns clones matching keep, newest first, capped at limit when > 0.
func (m *MemoryStore) filter(keep func(*Order) bool, limit int) []*Order {
	m.mu.Lock()
	var out []*Order
	for _, o := range m.orders {
		if keep(o) {
			out = append(out, o.Clone())
		}
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return NewerFirst(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// OlderFirst orders by CreatedAt ascending, then ID.
func OlderFirst(a, b *Order) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// NewerFirst orders by CreatedAt descending, then ID.
func NewerFirst(a, b *Order) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}
