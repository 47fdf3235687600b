// README: In-memory trail store; the append guard reads the order through the order reader.
package location

import (
	"context"
	"errors"
	"sort"
	"sync"

	"ridecore/internal/modules/order"
	"ridecore/internal/types"
)

type MemoryStore struct {
	orders OrderReader

	mu     sync.Mutex
	points map[types.ID][]Point
}

func NewMemoryStore(orders OrderReader) *MemoryStore {
	return &MemoryStore{orders: orders, points: make(map[types.ID][]Point)}
}

func (m *MemoryStore) Append(ctx context.Context, p Point) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, err := m.orders.Get(ctx, p.OrderID)
	if errors.Is(err, order.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if o.Status != order.StatusStarted || !o.BoundTo(p.DriverID) {
		return false, nil
	}
	m.points[p.OrderID] = append(m.points[p.OrderID], p)
	return true, nil
}

func (m *MemoryStore) List(_ context.Context, orderID types.ID) ([]Point, error) {
	m.mu.Lock()
	out := append([]Point(nil), m.points[orderID]...)
	m.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out, nil
}
