// README: In-memory presence registry with a geohash cell index for nearby lookups.
package presence

import (
	"context"
	"sync"
	"time"

	"ridecore/internal/geo"
	"ridecore/internal/types"
)

// indexPrecision is the finest geohash level kept in the index (~1.2km x 0.6km cells).
const indexPrecision = 6

type MemoryStore struct {
	mu      sync.RWMutex
	drivers map[types.ID]*Presence
	// cells[p-1][hash] holds online drivers with a location, per precision 1..indexPrecision.
	cells [indexPrecision]map[string]map[types.ID]struct{}
}

func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{drivers: make(map[types.ID]*Presence)}
	for i := range m.cells {
		m.cells[i] = make(map[string]map[types.ID]struct{})
	}
	return m
}

func (m *MemoryStore) Upsert(_ context.Context, u Update) (*Presence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.drivers[u.DriverID]
	if !ok {
		p = &Presence{DriverID: u.DriverID}
		m.drivers[u.DriverID] = p
	}
	m.unindex(p)
	p.IsOnline = u.IsOnline
	if u.Location != nil {
		loc := *u.Location
		p.Location = &loc
	}
	p.UpdatedAt = u.At
	m.index(p)
	return p.Clone(), nil
}

func (m *MemoryStore) Get(_ context.Context, driverID types.ID) (*Presence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.drivers[driverID]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (m *MemoryStore) NearbyOnline(_ context.Context, center types.Point, radiusKm float64, freshSince time.Time) ([]*Presence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Presence
	keep := func(p *Presence) {
		if !p.IsOnline || p.Location == nil || p.UpdatedAt.Before(freshSince) {
			return
		}
		if geo.DistanceKm(center, *p.Location) > radiusKm {
			return
		}
		out = append(out, p.Clone())
	}

	precision := geo.CellPrecision(center, radiusKm)
	if precision == 0 {
		for _, p := range m.drivers {
			keep(p)
		}
		return out, nil
	}
	if precision > indexPrecision {
		precision = indexPrecision
	}
	seen := make(map[types.ID]struct{})
	for _, cell := range geo.CoveringCells(center, precision) {
		for id := range m.cells[precision-1][cell] {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			keep(m.drivers[id])
		}
	}
	return out, nil
}

func (m *MemoryStore) ListStale(_ context.Context, cutoff time.Time) ([]types.ID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.ID
	for id, p := range m.drivers {
		if p.IsOnline && p.UpdatedAt.Before(cutoff) {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *MemoryStore) MarkOffline(_ context.Context, driverID types.ID, cutoff time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.drivers[driverID]
	if !ok || !p.IsOnline || !p.UpdatedAt.Before(cutoff) {
		return false, nil
	}
	m.unindex(p)
	p.IsOnline = false
	return true, nil
}

func (m *MemoryStore) index(p *Presence) {
	if !p.IsOnline || p.Location == nil {
		return
	}
	for prec := uint(1); prec <= indexPrecision; prec++ {
		cell := geo.Cell(*p.Location, prec)
		bucket := m.cells[prec-1][cell]
		if bucket == nil {
			bucket = make(map[types.ID]struct{})
			m.cells[prec-1][cell] = bucket
		}
		bucket[p.DriverID] = struct{}{}
	}
}

func (m *MemoryStore) unindex(p *Presence) {
	if p.Location == nil {
		return
	}
	for prec := uint(1); prec <= indexPrecision; prec++ {
		cell := geo.Cell(*p.Location, prec)
		if bucket := m.cells[prec-1][cell]; bucket != nil {
			delete(bucket, p.DriverID)
			if len(bucket) == 0 {
				delete(m.cells[prec-1], cell)
			}
		}
	}
}
