// README: Driver presence record: online flag plus last reported location.
package presence

import (
	"context"
	"time"

	"ridecore/internal/apperr"
	"ridecore/internal/types"
)

const (
	DefaultTTL            = 30 * time.Second
	DefaultExpiryInterval = 5 * time.Second
	// DefaultMinPublishInterval throttles location-only change notifications per driver.
	DefaultMinPublishInterval = time.Second
)

var ErrNotFound = apperr.NotFound("driver presence")

type Presence struct {
	DriverID  types.ID     `json:"driver_id"`
	IsOnline  bool         `json:"is_online"`
	Location  *types.Point `json:"location,omitempty"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Matchable reports whether the record may be offered to passengers at now.
func (p *Presence) Matchable(now time.Time, ttl time.Duration) bool {
	return p.IsOnline && p.Location != nil && now.Sub(p.UpdatedAt) <= ttl
}

func (p *Presence) Clone() *Presence {
	if p == nil {
		return nil
	}
	cp := *p
	if p.Location != nil {
		loc := *p.Location
		cp.Location = &loc
	}
	return &cp
}

// Update is one upsert. Location nil keeps the stored location.
type Update struct {
	DriverID types.ID
	IsOnline bool
	Location *types.Point
	At       time.Time
}

// Nearby is an online driver ranked by distance from a query center.
type Nearby struct {
	Presence   *Presence `json:"presence"`
	DistanceKm float64   `json:"distance_km"`
}

type Repository interface {
	// Upsert overwrites IsOnline and UpdatedAt, and Location when provided.
	// It returns the stored record after the write.
	Upsert(ctx context.Context, u Update) (*Presence, error)
	Get(ctx context.Context, driverID types.ID) (*Presence, error)
	// NearbyOnline returns online drivers with a location inside the circle
	// and UpdatedAt at or after freshSince. Order is unspecified.
	NearbyOnline(ctx context.Context, center types.Point, radiusKm float64, freshSince time.Time) ([]*Presence, error)
	// ListStale returns online drivers whose UpdatedAt is before cutoff.
	ListStale(ctx context.Context, cutoff time.Time) ([]types.ID, error)
	// MarkOffline flips the driver offline iff it has not reported since cutoff.
	MarkOffline(ctx context.Context, driverID types.ID, cutoff time.Time) (bool, error)
}
