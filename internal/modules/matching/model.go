// README: Matching inputs: candidate sources and default query bounds.
package matching

import (
	"context"

	"ridecore/internal/geo"
	"ridecore/internal/modules/order"
	"ridecore/internal/modules/presence"
	"ridecore/internal/types"
)

type Config struct {
	RadiusKm float64
	Limit    int
}

func DefaultConfig() Config {
	return Config{RadiusKm: geo.DefaultRadiusKm, Limit: geo.DefaultLimit}
}

// DriverSource returns matchable drivers inside a circle, in any order.
type DriverSource interface {
	Candidates(ctx context.Context, center types.Point, radiusKm float64) ([]*presence.Presence, error)
}

// OrderSource returns requested orders around a center.
type OrderSource interface {
	NearbyOpen(ctx context.Context, center types.Point, radiusKm float64, limit int) ([]order.Nearby, error)
}
