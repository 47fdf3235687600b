// README: GeoMatcher: nearest online drivers for passengers and nearest open orders for drivers.
package matching

import (
	"context"

	"github.com/sirupsen/logrus"

	"ridecore/internal/apperr"
	"ridecore/internal/geo"
	"ridecore/internal/modules/order"
	"ridecore/internal/modules/presence"
	"ridecore/internal/types"
)

type Service struct {
	drivers DriverSource
	orders  OrderSource
	cfg     Config
	log     logrus.FieldLogger
}

func NewService(drivers DriverSource, orders OrderSource, cfg Config, log logrus.FieldLogger) *Service {
	if cfg.RadiusKm <= 0 || cfg.Limit <= 0 {
		d := DefaultConfig()
		if cfg.RadiusKm <= 0 {
			cfg.RadiusKm = d.RadiusKm
		}
		if cfg.Limit <= 0 {
			cfg.Limit = d.Limit
		}
	}
	return &Service{drivers: drivers, orders: orders, cfg: cfg, log: log.WithField("module", "matching")}
}

func (s *Service) bounds(center types.Point, radiusKm float64, limit int) (float64, int, error) {
	if !center.Valid() {
		return 0, 0, apperr.BadRequest("center out of range")
	}
	if radiusKm <= 0 {
		radiusKm = s.cfg.RadiusKm
	}
	if limit <= 0 {
		limit = s.cfg.Limit
	}
	return radiusKm, limit, nil
}

// NearbyOnlineDrivers ranks online, fresh, located drivers by distance,
// ties by driver id, at most limit.
func (s *Service) NearbyOnlineDrivers(ctx context.Context, center types.Point, radiusKm float64, limit int) ([]presence.Nearby, error) {
	radiusKm, limit, err := s.bounds(center, radiusKm, limit)
	if err != nil {
		return nil, err
	}
	candidates, err := s.drivers.Candidates(ctx, center, radiusKm)
	if err != nil {
		return nil, err
	}
	ranked := geo.Rank(center, radiusKm, limit, candidates,
		func(p *presence.Presence) (types.Point, bool) {
			if p.Location == nil || !p.IsOnline {
				return types.Point{}, false
			}
			return *p.Location, true
		},
		func(a, b *presence.Presence) bool { return a.DriverID < b.DriverID },
	)
	out := make([]presence.Nearby, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, presence.Nearby{Presence: r.Item, DistanceKm: r.DistanceKm})
	}
	s.log.WithFields(logrus.Fields{"center": center.String(), "radius_km": radiusKm, "found": len(out)}).Debug("nearby drivers")
	return out, nil
}

// NearbyOpenOrders ranks requested orders by pickup distance, ties by
// creation time, at most limit.
func (s *Service) NearbyOpenOrders(ctx context.Context, center types.Point, radiusKm float64, limit int) ([]order.Nearby, error) {
	radiusKm, limit, err := s.bounds(center, radiusKm, limit)
	if err != nil {
		return nil, err
	}
	candidates, err := s.orders.NearbyOpen(ctx, center, radiusKm, limit)
	if err != nil {
		return nil, err
	}
	ranked := geo.Rank(center, radiusKm, limit, candidates,
		func(n order.Nearby) (types.Point, bool) {
			return n.Order.Pickup, n.Order.Status == order.StatusRequested
		},
		func(a, b order.Nearby) bool { return order.OlderFirst(a.Order, b.Order) },
	)
	out := make([]order.Nearby, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, order.Nearby{Order: r.Item.Order, DistanceKm: r.DistanceKm})
	}
	s.log.WithFields(logrus.Fields{"center": center.String(), "radius_km": radiusKm, "found": len(out)}).Debug("nearby orders")
	return out, nil
}
