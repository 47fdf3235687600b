// README: Presence service: driver-only upserts, throttled change notifications, TTL expiry loop.
package presence

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"ridecore/internal/apperr"
	"ridecore/internal/auth"
	"ridecore/internal/feed"
	"ridecore/internal/metrics"
	"ridecore/internal/types"
)

type Config struct {
	TTL                time.Duration
	ExpiryInterval     time.Duration
	MinPublishInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.ExpiryInterval <= 0 {
		c.ExpiryInterval = DefaultExpiryInterval
	}
	if c.MinPublishInterval <= 0 {
		c.MinPublishInterval = DefaultMinPublishInterval
	}
	return c
}

type Service struct {
	store Repository
	bus   feed.Publisher
	log   logrus.FieldLogger
	cfg   Config
	now   func() time.Time

	mu       sync.Mutex
	limiters map[types.ID]*rate.Limiter
}

func NewService(store Repository, bus feed.Publisher, cfg Config, log logrus.FieldLogger) *Service {
	return &Service{
		store:    store,
		bus:      bus,
		log:      log.WithField("module", "presence"),
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		limiters: make(map[types.ID]*rate.Limiter),
	}
}

// UpsertCommand reports a driver's availability. An empty DriverID means the actor.
type UpsertCommand struct {
	Actor    auth.Identity
	DriverID types.ID
	IsOnline bool
	Location *types.Point
}

func (s *Service) Upsert(ctx context.Context, cmd UpsertCommand) (*Presence, error) {
	if err := cmd.Actor.RequireRole(auth.RoleDriver); err != nil {
		return nil, err
	}
	driverID := cmd.DriverID
	if driverID == "" {
		driverID = cmd.Actor.UserID
	}
	if driverID != cmd.Actor.UserID {
		return nil, apperr.Forbidden("drivers may only update their own presence")
	}
	if cmd.Location != nil && !cmd.Location.Valid() {
		return nil, apperr.BadRequest("location out of range")
	}

	prev, err := s.store.Get(ctx, driverID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, apperr.Underlying(err)
	}
	p, err := s.store.Upsert(ctx, Update{
		DriverID: driverID,
		IsOnline: cmd.IsOnline,
		Location: cmd.Location,
		At:       s.now(),
	})
	if err != nil {
		return nil, apperr.Underlying(err)
	}

	toggled := prev == nil || prev.IsOnline != p.IsOnline || !prev.Matchable(p.UpdatedAt, s.cfg.TTL)
	if toggled {
		s.log.WithFields(logrus.Fields{"driver_id": driverID, "online": p.IsOnline}).Info("driver availability changed")
	}
	publish := toggled
	if p.IsOnline {
		// location-only heartbeats inside the window are stored but not announced
		allowed := s.limiter(driverID).Allow()
		publish = publish || allowed
	} else {
		s.dropLimiter(driverID)
	}
	if publish {
		s.publish(ctx)
	}
	return p, nil
}

func (s *Service) Get(ctx context.Context, driverID types.ID) (*Presence, error) {
	p, err := s.store.Get(ctx, driverID)
	return p, apperr.Underlying(err)
}

// Candidates returns matchable drivers inside the circle, unordered.
func (s *Service) Candidates(ctx context.Context, center types.Point, radiusKm float64) ([]*Presence, error) {
	out, err := s.store.NearbyOnline(ctx, center, radiusKm, s.now().Add(-s.cfg.TTL))
	return out, apperr.Underlying(err)
}

// ExpireStale flips every online driver silent for longer than the TTL to offline.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.TTL)
	ids, err := s.store.ListStale(ctx, cutoff)
	if err != nil {
		return 0, apperr.Underlying(err)
	}
	expired := 0
	for _, id := range ids {
		ok, err := s.store.MarkOffline(ctx, id, cutoff)
		if err != nil {
			return expired, apperr.Underlying(err)
		}
		if ok {
			expired++
			s.dropLimiter(id)
		}
	}
	if expired > 0 {
		metrics.PresenceExpired.Add(float64(expired))
		s.log.WithField("count", expired).Info("expired stale drivers")
		s.publish(ctx)
	}
	return expired, nil
}

func (s *Service) RunExpiry(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ExpiryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ExpireStale(ctx); err != nil {
				s.log.WithError(err).Warn("presence expiry")
			}
		}
	}
}

func (s *Service) limiter(id types.ID) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[id]
	if !ok {
		l = rate.NewLimiter(rate.Every(s.cfg.MinPublishInterval), 1)
		s.limiters[id] = l
	}
	return l
}

func (s *Service) dropLimiter(id types.ID) {
	s.mu.Lock()
	delete(s.limiters, id)
	s.mu.Unlock()
}

func (s *Service) publish(ctx context.Context) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, feed.TopicPresence); err != nil {
		s.log.WithError(err).Warn("publish presence change")
	}
}
