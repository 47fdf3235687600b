// README: Presence store backed by Redis: per-driver hash, GEO set of online drivers, and a last-seen sorted set.
package presence

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"ridecore/internal/apperr"
	"ridecore/internal/types"
)

const (
	driverKeyPrefix = "presence:driver:"
	driverGeoKey    = "presence:drivers:geo"
	driverSeenKey   = "presence:drivers:seen"
)

// markOfflineScript flips a driver offline only if it has not reported since ARGV[1] (unix ms).
var markOfflineScript = redis.NewScript(`
local online = redis.call('HGET', KEYS[1], 'online')
local updated = tonumber(redis.call('HGET', KEYS[1], 'updated_at') or '0')
if online ~= '1' or updated >= tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'online', '0')
redis.call('ZREM', KEYS[2], ARGV[2])
redis.call('ZREM', KEYS[3], ARGV[2])
return 1
`)

type Store struct {
	redis *redis.Client
}

func NewStore(redis *redis.Client) *Store {
	return &Store{redis: redis}
}

func (s *Store) Upsert(ctx context.Context, u Update) (*Presence, error) {
	key := driverKey(u.DriverID)
	p := &Presence{DriverID: u.DriverID, IsOnline: u.IsOnline, UpdatedAt: u.At}
	if u.Location != nil {
		loc := *u.Location
		p.Location = &loc
	} else {
		prev, err := s.Get(ctx, u.DriverID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		if prev != nil {
			p.Location = prev.Location
		}
	}

	fields := map[string]interface{}{
		"online":     boolField(p.IsOnline),
		"updated_at": p.UpdatedAt.UnixMilli(),
	}
	if p.Location != nil {
		fields["lat"] = p.Location.Lat
		fields["lng"] = p.Location.Lng
	}
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		member := string(u.DriverID)
		if p.IsOnline && p.Location != nil {
			pipe.GeoAdd(ctx, driverGeoKey, &redis.GeoLocation{
				Name:      member,
				Longitude: p.Location.Lng,
				Latitude:  p.Location.Lat,
			})
		} else {
			pipe.ZRem(ctx, driverGeoKey, member)
		}
		if p.IsOnline {
			pipe.ZAdd(ctx, driverSeenKey, redis.Z{Score: float64(p.UpdatedAt.UnixMilli()), Member: member})
		} else {
			pipe.ZRem(ctx, driverSeenKey, member)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) Get(ctx context.Context, driverID types.ID) (*Presence, error) {
	vals, err := s.redis.HGetAll(ctx, driverKey(driverID)).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, ErrNotFound
	}
	return decode(driverID, vals)
}

func (s *Store) NearbyOnline(ctx context.Context, center types.Point, radiusKm float64, freshSince time.Time) ([]*Presence, error) {
	ids, err := s.redis.GeoSearch(ctx, driverGeoKey, &redis.GeoSearchQuery{
		Longitude:  center.Lng,
		Latitude:   center.Lat,
		Radius:     radiusKm,
		RadiusUnit: "km",
		Sort:       "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, driverKey(types.ID(id)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	out := make([]*Presence, 0, len(ids))
	for i, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) == 0 {
			continue
		}
		p, err := decode(types.ID(ids[i]), vals)
		if err != nil {
			return nil, err
		}
		if !p.IsOnline || p.Location == nil || p.UpdatedAt.Before(freshSince) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) ListStale(ctx context.Context, cutoff time.Time) ([]types.ID, error) {
	ids, err := s.redis.ZRangeByScore(ctx, driverSeenKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]types.ID, len(ids))
	for i, id := range ids {
		out[i] = types.ID(id)
	}
	return out, nil
}

func (s *Store) MarkOffline(ctx context.Context, driverID types.ID, cutoff time.Time) (bool, error) {
	n, err := markOfflineScript.Run(ctx, s.redis,
		[]string{driverKey(driverID), driverGeoKey, driverSeenKey},
		cutoff.UnixMilli(), string(driverID),
	).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func decode(driverID types.ID, vals map[string]string) (*Presence, error) {
	p := &Presence{DriverID: driverID, IsOnline: vals["online"] == "1"}
	ms, err := strconv.ParseInt(vals["updated_at"], 10, 64)
	if err != nil {
		return nil, apperr.Decode(err)
	}
	p.UpdatedAt = time.UnixMilli(ms)

	latStr, hasLat := vals["lat"]
	lngStr, hasLng := vals["lng"]
	if hasLat && hasLng {
		lat, err := strconv.ParseFloat(latStr, 64)
		if err != nil {
			return nil, apperr.Decode(err)
		}
		lng, err := strconv.ParseFloat(lngStr, 64)
		if err != nil {
			return nil, apperr.Decode(err)
		}
		p.Location = &types.Point{Lat: lat, Lng: lng}
	}
	return p, nil
}

func driverKey(id types.ID) string {
	return driverKeyPrefix + string(id)
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
