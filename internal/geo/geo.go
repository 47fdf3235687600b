// Package geo contains pure geographic computation helpers shared by the
// presence, order and matching modules.
package geo

import (
	"math"
	"sort"

	"github.com/mmcloughlin/geohash"

	"ridecore/internal/types"
)

const earthRadiusKm = 6371.0

// cellMargin absorbs the narrowing of neighbour cells further from the equator.
const cellMargin = 1.1

const (
	DefaultRadiusKm = 5.0
	DefaultLimit    = 50
)

// DistanceKm returns the great-circle distance in kilometres between two
// points specified in decimal degrees.
func DistanceKm(a, b types.Point) float64 {
	dLat := degreesToRadians(b.Lat - a.Lat)
	dLng := degreesToRadians(b.Lng - a.Lng)

	rLat1 := degreesToRadians(a.Lat)
	rLat2 := degreesToRadians(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusKm * c
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// Normalize applies the system defaults to non-positive radius or limit.
func Normalize(radiusKm float64, limit int) (float64, int) {
	if radiusKm <= 0 {
		radiusKm = DefaultRadiusKm
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	return radiusKm, limit
}

// Ranked pairs a candidate with its distance from the query center.
type Ranked[T any] struct {
	Item       T
	DistanceKm float64
}

// Rank keeps the candidates within radiusKm of center, sorts them by
// ascending distance (ties resolved by less) and truncates to limit.
// Candidates for which pos reports false are dropped.
func Rank[T any](center types.Point, radiusKm float64, limit int, items []T, pos func(T) (types.Point, bool), less func(a, b T) bool) []Ranked[T] {
	out := make([]Ranked[T], 0, len(items))
	for _, it := range items {
		p, ok := pos(it)
		if !ok {
			continue
		}
		d := DistanceKm(center, p)
		if d > radiusKm {
			continue
		}
		out = append(out, Ranked[T]{Item: it, DistanceKm: d})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DistanceKm != out[j].DistanceKm {
			return out[i].DistanceKm < out[j].DistanceKm
		}
		return less(out[i].Item, out[j].Item)
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// BoundingBox returns the lat/lng box that fully contains the circle of
// radiusKm around center. Used as a cheap index prefilter before Rank.
// Near the poles or the antimeridian the lng range widens to [-180, 180].
func BoundingBox(center types.Point, radiusKm float64) (minLat, maxLat, minLng, maxLng float64) {
	dLat := radiusKm / earthRadiusKm * 180 / math.Pi
	minLat, maxLat = center.Lat-dLat, center.Lat+dLat
	cos := math.Cos(degreesToRadians(center.Lat))
	if cos < 1e-6 || maxLat >= 90 || minLat <= -90 {
		return math.Max(minLat, -90), math.Min(maxLat, 90), -180, 180
	}
	dLng := dLat / cos
	minLng, maxLng = center.Lng-dLng, center.Lng+dLng
	// a box crossing the antimeridian cannot be one lng range
	if minLng < -180 || maxLng > 180 {
		return minLat, maxLat, -180, 180
	}
	return minLat, maxLat, minLng, maxLng
}

// CellPrecision picks the finest geohash precision whose cell around center
// is at least radiusKm wide and tall, so the cell plus its eight neighbours
// cover the whole search circle. Zero means no precision is coarse enough
// and callers must fall back to a full scan.
func CellPrecision(center types.Point, radiusKm float64) uint {
	for p := uint(9); p >= 1; p-- {
		box := geohash.BoundingBox(geohash.EncodeWithPrecision(center.Lat, center.Lng, p))
		height := DistanceKm(types.Point{Lat: box.MinLat, Lng: center.Lng}, types.Point{Lat: box.MaxLat, Lng: center.Lng})
		// narrowest width is on the edge furthest from the equator
		edgeLat := box.MaxLat
		if math.Abs(box.MinLat) > math.Abs(box.MaxLat) {
			edgeLat = box.MinLat
		}
		width := DistanceKm(types.Point{Lat: edgeLat, Lng: box.MinLng}, types.Point{Lat: edgeLat, Lng: box.MaxLng})
		if height >= radiusKm*cellMargin && width >= radiusKm*cellMargin {
			return p
		}
	}
	return 0
}

// Cell returns the geohash of p at the given precision.
func Cell(p types.Point, precision uint) string {
	return geohash.EncodeWithPrecision(p.Lat, p.Lng, precision)
}

// CoveringCells returns the cell containing center and its neighbours.
func CoveringCells(center types.Point, precision uint) []string {
	h := Cell(center, precision)
	return append([]string{h}, geohash.Neighbors(h)...)
}
