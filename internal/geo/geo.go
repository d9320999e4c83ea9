// Package geo contains pure geographic computation helpers.
package geo

import (
	"math"

	"github.com/cheez95/luckygas/internal/types"
)

const earthRadiusKm = 6371.0

func degreesToRadians(d float64) float64 { return d * math.Pi / 180 }

// HaversineKm returns the great-circle distance in kilometres between two
// points specified in decimal degrees.
func HaversineKm(a, b types.Point) float64 {
	dLat := degreesToRadians(b.Lat - a.Lat)
	dLng := degreesToRadians(b.Lng - a.Lng)

	rLat1 := degreesToRadians(a.Lat)
	rLat2 := degreesToRadians(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusKm * c
}

// Round5 rounds a point to 5 decimal places (~10 m), so near-identical
// coordinates hit the same matrix cache entry.
func Round5(p types.Point) types.Point {
	return types.Point{
		Lat: math.Round(p.Lat*1e5) / 1e5,
		Lng: math.Round(p.Lng*1e5) / 1e5,
	}
}

// DepartBucket maps day minutes onto one of 48 half-hour buckets.
func DepartBucket(m types.Minutes) int {
	b := int(m) / 30
	if b < 0 {
		return 0
	}
	if b > 47 {
		return 47
	}
	return b
}
