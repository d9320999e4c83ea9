// README: Pairwise travel-cost cache. Keys round coordinates to ~10 m and
// bucket departure time into 48 half-hour slots; entries are LRU-evicted
// and TTL-bounded. Lookups never fail.
package maps

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/cheez95/luckygas/internal/geo"
	"github.com/cheez95/luckygas/internal/metrics"
	"github.com/cheez95/luckygas/internal/types"
)

type matrixKey struct {
	OLat, OLng float64
	DLat, DLng float64
	Bucket     int
}

// MatrixValue is a cached travel cost. Approx marks haversine estimates.
type MatrixValue struct {
	DistanceM int
	DurationS int
	Provider  string
	Approx    bool
}

type PointPair struct {
	Origin      types.Point
	Destination types.Point
}

type MatrixCache struct {
	lru         *expirable.LRU[matrixKey, MatrixValue]
	avgSpeedKmh float64
}

func NewMatrixCache(size int, ttl time.Duration, avgSpeedKmh float64) *MatrixCache {
	if size <= 0 {
		size = 200000
	}
	if avgSpeedKmh <= 0 {
		avgSpeedKmh = 30
	}
	return &MatrixCache{
		lru:         expirable.NewLRU[matrixKey, MatrixValue](size, nil, ttl),
		avgSpeedKmh: avgSpeedKmh,
	}
}

func (c *MatrixCache) key(origin, dest types.Point, bucket int) matrixKey {
	o, d := geo.Round5(origin), geo.Round5(dest)
	return matrixKey{OLat: o.Lat, OLng: o.Lng, DLat: d.Lat, DLng: d.Lng, Bucket: bucket}
}

func (c *MatrixCache) Get(origin, dest types.Point, bucket int) (MatrixValue, bool) {
	v, ok := c.lru.Get(c.key(origin, dest, bucket))
	if ok {
		metrics.MatrixCacheHits.Inc()
	} else {
		metrics.MatrixCacheMisses.Inc()
	}
	return v, ok
}

// GetMany returns cached values for the pairs that hit; missing pairs are
// simply absent from the result.
func (c *MatrixCache) GetMany(pairs []PointPair, bucket int) map[PointPair]MatrixValue {
	out := make(map[PointPair]MatrixValue, len(pairs))
	for _, p := range pairs {
		if v, ok := c.Get(p.Origin, p.Destination, bucket); ok {
			out[p] = v
		}
	}
	return out
}

func (c *MatrixCache) Put(origin, dest types.Point, bucket int, v MatrixValue) {
	c.lru.Add(c.key(origin, dest, bucket), v)
}

// Invalidate eagerly drops one entry, used after a provider error report.
func (c *MatrixCache) Invalidate(origin, dest types.Point, bucket int) {
	c.lru.Remove(c.key(origin, dest, bucket))
}

func (c *MatrixCache) Len() int {
	return c.lru.Len()
}

// Approximate computes a great-circle fallback at the configured average
// speed. The result is flagged so routes built on it can be marked.
func (c *MatrixCache) Approximate(origin, dest types.Point) MatrixValue {
	km := geo.HaversineKm(origin, dest)
	return MatrixValue{
		DistanceM: int(km * 1000),
		DurationS: int(km / c.avgSpeedKmh * 3600),
		Provider:  "haversine",
		Approx:    true,
	}
}
