// README: Live driver positions in Redis. GEO set for nearby lookups plus
// a short per-driver trail ring; each update is published on the bus.
package driver

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/cheez95/luckygas/internal/bus"
	"github.com/cheez95/luckygas/internal/types"
)

const (
	geoKey      = "drivers:geo"
	trailPrefix = "drivers:trail:"
	trailLen    = 100
	trailTTL    = 24 * time.Hour
)

// Position is one location sample.
type Position struct {
	DriverID   types.ID    `json:"driver_id"`
	Location   types.Point `json:"location"`
	SpeedKmh   float64     `json:"speed_kmh,omitempty"`
	RecordedAt time.Time   `json:"recorded_at"`
}

type Presence struct {
	rdb *redis.Client
	pub bus.Publisher
	log zerolog.Logger
}

func NewPresence(rdb *redis.Client, pub bus.Publisher, log zerolog.Logger) *Presence {
	return &Presence{rdb: rdb, pub: pub, log: log.With().Str("component", "presence").Logger()}
}

// Update records a sample and publishes it to the driver's room.
func (p *Presence) Update(ctx context.Context, pos Position) error {
	if pos.RecordedAt.IsZero() {
		pos.RecordedAt = time.Now().UTC()
	}
	if err := p.rdb.GeoAdd(ctx, geoKey, &redis.GeoLocation{
		Name:      string(pos.DriverID),
		Latitude:  pos.Location.Lat,
		Longitude: pos.Location.Lng,
	}).Err(); err != nil {
		return err
	}

	raw, err := json.Marshal(pos)
	if err != nil {
		return err
	}
	trailKey := trailPrefix + string(pos.DriverID)
	pipe := p.rdb.Pipeline()
	pipe.LPush(ctx, trailKey, raw)
	pipe.LTrim(ctx, trailKey, 0, trailLen-1)
	pipe.Expire(ctx, trailKey, trailTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	p.pub.Publish(bus.KindDriverLocation, pos, bus.RoomDriver(pos.DriverID), bus.RoomRoutes)
	return nil
}

// Nearby returns driver ids within radiusKm of a point, nearest first.
func (p *Presence) Nearby(ctx context.Context, at types.Point, radiusKm float64, limit int) ([]types.ID, error) {
	locs, err := p.rdb.GeoSearchLocation(ctx, geoKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Latitude:   at.Lat,
			Longitude:  at.Lng,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
			Count:      limit,
		},
	}).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, len(locs))
	for i, l := range locs {
		ids[i] = types.ID(l.Name)
	}
	return ids, nil
}

// Trail returns up to n most recent samples for a driver, newest first.
func (p *Presence) Trail(ctx context.Context, id types.ID, n int) ([]Position, error) {
	if n <= 0 || n > trailLen {
		n = trailLen
	}
	raws, err := p.rdb.LRange(ctx, trailPrefix+string(id), 0, int64(n-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Position, 0, len(raws))
	for _, raw := range raws {
		var pos Position
		if err := json.Unmarshal([]byte(raw), &pos); err != nil {
			continue
		}
		out = append(out, pos)
	}
	return out, nil
}
