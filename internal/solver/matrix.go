// README: Travel matrix construction through the cache, with chunked
// provider calls on miss and haversine fallback when the provider is down.
package solver

import (
	"context"
	"time"

	"github.com/cheez95/luckygas/internal/geo"
	"github.com/cheez95/luckygas/internal/maps"
	"github.com/cheez95/luckygas/internal/types"
)

// providerChunk bounds a single matrix request to 10x10 = 100 elements.
const providerChunk = 10

// travelMatrix holds pairwise costs over the node list: index 0 is the
// depot, 1..len(stops) the stops, then any distinct vehicle start points.
type travelMatrix struct {
	points      []types.Point
	distM       [][]int
	durS        [][]int
	approximate bool
}

func (m *travelMatrix) travelMinutes(i, j int) types.Minutes {
	return types.Minutes((m.durS[i][j] + 59) / 60)
}

// buildMatrix fills the matrix from cache, fetches misses from the provider
// in chunks, and falls back to haversine approximation when allowed.
func (s *Solver) buildMatrix(ctx context.Context, points []types.Point, depart time.Time) (*travelMatrix, error) {
	n := len(points)
	m := &travelMatrix{
		points: points,
		distM:  make([][]int, n),
		durS:   make([][]int, n),
	}
	for i := range m.distM {
		m.distM[i] = make([]int, n)
		m.durS[i] = make([]int, n)
	}

	bucket := geo.DepartBucket(types.Minutes(depart.Hour()*60 + depart.Minute()))

	type pending struct{ i, j int }
	var misses []pending
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			if v, ok := s.cache.Get(points[i], points[j], bucket); ok {
				m.distM[i][j] = v.DistanceM
				m.durS[i][j] = v.DurationS
				if v.Approx {
					m.approximate = true
				}
				continue
			}
			misses = append(misses, pending{i, j})
		}
	}
	if len(misses) == 0 {
		return m, nil
	}

	// Group misses by origin row and fetch in providerChunk-sized blocks.
	rows := map[int][]int{}
	for _, p := range misses {
		rows[p.i] = append(rows[p.i], p.j)
	}
	providerDown := false
	for i, cols := range rows {
		for lo := 0; lo < len(cols); lo += providerChunk {
			hi := lo + providerChunk
			if hi > len(cols) {
				hi = len(cols)
			}
			chunk := cols[lo:hi]
			if providerDown {
				s.approximateChunk(m, points, bucket, i, chunk)
				continue
			}
			dests := make([]types.Point, len(chunk))
			for k, j := range chunk {
				dests[k] = points[j]
			}
			legs, err := s.router.Matrix(ctx, []types.Point{points[i]}, dests, depart)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				if !s.allowApprox {
					return nil, ErrNoMatrix
				}
				providerDown = true
				s.approximateChunk(m, points, bucket, i, chunk)
				continue
			}
			for k, j := range chunk {
				leg := legs[0][k]
				m.distM[i][j] = leg.DistanceM
				m.durS[i][j] = leg.DurationS
				s.cache.Put(points[i], points[j], bucket, maps.MatrixValue{
					DistanceM: leg.DistanceM,
					DurationS: leg.DurationS,
					Provider:  "google",
				})
			}
		}
	}
	return m, nil
}

func (s *Solver) approximateChunk(m *travelMatrix, points []types.Point, bucket, i int, cols []int) {
	m.approximate = true
	for _, j := range cols {
		v := s.cache.Approximate(points[i], points[j])
		m.distM[i][j] = v.DistanceM
		m.durS[i][j] = v.DurationS
		s.cache.Put(points[i], points[j], bucket, v)
	}
}
