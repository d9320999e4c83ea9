// README: Routing provider client (Google Maps) with per-call timeouts,
// one retry, and a circuit breaker shared by matrix and directions calls.
package maps

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	gmaps "googlemaps.github.io/maps"

	"github.com/cheez95/luckygas/internal/types"
)

// ErrProviderUnavailable covers provider errors and an open circuit.
var ErrProviderUnavailable = errors.New("routing provider unavailable")

// Leg is a single origin→destination travel cost.
type Leg struct {
	DistanceM int
	DurationS int
}

// Geometry is the turn-by-turn result for an ordered waypoint sequence.
type Geometry struct {
	DistanceM int
	DurationS int
	Polyline  string
}

// Router is the slice of the external routing provider the core consumes.
type Router interface {
	Matrix(ctx context.Context, origins, destinations []types.Point, depart time.Time) ([][]Leg, error)
	Directions(ctx context.Context, waypoints []types.Point, depart time.Time) (Geometry, error)
}

type GoogleRouter struct {
	client            *gmaps.Client
	breaker           *gobreaker.CircuitBreaker
	matrixTimeout     time.Duration
	directionsTimeout time.Duration
	log               zerolog.Logger
}

func NewGoogleRouter(apiKey string, matrixTimeout, directionsTimeout time.Duration, log zerolog.Logger) (*GoogleRouter, error) {
	client, err := gmaps.NewClient(gmaps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create maps client: %w", err)
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "routing-provider",
		Interval: 30 * time.Second,
		Timeout:  60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &GoogleRouter{
		client:            client,
		breaker:           breaker,
		matrixTimeout:     matrixTimeout,
		directionsTimeout: directionsTimeout,
		log:               log.With().Str("component", "router").Logger(),
	}, nil
}

func (g *GoogleRouter) Matrix(ctx context.Context, origins, destinations []types.Point, depart time.Time) ([][]Leg, error) {
	var legs [][]Leg
	err := g.call(ctx, g.matrixTimeout, func(ctx context.Context) error {
		resp, err := g.client.DistanceMatrix(ctx, &gmaps.DistanceMatrixRequest{
			Origins:       formatPoints(origins),
			Destinations:  formatPoints(destinations),
			Mode:          gmaps.TravelModeDriving,
			DepartureTime: fmt.Sprintf("%d", depart.Unix()),
		})
		if err != nil {
			return err
		}
		if len(resp.Rows) != len(origins) {
			return fmt.Errorf("matrix rows %d != origins %d", len(resp.Rows), len(origins))
		}
		legs = make([][]Leg, len(resp.Rows))
		for i, row := range resp.Rows {
			legs[i] = make([]Leg, len(row.Elements))
			for j, el := range row.Elements {
				if el.Status != "OK" {
					return fmt.Errorf("matrix element %d,%d status %s", i, j, el.Status)
				}
				legs[i][j] = Leg{
					DistanceM: el.Distance.Meters,
					DurationS: int(el.Duration / time.Second),
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return legs, nil
}

func (g *GoogleRouter) Directions(ctx context.Context, waypoints []types.Point, depart time.Time) (Geometry, error) {
	if len(waypoints) < 2 {
		return Geometry{}, fmt.Errorf("directions need at least 2 waypoints, got %d", len(waypoints))
	}
	var geom Geometry
	err := g.call(ctx, g.directionsTimeout, func(ctx context.Context) error {
		req := &gmaps.DirectionsRequest{
			Origin:        formatPoint(waypoints[0]),
			Destination:   formatPoint(waypoints[len(waypoints)-1]),
			Mode:          gmaps.TravelModeDriving,
			DepartureTime: fmt.Sprintf("%d", depart.Unix()),
		}
		if len(waypoints) > 2 {
			req.Waypoints = formatPoints(waypoints[1 : len(waypoints)-1])
		}
		routes, _, err := g.client.Directions(ctx, req)
		if err != nil {
			return err
		}
		if len(routes) == 0 {
			return fmt.Errorf("no route found")
		}
		geom = Geometry{Polyline: routes[0].OverviewPolyline.Points}
		for _, leg := range routes[0].Legs {
			geom.DistanceM += leg.Distance.Meters
			geom.DurationS += int(leg.Duration / time.Second)
		}
		return nil
	})
	if err != nil {
		return Geometry{}, err
	}
	return geom, nil
}

// call runs fn through the breaker with a per-call timeout and one retry.
func (g *GoogleRouter) call(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	_, err := g.breaker.Execute(func() (any, error) {
		return nil, retry.Do(
			func() error {
				if err := ctx.Err(); err != nil {
					return retry.Unrecoverable(err)
				}
				callCtx, cancel := context.WithTimeout(ctx, timeout)
				defer cancel()
				return fn(callCtx)
			},
			retry.Attempts(2),
			retry.Delay(200*time.Millisecond),
			retry.LastErrorOnly(true),
		)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		g.log.Warn().Err(err).Msg("provider call failed")
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return nil
}

func formatPoint(p types.Point) string {
	return fmt.Sprintf("%f,%f", p.Lat, p.Lng)
}

func formatPoints(pts []types.Point) []string {
	out := make([]string, len(pts))
	for i, p := range pts {
		out[i] = formatPoint(p)
	}
	return out
}
