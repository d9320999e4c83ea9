// README: Route assembler: turns solver output into persisted routes.
// Directions are fetched per vehicle in parallel; the commit is a single
// transaction across every route and order flip.
package route

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/twpayne/go-polyline"
	"golang.org/x/sync/errgroup"

	"github.com/cheez95/luckygas/internal/bus"
	"github.com/cheez95/luckygas/internal/maps"
	"github.com/cheez95/luckygas/internal/modules/order"
	"github.com/cheez95/luckygas/internal/types"
)

type StopPlan struct {
	OrderID        types.ID
	CustomerID     types.ID
	Location       types.Point
	ArrivalMinute  types.Minutes
	ServiceMinutes int
}

type RoutePlan struct {
	DriverID  types.ID
	Stops     []StopPlan
	DistanceM int
	DurationS int
}

type AssembleInput struct {
	Date        string
	JobID       string
	Objective   string
	Fallback    bool
	Approximate bool
	Depot       types.Point
	Plans       []RoutePlan
}

type Assembler struct {
	repo   Repository
	router maps.Router
	pub    bus.Publisher
	log    zerolog.Logger
}

func NewAssembler(repo Repository, router maps.Router, pub bus.Publisher, log zerolog.Logger) *Assembler {
	return &Assembler{repo: repo, router: router, pub: pub, log: log.With().Str("component", "assembler").Logger()}
}

// Assemble persists one route per non-empty plan and flips every planned
// order to assigned. All-or-nothing: a conflicting order aborts everything.
func (a *Assembler) Assemble(ctx context.Context, in AssembleInput) ([]types.ID, error) {
	plans := lo.Filter(in.Plans, func(p RoutePlan, _ int) bool { return len(p.Stops) > 0 })
	if len(plans) == 0 {
		return nil, nil
	}

	routes := make([]*Route, len(plans))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, plan := range plans {
		i, plan := i, plan
		g.Go(func() error {
			r, err := a.buildRoute(gctx, in, plan)
			if err != nil {
				return err
			}
			routes[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if _, err := a.repo.AssembleTx(ctx, routes); err != nil {
		return nil, err
	}

	ids := make([]types.ID, 0, len(routes))
	for _, r := range routes {
		ids = append(ids, r.ID)
		a.pub.Publish(bus.KindRouteCreated, EventPayload{
			RouteID:  r.ID,
			DriverID: r.DriverID,
			Date:     r.Date,
			Status:   r.Status,
		}, bus.RoomRoutes, bus.RoomDriver(r.DriverID))
	}
	for i, r := range routes {
		for _, st := range r.Stops {
			a.pub.Publish(bus.KindOrderAssigned, order.EventPayload{
				OrderID:    st.OrderID,
				CustomerID: plans[i].Stops[st.Position-1].CustomerID,
				Date:       r.Date,
				Status:     order.StatusAssigned,
				RouteID:    &routes[i].ID,
			}, bus.RoomOrders, bus.RoomCustomer(plans[i].Stops[st.Position-1].CustomerID))
		}
	}
	a.log.Info().Str("date", in.Date).Int("routes", len(ids)).Msg("assembly committed")
	return ids, nil
}

func (a *Assembler) buildRoute(ctx context.Context, in AssembleInput, plan RoutePlan) (*Route, error) {
	waypoints := make([]types.Point, 0, len(plan.Stops)+2)
	waypoints = append(waypoints, in.Depot)
	for _, st := range plan.Stops {
		waypoints = append(waypoints, st.Location)
	}
	waypoints = append(waypoints, in.Depot)

	method := in.Objective
	approx := in.Approximate
	distanceM, durationS := plan.DistanceM, plan.DurationS
	var encoded string
	geom, err := a.router.Directions(ctx, waypoints, time.Now())
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Provider down: keep solver costs and encode the straight-line
		// path so clients still get a drawable geometry.
		coords := make([][]float64, len(waypoints))
		for i, p := range waypoints {
			coords[i] = []float64{p.Lat, p.Lng}
		}
		encoded = string(polyline.EncodeCoords(coords))
		approx = true
	} else {
		encoded = geom.Polyline
		distanceM, durationS = geom.DistanceM, geom.DurationS
	}
	if in.Fallback {
		method += "+fallback"
	}
	if approx {
		method += "+approx"
	}

	r := &Route{
		ID:        types.NewID(),
		Date:      in.Date,
		DriverID:  plan.DriverID,
		Status:    StatusOptimized,
		DistanceM: distanceM,
		DurationS: durationS,
		Method:    method,
		Polyline:  encoded,
		JobID:     in.JobID,
		CreatedAt: time.Now().UTC(),
	}
	for i, st := range plan.Stops {
		r.Stops = append(r.Stops, Stop{
			RouteID:        r.ID,
			Position:       i + 1,
			OrderID:        st.OrderID,
			PlannedArrival: st.ArrivalMinute,
			ServiceMinutes: st.ServiceMinutes,
			Outcome:        OutcomePending,
		})
	}
	return r, nil
}
