// README: Solve orchestration: weld atomic stops, build the matrix, screen
// statically infeasible stops, construct, improve under the budget, and
// classify whatever remains unassigned.
package solver

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/cheez95/luckygas/internal/maps"
	"github.com/cheez95/luckygas/internal/types"
)

// itersPerMs converts the wall-clock budget into a deterministic iteration
// budget so equal inputs reproduce equal outputs.
const itersPerMs = 20

type Solver struct {
	router      maps.Router
	cache       *maps.MatrixCache
	allowApprox bool
	maxWait     types.Minutes
	seed        int64

	defaultBudgetMs int
	maxBudgetMs     int
	noImproveSec    int

	log zerolog.Logger
}

type Options struct {
	AllowApprox     bool
	MaxWaitMinutes  int
	Seed            int64
	DefaultBudgetMs int
	MaxBudgetMs     int
	NoImproveSec    int
}

func New(router maps.Router, cache *maps.MatrixCache, opts Options, log zerolog.Logger) *Solver {
	if opts.MaxWaitMinutes <= 0 {
		opts.MaxWaitMinutes = 30
	}
	if opts.DefaultBudgetMs <= 0 {
		opts.DefaultBudgetMs = 30000
	}
	if opts.MaxBudgetMs <= 0 {
		opts.MaxBudgetMs = 120000
	}
	if opts.NoImproveSec <= 0 {
		opts.NoImproveSec = 5
	}
	return &Solver{
		router:          router,
		cache:           cache,
		allowApprox:     opts.AllowApprox,
		maxWait:         types.Minutes(opts.MaxWaitMinutes),
		seed:            opts.Seed,
		defaultBudgetMs: opts.DefaultBudgetMs,
		maxBudgetMs:     opts.MaxBudgetMs,
		noImproveSec:    opts.NoImproveSec,
		log:             log.With().Str("component", "solver").Logger(),
	}
}

// Solve assigns stops to vehicles and sequences them under the budget.
func (s *Solver) Solve(ctx context.Context, input Input) (Output, error) {
	out := Output{}
	if len(input.Vehicles) == 0 {
		for _, st := range input.Stops {
			out.Unassigned = append(out.Unassigned, Unassigned{OrderID: st.ID, Reason: ReasonNoVehicle})
		}
		return out, nil
	}
	for i := range input.Vehicles {
		out.Routes = append(out.Routes, VehicleRoute{VehicleID: input.Vehicles[i].ID})
	}
	if len(input.Stops) == 0 {
		return out, nil
	}

	stops := weldAtomic(input.Stops)
	in, err := s.buildInstance(ctx, input, stops)
	if err != nil {
		return Output{}, err
	}
	out.Approximate = in.m.approximate

	budget := input.BudgetMs
	if budget <= 0 {
		budget = s.defaultBudgetMs
	}
	if budget > s.maxBudgetMs {
		budget = s.maxBudgetMs
	}
	deadline := time.Now().Add(time.Duration(budget) * time.Millisecond)

	// Static screens: stops no vehicle could ever serve.
	screened := map[int]string{}
	for si := range in.stops {
		if reason, bad := in.staticallyInfeasible(si); bad {
			screened[si] = reason
		}
	}

	initial := in.construct()
	constructedFull := true
	for si := range in.stops {
		if !initial.assigned[si] && screened[si] == "" {
			constructedFull = false
		}
	}

	st := newSearchState(in, s.seed, initial)
	maxIters := budget * itersPerMs
	noImproveIters := s.noImproveSec * 1000 * itersPerMs
	sinceImprove := 0
	cancelled := false
	// Cancellation and the deadline are checked before every pass, not on
	// an iteration stride: one pass over a large instance can run long, so
	// a counted stride could overshoot the checkpoint bound.
	for iter := 0; iter < maxIters && sinceImprove < noImproveIters; iter++ {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		if time.Now().After(deadline) {
			break
		}
		if st.step() {
			sinceImprove = 0
			out.Improved = true
		} else {
			sinceImprove++
		}
	}
	if cancelled {
		return Output{}, ctx.Err()
	}

	best := st.best
	if in.better(initial, best) {
		best, out.Improved = initial, false
	}

	for v, seq := range best.routes {
		sched := in.schedule(v, seq)
		route := &out.Routes[v]
		route.DistanceM = sched.distM
		route.DurationS = sched.durS
		for k, si := range seq {
			route.Stops = append(route.Stops, Assignment{
				StopID:         in.stops[si].ID,
				OrderIDs:       in.stops[si].orderIDs,
				Seq:            k + 1,
				ArrivalMinute:  sched.arrivals[k],
				ServiceMinutes: in.stops[si].ServiceMinutes,
			})
		}
	}

	for si := range in.stops {
		if best.assigned[si] {
			continue
		}
		reason := screened[si]
		if reason == "" {
			reason = in.classifyUnassigned(best, si)
		}
		if reason == ReasonBudgetExhausted && !constructedFull {
			out.Fallback = true
		}
		for _, id := range in.stops[si].orderIDs {
			out.Unassigned = append(out.Unassigned, Unassigned{OrderID: id, Reason: reason})
		}
	}
	sort.Slice(out.Unassigned, func(i, j int) bool { return out.Unassigned[i].OrderID < out.Unassigned[j].OrderID })

	s.log.Info().
		Str("date", input.Date).
		Int("stops", len(in.stops)).
		Int("vehicles", len(in.vehicles)).
		Int("unassigned", len(out.Unassigned)).
		Bool("fallback", out.Fallback).
		Bool("approximate", out.Approximate).
		Msg("solve finished")
	return out, nil
}

func (s *Solver) buildInstance(ctx context.Context, input Input, stops []Stop) (*instance, error) {
	points := []types.Point{input.Depot}
	stopNode := make([]int, len(stops))
	for i, st := range stops {
		stopNode[i] = len(points)
		points = append(points, st.Location)
	}
	nodeOf := func(p types.Point) int {
		if p == (types.Point{}) || p == input.Depot {
			return 0
		}
		for i, q := range points {
			if q == p {
				return i
			}
		}
		points = append(points, p)
		return len(points) - 1
	}
	vehStart := make([]int, len(input.Vehicles))
	vehEnd := make([]int, len(input.Vehicles))
	for i, v := range input.Vehicles {
		vehStart[i] = nodeOf(v.Start)
		if v.End != nil {
			vehEnd[i] = nodeOf(*v.End)
		} else {
			vehEnd[i] = vehStart[i]
		}
	}

	depart := time.Now()
	m, err := s.buildMatrix(ctx, points, depart)
	if err != nil {
		return nil, fmt.Errorf("build matrix: %w", err)
	}

	wd, wt := input.Objective.weights()
	return &instance{
		stops:    stops,
		vehicles: input.Vehicles,
		m:        m,
		stopNode: stopNode,
		vehStart: vehStart,
		vehEnd:   vehEnd,
		wd:       wd,
		wt:       wt,
		maxWait:  s.maxWait,
	}, nil
}

// staticallyInfeasible reports stops no vehicle can serve even on an
// otherwise empty tour.
func (in *instance) staticallyInfeasible(si int) (string, bool) {
	capOK := false
	for _, v := range in.vehicles {
		if in.stops[si].Demand.Fits(v.Capacity) {
			capOK = true
			break
		}
	}
	if !capOK {
		return ReasonCapacityInfeasible, true
	}
	for veh := range in.vehicles {
		empty := &solution{routes: make([][]int, len(in.vehicles))}
		if _, ok := in.tryInsert(empty, veh, si, 0); ok {
			return "", false
		}
	}
	return ReasonWindowInfeasible, true
}

// classifyUnassigned explains why a stop ended outside every route: no
// remaining capacity anywhere, no reachable window slot, or the search
// simply ran out of budget before placing it.
func (in *instance) classifyUnassigned(s *solution, si int) string {
	demand := in.stops[si].Demand
	capOK := false
	for veh, seq := range s.routes {
		load := demand
		for _, other := range seq {
			load = load.Add(in.stops[other].Demand)
		}
		if load.Fits(in.vehicles[veh].Capacity) {
			capOK = true
			break
		}
	}
	if !capOK {
		return ReasonCapacityInfeasible
	}
	for veh := range s.routes {
		for pos := 0; pos <= len(s.routes[veh]); pos++ {
			if _, ok := in.tryInsert(s, veh, si, pos); ok {
				return ReasonBudgetExhausted
			}
		}
	}
	return ReasonWindowInfeasible
}

// weldAtomic combines same-customer atomic orders into one stop with summed
// demand, summed service, and the union of windows.
func weldAtomic(stops []Stop) []Stop {
	out := make([]Stop, 0, len(stops))
	welded := map[types.ID]int{}
	for _, st := range stops {
		st.orderIDs = []types.ID{st.ID}
		if !st.Atomic {
			out = append(out, st)
			continue
		}
		if idx, ok := welded[st.CustomerID]; ok {
			w := &out[idx]
			w.Demand = w.Demand.Add(st.Demand)
			w.ServiceMinutes += st.ServiceMinutes
			w.Window = w.Window.Union(st.Window)
			w.orderIDs = append(w.orderIDs, st.ID)
			if st.Priority == PriorityUrgent {
				w.Priority = PriorityUrgent
			}
			continue
		}
		welded[st.CustomerID] = len(out)
		out = append(out, st)
	}
	// Stable stop order keeps the search deterministic across map iteration.
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	for i := range out {
		out[i].orderIDs = lo.Uniq(out[i].orderIDs)
	}
	return out
}
