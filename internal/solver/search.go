// README: Constrained search: cheapest-insertion construction followed by
// guided local search (penalized arcs, relocate/swap/2-opt moves). The
// search is seeded and iteration-counted so equal inputs and budgets
// reproduce equal results; the wall clock is only a hard stop.
package solver

import (
	"math"
	"math/rand"
	"sort"

	"github.com/cheez95/luckygas/internal/types"
)

type instance struct {
	stops    []Stop
	vehicles []Vehicle
	m        *travelMatrix
	stopNode []int // stop index -> matrix node
	vehStart []int // vehicle index -> matrix node
	vehEnd   []int
	wd, wt   float64
	maxWait  types.Minutes
}

// arcCost is the weighted objective cost of traversing node i -> j.
func (in *instance) arcCost(i, j int) float64 {
	return in.wd*float64(in.m.distM[i][j]) + in.wt*float64(in.m.durS[i][j])
}

type solution struct {
	routes   [][]int // stop indices per vehicle, visit order
	assigned []bool
}

func newSolution(in *instance) *solution {
	return &solution{
		routes:   make([][]int, len(in.vehicles)),
		assigned: make([]bool, len(in.stops)),
	}
}

func (s *solution) clone() *solution {
	c := &solution{
		routes:   make([][]int, len(s.routes)),
		assigned: append([]bool(nil), s.assigned...),
	}
	for i, r := range s.routes {
		c.routes[i] = append([]int(nil), r...)
	}
	return c
}

func (s *solution) vehiclesUsed() int {
	n := 0
	for _, r := range s.routes {
		if len(r) > 0 {
			n++
		}
	}
	return n
}

// schedule propagates time along one vehicle's tour. Waiting up to maxWait
// is allowed before a window opens; arrivals past the close, shift overruns,
// or capacity violations make the tour infeasible.
type scheduleResult struct {
	arrivals []types.Minutes
	distM    int
	durS     int
	endMin   types.Minutes
	feasible bool
}

func (in *instance) schedule(veh int, seq []int) scheduleResult {
	v := in.vehicles[veh]
	res := scheduleResult{arrivals: make([]types.Minutes, len(seq))}

	var load types.Load
	for _, si := range seq {
		load = load.Add(in.stops[si].Demand)
	}
	if !load.Fits(v.Capacity) {
		return res
	}

	t := v.Shift.Open
	prev := in.vehStart[veh]
	for k, si := range seq {
		node := in.stopNode[si]
		res.distM += in.m.distM[prev][node]
		res.durS += in.m.durS[prev][node]
		arrive := t + in.m.travelMinutes(prev, node)
		stop := in.stops[si]
		if arrive < stop.Window.Open {
			if stop.Window.Open-arrive > in.maxWait {
				return res
			}
			arrive = stop.Window.Open
		}
		if arrive > stop.Window.Close {
			return res
		}
		res.arrivals[k] = arrive
		t = arrive + types.Minutes(stop.ServiceMinutes)
		prev = node
	}
	end := in.vehEnd[veh]
	res.distM += in.m.distM[prev][end]
	res.durS += in.m.durS[prev][end]
	res.endMin = t + in.m.travelMinutes(prev, end)
	if res.endMin > v.Shift.Close {
		return res
	}
	maxWork := v.MaxWorkMinutes
	if maxWork <= 0 {
		maxWork = 480
	}
	if int(res.endMin-v.Shift.Open) > maxWork {
		return res
	}
	res.feasible = true
	return res
}

// routeCost is the weighted objective cost of one tour, with optional arc
// penalties (guided local search augmentation).
func (in *instance) routeCost(veh int, seq []int, pen map[[2]int]int, lambda float64) float64 {
	if len(seq) == 0 {
		return 0
	}
	cost := 0.0
	prev := in.vehStart[veh]
	for _, si := range seq {
		node := in.stopNode[si]
		cost += in.arcCost(prev, node)
		if pen != nil {
			cost += lambda * float64(pen[[2]int{prev, node}])
		}
		prev = node
	}
	end := in.vehEnd[veh]
	cost += in.arcCost(prev, end)
	if pen != nil {
		cost += lambda * float64(pen[[2]int{prev, end}])
	}
	return cost
}

func (in *instance) totalCost(s *solution, pen map[[2]int]int, lambda float64) float64 {
	total := 0.0
	for v, seq := range s.routes {
		total += in.routeCost(v, seq, pen, lambda)
	}
	return total
}

func (in *instance) totalDistance(s *solution) int {
	total := 0
	for v, seq := range s.routes {
		if len(seq) == 0 {
			continue
		}
		total += in.schedule(v, seq).distM
	}
	return total
}

// better applies the tie-break order: lower total distance, then fewer
// vehicles used, then lexicographically smaller vehicle assignment.
func (in *instance) better(a, b *solution) bool {
	if b == nil {
		return true
	}
	da, db := in.totalDistance(a), in.totalDistance(b)
	if da != db {
		return da < db
	}
	if na, nb := countAssigned(a), countAssigned(b); na != nb {
		return na > nb
	}
	if va, vb := a.vehiclesUsed(), b.vehiclesUsed(); va != vb {
		return va < vb
	}
	for v := range a.routes {
		la, lb := len(a.routes[v]), len(b.routes[v])
		if la != lb {
			return la > lb
		}
	}
	return false
}

func countAssigned(s *solution) int {
	n := 0
	for _, a := range s.assigned {
		if a {
			n++
		}
	}
	return n
}

// tryInsert returns the cost delta of inserting stop si into veh at pos,
// or (0, false) when the resulting tour is infeasible.
func (in *instance) tryInsert(s *solution, veh, si, pos int) (float64, bool) {
	seq := s.routes[veh]
	cand := make([]int, 0, len(seq)+1)
	cand = append(cand, seq[:pos]...)
	cand = append(cand, si)
	cand = append(cand, seq[pos:]...)
	if !in.schedule(veh, cand).feasible {
		return 0, false
	}
	return in.routeCost(veh, cand, nil, 0) - in.routeCost(veh, seq, nil, 0), true
}

// construct builds the first solution by cheapest-arc insertion. Urgent
// stops are placed before normal ones; remaining unassigned stops keep the
// reason that best explains the failure.
func (in *instance) construct() *solution {
	s := newSolution(in)
	for _, urgentOnly := range []bool{true, false} {
		for {
			bestDelta := math.Inf(1)
			bestStop, bestVeh, bestPos := -1, -1, -1
			for si := range in.stops {
				if s.assigned[si] {
					continue
				}
				if urgentOnly != (in.stops[si].Priority == PriorityUrgent) {
					continue
				}
				for veh := range in.vehicles {
					for pos := 0; pos <= len(s.routes[veh]); pos++ {
						delta, ok := in.tryInsert(s, veh, si, pos)
						if !ok {
							continue
						}
						if delta < bestDelta {
							bestDelta, bestStop, bestVeh, bestPos = delta, si, veh, pos
						}
					}
				}
			}
			if bestStop < 0 {
				break
			}
			seq := s.routes[bestVeh]
			seq = append(seq, 0)
			copy(seq[bestPos+1:], seq[bestPos:])
			seq[bestPos] = bestStop
			s.routes[bestVeh] = seq
			s.assigned[bestStop] = true
		}
	}
	return s
}

// searchState drives the guided local search over a constructed solution.
type searchState struct {
	in     *instance
	rng    *rand.Rand
	pen    map[[2]int]int
	lambda float64
	cur    *solution
	best   *solution
}

func newSearchState(in *instance, seed int64, start *solution) *searchState {
	// Lambda scales penalties to the instance's average arc cost.
	avg, cnt := 0.0, 0
	for i := range in.m.points {
		for j := range in.m.points {
			if i != j {
				avg += in.arcCost(i, j)
				cnt++
			}
		}
	}
	if cnt > 0 {
		avg /= float64(cnt)
	}
	return &searchState{
		in:     in,
		rng:    rand.New(rand.NewSource(seed)),
		pen:    map[[2]int]int{},
		lambda: 0.2 * avg,
		cur:    start.clone(),
		best:   start.clone(),
	}
}

// step runs one improvement attempt: first-improving relocate, swap, or
// intra-route 2-opt under the penalized cost; when no move improves, the
// highest-utility arcs of the current solution are penalized. Returns
// whether the incumbent best advanced.
func (st *searchState) step() bool {
	in := st.in
	if st.tryInsertUnassigned() || st.relocate() || st.swap() || st.twoOpt() {
		if countAssigned(st.cur) > countAssigned(st.best) ||
			(countAssigned(st.cur) == countAssigned(st.best) && in.better(st.cur, st.best)) {
			st.best = st.cur.clone()
			return true
		}
		return false
	}
	st.penalize()
	return false
}

// tryInsertUnassigned attempts to place any still-unassigned stop.
func (st *searchState) tryInsertUnassigned() bool {
	in := st.in
	for si := range in.stops {
		if st.cur.assigned[si] {
			continue
		}
		for veh := range in.vehicles {
			for pos := 0; pos <= len(st.cur.routes[veh]); pos++ {
				if _, ok := in.tryInsert(st.cur, veh, si, pos); ok {
					seq := st.cur.routes[veh]
					seq = append(seq, 0)
					copy(seq[pos+1:], seq[pos:])
					seq[pos] = si
					st.cur.routes[veh] = seq
					st.cur.assigned[si] = true
					return true
				}
			}
		}
	}
	return false
}

func (st *searchState) relocate() bool {
	in := st.in
	base := in.totalCost(st.cur, st.pen, st.lambda)
	for a := range st.cur.routes {
		for p := 0; p < len(st.cur.routes[a]); p++ {
			si := st.cur.routes[a][p]
			removed := append(append([]int(nil), st.cur.routes[a][:p]...), st.cur.routes[a][p+1:]...)
			if len(removed) > 0 && !in.schedule(a, removed).feasible {
				continue
			}
			for b := range st.cur.routes {
				target := st.cur.routes[b]
				if b == a {
					target = removed
				}
				for q := 0; q <= len(target); q++ {
					if b == a && q == p {
						continue
					}
					cand := make([]int, 0, len(target)+1)
					cand = append(cand, target[:q]...)
					cand = append(cand, si)
					cand = append(cand, target[q:]...)
					if !in.schedule(b, cand).feasible {
						continue
					}
					next := st.cur.clone()
					next.routes[a] = removed
					next.routes[b] = cand
					if in.totalCost(next, st.pen, st.lambda) < base-1e-9 {
						st.cur = next
						return true
					}
				}
			}
		}
	}
	return false
}

func (st *searchState) swap() bool {
	in := st.in
	base := in.totalCost(st.cur, st.pen, st.lambda)
	for a := range st.cur.routes {
		for p := range st.cur.routes[a] {
			for b := a; b < len(st.cur.routes); b++ {
				qStart := 0
				if b == a {
					qStart = p + 1
				}
				for q := qStart; q < len(st.cur.routes[b]); q++ {
					next := st.cur.clone()
					next.routes[a][p], next.routes[b][q] = next.routes[b][q], next.routes[a][p]
					if !in.schedule(a, next.routes[a]).feasible || !in.schedule(b, next.routes[b]).feasible {
						continue
					}
					if in.totalCost(next, st.pen, st.lambda) < base-1e-9 {
						st.cur = next
						return true
					}
				}
			}
		}
	}
	return false
}

func (st *searchState) twoOpt() bool {
	in := st.in
	base := in.totalCost(st.cur, st.pen, st.lambda)
	for v := range st.cur.routes {
		seq := st.cur.routes[v]
		for i := 0; i < len(seq)-1; i++ {
			for j := i + 1; j < len(seq); j++ {
				next := st.cur.clone()
				r := next.routes[v]
				for lo, hi := i, j; lo < hi; lo, hi = lo+1, hi-1 {
					r[lo], r[hi] = r[hi], r[lo]
				}
				if !in.schedule(v, r).feasible {
					continue
				}
				if in.totalCost(next, st.pen, st.lambda) < base-1e-9 {
					st.cur = next
					return true
				}
			}
		}
	}
	return false
}

// penalize bumps the penalty of the arcs with maximal utility
// cost/(1+penalty), the guided-local-search escape from local optima.
func (st *searchState) penalize() {
	in := st.in
	type arc struct {
		key  [2]int
		util float64
	}
	var arcs []arc
	for v, seq := range st.cur.routes {
		prev := in.vehStart[v]
		nodes := make([]int, 0, len(seq)+1)
		for _, si := range seq {
			nodes = append(nodes, in.stopNode[si])
		}
		nodes = append(nodes, in.vehEnd[v])
		for _, node := range nodes {
			key := [2]int{prev, node}
			arcs = append(arcs, arc{key, in.arcCost(prev, node) / float64(1+st.pen[key])})
			prev = node
		}
	}
	if len(arcs) == 0 {
		return
	}
	sort.Slice(arcs, func(i, j int) bool {
		if arcs[i].util != arcs[j].util {
			return arcs[i].util > arcs[j].util
		}
		return arcs[i].key[0]*len(in.m.points)+arcs[i].key[1] < arcs[j].key[0]*len(in.m.points)+arcs[j].key[1]
	})
	maxUtil := arcs[0].util
	for _, a := range arcs {
		if a.util < maxUtil-1e-9 {
			break
		}
		st.pen[a.key]++
	}
}
