package solver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/cheez95/luckygas/internal/geo"
	"github.com/cheez95/luckygas/internal/maps"
	"github.com/cheez95/luckygas/internal/types"
)

// fakeRouter computes great-circle legs at 30 km/h, like the haversine
// fallback but reported as provider results.
type fakeRouter struct {
	calls int
	fail  bool
}

func (f *fakeRouter) Matrix(ctx context.Context, origins, destinations []types.Point, depart time.Time) ([][]maps.Leg, error) {
	f.calls++
	if f.fail {
		return nil, maps.ErrProviderUnavailable
	}
	legs := make([][]maps.Leg, len(origins))
	for i, o := range origins {
		legs[i] = make([]maps.Leg, len(destinations))
		for j, d := range destinations {
			km := geo.HaversineKm(o, d)
			legs[i][j] = maps.Leg{DistanceM: int(km * 1000), DurationS: int(km / 30 * 3600)}
		}
	}
	return legs, nil
}

func (f *fakeRouter) Directions(ctx context.Context, waypoints []types.Point, depart time.Time) (maps.Geometry, error) {
	return maps.Geometry{}, maps.ErrProviderUnavailable
}

var depot = types.Point{Lat: 25.000, Lng: 121.500}

func testSolver(t *testing.T, router maps.Router, allowApprox bool) *Solver {
	t.Helper()
	cache := maps.NewMatrixCache(10000, time.Hour, 30)
	return New(router, cache, Options{
		AllowApprox:     allowApprox,
		MaxWaitMinutes:  30,
		Seed:            7,
		DefaultBudgetMs: 50,
		MaxBudgetMs:     100,
		NoImproveSec:    5,
	}, zerolog.Nop())
}

func wideWindow() types.Window { return types.Window{Open: 8 * 60, Close: 18 * 60} }

func stopAt(id string, lat, lng float64, demand int) Stop {
	return Stop{
		ID:             types.ID(id),
		CustomerID:     types.ID("c-" + id),
		Location:       types.Point{Lat: lat, Lng: lng},
		Demand:         types.Load{types.Size20kg: demand},
		Window:         wideWindow(),
		ServiceMinutes: 5,
		Priority:       PriorityNormal,
	}
}

func vehicleWith(id string, cap20 int) Vehicle {
	return Vehicle{
		ID:       types.ID(id),
		Capacity: types.Load{types.Size20kg: cap20},
		Start:    depot,
		Shift:    types.Window{Open: 8 * 60, Close: 16 * 60},
	}
}

func TestSolveSingleVehicle(t *testing.T) {
	s := testSolver(t, &fakeRouter{}, false)
	out, err := s.Solve(context.Background(), Input{
		Date:  "2026-03-02",
		Depot: depot,
		Stops: []Stop{
			stopAt("o1", 25.010, 121.500, 1),
			stopAt("o2", 25.020, 121.500, 1),
			stopAt("o3", 25.030, 121.500, 1),
		},
		Vehicles: []Vehicle{vehicleWith("v1", 5)},
		BudgetMs: 50,
	})
	require.NoError(t, err)
	require.Empty(t, out.Unassigned)
	require.Len(t, out.Routes, 1)
	require.Len(t, out.Routes[0].Stops, 3)
	require.False(t, out.Fallback)
	require.False(t, out.Approximate)

	// Stops on a line from the depot come back in travel order with
	// strictly increasing arrivals.
	arr := out.Routes[0].Stops
	for i := 1; i < len(arr); i++ {
		require.Equal(t, i+1, arr[i].Seq)
		require.Greater(t, arr[i].ArrivalMinute, arr[i-1].ArrivalMinute)
	}
}

func TestSolveCapacitySplit(t *testing.T) {
	s := testSolver(t, &fakeRouter{}, false)
	out, err := s.Solve(context.Background(), Input{
		Date:  "2026-03-02",
		Depot: depot,
		Stops: []Stop{
			stopAt("o1", 25.010, 121.500, 1),
			stopAt("o2", 25.012, 121.502, 1),
			stopAt("o3", 25.014, 121.504, 1),
			stopAt("o4", 25.016, 121.506, 1),
		},
		Vehicles: []Vehicle{vehicleWith("v1", 2), vehicleWith("v2", 2)},
		BudgetMs: 50,
	})
	require.NoError(t, err)
	require.Empty(t, out.Unassigned)
	for _, r := range out.Routes {
		require.LessOrEqual(t, len(r.Stops), 2)
	}
	total := 0
	for _, r := range out.Routes {
		total += len(r.Stops)
	}
	require.Equal(t, 4, total)
}

func TestSolveUnassignedReasons(t *testing.T) {
	s := testSolver(t, &fakeRouter{}, false)

	tooHeavy := stopAt("heavy", 25.010, 121.500, 9)
	closedWindow := stopAt("closed", 25.010, 121.510, 1)
	closedWindow.Window = types.Window{Open: 60, Close: 120} // hours before any shift

	out, err := s.Solve(context.Background(), Input{
		Date:     "2026-03-02",
		Depot:    depot,
		Stops:    []Stop{tooHeavy, closedWindow},
		Vehicles: []Vehicle{vehicleWith("v1", 2)},
		BudgetMs: 50,
	})
	require.NoError(t, err)
	require.Len(t, out.Unassigned, 2)
	reasons := map[types.ID]string{}
	for _, u := range out.Unassigned {
		reasons[u.OrderID] = u.Reason
	}
	require.Equal(t, ReasonCapacityInfeasible, reasons["heavy"])
	require.Equal(t, ReasonWindowInfeasible, reasons["closed"])
}

func TestSolveNoVehicles(t *testing.T) {
	s := testSolver(t, &fakeRouter{}, false)
	out, err := s.Solve(context.Background(), Input{
		Date:  "2026-03-02",
		Depot: depot,
		Stops: []Stop{stopAt("o1", 25.010, 121.500, 1)},
	})
	require.NoError(t, err)
	require.Empty(t, out.Routes)
	require.Len(t, out.Unassigned, 1)
	require.Equal(t, ReasonNoVehicle, out.Unassigned[0].Reason)
}

func TestSolveEmptyDay(t *testing.T) {
	s := testSolver(t, &fakeRouter{}, false)
	out, err := s.Solve(context.Background(), Input{
		Date:     "2026-03-02",
		Depot:    depot,
		Vehicles: []Vehicle{vehicleWith("v1", 2)},
	})
	require.NoError(t, err)
	require.Len(t, out.Routes, 1)
	require.Empty(t, out.Routes[0].Stops)
	require.Empty(t, out.Unassigned)
}

func TestSolveAtomicWelding(t *testing.T) {
	s := testSolver(t, &fakeRouter{}, false)
	a := stopAt("a", 25.010, 121.500, 1)
	b := stopAt("b", 25.010, 121.500, 1)
	a.CustomerID, b.CustomerID = "cust", "cust"
	a.Atomic, b.Atomic = true, true

	out, err := s.Solve(context.Background(), Input{
		Date:     "2026-03-02",
		Depot:    depot,
		Stops:    []Stop{a, b},
		Vehicles: []Vehicle{vehicleWith("v1", 5)},
		BudgetMs: 50,
	})
	require.NoError(t, err)
	require.Empty(t, out.Unassigned)
	require.Len(t, out.Routes[0].Stops, 1)
	require.ElementsMatch(t, []types.ID{"a", "b"}, out.Routes[0].Stops[0].OrderIDs)
	// Welded service time covers both orders.
	require.Equal(t, 10, out.Routes[0].Stops[0].ServiceMinutes)
}

func TestSolveDeterministic(t *testing.T) {
	input := Input{
		Date:  "2026-03-02",
		Depot: depot,
		Stops: []Stop{
			stopAt("o1", 25.010, 121.500, 1),
			stopAt("o2", 25.005, 121.512, 1),
			stopAt("o3", 25.018, 121.495, 1),
			stopAt("o4", 25.002, 121.507, 1),
			stopAt("o5", 25.014, 121.520, 1),
		},
		Vehicles: []Vehicle{vehicleWith("v1", 3), vehicleWith("v2", 3)},
		BudgetMs: 50,
	}
	first, err := testSolver(t, &fakeRouter{}, false).Solve(context.Background(), input)
	require.NoError(t, err)
	second, err := testSolver(t, &fakeRouter{}, false).Solve(context.Background(), input)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestSolveProviderDownApprox(t *testing.T) {
	s := testSolver(t, &fakeRouter{fail: true}, true)
	out, err := s.Solve(context.Background(), Input{
		Date:     "2026-03-02",
		Depot:    depot,
		Stops:    []Stop{stopAt("o1", 25.010, 121.500, 1)},
		Vehicles: []Vehicle{vehicleWith("v1", 2)},
		BudgetMs: 50,
	})
	require.NoError(t, err)
	require.True(t, out.Approximate)
	require.Empty(t, out.Unassigned)
}

func TestSolveProviderDownStrict(t *testing.T) {
	s := testSolver(t, &fakeRouter{fail: true}, false)
	_, err := s.Solve(context.Background(), Input{
		Date:     "2026-03-02",
		Depot:    depot,
		Stops:    []Stop{stopAt("o1", 25.010, 121.500, 1)},
		Vehicles: []Vehicle{vehicleWith("v1", 2)},
		BudgetMs: 50,
	})
	require.ErrorIs(t, err, ErrNoMatrix)
}

func TestSolveCancelled(t *testing.T) {
	s := testSolver(t, &fakeRouter{}, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Solve(ctx, Input{
		Date:     "2026-03-02",
		Depot:    depot,
		Stops:    []Stop{stopAt("o1", 25.010, 121.500, 1)},
		Vehicles: []Vehicle{vehicleWith("v1", 2)},
		BudgetMs: 50,
	})
	require.True(t, errors.Is(err, context.Canceled))
}
