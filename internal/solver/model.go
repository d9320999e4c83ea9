// README: VRP data model: stops, vehicles, objectives, and solver output.
package solver

import (
	"errors"

	"github.com/cheez95/luckygas/internal/types"
)

// ErrNoMatrix is returned when the routing provider is unavailable and
// approximate matrices are disabled.
var ErrNoMatrix = errors.New("no travel matrix available")

type Objective string

const (
	ObjectiveBalanced     Objective = "balanced"
	ObjectiveMinimizeTime Objective = "minimize_time"
	ObjectiveMinimizeFuel Objective = "minimize_fuel"
)

// weights returns (distance, time) arc-cost weights for the objective.
func (o Objective) weights() (float64, float64) {
	switch o {
	case ObjectiveMinimizeTime:
		return 0.1, 1.0
	case ObjectiveMinimizeFuel:
		return 1.0, 0.1
	default:
		return 0.5, 0.5
	}
}

type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityUrgent Priority = "urgent"
)

// Unassigned reason codes.
const (
	ReasonCapacityInfeasible = "capacity_infeasible"
	ReasonWindowInfeasible   = "window_infeasible"
	ReasonNoVehicle          = "no_vehicle"
	ReasonBudgetExhausted    = "budget_exhausted"
)

type Stop struct {
	ID             types.ID // order id
	CustomerID     types.ID
	Location       types.Point
	Demand         types.Load
	Window         types.Window
	ServiceMinutes int
	Priority       Priority
	// Atomic marks same-customer orders that must ride together; the solver
	// welds them into one combined stop before search.
	Atomic bool

	// orderIDs carries the original order ids after welding.
	orderIDs []types.ID
}

type Vehicle struct {
	ID       types.ID
	Capacity types.Load
	Start    types.Point
	// End defaults to Start when nil.
	End            *types.Point
	Shift          types.Window
	MaxWorkMinutes int // default 480
}

type Input struct {
	Date      string
	Depot     types.Point
	Stops     []Stop
	Vehicles  []Vehicle
	Objective Objective
	BudgetMs  int
}

// Assignment is one scheduled visit in a vehicle's tour.
type Assignment struct {
	StopID         types.ID
	OrderIDs       []types.ID
	Seq            int
	ArrivalMinute  types.Minutes
	ServiceMinutes int
}

type VehicleRoute struct {
	VehicleID types.ID
	Stops     []Assignment
	DistanceM int
	DurationS int
}

type Unassigned struct {
	OrderID types.ID
	Reason  string
}

type Output struct {
	Routes     []VehicleRoute
	Unassigned []Unassigned
	// Fallback marks a heuristic-only result (budget ran out before the
	// improvement phase could finish a pass, or the instance was infeasible).
	Fallback bool
	// Improved reports whether local search beat the construction solution.
	Improved bool
	// Approximate marks results built on haversine travel costs.
	Approximate bool
}
