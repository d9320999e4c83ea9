// README: Route and stop aggregates with status definitions.
package route

import (
	"time"

	"github.com/cheez95/luckygas/internal/types"
)

type Status string

const (
	StatusDraft      Status = "draft"
	StatusOptimized  Status = "optimized"
	StatusDispatched Status = "dispatched"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeArrived   Outcome = "arrived"
	OutcomeDelivered Outcome = "delivered"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

func (o Outcome) Terminal() bool {
	return o == OutcomeDelivered || o == OutcomeSkipped || o == OutcomeFailed
}

type Stop struct {
	RouteID        types.ID
	Position       int // 1..N, contiguous
	OrderID        types.ID
	PlannedArrival types.Minutes
	ServiceMinutes int
	ActualArrival  *time.Time
	ActualDepart   *time.Time
	Outcome        Outcome
}

type Route struct {
	ID        types.ID
	Date      string
	DriverID  types.ID
	Status    Status
	Version   int
	Stops     []Stop
	DistanceM int
	DurationS int
	// Method records how the route was produced, e.g. "balanced",
	// "balanced+fallback", "minimize_time+approx".
	Method   string
	Polyline string
	JobID    string
	CreatedAt time.Time
}

var AllowedTransitions = map[Status][]Status{
	StatusDraft:      {StatusOptimized, StatusCancelled},
	StatusOptimized:  {StatusDispatched, StatusCancelled},
	StatusDispatched: {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}
