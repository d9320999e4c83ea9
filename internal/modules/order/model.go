// README: Order aggregate and status definitions.
package order

import (
	"time"

	"github.com/cheez95/luckygas/internal/types"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusConfirmed Status = "confirmed"
	StatusAssigned  Status = "assigned"
	StatusEnRoute   Status = "en_route"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityUrgent Priority = "urgent"
)

type Source string

const (
	SourceStaff      Source = "staff"
	SourcePrediction Source = "prediction"
)

type Order struct {
	ID                types.ID
	CustomerID        types.ID
	Date              string // operating date, YYYY-MM-DD
	Items             types.Load
	Priority          Priority
	Status            Status
	Version           int
	AssignedRouteID   *types.ID
	Source            Source
	PredictionBatchID *string
	Atomic            bool
	CreatedAt         time.Time
	ConfirmedAt       *time.Time
	DeliveredAt       *time.Time
	CancelledAt       *time.Time
	CancelReason      *string
}

// AllowedTransitions represents the order state flow as code. assigned →
// confirmed covers the unassign cascade when a route is cancelled.
var AllowedTransitions = map[Status][]Status{
	StatusDraft:     {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusAssigned, StatusCancelled},
	StatusAssigned:  {StatusEnRoute, StatusConfirmed, StatusCancelled},
	StatusEnRoute:   {StatusDelivered, StatusFailed, StatusCancelled},
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
	return s == StatusDelivered || s == StatusCancelled || s == StatusFailed
}
