// README: Route service: lifecycle transitions, stop outcomes, the cancel
// cascade back onto orders, and event emission.
package route

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cheez95/luckygas/internal/bus"
	"github.com/cheez95/luckygas/internal/modules/order"
	"github.com/cheez95/luckygas/internal/types"
)

var (
	ErrNotFound        = errors.New("route not found")
	ErrInvalidState    = errors.New("invalid route state transition")
	ErrVersionConflict = errors.New("route version conflict")
	ErrConflict        = errors.New("order state conflict")
)

// ConflictError names the orders that blocked an assembly.
type ConflictError struct {
	OrderIDs []types.ID
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("orders not assignable: %v", e.OrderIDs)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

type Service struct {
	repo   Repository
	orders *order.Service
	pub    bus.Publisher
	log    zerolog.Logger
}

func NewService(repo Repository, orders *order.Service, pub bus.Publisher, log zerolog.Logger) *Service {
	return &Service{repo: repo, orders: orders, pub: pub, log: log.With().Str("component", "route").Logger()}
}

// EventPayload is the wire payload for route.* events.
type EventPayload struct {
	RouteID  types.ID `json:"route_id"`
	DriverID types.ID `json:"driver_id"`
	Date     string   `json:"date"`
	Status   Status   `json:"status"`
	Position int      `json:"position,omitempty"`
	Outcome  Outcome  `json:"outcome,omitempty"`
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Route, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) ListByDate(ctx context.Context, date string) ([]*Route, error) {
	return s.repo.ListByDate(ctx, date)
}

func (s *Service) Dispatch(ctx context.Context, id types.ID) error {
	return s.transition(ctx, id, StatusDispatched)
}

func (s *Service) Complete(ctx context.Context, id types.ID) error {
	r, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	for _, st := range r.Stops {
		if !st.Outcome.Terminal() {
			return fmt.Errorf("%w: stop %d not terminal", ErrInvalidState, st.Position)
		}
	}
	return s.transition(ctx, id, StatusCompleted)
}

// Cancel cancels the route and moves every order assigned via it back to
// confirmed.
func (s *Service) Cancel(ctx context.Context, id types.ID) error {
	r, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.transition(ctx, id, StatusCancelled); err != nil {
		return err
	}
	for _, st := range r.Stops {
		o, err := s.orders.Get(ctx, st.OrderID)
		if err != nil {
			s.log.Warn().Err(err).Str("order", string(st.OrderID)).Msg("cancel cascade: load order")
			continue
		}
		if o.Status != order.StatusAssigned || o.AssignedRouteID == nil || *o.AssignedRouteID != id {
			continue
		}
		if err := s.orders.Unassign(ctx, st.OrderID); err != nil {
			s.log.Warn().Err(err).Str("order", string(st.OrderID)).Msg("cancel cascade: unassign")
		}
	}
	return nil
}

// RecordStopOutcome sets a stop's outcome, drives the first in_progress
// transition, and mirrors the outcome onto the stop's order.
func (s *Service) RecordStopOutcome(ctx context.Context, routeID types.ID, position int, outcome Outcome) error {
	r, err := s.repo.Get(ctx, routeID)
	if err != nil {
		return err
	}
	if position < 1 || position > len(r.Stops) {
		return fmt.Errorf("%w: position %d", ErrNotFound, position)
	}
	ok, err := s.repo.UpdateStopOutcome(ctx, routeID, position, outcome, time.Now().UTC())
	if err != nil {
		return err
	}
	if !ok {
		return ErrVersionConflict
	}

	// First non-pending outcome moves a dispatched route in progress.
	if r.Status == StatusDispatched {
		if err := s.transition(ctx, routeID, StatusInProgress); err != nil && !errors.Is(err, ErrVersionConflict) {
			return err
		}
	}

	orderID := r.Stops[position-1].OrderID
	switch outcome {
	case OutcomeArrived:
		err = s.orders.MarkEnRoute(ctx, orderID)
	case OutcomeDelivered:
		err = s.orders.MarkDelivered(ctx, orderID)
	case OutcomeFailed:
		err = s.orders.MarkFailed(ctx, orderID, "delivery failed")
	case OutcomeSkipped:
		// Skipped stops free the order for a later plan.
		err = s.orders.Unassign(ctx, orderID)
	}
	if err != nil && !errors.Is(err, order.ErrInvalidState) {
		return err
	}

	s.pub.Publish(bus.KindRouteProgress, EventPayload{
		RouteID:  routeID,
		DriverID: r.DriverID,
		Date:     r.Date,
		Status:   r.Status,
		Position: position,
		Outcome:  outcome,
	}, bus.RoomRoutes, bus.RoomDriver(r.DriverID))
	return nil
}

func (s *Service) transition(ctx context.Context, id types.ID, to Status) error {
	r, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !CanTransition(r.Status, to) {
		return ErrInvalidState
	}
	ok, err := s.repo.UpdateStatus(ctx, id, r.Status, to, r.Version)
	if err != nil {
		return err
	}
	if !ok {
		return ErrVersionConflict
	}
	s.pub.Publish(bus.KindRouteUpdated, EventPayload{
		RouteID:  r.ID,
		DriverID: r.DriverID,
		Date:     r.Date,
		Status:   to,
	}, bus.RoomRoutes, bus.RoomDriver(r.DriverID))
	s.log.Debug().Str("route", string(id)).Str("from", string(r.Status)).Str("to", string(to)).Msg("route transition")
	return nil
}
