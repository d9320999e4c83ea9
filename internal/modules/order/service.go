// README: Order service implements state transitions, persistence, and
// event emission. All order mutation flows through here.
package order

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/cheez95/luckygas/internal/bus"
	"github.com/cheez95/luckygas/internal/types"
)

var (
	ErrNotFound        = errors.New("order not found")
	ErrInvalidState    = errors.New("invalid order state transition")
	ErrVersionConflict = errors.New("order version conflict")
	ErrValidation      = errors.New("invalid order")
)

type Service struct {
	repo Repository
	pub  bus.Publisher
	log  zerolog.Logger
}

func NewService(repo Repository, pub bus.Publisher, log zerolog.Logger) *Service {
	return &Service{repo: repo, pub: pub, log: log.With().Str("component", "order").Logger()}
}

type CreateCommand struct {
	CustomerID        types.ID
	Date              string
	Items             types.Load
	Priority          Priority
	Source            Source
	PredictionBatchID *string
	Atomic            bool
	// Draft leaves the order unconfirmed (prediction drafts); staff orders
	// start confirmed.
	Draft bool
}

// EventPayload is the wire payload for order.* events.
type EventPayload struct {
	OrderID    types.ID       `json:"order_id"`
	CustomerID types.ID       `json:"customer_id"`
	Date       string         `json:"date"`
	Status     Status         `json:"status"`
	RouteID    *types.ID      `json:"route_id,omitempty"`
	Items      map[string]int `json:"items,omitempty"`
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (types.ID, error) {
	if cmd.CustomerID == "" || cmd.Date == "" {
		return "", ErrValidation
	}
	if cmd.Items.IsZero() {
		return "", ErrValidation
	}
	if cmd.Priority == "" {
		cmd.Priority = PriorityNormal
	}
	if cmd.Source == "" {
		cmd.Source = SourceStaff
	}
	status := StatusConfirmed
	if cmd.Draft {
		status = StatusDraft
	}
	o := &Order{
		ID:                types.NewID(),
		CustomerID:        cmd.CustomerID,
		Date:              cmd.Date,
		Items:             cmd.Items,
		Priority:          cmd.Priority,
		Status:            status,
		Source:            cmd.Source,
		PredictionBatchID: cmd.PredictionBatchID,
		Atomic:            cmd.Atomic,
		CreatedAt:         time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, o); err != nil {
		return "", err
	}
	s.pub.Publish(bus.KindOrderCreated, EventPayload{
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		Date:       o.Date,
		Status:     o.Status,
		Items:      o.Items.ToMap(),
	}, bus.RoomOrders, bus.RoomCustomer(o.CustomerID))
	return o.ID, nil
}

func (s *Service) Confirm(ctx context.Context, id types.ID) error {
	return s.transition(ctx, id, StatusConfirmed, nil, nil)
}

func (s *Service) Cancel(ctx context.Context, id types.ID, reason string) error {
	return s.transition(ctx, id, StatusCancelled, nil, &reason)
}

func (s *Service) MarkEnRoute(ctx context.Context, id types.ID) error {
	return s.transition(ctx, id, StatusEnRoute, nil, nil)
}

func (s *Service) MarkDelivered(ctx context.Context, id types.ID) error {
	return s.transition(ctx, id, StatusDelivered, nil, nil)
}

func (s *Service) MarkFailed(ctx context.Context, id types.ID, reason string) error {
	return s.transition(ctx, id, StatusFailed, nil, &reason)
}

// Unassign moves an assigned order back to confirmed; used by the route
// cancel cascade.
func (s *Service) Unassign(ctx context.Context, id types.ID) error {
	return s.transition(ctx, id, StatusConfirmed, nil, nil)
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Order, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) ListByDateStatus(ctx context.Context, date string, statuses []Status) ([]*Order, error) {
	return s.repo.ListByDateStatus(ctx, date, statuses)
}

// HasOpenForCustomerDate reports whether the customer already has a
// non-terminal order for the date. The draft generator suppresses
// duplicates with it.
func (s *Service) HasOpenForCustomerDate(ctx context.Context, customerID types.ID, date string) (bool, error) {
	return s.repo.HasOpenForCustomerDate(ctx, customerID, date)
}

// transition validates, commits with a version check, and emits exactly one
// event for the order after commit.
func (s *Service) transition(ctx context.Context, id types.ID, to Status, routeID *types.ID, reason *string) error {
	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !CanTransition(o.Status, to) {
		return ErrInvalidState
	}
	ok, err := s.repo.UpdateStatus(ctx, o.ID, o.Status, to, o.Version, routeID, reason)
	if err != nil {
		return err
	}
	if !ok {
		return ErrVersionConflict
	}
	kind := bus.KindOrderUpdated
	if to == StatusAssigned {
		kind = bus.KindOrderAssigned
	}
	s.pub.Publish(kind, EventPayload{
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		Date:       o.Date,
		Status:     to,
		RouteID:    routeID,
	}, bus.RoomOrders, bus.RoomCustomer(o.CustomerID))
	s.log.Debug().Str("order", string(o.ID)).Str("from", string(o.Status)).Str("to", string(to)).Msg("order transition")
	return nil
}
