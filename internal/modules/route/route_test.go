package route

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/cheez95/luckygas/internal/bus"
	"github.com/cheez95/luckygas/internal/modules/order"
	"github.com/cheez95/luckygas/internal/types"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusDraft, StatusOptimized, true},
		{StatusOptimized, StatusDispatched, true},
		{StatusDispatched, StatusInProgress, true},
		{StatusInProgress, StatusCompleted, true},
		{StatusDraft, StatusCancelled, true},
		{StatusOptimized, StatusCancelled, true},
		{StatusDispatched, StatusCancelled, true},
		{StatusInProgress, StatusCancelled, false},
		{StatusOptimized, StatusInProgress, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusOptimized, false},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

// memRouteRepo is an in-memory Repository mirroring the pgx store's
// version-check semantics.
type memRouteRepo struct {
	mu     sync.Mutex
	routes map[types.ID]*Route
}

func newMemRouteRepo() *memRouteRepo {
	return &memRouteRepo{routes: make(map[types.ID]*Route)}
}

func (r *memRouteRepo) put(rt *Route) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[rt.ID] = rt
}

func (r *memRouteRepo) Get(_ context.Context, id types.ID) (*Route, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.routes[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rt
	cp.Stops = append([]Stop(nil), rt.Stops...)
	return &cp, nil
}

func (r *memRouteRepo) ListByDate(_ context.Context, date string) ([]*Route, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Route
	for _, rt := range r.routes {
		if rt.Date == date {
			cp := *rt
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memRouteRepo) UpdateStatus(_ context.Context, id types.ID, from, to Status, version int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.routes[id]
	if !ok || rt.Status != from || rt.Version != version {
		return false, nil
	}
	rt.Status = to
	rt.Version++
	return true, nil
}

func (r *memRouteRepo) UpdateStopOutcome(_ context.Context, routeID types.ID, position int, outcome Outcome, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.routes[routeID]
	if !ok || position < 1 || position > len(rt.Stops) {
		return false, nil
	}
	st := &rt.Stops[position-1]
	st.Outcome = outcome
	if outcome == OutcomeArrived {
		st.ActualArrival = &at
	} else {
		st.ActualDepart = &at
	}
	return true, nil
}

func (r *memRouteRepo) AssembleTx(_ context.Context, routes []*Route) ([]types.ID, error) {
	for _, rt := range routes {
		r.put(rt)
	}
	return nil, nil
}

func (r *memRouteRepo) OrdersOf(_ context.Context, routeID types.ID) (map[int]types.ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[int]types.ID{}
	if rt, ok := r.routes[routeID]; ok {
		for _, st := range rt.Stops {
			out[st.Position] = st.OrderID
		}
	}
	return out, nil
}

// memOrderRepo backs the order service the route service cascades into.
type memOrderRepo struct {
	mu     sync.Mutex
	orders map[types.ID]*order.Order
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{orders: make(map[types.ID]*order.Order)}
}

func (r *memOrderRepo) Create(_ context.Context, o *order.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *o
	r.orders[o.ID] = &cp
	return nil
}

func (r *memOrderRepo) Get(_ context.Context, id types.ID) (*order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *memOrderRepo) UpdateStatus(_ context.Context, id types.ID, from, to order.Status, version int, routeID *types.ID, reason *string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok || o.Status != from || o.Version != version {
		return false, nil
	}
	o.Status = to
	o.Version++
	switch to {
	case order.StatusAssigned:
		o.AssignedRouteID = routeID
	case order.StatusConfirmed:
		o.AssignedRouteID = nil
	}
	return true, nil
}

func (r *memOrderRepo) ListByDateStatus(_ context.Context, date string, statuses []order.Status) ([]*order.Order, error) {
	return nil, nil
}

func (r *memOrderRepo) HasOpenForCustomerDate(_ context.Context, _ types.ID, _ string) (bool, error) {
	return false, nil
}

func fixtureRoute(repo *memRouteRepo, orders *memOrderRepo, status Status) *Route {
	rt := &Route{
		ID:       "route-1",
		Date:     "2026-03-02",
		DriverID: "driver-1",
		Status:   status,
		Stops: []Stop{
			{RouteID: "route-1", Position: 1, OrderID: "order-1", PlannedArrival: 510, Outcome: OutcomePending},
			{RouteID: "route-1", Position: 2, OrderID: "order-2", PlannedArrival: 540, Outcome: OutcomePending},
		},
		CreatedAt: time.Now().UTC(),
	}
	repo.put(rt)
	routeID := rt.ID
	for _, st := range rt.Stops {
		orders.orders[st.OrderID] = &order.Order{
			ID:              st.OrderID,
			CustomerID:      types.ID("cust-" + string(st.OrderID)),
			Date:            rt.Date,
			Items:           types.Load{types.Size20kg: 1},
			Status:          order.StatusAssigned,
			AssignedRouteID: &routeID,
		}
	}
	return rt
}

func testRouteService() (*Service, *memRouteRepo, *memOrderRepo) {
	routeRepo := newMemRouteRepo()
	orderRepo := newMemOrderRepo()
	orderSvc := order.NewService(orderRepo, bus.NopPublisher{}, zerolog.Nop())
	svc := NewService(routeRepo, orderSvc, bus.NopPublisher{}, zerolog.Nop())
	return svc, routeRepo, orderRepo
}

func TestDispatch(t *testing.T) {
	svc, repo, orders := testRouteService()
	fixtureRoute(repo, orders, StatusOptimized)

	require.NoError(t, svc.Dispatch(context.Background(), "route-1"))
	rt, _ := repo.Get(context.Background(), "route-1")
	require.Equal(t, StatusDispatched, rt.Status)

	// Dispatching twice is an invalid transition.
	require.ErrorIs(t, svc.Dispatch(context.Background(), "route-1"), ErrInvalidState)
}

func TestCancelCascadesToOrders(t *testing.T) {
	svc, repo, orders := testRouteService()
	fixtureRoute(repo, orders, StatusOptimized)

	require.NoError(t, svc.Cancel(context.Background(), "route-1"))

	rt, _ := repo.Get(context.Background(), "route-1")
	require.Equal(t, StatusCancelled, rt.Status)
	for _, id := range []types.ID{"order-1", "order-2"} {
		o, err := orders.Get(context.Background(), id)
		require.NoError(t, err)
		require.Equal(t, order.StatusConfirmed, o.Status)
		require.Nil(t, o.AssignedRouteID)
	}
}

func TestCancelLeavesForeignOrdersAlone(t *testing.T) {
	svc, repo, orders := testRouteService()
	fixtureRoute(repo, orders, StatusOptimized)

	// order-2 was meanwhile reassigned to another route.
	other := types.ID("route-other")
	orders.mu.Lock()
	orders.orders["order-2"].AssignedRouteID = &other
	orders.mu.Unlock()

	require.NoError(t, svc.Cancel(context.Background(), "route-1"))

	o, _ := orders.Get(context.Background(), "order-2")
	require.Equal(t, order.StatusAssigned, o.Status)
	require.Equal(t, &other, o.AssignedRouteID)
}

func TestFirstOutcomeStartsRoute(t *testing.T) {
	svc, repo, orders := testRouteService()
	fixtureRoute(repo, orders, StatusDispatched)
	ctx := context.Background()

	require.NoError(t, svc.RecordStopOutcome(ctx, "route-1", 1, OutcomeArrived))

	rt, _ := repo.Get(ctx, "route-1")
	require.Equal(t, StatusInProgress, rt.Status)
	require.Equal(t, OutcomeArrived, rt.Stops[0].Outcome)

	o, _ := orders.Get(ctx, "order-1")
	require.Equal(t, order.StatusEnRoute, o.Status)

	require.NoError(t, svc.RecordStopOutcome(ctx, "route-1", 1, OutcomeDelivered))
	o, _ = orders.Get(ctx, "order-1")
	require.Equal(t, order.StatusDelivered, o.Status)
}

func TestSkippedStopFreesOrder(t *testing.T) {
	svc, repo, orders := testRouteService()
	fixtureRoute(repo, orders, StatusDispatched)
	ctx := context.Background()

	require.NoError(t, svc.RecordStopOutcome(ctx, "route-1", 2, OutcomeSkipped))

	o, _ := orders.Get(ctx, "order-2")
	require.Equal(t, order.StatusConfirmed, o.Status)
	require.Nil(t, o.AssignedRouteID)
}

func TestCompleteRequiresTerminalStops(t *testing.T) {
	svc, repo, orders := testRouteService()
	fixtureRoute(repo, orders, StatusDispatched)
	ctx := context.Background()

	require.NoError(t, svc.RecordStopOutcome(ctx, "route-1", 1, OutcomeDelivered))
	// Stop 2 is still pending.
	require.ErrorIs(t, svc.Complete(ctx, "route-1"), ErrInvalidState)

	require.NoError(t, svc.RecordStopOutcome(ctx, "route-1", 2, OutcomeFailed))
	require.NoError(t, svc.Complete(ctx, "route-1"))

	rt, _ := repo.Get(ctx, "route-1")
	require.Equal(t, StatusCompleted, rt.Status)
}
