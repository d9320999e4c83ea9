package order

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/cheez95/luckygas/internal/bus"
	"github.com/cheez95/luckygas/internal/types"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusDraft, StatusConfirmed, true},
		{StatusDraft, StatusCancelled, true},
		{StatusDraft, StatusAssigned, false},
		{StatusConfirmed, StatusAssigned, true},
		{StatusConfirmed, StatusDelivered, false},
		{StatusAssigned, StatusEnRoute, true},
		{StatusAssigned, StatusConfirmed, true}, // route cancel cascade
		{StatusEnRoute, StatusDelivered, true},
		{StatusEnRoute, StatusFailed, true},
		{StatusEnRoute, StatusConfirmed, false},
		{StatusDelivered, StatusCancelled, false},
		{StatusCancelled, StatusConfirmed, false},
		{StatusFailed, StatusEnRoute, false},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusDelivered, StatusCancelled, StatusFailed} {
		require.True(t, s.Terminal())
	}
	for _, s := range []Status{StatusDraft, StatusConfirmed, StatusAssigned, StatusEnRoute} {
		require.False(t, s.Terminal())
	}
}

// memRepo is an in-memory Repository with the same version-check semantics
// as the pgx store.
type memRepo struct {
	mu     sync.Mutex
	orders map[types.ID]*Order
}

func newMemRepo() *memRepo {
	return &memRepo{orders: make(map[types.ID]*Order)}
}

func (r *memRepo) Create(_ context.Context, o *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *o
	r.orders[o.ID] = &cp
	return nil
}

func (r *memRepo) Get(_ context.Context, id types.ID) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *memRepo) UpdateStatus(_ context.Context, id types.ID, from, to Status, version int, routeID *types.ID, reason *string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok || o.Status != from || o.Version != version {
		return false, nil
	}
	o.Status = to
	o.Version++
	switch to {
	case StatusAssigned:
		o.AssignedRouteID = routeID
	case StatusConfirmed:
		o.AssignedRouteID = nil
	}
	if reason != nil {
		o.CancelReason = reason
	}
	return true, nil
}

func (r *memRepo) ListByDateStatus(_ context.Context, date string, statuses []Status) ([]*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Order
	for _, o := range r.orders {
		if o.Date != date {
			continue
		}
		for _, st := range statuses {
			if o.Status == st {
				cp := *o
				out = append(out, &cp)
				break
			}
		}
	}
	return out, nil
}

func (r *memRepo) HasOpenForCustomerDate(_ context.Context, customerID types.ID, date string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.CustomerID == customerID && o.Date == date && !o.Status.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

// recordingPub captures published events for assertions.
type recordingPub struct {
	mu     sync.Mutex
	events []bus.Kind
	rooms  [][]string
}

func (p *recordingPub) Publish(kind bus.Kind, _ any, rooms ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, kind)
	p.rooms = append(p.rooms, rooms)
}

func (p *recordingPub) kinds() []bus.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bus.Kind(nil), p.events...)
}

func errorIsAny(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

func testService() (*Service, *memRepo, *recordingPub) {
	repo := newMemRepo()
	pub := &recordingPub{}
	return NewService(repo, pub, zerolog.Nop()), repo, pub
}

func TestCreateStaffOrderStartsConfirmed(t *testing.T) {
	svc, repo, pub := testService()
	id, err := svc.Create(context.Background(), CreateCommand{
		CustomerID: "cust-1",
		Date:       "2026-03-02",
		Items:      types.Load{types.Size20kg: 2},
	})
	require.NoError(t, err)

	o, err := repo.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, o.Status)
	require.Equal(t, SourceStaff, o.Source)
	require.Equal(t, PriorityNormal, o.Priority)
	require.Equal(t, []bus.Kind{bus.KindOrderCreated}, pub.kinds())
}

func TestCreateDraftOrder(t *testing.T) {
	svc, repo, _ := testService()
	batch := "batch-1"
	id, err := svc.Create(context.Background(), CreateCommand{
		CustomerID:        "cust-1",
		Date:              "2026-03-02",
		Items:             types.Load{types.Size16kg: 1},
		Source:            SourcePrediction,
		PredictionBatchID: &batch,
		Draft:             true,
	})
	require.NoError(t, err)

	o, _ := repo.Get(context.Background(), id)
	require.Equal(t, StatusDraft, o.Status)
	require.Equal(t, SourcePrediction, o.Source)
	require.Equal(t, &batch, o.PredictionBatchID)
}

func TestCreateRejectsEmptyItems(t *testing.T) {
	svc, _, _ := testService()
	_, err := svc.Create(context.Background(), CreateCommand{
		CustomerID: "cust-1",
		Date:       "2026-03-02",
	})
	require.ErrorIs(t, err, ErrValidation)
}

func TestLifecycleHappyPath(t *testing.T) {
	svc, repo, _ := testService()
	ctx := context.Background()
	id, err := svc.Create(ctx, CreateCommand{
		CustomerID: "cust-1", Date: "2026-03-02",
		Items: types.Load{types.Size20kg: 1}, Draft: true,
	})
	require.NoError(t, err)

	require.NoError(t, svc.Confirm(ctx, id))
	routeID := types.ID("route-1")
	o, _ := repo.Get(ctx, id)
	ok, err := repo.UpdateStatus(ctx, id, StatusConfirmed, StatusAssigned, o.Version, &routeID, nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, svc.MarkEnRoute(ctx, id))
	require.NoError(t, svc.MarkDelivered(ctx, id))

	final, _ := repo.Get(ctx, id)
	require.Equal(t, StatusDelivered, final.Status)
}

func TestInvalidTransitionRejected(t *testing.T) {
	svc, _, _ := testService()
	ctx := context.Background()
	id, _ := svc.Create(ctx, CreateCommand{
		CustomerID: "cust-1", Date: "2026-03-02",
		Items: types.Load{types.Size20kg: 1}, Draft: true,
	})
	// draft cannot go straight to delivered
	require.ErrorIs(t, svc.MarkDelivered(ctx, id), ErrInvalidState)
}

func TestConcurrentCancelSingleWinner(t *testing.T) {
	svc, repo, _ := testService()
	ctx := context.Background()
	id, _ := svc.Create(ctx, CreateCommand{
		CustomerID: "cust-1", Date: "2026-03-02",
		Items: types.Load{types.Size20kg: 1},
	})

	const n = 8
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- svc.Cancel(ctx, id, "dup cancel")
		}()
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		if err == nil {
			wins++
			continue
		}
		// Losers observe either the stale version or the already-terminal state.
		if !errorIsAny(err, ErrVersionConflict, ErrInvalidState) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, wins)

	o, _ := repo.Get(ctx, id)
	require.Equal(t, StatusCancelled, o.Status)
	require.Equal(t, 1, o.Version)
}

func TestUnassignClearsRoute(t *testing.T) {
	svc, repo, pub := testService()
	ctx := context.Background()
	id, _ := svc.Create(ctx, CreateCommand{
		CustomerID: "cust-1", Date: "2026-03-02",
		Items: types.Load{types.Size20kg: 1},
	})
	routeID := types.ID("route-9")
	o, _ := repo.Get(ctx, id)
	_, err := repo.UpdateStatus(ctx, id, StatusConfirmed, StatusAssigned, o.Version, &routeID, nil)
	require.NoError(t, err)

	require.NoError(t, svc.Unassign(ctx, id))
	o, _ = repo.Get(ctx, id)
	require.Equal(t, StatusConfirmed, o.Status)
	require.Nil(t, o.AssignedRouteID)
	require.Contains(t, pub.kinds(), bus.KindOrderUpdated)
}
