// README: Route store backed by PostgreSQL. Assembly commits all routes,
// their stops, and the order flips in one transaction or not at all.
package route

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cheez95/luckygas/internal/types"
)

// Repository is what the service and assembler need from persistence.
type Repository interface {
	Get(ctx context.Context, id types.ID) (*Route, error)
	ListByDate(ctx context.Context, date string) ([]*Route, error)
	UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int) (bool, error)
	UpdateStopOutcome(ctx context.Context, routeID types.ID, position int, outcome Outcome, at time.Time) (bool, error)
	AssembleTx(ctx context.Context, routes []*Route) ([]types.ID, error)
	OrdersOf(ctx context.Context, routeID types.ID) (map[int]types.ID, error)
}

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Route, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, delivery_date, driver_id, status, version, distance_m, duration_s,
		       method, polyline, job_id, created_at
		FROM routes WHERE id = $1`, string(id))
	var r Route
	err := row.Scan(&r.ID, &r.Date, &r.DriverID, &r.Status, &r.Version,
		&r.DistanceM, &r.DurationS, &r.Method, &r.Polyline, &r.JobID, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	stops, err := s.stops(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	r.Stops = stops
	return &r, nil
}

func (s *Store) stops(ctx context.Context, routeID types.ID) ([]Stop, error) {
	rows, err := s.db.Query(ctx, `
		SELECT route_id, position, order_id, planned_arrival_min, service_minutes,
		       actual_arrival, actual_depart, outcome
		FROM route_stops WHERE route_id = $1 ORDER BY position`, string(routeID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stops []Stop
	for rows.Next() {
		var st Stop
		var arr, dep sql.NullTime
		if err := rows.Scan(&st.RouteID, &st.Position, &st.OrderID, &st.PlannedArrival,
			&st.ServiceMinutes, &arr, &dep, &st.Outcome); err != nil {
			return nil, err
		}
		if arr.Valid {
			t := arr.Time
			st.ActualArrival = &t
		}
		if dep.Valid {
			t := dep.Time
			st.ActualDepart = &t
		}
		stops = append(stops, st)
	}
	return stops, rows.Err()
}

func (s *Store) ListByDate(ctx context.Context, date string) ([]*Route, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id FROM routes WHERE delivery_date = $1 ORDER BY id`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []types.ID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, types.ID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]*Route, 0, len(ids))
	for _, id := range ids {
		r, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE routes
		SET status = $1, version = version + 1
		WHERE id = $2 AND status = $3 AND version = $4`,
		string(to), string(id), string(from), version)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) UpdateStopOutcome(ctx context.Context, routeID types.ID, position int, outcome Outcome, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE route_stops
		SET outcome = $1,
			actual_arrival = CASE WHEN $1 = 'arrived' THEN $2 ELSE actual_arrival END,
			actual_depart = CASE WHEN $1 IN ('delivered','skipped','failed') THEN $2 ELSE actual_depart END
		WHERE route_id = $3 AND position = $4`,
		string(outcome), at, string(routeID), position)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) OrdersOf(ctx context.Context, routeID types.ID) (map[int]types.ID, error) {
	rows, err := s.db.Query(ctx, `
		SELECT position, order_id FROM route_stops WHERE route_id = $1`, string(routeID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int]types.ID{}
	for rows.Next() {
		var pos int
		var id string
		if err := rows.Scan(&pos, &id); err != nil {
			return nil, err
		}
		out[pos] = types.ID(id)
	}
	return out, rows.Err()
}

// AssembleTx persists every route and stop and flips each referenced order
// to assigned, all in one transaction. Orders no longer in draft/confirmed
// abort the whole assembly; the returned ids name the offenders.
func (s *Store) AssembleTx(ctx context.Context, routes []*Route) ([]types.ID, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var conflicts []types.ID
	for _, r := range routes {
		_, err := tx.Exec(ctx, `
			INSERT INTO routes (
				id, delivery_date, driver_id, status, version, distance_m, duration_s,
				method, polyline, job_id, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			string(r.ID), r.Date, string(r.DriverID), string(r.Status), r.Version,
			r.DistanceM, r.DurationS, r.Method, r.Polyline, r.JobID, r.CreatedAt)
		if err != nil {
			return nil, err
		}
		for _, st := range r.Stops {
			_, err := tx.Exec(ctx, `
				INSERT INTO route_stops (
					route_id, position, order_id, planned_arrival_min, service_minutes, outcome
				) VALUES ($1, $2, $3, $4, $5, $6)`,
				string(r.ID), st.Position, string(st.OrderID), int(st.PlannedArrival),
				st.ServiceMinutes, string(OutcomePending))
			if err != nil {
				return nil, err
			}
			tag, err := tx.Exec(ctx, `
				UPDATE orders
				SET status = 'assigned', version = version + 1, assigned_route_id = $1
				WHERE id = $2 AND status IN ('draft','confirmed')`,
				string(r.ID), string(st.OrderID))
			if err != nil {
				return nil, err
			}
			if tag.RowsAffected() != 1 {
				conflicts = append(conflicts, st.OrderID)
			}
		}
	}
	if len(conflicts) > 0 {
		return conflicts, &ConflictError{OrderIDs: conflicts}
	}
	return nil, tx.Commit(ctx)
}
