// README: Order store backed by PostgreSQL with optimistic version checks.
package order

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cheez95/luckygas/internal/types"
)

// Repository is what the service needs from persistence; *Store is the
// pgx implementation, tests provide an in-memory one.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id types.ID) (*Order, error)
	UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int, routeID *types.ID, reason *string) (bool, error)
	ListByDateStatus(ctx context.Context, date string, statuses []Status) ([]*Order, error)
	HasOpenForCustomerDate(ctx context.Context, customerID types.ID, date string) (bool, error)
}

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const orderColumns = `
	id, customer_id, delivery_date, qty_4, qty_10, qty_16, qty_20, qty_50,
	priority, status, version, assigned_route_id, source, prediction_batch_id,
	atomic, created_at, confirmed_at, delivered_at, cancelled_at, cancel_reason`

func (s *Store) Create(ctx context.Context, o *Order) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO orders (
			id, customer_id, delivery_date, qty_4, qty_10, qty_16, qty_20, qty_50,
			priority, status, version, assigned_route_id, source, prediction_batch_id,
			atomic, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13, $14,
			$15, $16
		)`,
		string(o.ID),
		string(o.CustomerID),
		o.Date,
		o.Items[types.Size4kg], o.Items[types.Size10kg], o.Items[types.Size16kg],
		o.Items[types.Size20kg], o.Items[types.Size50kg],
		string(o.Priority),
		string(o.Status),
		o.Version,
		idPtr(o.AssignedRouteID),
		string(o.Source),
		o.PredictionBatchID,
		o.Atomic,
		o.CreatedAt,
	)
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Order, error) {
	row := s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, string(id))
	return scanOrder(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*Order, error) {
	var o Order
	var routeID, batchID, reason sql.NullString
	var confirmedAt, deliveredAt, cancelledAt sql.NullTime

	err := row.Scan(
		&o.ID, &o.CustomerID, &o.Date,
		&o.Items[types.Size4kg], &o.Items[types.Size10kg], &o.Items[types.Size16kg],
		&o.Items[types.Size20kg], &o.Items[types.Size50kg],
		&o.Priority, &o.Status, &o.Version, &routeID, &o.Source, &batchID,
		&o.Atomic, &o.CreatedAt, &confirmedAt, &deliveredAt, &cancelledAt, &reason,
	)
	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if routeID.Valid {
		r := types.ID(routeID.String)
		o.AssignedRouteID = &r
	}
	if batchID.Valid {
		o.PredictionBatchID = &batchID.String
	}
	if reason.Valid {
		o.CancelReason = &reason.String
	}
	o.ConfirmedAt = timePtr(confirmedAt)
	o.DeliveredAt = timePtr(deliveredAt)
	o.CancelledAt = timePtr(cancelledAt)
	return &o, nil
}

func (s *Store) UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int, routeID *types.ID, reason *string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE orders
		SET status = $1,
			version = version + 1,
			assigned_route_id = CASE WHEN $1 = 'assigned' THEN $2 WHEN $1 = 'confirmed' THEN NULL ELSE assigned_route_id END,
			confirmed_at = CASE WHEN $1 = 'confirmed' AND confirmed_at IS NULL THEN NOW() ELSE confirmed_at END,
			delivered_at = CASE WHEN $1 = 'delivered' THEN NOW() ELSE delivered_at END,
			cancelled_at = CASE WHEN $1 = 'cancelled' THEN NOW() ELSE cancelled_at END,
			cancel_reason = COALESCE($3, cancel_reason)
		WHERE id = $4 AND status = $5 AND version = $6`,
		string(to),
		idPtr(routeID),
		reason,
		string(id),
		string(from),
		version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) ListByDateStatus(ctx context.Context, date string, statuses []Status) ([]*Order, error) {
	vals := make([]string, len(statuses))
	for i, st := range statuses {
		vals[i] = string(st)
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE delivery_date = $1 AND status = ANY($2)
		ORDER BY id`, date, vals)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) HasOpenForCustomerDate(ctx context.Context, customerID types.ID, date string) (bool, error) {
	row := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM orders
			WHERE customer_id = $1
			  AND delivery_date = $2
			  AND status IN ('draft','confirmed','assigned','en_route')
		)`, string(customerID), date)
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func idPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
