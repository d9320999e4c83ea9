// README: Customer store backed by PostgreSQL (read-only from the core,
// upserted only by bulk import).
package customer

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cheez95/luckygas/internal/types"
)

var ErrNotFound = errors.New("customer not found")

type Repository interface {
	Get(ctx context.Context, id types.ID) (*Customer, error)
	GetMany(ctx context.Context, ids []types.ID) (map[types.ID]*Customer, error)
	List(ctx context.Context) ([]*Customer, error)
	Upsert(ctx context.Context, c *Customer) error
}

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const customerColumns = `
	id, name, lat, lng, window_open_min, window_close_min,
	service_minutes, dominant_size, subscription_days`

func (s *Store) Get(ctx context.Context, id types.ID) (*Customer, error) {
	row := s.db.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, string(id))
	c, err := scanCustomer(row)
	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

func (s *Store) GetMany(ctx context.Context, ids []types.ID) (map[types.ID]*Customer, error) {
	vals := make([]string, len(ids))
	for i, id := range ids {
		vals[i] = string(id)
	}
	rows, err := s.db.Query(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = ANY($1)`, vals)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[types.ID]*Customer, len(ids))
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		out[c.ID] = c
	}
	return out, rows.Err()
}

func (s *Store) List(ctx context.Context) ([]*Customer, error) {
	rows, err := s.db.Query(ctx, `SELECT `+customerColumns+` FROM customers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) Upsert(ctx context.Context, c *Customer) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO customers (
			id, name, lat, lng, window_open_min, window_close_min,
			service_minutes, dominant_size, subscription_days
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			lat = EXCLUDED.lat,
			lng = EXCLUDED.lng,
			window_open_min = EXCLUDED.window_open_min,
			window_close_min = EXCLUDED.window_close_min,
			service_minutes = EXCLUDED.service_minutes,
			dominant_size = EXCLUDED.dominant_size,
			subscription_days = EXCLUDED.subscription_days`,
		string(c.ID), c.Name, c.Location.Lat, c.Location.Lng,
		int(c.Window.Open), int(c.Window.Close), c.ServiceMinutes,
		c.DominantSize.String(), c.SubscriptionDays)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCustomer(row rowScanner) (*Customer, error) {
	var c Customer
	var size string
	err := row.Scan(
		&c.ID, &c.Name, &c.Location.Lat, &c.Location.Lng,
		&c.Window.Open, &c.Window.Close, &c.ServiceMinutes,
		&size, &c.SubscriptionDays,
	)
	if err != nil {
		return nil, err
	}
	if parsed, perr := types.ParseCylinderSize(size); perr == nil {
		c.DominantSize = parsed
	} else {
		c.DominantSize = types.Size20kg
	}
	return &c, nil
}
