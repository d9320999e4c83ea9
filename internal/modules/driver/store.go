// README: Driver store backed by PostgreSQL (read-only from the core).
package driver

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cheez95/luckygas/internal/types"
)

var ErrNotFound = errors.New("driver not found")

type Repository interface {
	Get(ctx context.Context, id types.ID) (*Driver, error)
	ListActive(ctx context.Context) ([]*Driver, error)
}

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const driverColumns = `
	id, name, cap_4, cap_10, cap_16, cap_20, cap_50,
	shift_start_min, shift_end_min, start_lat, start_lng, active`

func (s *Store) Get(ctx context.Context, id types.ID) (*Driver, error) {
	row := s.db.QueryRow(ctx, `SELECT `+driverColumns+` FROM drivers WHERE id = $1`, string(id))
	d, err := scanDriver(row)
	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return d, err
}

func (s *Store) ListActive(ctx context.Context) ([]*Driver, error) {
	rows, err := s.db.Query(ctx, `SELECT `+driverColumns+` FROM drivers WHERE active ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Driver
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDriver(row rowScanner) (*Driver, error) {
	var d Driver
	err := row.Scan(
		&d.ID, &d.Name,
		&d.Capacity[types.Size4kg], &d.Capacity[types.Size10kg], &d.Capacity[types.Size16kg],
		&d.Capacity[types.Size20kg], &d.Capacity[types.Size50kg],
		&d.Shift.Open, &d.Shift.Close,
		&d.Start.Lat, &d.Start.Lng, &d.Active,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
