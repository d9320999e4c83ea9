// README: Prediction batch store backed by PostgreSQL.
package predict

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrBatchNotFound = errors.New("prediction batch not found")

type Repository interface {
	CreateBatch(ctx context.Context, b *Batch) error
	GetBatch(ctx context.Context, id string) (*Batch, error)
	ListBatchesByDate(ctx context.Context, date string) ([]*Batch, error)
}

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) CreateBatch(ctx context.Context, b *Batch) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO prediction_batches (id, date, customers, drafts, suppressed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		b.ID, b.Date, b.Customers, b.Drafts, b.Suppressed, b.CreatedAt)
	return err
}

func (s *Store) GetBatch(ctx context.Context, id string) (*Batch, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, date, customers, drafts, suppressed, created_at
		FROM prediction_batches WHERE id = $1`, id)
	b, err := scanBatch(row)
	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBatchNotFound
	}
	return b, err
}

func (s *Store) ListBatchesByDate(ctx context.Context, date string) ([]*Batch, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, date, customers, drafts, suppressed, created_at
		FROM prediction_batches WHERE date = $1 ORDER BY created_at DESC`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (*Batch, error) {
	var b Batch
	var created time.Time
	err := row.Scan(&b.ID, &b.Date, &b.Customers, &b.Drafts, &b.Suppressed, &created)
	if err != nil {
		return nil, err
	}
	b.CreatedAt = created
	return &b, nil
}
