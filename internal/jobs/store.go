// README: Job store backed by PostgreSQL. Terminal writes carry a status
// predicate so a late handler cannot overwrite a sweep or cancel decision.
package jobs

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cheez95/luckygas/internal/types"
)

var ErrNotFound = errors.New("job not found")

type Repository interface {
	Create(ctx context.Context, j *Job) error
	Get(ctx context.Context, id types.ID) (*Job, error)
	List(ctx context.Context, kind Kind, statuses []Status, limit int) ([]*Job, error)
	MarkRunning(ctx context.Context, id types.ID) (bool, error)
	MarkCancelling(ctx context.Context, id types.ID) (bool, error)
	UpdateProgress(ctx context.Context, id types.ID, progress int, message string) error
	Finish(ctx context.Context, id types.ID, to Status, result []byte, errCode, errText string) (bool, error)
	CancelQueued(ctx context.Context, id types.ID) (bool, error)
	SweepOrphans(ctx context.Context, olderThan time.Duration) (int, error)
}

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const jobColumns = `
	id, kind, target_key, params, status, progress, message, result,
	error_code, error_text, created_at, started_at, heartbeat_at, finished_at`

func (s *Store) Create(ctx context.Context, j *Job) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO jobs (id, kind, target_key, params, status, progress, created_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6)`,
		string(j.ID), string(j.Kind), j.TargetKey, []byte(j.Params), string(j.Status), j.CreatedAt)
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Job, error) {
	row := s.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, string(id))
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return j, err
}

func (s *Store) List(ctx context.Context, kind Kind, statuses []Status, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE TRUE`
	args := []any{}
	if kind != "" {
		args = append(args, string(kind))
		query += ` AND kind = $1`
	}
	if len(statuses) > 0 {
		vals := make([]string, len(statuses))
		for i, st := range statuses {
			vals[i] = string(st)
		}
		args = append(args, vals)
		query += ` AND status = ANY($` + strconv.Itoa(len(args)) + `)`
	}
	args = append(args, limit)
	query += ` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Store) MarkRunning(ctx context.Context, id types.ID) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE jobs SET status = 'running', started_at = now(), heartbeat_at = now()
		WHERE id = $1 AND status = 'queued'`, string(id))
	return tag.RowsAffected() == 1, err
}

func (s *Store) MarkCancelling(ctx context.Context, id types.ID) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE jobs SET status = 'cancelling'
		WHERE id = $1 AND status = 'running'`, string(id))
	return tag.RowsAffected() == 1, err
}

func (s *Store) UpdateProgress(ctx context.Context, id types.ID, progress int, message string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE jobs SET progress = $2, message = $3, heartbeat_at = now()
		WHERE id = $1 AND status IN ('running', 'cancelling')`,
		string(id), progress, message)
	return err
}

func (s *Store) Finish(ctx context.Context, id types.ID, to Status, result []byte, errCode, errText string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE jobs SET status = $2, result = $3, error_code = $4, error_text = $5,
			progress = CASE WHEN $2 = 'succeeded' THEN 100 ELSE progress END,
			finished_at = now()
		WHERE id = $1 AND status IN ('running', 'cancelling')`,
		string(id), string(to), result, nullIfEmpty(errCode), nullIfEmpty(errText))
	return tag.RowsAffected() == 1, err
}

func (s *Store) CancelQueued(ctx context.Context, id types.ID) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE jobs SET status = 'cancelled', finished_at = now()
		WHERE id = $1 AND status = 'queued'`, string(id))
	return tag.RowsAffected() == 1, err
}

// SweepOrphans fails running jobs whose heartbeat went stale, typically
// leftovers from a crashed process. Run once at startup.
func (s *Store) SweepOrphans(ctx context.Context, olderThan time.Duration) (int, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE jobs SET status = 'failed', error_code = $1,
			error_text = 'no heartbeat, presumed dead', finished_at = now()
		WHERE status IN ('running', 'cancelling')
		AND heartbeat_at < now() - $2::interval`,
		ErrCodeOrphaned, olderThan.String())
	return int(tag.RowsAffected()), err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	var params, result []byte
	var errCode, errText, message *string
	err := row.Scan(
		&j.ID, &j.Kind, &j.TargetKey, &params, &j.Status, &j.Progress, &message,
		&result, &errCode, &errText,
		&j.CreatedAt, &j.StartedAt, &j.HeartbeatAt, &j.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Params = params
	j.Result = result
	if message != nil {
		j.Message = *message
	}
	if errCode != nil {
		j.ErrorCode = *errCode
	}
	if errText != nil {
		j.ErrorText = *errText
	}
	return &j, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

