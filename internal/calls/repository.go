package calls

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("calls: not found")

// Repository is the persistence contract for call records.
//
// Updates keyed by correlation id are deliberately forgiving: an update for a
// correlation id that was never persisted affects zero rows and returns no
// error. The correlator relies on this when an insert failed earlier and the
// call is tracked in memory only.
type Repository interface {
	Insert(ctx context.Context, rec CallRecord) (CallRecord, error)
	SetExtension(ctx context.Context, correlationID, extension string) error
	MarkAnswered(ctx context.Context, correlationID string, answeredAt time.Time, extension string) error
	Finish(ctx context.Context, correlationID string, status Status, durationSeconds int, endedAt time.Time) error
	SetStatus(ctx context.Context, correlationID string, status Status) error
	ListRecent(ctx context.Context, limit int) ([]CallRecord, error)
}

// PostgresRepo assumes a call_records table with a UNIQUE constraint on
// correlation_id.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Insert(ctx context.Context, rec CallRecord) (CallRecord, error) {
	now := time.Now().UTC()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = now
	}
	rec.CreatedAt = now
	rec.UpdatedAt = now

	const q = `
INSERT INTO call_records (
  id, correlation_id, caller_number, called_number, caller_name,
  origin, direction, status, extension, started_at, duration_seconds,
  created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (correlation_id) DO NOTHING
`
	res, err := r.db.ExecContext(ctx, q,
		rec.ID,
		rec.CorrelationID,
		rec.CallerNumber,
		rec.CalledNumber,
		rec.CallerName,
		rec.Origin,
		rec.Direction,
		rec.Status,
		rec.Extension,
		rec.StartedAt,
		rec.DurationSeconds,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		return CallRecord{}, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return CallRecord{}, ErrDuplicateCorrelation
	}
	return rec, nil
}

var ErrDuplicateCorrelation = errors.New("calls: correlation id already recorded")

func (r *PostgresRepo) SetExtension(ctx context.Context, correlationID, extension string) error {
	const q = `
UPDATE call_records
SET extension = $2, updated_at = $3
WHERE correlation_id = $1
`
	_, err := r.db.ExecContext(ctx, q, correlationID, extension, time.Now().UTC())
	return err
}

func (r *PostgresRepo) MarkAnswered(ctx context.Context, correlationID string, answeredAt time.Time, extension string) error {
	const q = `
UPDATE call_records
SET status = $2, answered_at = $3, extension = COALESCE(NULLIF($4, ''), extension), updated_at = $5
WHERE correlation_id = $1
`
	_, err := r.db.ExecContext(ctx, q, correlationID, StatusAnswered, answeredAt, extension, time.Now().UTC())
	return err
}

func (r *PostgresRepo) Finish(ctx context.Context, correlationID string, status Status, durationSeconds int, endedAt time.Time) error {
	const q = `
UPDATE call_records
SET status = $2, duration_seconds = $3, ended_at = $4, updated_at = $5
WHERE correlation_id = $1
`
	_, err := r.db.ExecContext(ctx, q, correlationID, status, durationSeconds, endedAt, time.Now().UTC())
	return err
}

func (r *PostgresRepo) SetStatus(ctx context.Context, correlationID string, status Status) error {
	const q = `
UPDATE call_records
SET status = $2, updated_at = $3
WHERE correlation_id = $1
`
	_, err := r.db.ExecContext(ctx, q, correlationID, status, time.Now().UTC())
	return err
}

func (r *PostgresRepo) ListRecent(ctx context.Context, limit int) ([]CallRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	const q = `
SELECT id, correlation_id, caller_number, called_number, caller_name,
       origin, direction, status, extension, started_at, answered_at, ended_at,
       duration_seconds, created_at, updated_at
FROM call_records
ORDER BY started_at DESC
LIMIT $1
`
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallRecord
	for rows.Next() {
		var rec CallRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.CorrelationID,
			&rec.CallerNumber,
			&rec.CalledNumber,
			&rec.CallerName,
			&rec.Origin,
			&rec.Direction,
			&rec.Status,
			&rec.Extension,
			&rec.StartedAt,
			&rec.AnsweredAt,
			&rec.EndedAt,
			&rec.DurationSeconds,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
