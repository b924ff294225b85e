// Package pgjobs is a PostgreSQL job table for the action request queue.
//
// It implements queue.JobStore with the same semantics as the SQLite
// store: one pending job per key, FIFO claiming of due jobs, and
// attempts that count toward max_attempts. Concurrent workers claim with
// FOR UPDATE SKIP LOCKED so a job is never handed out twice.
package pgjobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"github.com/roach88/contractworker/internal/failure"
	"github.com/roach88/contractworker/internal/store"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS jobs (
	id           BIGSERIAL PRIMARY KEY,
	job_key      TEXT UNIQUE,
	payload      BYTEA NOT NULL,
	run_at       TIMESTAMPTZ NOT NULL,
	attempts     INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL,
	locked_at    TIMESTAMPTZ,
	locked_by    TEXT,
	last_error   TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS jobs_due ON jobs (run_at, id) WHERE locked_at IS NULL;
`

const jobColumns = "id, job_key, payload, run_at, attempts, max_attempts, locked_at, locked_by, last_error, created_at"

// Store is a job table in PostgreSQL.
type Store struct {
	db *sql.DB
}

// New wraps an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to dsn and ensures the jobs table exists. While the
// database is unreachable it tries up to retries times, delay apart, then
// fails with QueueServiceError.
func Open(ctx context.Context, dsn string, retries int, delay time.Duration) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	s := New(db)
	if err := s.ensureTable(ctx, retries, delay); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureTable(ctx context.Context, retries int, delay time.Duration) error {
	if retries < 1 {
		retries = 1
	}
	var err error
	for attempt := 1; attempt <= retries; attempt++ {
		if err = s.EnsureTable(ctx); err == nil {
			return nil
		}
		slog.Warn("job table unavailable",
			"attempt", attempt,
			"retries", retries,
			"error", err,
		)
		if attempt == retries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return failure.Wrap(failure.QueueServiceError, err,
		"job table unavailable after %d attempts", retries)
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureTable creates the jobs table and its index if missing.
func (s *Store) EnsureTable(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create jobs table: %w", err)
	}
	return nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const upsertSQL = `
	INSERT INTO jobs (job_key, payload, run_at, attempts, max_attempts, created_at)
	VALUES ($1, $2, $3, 0, $4, $5)
	ON CONFLICT (job_key) DO UPDATE SET
		payload = EXCLUDED.payload,
		run_at = EXCLUDED.run_at,
		attempts = 0,
		max_attempts = EXCLUDED.max_attempts,
		last_error = ''
	WHERE jobs.locked_at IS NULL
	RETURNING id
`

// UpsertJob enqueues a job. A pending job with the same key is replaced
// in place. A locked one keeps running but gives up its key to the new row.
func (s *Store) UpsertJob(ctx context.Context, spec store.JobSpec, now time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("upsert job: begin tx: %w", err)
	}
	defer tx.Rollback()

	var key any
	if spec.Key != "" {
		key = spec.Key
	}
	args := []any{key, spec.Payload, spec.RunAt.UTC(), spec.MaxAttempts, now.UTC()}

	var id int64
	err = tx.QueryRowContext(ctx, upsertSQL, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		// the key is held by a running job
		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs SET job_key = NULL WHERE job_key = $1 AND locked_at IS NOT NULL`, spec.Key); err != nil {
			return 0, fmt.Errorf("upsert job %s: release key: %w", spec.Key, err)
		}
		err = tx.QueryRowContext(ctx, upsertSQL, args...).Scan(&id)
	}
	if err != nil {
		return 0, fmt.Errorf("upsert job %s: %w", spec.Key, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("upsert job %s: commit: %w", spec.Key, err)
	}
	return id, nil
}

// DeleteJob removes the pending job carrying key. Absent keys are a no-op.
func (s *Store) DeleteJob(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE job_key = $1 AND locked_at IS NULL`, key); err != nil {
		return fmt.Errorf("delete job %s: %w", key, err)
	}
	return nil
}

// ClaimJob locks the next due job for worker. Jobs locked before
// staleBefore are claimed again. Returns nil when none is due.
func (s *Store) ClaimJob(ctx context.Context, worker string, now, staleBefore time.Time) (*store.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE jobs SET locked_at = $1, locked_by = $2, attempts = attempts + 1
		WHERE id = (
			SELECT id FROM jobs
			WHERE (locked_at IS NULL OR locked_at < $3) AND run_at <= $1 AND attempts < max_attempts
			ORDER BY run_at ASC, id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns, now.UTC(), worker, staleBefore.UTC())
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return &job, nil
}

// CompleteJob acknowledges a job by deleting it.
func (s *Store) CompleteJob(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, id); err != nil {
		return fmt.Errorf("complete job %d: %w", id, err)
	}
	return nil
}

// FailJob unlocks a job and makes it due again at retryAt.
func (s *Store) FailJob(ctx context.Context, id int64, reason string, retryAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET locked_at = NULL, locked_by = NULL, last_error = $1, run_at = $2
		WHERE id = $3
	`, reason, retryAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("fail job %d: %w", id, err)
	}
	return nil
}

// ListJobs returns every job ordered by run_at.
func (s *Store) ListJobs(ctx context.Context) ([]store.Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY run_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []store.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("list jobs: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (store.Job, error) {
	var (
		j        store.Job
		key      sql.NullString
		lockedAt sql.NullTime
		lockedBy sql.NullString
	)
	err := row.Scan(&j.ID, &key, &j.Payload, &j.RunAt, &j.Attempts, &j.MaxAttempts,
		&lockedAt, &lockedBy, &j.LastError, &j.CreatedAt)
	if err != nil {
		return store.Job{}, err
	}
	j.Key = key.String
	j.LockedBy = lockedBy.String
	if lockedAt.Valid {
		t := lockedAt.Time.UTC()
		j.LockedAt = &t
	}
	j.RunAt = j.RunAt.UTC()
	j.CreatedAt = j.CreatedAt.UTC()
	return j, nil
}
