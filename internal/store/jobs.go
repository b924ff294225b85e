package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// JobSpec describes a job to enqueue.
type JobSpec struct {
	// Key identifies a scheduled job. Empty for immediate jobs.
	Key         string
	Payload     []byte
	RunAt       time.Time
	MaxAttempts int
}

// Job is a row of the durable job table.
type Job struct {
	ID          int64
	Key         string
	Payload     []byte
	RunAt       time.Time
	Attempts    int
	MaxAttempts int
	LockedAt    *time.Time
	LockedBy    string
	LastError   string
	CreatedAt   time.Time
}

// Locked reports whether a worker currently holds the job.
func (j Job) Locked() bool {
	return j.LockedAt != nil
}

const jobColumns = "id, job_key, payload, run_at, attempts, max_attempts, locked_at, locked_by, last_error, created_at"

// UpsertJob enqueues a job.
//
// For a keyed job, an existing pending job with the same key is replaced
// in place (payload and run_at updated, attempts reset). If the existing
// job is currently locked by a worker, it keeps running but gives up the
// key, and a new pending row takes it. Either way at most one row carries
// the key afterwards.
func (s *Store) UpsertJob(ctx context.Context, spec JobSpec, now time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("upsert job: begin tx: %w", err)
	}
	defer tx.Rollback()

	if spec.Key != "" {
		var (
			id       int64
			lockedAt sql.NullInt64
		)
		err := tx.QueryRowContext(ctx,
			`SELECT id, locked_at FROM jobs WHERE job_key = ?`, spec.Key).Scan(&id, &lockedAt)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return 0, fmt.Errorf("upsert job %s: %w", spec.Key, err)
		case lockedAt.Valid:
			if _, err := tx.ExecContext(ctx, `UPDATE jobs SET job_key = NULL WHERE id = ?`, id); err != nil {
				return 0, fmt.Errorf("upsert job %s: release key: %w", spec.Key, err)
			}
		default:
			_, err := tx.ExecContext(ctx, `
				UPDATE jobs
				SET payload = ?, run_at = ?, attempts = 0, max_attempts = ?, last_error = ''
				WHERE id = ?
			`, string(spec.Payload), spec.RunAt.UnixMilli(), spec.MaxAttempts, id)
			if err != nil {
				return 0, fmt.Errorf("upsert job %s: replace: %w", spec.Key, err)
			}
			if err := tx.Commit(); err != nil {
				return 0, fmt.Errorf("upsert job %s: commit: %w", spec.Key, err)
			}
			return id, nil
		}
	}

	var key any
	if spec.Key != "" {
		key = spec.Key
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO jobs (job_key, payload, run_at, attempts, max_attempts, created_at)
		VALUES (?, ?, ?, 0, ?, ?)
	`, key, string(spec.Payload), spec.RunAt.UnixMilli(), spec.MaxAttempts, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("upsert job: insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("upsert job: last insert id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("upsert job: commit: %w", err)
	}
	return id, nil
}

// DeleteJob removes the pending job carrying key. A job already locked by
// a worker is left alone. Deleting an absent key is a no-op.
func (s *Store) DeleteJob(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE job_key = ? AND locked_at IS NULL`, key)
	if err != nil {
		return fmt.Errorf("delete job %s: %w", key, err)
	}
	return nil
}

// ClaimJob locks the next due job for worker and increments its attempt
// count. A job locked before staleBefore is treated as abandoned by a
// crashed worker and can be claimed again; a zero staleBefore never
// expires locks. Returns nil when no job is due.
func (s *Store) ClaimJob(ctx context.Context, worker string, now, staleBefore time.Time) (*Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("claim job: begin tx: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM jobs
		WHERE (locked_at IS NULL OR locked_at < ?) AND run_at <= ? AND attempts < max_attempts
		ORDER BY run_at ASC, id ASC
		LIMIT 1
	`, staleBefore.UnixMilli(), now.UnixMilli()).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: select: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE jobs SET locked_at = ?, locked_by = ?, attempts = attempts + 1
		WHERE id = ?
	`, now.UnixMilli(), worker, id)
	if err != nil {
		return nil, fmt.Errorf("claim job %d: %w", id, err)
	}

	job, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("claim job %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("claim job %d: commit: %w", id, err)
	}
	return &job, nil
}

// CompleteJob acknowledges a job by deleting it.
func (s *Store) CompleteJob(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("complete job %d: %w", id, err)
	}
	return nil
}

// FailJob unlocks a job, records the error and makes it due again at
// retryAt. A job whose attempts reached max_attempts stays in the table
// but is never claimed again.
func (s *Store) FailJob(ctx context.Context, id int64, reason string, retryAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET locked_at = NULL, locked_by = NULL, last_error = ?, run_at = ?
		WHERE id = ?
	`, reason, retryAt.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("fail job %d: %w", id, err)
	}
	return nil
}

// GetJob returns the job carrying key.
func (s *Store) GetJob(ctx context.Context, key string) (Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_key = ?`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, fmt.Errorf("get job %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return Job{}, fmt.Errorf("get job %s: %w", key, err)
	}
	return job, nil
}

// ListJobs returns every job ordered by run_at.
func (s *Store) ListJobs(ctx context.Context) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY run_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("list jobs: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func scanJob(sc scanner) (Job, error) {
	var (
		j         Job
		key       sql.NullString
		payload   string
		runAt     int64
		lockedAt  sql.NullInt64
		lockedBy  sql.NullString
		createdAt int64
	)
	if err := sc.Scan(&j.ID, &key, &payload, &runAt, &j.Attempts, &j.MaxAttempts,
		&lockedAt, &lockedBy, &j.LastError, &createdAt); err != nil {
		return Job{}, err
	}
	j.Key = key.String
	j.Payload = []byte(payload)
	j.RunAt = time.UnixMilli(runAt).UTC()
	j.CreatedAt = time.UnixMilli(createdAt).UTC()
	if lockedAt.Valid {
		t := time.UnixMilli(lockedAt.Int64).UTC()
		j.LockedAt = &t
	}
	j.LockedBy = lockedBy.String
	return j, nil
}
