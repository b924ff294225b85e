package pgjobs

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/contractworker/internal/failure"
	"github.com/roach88/contractworker/internal/queue"
	"github.com/roach88/contractworker/internal/store"
)

var (
	_ queue.JobStore = (*Store)(nil)

	testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	columns = []string{"id", "job_key", "payload", "run_at", "attempts", "max_attempts", "locked_at", "locked_by", "last_error", "created_at"}
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestStore_EnsureTable(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS jobs")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.EnsureTable(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_EnsureTableRetriesUntilReachable(t *testing.T) {
	s, mock := newMock(t)
	refused := errors.New("dial tcp 127.0.0.1:5432: connection refused")
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS jobs")).WillReturnError(refused)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS jobs")).WillReturnError(refused)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS jobs")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.ensureTable(context.Background(), 3, time.Millisecond))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_EnsureTableGivesUp(t *testing.T) {
	s, mock := newMock(t)
	refused := errors.New("connection refused")
	for n := 0; n < 3; n++ {
		mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS jobs")).WillReturnError(refused)
	}

	err := s.ensureTable(context.Background(), 3, time.Millisecond)
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.QueueServiceError))
	assert.ErrorIs(t, err, refused)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpsertJobImmediate(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO jobs")).
		WithArgs(nil, []byte(`{"id":"r1"}`), testNow, 25, testNow).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectCommit()

	id, err := s.UpsertJob(context.Background(), store.JobSpec{
		Payload:     []byte(`{"id":"r1"}`),
		RunAt:       testNow,
		MaxAttempts: 25,
	}, testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpsertJobKeyHeldByRunningJob(t *testing.T) {
	s, mock := newMock(t)
	runAt := testNow.Add(time.Hour)

	mock.ExpectBegin()
	// the conflicting row is locked, so DO UPDATE returns nothing
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO jobs")).
		WithArgs("sched-1", sqlmock.AnyArg(), runAt, 25, testNow).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE jobs SET job_key = NULL WHERE job_key = $1 AND locked_at IS NOT NULL")).
		WithArgs("sched-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO jobs")).
		WithArgs("sched-1", sqlmock.AnyArg(), runAt, 25, testNow).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(9))
	mock.ExpectCommit()

	id, err := s.UpsertJob(context.Background(), store.JobSpec{
		Key:         "sched-1",
		Payload:     []byte(`{}`),
		RunAt:       runAt,
		MaxAttempts: 25,
	}, testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(9), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpsertJobError(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO jobs")).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := s.UpsertJob(context.Background(), store.JobSpec{Key: "k", RunAt: testNow}, testNow)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert job k")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ClaimJob(t *testing.T) {
	s, mock := newMock(t)
	rows := sqlmock.NewRows(columns).
		AddRow(int64(3), "sched-1", []byte(`{"id":"r1"}`), testNow, 1, 25, testNow, "w1", "", testNow)
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE jobs SET locked_at = $1, locked_by = $2, attempts = attempts + 1")).
		WithArgs(testNow, "w1", testNow.Add(-5*time.Minute)).
		WillReturnRows(rows)

	job, err := s.ClaimJob(context.Background(), "w1", testNow, testNow.Add(-5*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, int64(3), job.ID)
	assert.Equal(t, "sched-1", job.Key)
	assert.Equal(t, 1, job.Attempts)
	assert.True(t, job.Locked())
	assert.Equal(t, "w1", job.LockedBy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ClaimJobExpiresStaleLocks(t *testing.T) {
	s, mock := newMock(t)
	staleBefore := testNow.Add(-5 * time.Minute)
	rows := sqlmock.NewRows(columns).
		AddRow(int64(4), nil, []byte(`{"id":"r2"}`), testNow, 2, 25, testNow, "w2", "", testNow)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE (locked_at IS NULL OR locked_at < $3) AND run_at <= $1")).
		WithArgs(testNow, "w2", staleBefore).
		WillReturnRows(rows)

	job, err := s.ClaimJob(context.Background(), "w2", testNow, staleBefore)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 2, job.Attempts)
	assert.Equal(t, "w2", job.LockedBy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ClaimJobNoneDue(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE jobs SET locked_at")).
		WithArgs(testNow, "w1", time.Time{}.UTC()).
		WillReturnRows(sqlmock.NewRows(columns))

	job, err := s.ClaimJob(context.Background(), "w1", testNow, time.Time{})
	require.NoError(t, err)
	assert.Nil(t, job)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CompleteAndFail(t *testing.T) {
	s, mock := newMock(t)
	retryAt := testNow.Add(3 * time.Second)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM jobs WHERE id = $1")).
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE jobs SET locked_at = NULL, locked_by = NULL, last_error = $1, run_at = $2")).
		WithArgs("boom", retryAt, int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.CompleteJob(context.Background(), 3))
	require.NoError(t, s.FailJob(context.Background(), 4, "boom", retryAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_DeleteJob(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM jobs WHERE job_key = $1 AND locked_at IS NULL")).
		WithArgs("sched-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.DeleteJob(context.Background(), "sched-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ListJobs(t *testing.T) {
	s, mock := newMock(t)
	rows := sqlmock.NewRows(columns).
		AddRow(int64(1), nil, []byte(`{}`), testNow, 0, 25, nil, nil, "", testNow).
		AddRow(int64(2), "k", []byte(`{}`), testNow.Add(time.Hour), 2, 25, nil, nil, "boom", testNow)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, job_key")).WillReturnRows(rows)

	jobs, err := s.ListJobs(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Empty(t, jobs[0].Key)
	assert.False(t, jobs[0].Locked())
	assert.Equal(t, "k", jobs[1].Key)
	assert.Equal(t, "boom", jobs[1].LastError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Ping(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	assert.Error(t, New(db).Ping(context.Background()))
}
