package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertJob_SameKeyReplaces(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	now := testEpoch

	first := now.Add(time.Hour)
	second := now.Add(2 * time.Hour)

	id1, err := s.UpsertJob(ctx, JobSpec{Key: "sched-1", Payload: []byte(`{"n":1}`), RunAt: first, MaxAttempts: 3}, now)
	require.NoError(t, err)
	id2, err := s.UpsertJob(ctx, JobSpec{Key: "sched-1", Payload: []byte(`{"n":2}`), RunAt: second, MaxAttempts: 3}, now)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	jobs, err := s.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.True(t, jobs[0].RunAt.Equal(second))
	assert.JSONEq(t, `{"n":2}`, string(jobs[0].Payload))
}

func TestUpsertJob_LockedJobGivesUpKey(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	now := testEpoch

	_, err := s.UpsertJob(ctx, JobSpec{Key: "sched-1", Payload: []byte(`{}`), RunAt: now, MaxAttempts: 3}, now)
	require.NoError(t, err)

	claimed, err := s.ClaimJob(ctx, "w1", now, time.Time{})
	require.NoError(t, err)
	require.NotNil(t, claimed)

	next := now.Add(time.Minute)
	newID, err := s.UpsertJob(ctx, JobSpec{Key: "sched-1", Payload: []byte(`{"next":true}`), RunAt: next, MaxAttempts: 3}, now)
	require.NoError(t, err)
	assert.NotEqual(t, claimed.ID, newID)

	pending, err := s.GetJob(ctx, "sched-1")
	require.NoError(t, err)
	assert.Equal(t, newID, pending.ID)
	assert.False(t, pending.Locked())

	require.NoError(t, s.CompleteJob(ctx, claimed.ID))
	jobs, err := s.ListJobs(ctx)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestDeleteJob(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertJob(ctx, JobSpec{Key: "k", Payload: []byte(`{}`), RunAt: testEpoch, MaxAttempts: 1}, testEpoch)
	require.NoError(t, err)

	require.NoError(t, s.DeleteJob(ctx, "k"))
	require.NoError(t, s.DeleteJob(ctx, "k"), "deleting an absent key is a no-op")

	_, err = s.GetJob(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClaimJob_OrderAndDueness(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	now := testEpoch

	_, err := s.UpsertJob(ctx, JobSpec{Payload: []byte(`"later"`), RunAt: now.Add(time.Hour), MaxAttempts: 1}, now)
	require.NoError(t, err)
	_, err = s.UpsertJob(ctx, JobSpec{Payload: []byte(`"b"`), RunAt: now.Add(-time.Minute), MaxAttempts: 1}, now)
	require.NoError(t, err)
	_, err = s.UpsertJob(ctx, JobSpec{Payload: []byte(`"a"`), RunAt: now.Add(-time.Hour), MaxAttempts: 1}, now)
	require.NoError(t, err)

	first, err := s.ClaimJob(ctx, "w", now, time.Time{})
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, `"a"`, string(first.Payload))
	assert.Equal(t, 1, first.Attempts)
	assert.Equal(t, "w", first.LockedBy)

	second, err := s.ClaimJob(ctx, "w", now, time.Time{})
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, `"b"`, string(second.Payload))

	none, err := s.ClaimJob(ctx, "w", now, time.Time{})
	require.NoError(t, err)
	assert.Nil(t, none, "future job is not due")
}

func TestFailJob_RetriesUntilMaxAttempts(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	now := testEpoch

	_, err := s.UpsertJob(ctx, JobSpec{Payload: []byte(`{}`), RunAt: now, MaxAttempts: 2}, now)
	require.NoError(t, err)

	job, err := s.ClaimJob(ctx, "w", now, time.Time{})
	require.NoError(t, err)
	require.NotNil(t, job)
	require.NoError(t, s.FailJob(ctx, job.ID, "boom", now.Add(time.Second)))

	none, err := s.ClaimJob(ctx, "w", now, time.Time{})
	require.NoError(t, err)
	assert.Nil(t, none, "not due before retry time")

	job, err = s.ClaimJob(ctx, "w", now.Add(time.Second), time.Time{})
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 2, job.Attempts)
	assert.Equal(t, "boom", job.LastError)
	require.NoError(t, s.FailJob(ctx, job.ID, "boom again", now.Add(2*time.Second)))

	none, err = s.ClaimJob(ctx, "w", now.Add(time.Hour), time.Time{})
	require.NoError(t, err)
	assert.Nil(t, none, "exhausted job is never claimed")

	jobs, err := s.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "boom again", jobs[0].LastError)
}

func TestClaimJob_StaleLockIsReclaimed(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	now := testEpoch

	_, err := s.UpsertJob(ctx, JobSpec{Key: "k", Payload: []byte(`{}`), RunAt: now, MaxAttempts: 5}, now)
	require.NoError(t, err)

	// worker-a claims and never completes or fails the job
	job, err := s.ClaimJob(ctx, "worker-a", now, time.Time{})
	require.NoError(t, err)
	require.NotNil(t, job)

	later := now.Add(time.Minute)
	none, err := s.ClaimJob(ctx, "worker-b", later, later.Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Nil(t, none, "lock still fresh")

	later = now.Add(7 * 24 * time.Hour)
	none, err = s.ClaimJob(ctx, "worker-b", later, time.Time{})
	require.NoError(t, err)
	assert.Nil(t, none, "zero staleBefore never expires locks")

	again, err := s.ClaimJob(ctx, "worker-b", later, later.Add(-5*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, job.ID, again.ID)
	assert.Equal(t, "worker-b", again.LockedBy)
	assert.Equal(t, 2, again.Attempts)
}
