package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koladefaj/document-intelligence-backend/internal/pkg/queue"
	"github.com/koladefaj/document-intelligence-backend/internal/testutil"
)

func setupTaskService(t *testing.T) (*TaskService, *queue.RedisBackend) {
	t.Helper()

	_, rdb := testutil.SetupRedis(t)
	q := queue.NewRedisBackend(rdb, queue.RedisOptions{Name: "test_tasks"}, nil)
	return NewTaskService(q), q
}

func TestTaskService_Status_Lifecycle(t *testing.T) {
	ctx := context.Background()
	svc, q := setupTaskService(t)

	_, err := q.Enqueue(ctx, &queue.JobMessage{JobID: "t1", DocumentID: "d1", OwnerID: "u1"})
	require.NoError(t, err)

	resp, err := svc.Status(ctx, "u1", "t1")
	require.NoError(t, err)
	assert.Equal(t, queue.StatusPending, resp.Status)
	assert.True(t, resp.IsPending)
	assert.False(t, resp.IsCompleted)
	assert.Nil(t, resp.Result)

	d, err := q.Reserve(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, d)

	resp, err = svc.Status(ctx, "u1", "t1")
	require.NoError(t, err)
	assert.Equal(t, queue.StatusStarted, resp.Status)
	assert.True(t, resp.IsPending)

	require.NoError(t, q.Complete(ctx, "t1", json.RawMessage(`{"document_id":"d1","status":"COMPLETED"}`)))

	resp, err = svc.Status(ctx, "u1", "t1")
	require.NoError(t, err)
	assert.Equal(t, queue.StatusSuccess, resp.Status)
	assert.True(t, resp.IsCompleted)
	assert.False(t, resp.IsPending)
	assert.JSONEq(t, `{"document_id":"d1","status":"COMPLETED"}`, string(resp.Result))
	assert.Empty(t, resp.Error)
}

func TestTaskService_Status_Failure(t *testing.T) {
	ctx := context.Background()
	svc, q := setupTaskService(t)

	_, err := q.Enqueue(ctx, &queue.JobMessage{JobID: "t1", DocumentID: "d1", OwnerID: "u1"})
	require.NoError(t, err)
	_, err = q.Reserve(ctx, time.Second)
	require.NoError(t, err)
	require.NoError(t, q.Fail(ctx, "t1", "document too short"))

	resp, err := svc.Status(ctx, "u1", "t1")
	require.NoError(t, err)
	assert.True(t, resp.IsFailed)
	assert.False(t, resp.IsPending)
	assert.Equal(t, "document too short", resp.Error)
	assert.Nil(t, resp.Result)
}

func TestTaskService_Authorize(t *testing.T) {
	ctx := context.Background()
	svc, q := setupTaskService(t)

	_, err := q.Enqueue(ctx, &queue.JobMessage{JobID: "t1", DocumentID: "d1", OwnerID: "u1"})
	require.NoError(t, err)

	st, err := svc.Authorize(ctx, "u1", "t1")
	require.NoError(t, err)
	assert.Equal(t, "d1", st.DocumentID)

	_, err = svc.Authorize(ctx, "u2", "t1")
	assert.ErrorIs(t, err, ErrNotOwner)

	_, err = svc.Authorize(ctx, "u1", "nope")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}
