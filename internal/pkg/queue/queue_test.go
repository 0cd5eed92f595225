package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koladefaj/document-intelligence-backend/config"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

func newTestBackend(client *redis.Client) *RedisBackend {
	return NewRedisBackend(client, RedisOptions{
		Name:              "test_queue",
		VisibilityTimeout: 30 * time.Second,
		ResultTTL:         time.Hour,
		ReapInterval:      50 * time.Millisecond,
		PollTimeout:       100 * time.Millisecond,
	}, nil)
}

func TestRedisBackend_Enqueue(t *testing.T) {
	_, client := setupTestRedis(t)
	b := newTestBackend(client)
	ctx := context.Background()

	t.Run("assigns job id", func(t *testing.T) {
		id, err := b.Enqueue(ctx, &JobMessage{DocumentID: "doc-1", OwnerID: "user-1"})
		require.NoError(t, err)
		assert.NotEmpty(t, id)

		st, err := b.Status(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, st.Status)
		assert.Equal(t, "doc-1", st.DocumentID)
		assert.Equal(t, "user-1", st.OwnerID)
		assert.Equal(t, 0, st.Attempts)
		assert.NotNil(t, st.EnqueuedAt)
		assert.Nil(t, st.Result)
	})

	t.Run("keeps caller job id", func(t *testing.T) {
		id, err := b.Enqueue(ctx, &JobMessage{JobID: "fixed-id", DocumentID: "doc-2"})
		require.NoError(t, err)
		assert.Equal(t, "fixed-id", id)
	})

	length, err := b.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), length)
}

func TestRedisBackend_ReserveFIFO(t *testing.T) {
	_, client := setupTestRedis(t)
	b := newTestBackend(client)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := b.Enqueue(ctx, &JobMessage{JobID: id, DocumentID: "doc-" + id})
		require.NoError(t, err)
	}

	for _, want := range []string{"a", "b", "c"} {
		d, err := b.Reserve(ctx, time.Second)
		require.NoError(t, err)
		require.NotNil(t, d)
		assert.Equal(t, want, d.Message.JobID)
		assert.Equal(t, "doc-"+want, d.Message.DocumentID)
		assert.Equal(t, 1, d.Attempt)
	}

	inFlight, err := b.InFlight(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), inFlight)
}

func TestRedisBackend_ReserveEmpty(t *testing.T) {
	_, client := setupTestRedis(t)
	b := newTestBackend(client)

	d, err := b.Reserve(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestRedisBackend_Lifecycle(t *testing.T) {
	mr, client := setupTestRedis(t)
	b := newTestBackend(client)
	ctx := context.Background()

	id, err := b.Enqueue(ctx, &JobMessage{DocumentID: "doc-1", OwnerID: "user-1"})
	require.NoError(t, err)

	d, err := b.Reserve(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, d)

	st, err := b.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusStarted, st.Status)
	assert.Equal(t, 1, st.Attempts)
	assert.NotNil(t, st.StartedAt)
	assert.True(t, mr.Exists("test_queue:lease:"+id))

	require.NoError(t, b.Complete(ctx, id, json.RawMessage(`{"document_id":"doc-1","status":"COMPLETED"}`)))

	st, err = b.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, st.Status)
	assert.True(t, st.IsTerminal())
	assert.JSONEq(t, `{"document_id":"doc-1","status":"COMPLETED"}`, string(st.Result))
	assert.NotNil(t, st.FinishedAt)
	assert.False(t, mr.Exists("test_queue:lease:"+id))
	assert.Equal(t, time.Hour, mr.TTL("test_queue:job:"+id))

	inFlight, err := b.InFlight(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), inFlight)

	// retention expiry removes the status record
	mr.FastForward(2 * time.Hour)
	_, err = b.Status(ctx, id)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestRedisBackend_Fail(t *testing.T) {
	_, client := setupTestRedis(t)
	b := newTestBackend(client)
	ctx := context.Background()

	id, err := b.Enqueue(ctx, &JobMessage{DocumentID: "doc-1"})
	require.NoError(t, err)
	_, err = b.Reserve(ctx, time.Second)
	require.NoError(t, err)

	require.NoError(t, b.Fail(ctx, id, "document too short"))

	st, err := b.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailure, st.Status)
	assert.Equal(t, "document too short", st.Error)
	assert.Nil(t, st.Result)
}

func TestRedisBackend_StatusIdempotent(t *testing.T) {
	_, client := setupTestRedis(t)
	b := newTestBackend(client)
	ctx := context.Background()

	id, err := b.Enqueue(ctx, &JobMessage{DocumentID: "doc-1"})
	require.NoError(t, err)

	first, err := b.Status(ctx, id)
	require.NoError(t, err)
	second, err := b.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRedisBackend_StatusUnknown(t *testing.T) {
	_, client := setupTestRedis(t)
	b := newTestBackend(client)

	_, err := b.Status(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestRedisBackend_RequeueAfterCrash(t *testing.T) {
	mr, client := setupTestRedis(t)
	b := newTestBackend(client)
	ctx := context.Background()

	id, err := b.Enqueue(ctx, &JobMessage{DocumentID: "doc-1"})
	require.NoError(t, err)

	// worker takes the job and dies without acknowledging
	d, err := b.Reserve(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, d)

	t.Run("live lease is left alone", func(t *testing.T) {
		moved, err := b.Requeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, moved)
	})

	mr.FastForward(31 * time.Second)

	moved, err := b.Requeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	st, err := b.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, st.Status)

	d, err = b.Reserve(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, id, d.Message.JobID)
	assert.Equal(t, 2, d.Attempt)
}

func TestRedisBackend_RequeueFinishedJobIsNoop(t *testing.T) {
	mr, client := setupTestRedis(t)
	b := newTestBackend(client)
	ctx := context.Background()

	id, err := b.Enqueue(ctx, &JobMessage{DocumentID: "doc-1"})
	require.NoError(t, err)
	_, err = b.Reserve(ctx, time.Second)
	require.NoError(t, err)
	require.NoError(t, b.Fail(ctx, id, "boom"))

	mr.FastForward(time.Minute)
	moved, err := b.Requeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, moved)

	length, err := b.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), length)
}

func TestRedisBackend_RequeueOrphanNeedsTwoSightings(t *testing.T) {
	_, client := setupTestRedis(t)
	b := newTestBackend(client)
	ctx := context.Background()

	id, err := b.Enqueue(ctx, &JobMessage{DocumentID: "doc-1"})
	require.NoError(t, err)
	// simulate a crash between BRPOPLPUSH and the start transaction
	require.NoError(t, client.RPopLPush(ctx, "test_queue:pending", "test_queue:processing").Err())

	moved, err := b.Requeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, moved)

	moved, err = b.Requeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	d, err := b.Reserve(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, id, d.Message.JobID)
}

func TestRedisBackend_ReserveDropsJobWithoutRecord(t *testing.T) {
	_, client := setupTestRedis(t)
	b := newTestBackend(client)
	ctx := context.Background()

	require.NoError(t, client.LPush(ctx, "test_queue:pending", "ghost").Err())

	d, err := b.Reserve(ctx, time.Second)
	require.NoError(t, err)
	assert.Nil(t, d)

	inFlight, err := b.InFlight(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), inFlight)
	_, err = b.Status(ctx, "ghost")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestRedisBackend_Consume(t *testing.T) {
	_, client := setupTestRedis(t)
	b := newTestBackend(client)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	okID, err := b.Enqueue(ctx, &JobMessage{DocumentID: "good"})
	require.NoError(t, err)
	badID, err := b.Enqueue(ctx, &JobMessage{DocumentID: "bad"})
	require.NoError(t, err)
	panicID, err := b.Enqueue(ctx, &JobMessage{DocumentID: "panic"})
	require.NoError(t, err)

	var concurrent, maxConcurrent int32
	handler := func(ctx context.Context, d *Delivery) (json.RawMessage, error) {
		n := atomic.AddInt32(&concurrent, 1)
		defer atomic.AddInt32(&concurrent, -1)
		for {
			m := atomic.LoadInt32(&maxConcurrent)
			if n <= m || atomic.CompareAndSwapInt32(&maxConcurrent, m, n) {
				break
			}
		}
		switch d.Message.DocumentID {
		case "bad":
			return nil, errors.New("scanned, requires OCR")
		case "panic":
			panic("unexpected")
		}
		return json.RawMessage(`{"ok":true}`), nil
	}

	done := make(chan error, 1)
	go func() { done <- b.Consume(ctx, 1, handler) }()

	assert.Eventually(t, func() bool {
		for _, id := range []string{okID, badID, panicID} {
			st, err := b.Status(context.Background(), id)
			if err != nil || !st.IsTerminal() {
				return false
			}
		}
		return true
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("consume did not stop")
	}

	st, err := b.Status(context.Background(), okID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, st.Status)
	assert.JSONEq(t, `{"ok":true}`, string(st.Result))

	st, err = b.Status(context.Background(), badID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailure, st.Status)
	assert.Equal(t, "scanned, requires OCR", st.Error)
	assert.Equal(t, 1, st.Attempts)

	st, err = b.Status(context.Background(), panicID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailure, st.Status)
	assert.Contains(t, st.Error, "panic")

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxConcurrent))
}

func TestStateToStatus(t *testing.T) {
	tests := []struct {
		state asynq.TaskState
		want  string
	}{
		{asynq.TaskStatePending, StatusPending},
		{asynq.TaskStateScheduled, StatusPending},
		{asynq.TaskStateRetry, StatusPending},
		{asynq.TaskStateActive, StatusStarted},
		{asynq.TaskStateCompleted, StatusSuccess},
		{asynq.TaskStateArchived, StatusFailure},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stateToStatus(tt.state), tt.state.String())
	}
}

func TestNew(t *testing.T) {
	_, client := setupTestRedis(t)

	b, err := New(config.QueueConfig{Driver: "redis", Name: "q"}, config.RedisConfig{}, client, nil)
	require.NoError(t, err)
	assert.IsType(t, &RedisBackend{}, b)

	_, err = New(config.QueueConfig{Driver: "sqs"}, config.RedisConfig{}, client, nil)
	assert.Error(t, err)
}

func TestRetryable(t *testing.T) {
	assert.Nil(t, Retryable(nil))

	base := errors.New("connection refused")
	err := Retryable(fmt.Errorf("load document: %w", base))
	assert.True(t, IsRetryable(err))
	assert.True(t, IsRetryable(fmt.Errorf("wrapped: %w", err)))
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "load document: connection refused", err.Error())

	assert.False(t, IsRetryable(base))
}

func TestRedisBackend_ConsumeRedeliversTransientErrors(t *testing.T) {
	mr, client := setupTestRedis(t)
	b := newTestBackend(client)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id, err := b.Enqueue(ctx, &JobMessage{DocumentID: "doc-1"})
	require.NoError(t, err)

	var calls int32
	handler := func(ctx context.Context, d *Delivery) (json.RawMessage, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, Retryable(errors.New("database is locked"))
		}
		return json.RawMessage(`{"ok":true}`), nil
	}

	done := make(chan error, 1)
	go func() { done <- b.Consume(ctx, 1, handler) }()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) == 1
	}, 5*time.Second, 10*time.Millisecond)

	// not acknowledged: still held in processing, not FAILURE
	st, err := b.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusStarted, st.Status)
	inFlight, err := b.InFlight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), inFlight)

	mr.FastForward(31 * time.Second)

	require.Eventually(t, func() bool {
		st, err := b.Status(context.Background(), id)
		return err == nil && st.Status == StatusSuccess
	}, 5*time.Second, 20*time.Millisecond)

	st, err = b.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Attempts)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("consume did not stop")
	}
}

func TestAsynqBackend_TaskHandler(t *testing.T) {
	mr, _ := setupTestRedis(t)
	b := NewAsynqBackend(asynq.RedisClientOpt{Addr: mr.Addr()}, AsynqOptions{Queue: "q"}, nil)
	defer b.Close()

	payload, err := json.Marshal(&JobMessage{JobID: "job-1", DocumentID: "doc-1"})
	require.NoError(t, err)
	task := asynq.NewTask(TaskProcessDocument, payload)

	t.Run("permanent failure skips retry", func(t *testing.T) {
		err := b.taskHandler(func(ctx context.Context, d *Delivery) (json.RawMessage, error) {
			assert.Equal(t, 1, d.Attempt)
			assert.Equal(t, "doc-1", d.Message.DocumentID)
			return nil, errors.New("document too short")
		})(context.Background(), task)
		require.Error(t, err)
		assert.ErrorIs(t, err, asynq.SkipRetry)
	})

	t.Run("transient failure is retried", func(t *testing.T) {
		err := b.taskHandler(func(ctx context.Context, d *Delivery) (json.RawMessage, error) {
			return nil, Retryable(errors.New("database is locked"))
		})(context.Background(), task)
		require.Error(t, err)
		assert.NotErrorIs(t, err, asynq.SkipRetry)
		assert.True(t, IsRetryable(err))
	})

	t.Run("malformed payload", func(t *testing.T) {
		err := b.taskHandler(func(ctx context.Context, d *Delivery) (json.RawMessage, error) {
			t.Fatal("handler must not run")
			return nil, nil
		})(context.Background(), asynq.NewTask(TaskProcessDocument, []byte("{")))
		assert.ErrorIs(t, err, asynq.SkipRetry)
	})

	t.Run("success", func(t *testing.T) {
		err := b.taskHandler(func(ctx context.Context, d *Delivery) (json.RawMessage, error) {
			return nil, nil
		})(context.Background(), task)
		assert.NoError(t, err)
	})
}
