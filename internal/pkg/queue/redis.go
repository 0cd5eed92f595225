package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type RedisOptions struct {
	Name              string
	VisibilityTimeout time.Duration
	ResultTTL         time.Duration
	ReapInterval      time.Duration
	PollTimeout       time.Duration
}

// RedisBackend is a reliable list queue:
//
//	<name>:pending      LPUSH on enqueue, BRPOPLPUSH into processing
//	<name>:processing   jobs handed to a worker and not yet acknowledged
//	<name>:job:<id>     status hash, expires ResultTTL after the job finishes
//	<name>:lease:<id>   present while a live worker holds the job
//
// A job leaves processing only when the worker records its outcome. Jobs whose
// lease lapsed (worker crash) are pushed back onto pending by Requeue.
type RedisBackend struct {
	client *redis.Client
	opts   RedisOptions
	log    *zap.Logger
}

func NewRedisBackend(client *redis.Client, opts RedisOptions, log *zap.Logger) *RedisBackend {
	if opts.Name == "" {
		opts.Name = "document_tasks"
	}
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = 5 * time.Minute
	}
	if opts.ResultTTL <= 0 {
		opts.ResultTTL = 24 * time.Hour
	}
	if opts.ReapInterval <= 0 {
		opts.ReapInterval = 30 * time.Second
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisBackend{client: client, opts: opts, log: log}
}

func (b *RedisBackend) pendingKey() string        { return b.opts.Name + ":pending" }
func (b *RedisBackend) processingKey() string     { return b.opts.Name + ":processing" }
func (b *RedisBackend) jobKey(id string) string   { return b.opts.Name + ":job:" + id }
func (b *RedisBackend) leaseKey(id string) string { return b.opts.Name + ":lease:" + id }

func (b *RedisBackend) Enqueue(ctx context.Context, msg *JobMessage) (string, error) {
	if msg.JobID == "" {
		msg.JobID = uuid.NewString()
	}
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	_, err = b.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, b.jobKey(msg.JobID), map[string]interface{}{
			"job_id":      msg.JobID,
			"document_id": msg.DocumentID,
			"owner_id":    msg.OwnerID,
			"payload":     payload,
			"status":      StatusPending,
			"attempts":    0,
			"enqueued_at": msg.EnqueuedAt.UnixMilli(),
		})
		p.LPush(ctx, b.pendingKey(), msg.JobID)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}
	return msg.JobID, nil
}

// Reserve blocks up to timeout for the next job and moves it to processing.
// It returns (nil, nil) when nothing arrived.
func (b *RedisBackend) Reserve(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	id, err := b.client.BRPopLPush(ctx, b.pendingKey(), b.processingKey(), timeout).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to pop from queue: %w", err)
	}

	jobKey := b.jobKey(id)
	var payload *redis.StringCmd
	var attempts *redis.IntCmd
	_, err = b.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		payload = p.HGet(ctx, jobKey, "payload")
		attempts = p.HIncrBy(ctx, jobKey, "attempts", 1)
		p.HSet(ctx, jobKey, "status", StatusStarted, "started_at", time.Now().UTC().UnixMilli())
		p.HDel(ctx, jobKey, "orphan_seen")
		p.Set(ctx, b.leaseKey(id), "1", b.opts.VisibilityTimeout)
		return nil
	})
	if errors.Is(err, redis.Nil) {
		// status hash is gone; nothing left to run
		b.log.Warn("dropping job without status record", zap.String("job_id", id))
		b.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.LRem(ctx, b.processingKey(), 0, id)
			p.Del(ctx, jobKey, b.leaseKey(id))
			return nil
		})
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to start job %s: %w", id, err)
	}

	var msg JobMessage
	if err := json.Unmarshal([]byte(payload.Val()), &msg); err != nil {
		b.finish(ctx, id, StatusFailure, nil, "malformed job payload")
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return &Delivery{Message: &msg, Attempt: int(attempts.Val())}, nil
}

// Complete acknowledges a job as SUCCESS.
func (b *RedisBackend) Complete(ctx context.Context, jobID string, result json.RawMessage) error {
	return b.finish(ctx, jobID, StatusSuccess, result, "")
}

// Fail acknowledges a job as FAILURE.
func (b *RedisBackend) Fail(ctx context.Context, jobID, reason string) error {
	return b.finish(ctx, jobID, StatusFailure, nil, reason)
}

func (b *RedisBackend) finish(ctx context.Context, jobID, status string, result json.RawMessage, reason string) error {
	jobKey := b.jobKey(jobID)
	_, err := b.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, jobKey,
			"status", status,
			"result", string(result),
			"error", reason,
			"finished_at", time.Now().UTC().UnixMilli(),
		)
		p.Expire(ctx, jobKey, b.opts.ResultTTL)
		p.LRem(ctx, b.processingKey(), 0, jobID)
		p.Del(ctx, b.leaseKey(jobID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to finish job %s: %w", jobID, err)
	}
	return nil
}

// requeueScript moves one lease-less job from processing back to pending.
// A job still marked PENDING may sit in processing for the instant between
// BRPOPLPUSH and its start transaction, so it is only requeued the second
// time it is seen without a lease.
var requeueScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[3]) == 1 then return 0 end
local status = redis.call('HGET', KEYS[4], 'status')
if not status or status == 'SUCCESS' or status == 'FAILURE' then
	redis.call('LREM', KEYS[1], 0, ARGV[1])
	return 0
end
if status == 'PENDING' and redis.call('HSETNX', KEYS[4], 'orphan_seen', '1') == 1 then
	return 0
end
if redis.call('LREM', KEYS[1], 0, ARGV[1]) == 0 then return 0 end
redis.call('RPUSH', KEYS[2], ARGV[1])
redis.call('HSET', KEYS[4], 'status', 'PENDING')
redis.call('HDEL', KEYS[4], 'orphan_seen')
return 1
`)

// Requeue returns jobs held by crashed workers to the pending list and
// reports how many were moved.
func (b *RedisBackend) Requeue(ctx context.Context) (int, error) {
	ids, err := b.client.LRange(ctx, b.processingKey(), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list processing jobs: %w", err)
	}

	moved := 0
	for _, id := range ids {
		keys := []string{b.processingKey(), b.pendingKey(), b.leaseKey(id), b.jobKey(id)}
		n, err := requeueScript.Run(ctx, b.client, keys, id).Int()
		if err != nil {
			return moved, fmt.Errorf("failed to requeue job %s: %w", id, err)
		}
		if n == 1 {
			b.log.Warn("requeued job after lease expiry", zap.String("job_id", id))
			moved++
		}
	}
	return moved, nil
}

func (b *RedisBackend) Status(ctx context.Context, jobID string) (*JobStatus, error) {
	fields, err := b.client.HGetAll(ctx, b.jobKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read job %s: %w", jobID, err)
	}
	if len(fields) == 0 {
		return nil, ErrJobNotFound
	}

	st := &JobStatus{
		JobID:      jobID,
		DocumentID: fields["document_id"],
		OwnerID:    fields["owner_id"],
		Status:     fields["status"],
		Error:      fields["error"],
		EnqueuedAt: millis(fields["enqueued_at"]),
		StartedAt:  millis(fields["started_at"]),
		FinishedAt: millis(fields["finished_at"]),
	}
	st.Attempts, _ = strconv.Atoi(fields["attempts"])
	if r := fields["result"]; r != "" {
		st.Result = json.RawMessage(r)
	}
	return st, nil
}

func millis(v string) *time.Time {
	if v == "" {
		return nil
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}

// Length reports the number of jobs waiting for a worker.
func (b *RedisBackend) Length(ctx context.Context) (int64, error) {
	return b.client.LLen(ctx, b.pendingKey()).Result()
}

// InFlight reports the number of delivered but unacknowledged jobs.
func (b *RedisBackend) InFlight(ctx context.Context) (int64, error) {
	return b.client.LLen(ctx, b.processingKey()).Result()
}

func (b *RedisBackend) Consume(ctx context.Context, workers int, h Handler) error {
	if workers <= 0 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < workers; i++ {
		workerID := i
		g.Go(func() error {
			b.workLoop(gctx, workerID, h)
			return nil
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(b.opts.ReapInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if _, err := b.Requeue(gctx); err != nil && gctx.Err() == nil {
					b.log.Error("requeue failed", zap.Error(err))
				}
			}
		}
	})

	return g.Wait()
}

func (b *RedisBackend) workLoop(ctx context.Context, workerID int, h Handler) {
	log := b.log.With(zap.Int("worker", workerID))
	for {
		if ctx.Err() != nil {
			log.Info("worker shutting down")
			return
		}

		d, err := b.Reserve(ctx, b.opts.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("failed to reserve job", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		if d == nil {
			continue
		}

		// an accepted job runs to completion even if shutdown starts meanwhile
		b.handle(context.WithoutCancel(ctx), log, d, h)
	}
}

func (b *RedisBackend) handle(ctx context.Context, log *zap.Logger, d *Delivery, h Handler) {
	jobID := d.Message.JobID
	log = log.With(zap.String("job_id", jobID), zap.Int("attempt", d.Attempt))

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	go b.heartbeat(hbCtx, jobID)

	result, err := b.invoke(ctx, d, h)
	stopHeartbeat()

	if IsRetryable(err) {
		// no ack: the lease lapses and Requeue hands the job out again
		log.Warn("job hit a transient error, leaving it for redelivery", zap.Error(err))
		return
	}
	if err != nil {
		log.Warn("job failed", zap.Error(err))
		if ferr := b.Fail(ctx, jobID, err.Error()); ferr != nil {
			log.Error("failed to record job failure", zap.Error(ferr))
		}
		return
	}
	if cerr := b.Complete(ctx, jobID, result); cerr != nil {
		log.Error("failed to record job success", zap.Error(cerr))
		return
	}
	log.Info("job succeeded")
}

func (b *RedisBackend) invoke(ctx context.Context, d *Delivery, h Handler) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(ctx, d)
}

func (b *RedisBackend) heartbeat(ctx context.Context, jobID string) {
	ticker := time.NewTicker(b.opts.VisibilityTimeout / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.client.Set(ctx, b.leaseKey(jobID), "1", b.opts.VisibilityTimeout).Err(); err != nil && ctx.Err() == nil {
				b.log.Warn("lease refresh failed", zap.String("job_id", jobID), zap.Error(err))
			}
		}
	}
}

func (b *RedisBackend) Close() error {
	return nil
}
