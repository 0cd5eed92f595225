package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type AsynqOptions struct {
	Queue         string
	MaxDeliveries int
	ResultTTL     time.Duration
}

// AsynqBackend runs jobs on hibiken/asynq. Handler failures are archived
// without retry; asynq's lease recovery provides crash redelivery.
type AsynqBackend struct {
	redisOpt  asynq.RedisClientOpt
	client    *asynq.Client
	inspector *asynq.Inspector
	opts      AsynqOptions
	log       *zap.Logger
}

func NewAsynqBackend(redisOpt asynq.RedisClientOpt, opts AsynqOptions, log *zap.Logger) *AsynqBackend {
	if opts.Queue == "" {
		opts.Queue = "document_tasks"
	}
	if opts.MaxDeliveries <= 0 {
		opts.MaxDeliveries = 3
	}
	if opts.ResultTTL <= 0 {
		opts.ResultTTL = 24 * time.Hour
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AsynqBackend{
		redisOpt:  redisOpt,
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		opts:      opts,
		log:       log,
	}
}

func (b *AsynqBackend) Enqueue(ctx context.Context, msg *JobMessage) (string, error) {
	if msg.JobID == "" {
		return "", errors.New("job id is required")
	}
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	task := asynq.NewTask(TaskProcessDocument, payload)
	info, err := b.client.EnqueueContext(ctx, task,
		asynq.TaskID(msg.JobID),
		asynq.Queue(b.opts.Queue),
		asynq.MaxRetry(b.opts.MaxDeliveries),
		asynq.Retention(b.opts.ResultTTL),
	)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}
	return info.ID, nil
}

func (b *AsynqBackend) Status(ctx context.Context, jobID string) (*JobStatus, error) {
	info, err := b.inspector.GetTaskInfo(b.opts.Queue, jobID)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to read job %s: %w", jobID, err)
	}

	var msg JobMessage
	_ = json.Unmarshal(info.Payload, &msg)

	st := &JobStatus{
		JobID:      info.ID,
		DocumentID: msg.DocumentID,
		OwnerID:    msg.OwnerID,
		Status:     stateToStatus(info.State),
		Attempts:   info.Retried,
	}
	if !msg.EnqueuedAt.IsZero() {
		st.EnqueuedAt = &msg.EnqueuedAt
	}
	if !info.CompletedAt.IsZero() {
		st.FinishedAt = &info.CompletedAt
	} else if !info.LastFailedAt.IsZero() && st.Status == StatusFailure {
		st.FinishedAt = &info.LastFailedAt
	}
	switch st.Status {
	case StatusSuccess:
		if len(info.Result) > 0 {
			st.Result = json.RawMessage(info.Result)
		}
	case StatusFailure:
		st.Error = strings.TrimSuffix(info.LastErr, ": "+asynq.SkipRetry.Error())
	}
	return st, nil
}

func stateToStatus(state asynq.TaskState) string {
	switch state {
	case asynq.TaskStateActive:
		return StatusStarted
	case asynq.TaskStateCompleted:
		return StatusSuccess
	case asynq.TaskStateArchived:
		return StatusFailure
	default:
		// pending, scheduled, retry (awaiting redelivery), aggregating
		return StatusPending
	}
}

func (b *AsynqBackend) Consume(ctx context.Context, workers int, h Handler) error {
	if workers <= 0 {
		workers = 1
	}
	srv := asynq.NewServer(b.redisOpt, asynq.Config{
		Concurrency: workers,
		Queues:      map[string]int{b.opts.Queue: 1},
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskProcessDocument, b.taskHandler(h))

	if err := srv.Start(mux); err != nil {
		return fmt.Errorf("failed to start asynq server: %w", err)
	}
	<-ctx.Done()
	srv.Shutdown()
	return nil
}

// taskHandler adapts h to asynq. Only errors marked Retryable go back to asynq's
// retry schedule; every other failure archives the task right away.
func (b *AsynqBackend) taskHandler(h Handler) asynq.HandlerFunc {
	return func(tctx context.Context, t *asynq.Task) error {
		var msg JobMessage
		if err := json.Unmarshal(t.Payload(), &msg); err != nil {
			return fmt.Errorf("malformed job payload: %w", asynq.SkipRetry)
		}
		if id, ok := asynq.GetTaskID(tctx); ok {
			msg.JobID = id
		}
		retried, _ := asynq.GetRetryCount(tctx)

		result, err := h(tctx, &Delivery{Message: &msg, Attempt: retried + 1})
		if IsRetryable(err) {
			b.log.Warn("job hit a transient error, asynq will retry it", zap.String("job_id", msg.JobID), zap.Error(err))
			return err
		}
		if err != nil {
			return fmt.Errorf("%s: %w", err.Error(), asynq.SkipRetry)
		}
		if len(result) > 0 {
			if _, err := t.ResultWriter().Write(result); err != nil {
				b.log.Error("failed to store job result", zap.String("job_id", msg.JobID), zap.Error(err))
			}
		}
		return nil
	}
}

func (b *AsynqBackend) Close() error {
	ierr := b.inspector.Close()
	if err := b.client.Close(); err != nil {
		return err
	}
	return ierr
}
