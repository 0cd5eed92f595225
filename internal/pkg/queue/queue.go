package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/koladefaj/document-intelligence-backend/config"
)

// Job lifecycle as seen by the queue.
const (
	StatusPending = "PENDING"
	StatusStarted = "STARTED"
	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"
)

// TaskProcessDocument is the task type carried by every job.
const TaskProcessDocument = "document:process"

var ErrJobNotFound = errors.New("job not found")

type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Retryable marks a handler error as transient: the job is left unacknowledged
// and delivered again instead of being recorded as FAILURE.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

func IsRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

type JobMessage struct {
	JobID      string    `json:"job_id"`
	DocumentID string    `json:"document_id"`
	OwnerID    string    `json:"owner_id"`
	MimeHint   string    `json:"mime_hint,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// JobStatus is the status-store view of a job. It is the source of truth for
// job outcome; pub/sub notifications are only a convenience on top of it.
type JobStatus struct {
	JobID      string          `json:"job_id"`
	DocumentID string          `json:"document_id"`
	OwnerID    string          `json:"owner_id"`
	Status     string          `json:"status"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt *time.Time      `json:"enqueued_at,omitempty"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

func (s *JobStatus) IsTerminal() bool {
	return s.Status == StatusSuccess || s.Status == StatusFailure
}

// Delivery is one hand-off of a job to a worker. Attempt starts at 1 and grows
// with every redelivery after a worker crash.
type Delivery struct {
	Message *JobMessage
	Attempt int
}

// Handler processes one delivery. A nil error marks the job SUCCESS with the
// returned result; a non-nil error marks it FAILURE unless it was wrapped with
// Retryable, in which case the job is delivered again later.
type Handler func(ctx context.Context, d *Delivery) (json.RawMessage, error)

// Backend is durable task dispatch plus the job status store.
type Backend interface {
	Enqueue(ctx context.Context, msg *JobMessage) (string, error)
	Status(ctx context.Context, jobID string) (*JobStatus, error)
	// Consume runs workers consumers, each holding at most one job, until ctx
	// is cancelled. In-flight jobs are finished before it returns.
	Consume(ctx context.Context, workers int, h Handler) error
	Close() error
}

// New builds the backend chosen by cfg.Driver.
func New(cfg config.QueueConfig, redisCfg config.RedisConfig, rdb *redis.Client, log *zap.Logger) (Backend, error) {
	switch cfg.Driver {
	case "redis", "":
		return NewRedisBackend(rdb, RedisOptions{
			Name:              cfg.Name,
			VisibilityTimeout: cfg.VisibilityTimeout,
			ResultTTL:         cfg.ResultTTL,
			ReapInterval:      cfg.ReapInterval,
		}, log), nil
	case "asynq":
		return NewAsynqBackend(asynq.RedisClientOpt{
			Addr:     redisCfg.Addr(),
			Password: redisCfg.Password,
			DB:       redisCfg.DB,
		}, AsynqOptions{
			Queue:         cfg.Name,
			MaxDeliveries: cfg.MaxDeliveries,
			ResultTTL:     cfg.ResultTTL,
		}, log), nil
	default:
		return nil, fmt.Errorf("unsupported queue driver %q", cfg.Driver)
	}
}
