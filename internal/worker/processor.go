package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/koladefaj/document-intelligence-backend/config"
	"github.com/koladefaj/document-intelligence-backend/internal/model"
	"github.com/koladefaj/document-intelligence-backend/internal/pkg/pubsub"
	"github.com/koladefaj/document-intelligence-backend/internal/pkg/queue"
	"github.com/koladefaj/document-intelligence-backend/internal/pkg/storage"
	"github.com/koladefaj/document-intelligence-backend/internal/repository"
	"github.com/koladefaj/document-intelligence-backend/internal/summarizer"
)

const (
	reasonTooManyDeliveries = "exceeded delivery attempts"
	reasonDocumentMissing   = "document not found"
	reasonFileUnavailable   = "stored file unavailable"
)

// Engine turns a stored file into raw text plus analysis.
type Engine interface {
	Process(ctx context.Context, path, mimeHint string) (*summarizer.Result, error)
}

// Notifier announces terminal job states, at most once per task.
type Notifier interface {
	Publish(ctx context.Context, ev *pubsub.Event) error
}

// JobResult is stored as the job result on success.
type JobResult struct {
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
}

// Processor runs one document job: claim the document, run the engine,
// persist the outcome and publish it.
type Processor struct {
	docRepo       *repository.DocumentRepository
	store         storage.ObjectStore
	engine        Engine
	notifier      Notifier
	maxDeliveries int
	log           *zap.Logger
}

func NewProcessor(
	docRepo *repository.DocumentRepository,
	store storage.ObjectStore,
	engine Engine,
	notifier Notifier,
	cfg *config.Config,
	log *zap.Logger,
) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{
		docRepo:       docRepo,
		store:         store,
		engine:        engine,
		notifier:      notifier,
		maxDeliveries: cfg.Queue.MaxDeliveries,
		log:           log,
	}
}

// Process is a queue.Handler. A plain returned error marks the job FAILURE;
// the document is already FAILED by then. Database errors are returned as
// queue.Retryable so the job is delivered again once the store is back.
func (p *Processor) Process(ctx context.Context, d *queue.Delivery) (json.RawMessage, error) {
	msg := d.Message
	log := p.log.With(
		zap.String("job_id", msg.JobID),
		zap.String("document_id", msg.DocumentID),
		zap.Int("attempt", d.Attempt),
	)

	if p.maxDeliveries > 0 && d.Attempt > p.maxDeliveries {
		log.Error("job redelivered too often, giving up")
		return nil, p.fail(ctx, log, msg.JobID, msg.DocumentID, reasonTooManyDeliveries)
	}

	doc, err := p.docRepo.GetByID(msg.DocumentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			p.publish(ctx, log, &pubsub.Event{
				TaskID:     msg.JobID,
				DocumentID: msg.DocumentID,
				Status:     model.DocumentStatusFailed,
				Error:      reasonDocumentMissing,
			})
			return nil, errors.New(reasonDocumentMissing)
		}
		log.Error("failed to load document", zap.Error(err))
		return nil, queue.Retryable(fmt.Errorf("load document: %w", err))
	}

	if doc.TaskID != "" && doc.TaskID != msg.JobID {
		log.Warn("job superseded", zap.String("current_task_id", doc.TaskID))
		return nil, fmt.Errorf("superseded by task %s", doc.TaskID)
	}
	if doc.IsTerminal() {
		log.Info("document already finished", zap.String("status", doc.Status))
		return p.report(ctx, log, msg.JobID, doc)
	}

	claimed, err := p.docRepo.MarkProcessing(doc.ID)
	if err != nil {
		log.Error("failed to claim document", zap.Error(err))
		return nil, queue.Retryable(fmt.Errorf("claim document: %w", err))
	}
	if !claimed {
		// finished between the read and the claim
		if doc, err = p.docRepo.GetByID(doc.ID); err != nil {
			return nil, queue.Retryable(fmt.Errorf("reload document: %w", err))
		}
		return p.report(ctx, log, msg.JobID, doc)
	}

	path, cleanup, err := p.localFile(ctx, doc)
	if err != nil {
		log.Error("failed to fetch document file", zap.Error(err))
		return nil, p.fail(ctx, log, msg.JobID, doc.ID, reasonFileUnavailable)
	}
	defer cleanup()

	mimeHint := msg.MimeHint
	if mimeHint == "" {
		mimeHint = doc.DetectedType
	}

	res, err := p.engine.Process(ctx, path, mimeHint)
	if err != nil {
		if summarizer.IsProcessingError(err) {
			log.Warn("processing failed", zap.Error(err))
		} else {
			log.Error("engine returned unexpected error", zap.Error(err))
		}
		return nil, p.fail(ctx, log, msg.JobID, doc.ID, err.Error())
	}

	updated, err := p.docRepo.Complete(doc.ID, res.RawText, res.Analysis)
	if err != nil {
		// the document stays PROCESSING, which the next delivery claims again
		log.Error("failed to store result", zap.Error(err))
		return nil, queue.Retryable(fmt.Errorf("store result: %w", err))
	}
	if !updated {
		if doc, err = p.docRepo.GetByID(doc.ID); err != nil {
			return nil, queue.Retryable(fmt.Errorf("reload document: %w", err))
		}
		return p.report(ctx, log, msg.JobID, doc)
	}

	p.publish(ctx, log, &pubsub.Event{
		TaskID:     msg.JobID,
		DocumentID: doc.ID,
		Status:     model.DocumentStatusCompleted,
		Analysis:   res.Analysis,
	})
	log.Info("document processed",
		zap.Int("word_count", res.Analysis.WordCount),
		zap.String("provider", res.Analysis.ProviderID),
	)
	return json.Marshal(&JobResult{DocumentID: doc.ID, Status: model.DocumentStatusCompleted})
}

// report returns the outcome already stored on a terminal document. The event
// is published again in case the earlier attempt died before announcing it;
// the notifier drops it when this task already did.
func (p *Processor) report(ctx context.Context, log *zap.Logger, jobID string, doc *model.Document) (json.RawMessage, error) {
	ev := &pubsub.Event{
		TaskID:     jobID,
		DocumentID: doc.ID,
		Status:     doc.Status,
		Analysis:   doc.Analysis,
		Error:      doc.ErrorMessage,
	}
	p.publish(ctx, log, ev)

	if doc.Status == model.DocumentStatusFailed {
		reason := doc.ErrorMessage
		if reason == "" {
			reason = "document processing failed"
		}
		return nil, errors.New(reason)
	}
	return json.Marshal(&JobResult{DocumentID: doc.ID, Status: doc.Status})
}

// fail marks the document FAILED and publishes the failure. Each step runs
// even if the other one fails.
func (p *Processor) fail(ctx context.Context, log *zap.Logger, jobID, docID, reason string) error {
	if _, err := p.docRepo.Fail(docID, reason); err != nil {
		log.Error("failed to mark document failed", zap.Error(err))
	}
	p.publish(ctx, log, &pubsub.Event{
		TaskID:     jobID,
		DocumentID: docID,
		Status:     model.DocumentStatusFailed,
		Error:      reason,
	})
	return errors.New(reason)
}

func (p *Processor) publish(ctx context.Context, log *zap.Logger, ev *pubsub.Event) {
	if err := p.notifier.Publish(ctx, ev); err != nil {
		log.Error("failed to publish notification", zap.String("status", ev.Status), zap.Error(err))
	}
}

// localFile prefers the staged copy and falls back to the object store.
func (p *Processor) localFile(ctx context.Context, doc *model.Document) (string, func(), error) {
	if doc.LocalPath != "" {
		if _, err := os.Stat(doc.LocalPath); err == nil {
			return doc.LocalPath, func() {}, nil
		}
	}

	path, err := p.store.Get(ctx, doc.ObjectKey)
	if err != nil {
		return "", nil, err
	}
	return path, func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			p.log.Warn("failed to remove fetched file", zap.String("path", path), zap.Error(err))
		}
	}, nil
}
