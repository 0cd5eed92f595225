package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/koladefaj/document-intelligence-backend/internal/model"
	"github.com/koladefaj/document-intelligence-backend/internal/model/dto"
	"github.com/koladefaj/document-intelligence-backend/internal/pkg/queue"
	"github.com/koladefaj/document-intelligence-backend/internal/repository"
)

type DocumentService struct {
	docRepo *repository.DocumentRepository
	queue   queue.Backend
	log     *zap.Logger
}

func NewDocumentService(docRepo *repository.DocumentRepository, q queue.Backend, log *zap.Logger) *DocumentService {
	if log == nil {
		log = zap.NewNop()
	}
	return &DocumentService{docRepo: docRepo, queue: q, log: log}
}

func (s *DocumentService) getOwned(userID, docID string) (*model.Document, error) {
	doc, err := s.docRepo.GetByID(docID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	if doc.OwnerID != userID {
		return nil, ErrNotOwner
	}
	return doc, nil
}

func (s *DocumentService) Get(userID, docID string) (*dto.DocumentResponse, error) {
	doc, err := s.getOwned(userID, docID)
	if err != nil {
		return nil, err
	}
	return dto.NewDocumentResponse(doc), nil
}

func (s *DocumentService) List(userID string, page, pageSize int) ([]*dto.DocumentListItem, int64, error) {
	docs, total, err := s.docRepo.ListByOwner(userID, page, pageSize)
	if err != nil {
		return nil, 0, err
	}

	items := make([]*dto.DocumentListItem, 0, len(docs))
	for _, d := range docs {
		items = append(items, &dto.DocumentListItem{
			ID:        d.ID,
			FileName:  d.FileName,
			Status:    d.Status,
			TaskID:    d.TaskID,
			CreatedAt: d.CreatedAt,
		})
	}
	return items, total, nil
}

// Retry enqueues a new job for a document that has no live job. A PROCESSING
// document is accepted only when its job already ended, which happens when the
// worker could not record the outcome. Anything queued, running or finished is
// rejected.
func (s *DocumentService) Retry(ctx context.Context, userID, docID string) (*dto.RetryResponse, error) {
	doc, err := s.getOwned(userID, docID)
	if err != nil {
		return nil, err
	}

	switch doc.Status {
	case model.DocumentStatusCompleted, model.DocumentStatusFailed:
		return nil, ErrDocumentFinished
	case model.DocumentStatusProcessing:
		if doc.TaskID == "" {
			return nil, ErrDocumentBusy
		}
	}

	if doc.TaskID != "" {
		st, err := s.queue.Status(ctx, doc.TaskID)
		switch {
		case errors.Is(err, queue.ErrJobNotFound):
			// never enqueued or already expired
		case err != nil:
			return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
		case !st.IsTerminal():
			return nil, ErrDocumentBusy
		}
	}

	taskID := uuid.NewString()
	ok, err := s.docRepo.SwapTaskID(doc.ID, doc.TaskID, taskID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrDocumentBusy
	}

	_, err = s.queue.Enqueue(ctx, &queue.JobMessage{
		JobID:      taskID,
		DocumentID: doc.ID,
		OwnerID:    doc.OwnerID,
		MimeHint:   doc.DetectedType,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}

	s.log.Info("document re-enqueued",
		zap.String("document_id", doc.ID),
		zap.String("task_id", taskID),
		zap.String("previous_task_id", doc.TaskID),
	)
	return &dto.RetryResponse{
		DocumentID: doc.ID,
		TaskID:     taskID,
		Status:     model.DocumentStatusProcessing,
	}, nil
}
