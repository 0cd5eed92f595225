package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/koladefaj/document-intelligence-backend/config"
	"github.com/koladefaj/document-intelligence-backend/internal/model"
	"github.com/koladefaj/document-intelligence-backend/internal/model/dto"
	"github.com/koladefaj/document-intelligence-backend/internal/pkg/filetype"
	"github.com/koladefaj/document-intelligence-backend/internal/pkg/queue"
	"github.com/koladefaj/document-intelligence-backend/internal/pkg/storage"
	"github.com/koladefaj/document-intelligence-backend/internal/repository"
)

// allowedTypes maps a detected content type to the extensions a file of
// that type may carry. application/zip covers OOXML files whose parts were
// not recognised individually.
var allowedTypes = map[string][]string{
	filetype.PDF:  {".pdf"},
	filetype.DOCX: {".docx"},
	filetype.DOC:  {".doc"},
	filetype.XLSX: {".xlsx"},
	filetype.XLS:  {".xls"},
	filetype.CSV:  {".csv"},
	filetype.Text: {".txt", ".csv", ".md"},
	filetype.Zip:  {".docx", ".xlsx"},
}

// ValidateContent checks size, true type and extension of an upload and
// returns the type the file will be processed as.
func ValidateContent(fileName string, data []byte, maxSize int64) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyFile
	}
	if maxSize > 0 && int64(len(data)) > maxSize {
		return "", ErrFileTooLarge
	}

	ext := filetype.Ext(fileName)
	detected := mimetype.Detect(data)
	known := false
	// walk up the detection tree so text/csv also matches the text/plain rule
	for m := detected; m != nil; m = m.Parent() {
		exts, ok := allowedTypes[filetype.Normalize(m.String())]
		if !ok {
			continue
		}
		known = true
		if slices.Contains(exts, ext) {
			if t := filetype.ForExtension(ext); t != "" {
				return t, nil
			}
			return filetype.Normalize(m.String()), nil
		}
	}

	if !known {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, filetype.Normalize(detected.String()))
	}
	return "", fmt.Errorf("%w: %s content with %q extension", ErrContentMismatch, filetype.Normalize(detected.String()), ext)
}

// UploadInput is one file received from an authenticated user.
type UploadInput struct {
	OwnerID     string
	FileName    string
	ContentType string
	Data        []byte
}

type UploadService struct {
	docRepo    *repository.DocumentRepository
	store      storage.ObjectStore
	queue      queue.Backend
	cfg        config.UploadConfig
	log        *zap.Logger
	putBackoff time.Duration
}

func NewUploadService(
	docRepo *repository.DocumentRepository,
	store storage.ObjectStore,
	q queue.Backend,
	cfg *config.Config,
	log *zap.Logger,
) *UploadService {
	if log == nil {
		log = zap.NewNop()
	}
	return &UploadService{
		docRepo:    docRepo,
		store:      store,
		queue:      q,
		cfg:        cfg.Upload,
		log:        log,
		putBackoff: 200 * time.Millisecond,
	}
}

// Upload validates the file, stages it, writes it to the object store,
// records the document and enqueues its processing job. Nothing is left
// behind when it returns an error.
func (s *UploadService) Upload(ctx context.Context, in *UploadInput) (*dto.UploadResponse, error) {
	detected, err := ValidateContent(in.FileName, in.Data, s.cfg.MaxSize)
	if err != nil {
		return nil, err
	}

	docID := uuid.NewString()
	taskID := uuid.NewString()
	ext := filetype.Ext(in.FileName)
	objectKey := fmt.Sprintf("documents/%s/%s%s", in.OwnerID, docID, ext)
	log := s.log.With(zap.String("document_id", docID), zap.String("owner_id", in.OwnerID))

	stagedPath, err := s.stage(docID+ext, in.Data)
	if err != nil {
		return nil, fmt.Errorf("stage upload: %w", err)
	}

	locator, err := s.putWithRetry(ctx, objectKey, in.Data, detected)
	if err != nil {
		s.removeStaged(stagedPath)
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	doc := &model.Document{
		ID:             docID,
		OwnerID:        in.OwnerID,
		FileName:       filepath.Base(in.FileName),
		ContentType:    in.ContentType,
		DetectedType:   detected,
		SizeBytes:      int64(len(in.Data)),
		ObjectKey:      objectKey,
		StorageLocator: locator,
		LocalPath:      stagedPath,
		TaskID:         taskID,
		Status:         model.DocumentStatusPending,
	}
	// the row is committed before the job exists so a fast worker always finds it
	if err := s.docRepo.Create(doc); err != nil {
		s.deleteObject(ctx, objectKey, log)
		s.removeStaged(stagedPath)
		return nil, fmt.Errorf("create document: %w", err)
	}

	_, err = s.queue.Enqueue(ctx, &queue.JobMessage{
		JobID:      taskID,
		DocumentID: docID,
		OwnerID:    in.OwnerID,
		MimeHint:   detected,
	})
	if err != nil {
		log.Error("enqueue failed, rolling back upload", zap.Error(err))
		if derr := s.docRepo.Delete(docID); derr != nil {
			// the row stays PENDING and can be re-enqueued through retry
			log.Error("rollback of document row failed", zap.Error(derr))
			return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
		}
		s.deleteObject(ctx, objectKey, log)
		s.removeStaged(stagedPath)
		return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}

	log.Info("document accepted",
		zap.String("task_id", taskID),
		zap.String("type", detected),
		zap.Int("size", len(in.Data)),
	)

	return &dto.UploadResponse{
		DocumentID: docID,
		TaskID:     taskID,
		Status:     model.DocumentStatusProcessing,
		FileName:   doc.FileName,
		URL:        locator,
		Owner:      in.OwnerID,
	}, nil
}

func (s *UploadService) stage(name string, data []byte) (string, error) {
	dir := s.cfg.StagingDir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "document-staging")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path, err := filepath.Abs(filepath.Join(dir, name))
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// putWithRetry is safe to repeat because the key is derived from the
// document id.
func (s *UploadService) putWithRetry(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	attempts := s.cfg.PutAttempts
	if attempts <= 0 {
		attempts = 1
	}
	exp := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(s.putBackoff),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxElapsedTime(0),
	)
	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)

	attempt := 0
	return backoff.RetryNotifyWithData(func() (string, error) {
		attempt++
		return s.store.Put(ctx, key, data, contentType)
	}, b, func(err error, wait time.Duration) {
		s.log.Warn("object store put failed",
			zap.String("key", key),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", wait),
			zap.Error(err),
		)
	})
}

func (s *UploadService) deleteObject(ctx context.Context, key string, log *zap.Logger) {
	if err := s.store.Delete(ctx, key); err != nil {
		log.Warn("failed to delete orphaned object", zap.String("key", key), zap.Error(err))
	}
}

func (s *UploadService) removeStaged(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.log.Warn("failed to remove staged file", zap.String("path", path), zap.Error(err))
	}
}
