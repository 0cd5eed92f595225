package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/koladefaj/document-intelligence-backend/internal/model"
)

var terminalStatuses = []string{model.DocumentStatusCompleted, model.DocumentStatusFailed}

type DocumentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) Create(doc *model.Document) error {
	return r.db.Create(doc).Error
}

func (r *DocumentRepository) GetByID(id string) (*model.Document, error) {
	var doc model.Document
	err := r.db.Where("id = ?", id).First(&doc).Error
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *DocumentRepository) GetByTaskID(taskID string) (*model.Document, error) {
	var doc model.Document
	err := r.db.Where("task_id = ?", taskID).First(&doc).Error
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *DocumentRepository) Delete(id string) error {
	return r.db.Delete(&model.Document{}, "id = ?", id).Error
}

// ListByOwner returns one page of the owner's documents, newest first.
func (r *DocumentRepository) ListByOwner(ownerID string, page, pageSize int) ([]*model.Document, int64, error) {
	var docs []*model.Document
	var total int64

	query := r.db.Model(&model.Document{}).Where("owner_id = ?", ownerID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.Omit("raw_text").Order("created_at DESC").Order("id DESC").
		Offset(offset).Limit(pageSize).Find(&docs).Error
	if err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}

// SwapTaskID replaces oldTaskID with newTaskID on a document that has not
// finished and puts it back to PENDING. Of two concurrent callers holding the
// same oldTaskID only one wins.
func (r *DocumentRepository) SwapTaskID(id, oldTaskID, newTaskID string) (bool, error) {
	res := r.db.Model(&model.Document{}).
		Where("id = ? AND status NOT IN ? AND task_id = ?", id, terminalStatuses, oldTaskID).
		Updates(map[string]interface{}{
			"task_id": newTaskID,
			"status":  model.DocumentStatusPending,
		})
	return res.RowsAffected > 0, res.Error
}

// MarkProcessing claims a document for a worker. It fails for documents that
// already reached a terminal status.
func (r *DocumentRepository) MarkProcessing(id string) (bool, error) {
	res := r.db.Model(&model.Document{}).
		Where("id = ? AND status NOT IN ?", id, terminalStatuses).
		Update("status", model.DocumentStatusProcessing)
	return res.RowsAffected > 0, res.Error
}

// Complete stores the result and moves the document to COMPLETED in one
// transaction. It is a no-op for terminal documents.
func (r *DocumentRepository) Complete(id, rawText string, analysis *model.Analysis) (bool, error) {
	var updated bool
	err := r.db.Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		res := tx.Model(&model.Document{}).
			Where("id = ? AND status NOT IN ?", id, terminalStatuses).
			Updates(map[string]interface{}{
				"raw_text":      rawText,
				"analysis":      analysis,
				"status":        model.DocumentStatusCompleted,
				"error_message": "",
				"completed_at":  &now,
			})
		if res.Error != nil {
			return res.Error
		}
		updated = res.RowsAffected > 0
		return nil
	})
	return updated, err
}

// Fail moves the document to FAILED. raw_text and analysis stay empty.
func (r *DocumentRepository) Fail(id, reason string) (bool, error) {
	now := time.Now()
	res := r.db.Model(&model.Document{}).
		Where("id = ? AND status NOT IN ?", id, terminalStatuses).
		Updates(map[string]interface{}{
			"status":        model.DocumentStatusFailed,
			"error_message": reason,
			"completed_at":  &now,
		})
	return res.RowsAffected > 0, res.Error
}

// ListStagedBefore returns terminal documents whose staged copy is older
// than cutoff.
func (r *DocumentRepository) ListStagedBefore(cutoff time.Time, limit int) ([]*model.Document, error) {
	var docs []*model.Document
	err := r.db.Select("id", "owner_id", "local_path", "status", "updated_at").
		Where("local_path <> '' AND status IN ? AND updated_at < ?", terminalStatuses, cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Find(&docs).Error
	return docs, err
}

func (r *DocumentRepository) ClearLocalPath(id string) error {
	return r.db.Model(&model.Document{}).Where("id = ?", id).
		UpdateColumn("local_path", "").Error
}
