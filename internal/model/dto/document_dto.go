package dto

import (
	"time"

	"github.com/koladefaj/document-intelligence-backend/internal/model"
)

// RawTextPreviewLimit bounds raw_text_preview in characters.
const RawTextPreviewLimit = 500

type UploadResponse struct {
	DocumentID string `json:"document_id"`
	TaskID     string `json:"task_id"`
	Status     string `json:"status"`
	FileName   string `json:"file_name"`
	URL        string `json:"url"`
	Owner      string `json:"owner"`
}

type DocumentResponse struct {
	ID             string          `json:"id"`
	FileName       string          `json:"file_name"`
	Status         string          `json:"status"`
	TaskID         string          `json:"task_id,omitempty"`
	RawTextPreview string          `json:"raw_text_preview"`
	Analysis       *model.Analysis `json:"analysis"`
	Error          string          `json:"error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

type DocumentListItem struct {
	ID        string    `json:"id"`
	FileName  string    `json:"file_name"`
	Status    string    `json:"status"`
	TaskID    string    `json:"task_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type DocumentListQuery struct {
	Page     int `form:"page,default=1" binding:"min=1"`
	PageSize int `form:"page_size,default=20" binding:"min=1,max=100"`
}

type RetryResponse struct {
	DocumentID string `json:"document_id"`
	TaskID     string `json:"task_id"`
	Status     string `json:"status"`
}

func NewDocumentResponse(doc *model.Document) *DocumentResponse {
	preview := doc.RawText
	if r := []rune(preview); len(r) > RawTextPreviewLimit {
		preview = string(r[:RawTextPreviewLimit])
	}
	return &DocumentResponse{
		ID:             doc.ID,
		FileName:       doc.FileName,
		Status:         doc.Status,
		TaskID:         doc.TaskID,
		RawTextPreview: preview,
		Analysis:       doc.Analysis,
		Error:          doc.ErrorMessage,
		CreatedAt:      doc.CreatedAt,
	}
}
