package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	DocumentStatusPending    = "PENDING"
	DocumentStatusProcessing = "PROCESSING"
	DocumentStatusCompleted  = "COMPLETED"
	DocumentStatusFailed     = "FAILED"
)

// Analysis is the structured summarization result stored as a JSON column.
type Analysis struct {
	Summary       string `json:"summary"`
	WordCount     int    `json:"word_count"`
	ContainsEmail bool   `json:"contains_email"`
	ContainsMoney bool   `json:"contains_money"`
	ProviderID    string `json:"provider_id"`
	PageCount     int    `json:"page_count,omitempty"`
}

func (a Analysis) Value() (driver.Value, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (a *Analysis) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	default:
		return fmt.Errorf("unsupported analysis column type %T", value)
	}
}

type Document struct {
	ID             string     `gorm:"primaryKey;size:36" json:"id"`
	OwnerID        string     `gorm:"size:36;not null;index" json:"owner_id"`
	FileName       string     `gorm:"size:255;not null" json:"file_name"`
	ContentType    string     `gorm:"size:127" json:"content_type"`
	DetectedType   string     `gorm:"size:127" json:"detected_type"`
	SizeBytes      int64      `json:"size_bytes"`
	ObjectKey      string     `gorm:"size:512" json:"-"`
	StorageLocator string     `gorm:"size:1024" json:"storage_locator"`
	LocalPath      string     `gorm:"size:1024" json:"-"`
	TaskID         string     `gorm:"size:64;index" json:"task_id"`
	Status         string     `gorm:"size:20;not null;default:PENDING;index" json:"status"`
	RawText        string     `gorm:"type:text" json:"-"`
	Analysis       *Analysis  `gorm:"type:json" json:"analysis"`
	ErrorMessage   string     `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt      time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

func (Document) TableName() string {
	return "documents"
}

func (d *Document) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Status == "" {
		d.Status = DocumentStatusPending
	}
	return nil
}

// IsTerminal reports whether the document reached COMPLETED or FAILED.
func (d *Document) IsTerminal() bool {
	return IsTerminalDocumentStatus(d.Status)
}

func IsTerminalDocumentStatus(status string) bool {
	return status == DocumentStatusCompleted || status == DocumentStatusFailed
}
