package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/koladefaj/document-intelligence-backend/internal/model"
)

// DefaultPassword is the plain password of every fixture user.
const DefaultPassword = "password123"

var seq int64

func nextSeq() int64 {
	return atomic.AddInt64(&seq, 1)
}

// TestUser creates an active user whose password is DefaultPassword.
func TestUser(t *testing.T, db *gorm.DB, opts ...func(*model.User)) *model.User {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(DefaultPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}
	user := &model.User{
		Email:          fmt.Sprintf("user_%d@example.com", nextSeq()),
		HashedPassword: string(hash),
		Role:           model.RoleUser,
		IsActive:       true,
	}
	for _, opt := range opts {
		opt(user)
	}

	active := user.IsActive
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}
	// a false bool is a zero value, so the column default wins on insert
	if !active {
		if err := db.Model(user).Update("is_active", false).Error; err != nil {
			t.Fatalf("Failed to disable test user: %v", err)
		}
		user.IsActive = false
	}
	return user
}

func WithEmail(email string) func(*model.User) {
	return func(u *model.User) {
		u.Email = email
	}
}

func Disabled() func(*model.User) {
	return func(u *model.User) {
		u.IsActive = false
	}
}

// TestDocument creates a PENDING document owned by ownerID.
func TestDocument(t *testing.T, db *gorm.DB, ownerID string, opts ...func(*model.Document)) *model.Document {
	t.Helper()

	n := nextSeq()
	doc := &model.Document{
		OwnerID:        ownerID,
		FileName:       fmt.Sprintf("report_%d.txt", n),
		ContentType:    "text/plain",
		DetectedType:   "text/plain",
		SizeBytes:      128,
		ObjectKey:      fmt.Sprintf("documents/%d.txt", n),
		StorageLocator: fmt.Sprintf("memory://documents/%d.txt", n),
		Status:         model.DocumentStatusPending,
	}
	for _, opt := range opts {
		opt(doc)
	}

	if err := db.Create(doc).Error; err != nil {
		t.Fatalf("Failed to create test document: %v", err)
	}
	return doc
}

func WithStatus(status string) func(*model.Document) {
	return func(d *model.Document) {
		d.Status = status
	}
}

func WithTaskID(taskID string) func(*model.Document) {
	return func(d *model.Document) {
		d.TaskID = taskID
	}
}

func WithLocalPath(path string) func(*model.Document) {
	return func(d *model.Document) {
		d.LocalPath = path
	}
}

func WithObjectKey(key string) func(*model.Document) {
	return func(d *model.Document) {
		d.ObjectKey = key
	}
}

func WithAnalysis(rawText string, a *model.Analysis) func(*model.Document) {
	return func(d *model.Document) {
		d.RawText = rawText
		d.Analysis = a
	}
}
