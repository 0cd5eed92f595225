package service

import "errors"

// Upload validation. All of them are client errors and never retried.
var (
	ErrEmptyFile       = errors.New("file is empty")
	ErrFileTooLarge    = errors.New("file exceeds the maximum upload size")
	ErrUnsupportedType = errors.New("file type is not allowed")
	ErrContentMismatch = errors.New("file extension does not match its content")
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrPasswordTooLong    = errors.New("password must be at most 72 bytes")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrUserDisabled       = errors.New("account is disabled")
	ErrDocumentNotFound   = errors.New("document not found")
	ErrTaskNotFound       = errors.New("task not found")
	ErrNotOwner           = errors.New("not authorized to access this resource")
	ErrDocumentBusy       = errors.New("document is already queued or processing")
	ErrDocumentFinished   = errors.New("document has already been processed")
	ErrStorageUnavailable = errors.New("object storage unavailable")
	ErrQueueUnavailable   = errors.New("job queue unavailable")
)

// IsValidation reports whether err is one of the upload validation errors.
func IsValidation(err error) bool {
	return errors.Is(err, ErrEmptyFile) ||
		errors.Is(err, ErrFileTooLarge) ||
		errors.Is(err, ErrUnsupportedType) ||
		errors.Is(err, ErrContentMismatch)
}
