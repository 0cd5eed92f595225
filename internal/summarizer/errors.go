package summarizer

import (
	"errors"
	"fmt"
	"time"
)

const (
	ReasonScanned        = "scanned, requires OCR"
	ReasonTooShort       = "document too short"
	ReasonExtraction     = "text extraction failed"
	ReasonBackend        = "summarization failed"
	ReasonEmptySummary   = "summarization returned no text"
	ReasonRetryExhausted = "summarization rate limited, retries exhausted"
	ReasonCancelled      = "summarization cancelled"
)

// ProcessingError is a terminal business failure. Retrying the same input
// will not change the outcome, so the worker fails the document instead.
type ProcessingError struct {
	Reason string
	Err    error
}

func (e *ProcessingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// RateLimitError is returned by backends when the provider throttled the call.
// It is the only error the engine retries.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s rate limited: %v", e.Provider, e.Err)
	}
	return e.Provider + " rate limited"
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

func IsRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

func IsProcessingError(err error) bool {
	var pe *ProcessingError
	return errors.As(err, &pe)
}
