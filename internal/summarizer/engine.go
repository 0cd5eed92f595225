package summarizer

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/koladefaj/document-intelligence-backend/config"
	"github.com/koladefaj/document-intelligence-backend/internal/model"
	"github.com/koladefaj/document-intelligence-backend/internal/pkg/filetype"
)

var moneyMarkers = []string{"$", "USD", "NGN", "€"}

// Result is what the engine produces for one document.
type Result struct {
	RawText  string
	Analysis *model.Analysis
}

// Engine extracts text from a file and asks the configured backend for a
// summary. Only rate-limit failures of the backend are retried.
type Engine struct {
	backend       Backend
	retry         RetryPolicy
	maxInputChars int
	minTextChars  int
	log           *zap.Logger

	// newTimer overrides the backoff timer; nil uses real time
	newTimer func() backoff.Timer
}

func NewEngine(backend Backend, cfg config.SummarizerConfig, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		backend:       backend,
		retry:         retryPolicyFromConfig(cfg.Retry),
		maxInputChars: cfg.MaxInputChars,
		minTextChars:  cfg.MinTextChars,
		log:           log,
	}
	if e.maxInputChars <= 0 {
		e.maxInputChars = 8000
	}
	if e.minTextChars <= 0 {
		e.minTextChars = 50
	}
	return e
}

func (e *Engine) Provider() string {
	return e.backend.Name()
}

// Process runs extraction and summarization for the file at path. Every
// returned error is a *ProcessingError.
func (e *Engine) Process(ctx context.Context, path, mimeHint string) (*Result, error) {
	ext, err := Extract(path, mimeHint)
	if err != nil {
		return nil, &ProcessingError{Reason: ReasonExtraction, Err: err}
	}
	if ext.Unsupported {
		e.log.Warn("no extractor for file type", zap.String("type", ext.Type), zap.String("path", path))
	}

	text := ext.Text
	trimmed := strings.TrimSpace(text)
	if ext.Type == filetype.PDF && trimmed == "" {
		return nil, &ProcessingError{Reason: ReasonScanned}
	}
	if utf8.RuneCountInString(trimmed) < e.minTextChars {
		return nil, &ProcessingError{Reason: ReasonTooShort}
	}

	input := truncateRunes(text, e.maxInputChars)
	e.log.Info("summarizing document",
		zap.String("provider", e.backend.Name()),
		zap.String("type", ext.Type),
		zap.Int("input_chars", utf8.RuneCountInString(input)),
	)

	summary, err := e.summarize(ctx, input)
	if err != nil {
		return nil, err
	}

	analysis := Analyze(text)
	analysis.Summary = summary
	analysis.ProviderID = e.backend.Name()
	analysis.PageCount = ext.PageCount
	return &Result{RawText: text, Analysis: analysis}, nil
}

func (e *Engine) summarize(ctx context.Context, text string) (string, error) {
	bo := e.retry.newBackOff()
	var timer backoff.Timer
	if e.newTimer != nil {
		timer = e.newTimer()
	}

	summary, err := backoff.RetryNotifyWithTimerAndData(func() (string, error) {
		summary, err := e.backend.Summarize(ctx, text)
		if err != nil {
			var rl *RateLimitError
			if !errors.As(err, &rl) {
				return "", backoff.Permanent(&ProcessingError{Reason: ReasonBackend, Err: err})
			}
			bo.RetryAfter(rl.RetryAfter)
			return "", err
		}
		if summary == "" {
			return "", backoff.Permanent(&ProcessingError{Reason: ReasonEmptySummary})
		}
		return summary, nil
	}, bo.withContext(ctx), func(err error, wait time.Duration) {
		e.log.Warn("summarization rate limited, backing off",
			zap.String("provider", e.backend.Name()),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}, timer)
	if err == nil {
		return summary, nil
	}

	var pe *ProcessingError
	switch {
	case errors.As(err, &pe):
		return "", pe
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "", &ProcessingError{Reason: ReasonCancelled, Err: err}
	default:
		return "", &ProcessingError{Reason: ReasonRetryExhausted, Err: err}
	}
}

// Analyze derives the cheap text statistics. Summary and provider are left
// for the caller.
func Analyze(text string) *model.Analysis {
	money := false
	for _, m := range moneyMarkers {
		if strings.Contains(text, m) {
			money = true
			break
		}
	}
	return &model.Analysis{
		WordCount:     len(strings.Fields(text)),
		ContainsEmail: strings.Contains(text, "@"),
		ContainsMoney: money,
	}
}

func truncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
