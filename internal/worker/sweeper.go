package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/koladefaj/document-intelligence-backend/internal/repository"
)

const sweepBatch = 200

// Sweeper removes staged upload copies that are no longer needed: those of
// finished documents, and files that never got a document row.
type Sweeper struct {
	docRepo    *repository.DocumentRepository
	stagingDir string
	ttl        time.Duration
	dryRun     bool
	log        *zap.Logger
	now        func() time.Time
}

func NewSweeper(docRepo *repository.DocumentRepository, stagingDir string, ttl time.Duration, log *zap.Logger) *Sweeper {
	if log == nil {
		log = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Sweeper{
		docRepo:    docRepo,
		stagingDir: stagingDir,
		ttl:        ttl,
		log:        log,
		now:        time.Now,
	}
}

// DryRun makes Sweep only count what it would remove.
func (s *Sweeper) DryRun(v bool) *Sweeper {
	s.dryRun = v
	return s
}

// Sweep runs one pass and returns the number of files removed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.ttl)
	removed := 0

	for {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		docs, err := s.docRepo.ListStagedBefore(cutoff, sweepBatch)
		if err != nil {
			return removed, err
		}
		cleared := 0
		for _, doc := range docs {
			if s.dryRun {
				s.log.Info("would remove staged file", zap.String("document_id", doc.ID), zap.String("path", doc.LocalPath))
				removed++
				continue
			}
			if err := os.Remove(doc.LocalPath); err != nil && !os.IsNotExist(err) {
				s.log.Warn("failed to remove staged file", zap.String("path", doc.LocalPath), zap.Error(err))
				continue
			}
			if err := s.docRepo.ClearLocalPath(doc.ID); err != nil {
				return removed, err
			}
			removed++
			cleared++
		}
		// rows that were not cleared would come back on the next page
		if len(docs) < sweepBatch || cleared == 0 {
			break
		}
	}

	orphans, err := s.sweepOrphans(cutoff)
	if err != nil {
		return removed, err
	}
	removed += orphans

	if removed > 0 {
		s.log.Info("staging sweep finished", zap.Int("removed", removed), zap.Bool("dry_run", s.dryRun))
	}
	return removed, nil
}

// sweepOrphans removes old staged files whose document row does not exist,
// left behind by uploads that were rolled back or interrupted.
func (s *Sweeper) sweepOrphans(cutoff time.Time) (int, error) {
	if s.stagingDir == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(s.stagingDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		docID := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		if _, err := s.docRepo.GetByID(docID); !errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}

		path := filepath.Join(s.stagingDir, entry.Name())
		if s.dryRun {
			s.log.Info("would remove orphaned staged file", zap.String("path", path))
			removed++
			continue
		}
		if err := os.Remove(path); err != nil {
			s.log.Warn("failed to remove orphaned staged file", zap.String("path", path), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}
