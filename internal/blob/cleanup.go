package blob

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"drive/internal/models"
)

const (
	DefaultCleanupInterval = 10 * time.Minute
	DefaultCleanupBatch    = 100
)

type OrphanStore interface {
	ListPending(ctx context.Context, backend string, limit int) ([]*models.OrphanedBlob, error)
	Remove(ctx context.Context, id string) error
	RecordFailure(ctx context.Context, id string, cause error) error
}

type ReferenceChecker interface {
	IsStorageKeyReferenced(ctx context.Context, storageKey string) (bool, error)
}

// CleanupService deletes blobs queued in orphaned_blobs. A blob that picked up
// a new reference after it was queued (a copy racing the delete) is kept and
// only its queue row is dropped.
type CleanupService struct {
	orphans   OrphanStore
	refs      ReferenceChecker
	backend   Backend
	interval  time.Duration
	batchSize int
}

func NewCleanupService(orphans OrphanStore, refs ReferenceChecker, backend Backend) *CleanupService {
	return &CleanupService{
		orphans:   orphans,
		refs:      refs,
		backend:   backend,
		interval:  DefaultCleanupInterval,
		batchSize: DefaultCleanupBatch,
	}
}

func (s *CleanupService) Start(ctx context.Context) {
	slog.Info("starting blob cleanup service", "component", "blob_cleanup", "interval", s.interval, "backend", s.backend.Name())

	s.runCleanup(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping blob cleanup service", "component", "blob_cleanup")
			return
		case <-ticker.C:
			s.runCleanup(ctx)
		}
	}
}

// Reap makes one attempt at deleting an orphaned blob. Failures are recorded
// on the queue row so the next pass retries them.
func (s *CleanupService) Reap(ctx context.Context, orphan *models.OrphanedBlob) error {
	referenced, err := s.refs.IsStorageKeyReferenced(ctx, orphan.StorageKey)
	if err != nil {
		return err
	}
	if referenced {
		return s.orphans.Remove(ctx, orphan.ID)
	}

	if err := s.backend.Delete(ctx, orphan.StorageKey); err != nil {
		if recErr := s.orphans.RecordFailure(ctx, orphan.ID, err); recErr != nil {
			slog.Error("error recording blob delete failure", "component", "blob_cleanup", "error", recErr, "blob_key", orphan.StorageKey)
		}
		return fmt.Errorf("deleting orphaned blob: %w", err)
	}

	return s.orphans.Remove(ctx, orphan.ID)
}

func (s *CleanupService) runCleanup(ctx context.Context) {
	orphans, err := s.orphans.ListPending(ctx, s.backend.Name(), s.batchSize)
	if err != nil {
		slog.Error("error listing orphaned blobs", "component", "blob_cleanup", "error", err)
		return
	}

	reaped := 0
	for _, orphan := range orphans {
		if err := s.Reap(ctx, orphan); err != nil {
			slog.Warn("error reaping orphaned blob", "component", "blob_cleanup", "error", err, "blob_key", orphan.StorageKey, "attempts", orphan.Attempts+1)
			continue
		}
		reaped++
	}

	if reaped > 0 {
		slog.Info("deleted orphaned blobs", "component", "blob_cleanup", "count", reaped)
	}
}
