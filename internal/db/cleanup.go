package db

import (
	"context"
	"log/slog"
	"time"
)

const (
	DefaultCleanupInterval = 1 * time.Hour
)

// CleanupService periodically clears reset tokens that expired unused.
type CleanupService struct {
	users    *UserRepository
	interval time.Duration
}

func NewCleanupService(users *UserRepository) *CleanupService {
	return &CleanupService{
		users:    users,
		interval: DefaultCleanupInterval,
	}
}

func (s *CleanupService) Start(ctx context.Context) {
	slog.Info("starting token cleanup service", "component", "cleanup", "interval", s.interval)

	s.runCleanup(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping token cleanup service", "component", "cleanup")
			return
		case <-ticker.C:
			s.runCleanup(ctx)
		}
	}
}

func (s *CleanupService) runCleanup(ctx context.Context) {
	cleared, err := s.users.DeleteExpiredResetTokens(ctx, time.Now())
	if err != nil {
		slog.Error("error clearing expired reset tokens", "component", "cleanup", "error", err)
		return
	}
	if cleared > 0 {
		slog.Info("cleared expired reset tokens", "component", "cleanup", "count", cleared)
	}
}
