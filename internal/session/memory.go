package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"drive/internal/models"
)

type memoryEntry struct {
	user      models.SessionUser
	expiresAt time.Time
}

type MemoryStore struct {
	mu       sync.RWMutex
	entries  map[string]memoryEntry
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
}

func NewMemoryStore(ttl, cleanupInterval time.Duration) *MemoryStore {
	return &MemoryStore{
		entries:  make(map[string]memoryEntry),
		ttl:      ttl,
		interval: cleanupInterval,
		now:      time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, user models.SessionUser) (string, error) {
	id, err := newSessionID()
	if err != nil {
		return "", fmt.Errorf("generating session id: %w", err)
	}

	s.mu.Lock()
	s.entries[id] = memoryEntry{user: user, expiresAt: s.now().Add(s.ttl)}
	s.mu.Unlock()

	return id, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.SessionUser, error) {
	s.mu.RLock()
	entry, ok := s.entries[id]
	s.mu.RUnlock()

	if !ok || !s.now().Before(entry.expiresAt) {
		return nil, ErrNotFound
	}
	user := entry.user
	return &user, nil
}

// Refresh replaces the projection and extends the expiry.
func (s *MemoryStore) Refresh(_ context.Context, id string, user models.SessionUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok || !s.now().Before(entry.expiresAt) {
		return ErrNotFound
	}
	s.entries[id] = memoryEntry{user: user, expiresAt: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Destroy(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Start evicts expired entries until ctx is cancelled.
func (s *MemoryStore) Start(ctx context.Context) {
	slog.Info("starting session janitor", "component", "session", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping session janitor", "component", "session")
			return
		case <-ticker.C:
			if evicted := s.evictExpired(); evicted > 0 {
				slog.Info("evicted expired sessions", "component", "session", "count", evicted)
			}
		}
	}
}

func (s *MemoryStore) evictExpired() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, entry := range s.entries {
		if !now.Before(entry.expiresAt) {
			delete(s.entries, id)
			evicted++
		}
	}
	return evicted
}
