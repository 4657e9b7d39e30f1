package auth

import (
	"fmt"
	"time"

	"drive/internal/constants"
)

type ResetTokenService struct {
	ttl time.Duration
	now func() time.Time
}

func NewResetTokenService(ttl time.Duration) *ResetTokenService {
	return &ResetTokenService{ttl: ttl, now: time.Now}
}

// WithClock replaces the time source, for tests that need to step past expiry.
func (s *ResetTokenService) WithClock(now func() time.Time) *ResetTokenService {
	s.now = now
	return s
}

// Generate returns a raw hex token for the user and the hash to persist.
func (s *ResetTokenService) Generate() (raw, hash string, err error) {
	raw, err = generateSecureToken(constants.ResetTokenBytes)
	if err != nil {
		return "", "", fmt.Errorf("generating reset token: %w", err)
	}
	return raw, HashResetToken(raw), nil
}

// ExpiresAt returns when a newly created token should expire
func (s *ResetTokenService) ExpiresAt() time.Time {
	return s.now().Add(s.ttl)
}

func (s *ResetTokenService) Now() time.Time {
	return s.now()
}

func (s *ResetTokenService) TTL() time.Duration {
	return s.ttl
}

func HashResetToken(raw string) string {
	return hashToken(raw)
}
