package email

import (
	"context"
	"log/slog"
	"time"
)

// LogNotifier stands in for SMTP in development: it logs that a mail would
// have been sent. The reset link is logged only at debug level.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (LogNotifier) SendPasswordReset(ctx context.Context, to, _ string, resetURL string, ttl time.Duration) error {
	slog.InfoContext(ctx, "smtp not configured, skipping password reset email", "component", "email", "to", to, "ttl", ttl)
	slog.DebugContext(ctx, "password reset link", "component", "email", "to", to, "reset_url", resetURL)
	return nil
}

func (LogNotifier) SendPasswordResetConfirmation(ctx context.Context, to, _ string) error {
	slog.InfoContext(ctx, "smtp not configured, skipping password changed email", "component", "email", "to", to)
	return nil
}
