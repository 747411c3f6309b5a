package logger

import (
	"context"
	"log/slog"
	"time"
)

// AuthAttempt describes one sign-in, sign-up or sign-out attempt
type AuthAttempt struct {
	Action    string
	Identity  string
	UserID    string
	IPAddress string
	UserAgent string
	Success   bool
	Reason    string
}

// AuditLogger writes security audit lines through slog. Emails are always
// masked.
type AuditLogger struct {
	logger *slog.Logger
}

func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{logger: logger}
}

func (al *AuditLogger) emit(ctx context.Context, level slog.Level, auditType string, attrs ...slog.Attr) {
	base := []slog.Attr{
		slog.String("audit_type", auditType),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	al.logger.LogAttrs(ctx, level, "audit", append(base, attrs...)...)
}

func (al *AuditLogger) LogAuthAttempt(ctx context.Context, a AuthAttempt) {
	attrs := []slog.Attr{
		slog.String("action", a.Action),
		slog.Bool("success", a.Success),
	}
	if a.Identity != "" {
		attrs = append(attrs, slog.String("identity", SanitizedEmail(a.Identity)))
	}
	if a.UserID != "" {
		attrs = append(attrs, slog.String("user_id", a.UserID))
	}
	if a.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", a.IPAddress))
	}
	if a.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", a.UserAgent))
	}
	if a.Reason != "" {
		attrs = append(attrs, slog.String("reason", a.Reason))
	}

	level := slog.LevelInfo
	if !a.Success {
		level = slog.LevelWarn
	}
	al.emit(ctx, level, "auth", attrs...)
}

func (al *AuditLogger) LogLockout(ctx context.Context, identity string, attempts int, duration time.Duration) {
	al.emit(ctx, slog.LevelWarn, "lockout",
		slog.String("identity", SanitizedEmail(identity)),
		slog.Int("attempts", attempts),
		slog.Duration("duration", duration),
	)
}

func (al *AuditLogger) LogPasswordChange(ctx context.Context, userID string, success bool) {
	level := slog.LevelInfo
	if !success {
		level = slog.LevelWarn
	}
	al.emit(ctx, level, "password",
		slog.String("user_id", userID),
		slog.Bool("success", success),
	)
}

// LogThreat records a detection and the mitigation applied to it.
func (al *AuditLogger) LogThreat(ctx context.Context, threatID, threatType, severity, subject, mitigation string) {
	level := slog.LevelWarn
	if severity == "HIGH" || severity == "CRITICAL" {
		level = slog.LevelError
	}
	al.emit(ctx, level, "threat",
		slog.String("threat_id", threatID),
		slog.String("threat_type", threatType),
		slog.String("severity", severity),
		slog.String("subject", MaskSubject(subject)),
		slog.String("mitigation", mitigation),
	)
}
