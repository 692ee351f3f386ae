package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/teemow/teamsmcp/internal/logging"
)

// AuditEventType identifies the kind of security audit event.
type AuditEventType string

const (
	// Authentication events
	AuditEventAuthSuccess       AuditEventType = "auth_success"
	AuditEventAuthDenied        AuditEventType = "auth_denied"
	AuditEventTokenRefreshed    AuditEventType = "token_refreshed"
	AuditEventRefreshFailed     AuditEventType = "refresh_failed"
	AuditEventCredentialSaved   AuditEventType = "credential_saved"
	AuditEventCredentialDeleted AuditEventType = "credential_deleted"

	// Security events. These indicate a possible cross-user access attempt
	// and must be distinguishable from ordinary unauthenticated requests.
	AuditEventIdentityMismatch AuditEventType = "identity_mismatch"
	AuditEventBindingViolation AuditEventType = "session_binding_violation"
	AuditEventStateReplay      AuditEventType = "authorization_state_replay"
)

// AuditEvent is one security-relevant occurrence. User identities are
// hashed before logging so audit streams carry no PII.
type AuditEvent struct {
	Timestamp    time.Time
	EventType    AuditEventType
	UserHash     string
	SessionID    string
	Success      bool
	ErrorMessage string
	Metadata     map[string]string
}

// AuditLogger writes structured audit events through slog. Security events
// always log at WARN so telemetry pipelines can alert on them.
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates an audit logger.
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{logger: logger}
}

// LogEvent logs an audit event.
func (a *AuditLogger) LogEvent(event AuditEvent) {
	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	switch event.EventType {
	case AuditEventIdentityMismatch, AuditEventBindingViolation, AuditEventStateReplay:
		level = slog.LevelWarn
	}

	attrs := []slog.Attr{
		slog.String("event_type", string(event.EventType)),
		slog.Time("timestamp", event.Timestamp),
		slog.Bool("success", event.Success),
	}
	if event.UserHash != "" {
		attrs = append(attrs, slog.String(logging.KeyUserHash, event.UserHash))
	}
	if event.SessionID != "" {
		attrs = append(attrs, slog.String(logging.KeySession, event.SessionID))
	}
	if event.ErrorMessage != "" {
		attrs = append(attrs, slog.String(logging.KeyError, event.ErrorMessage))
	}
	for key, value := range event.Metadata {
		attrs = append(attrs, slog.String("meta_"+key, value))
	}

	a.logger.LogAttrs(context.Background(), level, "audit_event", attrs...)
}

// LogAuthSuccess logs a granted authorization.
func (a *AuditLogger) LogAuthSuccess(userIdentity, sessionID string) {
	a.LogEvent(AuditEvent{
		Timestamp: time.Now(),
		EventType: AuditEventAuthSuccess,
		UserHash:  logging.AnonymizeEmail(userIdentity),
		SessionID: sessionID,
		Success:   true,
	})
}

// LogDenial logs a denied authorization, routing security-relevant reasons
// to their dedicated event types.
func (a *AuditLogger) LogDenial(userIdentity, sessionID string, denial *Denial) {
	eventType := AuditEventAuthDenied
	switch denial.Reason {
	case DenyIdentityMismatch:
		eventType = AuditEventIdentityMismatch
	case DenySessionBindingViolation:
		eventType = AuditEventBindingViolation
	}

	a.LogEvent(AuditEvent{
		Timestamp:    time.Now(),
		EventType:    eventType,
		UserHash:     logging.AnonymizeEmail(userIdentity),
		SessionID:    sessionID,
		Success:      false,
		ErrorMessage: denial.Detail,
		Metadata: map[string]string{
			"reason": string(denial.Reason),
		},
	})
}

// LogTokenRefreshed logs a successful token refresh.
func (a *AuditLogger) LogTokenRefreshed(userIdentity string, rotated bool) {
	a.LogEvent(AuditEvent{
		Timestamp: time.Now(),
		EventType: AuditEventTokenRefreshed,
		UserHash:  logging.AnonymizeEmail(userIdentity),
		Success:   true,
		Metadata: map[string]string{
			"refresh_token_rotated": boolString(rotated),
		},
	})
}

// LogRefreshFailure logs a failed token refresh.
func (a *AuditLogger) LogRefreshFailure(userIdentity, reason string) {
	a.LogEvent(AuditEvent{
		Timestamp:    time.Now(),
		EventType:    AuditEventRefreshFailed,
		UserHash:     logging.AnonymizeEmail(userIdentity),
		Success:      false,
		ErrorMessage: reason,
	})
}

// LogCredentialSaved logs a credential being written after a code exchange.
func (a *AuditLogger) LogCredentialSaved(userIdentity string) {
	a.LogEvent(AuditEvent{
		Timestamp: time.Now(),
		EventType: AuditEventCredentialSaved,
		UserHash:  logging.AnonymizeEmail(userIdentity),
		Success:   true,
	})
}

// LogCredentialDeleted logs an explicit logout.
func (a *AuditLogger) LogCredentialDeleted(userIdentity string) {
	a.LogEvent(AuditEvent{
		Timestamp: time.Now(),
		EventType: AuditEventCredentialDeleted,
		UserHash:  logging.AnonymizeEmail(userIdentity),
		Success:   true,
	})
}

// LogStateReplay logs a callback presenting an unknown or already-consumed
// state parameter.
func (a *AuditLogger) LogStateReplay(state string) {
	a.LogEvent(AuditEvent{
		Timestamp:    time.Now(),
		EventType:    AuditEventStateReplay,
		Success:      false,
		ErrorMessage: "state unknown, expired, or already consumed",
		Metadata: map[string]string{
			"state": logging.SanitizeToken(state),
		},
	})
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
