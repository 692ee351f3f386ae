package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/teemow/teamsmcp/internal/auth"
	"github.com/teemow/teamsmcp/internal/instrumentation"
	"github.com/teemow/teamsmcp/internal/logging"
)

// sessionInfo tracks session metadata for cleanup.
type sessionInfo struct {
	identity   string
	lastAccess time.Time
}

// SessionIDManager tracks transport sessions for the HTTP transports. Each
// session is derived from the caller's Authorization header, so distinct
// bearer tokens land in distinct sessions. When a session expires or is
// removed, its identity binding is released so a reconnecting client can
// bind fresh.
type SessionIDManager struct {
	sessions       map[string]*sessionInfo
	bindings       *auth.BindingTable
	mu             sync.RWMutex
	cleanupTicker  *time.Ticker
	cleanupDone    chan bool
	sessionTimeout time.Duration
	logger         *slog.Logger
	metrics        *instrumentation.Metrics
}

// NewSessionIDManager creates a session manager with a 24 hour timeout.
// bindings may be nil in single-user mode.
func NewSessionIDManager(bindings *auth.BindingTable) *SessionIDManager {
	return NewSessionIDManagerWithLogger(bindings, 24*time.Hour, slog.Default())
}

// NewSessionIDManagerWithLogger creates a session manager with a custom
// timeout and logger.
func NewSessionIDManagerWithLogger(bindings *auth.BindingTable, timeout time.Duration, logger *slog.Logger) *SessionIDManager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &SessionIDManager{
		sessions:       make(map[string]*sessionInfo),
		bindings:       bindings,
		cleanupTicker:  time.NewTicker(10 * time.Minute),
		cleanupDone:    make(chan bool),
		sessionTimeout: timeout,
		logger:         logger,
	}

	go m.cleanupExpiredSessions()

	return m
}

// SetMetrics attaches the instrumentation recorder that drives the
// active_sessions gauge. Must be called before the manager sees traffic.
func (m *SessionIDManager) SetMetrics(metrics *instrumentation.Metrics) {
	m.metrics = metrics
}

// ErrNoAuthorizationHeader is returned when no Authorization header is provided.
var ErrNoAuthorizationHeader = errors.New("no authorization header provided")

// ResolveSessionID derives the session ID for an HTTP request from its
// Authorization header. The same token always maps to the same session.
func (m *SessionIDManager) ResolveSessionID(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", ErrNoAuthorizationHeader
	}

	return m.generateSessionID(authHeader), nil
}

// Touch records activity on a session, creating it if unknown.
func (m *SessionIDManager) Touch(sessionID, identity string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if info, ok := m.sessions[sessionID]; ok {
		info.lastAccess = time.Now()
		if identity != "" {
			info.identity = identity
		}
		return
	}

	m.sessions[sessionID] = &sessionInfo{
		identity:   identity,
		lastAccess: time.Now(),
	}
	if m.metrics != nil {
		m.metrics.IncrementActiveSessions(context.Background())
	}
}

// IdentityForSession returns the identity last seen on a session, or "".
func (m *SessionIDManager) IdentityForSession(sessionID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if info, ok := m.sessions[sessionID]; ok {
		info.lastAccess = time.Now()
		return info.identity
	}
	return ""
}

// generateSessionID creates a stable session ID from the auth token.
func (m *SessionIDManager) generateSessionID(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// RemoveSession discards a session and releases its identity binding.
func (m *SessionIDManager) RemoveSession(sessionID string) {
	m.mu.Lock()
	_, existed := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if existed && m.metrics != nil {
		m.metrics.DecrementActiveSessions(context.Background())
	}
	if m.bindings != nil {
		m.bindings.Unbind(sessionID)
	}
}

// ListSessions returns all active session IDs.
func (m *SessionIDManager) ListSessions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]string, 0, len(m.sessions))
	for sessionID := range m.sessions {
		sessions = append(sessions, sessionID)
	}
	return sessions
}

// Len returns the number of tracked sessions.
func (m *SessionIDManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// cleanupExpiredSessions periodically removes idle sessions and releases
// their bindings.
func (m *SessionIDManager) cleanupExpiredSessions() {
	for {
		select {
		case <-m.cleanupTicker.C:
			m.expireIdle()
		case <-m.cleanupDone:
			return
		}
	}
}

func (m *SessionIDManager) expireIdle() {
	now := time.Now()
	var expired []string

	m.mu.Lock()
	for sessionID, info := range m.sessions {
		if now.Sub(info.lastAccess) > m.sessionTimeout {
			delete(m.sessions, sessionID)
			expired = append(expired, sessionID)
		}
	}
	m.mu.Unlock()

	if len(expired) == 0 {
		return
	}

	if m.metrics != nil {
		for range expired {
			m.metrics.DecrementActiveSessions(context.Background())
		}
	}
	if m.bindings != nil {
		for _, sessionID := range expired {
			m.bindings.Unbind(sessionID)
		}
	}
	m.logger.Info("cleaned up expired sessions",
		slog.Int("count", len(expired)),
		logging.Status("expired"))
}

// Stop stops the session cleanup goroutine.
func (m *SessionIDManager) Stop() {
	if m.cleanupTicker != nil {
		m.cleanupTicker.Stop()
	}
	if m.cleanupDone != nil {
		close(m.cleanupDone)
	}
}
