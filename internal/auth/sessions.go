package auth

import (
	"log/slog"
	"sync"

	"github.com/teemow/teamsmcp/internal/logging"
)

// BindingResult is the outcome of a bind attempt.
type BindingResult int

const (
	// BindingAccepted means the session is now (or already was) bound to
	// the requested identity.
	BindingAccepted BindingResult = iota

	// BindingRejectedConflict means the session is already bound to a
	// different identity; the original binding is retained.
	BindingRejectedConflict
)

// String returns a readable name for logging.
func (r BindingResult) String() string {
	switch r {
	case BindingAccepted:
		return "accepted"
	case BindingRejectedConflict:
		return "rejected-conflict"
	default:
		return "unknown"
	}
}

// BindingTable maps transport-session identifiers to the user identity each
// session first authenticated as. A binding is write-once: concurrent binds
// for the same session resolve deterministically with the first writer
// winning, and no later write can reattribute a session to a different user.
//
// The table is created once at startup and passed by reference to every
// request handler; there is no package-level instance.
type BindingTable struct {
	mu       sync.RWMutex
	bindings map[string]string // session ID -> bound user identity
	logger   *slog.Logger
}

// NewBindingTable creates an empty binding table.
func NewBindingTable(logger *slog.Logger) *BindingTable {
	if logger == nil {
		logger = slog.Default()
	}
	return &BindingTable{
		bindings: make(map[string]string),
		logger:   logger,
	}
}

// Bind associates sessionID with userIdentity if the session is unbound,
// succeeds idempotently if it is already bound to the same identity, and
// rejects the attempt otherwise. The check and the write happen under one
// lock acquisition, giving compare-and-set semantics per session ID.
func (t *BindingTable) Bind(sessionID, userIdentity string) BindingResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	bound, exists := t.bindings[sessionID]
	if !exists {
		t.bindings[sessionID] = userIdentity
		t.logger.Debug("session bound",
			logging.Session(sessionID),
			logging.UserHash(userIdentity))
		return BindingAccepted
	}
	if bound == userIdentity {
		return BindingAccepted
	}
	return BindingRejectedConflict
}

// Lookup returns the identity bound to sessionID, if any.
func (t *BindingTable) Lookup(sessionID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	identity, ok := t.bindings[sessionID]
	return identity, ok
}

// Unbind removes the binding for sessionID. Called by the transport layer
// when the session itself ends; bindings are never removed for any other
// reason.
func (t *BindingTable) Unbind(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.bindings[sessionID]; ok {
		delete(t.bindings, sessionID)
		t.logger.Debug("session unbound", logging.Session(sessionID))
	}
}

// Len returns the number of live bindings.
func (t *BindingTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.bindings)
}
