package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/teemow/teamsmcp/internal/logging"
)

// Validator makes the three-tier authorization decision for a request:
//
//  1. Bearer identity: a verified bearer identity, when present, must match
//     the requested user identity. Highest precedence; a caller must never
//     present a token for one identity while requesting data as another.
//  2. Session binding: a bound session must match the requested identity;
//     an unbound session self-binds to the first identity it authenticates as.
//  3. Stored credential: a credential must exist and be valid, refreshing
//     lazily when expired.
//
// Every tier is evaluated on every call; identities and bindings can diverge
// between calls, so success in one tier never lets another be skipped.
type Validator struct {
	store     Store
	lifecycle *Lifecycle
	bindings  *BindingTable
	audit     *AuditLogger
	logger    *slog.Logger
}

// NewValidator creates a Validator over the given collaborators.
func NewValidator(store Store, lifecycle *Lifecycle, bindings *BindingTable, audit *AuditLogger, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	if audit == nil {
		audit = NewAuditLogger(logger)
	}
	return &Validator{
		store:     store,
		lifecycle: lifecycle,
		bindings:  bindings,
		audit:     audit,
		logger:    logger,
	}
}

// AuthRequest carries the caller-supplied identity material for one request.
type AuthRequest struct {
	// UserIdentity is the identity whose data the caller wants.
	UserIdentity string

	// SessionID is the opaque transport-session identifier, if the
	// transport has one. Empty for stdio.
	SessionID string

	// BearerIdentity is the identity asserted by a verified bearer token,
	// extracted by the transport layer. Empty when no bearer token was
	// presented.
	BearerIdentity string
}

// Authorize runs the three-tier check and returns the (possibly refreshed)
// credential on success, or a *Denial.
func (v *Validator) Authorize(ctx context.Context, req AuthRequest) (*Credential, error) {
	if req.UserIdentity == "" {
		return nil, v.deny(req, NewDenial(DenyNotAuthenticated, "no user identity supplied"))
	}

	// Tier 1: bearer identity.
	if req.BearerIdentity != "" && req.BearerIdentity != req.UserIdentity {
		return nil, v.deny(req, NewDenial(DenyIdentityMismatch,
			"bearer token identity does not match requested user"))
	}

	// Tier 2: session binding. Only check for a conflict here; an unbound
	// session is committed after tier 3, so a denied request never binds
	// the session to an identity that failed to authenticate.
	if req.SessionID != "" {
		if bound, ok := v.bindings.Lookup(req.SessionID); ok && bound != req.UserIdentity {
			return nil, v.deny(req, NewDenial(DenySessionBindingViolation,
				"session is bound to a different user"))
		}
	}

	// Tier 3: stored credential, refreshed lazily.
	cred, err := v.store.Get(req.UserIdentity)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return nil, v.deny(req, NewDenial(DenyNotAuthenticated,
				"no credential stored for user"))
		}
		return nil, v.deny(req, NewDenial(DenyTemporarilyUnavailable,
			"credential storage unavailable: %v", err))
	}

	if cred.Expired(time.Now()) {
		refreshed, err := v.lifecycle.Refresh(ctx, cred)
		if err != nil {
			var refreshErr *RefreshError
			if errors.As(err, &refreshErr) && refreshErr.Kind == RefreshDenied {
				return nil, v.deny(req, NewDenial(DenyReauthenticationRequired,
					"refresh token rejected, user must re-authenticate"))
			}
			return nil, v.deny(req, NewDenial(DenyTemporarilyUnavailable,
				"token refresh unavailable: %v", err))
		}
		cred = refreshed
	}

	// Commit the binding now that every tier has passed. The Lookup above
	// and this Bind are separate lock acquisitions, so a concurrent first
	// request for the same session may have bound it in between; Bind's
	// compare-and-set resolves that race with the first writer winning.
	if req.SessionID != "" {
		if result := v.bindings.Bind(req.SessionID, req.UserIdentity); result == BindingRejectedConflict {
			return nil, v.deny(req, NewDenial(DenySessionBindingViolation,
				"session is bound to a different user"))
		}
	}

	v.audit.LogAuthSuccess(req.UserIdentity, req.SessionID)
	return cred, nil
}

// deny audit-logs the denial and returns it.
func (v *Validator) deny(req AuthRequest, denial *Denial) *Denial {
	v.audit.LogDenial(req.UserIdentity, req.SessionID, denial)
	v.logger.Debug("authorization denied",
		logging.UserHash(req.UserIdentity),
		slog.String("reason", string(denial.Reason)))
	return denial
}
