package auth

import (
	"errors"
	"fmt"
)

// DenialReason identifies why an authorization request was denied.
// The set is closed; callers switch over it to decide whether to
// re-authenticate, retry, or give up.
type DenialReason string

const (
	// DenyIdentityMismatch means the verified bearer identity differs from
	// the requested user identity. Security-relevant.
	DenyIdentityMismatch DenialReason = "identity_mismatch"

	// DenySessionBindingViolation means the transport session is already
	// bound to a different user identity. Security-relevant.
	DenySessionBindingViolation DenialReason = "session_binding_violation"

	// DenyNotAuthenticated means no credential exists for the requested
	// user identity.
	DenyNotAuthenticated DenialReason = "not_authenticated"

	// DenyReauthenticationRequired means the stored refresh token was
	// rejected by the authorization server; the user must log in again.
	DenyReauthenticationRequired DenialReason = "reauthentication_required"

	// DenyInsufficientScope means the credential's granted scopes do not
	// cover what the invoked operation requires.
	DenyInsufficientScope DenialReason = "insufficient_scope"

	// DenyTemporarilyUnavailable means a transient failure (network,
	// authorization-server outage, storage) prevented authorization.
	// This is the only retryable denial.
	DenyTemporarilyUnavailable DenialReason = "temporarily_unavailable"
)

// Denial is the structured rejection returned by the Validator and the Gate.
// It is terminal for the current operation.
type Denial struct {
	Reason DenialReason
	Detail string
}

// Error implements the error interface.
func (d *Denial) Error() string {
	if d.Detail == "" {
		return string(d.Reason)
	}
	return fmt.Sprintf("%s: %s", d.Reason, d.Detail)
}

// Retryable reports whether the caller may retry the whole
// authorize-then-call sequence after backing off.
func (d *Denial) Retryable() bool {
	return d.Reason == DenyTemporarilyUnavailable
}

// SecurityRelevant reports whether the denial indicates a possible
// cross-user access attempt rather than an ordinary missing login.
func (d *Denial) SecurityRelevant() bool {
	return d.Reason == DenyIdentityMismatch || d.Reason == DenySessionBindingViolation
}

// NewDenial creates a Denial with a formatted detail message.
func NewDenial(reason DenialReason, format string, args ...any) *Denial {
	return &Denial{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// AsDenial extracts a *Denial from an error chain.
func AsDenial(err error) (*Denial, bool) {
	var d *Denial
	if errors.As(err, &d) {
		return d, true
	}
	return nil, false
}

// RefreshErrorKind classifies a failed token refresh.
type RefreshErrorKind string

const (
	// RefreshDenied means the authorization server rejected the refresh
	// token (revoked or expired). The caller must re-authenticate.
	RefreshDenied RefreshErrorKind = "refresh_denied"

	// RefreshUnavailable means a transient network or server failure
	// prevented the refresh. The caller may retry.
	RefreshUnavailable RefreshErrorKind = "refresh_unavailable"
)

// RefreshError reports a failed token refresh together with its
// classification.
type RefreshError struct {
	Kind         RefreshErrorKind
	UserIdentity string
	Err          error
}

// Error implements the error interface.
func (e *RefreshError) Error() string {
	return fmt.Sprintf("token refresh %s for %s: %v", e.Kind, e.UserIdentity, e.Err)
}

// Unwrap returns the underlying cause.
func (e *RefreshError) Unwrap() error {
	return e.Err
}

// Storage and flow sentinels.
var (
	// ErrCredentialNotFound is returned by Store.Get and Store.Delete when
	// no record exists for the user identity. Corrupt records are reported
	// as not-found as well, after being logged.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrStorageUnavailable wraps I/O failures from the credential store.
	// It is fatal for the current operation but never for the process.
	ErrStorageUnavailable = errors.New("credential storage unavailable")

	// ErrUnknownOrExpiredState is returned by the flow controller when a
	// callback carries a state parameter that was never issued, already
	// consumed, or past its validity window.
	ErrUnknownOrExpiredState = errors.New("unknown or expired authorization state")
)

// ExchangeError reports a failed authorization-code exchange with the
// authorization server.
type ExchangeError struct {
	Err error
}

// Error implements the error interface.
func (e *ExchangeError) Error() string {
	return fmt.Sprintf("authorization code exchange failed: %v", e.Err)
}

// Unwrap returns the underlying cause.
func (e *ExchangeError) Unwrap() error {
	return e.Err
}
