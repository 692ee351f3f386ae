package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/teemow/teamsmcp/internal/logging"
)

// DefaultRefreshTimeout bounds a single call to the token endpoint.
// On timeout the refresh is classified as RefreshUnavailable, never fatal.
const DefaultRefreshTimeout = 30 * time.Second

// RefreshMetrics records token refresh outcomes. instrumentation.Metrics
// implements it; the narrow interface keeps this package free of the otel
// dependency.
type RefreshMetrics interface {
	RecordOAuthTokenRefresh(ctx context.Context, result string)
}

// Lifecycle refreshes expired credentials against the Microsoft identity
// platform. Refreshes for the same user identity are coalesced: concurrent
// callers share one request to the token endpoint, because parallel
// refreshes with the same refresh token can invalidate one of the two
// resulting tokens.
type Lifecycle struct {
	store      Store
	conf       *oauth2.Config
	group      singleflight.Group
	httpClient *http.Client
	timeout    time.Duration
	logger     *slog.Logger
	audit      *AuditLogger
	metrics    RefreshMetrics
}

// LifecycleOption customizes a Lifecycle.
type LifecycleOption func(*Lifecycle)

// WithRefreshTimeout overrides the per-refresh deadline.
func WithRefreshTimeout(d time.Duration) LifecycleOption {
	return func(l *Lifecycle) { l.timeout = d }
}

// WithHTTPClient sets a custom HTTP client for token endpoint calls,
// mainly for tests pointing at a local server.
func WithHTTPClient(client *http.Client) LifecycleOption {
	return func(l *Lifecycle) { l.httpClient = client }
}

// WithRefreshMetrics wires refresh outcome metrics into the lifecycle.
func WithRefreshMetrics(metrics RefreshMetrics) LifecycleOption {
	return func(l *Lifecycle) { l.metrics = metrics }
}

// NewLifecycle creates a Lifecycle persisting refreshed credentials to
// store using the given oauth2 configuration.
func NewLifecycle(store Store, conf *oauth2.Config, logger *slog.Logger, audit *AuditLogger, opts ...LifecycleOption) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	if audit == nil {
		audit = NewAuditLogger(logger)
	}
	l := &Lifecycle{
		store:   store,
		conf:    conf,
		timeout: DefaultRefreshTimeout,
		logger:  logger,
		audit:   audit,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Expired reports whether cred's access token is expired at now.
func (l *Lifecycle) Expired(cred *Credential, now time.Time) bool {
	return cred.Expired(now)
}

// Refresh exchanges the credential's refresh token for a new access/refresh
// token pair and persists the replacement atomically. On failure the stored
// credential is left untouched and the error is a *RefreshError classifying
// the outcome as RefreshDenied (re-authenticate) or RefreshUnavailable
// (retry later).
//
// Concurrent calls for the same user identity are coalesced; the second
// caller waits for the first's result instead of racing the token endpoint.
func (l *Lifecycle) Refresh(ctx context.Context, cred *Credential) (*Credential, error) {
	return l.refresh(ctx, cred, false)
}

// ForceRefresh refreshes even when the stored expiry claims the token is
// still valid. Used when the resource API rejected the token with a
// 401-class response, which overrules whatever expiry we recorded.
func (l *Lifecycle) ForceRefresh(ctx context.Context, cred *Credential) (*Credential, error) {
	return l.refresh(ctx, cred, true)
}

func (l *Lifecycle) refresh(ctx context.Context, cred *Credential, force bool) (*Credential, error) {
	user := cred.UserIdentity

	result, err, _ := l.group.Do(user, func() (interface{}, error) {
		// Another coalesced caller may have refreshed while we waited for
		// the flight; re-read before touching the token endpoint.
		current, err := l.store.Get(user)
		if err != nil {
			if errors.Is(err, ErrCredentialNotFound) {
				current = cred
			} else {
				return nil, &RefreshError{Kind: RefreshUnavailable, UserIdentity: user, Err: err}
			}
		}
		if force {
			// The caller's token was just rejected; only skip the refresh
			// if someone else already replaced it.
			if current.AccessToken != cred.AccessToken {
				return current, nil
			}
		} else if !current.Expired(time.Now()) {
			return current, nil
		}
		return l.refreshLocked(ctx, current)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Credential), nil
}

// refreshLocked performs the actual token endpoint call. Only ever invoked
// inside the singleflight flight for the credential's user.
func (l *Lifecycle) refreshLocked(ctx context.Context, cred *Credential) (*Credential, error) {
	user := cred.UserIdentity
	if cred.RefreshToken == "" {
		l.audit.LogRefreshFailure(user, "no refresh token available")
		l.recordRefresh(ctx, "denied")
		return nil, &RefreshError{
			Kind:         RefreshDenied,
			UserIdentity: user,
			Err:          errors.New("no refresh token available"),
		}
	}

	refreshCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	if l.httpClient != nil {
		refreshCtx = context.WithValue(refreshCtx, oauth2.HTTPClient, l.httpClient)
	}

	// Hand the oauth2 transport a token that is already expired so it is
	// forced to hit the refresh endpoint exactly once.
	seed := &oauth2.Token{
		RefreshToken: cred.RefreshToken,
		Expiry:       time.Unix(1, 0),
	}
	newToken, err := l.conf.TokenSource(refreshCtx, seed).Token()
	if err != nil {
		return nil, l.classifyRefreshFailure(ctx, user, err)
	}

	updated := cred.Clone()
	updated.AccessToken = newToken.AccessToken
	updated.Expiry = newToken.Expiry
	// The identity platform does not always rotate refresh tokens; only
	// replace the stored one when the response actually carries a new one.
	if newToken.RefreshToken != "" {
		updated.RefreshToken = newToken.RefreshToken
	}

	if err := l.store.Put(updated); err != nil {
		// The old credential stays untouched on disk; surface as transient
		// so the caller retries rather than re-authenticates.
		l.recordRefresh(ctx, "unavailable")
		return nil, &RefreshError{Kind: RefreshUnavailable, UserIdentity: user, Err: err}
	}

	l.recordRefresh(ctx, "success")
	l.audit.LogTokenRefreshed(user, newToken.RefreshToken != "")
	l.logger.Info("credential refreshed",
		logging.UserHash(user),
		slog.Time("expiry", updated.Expiry))
	return updated, nil
}

// classifyRefreshFailure maps a token endpoint error to a RefreshError.
// A 4xx response means the refresh token itself was rejected (revoked or
// expired); anything else is a transient server or network failure.
func (l *Lifecycle) classifyRefreshFailure(ctx context.Context, user string, err error) *RefreshError {
	kind := RefreshUnavailable
	result := "unavailable"

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		code := retrieveErr.Response.StatusCode
		if code >= 400 && code < 500 {
			kind = RefreshDenied
			result = "denied"
		}
	}

	l.recordRefresh(ctx, result)
	l.audit.LogRefreshFailure(user, err.Error())
	l.logger.Warn("credential refresh failed",
		logging.UserHash(user),
		slog.String("kind", string(kind)),
		logging.Err(err))
	return &RefreshError{Kind: kind, UserIdentity: user, Err: err}
}

func (l *Lifecycle) recordRefresh(ctx context.Context, result string) {
	if l.metrics != nil {
		l.metrics.RecordOAuthTokenRefresh(ctx, result)
	}
}
