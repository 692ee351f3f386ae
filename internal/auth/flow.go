package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/teemow/teamsmcp/internal/graph"
	"github.com/teemow/teamsmcp/internal/logging"
)

// DefaultPendingTTL is how long an issued authorization URL stays valid.
// A callback arriving after this window is rejected as expired.
const DefaultPendingTTL = 10 * time.Minute

// DefaultExchangeTimeout bounds the code exchange with the token endpoint.
const DefaultExchangeTimeout = 30 * time.Second

// PendingAuthorization is one in-flight authorization-code exchange. It is
// created when an authorization URL is issued and consumed exactly once by
// the matching callback; whatever the outcome, it is gone after first use.
type PendingAuthorization struct {
	// ID correlates the exchange; it becomes the credential's
	// OAuthSessionID on success.
	ID string

	// State is the anti-CSRF token, unique per attempt.
	State string

	// UserIdentity is the identity the flow claims to authenticate.
	// The identity the authorization server actually vouches for is
	// resolved from the issued token and wins on mismatch.
	UserIdentity string

	// PKCEVerifier is the code verifier whose S256 challenge was sent
	// with the authorization request.
	PKCEVerifier string

	CreatedAt time.Time
	ExpiresAt time.Time
}

// IdentityResolver resolves the user identity an access token belongs to.
// The default asks Graph /me; tests substitute a local implementation.
type IdentityResolver func(ctx context.Context, accessToken string) (string, error)

// FlowController drives the PKCE authorization-code flow and hands verified
// credentials to the Store. Concurrent starts for the same user each get
// their own PendingAuthorization; only the first callback with a still-valid
// state succeeds.
type FlowController struct {
	conf     *oauth2.Config
	store    Store
	resolver IdentityResolver
	audit    *AuditLogger
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]*PendingAuthorization // state -> pending exchange

	ttl             time.Duration
	exchangeTimeout time.Duration
	httpClient      *http.Client

	cleanupTicker *time.Ticker
	cleanupDone   chan struct{}
}

// FlowOption customizes a FlowController.
type FlowOption func(*FlowController)

// WithPendingTTL overrides the pending-authorization validity window.
func WithPendingTTL(ttl time.Duration) FlowOption {
	return func(f *FlowController) { f.ttl = ttl }
}

// WithIdentityResolver substitutes the Graph-based identity lookup.
func WithIdentityResolver(resolver IdentityResolver) FlowOption {
	return func(f *FlowController) { f.resolver = resolver }
}

// WithExchangeHTTPClient sets the HTTP client used for the code exchange.
func WithExchangeHTTPClient(client *http.Client) FlowOption {
	return func(f *FlowController) { f.httpClient = client }
}

// NewFlowController creates a FlowController and starts its cleanup
// goroutine. Call Stop when done.
func NewFlowController(conf *oauth2.Config, store Store, logger *slog.Logger, audit *AuditLogger, opts ...FlowOption) *FlowController {
	if logger == nil {
		logger = slog.Default()
	}
	if audit == nil {
		audit = NewAuditLogger(logger)
	}
	f := &FlowController{
		conf:            conf,
		store:           store,
		audit:           audit,
		logger:          logger,
		pending:         make(map[string]*PendingAuthorization),
		ttl:             DefaultPendingTTL,
		exchangeTimeout: DefaultExchangeTimeout,
		cleanupTicker:   time.NewTicker(time.Minute),
		cleanupDone:     make(chan struct{}),
	}
	f.resolver = f.resolveIdentityFromGraph
	for _, opt := range opts {
		opt(f)
	}

	go f.cleanupLoop()
	return f
}

// StartAuthorization issues an authorization URL for the given user. Each
// call creates an independent PendingAuthorization; nothing is collapsed.
func (f *FlowController) StartAuthorization(userIdentity string) (authorizationURL, state string, err error) {
	verifier, err := GenerateCodeVerifier()
	if err != nil {
		return "", "", fmt.Errorf("generating PKCE verifier: %w", err)
	}
	state, err = GenerateState()
	if err != nil {
		return "", "", fmt.Errorf("generating state: %w", err)
	}

	now := time.Now()
	pending := &PendingAuthorization{
		ID:           uuid.NewString(),
		State:        state,
		UserIdentity: userIdentity,
		PKCEVerifier: verifier,
		CreatedAt:    now,
		ExpiresAt:    now.Add(f.ttl),
	}

	f.mu.Lock()
	f.pending[state] = pending
	f.mu.Unlock()

	authorizationURL = f.conf.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", GenerateCodeChallenge(verifier)),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		oauth2.SetAuthURLParam("login_hint", userIdentity),
	)

	f.logger.Info("authorization started",
		logging.UserHash(userIdentity),
		slog.String("oauth_session_id", pending.ID))
	return authorizationURL, state, nil
}

// consumePending removes and returns the pending exchange for state. The
// read and the delete happen under one lock acquisition, so a state can
// never be consumed twice.
func (f *FlowController) consumePending(state string) (*PendingAuthorization, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	pending, ok := f.pending[state]
	if !ok {
		return nil, false
	}
	delete(f.pending, state)

	if time.Now().After(pending.ExpiresAt) {
		return nil, false
	}
	return pending, true
}

// HandleCallback completes an authorization-code exchange. The state must
// match a live PendingAuthorization (defends against CSRF and replay); the
// code is exchanged together with the stored PKCE verifier; the resulting
// credential is persisted before the call returns.
func (f *FlowController) HandleCallback(ctx context.Context, code, state string) (*Credential, error) {
	pending, ok := f.consumePending(state)
	if !ok {
		f.audit.LogStateReplay(state)
		return nil, ErrUnknownOrExpiredState
	}

	exchangeCtx, cancel := context.WithTimeout(ctx, f.exchangeTimeout)
	defer cancel()
	if f.httpClient != nil {
		exchangeCtx = context.WithValue(exchangeCtx, oauth2.HTTPClient, f.httpClient)
	}

	token, err := f.conf.Exchange(exchangeCtx, code,
		oauth2.SetAuthURLParam("code_verifier", pending.PKCEVerifier))
	if err != nil {
		f.logger.Warn("code exchange failed",
			logging.UserHash(pending.UserIdentity),
			logging.Err(err))
		return nil, &ExchangeError{Err: err}
	}

	// The identity the authorization server vouches for is the one the
	// token can act as; the login hint is only a claim.
	identity, err := f.resolver(ctx, token.AccessToken)
	if err != nil {
		return nil, &ExchangeError{Err: fmt.Errorf("resolving user identity: %w", err)}
	}
	if pending.UserIdentity != "" && identity != pending.UserIdentity {
		f.logger.Warn("authenticated identity differs from requested identity",
			slog.String("requested", logging.AnonymizeEmail(pending.UserIdentity)),
			slog.String("authenticated", logging.AnonymizeEmail(identity)))
	}

	cred := &Credential{
		UserIdentity:   identity,
		AccessToken:    token.AccessToken,
		RefreshToken:   token.RefreshToken,
		Expiry:         token.Expiry,
		GrantedScopes:  grantedScopes(token, f.conf.Scopes),
		OAuthSessionID: pending.ID,
	}
	if err := f.store.Put(cred); err != nil {
		return nil, fmt.Errorf("persisting credential: %w", err)
	}

	f.audit.LogCredentialSaved(identity)
	f.logger.Info("authorization completed",
		logging.UserHash(identity),
		slog.String("oauth_session_id", pending.ID))
	return cred, nil
}

// Logout removes the stored credential for a user.
func (f *FlowController) Logout(userIdentity string) error {
	if err := f.store.Delete(userIdentity); err != nil {
		return err
	}
	f.audit.LogCredentialDeleted(userIdentity)
	return nil
}

// SingleUserCredential returns the sole stored credential when exactly one
// exists. This is the degraded single-user fallback that bypasses identity
// binding; cmd/serve only wires it when session binding is disabled.
func (f *FlowController) SingleUserCredential() (*Credential, error) {
	creds, err := f.store.ListAll()
	if err != nil {
		return nil, err
	}
	switch len(creds) {
	case 0:
		return nil, ErrCredentialNotFound
	case 1:
		return creds[0], nil
	default:
		return nil, fmt.Errorf("single-user mode requires exactly one stored credential, found %d", len(creds))
	}
}

// PendingCount returns the number of in-flight authorization attempts.
func (f *FlowController) PendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// Stop stops the cleanup goroutine.
func (f *FlowController) Stop() {
	f.cleanupTicker.Stop()
	close(f.cleanupDone)
}

func (f *FlowController) cleanupLoop() {
	for {
		select {
		case <-f.cleanupTicker.C:
			f.cleanupExpired()
		case <-f.cleanupDone:
			return
		}
	}
}

func (f *FlowController) cleanupExpired() {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now()
	expired := 0
	for state, pending := range f.pending {
		if now.After(pending.ExpiresAt) {
			delete(f.pending, state)
			expired++
		}
	}
	if expired > 0 {
		f.logger.Debug("cleaned up expired authorization attempts", slog.Int("count", expired))
	}
}

// resolveIdentityFromGraph asks Graph /me which user the token belongs to.
func (f *FlowController) resolveIdentityFromGraph(ctx context.Context, accessToken string) (string, error) {
	user, err := graph.NewClient(accessToken).Me(ctx)
	if err != nil {
		return "", err
	}
	if user.Identity() == "" {
		return "", fmt.Errorf("user profile carries no email or principal name")
	}
	return user.Identity(), nil
}

// grantedScopes extracts the granted scope set from a token response,
// falling back to the requested scopes when the server omits it.
func grantedScopes(token *oauth2.Token, requested []string) []string {
	if raw, ok := token.Extra("scope").(string); ok && raw != "" {
		return strings.Fields(raw)
	}
	return append([]string(nil), requested...)
}
