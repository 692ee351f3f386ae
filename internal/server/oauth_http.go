package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/teamsmcp/internal/graph"
	"github.com/teemow/teamsmcp/internal/instrumentation"
	"github.com/teemow/teamsmcp/internal/logging"
)

type contextKey string

const (
	sessionIDKey      contextKey = "teamsmcp.session_id"
	bearerIdentityKey contextKey = "teamsmcp.bearer_identity"
)

// WithSessionID attaches a transport session ID to the context.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// SessionIDFromContext returns the transport session ID, or "".
func SessionIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(sessionIDKey).(string)
	return v
}

// WithBearerIdentity attaches a verified bearer identity to the context.
func WithBearerIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, bearerIdentityKey, identity)
}

// BearerIdentityFromContext returns the verified bearer identity, or "".
func BearerIdentityFromContext(ctx context.Context) string {
	v, _ := ctx.Value(bearerIdentityKey).(string)
	return v
}

// OAuthHTTPServer hosts the MCP transport endpoints together with the
// OAuth login and callback endpoints. Incoming bearer tokens are verified
// against the Graph /me endpoint so the asserted identity the tool
// handlers check against cannot be forged by a client.
type OAuthHTTPServer struct {
	mcpServer  *mcpserver.MCPServer
	sc         *ServerContext
	sessions   *SessionIDManager
	bearer     *bearerVerifier
	health     *HealthChecker
	httpServer *http.Server
	serverType string
	baseURL    string
	metrics    *instrumentation.Metrics
}

// NewOAuthHTTPServer creates the HTTP front for the MCP server.
// serverType selects the transport: "sse" or "streamable-http".
func NewOAuthHTTPServer(mcpServer *mcpserver.MCPServer, sc *ServerContext, serverType, baseURL string) (*OAuthHTTPServer, error) {
	if err := validateHTTPSRequirement(baseURL); err != nil {
		return nil, err
	}

	sessions := NewSessionIDManagerWithLogger(sc.Bindings(), 24*time.Hour, sc.Logger())
	sessions.SetMetrics(sc.Metrics())

	return &OAuthHTTPServer{
		mcpServer:  mcpServer,
		sc:         sc,
		sessions:   sessions,
		bearer:     newBearerVerifier(sc.Logger()),
		health:     NewHealthChecker(sc),
		serverType: serverType,
		baseURL:    baseURL,
		metrics:    sc.Metrics(),
	}, nil
}

// Health returns the health checker so callers can flip readiness.
func (s *OAuthHTTPServer) Health() *HealthChecker {
	return s.health
}

// Sessions returns the transport session manager.
func (s *OAuthHTTPServer) Sessions() *SessionIDManager {
	return s.sessions
}

// requestContext enriches the MCP request context with the transport
// session and, when a bearer token is presented, its verified identity.
func (s *OAuthHTTPServer) requestContext(ctx context.Context, r *http.Request) context.Context {
	sessionID, err := s.sessions.ResolveSessionID(r)
	if err != nil {
		return ctx
	}

	identity := s.bearer.Verify(ctx, r.Header.Get("Authorization"))
	s.sessions.Touch(sessionID, identity)

	ctx = WithSessionID(ctx, sessionID)
	if identity != "" {
		ctx = WithBearerIdentity(ctx, identity)
	}
	return ctx
}

// Start starts the HTTP server and blocks until it stops.
func (s *OAuthHTTPServer) Start(addr string) error {
	mux := http.NewServeMux()

	mux.Handle("/oauth/login", s.oauthInstrumentationWrapper(http.HandlerFunc(s.handleLogin)))
	mux.Handle("/oauth/callback", s.oauthInstrumentationWrapper(http.HandlerFunc(s.handleCallback)))

	s.health.RegisterHealthEndpoints(mux)

	switch s.serverType {
	case "sse":
		sseServer := mcpserver.NewSSEServer(s.mcpServer,
			mcpserver.WithSSEEndpoint("/sse"),
			mcpserver.WithMessageEndpoint("/message"),
			mcpserver.WithSSEContextFunc(s.requestContext),
		)
		mux.Handle("/sse", s.instrumentationMiddleware(sseServer))
		mux.Handle("/message", s.instrumentationMiddleware(sseServer))

	case "streamable-http":
		httpServer := mcpserver.NewStreamableHTTPServer(s.mcpServer,
			mcpserver.WithEndpointPath("/mcp"),
			mcpserver.WithHTTPContextFunc(s.requestContext),
		)
		mux.Handle("/mcp", s.instrumentationMiddleware(httpServer))

	default:
		return fmt.Errorf("unsupported server type: %s", s.serverType)
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *OAuthHTTPServer) Shutdown(ctx context.Context) error {
	s.sessions.Stop()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// handleLogin starts a new authorization attempt and redirects the user
// to the Microsoft identity platform. The optional "user" query parameter
// pre-fills the account chooser.
func (s *OAuthHTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	userIdentity := r.URL.Query().Get("user")

	authURL, _, err := s.sc.Flow().StartAuthorization(userIdentity)
	if err != nil {
		s.sc.Logger().Error("failed to start authorization", logging.Err(err))
		http.Error(w, "failed to start authorization", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}

// handleCallback completes the authorization-code exchange. The state
// parameter is single use; replays and unknown states get a 400.
func (s *OAuthHTTPServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if errCode := query.Get("error"); errCode != "" {
		s.sc.Logger().Warn("authorization denied by provider",
			slog.String("oauth_error", errCode))
		http.Error(w, "authorization was not granted", http.StatusBadRequest)
		return
	}

	code := query.Get("code")
	state := query.Get("state")
	if code == "" || state == "" {
		http.Error(w, "missing code or state parameter", http.StatusBadRequest)
		return
	}

	cred, err := s.sc.Flow().HandleCallback(r.Context(), code, state)
	if err != nil {
		s.sc.Logger().Warn("authorization callback failed", logging.Err(err))
		http.Error(w, "authorization failed", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<html><body><h1>Signed in</h1><p>%s is now connected. You can close this window.</p></body></html>",
		htmlEscape(cred.UserIdentity))
}

func htmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return r.Replace(s)
}

// responseWriter captures the status code for instrumentation.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// instrumentationMiddleware records request metrics for MCP endpoints.
func (s *OAuthHTTPServer) instrumentationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rw := newResponseWriter(w)
		next.ServeHTTP(rw, r)
		s.metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}

// oauthInstrumentationWrapper records request metrics for OAuth endpoints.
func (s *OAuthHTTPServer) oauthInstrumentationWrapper(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rw := newResponseWriter(w)
		next.ServeHTTP(rw, r)
		s.metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}

// bearerVerifier resolves bearer tokens to identities via the Graph /me
// endpoint. Results are cached briefly so every MCP request does not cost
// an extra Graph round trip.
type bearerVerifier struct {
	mu      sync.Mutex
	entries map[string]bearerEntry
	ttl     time.Duration
	logger  *slog.Logger
	resolve func(ctx context.Context, token string) (string, error)
}

type bearerEntry struct {
	identity string
	expires  time.Time
}

func newBearerVerifier(logger *slog.Logger) *bearerVerifier {
	return &bearerVerifier{
		entries: make(map[string]bearerEntry),
		ttl:     5 * time.Minute,
		logger:  logger,
		resolve: func(ctx context.Context, token string) (string, error) {
			me, err := graph.NewClient(token).Me(ctx)
			if err != nil {
				return "", err
			}
			return me.Identity(), nil
		},
	}
}

// Verify returns the identity behind an Authorization header, or "" when
// no bearer token is present or the token cannot be resolved. An
// unresolvable token is treated as absent; the per-operation check then
// decides on the stored credential alone.
func (v *bearerVerifier) Verify(ctx context.Context, authHeader string) string {
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok || token == "" {
		return ""
	}

	now := time.Now()

	v.mu.Lock()
	if entry, ok := v.entries[token]; ok && now.Before(entry.expires) {
		v.mu.Unlock()
		return entry.identity
	}
	v.mu.Unlock()

	identity, err := v.resolve(ctx, token)
	if err != nil {
		v.logger.Warn("bearer token could not be resolved", logging.Err(err))
		return ""
	}

	v.mu.Lock()
	// Evict expired entries before inserting so the cache cannot grow
	// without bound across distinct tokens. Inserts only happen on a cache
	// miss, so the sweep stays off the hot path.
	for cached, entry := range v.entries {
		if !now.Before(entry.expires) {
			delete(v.entries, cached)
		}
	}
	v.entries[token] = bearerEntry{identity: identity, expires: now.Add(v.ttl)}
	v.mu.Unlock()

	return identity
}

// validateHTTPSRequirement ensures OAuth 2.1 HTTPS compliance.
// Allows HTTP only for loopback addresses (localhost, 127.0.0.1, ::1).
func validateHTTPSRequirement(baseURL string) error {
	if baseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}

	if u.Scheme == "http" {
		host := u.Hostname()
		if host != "localhost" && host != "127.0.0.1" && host != "::1" {
			return fmt.Errorf("OAuth 2.1 requires HTTPS for production (got: %s). Use HTTPS or localhost for development", baseURL)
		}
	} else if u.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme: %s. Must be http (localhost only) or https", u.Scheme)
	}

	return nil
}
