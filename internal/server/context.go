package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/teemow/teamsmcp/internal/auth"
	"github.com/teemow/teamsmcp/internal/instrumentation"
)

// ServerContext wires together the credential core and exposes it to the
// MCP tool handlers. All components share one credential store so the
// stdio and HTTP transports see the same persisted state.
type ServerContext struct {
	ctx    context.Context
	cancel context.CancelFunc

	config    *auth.Config
	store     *auth.FileStore
	lifecycle *auth.Lifecycle
	resolver  *auth.ScopeResolver
	bindings  *auth.BindingTable
	validator *auth.Validator
	flow      *auth.FlowController
	gate      *auth.Gate

	logger    *slog.Logger
	metrics   *instrumentation.Metrics
	toolAudit *instrumentation.AuditLogger

	mu       sync.RWMutex
	shutdown bool
}

// ServerContextOption configures optional pieces of the server context.
type ServerContextOption func(*contextOptions)

type contextOptions struct {
	credentialsDir string
	metrics        *instrumentation.Metrics
	toolGroups     []string
	flowOpts       []auth.FlowOption
	gateOpts       []auth.GateOption
}

// WithCredentialsDir overrides the on-disk credential location.
func WithCredentialsDir(dir string) ServerContextOption {
	return func(o *contextOptions) { o.credentialsDir = dir }
}

// WithMetrics attaches the instrumentation recorder to the gate, the
// credential lifecycle, and the session manager.
func WithMetrics(m *instrumentation.Metrics) ServerContextOption {
	return func(o *contextOptions) { o.metrics = m }
}

// WithToolGroups selects which tool groups are enabled, which determines
// the Graph scopes requested during authorization.
func WithToolGroups(groups []string) ServerContextOption {
	return func(o *contextOptions) { o.toolGroups = groups }
}

// WithFlowOptions passes options through to the OAuth flow controller.
func WithFlowOptions(opts ...auth.FlowOption) ServerContextOption {
	return func(o *contextOptions) { o.flowOpts = append(o.flowOpts, opts...) }
}

// WithGateOptions passes options through to the service gate.
func WithGateOptions(opts ...auth.GateOption) ServerContextOption {
	return func(o *contextOptions) { o.gateOpts = append(o.gateOpts, opts...) }
}

// NewServerContext builds the credential core from the given configuration.
// In single-user mode the session validator is not constructed; the gate
// falls back to the sole stored credential instead.
func NewServerContext(ctx context.Context, cfg *auth.Config, logger *slog.Logger, opts ...ServerContextOption) (*ServerContext, error) {
	if logger == nil {
		logger = slog.Default()
	}

	options := &contextOptions{
		credentialsDir: auth.DefaultCredentialsDir(),
		toolGroups:     []string{"teams", "chat", "user"},
	}
	for _, opt := range opts {
		opt(options)
	}

	resolver := auth.NewScopeResolver()
	cfg.Scopes = resolver.RequiredScopes(options.toolGroups)

	store, err := auth.NewFileStore(options.credentialsDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}

	audit := auth.NewAuditLogger(logger)
	oauthConf := cfg.OAuth2()
	var lifecycleOpts []auth.LifecycleOption
	if options.metrics != nil {
		lifecycleOpts = append(lifecycleOpts, auth.WithRefreshMetrics(options.metrics))
	}
	lifecycle := auth.NewLifecycle(store, oauthConf, logger, audit, lifecycleOpts...)
	flow := auth.NewFlowController(oauthConf, store, logger, audit, options.flowOpts...)

	shutdownCtx, cancel := context.WithCancel(ctx)

	sc := &ServerContext{
		ctx:       shutdownCtx,
		cancel:    cancel,
		config:    cfg,
		store:     store,
		lifecycle: lifecycle,
		resolver:  resolver,
		flow:      flow,
		logger:    logger,
		metrics:   options.metrics,
		toolAudit: instrumentation.NewAuditLogger(logger),
	}

	gateOpts := append([]auth.GateOption{auth.WithGateTracer(instrumentation.GateSpan)}, options.gateOpts...)
	if options.metrics != nil {
		gateOpts = append(gateOpts, auth.WithGateMetrics(options.metrics))
	}

	if cfg.SingleUser {
		gateOpts = append(gateOpts, auth.WithSingleUserLookup(flow.SingleUserCredential))
		sc.gate = auth.NewGate(nil, lifecycle, resolver, logger, gateOpts...)
		return sc, nil
	}

	sc.bindings = auth.NewBindingTable(logger)
	sc.validator = auth.NewValidator(store, lifecycle, sc.bindings, audit, logger)
	sc.gate = auth.NewGate(sc.validator, lifecycle, resolver, logger, gateOpts...)
	return sc, nil
}

// Context returns the server's lifetime context.
func (sc *ServerContext) Context() context.Context {
	return sc.ctx
}

// Config returns the OAuth configuration.
func (sc *ServerContext) Config() *auth.Config {
	return sc.config
}

// Gate returns the authorization gate the tool handlers call through.
func (sc *ServerContext) Gate() *auth.Gate {
	return sc.gate
}

// Flow returns the OAuth flow controller.
func (sc *ServerContext) Flow() *auth.FlowController {
	return sc.flow
}

// Store returns the credential store.
func (sc *ServerContext) Store() *auth.FileStore {
	return sc.store
}

// Bindings returns the session binding table, or nil in single-user mode.
func (sc *ServerContext) Bindings() *auth.BindingTable {
	return sc.bindings
}

// Resolver returns the scope resolver.
func (sc *ServerContext) Resolver() *auth.ScopeResolver {
	return sc.resolver
}

// Metrics returns the instrumentation recorder, or nil when disabled.
func (sc *ServerContext) Metrics() *instrumentation.Metrics {
	return sc.metrics
}

// AuditLogger returns the tool-invocation audit logger.
func (sc *ServerContext) AuditLogger() *instrumentation.AuditLogger {
	return sc.toolAudit
}

// Logger returns the structured logger.
func (sc *ServerContext) Logger() *slog.Logger {
	return sc.logger
}

// IsShutdown reports whether Shutdown has been called.
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// Shutdown stops background work and cancels the server context.
// Safe to call more than once.
func (sc *ServerContext) Shutdown() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.shutdown {
		return nil
	}

	sc.shutdown = true
	sc.flow.Stop()
	sc.cancel()
	return nil
}
