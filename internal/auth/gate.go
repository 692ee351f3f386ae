package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/teemow/teamsmcp/internal/graph"
	"github.com/teemow/teamsmcp/internal/logging"
)

// Operation names a privileged operation and the Graph scopes it needs.
// Tool packages declare one Operation per tool and pass it to Gate.Do.
type Operation struct {
	// Name identifies the operation in logs and metrics.
	Name string

	// RequiredScopes must all be present in the credential's granted set;
	// otherwise the call is denied with InsufficientScope before any
	// remote request is made.
	RequiredScopes []string
}

// GateMetrics records gate outcomes. instrumentation.Metrics implements it;
// the narrow interface keeps this package free of the otel dependency.
type GateMetrics interface {
	RecordAuthorization(ctx context.Context, operation, result string)
	RecordGraphRetry(ctx context.Context, operation string)
}

// GateTracer opens a span around one gated operation. The returned finish
// function records the outcome and ends the span. instrumentation.GateSpan
// satisfies it.
type GateTracer func(ctx context.Context, operation string) (context.Context, func(err error))

// Gate is the enforcement point in front of every privileged operation.
// It authorizes the caller, verifies scopes, hands the operation an
// authenticated Graph client, and converts a 401-class response into
// exactly one refresh-and-retry.
type Gate struct {
	validator *Validator
	lifecycle *Lifecycle
	resolver  *ScopeResolver
	logger    *slog.Logger
	metrics   GateMetrics
	tracer    GateTracer

	// singleUser, when set, bypasses identity binding and resolves the
	// sole stored credential instead. Never combined with session binding;
	// cmd/serve enforces that at startup.
	singleUser func() (*Credential, error)

	graphOpts []graph.Option
}

// GateOption customizes a Gate.
type GateOption func(*Gate)

// WithGateMetrics wires outcome metrics into the gate.
func WithGateMetrics(metrics GateMetrics) GateOption {
	return func(g *Gate) { g.metrics = metrics }
}

// WithGateTracer opens a span around every gated operation.
func WithGateTracer(tracer GateTracer) GateOption {
	return func(g *Gate) { g.tracer = tracer }
}

// WithSingleUserLookup enables the degraded single-user fallback.
func WithSingleUserLookup(lookup func() (*Credential, error)) GateOption {
	return func(g *Gate) { g.singleUser = lookup }
}

// WithGraphOptions passes options to every Graph client the gate builds,
// mainly for tests pointing at a local server.
func WithGraphOptions(opts ...graph.Option) GateOption {
	return func(g *Gate) { g.graphOpts = opts }
}

// NewGate creates a Gate.
func NewGate(validator *Validator, lifecycle *Lifecycle, resolver *ScopeResolver, logger *slog.Logger, opts ...GateOption) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gate{
		validator: validator,
		lifecycle: lifecycle,
		resolver:  resolver,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Do authorizes req for op and, on success, invokes fn with an
// authenticated Graph client. Denials are returned as *Denial without fn
// ever running. When the Graph API answers 401/403 the credential is
// force-refreshed once and fn retried once; a second failure denies with
// ReauthenticationRequired.
func (g *Gate) Do(ctx context.Context, op Operation, req AuthRequest, fn func(ctx context.Context, client *graph.Client) error) error {
	if g.tracer == nil {
		return g.do(ctx, op, req, fn)
	}
	ctx, finish := g.tracer(ctx, op.Name)
	err := g.do(ctx, op, req, fn)
	finish(err)
	return err
}

func (g *Gate) do(ctx context.Context, op Operation, req AuthRequest, fn func(ctx context.Context, client *graph.Client) error) error {
	cred, err := g.resolveCredential(ctx, req)
	if err != nil {
		g.record(ctx, op, err)
		return err
	}

	if missing := g.resolver.Missing(cred.GrantedScopes, op.RequiredScopes); len(missing) > 0 {
		denial := NewDenial(DenyInsufficientScope,
			"operation %s requires scopes not granted: %s", op.Name, strings.Join(missing, " "))
		g.record(ctx, op, denial)
		return denial
	}

	err = fn(ctx, graph.NewClient(cred.AccessToken, g.graphOpts...))
	if isAuthError(err) {
		// The stored expiry lied; the resource API is the authority.
		// One refresh, one retry, then give up.
		if g.metrics != nil {
			g.metrics.RecordGraphRetry(ctx, op.Name)
		}
		refreshed, refreshErr := g.lifecycle.ForceRefresh(ctx, cred)
		if refreshErr != nil {
			denial := g.denialFromRefresh(refreshErr)
			g.record(ctx, op, denial)
			return denial
		}
		err = fn(ctx, graph.NewClient(refreshed.AccessToken, g.graphOpts...))
		if isAuthError(err) {
			denial := NewDenial(DenyReauthenticationRequired,
				"token rejected by resource API after refresh")
			g.record(ctx, op, denial)
			return denial
		}
	}

	g.record(ctx, op, err)
	if err != nil {
		g.logger.Debug("operation failed",
			logging.Operation(op.Name),
			logging.Err(err))
	}
	return err
}

// resolveCredential picks the authorization path: the three-tier validator
// normally, the sole stored credential in single-user mode.
func (g *Gate) resolveCredential(ctx context.Context, req AuthRequest) (*Credential, error) {
	if g.singleUser != nil {
		cred, err := g.singleUser()
		if err != nil {
			if errors.Is(err, ErrCredentialNotFound) {
				return nil, NewDenial(DenyNotAuthenticated, "no credential stored")
			}
			return nil, NewDenial(DenyTemporarilyUnavailable, "%v", err)
		}
		if cred.Expired(time.Now()) {
			refreshed, err := g.lifecycle.Refresh(ctx, cred)
			if err != nil {
				return nil, g.denialFromRefresh(err)
			}
			cred = refreshed
		}
		return cred, nil
	}
	return g.validator.Authorize(ctx, req)
}

// denialFromRefresh maps a refresh failure to the matching denial.
func (g *Gate) denialFromRefresh(err error) *Denial {
	var refreshErr *RefreshError
	if errors.As(err, &refreshErr) && refreshErr.Kind == RefreshDenied {
		return NewDenial(DenyReauthenticationRequired, "refresh token rejected")
	}
	return NewDenial(DenyTemporarilyUnavailable, "token refresh unavailable: %v", err)
}

func (g *Gate) record(ctx context.Context, op Operation, err error) {
	if g.metrics == nil {
		return
	}
	result := "success"
	if denial, ok := AsDenial(err); ok {
		result = string(denial.Reason)
	} else if err != nil {
		result = "error"
	}
	g.metrics.RecordAuthorization(ctx, op.Name, result)
}

// isAuthError reports whether err is a Graph 401/403 response.
func isAuthError(err error) bool {
	var apiErr *graph.APIError
	return errors.As(err, &apiErr) && apiErr.IsAuthError()
}
