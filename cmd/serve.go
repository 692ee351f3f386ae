package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/teamsmcp/internal/auth"
	"github.com/teemow/teamsmcp/internal/instrumentation"
	"github.com/teemow/teamsmcp/internal/server"
	"github.com/teemow/teamsmcp/internal/tools/auth_tools"
	"github.com/teemow/teamsmcp/internal/tools/chat_tools"
	"github.com/teemow/teamsmcp/internal/tools/teams_tools"
	"github.com/teemow/teamsmcp/internal/tools/user_tools"
)

// MetricsConfig holds configuration for the metrics server
type MetricsConfig struct {
	// Enabled determines whether to start the metrics server (default: true)
	Enabled bool

	// Addr is the address for the metrics server (e.g., ":9090")
	Addr string
}

func newServeCmd() *cobra.Command {
	var (
		debugMode      bool
		transport      string
		httpAddr       string
		yolo           bool
		baseURL        string
		credentialsDir string
		toolGroups     []string
		singleUser     bool
		clientID       string
		clientSecret   string
		tenantID       string
		redirectURL    string
		// Metrics server configuration
		metricsEnabled bool
		metricsAddr    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the Model Context Protocol (MCP) server to provide Microsoft Teams,
chat, and directory tools for AI assistants.

Supports multiple transport types:
  - stdio: Standard input/output (default)
  - sse: Server-Sent Events over HTTP
  - streamable-http: Streamable HTTP transport

Safety Mode:
  By default, the server operates in read-only mode, providing only safe
  operations. Use --yolo to enable write operations (sending chat messages).

OAuth Configuration:
  The Microsoft application registration is read from
  MICROSOFT_OAUTH_CLIENT_ID, MICROSOFT_OAUTH_CLIENT_SECRET, and
  MICROSOFT_TENANT_ID, or from the matching flags. The redirect URI must
  match one registered for the application; for HTTP transports it defaults
  to <base-url>/oauth/callback.

Single-User Mode:
  --single-user (or TEAMSMCP_SINGLE_USER=true) skips identity binding and
  serves the one stored credential. Only supported with the stdio transport;
  HTTP transports always enforce per-session identity binding.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			metricsConfig := MetricsConfig{
				Enabled: metricsEnabled,
				Addr:    metricsAddr,
			}

			if !cmd.Flags().Changed("tool-groups") {
				if groups := os.Getenv("TEAMSMCP_TOOL_GROUPS"); groups != "" {
					toolGroups = parseCommaSeparatedList(groups)
				}
			}
			if !cmd.Flags().Changed("single-user") {
				// Accept the usual boolean spellings, same as LoadConfigFromEnv.
				v, err := strconv.ParseBool(os.Getenv("TEAMSMCP_SINGLE_USER"))
				singleUser = err == nil && v
			}
			if credentialsDir == "" {
				credentialsDir = os.Getenv("TEAMSMCP_CREDENTIALS_DIR")
			}

			cfg, err := loadAuthConfig(clientID, clientSecret, tenantID, redirectURL, singleUser)
			if err != nil {
				return err
			}

			return runServe(cfg, transport, debugMode, httpAddr, yolo, baseURL, credentialsDir, toolGroups, metricsConfig)
		},
	}

	cmd.Flags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport type: stdio, sse, or streamable-http")
	cmd.Flags().StringVar(&httpAddr, "http-addr", ":8080", "HTTP server address (for sse and streamable-http transports)")
	cmd.Flags().BoolVar(&yolo, "yolo", false, "Enable write operations (sending chat messages). Default is read-only mode.")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Public base URL for OAuth redirects (HTTP transports only). Required for deployed instances. Can also use MCP_BASE_URL env var. Example: https://mcp.example.com")
	cmd.Flags().StringVar(&credentialsDir, "credentials-dir", "", "Directory for stored user credentials. Can also use TEAMSMCP_CREDENTIALS_DIR env var. Default: ~/.config/teamsmcp/credentials")
	cmd.Flags().StringSliceVar(&toolGroups, "tool-groups", []string{"teams", "chat", "user"}, "Tool groups to expose: teams, chat, user. Determines the OAuth scopes requested at sign-in. Can also use TEAMSMCP_TOOL_GROUPS env var.")
	cmd.Flags().BoolVar(&singleUser, "single-user", false, "Serve the single stored credential without identity binding (stdio transport only). Can also use TEAMSMCP_SINGLE_USER env var.")
	cmd.Flags().StringVar(&clientID, "client-id", "", "Microsoft OAuth application (client) ID. Can also use MICROSOFT_OAUTH_CLIENT_ID env var.")
	cmd.Flags().StringVar(&clientSecret, "client-secret", "", "Microsoft OAuth client secret. Can also use MICROSOFT_OAUTH_CLIENT_SECRET env var.")
	cmd.Flags().StringVar(&tenantID, "tenant-id", "", "Azure AD tenant ID, or 'common' for multi-tenant. Can also use MICROSOFT_TENANT_ID env var.")
	cmd.Flags().StringVar(&redirectURL, "redirect-url", "", "OAuth redirect URI registered for the application. Defaults to <base-url>/oauth/callback for HTTP transports.")

	// Metrics server flags
	cmd.Flags().BoolVar(&metricsEnabled, "metrics-enabled", true, "Enable the metrics server on a dedicated port. Can also use METRICS_ENABLED env var.")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "Metrics server address. Can also use METRICS_ADDR env var.")

	return cmd
}

// loadAuthConfig builds the OAuth configuration from flags layered over the
// environment. Flags win when set.
func loadAuthConfig(clientID, clientSecret, tenantID, redirectURL string, singleUser bool) (*auth.Config, error) {
	cfg, err := auth.LoadConfigFromEnv()
	if err != nil {
		// Flags may complete the registration the environment is missing.
		cfg = &auth.Config{TenantID: "common"}
	}

	if clientID != "" {
		cfg.ClientID = clientID
	}
	if clientSecret != "" {
		cfg.ClientSecret = clientSecret
	}
	if tenantID != "" {
		cfg.TenantID = tenantID
	}
	if redirectURL != "" {
		cfg.RedirectURL = redirectURL
	}
	if singleUser {
		cfg.SingleUser = true
	}

	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("Microsoft OAuth registration is incomplete: set MICROSOFT_OAUTH_CLIENT_ID and MICROSOFT_OAUTH_CLIENT_SECRET env vars or the --client-id and --client-secret flags")
	}

	return cfg, nil
}

func runServe(cfg *auth.Config, transport string, debugMode bool, httpAddr string, yolo bool, baseURL, credentialsDir string, toolGroups []string, metricsConfig MetricsConfig) error {
	// Single-user mode bypasses session binding entirely; over a shared
	// HTTP listener that would hand one user's credential to every client.
	if cfg.SingleUser && transport != "stdio" {
		return fmt.Errorf("single-user mode is only supported with the stdio transport (got %q)", transport)
	}

	// Setup graceful shutdown
	shutdownCtx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Logs go to stderr; stdout belongs to the stdio transport.
	logLevel := slog.LevelInfo
	if debugMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	// Load metrics config from environment if not set via flags
	if !metricsConfig.Enabled {
		if os.Getenv("METRICS_ENABLED") == "true" {
			metricsConfig.Enabled = true
		}
	}
	if metricsConfig.Addr == "" || metricsConfig.Addr == ":9090" {
		if addr := os.Getenv("METRICS_ADDR"); addr != "" {
			metricsConfig.Addr = addr
		}
	}

	// Initialize instrumentation provider
	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version

	provider, err := instrumentation.NewProvider(shutdownCtx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		if err := provider.Shutdown(shutdownCtx); err != nil {
			if transport != "stdio" {
				log.Printf("Error during instrumentation shutdown: %v", err)
			}
		}
	}()

	// Start metrics server if enabled and not in stdio mode
	var metricsServer *server.MetricsServer
	if transport != "stdio" && metricsConfig.Enabled && provider.Enabled() {
		var err error
		metricsServer, err = server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    metricsConfig.Addr,
			Enabled:                 true,
			InstrumentationProvider: provider,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}

		go func() {
			if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
				log.Printf("Metrics server stopped with error: %v", err)
			}
		}()
		log.Printf("Metrics server starting on %s", metricsServer.Addr())
	}
	defer func() {
		if metricsServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				log.Printf("Error during metrics server shutdown: %v", err)
			}
		}
	}()

	// Determine base URL before building the server context so the OAuth
	// redirect URI stored in pending authorization attempts matches it.
	if transport != "stdio" {
		baseURL = resolveBaseURL(baseURL, httpAddr, transport)
		if cfg.RedirectURL == "" {
			cfg.RedirectURL = strings.TrimSuffix(baseURL, "/") + "/oauth/callback"
		}
	} else if cfg.RedirectURL == "" {
		// stdio users complete the flow manually through the auth_complete
		// tool; the registered loopback URI never needs to be reachable.
		cfg.RedirectURL = "http://localhost:8080/oauth/callback"
	}

	// Create server context
	contextOpts := []server.ServerContextOption{
		server.WithToolGroups(toolGroups),
	}
	if credentialsDir != "" {
		contextOpts = append(contextOpts, server.WithCredentialsDir(credentialsDir))
	}
	if provider.Enabled() {
		contextOpts = append(contextOpts, server.WithMetrics(provider.Metrics()))
	}

	serverContext, err := server.NewServerContext(shutdownCtx, cfg, logger, contextOpts...)
	if err != nil {
		return fmt.Errorf("failed to create server context: %w", err)
	}
	defer func() {
		if err := serverContext.Shutdown(); err != nil {
			if transport != "stdio" {
				log.Printf("Error during server context shutdown: %v", err)
			}
		}
	}()

	// Create MCP server
	mcpSrv := mcpserver.NewMCPServer("teamsmcp", version,
		mcpserver.WithToolCapabilities(true),
	)

	// readOnly is the inverse of yolo
	readOnly := !yolo

	// Log the mode for visibility (only for non-stdio transports)
	if transport != "stdio" {
		if readOnly {
			log.Println("Starting server in READ-ONLY mode (use --yolo to enable write operations)")
		} else {
			log.Println("Starting server with WRITE operations enabled (--yolo flag is set)")
		}
	}

	// Register all tools
	if err := registerAllTools(mcpSrv, serverContext, toolGroups, readOnly); err != nil {
		return err
	}

	// Start the appropriate server based on transport type
	switch transport {
	case "stdio":
		return runStdioServer(mcpSrv)
	case "sse", "streamable-http":
		return runHTTPServer(shutdownCtx, mcpSrv, serverContext, transport, httpAddr, baseURL, metricsConfig)
	default:
		return fmt.Errorf("unsupported transport type: %s (supported: stdio, sse, streamable-http)", transport)
	}
}

func runStdioServer(mcpSrv *mcpserver.MCPServer) error {
	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := mcpserver.ServeStdio(mcpSrv); err != nil {
			serverDone <- err
		}
	}()

	err := <-serverDone
	if err != nil {
		return fmt.Errorf("server stopped with error: %w", err)
	}
	return nil
}

// registerAllTools registers the MCP tools for the enabled tool groups.
// The auth tools are always registered; without them nobody can sign in.
func registerAllTools(mcpSrv *mcpserver.MCPServer, ctx *server.ServerContext, toolGroups []string, readOnly bool) error {
	if err := auth_tools.RegisterAuthTools(mcpSrv, ctx); err != nil {
		return fmt.Errorf("failed to register Auth tools: %w", err)
	}

	for _, group := range toolGroups {
		var err error
		switch group {
		case "teams":
			err = teams_tools.RegisterTeamsTools(mcpSrv, ctx)
		case "chat":
			err = chat_tools.RegisterChatTools(mcpSrv, ctx, readOnly)
		case "user":
			err = user_tools.RegisterUserTools(mcpSrv, ctx)
		default:
			return fmt.Errorf("unknown tool group %q (supported: teams, chat, user)", group)
		}
		if err != nil {
			return fmt.Errorf("failed to register %s tools: %w", group, err)
		}
	}

	return nil
}

// resolveBaseURL picks the public base URL from the flag, the MCP_BASE_URL
// environment variable, or falls back to the listen address for local
// development.
func resolveBaseURL(baseURL, addr, transport string) string {
	if baseURL == "" {
		baseURL = os.Getenv("MCP_BASE_URL")
	}
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://%s", addr)
		if addr[0] == ':' {
			baseURL = fmt.Sprintf("http://localhost%s", addr)
		}
		log.Printf("No base URL configured, using auto-detected: %s", baseURL)
		log.Printf("For deployed instances, set --base-url flag or MCP_BASE_URL env var")
	} else {
		log.Printf("Using configured base URL: %s", baseURL)
	}
	return baseURL
}

func runHTTPServer(ctx context.Context, mcpSrv *mcpserver.MCPServer, serverContext *server.ServerContext, transport, addr, baseURL string, metricsConfig MetricsConfig) error {
	oauthServer, err := server.NewOAuthHTTPServer(mcpSrv, serverContext, transport, baseURL)
	if err != nil {
		return fmt.Errorf("failed to create OAuth HTTP server: %w", err)
	}

	fmt.Printf("Starting teamsmcp MCP server with %s transport on %s\n", transport, addr)
	if transport == "sse" {
		fmt.Printf("  SSE endpoint: /sse\n")
	} else {
		fmt.Printf("  HTTP endpoint: /mcp\n")
	}
	fmt.Printf("  Health endpoints: /healthz, /readyz\n")
	fmt.Printf("  OAuth endpoints: /oauth/login, /oauth/callback\n")
	if metricsConfig.Enabled {
		fmt.Printf("  Metrics endpoint: %s/metrics\n", metricsConfig.Addr)
	}
	fmt.Println("\nUsers sign in at /oauth/login (or via the auth_login tool).")
	fmt.Println("Clients must present the same identity for the lifetime of a session.")

	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := oauthServer.Start(addr); err != nil && err != http.ErrServerClosed {
			serverDone <- err
		}
	}()

	select {
	case <-ctx.Done():
		fmt.Println("Shutdown signal received, stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := oauthServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("error shutting down HTTP server: %w", err)
		}
	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("HTTP server stopped with error: %w", err)
		}
		fmt.Println("HTTP server stopped normally")
	}

	fmt.Println("HTTP server gracefully stopped")
	return nil
}

// parseCommaSeparatedList parses a comma-separated string into a slice,
// trimming whitespace from each element and filtering out empty strings.
// Returns nil if the input is empty or contains only whitespace/commas.
func parseCommaSeparatedList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
