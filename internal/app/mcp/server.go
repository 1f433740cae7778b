// Package mcp exposes the dispatch pipeline as an MCP tool server over
// stdio or streamable HTTP.
package mcp

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/opsforge/opsplane/internal/domain"
	"github.com/opsforge/opsplane/internal/infra/config"
	"github.com/opsforge/opsplane/internal/infra/ratelimit"
	"github.com/opsforge/opsplane/internal/resolver"
)

const serverInstructions = `opsplane executes operational actions against your infrastructure
catalog. Discover targets with list_services and list_environments, inspect them with
get_infrastructure_status and get_service_logs, and change them with scale_service,
restart_service, and deploy_service. Mutating tools may answer with a confirmation token
instead of acting; repeat the exact same call with the confirmation_token argument to
proceed. Tokens are single use and expire after a few minutes.`

// Dispatcher runs one operation through resolution, guardrails, and the
// provider adapter.
type Dispatcher interface {
	Dispatch(ctx context.Context, req domain.DispatchRequest) (domain.DispatchOutcome, error)
}

// CatalogBrowser answers the discovery tools.
type CatalogBrowser interface {
	ListServices(environment string) []resolver.ServiceEntry
	ListEnvironments(service string) ([]resolver.ServiceEntry, error)
}

// RecentSource reads back the trail for the review tool.
type RecentSource interface {
	Recent(ctx context.Context, limit int) ([]domain.AuditRecord, error)
}

// Deps carries everything the tool handlers touch.
type Deps struct {
	Dispatcher Dispatcher
	Catalog    CatalogBrowser
	Snapshots  domain.CatalogSource
	Recent     RecentSource
	Audit      domain.AuditLogger
	Providers  domain.ProviderRegistry
	Limiter    ratelimit.Limiter
	Config     *config.Config
	Logger     *slog.Logger
}

// Server is the MCP face of the control plane.
type Server struct {
	mcp     *mcp.Server
	deps    Deps
	logger  *slog.Logger
	started time.Time
}

// New builds the tool server. It does not start serving; call Run for stdio
// or mount Handler for HTTP.
func New(deps Deps) *Server {
	s := &Server{
		deps:    deps,
		logger:  deps.Logger,
		started: time.Now(),
	}

	s.mcp = mcp.NewServer(&mcp.Implementation{
		Name:    "opsplane",
		Version: deps.Config.ServiceVersion,
	}, &mcp.ServerOptions{
		Instructions: serverInstructions,
		InitializedHandler: func(_ context.Context, req *mcp.InitializedRequest) {
			name, version := clientIdentity(req.Session)
			s.logger.Info("mcp client initialized", "client", name, "client_version", version)
		},
	})

	s.mcp.AddReceivingMiddleware(s.loggingMiddleware())
	s.registerTools()
	return s
}

// Run serves the stdio transport until the context ends.
func (s *Server) Run(ctx context.Context) error {
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

// RunTransport serves an explicit transport. Tests drive the server through
// in-memory transports with it.
func (s *Server) RunTransport(ctx context.Context, t mcp.Transport) error {
	return s.mcp.Run(ctx, t)
}

// Handler returns the streamable HTTP handler for this server.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcp
	}, nil)
}

// loggingMiddleware mirrors every tool call into structured logs with its
// duration. Other MCP traffic logs at debug.
func (s *Server) loggingMiddleware() mcp.Middleware {
	return func(next mcp.MethodHandler) mcp.MethodHandler {
		return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
			start := time.Now()
			result, err := next(ctx, method, req)

			level := slog.LevelDebug
			if method == "tools/call" {
				level = slog.LevelInfo
			}
			s.logger.Log(ctx, level, "mcp request",
				"method", method,
				"duration_ms", time.Since(start).Milliseconds(),
				"error", err,
			)
			return result, err
		}
	}
}

// caller resolves the identity attached to dispatches. A configured override
// wins; otherwise the connected client's name is the caller.
func (s *Server) caller(req *mcp.CallToolRequest) string {
	if override := s.deps.Config.Server.CallerOverride; override != "" {
		return override
	}
	if req != nil {
		if name, _ := clientIdentity(req.Session); name != "" {
			return name
		}
	}
	return "unknown"
}

func sessionID(req *mcp.CallToolRequest) string {
	if req == nil || req.Session == nil {
		return ""
	}
	return req.Session.ID()
}

func clientIdentity(session *mcp.ServerSession) (name, version string) {
	if session == nil {
		return "", ""
	}
	params := session.InitializeParams()
	if params == nil || params.ClientInfo == nil {
		return "", ""
	}
	return params.ClientInfo.Name, params.ClientInfo.Version
}
