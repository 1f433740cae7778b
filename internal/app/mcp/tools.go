package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/opsforge/opsplane/internal/domain"
)

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 200
)

func (s *Server) registerTools() {
	type targetArgs struct {
		Service     string `json:"service"`
		Environment string `json:"environment"`
		Binding     string `json:"binding,omitempty"`
	}

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_infrastructure_status",
		Description: "Current state of a service in one environment: instance counts, health, and provider metadata.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, req *mcp.CallToolRequest, args targetArgs) (*mcp.CallToolResult, any, error) {
		return s.dispatchTool(ctx, req, domain.DispatchRequest{
			Service:     args.Service,
			Environment: args.Environment,
			Binding:     args.Binding,
			Verb:        domain.VerbGetStatus,
		})
	})

	type scaleArgs struct {
		Service           string `json:"service"`
		Environment       string `json:"environment"`
		Capacity          int32  `json:"capacity"`
		Binding           string `json:"binding,omitempty"`
		ConfirmationToken string `json:"confirmation_token,omitempty"`
	}
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "scale_service",
		Description: "Set the desired capacity of a service. May require a confirmation token; resubmit the identical call with it.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args scaleArgs) (*mcp.CallToolResult, any, error) {
		return s.dispatchTool(ctx, req, domain.DispatchRequest{
			Service:           args.Service,
			Environment:       args.Environment,
			Binding:           args.Binding,
			Verb:              domain.VerbScale,
			Parameters:        map[string]any{"capacity": args.Capacity},
			ConfirmationToken: args.ConfirmationToken,
		})
	})

	type restartArgs struct {
		Service           string `json:"service"`
		Environment       string `json:"environment"`
		Binding           string `json:"binding,omitempty"`
		ConfirmationToken string `json:"confirmation_token,omitempty"`
	}
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "restart_service",
		Description: "Restart a service's instances. May require a confirmation token; resubmit the identical call with it.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args restartArgs) (*mcp.CallToolResult, any, error) {
		return s.dispatchTool(ctx, req, domain.DispatchRequest{
			Service:           args.Service,
			Environment:       args.Environment,
			Binding:           args.Binding,
			Verb:              domain.VerbRestart,
			ConfirmationToken: args.ConfirmationToken,
		})
	})

	type deployArgs struct {
		Service           string `json:"service"`
		Environment       string `json:"environment"`
		Version           string `json:"version"`
		Strategy          string `json:"strategy,omitempty"`
		Binding           string `json:"binding,omitempty"`
		ConfirmationToken string `json:"confirmation_token,omitempty"`
	}
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "deploy_service",
		Description: "Deploy a version of a service. May require a confirmation token; resubmit the identical call with it.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args deployArgs) (*mcp.CallToolResult, any, error) {
		params := map[string]any{"version": args.Version}
		if args.Strategy != "" {
			params["strategy"] = args.Strategy
		}
		return s.dispatchTool(ctx, req, domain.DispatchRequest{
			Service:           args.Service,
			Environment:       args.Environment,
			Binding:           args.Binding,
			Verb:              domain.VerbDeploy,
			Parameters:        params,
			ConfirmationToken: args.ConfirmationToken,
		})
	})

	type logsArgs struct {
		Service     string `json:"service"`
		Environment string `json:"environment"`
		Since       string `json:"since,omitempty"`
		Until       string `json:"until,omitempty"`
		Filter      string `json:"filter,omitempty"`
		Limit       int    `json:"limit,omitempty"`
		Binding     string `json:"binding,omitempty"`
	}
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_service_logs",
		Description: "Recent log events for a service. since/until take a duration like 30m or an RFC 3339 timestamp; filter matches severity.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, req *mcp.CallToolRequest, args logsArgs) (*mcp.CallToolResult, any, error) {
		params := map[string]any{}
		if args.Since != "" {
			params["since"] = args.Since
		}
		if args.Until != "" {
			params["until"] = args.Until
		}
		if args.Filter != "" {
			params["filter"] = args.Filter
		}
		if args.Limit > 0 {
			params["limit"] = args.Limit
		}
		return s.dispatchTool(ctx, req, domain.DispatchRequest{
			Service:     args.Service,
			Environment: args.Environment,
			Binding:     args.Binding,
			Verb:        domain.VerbGetLogs,
			Parameters:  params,
		})
	})

	type listServicesArgs struct {
		Environment string `json:"environment,omitempty"`
	}
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_services",
		Description: "Services in the catalog, optionally filtered to one environment.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(_ context.Context, req *mcp.CallToolRequest, args listServicesArgs) (*mcp.CallToolResult, any, error) {
		if _, limited := s.admit(req); limited != nil {
			return limited, nil, nil
		}
		entries := s.deps.Catalog.ListServices(args.Environment)
		return presentCatalog(entries, args.Environment)
	})

	type listEnvironmentsArgs struct {
		Service string `json:"service"`
	}
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_environments",
		Description: "Environments a service is bound in, with their trust tiers.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(_ context.Context, req *mcp.CallToolRequest, args listEnvironmentsArgs) (*mcp.CallToolResult, any, error) {
		if _, limited := s.admit(req); limited != nil {
			return limited, nil, nil
		}
		entries, err := s.deps.Catalog.ListEnvironments(args.Service)
		if err != nil {
			return errorResult("%v", err), nil, nil
		}
		return presentCatalog(entries, "")
	})

	type recentArgs struct {
		Limit int `json:"limit,omitempty"`
	}
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_recent_operations",
		Description: "The most recent entries from the operation trail, oldest first.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, req *mcp.CallToolRequest, args recentArgs) (*mcp.CallToolResult, any, error) {
		if _, limited := s.admit(req); limited != nil {
			return limited, nil, nil
		}
		limit := args.Limit
		if limit <= 0 {
			limit = defaultRecentLimit
		}
		if limit > maxRecentLimit {
			limit = maxRecentLimit
		}
		records, err := s.deps.Recent.Recent(ctx, limit)
		if err != nil {
			return errorResult("reading the operation trail: %v", err), nil, nil
		}
		return presentRecent(records)
	})

	type healthArgs struct{}
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "health_check",
		Description: "Control plane health: catalog freshness, registered providers, and audit persistence state.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(_ context.Context, req *mcp.CallToolRequest, _ healthArgs) (*mcp.CallToolResult, any, error) {
		if _, limited := s.admit(req); limited != nil {
			return limited, nil, nil
		}
		return s.presentHealth()
	})
}

// dispatchTool is the shared path for every operation tool: admit the
// caller, stamp identity, dispatch, and present the outcome.
func (s *Server) dispatchTool(ctx context.Context, req *mcp.CallToolRequest, dreq domain.DispatchRequest) (*mcp.CallToolResult, any, error) {
	caller, limited := s.admit(req)
	if limited != nil {
		return limited, nil, nil
	}
	dreq.Caller = caller
	dreq.SessionID = sessionID(req)

	out, err := s.deps.Dispatcher.Dispatch(ctx, dreq)
	return presentOutcome(dreq, out, err)
}

// admit applies the per-caller rate limit and resolves the caller identity.
func (s *Server) admit(req *mcp.CallToolRequest) (string, *mcp.CallToolResult) {
	caller := s.caller(req)
	if !s.deps.Limiter.Allow(caller) {
		s.logger.Warn("rate limit exceeded", "caller", caller)
		return caller, errorResult("rate limit exceeded for %q, retry shortly", caller)
	}
	return caller, nil
}

func errorResult(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
	}
}
