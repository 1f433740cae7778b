package domain

import (
	"context"
	"time"
)

// ServiceState is the coarse health of a resolved resource.
type ServiceState string

const (
	StateRunning  ServiceState = "running"
	StateStopped  ServiceState = "stopped"
	StateStarting ServiceState = "starting"
	StateStopping ServiceState = "stopping"
	StateDegraded ServiceState = "degraded"
	StateFailed   ServiceState = "failed"
	StateUnknown  ServiceState = "unknown"
)

// StatusSnapshot is a point-in-time view of a resource.
type StatusSnapshot struct {
	State          ServiceState
	InstanceCount  int32
	HealthyCount   int32
	UnhealthyCount int32
	LastUpdated    time.Time
	Metadata       map[string]string
}

// OperationResult reports a mutating provider call.
type OperationResult struct {
	Success bool
	Message string
	Details map[string]string
}

// LogWindow bounds a log query. Group is the resolved log location; the
// resolver fills it from the binding or the service-name default.
type LogWindow struct {
	Group  string
	Since  time.Time
	Until  time.Time
	Filter string
	Limit  int32
}

// LogEvent is one log line from a provider.
type LogEvent struct {
	Timestamp time.Time
	Message   string
	Stream    string
}

// LogBatch is the result of one log query.
type LogBatch struct {
	Events    []LogEvent
	Truncated bool
}

// ProviderAdapter is the capability contract each backend implements.
// Failures use the closed taxonomy in internal/errors. A transient
// classification means the provider rejected the call without acting on
// it; the dispatcher re-invokes only those, and only within the dispatch
// whose guardrail decision covered the call.
type ProviderAdapter interface {
	Name() string
	GetStatus(ctx context.Context, binding ResourceBinding) (StatusSnapshot, error)
	Scale(ctx context.Context, binding ResourceBinding, target int32) (OperationResult, error)
	Restart(ctx context.Context, binding ResourceBinding) (OperationResult, error)
	Deploy(ctx context.Context, binding ResourceBinding, version, strategy string) (OperationResult, error)
	GetLogs(ctx context.Context, binding ResourceBinding, window LogWindow) (LogBatch, error)
}

// ProviderRegistry selects the adapter for a binding's provider id.
type ProviderRegistry interface {
	Adapter(provider string) (ProviderAdapter, bool)
	Providers() []string
}
