package service

import (
	"context"
	"errors"
	"strconv"

	"github.com/opsforge/opsplane/internal/domain"
	apperrors "github.com/opsforge/opsplane/internal/errors"
	"github.com/opsforge/opsplane/pkg/execution"
	"github.com/opsforge/opsplane/pkg/telemetry"
)

// execute runs the provider leg for an allowed operation and fills the
// outcome payload matching the verb. The returned map carries extra audit
// fields such as the capacity before a scale.
func (d *Dispatcher) execute(
	ctx context.Context,
	req domain.DispatchRequest,
	adapter domain.ProviderAdapter,
	binding domain.ResourceBinding,
	logGroup string,
	outcome *domain.DispatchOutcome,
) (map[string]string, error) {
	switch req.Verb {
	case domain.VerbGetStatus:
		snap, err := providerCall(ctx, d, false, func(ctx context.Context) (domain.StatusSnapshot, error) {
			return adapter.GetStatus(ctx, binding)
		})
		if err != nil {
			return nil, err
		}
		outcome.StatusSnapshot = &snap
		return nil, nil

	case domain.VerbGetLogs:
		window, err := logWindowFromParams(req.Parameters, logGroup, d.clock())
		if err != nil {
			return nil, err
		}
		batch, err := providerCall(ctx, d, false, func(ctx context.Context) (domain.LogBatch, error) {
			return adapter.GetLogs(ctx, binding, window)
		})
		if err != nil {
			return nil, err
		}
		outcome.Logs = &batch
		return map[string]string{"log_group": window.Group}, nil

	case domain.VerbScale:
		target, _ := capacityParam(req.Parameters)
		extra := d.capacityBefore(ctx, adapter, binding)
		result, err := providerCall(ctx, d, true, func(ctx context.Context) (domain.OperationResult, error) {
			return adapter.Scale(ctx, binding, target)
		})
		if err != nil {
			return extra, err
		}
		outcome.Result = &result
		return extra, nil

	case domain.VerbRestart:
		result, err := providerCall(ctx, d, true, func(ctx context.Context) (domain.OperationResult, error) {
			return adapter.Restart(ctx, binding)
		})
		if err != nil {
			return nil, err
		}
		outcome.Result = &result
		return nil, nil

	case domain.VerbDeploy:
		version, _ := stringParam(req.Parameters, "version")
		strategy, ok := stringParam(req.Parameters, "strategy")
		if !ok {
			strategy = "rolling"
		}
		result, err := providerCall(ctx, d, true, func(ctx context.Context) (domain.OperationResult, error) {
			return adapter.Deploy(ctx, binding, version, strategy)
		})
		if err != nil {
			return nil, err
		}
		outcome.Result = &result
		return map[string]string{"version": version, "strategy": strategy}, nil
	}

	return nil, apperrors.ErrInvalidInput
}

// providerCall runs one adapter call under the retry and timeout budgets.
// Mutating calls are detached from the caller's cancellation so an attempt
// that has started always runs to completion; the retry loop itself still
// honors cancellation, so no new attempt starts after the caller gives up.
func providerCall[T any](ctx context.Context, d *Dispatcher, mutating bool, fn func(ctx context.Context) (T, error)) (T, error) {
	policy := execution.RetryPolicy{
		MaxAttempts:    d.limits.Retry.MaxAttempts,
		InitialBackoff: d.limits.Retry.InitialBackoff,
		MaxBackoff:     d.limits.Retry.MaxBackoff,
		MaxElapsed:     d.limits.Retry.MaxElapsed,
		ShouldRetry:    apperrors.Retryable,
	}
	return execution.WithRetry(ctx, policy, func(ctx context.Context, attempt int) (T, error) {
		if attempt > 1 {
			d.logger.Debug("retrying provider call", "attempt", attempt)
			telemetry.RecordProviderRetry(ctx)
		}
		if mutating {
			ctx = context.WithoutCancel(ctx)
		}
		if d.limits.AdapterTimeout > 0 {
			return execution.WithTimeout(ctx, d.limits.AdapterTimeout, fn)
		}
		return fn(ctx)
	})
}

// capacityBefore snapshots the current capacity ahead of a scale so the
// audit trail records the change, not just the target. Best effort: a
// status failure never blocks the scale itself.
func (d *Dispatcher) capacityBefore(ctx context.Context, adapter domain.ProviderAdapter, binding domain.ResourceBinding) map[string]string {
	callCtx := ctx
	if d.limits.AdapterTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d.limits.AdapterTimeout)
		defer cancel()
	}
	snap, err := adapter.GetStatus(callCtx, binding)
	if err != nil {
		return nil
	}
	previous := snap.Metadata["desired_capacity"]
	if previous == "" {
		previous = strconv.Itoa(int(snap.InstanceCount))
	}
	return map[string]string{"previous_capacity": previous}
}

// cancelledRead reports whether a read verb was aborted by caller
// cancellation. Reads have no side effects, so an aborted one is a clean
// cancellation rather than a failure.
func cancelledRead(verb domain.Verb, err error) bool {
	return !verb.Mutating() && errors.Is(err, context.Canceled)
}
