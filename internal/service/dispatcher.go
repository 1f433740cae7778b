// Package service implements the dispatch pipeline: resolve the target,
// evaluate guardrails, execute through the provider adapter, and audit the
// attempt. Every dispatch produces exactly one terminal audit record.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opsforge/opsplane/internal/domain"
	apperrors "github.com/opsforge/opsplane/internal/errors"
	"github.com/opsforge/opsplane/internal/infra/config"
	"github.com/opsforge/opsplane/pkg/telemetry"
)

// Resolver maps logical coordinates onto provider bindings.
type Resolver interface {
	Resolve(service, environment string, class domain.ResourceClass, bindingName string) (domain.ResourceBinding, error)
	ResolveForLogs(service, environment, bindingName string) (domain.ResourceBinding, string, error)
}

// Guardrail produces the decision for one operation instance.
type Guardrail interface {
	Evaluate(ctx context.Context, op domain.Operation, binding domain.ResourceBinding, confirmationToken string) (domain.Decision, error)
}

// Dispatcher runs operations end to end. It owns the ordering contract:
// resolution failures are audited without touching the guardrails, guardrail
// verdicts are audited before any provider call, and the provider result is
// audited exactly once no matter how many retries it took.
type Dispatcher struct {
	resolver  Resolver
	guardrail Guardrail
	providers domain.ProviderRegistry
	auditor   domain.AuditLogger
	logger    *slog.Logger
	limits    config.LimitsConfig

	clock func() time.Time
	newID func() string
}

// DispatcherOption customizes a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithClock substitutes the time source, for tests.
func WithClock(clock func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.clock = clock }
}

// WithIDGenerator substitutes the dispatch id source, for tests.
func WithIDGenerator(newID func() string) DispatcherOption {
	return func(d *Dispatcher) { d.newID = newID }
}

// NewDispatcher wires the pipeline. The limits config bounds provider calls;
// a zero MaxAttempts is normalized to one so a misconfigured retry block can
// never skip the call entirely.
func NewDispatcher(
	resolver Resolver,
	guardrail Guardrail,
	providers domain.ProviderRegistry,
	auditor domain.AuditLogger,
	limits config.LimitsConfig,
	logger *slog.Logger,
	opts ...DispatcherOption,
) *Dispatcher {
	if limits.Retry.MaxAttempts < 1 {
		limits.Retry.MaxAttempts = 1
	}
	d := &Dispatcher{
		resolver:  resolver,
		guardrail: guardrail,
		providers: providers,
		auditor:   auditor,
		logger:    logger,
		limits:    limits,
		clock:     time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch runs one request through the full pipeline. The outcome is always
// populated; the error classifies denials and failures for errors.Is callers
// and is nil for completed and confirmation-required dispatches.
func (d *Dispatcher) Dispatch(ctx context.Context, req domain.DispatchRequest) (domain.DispatchOutcome, error) {
	ctx, span := telemetry.StartDispatchSpan(ctx, string(req.Verb), req.Service, req.Environment)
	defer span.End()

	started := d.clock()
	dispatchID := d.newID()
	base := domain.AuditRecord{
		SessionID:   req.SessionID,
		DispatchID:  dispatchID,
		Caller:      req.Caller,
		Verb:        req.Verb,
		Service:     req.Service,
		Environment: req.Environment,
		Parameters:  req.Parameters,
	}

	if err := validateRequest(req); err != nil {
		base.Decision = domain.AuditDecisionError
		base.Outcome = domain.AuditOutcomeNone
		base.Detail = err.Error()
		d.record(ctx, base, started)
		return domain.DispatchOutcome{Status: domain.DispatchFailed, Reason: err.Error()}, err
	}

	binding, logGroup, err := d.resolve(req)
	if err != nil {
		base.Decision = domain.AuditDecisionError
		base.Outcome = domain.AuditOutcomeNone
		base.Detail = err.Error()
		d.record(ctx, base, started)
		return domain.DispatchOutcome{Status: domain.DispatchFailed, Reason: err.Error()}, err
	}
	base.Provider = binding.Provider
	base.Resource = binding.Ref

	adapter, ok := d.providers.Adapter(binding.Provider)
	if !ok {
		err := fmt.Errorf("%w: %q for %s", apperrors.ErrProviderUnavailable, binding.Provider, binding.Slot())
		base.Decision = domain.AuditDecisionError
		base.Outcome = domain.AuditOutcomeNone
		base.Detail = err.Error()
		d.record(ctx, base, started)
		return domain.DispatchOutcome{Status: domain.DispatchFailed, Reason: err.Error()}, err
	}

	op := domain.Operation{
		Verb:        req.Verb,
		Service:     req.Service,
		Environment: req.Environment,
		Caller:      req.Caller,
		Parameters:  req.Parameters,
		RequestedAt: started,
	}
	decision, err := d.guardrail.Evaluate(ctx, op, binding, req.ConfirmationToken)
	if err != nil {
		base.Decision = domain.AuditDecisionError
		base.Outcome = domain.AuditOutcomeNone
		base.Detail = err.Error()
		d.record(ctx, base, started)
		return domain.DispatchOutcome{Status: domain.DispatchFailed, Reason: err.Error()}, err
	}
	base.RuleID = decision.RuleID

	switch decision.Kind {
	case domain.DecisionDeny:
		base.Decision = domain.AuditDecisionDenied
		base.Outcome = domain.AuditOutcomeNone
		base.Detail = decision.Reason
		d.record(ctx, base, started)
		return domain.DispatchOutcome{
			Status:   domain.DispatchDenied,
			Reason:   decision.Reason,
			Provider: binding.Provider,
			Resource: binding.Ref,
		}, denialError(decision)

	case domain.DecisionRequireConfirmation:
		base.Decision = domain.AuditDecisionPending
		base.Outcome = domain.AuditOutcomeNone
		base.Detail = decision.Reason
		base.Extra = map[string]string{"expires_at": decision.Token.ExpiresAt.UTC().Format(time.RFC3339)}
		d.record(ctx, base, started)
		return domain.DispatchOutcome{
			Status:   domain.DispatchConfirmationRequired,
			Reason:   decision.Reason,
			Provider: binding.Provider,
			Resource: binding.Ref,
			Confirmation: &domain.ConfirmationGrant{
				Token:     decision.Token.Value,
				ExpiresAt: decision.Token.ExpiresAt,
				Reason:    decision.Reason,
			},
		}, nil
	}

	allowed := domain.AuditDecisionAllowed
	if decision.Confirmed {
		allowed = domain.AuditDecisionConfirmed
	}

	// The last instant a cancellation can stop the operation cleanly. Past
	// this point a mutating call runs to completion and is audited as it
	// actually ended.
	if err := ctx.Err(); err != nil {
		base.Decision = domain.AuditDecisionCancelled
		base.Outcome = domain.AuditOutcomeNone
		base.Detail = err.Error()
		d.record(ctx, base, started)
		return domain.DispatchOutcome{
			Status:   domain.DispatchCancelled,
			Reason:   "dispatch cancelled before the provider call",
			Provider: binding.Provider,
			Resource: binding.Ref,
		}, err
	}

	outcome := domain.DispatchOutcome{
		Status:   domain.DispatchCompleted,
		Provider: binding.Provider,
		Resource: binding.Ref,
	}
	extra, err := d.execute(ctx, req, adapter, binding, logGroup, &outcome)
	base.Extra = extra

	if err != nil {
		if cancelledRead(req.Verb, err) {
			base.Decision = domain.AuditDecisionCancelled
			base.Outcome = domain.AuditOutcomeNone
			base.Detail = err.Error()
			d.record(ctx, base, started)
			outcome.Status = domain.DispatchCancelled
			outcome.Reason = "dispatch cancelled during the provider call"
			return outcome, err
		}
		base.Decision = allowed
		base.Outcome = domain.AuditOutcomeFailure
		base.Detail = err.Error()
		d.record(ctx, base, started)
		outcome.Status = domain.DispatchFailed
		outcome.Reason = err.Error()
		return outcome, err
	}

	base.Decision = allowed
	base.Outcome = domain.AuditOutcomeSuccess
	d.record(ctx, base, started)
	return outcome, nil
}

// resolve picks the binding for the request. Log queries also resolve the
// backing log group so the adapter never guesses at locations.
func (d *Dispatcher) resolve(req domain.DispatchRequest) (domain.ResourceBinding, string, error) {
	if req.Verb == domain.VerbGetLogs {
		return d.resolver.ResolveForLogs(req.Service, req.Environment, req.Binding)
	}
	binding, err := d.resolver.Resolve(req.Service, req.Environment, req.ResourceClass, req.Binding)
	return binding, "", err
}

// record stamps latency, persists the audit record, and emits the dispatch
// metric. Audit writes run on a detached context: a caller that has gone
// away does not get to erase the trail of what it started.
func (d *Dispatcher) record(ctx context.Context, rec domain.AuditRecord, started time.Time) {
	elapsed := d.clock().Sub(started)
	rec.LatencyMS = elapsed.Milliseconds()
	d.auditor.Record(context.WithoutCancel(ctx), rec)
	telemetry.RecordDispatch(ctx, string(rec.Verb), string(rec.Decision), string(rec.Outcome), elapsed)
}

// denialError maps a deny decision onto the matching sentinel.
func denialError(decision domain.Decision) error {
	switch decision.Denial {
	case domain.DenialInvalidConfirmation:
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidConfirmation, decision.Reason)
	case domain.DenialConfirmationExpired:
		return fmt.Errorf("%w: %s", apperrors.ErrConfirmationExpired, decision.Reason)
	default:
		return fmt.Errorf("%w: %s", apperrors.ErrPolicyDenied, decision.Reason)
	}
}
