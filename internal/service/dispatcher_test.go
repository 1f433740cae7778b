package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsforge/opsplane/internal/domain"
	apperrors "github.com/opsforge/opsplane/internal/errors"
	"github.com/opsforge/opsplane/internal/guardrail"
	"github.com/opsforge/opsplane/internal/infra/audit"
	"github.com/opsforge/opsplane/internal/infra/config"
	"github.com/opsforge/opsplane/internal/infra/confirm"
	"github.com/opsforge/opsplane/internal/infra/providers"
	"github.com/opsforge/opsplane/internal/resolver"
)

type stubCatalog struct{ snap *domain.CatalogSnapshot }

func (s stubCatalog) Snapshot() *domain.CatalogSnapshot { return s.snap }

type stubPolicy struct{ pol *domain.PolicySnapshot }

func (s stubPolicy) PolicySnapshot() *domain.PolicySnapshot { return s.pol }

// recordingAdapter is the provider stand-in. It records every call and can
// be primed to fail the next N calls with a transient error.
type recordingAdapter struct {
	mu           sync.Mutex
	scaleTargets []int32
	restarts     int
	deploys      []string
	logWindows   []domain.LogWindow
	statusCalls  int
	failNext     int
}

func (a *recordingAdapter) Name() string { return "aws" }

func (a *recordingAdapter) GetStatus(_ context.Context, _ domain.ResourceBinding) (domain.StatusSnapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.statusCalls++
	return domain.StatusSnapshot{
		State:         domain.StateRunning,
		InstanceCount: 2,
		HealthyCount:  2,
		Metadata:      map[string]string{"desired_capacity": "2"},
	}, nil
}

func (a *recordingAdapter) Scale(_ context.Context, _ domain.ResourceBinding, target int32) (domain.OperationResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failNext > 0 {
		a.failNext--
		return domain.OperationResult{}, fmt.Errorf("%w: throttled", apperrors.ErrTransientProvider)
	}
	a.scaleTargets = append(a.scaleTargets, target)
	return domain.OperationResult{
		Success: true,
		Message: "scaled",
		Details: map[string]string{"target_capacity": strconv.Itoa(int(target))},
	}, nil
}

func (a *recordingAdapter) Restart(_ context.Context, _ domain.ResourceBinding) (domain.OperationResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failNext > 0 {
		a.failNext--
		return domain.OperationResult{}, fmt.Errorf("%w: throttled", apperrors.ErrTransientProvider)
	}
	a.restarts++
	return domain.OperationResult{Success: true, Message: "restarted"}, nil
}

func (a *recordingAdapter) Deploy(_ context.Context, _ domain.ResourceBinding, version, strategy string) (domain.OperationResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deploys = append(a.deploys, version+"/"+strategy)
	return domain.OperationResult{Success: true, Message: "deployed"}, nil
}

func (a *recordingAdapter) GetLogs(_ context.Context, _ domain.ResourceBinding, window domain.LogWindow) (domain.LogBatch, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logWindows = append(a.logWindows, window)
	return domain.LogBatch{Events: []domain.LogEvent{{Message: "ERROR timeout"}}}, nil
}

func (a *recordingAdapter) scaled() []int32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]int32(nil), a.scaleTargets...)
}

func testCatalog() *domain.CatalogSnapshot {
	return &domain.CatalogSnapshot{
		Version: 1,
		Services: map[string]*domain.ServiceDomain{
			"payment_processor": {
				Name: "payment_processor",
				Environments: map[string][]domain.ResourceBinding{
					"staging": {{
						Service:     "payment_processor",
						Environment: "staging",
						Class:       domain.ResourceClassCompute,
						Provider:    "aws",
						Kind:        "asg",
						Ref:         "payment-processor-staging",
						Region:      "us-east-1",
						Attributes:  map[string]string{"log_group": "/custom/payments"},
					}},
				},
			},
			"galileo_notifications": {
				Name: "galileo_notifications",
				Environments: map[string][]domain.ResourceBinding{
					"prod": {{
						Service:     "galileo_notifications",
						Environment: "prod",
						Class:       domain.ResourceClassCompute,
						Provider:    "aws",
						Kind:        "asg",
						Ref:         "galileo-notifications-prod",
						Region:      "us-east-1",
					}},
				},
			},
			"legacy_reports": {
				Name: "legacy_reports",
				Environments: map[string][]domain.ResourceBinding{
					"staging": {{
						Service:     "legacy_reports",
						Environment: "staging",
						Class:       domain.ResourceClassCompute,
						Provider:    "gcp",
						Kind:        "asg",
						Ref:         "legacy-reports-staging",
					}},
				},
			},
		},
		Environments: map[string]domain.EnvironmentInfo{
			"staging": {Name: "staging", Tier: domain.TierUnrestricted},
			"prod":    {Name: "prod", Tier: domain.TierConfirmAll},
			"dev":     {Name: "dev", Tier: domain.TierUnrestricted},
		},
	}
}

func testPolicy() *domain.PolicySnapshot {
	return &domain.PolicySnapshot{
		Version: 1,
		ScaleBounds: map[string]domain.ScaleBounds{
			"prod": {Min: 1, Max: 10},
		},
		TokenTTL: 5 * time.Minute,
	}
}

type dispatchFixture struct {
	dispatcher *Dispatcher
	adapter    *recordingAdapter
	sink       *audit.MemorySink
}

func newFixture(t *testing.T) *dispatchFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	catalog := stubCatalog{snap: testCatalog()}
	policy := stubPolicy{pol: testPolicy()}
	tokens := confirm.NewMemoryStore(logger)
	engine := guardrail.NewEngine(catalog, policy, tokens, logger)

	sink := audit.NewMemorySink()
	auditor, err := audit.NewLogger(context.Background(), logger, sink)
	require.NoError(t, err)

	adapter := &recordingAdapter{}
	registry := providers.NewRegistry()
	registry.Register(adapter)

	limits := config.LimitsConfig{
		AdapterTimeout: time.Second,
		Retry: config.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     4 * time.Millisecond,
			MaxElapsed:     time.Second,
		},
	}
	dispatcher := NewDispatcher(resolver.NewResolver(catalog), engine, registry, auditor, limits, logger)

	return &dispatchFixture{dispatcher: dispatcher, adapter: adapter, sink: sink}
}

func TestStatusRoundTrip(t *testing.T) {
	f := newFixture(t)

	out, err := f.dispatcher.Dispatch(context.Background(), domain.DispatchRequest{
		Caller:      "alice",
		Service:     "payment_processor",
		Environment: "staging",
		Verb:        domain.VerbGetStatus,
	})

	require.NoError(t, err)
	assert.Equal(t, domain.DispatchCompleted, out.Status)
	require.NotNil(t, out.StatusSnapshot)
	assert.Equal(t, domain.StateRunning, out.StatusSnapshot.State)
	assert.Equal(t, "aws", out.Provider)
	assert.Equal(t, "payment-processor-staging", out.Resource)

	records := f.sink.All()
	require.Len(t, records, 1)
	assert.Equal(t, uint64(1), records[0].Seq)
	assert.Equal(t, domain.AuditDecisionAllowed, records[0].Decision)
	assert.Equal(t, domain.AuditOutcomeSuccess, records[0].Outcome)
	assert.Equal(t, "payment-processor-staging", records[0].Resource)
}

func TestScaleInProdNeedsConfirmationThenExecutes(t *testing.T) {
	f := newFixture(t)
	req := domain.DispatchRequest{
		Caller:      "alice",
		Service:     "galileo_notifications",
		Environment: "prod",
		Verb:        domain.VerbScale,
		Parameters:  map[string]any{"capacity": 5},
	}

	first, err := f.dispatcher.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.DispatchConfirmationRequired, first.Status)
	require.NotNil(t, first.Confirmation)
	assert.NotEmpty(t, first.Confirmation.Token)
	assert.True(t, first.Confirmation.ExpiresAt.After(time.Now()))
	assert.Empty(t, f.adapter.scaled(), "nothing may execute before confirmation")

	req.ConfirmationToken = first.Confirmation.Token
	second, err := f.dispatcher.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.DispatchCompleted, second.Status)
	require.NotNil(t, second.Result)
	assert.True(t, second.Result.Success)

	assert.Equal(t, []int32{5}, f.adapter.scaled(), "the confirmed target must reach the provider")

	records := f.sink.All()
	require.Len(t, records, 2)
	assert.Equal(t, domain.AuditDecisionPending, records[0].Decision)
	assert.Equal(t, domain.AuditOutcomeNone, records[0].Outcome)
	assert.NotEmpty(t, records[0].Extra["expires_at"])
	assert.Equal(t, domain.AuditDecisionConfirmed, records[1].Decision)
	assert.Equal(t, domain.AuditOutcomeSuccess, records[1].Outcome)
	assert.Less(t, records[0].Seq, records[1].Seq)
}

func TestTransientFailuresRetryIntoOneSuccessRecord(t *testing.T) {
	f := newFixture(t)
	f.adapter.failNext = 2

	out, err := f.dispatcher.Dispatch(context.Background(), domain.DispatchRequest{
		Caller:      "alice",
		Service:     "payment_processor",
		Environment: "staging",
		Verb:        domain.VerbScale,
		Parameters:  map[string]any{"capacity": 3},
	})

	require.NoError(t, err)
	assert.Equal(t, domain.DispatchCompleted, out.Status)
	assert.Equal(t, []int32{3}, f.adapter.scaled())

	records := f.sink.All()
	require.Len(t, records, 1, "retries are internal to the attempt, not separate records")
	assert.Equal(t, domain.AuditDecisionAllowed, records[0].Decision)
	assert.Equal(t, domain.AuditOutcomeSuccess, records[0].Outcome)
	assert.Equal(t, "2", records[0].Extra["previous_capacity"])
}

func TestRetriesExhaustIntoOneFailureRecord(t *testing.T) {
	f := newFixture(t)
	f.adapter.failNext = 10

	out, err := f.dispatcher.Dispatch(context.Background(), domain.DispatchRequest{
		Caller:      "alice",
		Service:     "payment_processor",
		Environment: "staging",
		Verb:        domain.VerbRestart,
	})

	require.ErrorIs(t, err, apperrors.ErrTransientProvider)
	assert.Equal(t, domain.DispatchFailed, out.Status)

	records := f.sink.All()
	require.Len(t, records, 1)
	assert.Equal(t, domain.AuditDecisionAllowed, records[0].Decision)
	assert.Equal(t, domain.AuditOutcomeFailure, records[0].Outcome)
	assert.Contains(t, records[0].Detail, "throttled")
}

func TestUnknownServiceAuditsResolutionFailureOnly(t *testing.T) {
	f := newFixture(t)

	out, err := f.dispatcher.Dispatch(context.Background(), domain.DispatchRequest{
		Caller:      "alice",
		Service:     "unknown_service",
		Environment: "dev",
		Verb:        domain.VerbRestart,
	})

	require.ErrorIs(t, err, apperrors.ErrUnknownService)
	assert.Equal(t, domain.DispatchFailed, out.Status)
	assert.Contains(t, out.Reason, "payment_processor", "the failure names the known services")

	records := f.sink.All()
	require.Len(t, records, 1)
	assert.Equal(t, domain.AuditDecisionError, records[0].Decision)
	assert.Equal(t, domain.AuditOutcomeNone, records[0].Outcome)
	assert.Empty(t, records[0].RuleID, "resolution failures never reach the guardrails")
	assert.Zero(t, f.adapter.restarts)
}

func TestScaleBeyondBoundsIsDenied(t *testing.T) {
	f := newFixture(t)

	out, err := f.dispatcher.Dispatch(context.Background(), domain.DispatchRequest{
		Caller:      "alice",
		Service:     "galileo_notifications",
		Environment: "prod",
		Verb:        domain.VerbScale,
		Parameters:  map[string]any{"capacity": 50},
	})

	require.ErrorIs(t, err, apperrors.ErrPolicyDenied)
	assert.Equal(t, domain.DispatchDenied, out.Status)
	assert.Contains(t, out.Reason, "exceeds maximum 10")
	assert.Empty(t, f.adapter.scaled())

	records := f.sink.All()
	require.Len(t, records, 1)
	assert.Equal(t, domain.AuditDecisionDenied, records[0].Decision)
	assert.Equal(t, "scale-bounds", records[0].RuleID)
	assert.Equal(t, domain.AuditOutcomeNone, records[0].Outcome)
}

func TestCancellationBeforeProviderCall(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := f.dispatcher.Dispatch(ctx, domain.DispatchRequest{
		Caller:      "alice",
		Service:     "payment_processor",
		Environment: "staging",
		Verb:        domain.VerbScale,
		Parameters:  map[string]any{"capacity": 4},
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.DispatchCancelled, out.Status)
	assert.Empty(t, f.adapter.scaled(), "a cancelled dispatch must leave no side effect")

	records := f.sink.All()
	require.Len(t, records, 1)
	assert.Equal(t, domain.AuditDecisionCancelled, records[0].Decision)
	assert.Equal(t, domain.AuditOutcomeNone, records[0].Outcome)
}

func TestConfirmationIsBoundToExactParameters(t *testing.T) {
	f := newFixture(t)
	req := domain.DispatchRequest{
		Caller:      "alice",
		Service:     "galileo_notifications",
		Environment: "prod",
		Verb:        domain.VerbScale,
		Parameters:  map[string]any{"capacity": 5},
	}

	first, err := f.dispatcher.Dispatch(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, first.Confirmation)
	token := first.Confirmation.Token

	// Same token, drifted parameters: denied, token survives.
	drifted := req
	drifted.Parameters = map[string]any{"capacity": 6}
	drifted.ConfirmationToken = token
	out, err := f.dispatcher.Dispatch(context.Background(), drifted)
	require.ErrorIs(t, err, apperrors.ErrInvalidConfirmation)
	assert.Equal(t, domain.DispatchDenied, out.Status)
	assert.Empty(t, f.adapter.scaled())

	// The approved operation still goes through afterwards.
	req.ConfirmationToken = token
	out, err = f.dispatcher.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.DispatchCompleted, out.Status)
	assert.Equal(t, []int32{5}, f.adapter.scaled())
}

func TestDuplicateConfirmationHasSingleWinner(t *testing.T) {
	f := newFixture(t)
	req := domain.DispatchRequest{
		Caller:      "alice",
		Service:     "galileo_notifications",
		Environment: "prod",
		Verb:        domain.VerbScale,
		Parameters:  map[string]any{"capacity": 5},
	}

	first, err := f.dispatcher.Dispatch(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, first.Confirmation)
	req.ConfirmationToken = first.Confirmation.Token

	const racers = 8
	var wg sync.WaitGroup
	completed := make(chan domain.DispatchStatus, racers)
	for range racers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, _ := f.dispatcher.Dispatch(context.Background(), req)
			completed <- out.Status
		}()
	}
	wg.Wait()
	close(completed)

	wins, denies := 0, 0
	for status := range completed {
		switch status {
		case domain.DispatchCompleted:
			wins++
		case domain.DispatchDenied:
			denies++
		}
	}
	assert.Equal(t, 1, wins, "exactly one duplicate submission may win")
	assert.Equal(t, racers-1, denies)
	assert.Equal(t, []int32{5}, f.adapter.scaled(), "the losers must not reach the provider")
}

func TestUnregisteredProviderFailsBeforeGuardrails(t *testing.T) {
	f := newFixture(t)

	out, err := f.dispatcher.Dispatch(context.Background(), domain.DispatchRequest{
		Caller:      "alice",
		Service:     "legacy_reports",
		Environment: "staging",
		Verb:        domain.VerbGetStatus,
	})

	require.ErrorIs(t, err, apperrors.ErrProviderUnavailable)
	assert.Equal(t, domain.DispatchFailed, out.Status)

	records := f.sink.All()
	require.Len(t, records, 1)
	assert.Equal(t, domain.AuditDecisionError, records[0].Decision)
	assert.Contains(t, records[0].Detail, "gcp")
}

func TestDeployRequiresVersion(t *testing.T) {
	f := newFixture(t)

	_, err := f.dispatcher.Dispatch(context.Background(), domain.DispatchRequest{
		Caller:      "alice",
		Service:     "payment_processor",
		Environment: "staging",
		Verb:        domain.VerbDeploy,
	})

	require.ErrorIs(t, err, apperrors.ErrInvalidInput)

	records := f.sink.All()
	require.Len(t, records, 1)
	assert.Equal(t, domain.AuditDecisionError, records[0].Decision)
}

func TestLogsFlowThroughResolvedGroup(t *testing.T) {
	f := newFixture(t)

	out, err := f.dispatcher.Dispatch(context.Background(), domain.DispatchRequest{
		Caller:      "alice",
		Service:     "payment_processor",
		Environment: "staging",
		Verb:        domain.VerbGetLogs,
		Parameters:  map[string]any{"filter": "ERROR", "since": "30m", "limit": 50},
	})

	require.NoError(t, err)
	assert.Equal(t, domain.DispatchCompleted, out.Status)
	require.NotNil(t, out.Logs)
	require.Len(t, f.adapter.logWindows, 1)

	window := f.adapter.logWindows[0]
	assert.Equal(t, "/custom/payments", window.Group)
	assert.Equal(t, "ERROR", window.Filter)
	assert.Equal(t, int32(50), window.Limit)
	assert.WithinDuration(t, time.Now().Add(-30*time.Minute), window.Since, 5*time.Second)

	records := f.sink.All()
	require.Len(t, records, 1)
	assert.Equal(t, "/custom/payments", records[0].Extra["log_group"])
}

func TestAuditSequenceSpansDispatches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.dispatcher.Dispatch(ctx, domain.DispatchRequest{
			Caller:      "alice",
			Service:     "payment_processor",
			Environment: "staging",
			Verb:        domain.VerbGetStatus,
		})
		require.NoError(t, err)
	}

	records := f.sink.All()
	require.Len(t, records, 3)
	for i, rec := range records {
		assert.Equal(t, uint64(i+1), rec.Seq)
		assert.NotEmpty(t, rec.DispatchID)
	}
	assert.NotEqual(t, records[0].DispatchID, records[1].DispatchID)
}
