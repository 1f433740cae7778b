package providers

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/opsforge/opsplane/internal/domain"
)

// FakeAdapter simulates a provider in memory. It backs development wiring
// and lets the dispatch path run end to end without cloud credentials.
type FakeAdapter struct {
	mu    sync.Mutex
	fleet map[string]*fakeFleet
	clock func() time.Time
}

type fakeFleet struct {
	desired  int32
	version  string
	restarts int
}

// NewFakeAdapter returns an adapter with no pre-seeded state; unknown refs
// report a two-instance running fleet.
func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{
		fleet: make(map[string]*fakeFleet),
		clock: time.Now,
	}
}

func (f *FakeAdapter) Name() string { return "fake" }

func (f *FakeAdapter) state(ref string) *fakeFleet {
	if fl, ok := f.fleet[ref]; ok {
		return fl
	}
	fl := &fakeFleet{desired: 2, version: "v1.0.0"}
	f.fleet[ref] = fl
	return fl
}

func (f *FakeAdapter) GetStatus(_ context.Context, binding domain.ResourceBinding) (domain.StatusSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	fl := f.state(binding.Ref)
	state := domain.StateRunning
	if fl.desired == 0 {
		state = domain.StateStopped
	}
	return domain.StatusSnapshot{
		State:         state,
		InstanceCount: fl.desired,
		HealthyCount:  fl.desired,
		LastUpdated:   f.clock().UTC(),
		Metadata: map[string]string{
			"desired_capacity": strconv.Itoa(int(fl.desired)),
			"version":          fl.version,
			"restarts":         strconv.Itoa(fl.restarts),
		},
	}, nil
}

func (f *FakeAdapter) Scale(_ context.Context, binding domain.ResourceBinding, target int32) (domain.OperationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	fl := f.state(binding.Ref)
	previous := fl.desired
	fl.desired = target
	return domain.OperationResult{
		Success: true,
		Message: fmt.Sprintf("scaled %s from %d to %d", binding.Ref, previous, target),
		Details: map[string]string{
			"previous_capacity": strconv.Itoa(int(previous)),
			"target_capacity":   strconv.Itoa(int(target)),
		},
	}, nil
}

func (f *FakeAdapter) Restart(_ context.Context, binding domain.ResourceBinding) (domain.OperationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	fl := f.state(binding.Ref)
	fl.restarts++
	return domain.OperationResult{
		Success: true,
		Message: fmt.Sprintf("restart %d initiated for %s", fl.restarts, binding.Ref),
	}, nil
}

func (f *FakeAdapter) Deploy(_ context.Context, binding domain.ResourceBinding, version, strategy string) (domain.OperationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	fl := f.state(binding.Ref)
	fl.version = version
	return domain.OperationResult{
		Success: true,
		Message: fmt.Sprintf("deployed %s to %s", version, binding.Ref),
		Details: map[string]string{"version": version, "strategy": strategy},
	}, nil
}

func (f *FakeAdapter) GetLogs(_ context.Context, binding domain.ResourceBinding, window domain.LogWindow) (domain.LogBatch, error) {
	f.mu.Lock()
	now := f.clock().UTC()
	f.mu.Unlock()

	lines := []string{
		"INFO service started",
		"INFO healthcheck passed",
		"WARN upstream latency elevated",
		"ERROR timeout calling upstream",
		"INFO healthcheck passed",
	}

	limit := window.Limit
	if limit <= 0 {
		limit = defaultLogLimit
	}

	var events []domain.LogEvent
	for i, line := range lines {
		if !matchesFilter(line, window.Filter) {
			continue
		}
		if len(events) >= int(limit) {
			break
		}
		events = append(events, domain.LogEvent{
			Timestamp: now.Add(-time.Duration(len(lines)-i) * time.Second),
			Message:   line,
			Stream:    binding.Ref,
		})
	}
	return domain.LogBatch{Events: events}, nil
}

var _ domain.ProviderAdapter = (*FakeAdapter)(nil)
