package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Manager starts resources in registration order and stops them in reverse,
// so a resource never outlives anything it depends on. A failed Start stops
// the already-started prefix before returning.
type Manager struct {
	mu      sync.Mutex
	entries []entry
	started int
}

type entry struct {
	name     string
	resource Resource
}

func NewManager() *Manager {
	return &Manager{}
}

// Add registers a resource under a name used in error messages. Registration
// order is start order.
func (m *Manager) Add(name string, resource Resource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry{name: name, resource: resource})
}

// Start brings every resource up in order. On the first failure it stops the
// resources already started, in reverse, and returns the start error.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := m.started; i < len(m.entries); i++ {
		e := m.entries[i]
		if err := e.resource.Start(ctx); err != nil {
			m.stopLocked(ctx)
			return fmt.Errorf("start %s: %w", e.name, err)
		}
		m.started = i + 1
	}
	return nil
}

// Stop winds down every started resource in reverse order. All stops run
// even when some fail; their errors are joined.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked(ctx)
}

func (m *Manager) stopLocked(ctx context.Context) error {
	var errs []error
	for i := m.started - 1; i >= 0; i-- {
		e := m.entries[i]
		if err := e.resource.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", e.name, err))
		}
	}
	m.started = 0
	return errors.Join(errs...)
}
