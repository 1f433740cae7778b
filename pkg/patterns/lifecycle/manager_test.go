package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStopRunsInReverseOrder(t *testing.T) {
	var order []string
	track := func(name string) Resource {
		return Func{
			StartFn: func(context.Context) error { order = append(order, "start "+name); return nil },
			StopFn:  func(context.Context) error { order = append(order, "stop "+name); return nil },
		}
	}

	m := NewManager()
	m.Add("a", track("a"))
	m.Add("b", track("b"))
	m.Add("c", track("c"))

	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Stop(context.Background()))

	assert.Equal(t, []string{"start a", "start b", "start c", "stop c", "stop b", "stop a"}, order)
}

func TestFailedStartStopsStartedPrefix(t *testing.T) {
	var stopped []string
	m := NewManager()
	m.Add("first", Func{
		StopFn: func(context.Context) error { stopped = append(stopped, "first"); return nil },
	})
	m.Add("second", Func{
		StartFn: func(context.Context) error { return errors.New("port in use") },
		StopFn:  func(context.Context) error { stopped = append(stopped, "second"); return nil },
	})

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start second")
	assert.Equal(t, []string{"first"}, stopped, "the resource that failed to start must not be stopped")
}

func TestStopJoinsErrorsAndKeepsGoing(t *testing.T) {
	var stopped []string
	failing := errors.New("flush failed")

	m := NewManager()
	m.Add("noisy", Func{
		StopFn: func(context.Context) error { stopped = append(stopped, "noisy"); return failing },
	})
	m.Add("quiet", Func{
		StopFn: func(context.Context) error { stopped = append(stopped, "quiet"); return nil },
	})

	require.NoError(t, m.Start(context.Background()))
	err := m.Stop(context.Background())

	assert.ErrorIs(t, err, failing)
	assert.Equal(t, []string{"quiet", "noisy"}, stopped)
}

func TestStopWithoutStartIsANoop(t *testing.T) {
	called := false
	m := NewManager()
	m.Add("idle", Func{
		StopFn: func(context.Context) error { called = true; return nil },
	})

	require.NoError(t, m.Stop(context.Background()))
	assert.False(t, called)
}
