package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsforge/opsplane/internal/domain"
	apperrors "github.com/opsforge/opsplane/internal/errors"
)

func TestCapacityParamCoercions(t *testing.T) {
	cases := []struct {
		name  string
		value any
		want  int32
		ok    bool
	}{
		{"int", 5, 5, true},
		{"int64", int64(7), 7, true},
		{"json number", float64(3), 3, true},
		{"string", "5", 0, false},
		{"bool", true, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := capacityParam(map[string]any{"capacity": tc.value})
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}

	_, ok := capacityParam(nil)
	assert.False(t, ok)
}

func TestValidateRequestRejectsBadInput(t *testing.T) {
	base := domain.DispatchRequest{
		Service:     "payment_processor",
		Environment: "staging",
		Verb:        domain.VerbGetStatus,
	}

	t.Run("unknown verb", func(t *testing.T) {
		req := base
		req.Verb = "terminate"
		assert.ErrorIs(t, validateRequest(req), apperrors.ErrInvalidInput)
	})
	t.Run("missing service", func(t *testing.T) {
		req := base
		req.Service = ""
		assert.ErrorIs(t, validateRequest(req), apperrors.ErrInvalidInput)
	})
	t.Run("scale without capacity", func(t *testing.T) {
		req := base
		req.Verb = domain.VerbScale
		assert.ErrorIs(t, validateRequest(req), apperrors.ErrInvalidInput)
	})
	t.Run("negative capacity", func(t *testing.T) {
		req := base
		req.Verb = domain.VerbScale
		req.Parameters = map[string]any{"capacity": -1}
		assert.ErrorIs(t, validateRequest(req), apperrors.ErrInvalidInput)
	})
	t.Run("valid scale", func(t *testing.T) {
		req := base
		req.Verb = domain.VerbScale
		req.Parameters = map[string]any{"capacity": float64(4)}
		assert.NoError(t, validateRequest(req))
	})
}

func TestLogWindowDefaults(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	window, err := logWindowFromParams(nil, "/aws/service/api", now)
	require.NoError(t, err)
	assert.Equal(t, "/aws/service/api", window.Group)
	assert.Equal(t, now.Add(-defaultLogWindow), window.Since)
	assert.True(t, window.Until.IsZero())
	assert.Empty(t, window.Filter)
	assert.Zero(t, window.Limit)
}

func TestLogWindowParsesDurationsAndTimestamps(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	params := map[string]any{
		"since": "2h",
		"until": "2025-06-02T11:30:00Z",
		"limit": float64(25),
	}

	window, err := logWindowFromParams(params, "/g", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-2*time.Hour), window.Since)
	assert.Equal(t, time.Date(2025, 6, 2, 11, 30, 0, 0, time.UTC), window.Until)
	assert.Equal(t, int32(25), window.Limit)
}

func TestLogWindowRejectsGarbage(t *testing.T) {
	now := time.Now()

	_, err := logWindowFromParams(map[string]any{"since": "yesterday-ish"}, "/g", now)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = logWindowFromParams(map[string]any{
		"since": "2025-06-02T12:00:00Z",
		"until": "2025-06-02T11:00:00Z",
	}, "/g", now)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}
