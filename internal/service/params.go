package service

import (
	"fmt"
	"time"

	"github.com/opsforge/opsplane/internal/domain"
	apperrors "github.com/opsforge/opsplane/internal/errors"
)

// defaultLogWindow is how far back a log query reaches when the caller does
// not say.
const defaultLogWindow = 15 * time.Minute

// validateRequest rejects requests the pipeline cannot act on before any of
// them reach the catalog or the guardrails.
func validateRequest(req domain.DispatchRequest) error {
	if !domain.ValidVerb(string(req.Verb)) {
		return fmt.Errorf("%w: unknown verb %q", apperrors.ErrInvalidInput, req.Verb)
	}
	if req.Service == "" {
		return fmt.Errorf("%w: service is required", apperrors.ErrInvalidInput)
	}
	if req.Environment == "" {
		return fmt.Errorf("%w: environment is required", apperrors.ErrInvalidInput)
	}

	switch req.Verb {
	case domain.VerbScale:
		target, ok := capacityParam(req.Parameters)
		if !ok {
			return fmt.Errorf("%w: scale requires a numeric capacity parameter", apperrors.ErrInvalidInput)
		}
		if target < 0 {
			return fmt.Errorf("%w: capacity must not be negative, got %d", apperrors.ErrInvalidInput, target)
		}
	case domain.VerbDeploy:
		if version, ok := stringParam(req.Parameters, "version"); !ok || version == "" {
			return fmt.Errorf("%w: deploy requires a version parameter", apperrors.ErrInvalidInput)
		}
	}
	return nil
}

// capacityParam extracts the scale target, tolerating the numeric types a
// decoded JSON or YAML document may carry.
func capacityParam(params map[string]any) (int32, bool) {
	v, ok := params["capacity"]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return int32(n), true
	case int32:
		return n, true
	case int64:
		return int32(n), true
	case float64:
		return int32(n), true
	default:
		return 0, false
	}
}

func stringParam(params map[string]any, key string) (string, bool) {
	v, ok := params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func intParam(params map[string]any, key string) (int32, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return int32(n), true
	case int64:
		return int32(n), true
	case float64:
		return int32(n), true
	default:
		return 0, false
	}
}

// logWindowFromParams builds the query window. "since" and "until" accept a
// relative duration ("15m") or an RFC 3339 timestamp; "filter" matches log
// severity; "limit" caps returned events.
func logWindowFromParams(params map[string]any, group string, now time.Time) (domain.LogWindow, error) {
	window := domain.LogWindow{
		Group: group,
		Since: now.Add(-defaultLogWindow),
	}

	if raw, ok := stringParam(params, "since"); ok {
		t, err := parseTimeRef(raw, now)
		if err != nil {
			return domain.LogWindow{}, fmt.Errorf("%w: bad since value %q: %v", apperrors.ErrInvalidInput, raw, err)
		}
		window.Since = t
	}
	if raw, ok := stringParam(params, "until"); ok {
		t, err := parseTimeRef(raw, now)
		if err != nil {
			return domain.LogWindow{}, fmt.Errorf("%w: bad until value %q: %v", apperrors.ErrInvalidInput, raw, err)
		}
		window.Until = t
	}
	if !window.Until.IsZero() && !window.Until.After(window.Since) {
		return domain.LogWindow{}, fmt.Errorf("%w: log window is empty, until %s is not after since %s",
			apperrors.ErrInvalidInput, window.Until.Format(time.RFC3339), window.Since.Format(time.RFC3339))
	}

	if filter, ok := stringParam(params, "filter"); ok {
		window.Filter = filter
	}
	if limit, ok := intParam(params, "limit"); ok && limit > 0 {
		window.Limit = limit
	}
	return window, nil
}

// parseTimeRef reads a point in time given either as a duration back from
// now or as an absolute RFC 3339 timestamp.
func parseTimeRef(raw string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(raw); err == nil {
		if d < 0 {
			d = -d
		}
		return now.Add(-d), nil
	}
	return time.Parse(time.RFC3339, raw)
}
