package mcp

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/opsforge/opsplane/internal/domain"
	"github.com/opsforge/opsplane/internal/resolver"
)

// maxRenderedLogLines bounds the text rendering; the structured payload
// always carries the full batch.
const maxRenderedLogLines = 50

type confirmationPayload struct {
	Token     string    `json:"confirmation_token"`
	ExpiresAt time.Time `json:"expires_at"`
	Reason    string    `json:"reason"`
}

type snapshotPayload struct {
	State          string            `json:"state"`
	InstanceCount  int32             `json:"instance_count"`
	HealthyCount   int32             `json:"healthy_count"`
	UnhealthyCount int32             `json:"unhealthy_count"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

type resultPayload struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

type logEventPayload struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Stream    string    `json:"stream,omitempty"`
}

type logsPayload struct {
	Events    []logEventPayload `json:"events"`
	Truncated bool              `json:"truncated"`
}

type outcomePayload struct {
	Status       string               `json:"status"`
	Reason       string               `json:"reason,omitempty"`
	Provider     string               `json:"provider,omitempty"`
	Resource     string               `json:"resource,omitempty"`
	Confirmation *confirmationPayload `json:"confirmation,omitempty"`
	Snapshot     *snapshotPayload     `json:"status_snapshot,omitempty"`
	Result       *resultPayload       `json:"result,omitempty"`
	Logs         *logsPayload         `json:"logs,omitempty"`
}

// presentOutcome renders a dispatch outcome for the model: a readable text
// block plus the structured payload. Denials and failures come back as tool
// errors so the caller knows the action did not happen.
func presentOutcome(req domain.DispatchRequest, out domain.DispatchOutcome, err error) (*mcp.CallToolResult, any, error) {
	payload := outcomeForWire(out)
	target := fmt.Sprintf("%s/%s", req.Service, req.Environment)

	switch out.Status {
	case domain.DispatchCompleted:
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: renderCompleted(req, target, out)}},
		}, payload, nil

	case domain.DispatchConfirmationRequired:
		text := fmt.Sprintf(
			"Confirmation required for %s on %s: %s\n"+
				"Resubmit the identical call with confirmation_token=%s before %s. The token is single use.",
			req.Verb, target, out.Reason,
			out.Confirmation.Token, out.Confirmation.ExpiresAt.UTC().Format(time.RFC3339),
		)
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: text}},
		}, payload, nil

	case domain.DispatchDenied:
		return errorResult("Denied: %s", out.Reason), payload, nil

	case domain.DispatchCancelled:
		return errorResult("Cancelled: %s", out.Reason), payload, nil

	default:
		reason := out.Reason
		if reason == "" && err != nil {
			reason = err.Error()
		}
		return errorResult("Failed: %s", reason), payload, nil
	}
}

func renderCompleted(req domain.DispatchRequest, target string, out domain.DispatchOutcome) string {
	var b strings.Builder
	switch {
	case out.StatusSnapshot != nil:
		snap := out.StatusSnapshot
		fmt.Fprintf(&b, "%s is %s: %d/%d instances healthy (provider %s, resource %s)",
			target, snap.State, snap.HealthyCount, snap.InstanceCount, out.Provider, out.Resource)
		for _, k := range sortedKeys(snap.Metadata) {
			fmt.Fprintf(&b, "\n  %s: %s", k, snap.Metadata[k])
		}

	case out.Logs != nil:
		events := out.Logs.Events
		fmt.Fprintf(&b, "%d log events for %s", len(events), target)
		if out.Logs.Truncated {
			b.WriteString(" (truncated, narrow the window or raise the limit)")
		}
		shown := events
		if len(shown) > maxRenderedLogLines {
			shown = shown[len(shown)-maxRenderedLogLines:]
			fmt.Fprintf(&b, "\nshowing the newest %d:", len(shown))
		}
		for _, ev := range shown {
			fmt.Fprintf(&b, "\n%s %s", ev.Timestamp.UTC().Format(time.RFC3339), ev.Message)
		}

	case out.Result != nil:
		fmt.Fprintf(&b, "%s on %s succeeded: %s", req.Verb, target, out.Result.Message)
		for _, k := range sortedKeys(out.Result.Details) {
			fmt.Fprintf(&b, "\n  %s: %s", k, out.Result.Details[k])
		}

	default:
		fmt.Fprintf(&b, "%s on %s completed", req.Verb, target)
	}
	return b.String()
}

func outcomeForWire(out domain.DispatchOutcome) outcomePayload {
	payload := outcomePayload{
		Status:   string(out.Status),
		Reason:   out.Reason,
		Provider: out.Provider,
		Resource: out.Resource,
	}
	if out.Confirmation != nil {
		payload.Confirmation = &confirmationPayload{
			Token:     out.Confirmation.Token,
			ExpiresAt: out.Confirmation.ExpiresAt,
			Reason:    out.Confirmation.Reason,
		}
	}
	if out.StatusSnapshot != nil {
		payload.Snapshot = &snapshotPayload{
			State:          string(out.StatusSnapshot.State),
			InstanceCount:  out.StatusSnapshot.InstanceCount,
			HealthyCount:   out.StatusSnapshot.HealthyCount,
			UnhealthyCount: out.StatusSnapshot.UnhealthyCount,
			Metadata:       out.StatusSnapshot.Metadata,
		}
	}
	if out.Result != nil {
		payload.Result = &resultPayload{
			Success: out.Result.Success,
			Message: out.Result.Message,
			Details: out.Result.Details,
		}
	}
	if out.Logs != nil {
		events := make([]logEventPayload, len(out.Logs.Events))
		for i, ev := range out.Logs.Events {
			events[i] = logEventPayload{Timestamp: ev.Timestamp, Message: ev.Message, Stream: ev.Stream}
		}
		payload.Logs = &logsPayload{Events: events, Truncated: out.Logs.Truncated}
	}
	return payload
}

type catalogEntryPayload struct {
	Service     string   `json:"service"`
	Environment string   `json:"environment"`
	Tier        string   `json:"tier"`
	Classes     []string `json:"classes"`
	Providers   []string `json:"providers"`
}

func presentCatalog(entries []resolver.ServiceEntry, environment string) (*mcp.CallToolResult, any, error) {
	if len(entries) == 0 {
		text := "no services in the catalog"
		if environment != "" {
			text = fmt.Sprintf("no services bound in %q", environment)
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: text}},
		}, []catalogEntryPayload{}, nil
	}

	payload := make([]catalogEntryPayload, len(entries))
	var b strings.Builder
	for i, e := range entries {
		classes := make([]string, len(e.Classes))
		for j, c := range e.Classes {
			classes[j] = string(c)
		}
		payload[i] = catalogEntryPayload{
			Service:     e.Service,
			Environment: e.Environment,
			Tier:        string(e.Tier),
			Classes:     classes,
			Providers:   e.Providers,
		}
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s in %s (tier %s, %s via %s)",
			e.Service, e.Environment, e.Tier,
			strings.Join(classes, "+"), strings.Join(e.Providers, "+"))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: b.String()}},
	}, payload, nil
}

type recentEntryPayload struct {
	Seq         uint64    `json:"seq"`
	Time        time.Time `json:"time"`
	Caller      string    `json:"caller"`
	Verb        string    `json:"verb"`
	Service     string    `json:"service"`
	Environment string    `json:"environment"`
	Decision    string    `json:"decision"`
	Outcome     string    `json:"outcome"`
	Detail      string    `json:"detail,omitempty"`
}

func presentRecent(records []domain.AuditRecord) (*mcp.CallToolResult, any, error) {
	if len(records) == 0 {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: "the operation trail is empty"}},
		}, []recentEntryPayload{}, nil
	}

	payload := make([]recentEntryPayload, len(records))
	var b strings.Builder
	for i, r := range records {
		payload[i] = recentEntryPayload{
			Seq:         r.Seq,
			Time:        r.Time,
			Caller:      r.Caller,
			Verb:        string(r.Verb),
			Service:     r.Service,
			Environment: r.Environment,
			Decision:    string(r.Decision),
			Outcome:     string(r.Outcome),
			Detail:      r.Detail,
		}
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "#%d %s %s %s %s/%s decision=%s outcome=%s",
			r.Seq, r.Time.UTC().Format(time.RFC3339), r.Caller,
			r.Verb, r.Service, r.Environment, r.Decision, r.Outcome)
		if r.Detail != "" {
			fmt.Fprintf(&b, " (%s)", r.Detail)
		}
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: b.String()}},
	}, payload, nil
}

type healthPayload struct {
	Status          string    `json:"status"`
	Version         string    `json:"version"`
	UptimeSeconds   int64     `json:"uptime_seconds"`
	CatalogVersion  int64     `json:"catalog_version"`
	CatalogLoadedAt time.Time `json:"catalog_loaded_at"`
	Services        int       `json:"services"`
	Providers       []string  `json:"providers"`
	AuditDegraded   bool      `json:"audit_degraded"`
}

func (s *Server) presentHealth() (*mcp.CallToolResult, any, error) {
	snap := s.deps.Snapshots.Snapshot()
	payload := healthPayload{
		Status:          "ok",
		Version:         s.deps.Config.ServiceVersion,
		UptimeSeconds:   int64(time.Since(s.started).Seconds()),
		CatalogVersion:  snap.Version,
		CatalogLoadedAt: snap.LoadedAt,
		Services:        len(snap.Services),
		Providers:       s.deps.Providers.Providers(),
		AuditDegraded:   s.deps.Audit.Degraded(),
	}
	if payload.AuditDegraded {
		payload.Status = "degraded"
	}

	text := fmt.Sprintf("opsplane %s is %s: catalog v%d with %d services, providers %s, audit %s",
		payload.Version, payload.Status, payload.CatalogVersion, payload.Services,
		strings.Join(payload.Providers, "+"), auditHealthWord(payload.AuditDegraded))
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, payload, nil
}

func auditHealthWord(degraded bool) string {
	if degraded {
		return "degraded, records are being lost"
	}
	return "healthy"
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
