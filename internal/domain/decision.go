package domain

import "time"

// DecisionKind is the outcome class of a guardrail evaluation.
type DecisionKind string

const (
	DecisionAllow               DecisionKind = "allow"
	DecisionRequireConfirmation DecisionKind = "require_confirmation"
	DecisionDeny                DecisionKind = "deny"
)

// DenialClass says what produced a deny, so callers can map the decision to
// the matching error without parsing reason text.
type DenialClass string

const (
	DenialNone                DenialClass = ""
	DenialPolicy              DenialClass = "policy"
	DenialScaleBounds         DenialClass = "scale_bounds"
	DenialBlackout            DenialClass = "blackout"
	DenialInvalidConfirmation DenialClass = "invalid_confirmation"
	DenialConfirmationExpired DenialClass = "confirmation_expired"
)

// Decision is the guardrail verdict for one operation instance.
// RequireConfirmation carries a freshly issued token; Deny carries the
// matched rule's human-readable reason. Exactly one decision is produced per
// evaluation.
type Decision struct {
	Kind   DecisionKind
	Reason string

	// RuleID names the policy rule that produced the decision, or "default".
	RuleID string

	// Denial is set only for Deny.
	Denial DenialClass

	// Token is set only for RequireConfirmation.
	Token *ConfirmationToken

	// Confirmed marks an Allow that was reached by redeeming a token.
	Confirmed bool
}

// PolicyRule matches operations by verb class, tier, resource class, and
// optionally an exact verb. Empty fields match anything. More specific rules
// win; declaration order breaks ties.
type PolicyRule struct {
	ID     string
	Verb   Verb
	Class  VerbClass
	Tier   TrustTier
	Target ResourceClass
	Effect DecisionKind
	Reason string
}

// Matches reports whether the rule applies to the operation.
func (r PolicyRule) Matches(class VerbClass, verb Verb, tier TrustTier, target ResourceClass) bool {
	if r.Verb != "" && r.Verb != verb {
		return false
	}
	if r.Class != "" && r.Class != class {
		return false
	}
	if r.Tier != "" && r.Tier != tier {
		return false
	}
	if r.Target != "" && r.Target != target {
		return false
	}
	return true
}

// Specificity counts constrained fields. An exact verb constraint is the
// strongest signal and outweighs any combination of the other three.
func (r PolicyRule) Specificity() int {
	n := 0
	if r.Verb != "" {
		n += 4
	}
	if r.Class != "" {
		n++
	}
	if r.Tier != "" {
		n++
	}
	if r.Target != "" {
		n++
	}
	return n
}

// ScaleBounds caps scale targets for one environment.
type ScaleBounds struct {
	Min int32
	Max int32
}

// BlackoutWindow blocks deploys during a recurring weekly interval.
// Start and End are minutes from the start of the week in UTC; windows that
// wrap past Sunday midnight split into two entries at load time.
type BlackoutWindow struct {
	Label string
	Start int
	End   int
}

// Covers reports whether t falls inside the window.
func (w BlackoutWindow) Covers(t time.Time) bool {
	t = t.UTC()
	minute := int(t.Weekday())*24*60 + t.Hour()*60 + t.Minute()
	return minute >= w.Start && minute < w.End
}

// PolicySnapshot is one immutable, fully-loaded view of the policy document.
type PolicySnapshot struct {
	Version  int64
	LoadedAt time.Time
	Rules    []PolicyRule

	VerbClasses map[Verb]VerbClass
	ScaleBounds map[string]ScaleBounds
	Blackouts   map[string][]BlackoutWindow

	TokenTTL time.Duration
}

// VerbClass returns the effective class for a verb, honoring overrides.
func (s *PolicySnapshot) VerbClass(v Verb) VerbClass {
	if c, ok := s.VerbClasses[v]; ok {
		return c
	}
	return DefaultVerbClass(v)
}

// PolicySource supplies the current policy snapshot.
type PolicySource interface {
	PolicySnapshot() *PolicySnapshot
}
