package guardrail

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/opsforge/opsplane/internal/domain"
	"github.com/opsforge/opsplane/pkg/crypto"
	"github.com/opsforge/opsplane/pkg/telemetry"
)

// DefaultTokenTTL applies when the policy document sets no token_ttl.
const DefaultTokenTTL = 5 * time.Minute

// Engine evaluates operations against the policy snapshot and runs the
// confirmation protocol. Evaluation is in-memory and non-blocking; only token
// issue and redemption touch the store.
type Engine struct {
	catalog    domain.CatalogSource
	policy     domain.PolicySource
	tokens     domain.TokenStore
	logger     *slog.Logger
	clock      func() time.Time
	defaultTTL time.Duration
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock substitutes the time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithDefaultTTL overrides the token lifetime used when the policy document
// sets no token_ttl of its own.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.defaultTTL = ttl
		}
	}
}

// NewEngine wires an evaluation engine over the given sources and token store.
func NewEngine(catalog domain.CatalogSource, policy domain.PolicySource, tokens domain.TokenStore, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		catalog:    catalog,
		policy:     policy,
		tokens:     tokens,
		logger:     logger,
		clock:      time.Now,
		defaultTTL: DefaultTokenTTL,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate produces exactly one decision for the operation. When
// confirmationToken is non-empty the call is the second leg of the two-step
// protocol: the token is redeemed against the operation's fingerprint, and a
// successful redemption turns a confirmation requirement into an allow.
// Hard denials (bounds, blackouts, deny rules) are checked before redemption
// so a policy change between the two legs still blocks execution, without
// consuming the token.
func (e *Engine) Evaluate(ctx context.Context, op domain.Operation, binding domain.ResourceBinding, confirmationToken string) (domain.Decision, error) {
	pol := e.policy.PolicySnapshot()
	snap := e.catalog.Snapshot()

	class := pol.VerbClass(op.Verb)
	tier := snap.Tier(op.Environment)

	if op.Verb == domain.VerbScale {
		if decision, denied := e.checkScaleBounds(pol, op); denied {
			return decision, nil
		}
	}
	if op.Verb == domain.VerbDeploy {
		if decision, denied := e.checkBlackouts(pol, op); denied {
			return decision, nil
		}
	}

	verdict := ruleVerdict(pol, class, op.Verb, tier, binding.Class)
	if verdict.Kind == domain.DecisionDeny {
		return verdict, nil
	}

	if confirmationToken != "" {
		return e.redeem(ctx, op, confirmationToken)
	}

	if verdict.Kind == domain.DecisionAllow {
		return verdict, nil
	}

	return e.issueToken(ctx, op, pol, verdict)
}

func (e *Engine) checkScaleBounds(pol *domain.PolicySnapshot, op domain.Operation) (domain.Decision, bool) {
	bounds, ok := pol.ScaleBounds[op.Environment]
	if !ok {
		return domain.Decision{}, false
	}
	target, ok := paramInt32(op.Parameters, "capacity")
	if !ok {
		return domain.Decision{}, false
	}

	if bounds.Max > 0 && target > bounds.Max {
		return domain.Decision{
			Kind:   domain.DecisionDeny,
			Denial: domain.DenialScaleBounds,
			RuleID: "scale-bounds",
			Reason: fmt.Sprintf("target capacity %d exceeds maximum %d for %s", target, bounds.Max, op.Environment),
		}, true
	}
	if target < bounds.Min {
		return domain.Decision{
			Kind:   domain.DecisionDeny,
			Denial: domain.DenialScaleBounds,
			RuleID: "scale-bounds",
			Reason: fmt.Sprintf("target capacity %d below minimum %d for %s", target, bounds.Min, op.Environment),
		}, true
	}
	return domain.Decision{}, false
}

func (e *Engine) checkBlackouts(pol *domain.PolicySnapshot, op domain.Operation) (domain.Decision, bool) {
	now := e.clock()
	for _, window := range pol.Blackouts[op.Environment] {
		if window.Covers(now) {
			return domain.Decision{
				Kind:   domain.DecisionDeny,
				Denial: domain.DenialBlackout,
				RuleID: "blackout",
				Reason: fmt.Sprintf("deployments to %s are blocked during the %s window", op.Environment, window.Label),
			}, true
		}
	}
	return domain.Decision{}, false
}

// ruleVerdict walks the rules most-specific first, declaration order breaking
// ties, and falls back to the built-in decision table.
func ruleVerdict(pol *domain.PolicySnapshot, class domain.VerbClass, verb domain.Verb, tier domain.TrustTier, target domain.ResourceClass) domain.Decision {
	matched := make([]domain.PolicyRule, 0, len(pol.Rules))
	for _, rule := range pol.Rules {
		if rule.Matches(class, verb, tier, target) {
			matched = append(matched, rule)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Specificity() > matched[j].Specificity()
	})

	if len(matched) > 0 {
		rule := matched[0]
		decision := domain.Decision{
			Kind:   rule.Effect,
			RuleID: rule.ID,
			Reason: rule.Reason,
		}
		if decision.Reason == "" {
			decision.Reason = defaultReason(rule.Effect, verb, tier)
		}
		if decision.Kind == domain.DecisionDeny {
			decision.Denial = domain.DenialPolicy
		}
		return decision
	}

	return defaultDecision(class, verb, tier)
}

// defaultDecisions is the decision table applied when no rule matches.
// Read-only verbs pass everywhere. For mutating classes the tier governs:
// unrestricted environments allow, confirm-destructive environments confirm
// admin verbs, confirm-all environments confirm operator verbs and deny
// admin ones outright.
var defaultDecisions = map[domain.VerbClass]map[domain.TrustTier]domain.DecisionKind{
	domain.VerbClassReadOnly: {
		domain.TierUnrestricted:       domain.DecisionAllow,
		domain.TierConfirmDestructive: domain.DecisionAllow,
		domain.TierConfirmAll:         domain.DecisionAllow,
	},
	domain.VerbClassOperator: {
		domain.TierUnrestricted:       domain.DecisionAllow,
		domain.TierConfirmDestructive: domain.DecisionAllow,
		domain.TierConfirmAll:         domain.DecisionRequireConfirmation,
	},
	domain.VerbClassAdmin: {
		domain.TierUnrestricted:       domain.DecisionAllow,
		domain.TierConfirmDestructive: domain.DecisionRequireConfirmation,
		domain.TierConfirmAll:         domain.DecisionDeny,
	},
}

func defaultDecision(class domain.VerbClass, verb domain.Verb, tier domain.TrustTier) domain.Decision {
	kind, ok := defaultDecisions[class][tier]
	if !ok {
		kind = domain.DecisionDeny
	}
	decision := domain.Decision{
		Kind:   kind,
		RuleID: "default",
		Reason: defaultReason(kind, verb, tier),
	}
	if kind == domain.DecisionDeny {
		decision.Denial = domain.DenialPolicy
	}
	return decision
}

func defaultReason(kind domain.DecisionKind, verb domain.Verb, tier domain.TrustTier) string {
	switch kind {
	case domain.DecisionAllow:
		return fmt.Sprintf("%s is permitted in %s environments", verb, tier)
	case domain.DecisionRequireConfirmation:
		return fmt.Sprintf("%s in a %s environment requires confirmation", verb, tier)
	default:
		return fmt.Sprintf("%s is not permitted in %s environments", verb, tier)
	}
}

func (e *Engine) redeem(ctx context.Context, op domain.Operation, token string) (domain.Decision, error) {
	result, err := e.tokens.Redeem(ctx, token, op.Fingerprint())
	if err != nil {
		return domain.Decision{}, fmt.Errorf("redeeming confirmation token: %w", err)
	}
	telemetry.RecordRedemption(ctx, string(result))

	switch result {
	case domain.RedeemOK:
		return domain.Decision{
			Kind:      domain.DecisionAllow,
			RuleID:    "confirmation",
			Reason:    "confirmation token accepted",
			Confirmed: true,
		}, nil
	case domain.RedeemExpired:
		return domain.Decision{
			Kind:   domain.DecisionDeny,
			Denial: domain.DenialConfirmationExpired,
			RuleID: "confirmation",
			Reason: "confirmation token has expired, request a new one",
		}, nil
	default:
		// Unknown, consumed, and mismatched tokens are indistinguishable to
		// the caller on purpose.
		return domain.Decision{
			Kind:   domain.DecisionDeny,
			Denial: domain.DenialInvalidConfirmation,
			RuleID: "confirmation",
			Reason: "confirmation token is not valid for this operation",
		}, nil
	}
}

func (e *Engine) issueToken(ctx context.Context, op domain.Operation, pol *domain.PolicySnapshot, verdict domain.Decision) (domain.Decision, error) {
	value, err := crypto.NewToken()
	if err != nil {
		return domain.Decision{}, fmt.Errorf("generating confirmation token: %w", err)
	}

	ttl := pol.TokenTTL
	if ttl <= 0 {
		ttl = e.defaultTTL
	}
	now := e.clock()
	token := domain.ConfirmationToken{
		Value:       value,
		Fingerprint: op.Fingerprint(),
		IssuedAt:    now,
		ExpiresAt:   now.Add(ttl),
		State:       domain.TokenIssued,
	}
	if err := e.tokens.Issue(ctx, token); err != nil {
		return domain.Decision{}, fmt.Errorf("storing confirmation token: %w", err)
	}
	telemetry.RecordConfirmationIssued(ctx, string(op.Verb))

	e.logger.Info("confirmation required",
		"verb", op.Verb,
		"service", op.Service,
		"environment", op.Environment,
		"rule", verdict.RuleID,
		"expires_at", token.ExpiresAt,
	)

	return domain.Decision{
		Kind:   domain.DecisionRequireConfirmation,
		RuleID: verdict.RuleID,
		Reason: verdict.Reason,
		Token:  &token,
	}, nil
}

func paramInt32(params map[string]any, key string) (int32, bool) {
	v, ok := params[key]
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
