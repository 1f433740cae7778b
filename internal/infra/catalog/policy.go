package catalog

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opsforge/opsplane/internal/domain"
	apperrors "github.com/opsforge/opsplane/internal/errors"
)

const minutesPerWeek = 7 * 24 * 60

// policyDocument is the on-disk shape of policies.yml.
type policyDocument struct {
	TokenTTL    string                    `yaml:"token_ttl"`
	VerbClasses map[string]string         `yaml:"verb_classes"`
	Rules       []ruleDoc                 `yaml:"rules"`
	ScaleBounds map[string]scaleBoundsDoc `yaml:"scale_bounds"`
	Blackouts   map[string][]blackoutDoc  `yaml:"blackouts"`
}

type ruleDoc struct {
	ID     string `yaml:"id"`
	Verb   string `yaml:"verb"`
	Class  string `yaml:"class"`
	Tier   string `yaml:"tier"`
	Target string `yaml:"target"`
	Effect string `yaml:"effect"`
	Reason string `yaml:"reason"`
}

type scaleBoundsDoc struct {
	Min int32 `yaml:"min"`
	Max int32 `yaml:"max"`
}

type blackoutDoc struct {
	Label string `yaml:"label"`
	From  string `yaml:"from"`
	Until string `yaml:"until"`
}

// LoadPolicy parses the policy document. A missing file yields an empty
// snapshot so deployments can run on the built-in defaults alone.
func LoadPolicy(path string) (*domain.PolicySnapshot, error) {
	snapshot := &domain.PolicySnapshot{
		VerbClasses: make(map[domain.Verb]domain.VerbClass),
		ScaleBounds: make(map[string]domain.ScaleBounds),
		Blackouts:   make(map[string][]domain.BlackoutWindow),
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return snapshot, nil
		}
		return nil, fmt.Errorf("%w: reading %s: %v", apperrors.ErrMalformedPolicy, path, err)
	}

	var doc policyDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", apperrors.ErrMalformedPolicy, path, err)
	}

	if doc.TokenTTL != "" {
		ttl, err := time.ParseDuration(doc.TokenTTL)
		if err != nil || ttl <= 0 {
			return nil, fmt.Errorf("%w: bad token_ttl %q", apperrors.ErrMalformedPolicy, doc.TokenTTL)
		}
		snapshot.TokenTTL = ttl
	}

	for verb, class := range doc.VerbClasses {
		if !domain.ValidVerb(verb) {
			return nil, fmt.Errorf("%w: verb_classes names unknown verb %q", apperrors.ErrMalformedPolicy, verb)
		}
		if !domain.ValidVerbClass(class) {
			return nil, fmt.Errorf("%w: verb %q assigned unknown class %q", apperrors.ErrMalformedPolicy, verb, class)
		}
		snapshot.VerbClasses[domain.Verb(verb)] = domain.VerbClass(class)
	}

	for i, rd := range doc.Rules {
		rule, err := buildRule(i, rd)
		if err != nil {
			return nil, err
		}
		snapshot.Rules = append(snapshot.Rules, rule)
	}

	for env, sb := range doc.ScaleBounds {
		if sb.Min < 0 || (sb.Max != 0 && sb.Max < sb.Min) {
			return nil, fmt.Errorf("%w: scale_bounds for %q are inverted", apperrors.ErrMalformedPolicy, env)
		}
		snapshot.ScaleBounds[env] = domain.ScaleBounds{Min: sb.Min, Max: sb.Max}
	}

	for env, docs := range doc.Blackouts {
		for _, bd := range docs {
			windows, err := buildBlackout(env, bd)
			if err != nil {
				return nil, err
			}
			snapshot.Blackouts[env] = append(snapshot.Blackouts[env], windows...)
		}
	}

	return snapshot, nil
}

func buildRule(index int, rd ruleDoc) (domain.PolicyRule, error) {
	rule := domain.PolicyRule{
		ID:     rd.ID,
		Reason: rd.Reason,
	}
	if rule.ID == "" {
		rule.ID = "rule-" + strconv.Itoa(index)
	}

	if rd.Verb != "" {
		if !domain.ValidVerb(rd.Verb) {
			return rule, fmt.Errorf("%w: rule %s names unknown verb %q", apperrors.ErrMalformedPolicy, rule.ID, rd.Verb)
		}
		rule.Verb = domain.Verb(rd.Verb)
	}
	if rd.Class != "" {
		if !domain.ValidVerbClass(rd.Class) {
			return rule, fmt.Errorf("%w: rule %s names unknown class %q", apperrors.ErrMalformedPolicy, rule.ID, rd.Class)
		}
		rule.Class = domain.VerbClass(rd.Class)
	}
	if rd.Tier != "" {
		if !domain.ValidTrustTier(rd.Tier) {
			return rule, fmt.Errorf("%w: rule %s names unknown tier %q", apperrors.ErrMalformedPolicy, rule.ID, rd.Tier)
		}
		rule.Tier = domain.TrustTier(rd.Tier)
	}
	if rd.Target != "" {
		if !domain.ValidResourceClass(rd.Target) {
			return rule, fmt.Errorf("%w: rule %s names unknown resource class %q", apperrors.ErrMalformedPolicy, rule.ID, rd.Target)
		}
		rule.Target = domain.ResourceClass(rd.Target)
	}

	switch domain.DecisionKind(rd.Effect) {
	case domain.DecisionAllow, domain.DecisionDeny, domain.DecisionRequireConfirmation:
		rule.Effect = domain.DecisionKind(rd.Effect)
	default:
		return rule, fmt.Errorf("%w: rule %s has unknown effect %q", apperrors.ErrMalformedPolicy, rule.ID, rd.Effect)
	}

	return rule, nil
}

// buildBlackout converts a "FRI 16:00".."MON 08:00" pair into windows on the
// weekly minute line. Windows that wrap past the end of the week split in two.
func buildBlackout(env string, bd blackoutDoc) ([]domain.BlackoutWindow, error) {
	start, err := parseWeekMinute(bd.From)
	if err != nil {
		return nil, fmt.Errorf("%w: blackout %q for %q: %v", apperrors.ErrMalformedPolicy, bd.Label, env, err)
	}
	end, err := parseWeekMinute(bd.Until)
	if err != nil {
		return nil, fmt.Errorf("%w: blackout %q for %q: %v", apperrors.ErrMalformedPolicy, bd.Label, env, err)
	}

	if start == end {
		return nil, fmt.Errorf("%w: blackout %q for %q is empty", apperrors.ErrMalformedPolicy, bd.Label, env)
	}
	if start < end {
		return []domain.BlackoutWindow{{Label: bd.Label, Start: start, End: end}}, nil
	}
	return []domain.BlackoutWindow{
		{Label: bd.Label, Start: start, End: minutesPerWeek},
		{Label: bd.Label, Start: 0, End: end},
	}, nil
}

var weekdayIndex = map[string]int{
	"SUN": 0, "MON": 1, "TUE": 2, "WED": 3, "THU": 4, "FRI": 5, "SAT": 6,
}

// parseWeekMinute parses "FRI 16:00" into minutes from Sunday 00:00 UTC.
func parseWeekMinute(s string) (int, error) {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) != 2 {
		return 0, fmt.Errorf("want \"DAY HH:MM\", got %q", s)
	}

	day, ok := weekdayIndex[strings.ToUpper(fields[0])]
	if !ok {
		return 0, fmt.Errorf("unknown weekday %q", fields[0])
	}

	hhmm := strings.Split(fields[1], ":")
	if len(hhmm) != 2 {
		return 0, fmt.Errorf("bad time %q", fields[1])
	}
	hour, err := strconv.Atoi(hhmm[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("bad hour %q", hhmm[0])
	}
	minute, err := strconv.Atoi(hhmm[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("bad minute %q", hhmm[1])
	}

	return day*24*60 + hour*60 + minute, nil
}
