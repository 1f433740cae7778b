package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"
)

// Verb is one of the closed set of operations the control plane executes.
type Verb string

const (
	VerbGetStatus Verb = "get_status"
	VerbGetLogs   Verb = "get_logs"
	VerbScale     Verb = "scale"
	VerbRestart   Verb = "restart"
	VerbDeploy    Verb = "deploy"
)

// VerbClass groups verbs by blast radius for policy evaluation.
type VerbClass string

const (
	VerbClassReadOnly VerbClass = "read-only"
	VerbClassOperator VerbClass = "operator"
	VerbClassAdmin    VerbClass = "admin"
)

// defaultVerbClasses is the built-in classification. Policy documents may
// override it per verb.
var defaultVerbClasses = map[Verb]VerbClass{
	VerbGetStatus: VerbClassReadOnly,
	VerbGetLogs:   VerbClassReadOnly,
	VerbScale:     VerbClassOperator,
	VerbRestart:   VerbClassOperator,
	VerbDeploy:    VerbClassOperator,
}

// DefaultVerbClass returns the built-in class for a verb. Unknown verbs
// classify as admin so nothing slips past the strictest rules.
func DefaultVerbClass(v Verb) VerbClass {
	if c, ok := defaultVerbClasses[v]; ok {
		return c
	}
	return VerbClassAdmin
}

// ValidVerb reports whether s names a known verb.
func ValidVerb(s string) bool {
	_, ok := defaultVerbClasses[Verb(s)]
	return ok
}

// ValidVerbClass reports whether s names a known verb class.
func ValidVerbClass(s string) bool {
	switch VerbClass(s) {
	case VerbClassReadOnly, VerbClassOperator, VerbClassAdmin:
		return true
	}
	return false
}

// Mutating reports whether the verb changes remote state. Only read verbs
// are safe to retry without a fresh guardrail decision.
func (v Verb) Mutating() bool {
	return DefaultVerbClass(v) != VerbClassReadOnly
}

// Operation is one requested action against one (service, environment)
// target. It lives for a single dispatch.
type Operation struct {
	Verb        Verb
	Class       VerbClass
	Service     string
	Environment string
	Caller      string
	Parameters  map[string]any
	RequestedAt time.Time
}

// Fingerprint binds a confirmation token to exactly this operation. It hashes
// the verb, target, and parameters in a canonical key order, so the same
// logical request always produces the same fingerprint while any drift in
// parameters produces a different one. Caller and timestamp are excluded:
// the second leg of the confirmation protocol is a fresh request.
func (o Operation) Fingerprint() string {
	h := sha256.New()
	h.Write([]byte(string(o.Verb)))
	h.Write([]byte{0})
	h.Write([]byte(o.Service))
	h.Write([]byte{0})
	h.Write([]byte(o.Environment))
	h.Write([]byte{0})
	h.Write(canonicalParams(o.Parameters))
	return hex.EncodeToString(h.Sum(nil))
}

func canonicalParams(params map[string]any) []byte {
	if len(params) == 0 {
		return nil
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := make([]byte, 0, 64)
	for _, k := range keys {
		v, err := json.Marshal(params[k])
		if err != nil {
			// Unmarshalable values cannot round-trip through the surface
			// anyway; fold the key in so the fingerprint still differs.
			v = []byte("?")
		}
		buf = append(buf, k...)
		buf = append(buf, '=')
		buf = append(buf, v...)
		buf = append(buf, 0)
	}
	return buf
}
