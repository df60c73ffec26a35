// Package capability infers what a model is suited for from its identifier
// and scores backends against role requirements.
package capability

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Capability is an abstract tag describing a backend/model strength.
// The taxonomy is a closed set; extending it requires reviewing every
// matcher pattern below.
type Capability string

const (
	DeepReasoning  Capability = "deep-reasoning"
	FastGeneration Capability = "fast-generation"
	LargeContext   Capability = "large-context"
	CodeSpecialized Capability = "code-specialized"
	SecurityFocus  Capability = "security-focus"
	Documentation  Capability = "documentation"
	// FastRouting marks an orchestrator model that must never be selected
	// for worker tasks.
	FastRouting Capability = "fast-routing"
	General     Capability = "general"
)

// Set is an unordered capability collection.
type Set map[Capability]bool

// NewSet builds a Set from capabilities.
func NewSet(caps ...Capability) Set {
	s := make(Set, len(caps))
	for _, c := range caps {
		s[c] = true
	}
	return s
}

// Has reports membership.
func (s Set) Has(c Capability) bool { return s[c] }

// Slice returns the members in unspecified order.
func (s Set) Slice() []Capability {
	out := make([]Capability, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	return out
}

// pattern maps a model-id substring to a capability set. Ordered: more
// specific patterns come first, the first match wins.
type pattern struct {
	substr string
	caps   []Capability
}

var patterns = []pattern{
	{"orchestrator", []Capability{FastRouting}},
	{"deepseek-reasoner", []Capability{DeepReasoning, LargeContext}},
	{"deepseek-coder", []Capability{CodeSpecialized, DeepReasoning}},
	{"deepseek", []Capability{DeepReasoning, General}},
	{"qwen3-coder", []Capability{CodeSpecialized, LargeContext, FastGeneration}},
	{"qwen-coder", []Capability{CodeSpecialized, FastGeneration}},
	{"qwen", []Capability{CodeSpecialized, General}},
	{"coder", []Capability{CodeSpecialized}},
	{"gemini-2.0-flash", []Capability{FastGeneration, LargeContext}},
	{"gemini", []Capability{FastGeneration, LargeContext, Documentation}},
	{"flash", []Capability{FastGeneration}},
	{"gpt-4o", []Capability{DeepReasoning, SecurityFocus, Documentation}},
	{"gpt", []Capability{General, Documentation}},
	{"llama", []Capability{General, FastGeneration}},
	{"mistral", []Capability{General, FastGeneration}},
	{"codestral", []Capability{CodeSpecialized, FastGeneration}},
	{"thinking", []Capability{DeepReasoning}},
	{"instruct", []Capability{General}},
}

// Infer derives capabilities from a model identifier.
// Unmatched ids report {general}; orchestrator ids report {fast-routing} only.
func Infer(modelID string) Set {
	id := strings.ToLower(modelID)
	for _, p := range patterns {
		if strings.Contains(id, p.substr) {
			return NewSet(p.caps...)
		}
	}
	return NewSet(General)
}

// IsOrchestrator reports whether the model or its endpoint is routing-only.
// Endpoint port membership in orchestratorPorts marks the whole endpoint.
func IsOrchestrator(modelID, endpoint string, orchestratorPorts []int) bool {
	if strings.Contains(strings.ToLower(modelID), "orchestrator") {
		return true
	}
	if endpoint == "" {
		return false
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return false
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		return false
	}
	for _, p := range orchestratorPorts {
		if port == p {
			return true
		}
	}
	return false
}

// ContextSize categorizes how much context a task likely needs.
type ContextSize string

const (
	ContextSmall  ContextSize = "small"
	ContextMedium ContextSize = "medium"
	ContextLarge  ContextSize = "large"
)

// EstimateContextSize scores a task description plus its file-pattern count
// into a context-size category. Thresholds: score >= 5 large, >= 2 medium.
func EstimateContextSize(task string, filePatternCount int) ContextSize {
	score := 0

	switch n := len(task); {
	case n > 2000:
		score += 3
	case n > 500:
		score += 2
	case n > 200:
		score++
	}

	switch {
	case filePatternCount > 5:
		score += 3
	case filePatternCount > 2:
		score += 2
	case filePatternCount > 0:
		score++
	}

	lower := strings.ToLower(task)
	for _, marker := range []string{"entire codebase", "whole codebase", "comprehensive", "architecture review", "all files", "full audit"} {
		if strings.Contains(lower, marker) {
			score += 3
			break
		}
	}
	for _, marker := range []string{"single function", "one function", "quick review", "quick check", "small fix"} {
		if strings.Contains(lower, marker) {
			score -= 2
			break
		}
	}

	switch {
	case score >= 5:
		return ContextLarge
	case score >= 2:
		return ContextMedium
	default:
		return ContextSmall
	}
}

// RoutingRule prefers a named backend for one context-size category.
type RoutingRule struct {
	Prefer string `yaml:"prefer" json:"prefer"`
	Reason string `yaml:"reason,omitempty" json:"reason,omitempty"`
}

// RoutingRules maps context sizes to preferences. Keys: "small_task",
// "large_context".
type RoutingRules struct {
	SmallTask    *RoutingRule `yaml:"small_task,omitempty" json:"small_task,omitempty"`
	LargeContext *RoutingRule `yaml:"large_context,omitempty" json:"large_context,omitempty"`
}

// Match is the outcome of a backend selection.
type Match struct {
	Backend string
	Score   int
	Reason  string
}

// maxScore is the score assigned to explicit routing-rule hits.
const maxScore = 100

// capsFor resolves a backend's capability set. The local backend's set is
// dynamic (depends on the currently loaded model) and is obtained through
// localCaps; remote backends are inferred from their pinned model id.
type CapsFunc func(backend string) Set

// FindBestBackend selects the best backend for the required capabilities.
//
// Selection order: explicit routing rule for the estimated context size;
// highest capability score; the role's own fallback order; the literal
// "local" backend; error. Backends whose capability set contains
// fast-routing score zero and are only reachable through the ultimate
// fallback, keeping orchestrator models away from worker tasks.
func FindBestBackend(
	required []Capability,
	available []string,
	fallbackOrder []string,
	contextSize ContextSize,
	rules *RoutingRules,
	caps CapsFunc,
) (*Match, error) {
	avail := make(map[string]bool, len(available))
	for _, b := range available {
		avail[b] = true
	}

	// 1. Context-aware override.
	if rules != nil {
		var rule *RoutingRule
		switch contextSize {
		case ContextSmall:
			rule = rules.SmallTask
		case ContextLarge:
			rule = rules.LargeContext
		}
		if rule != nil && avail[rule.Prefer] {
			return &Match{Backend: rule.Prefer, Score: maxScore, Reason: rule.Reason}, nil
		}
	}

	// 2. Capability scoring.
	best := &Match{Score: 0}
	for _, b := range available {
		score := scoreBackend(required, caps(b))
		if score > best.Score {
			best = &Match{Backend: b, Score: score, Reason: "capability match"}
		}
	}
	if best.Score > 0 {
		return best, nil
	}

	// 3. Role fallback order.
	for _, b := range fallbackOrder {
		if avail[b] {
			return &Match{Backend: b, Score: 0, Reason: "role fallback order"}, nil
		}
	}

	// 4. Ultimate fallback.
	if avail["local"] {
		return &Match{Backend: "local", Score: 0, Reason: "ultimate fallback"}, nil
	}

	return nil, fmt.Errorf("no suitable backend for capabilities %v", required)
}

// scoreBackend computes percent-match of required capabilities plus up to 15
// bonus points for additional useful capabilities. Orchestrator-tagged
// backends score zero.
func scoreBackend(required []Capability, backendCaps Set) int {
	if backendCaps.Has(FastRouting) {
		return 0
	}
	if len(required) == 0 {
		return 50
	}

	matched := 0
	for _, c := range required {
		if backendCaps.Has(c) {
			matched++
		}
	}
	score := matched * 100 / len(required)

	// Bonus: extra capabilities beyond the requirement, 5 points each.
	extra := len(backendCaps) - matched
	if extra > 0 {
		bonus := extra * 5
		if bonus > 15 {
			bonus = 15
		}
		score += bonus
	}
	return score
}
