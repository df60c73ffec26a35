// Package roles holds the read-only role registry and the subagent executor
// that turns a role plus a task into a routed backend call.
package roles

import (
	"strconv"
	"strings"

	"github.com/Platano78/smart-ai-bridge/pkg/capability"
)

// Role categories.
const (
	CategoryReview     = "review"
	CategorySecurity   = "security"
	CategoryPlanning   = "planning"
	CategoryGeneration = "generation"
)

// Context sensitivity levels.
const (
	SensitivityLow    = "low"
	SensitivityMedium = "medium"
	SensitivityHigh   = "high"
)

// SlotCountPlaceholder is replaced in prompt templates with the resolved
// parallel slot count.
const SlotCountPlaceholder = "{{MAX_PARALLEL}}"

// Role is one read-only entry in the registry.
type Role struct {
	Name               string                   `yaml:"name" json:"name"`
	Category           string                   `yaml:"category" json:"category"`
	Description        string                   `yaml:"description" json:"description"`
	PromptTemplate     string                   `yaml:"prompt_template" json:"prompt_template"`
	RequiredCaps       []capability.Capability  `yaml:"required_capabilities" json:"required_capabilities"`
	ContextSensitivity string                   `yaml:"context_sensitivity" json:"context_sensitivity"`
	FallbackOrder      []string                 `yaml:"fallback_order" json:"fallback_order"`
	TokenBudget        int                      `yaml:"token_budget" json:"token_budget"`
	RequiresVerdict    bool                     `yaml:"requires_verdict" json:"requires_verdict"`
	EnableThinking     bool                     `yaml:"enable_thinking" json:"enable_thinking"`
	ContextRouting     *capability.RoutingRules `yaml:"context_routing,omitempty" json:"context_routing,omitempty"`

	// Meta marks pseudo-roles that resolve to a real role at call time.
	Meta bool `yaml:"meta,omitempty" json:"meta,omitempty"`
}

// RenderPrompt substitutes template placeholders.
func (r *Role) RenderPrompt(slotCount int) string {
	prompt := r.PromptTemplate
	if strings.Contains(prompt, SlotCountPlaceholder) {
		prompt = strings.ReplaceAll(prompt, SlotCountPlaceholder, strconv.Itoa(slotCount))
	}
	return prompt
}

// Builtin role names referenced directly by the orchestrator.
const (
	RoleTaskDecomposer     = "task-decomposer"
	RoleQualityReviewer    = "quality-reviewer"
	RoleTestWriter         = "test-writer"
	RoleImplementer        = "implementer"
	RoleRefactorSpecialist = "refactor-specialist"
	RoleCodeReviewer       = "code-reviewer"
	RoleSecurityAuditor    = "security-auditor"
	RoleDocsWriter         = "docs-writer"
	RoleArchitect          = "architect"
	RoleAuto               = "auto"
)

// builtinRoles is the immutable default role table. A YAML overlay can add
// roles or replace entries wholesale, never mutate them in place.
func builtinRoles() []*Role {
	return []*Role{
		{
			Name:        RoleTaskDecomposer,
			Category:    CategoryPlanning,
			Description: "Decomposes a development task into parallelizable TDD phase groups.",
			PromptTemplate: "You are a task decomposition specialist. Break the task below into " +
				"parallel groups of TDD subtasks sized for " + SlotCountPlaceholder + " concurrent workers.\n" +
				"Output ONLY JSON of this exact shape:\n" +
				`{"parallel_groups": [{"group": 1, "name": "...", "tasks": [{"id": "T1", "phase": "RED", "task": "...", "agent": ""}]}]}` + "\n" +
				"Phases: RED writes a failing test, GREEN implements, REFACTOR cleans up.\n\nTask:\n",
			RequiredCaps:       []capability.Capability{capability.DeepReasoning},
			ContextSensitivity: SensitivityMedium,
			FallbackOrder:      []string{"deepseek", "local"},
			TokenBudget:        4096,
		},
		{
			Name:        RoleQualityReviewer,
			Category:    CategoryReview,
			Description: "Reviews aggregated task results and demands targeted retries.",
			PromptTemplate: "You are a quality gate reviewer. Judge the task results below.\n" +
				"Output ONLY JSON: " +
				`{"verdict": "pass"|"iterate", "score": 0-100, "issues": [], "retry_tasks": [], "task_issues": {}}` + "\n\nResults:\n",
			RequiredCaps:       []capability.Capability{capability.DeepReasoning, capability.CodeSpecialized},
			ContextSensitivity: SensitivityHigh,
			FallbackOrder:      []string{"deepseek", "qwen", "local"},
			TokenBudget:        4096,
		},
		{
			Name:        RoleTestWriter,
			Category:    CategoryGeneration,
			Description: "Writes failing tests that pin down the required behavior.",
			PromptTemplate: "You are a test-first developer. Write failing tests for the task below. " +
				"Tests must be specific, minimal, and runnable.\n\nTask:\n",
			RequiredCaps:       []capability.Capability{capability.CodeSpecialized},
			ContextSensitivity: SensitivityMedium,
			FallbackOrder:      []string{"qwen", "local"},
			TokenBudget:        4096,
		},
		{
			Name:        RoleImplementer,
			Category:    CategoryGeneration,
			Description: "Implements the minimal code that makes the failing tests pass.",
			PromptTemplate: "You are an implementation specialist. Write the minimal code that makes " +
				"the described tests pass. No speculative features.\n\nTask:\n",
			RequiredCaps:       []capability.Capability{capability.CodeSpecialized, capability.FastGeneration},
			ContextSensitivity: SensitivityMedium,
			FallbackOrder:      []string{"qwen", "deepseek", "local"},
			TokenBudget:        8192,
		},
		{
			Name:        RoleRefactorSpecialist,
			Category:    CategoryGeneration,
			Description: "Improves structure of passing code without changing behavior.",
			PromptTemplate: "You are a refactoring specialist. Improve the code below while keeping " +
				"all tests green. Preserve observable behavior exactly.\n\nTask:\n",
			RequiredCaps:       []capability.Capability{capability.CodeSpecialized},
			ContextSensitivity: SensitivityMedium,
			FallbackOrder:      []string{"qwen", "local"},
			TokenBudget:        8192,
		},
		{
			Name:        RoleCodeReviewer,
			Category:    CategoryReview,
			Description: "Reviews code for correctness, clarity, and maintainability.",
			PromptTemplate: "You are a senior code reviewer. Review the code below for correctness, " +
				"clarity, and maintainability.\n" +
				"End with a fenced YAML block:\n```yaml\nverdict:\n  status: APPROVE|APPROVE_WITH_CHANGES|REJECT\n  score: 0-10\n  reasoning: ...\n```\n\n",
			RequiredCaps:       []capability.Capability{capability.CodeSpecialized, capability.DeepReasoning},
			ContextSensitivity: SensitivityMedium,
			FallbackOrder:      []string{"deepseek", "qwen", "local"},
			TokenBudget:        4096,
			RequiresVerdict:    true,
			ContextRouting: &capability.RoutingRules{
				SmallTask:    &capability.RoutingRule{Prefer: "local", Reason: "small diffs review fine locally"},
				LargeContext: &capability.RoutingRule{Prefer: "gemini", Reason: "large context window"},
			},
		},
		{
			Name:        RoleSecurityAuditor,
			Category:    CategorySecurity,
			Description: "Audits code for vulnerabilities and insecure patterns.",
			PromptTemplate: "You are a security auditor. Audit the code below for vulnerabilities, " +
				"injection risks, and unsafe handling of credentials.\n" +
				"End with a fenced YAML block:\n```yaml\nverdict:\n  status: SECURE|VULNERABLE|CRITICAL_ISSUES\n  score: 0-10\n  risk_level: LOW|MEDIUM|HIGH|CRITICAL\n  reasoning: ...\n```\n\n",
			RequiredCaps:       []capability.Capability{capability.SecurityFocus, capability.DeepReasoning},
			ContextSensitivity: SensitivityHigh,
			FallbackOrder:      []string{"openai", "deepseek", "local"},
			TokenBudget:        4096,
			RequiresVerdict:    true,
			EnableThinking:     true,
		},
		{
			Name:        RoleDocsWriter,
			Category:    CategoryGeneration,
			Description: "Writes developer documentation for the given code or feature.",
			PromptTemplate: "You are a technical writer. Document the code or feature below for " +
				"developers: purpose, usage, and pitfalls. Be concrete.\n\n",
			RequiredCaps:       []capability.Capability{capability.Documentation},
			ContextSensitivity: SensitivityLow,
			FallbackOrder:      []string{"gemini", "local"},
			TokenBudget:        4096,
			ContextRouting: &capability.RoutingRules{
				LargeContext: &capability.RoutingRule{Prefer: "gemini", Reason: "large context window"},
			},
		},
		{
			Name:        RoleArchitect,
			Category:    CategoryPlanning,
			Description: "Evaluates system design and proposes architectural direction.",
			PromptTemplate: "You are a software architect. Evaluate the design question below and " +
				"propose a direction with trade-offs.\n\n",
			RequiredCaps:       []capability.Capability{capability.DeepReasoning, capability.LargeContext},
			ContextSensitivity: SensitivityHigh,
			FallbackOrder:      []string{"deepseek", "gemini", "local"},
			TokenBudget:        8192,
			EnableThinking:     true,
		},
		{
			Name:        RoleAuto,
			Category:    CategoryPlanning,
			Description: "Meta-role: picks the best concrete role for the task.",
			PromptTemplate: "Pick the single best role name for the task below from this list: " +
				"%s. Reply with the role name only.\n\nTask:\n",
			ContextSensitivity: SensitivityLow,
			TokenBudget:        256,
			Meta:               true,
		},
	}
}
