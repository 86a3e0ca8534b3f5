package workflow

// RoleTemplate is a plain configuration record per subagent role.
// SubagentHandler reads one of these directly; there is no inheritance
// between roles.
type RoleTemplate struct {
	Name                string
	SystemPrompt        string
	RecommendedBackends []string
	MaxTokens           int
	Temperature         float64
	ParseVerdict        bool
}

// DefaultRoles is the compiled-in registry of ten subagent roles. A roles
// file loaded by internal/config may override any field of a role and may
// add new roles.
func DefaultRoles() map[string]RoleTemplate {
	roles := []RoleTemplate{
		{
			Name:         "code-reviewer",
			SystemPrompt: "You are a meticulous code reviewer. Identify bugs, style issues, and missed edge cases. Respond with a JSON verdict: {\"score\": 0-1, \"issues\": [...], \"suggestions\": [...], \"summary\": \"...\"}.",
			MaxTokens:    2000, Temperature: 0.2, ParseVerdict: true,
		},
		{
			Name:         "security-auditor",
			SystemPrompt: "You are a security auditor. Look for injection, auth, and secret-handling flaws. Respond with a JSON verdict.",
			MaxTokens:    2000, Temperature: 0.2, ParseVerdict: true,
		},
		{
			Name:         "planner",
			SystemPrompt: "You are a technical planner. Break the task into a concrete, ordered implementation plan.",
			MaxTokens:    1500, Temperature: 0.4, ParseVerdict: false,
		},
		{
			Name:         "refactor-specialist",
			SystemPrompt: "You are a refactoring specialist. Improve structure and readability without changing behavior.",
			MaxTokens:    3000, Temperature: 0.3, ParseVerdict: false,
		},
		{
			Name:         "test-generator",
			SystemPrompt: "You write thorough unit tests for the given code, covering edge cases.",
			MaxTokens:    2500, Temperature: 0.3, ParseVerdict: false,
		},
		{
			Name:         "documentation-writer",
			SystemPrompt: "You write clear, concise documentation for the given code or task.",
			MaxTokens:    1500, Temperature: 0.4, ParseVerdict: false,
		},
		{
			Name:         "tdd-decomposer",
			SystemPrompt: "Decompose the task into 2-5 atomic, independently testable subtasks. Respond as a JSON array of {id, description}.",
			MaxTokens:    1200, Temperature: 0.3, ParseVerdict: false,
		},
		{
			Name:         "tdd-test-writer",
			SystemPrompt: "RED phase: write a failing test for the given subtask before any implementation exists.",
			MaxTokens:    2000, Temperature: 0.2, ParseVerdict: false,
		},
		{
			Name:         "tdd-implementer",
			SystemPrompt: "GREEN phase: write the minimal implementation that makes the given failing test pass.",
			MaxTokens:    2500, Temperature: 0.2, ParseVerdict: false,
		},
		{
			Name:         "tdd-quality-reviewer",
			SystemPrompt: "Judge whether the tests and implementations for this task collectively meet a shippable quality bar. Respond with a JSON verdict.",
			MaxTokens:    2000, Temperature: 0.2, ParseVerdict: true,
		},
	}
	out := make(map[string]RoleTemplate, len(roles))
	for _, r := range roles {
		out[r.Name] = r
	}
	return out
}

// RefactorPhaseRole is the role template used for the REFACTOR phase of
// ParallelAgents. There is no separate "tdd-refactor" role; REFACTOR
// reuses the general-purpose code-reviewer template.
const RefactorPhaseRole = "code-reviewer"
