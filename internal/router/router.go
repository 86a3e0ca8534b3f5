package router

import "github.com/arcway/mcpmux/internal/learning"

// HealthChecker is the slice of backend.Registry the router needs: health
// and the global fallback chain. A narrow interface keeps this package
// testable without a live registry.
type HealthChecker interface {
	IsHealthy(name string) bool
	FallbackChain() []string
}

// Recommender is the slice of learning.Engine the router needs.
type Recommender interface {
	GetRecommendation(c learning.Complexity, t learning.TaskType) *learning.Recommendation
}

// RulesConfig names the two fixed-heuristic backends the rules tier
// prefers. Left empty, a rule simply never fires.
type RulesConfig struct {
	ComplexBackend string // preferred when complexity=complex, e.g. "nvidia_qwen"
	CodeBackend    string // preferred when task_type=code, e.g. "nvidia_deepseek"
}

// Router implements the 4-tier selection policy: forced, learning,
// rules, fallback.
type Router struct {
	health  HealthChecker
	learner Recommender
	rules   RulesConfig
}

func New(health HealthChecker, learner Recommender, rules RulesConfig) *Router {
	return &Router{health: health, learner: learner, rules: rules}
}

const learningConfidenceFloor = 0.7

// Route picks a backend for ctx. The caller is responsible for any
// downstream fallback behavior implied by Decision.Source (forced means
// no fallback chain; every other source executes with the fallback
// chain).
func (r *Router) Route(ctx Context) Decision {
	if ctx.ForcedBackend != "" && ctx.ForcedBackend != "auto" {
		return Decision{Backend: ctx.ForcedBackend, Source: learning.SourceForced, Confidence: 1.0, ReasoningTag: "forced_backend"}
	}

	if r.learner != nil {
		if rec := r.learner.GetRecommendation(ctx.Complexity, ctx.TaskType); rec != nil {
			if rec.Confidence > learningConfidenceFloor && r.health.IsHealthy(rec.Backend) {
				return Decision{Backend: rec.Backend, Source: learning.SourceLearning, Confidence: rec.Confidence, ReasoningTag: "pattern_match"}
			}
		}
	}

	if ctx.Complexity == learning.ComplexityComplex && r.rules.ComplexBackend != "" && r.health.IsHealthy(r.rules.ComplexBackend) {
		return Decision{Backend: r.rules.ComplexBackend, Source: learning.SourceRules, Confidence: 0.75, ReasoningTag: "complex_prefers_qwen"}
	}
	if ctx.TaskType == learning.TaskCode && r.rules.CodeBackend != "" && r.health.IsHealthy(r.rules.CodeBackend) {
		return Decision{Backend: r.rules.CodeBackend, Source: learning.SourceRules, Confidence: 0.7, ReasoningTag: "code_prefers_deepseek"}
	}

	chain := r.health.FallbackChain()
	for _, name := range chain {
		if r.health.IsHealthy(name) {
			return Decision{Backend: name, Source: learning.SourceFallback, Confidence: 0.5, ReasoningTag: "first_healthy_in_chain"}
		}
	}
	if len(chain) > 0 {
		return Decision{Backend: chain[0], Source: learning.SourceFallback, Confidence: 0.1, ReasoningTag: "chain_head_no_healthy_candidate"}
	}
	return Decision{Source: learning.SourceFallback, ReasoningTag: "no_backends_configured"}
}
