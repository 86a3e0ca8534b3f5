package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/arcway/mcpmux/internal/backend"
)

// SubagentRequest is the input to SubagentHandler.
type SubagentRequest struct {
	Role         string
	Task         string
	FilePatterns []string
	ExtraContext string
	VerdictMode  bool // true forces verdict parsing on; false leaves the role template's ParseVerdict in effect
}

// SubagentResult is the normalized output of one subagent call.
type SubagentResult struct {
	Role        string   `json:"role"`
	Verdict     *Verdict `json:"verdict,omitempty"`
	TextContent string   `json:"text_content"`
	BackendUsed string   `json:"backend_used"`
	Success     bool     `json:"success"`
	Error       string   `json:"error,omitempty"`
}

// PatternAugmenter is the slice of patterns.Store SubagentHandler uses to
// enrich prompts with prior successful patterns and to remember new ones.
// Nil-safe: a handler with no augmenter simply skips both steps.
type PatternAugmenter interface {
	Search(query string, limit int) []PatternHit
	Remember(content, description, category string)
}

// PatternHit is the narrow projection of patterns.Hit the workflow package
// depends on, avoiding a direct import of the patterns package's full type.
type PatternHit struct {
	Description string
	Content     string
	Similarity  float64
}

// SubagentHandler issues a single role-templated request: pick a healthy
// backend from the role's recommended list (falling through the global
// fallback chain otherwise), call it, extract content, and optionally
// parse a verdict. No iteration inside this handler — a single call in,
// a single result out.
type SubagentHandler struct {
	reg       Registry
	roles     map[string]RoleTemplate
	augmenter PatternAugmenter
}

func NewSubagentHandler(reg Registry, roles map[string]RoleTemplate) *SubagentHandler {
	if roles == nil {
		roles = DefaultRoles()
	}
	return &SubagentHandler{reg: reg, roles: roles}
}

// WithPatterns attaches a PatternRAG store for prompt augmentation. Optional;
// returns the handler for chaining at wiring time.
func (h *SubagentHandler) WithPatterns(augmenter PatternAugmenter) *SubagentHandler {
	h.augmenter = augmenter
	return h
}

const maxAugmentationHits = 3

func (h *SubagentHandler) Run(ctx context.Context, req SubagentRequest) (SubagentResult, error) {
	role, ok := h.roles[req.Role]
	if !ok {
		return SubagentResult{}, fmt.Errorf("unknown subagent role %q", req.Role)
	}

	preferred := h.pickHealthyCandidate(role.RecommendedBackends)
	prompt := role.SystemPrompt + "\n\nTask:\n" + req.Task
	if len(req.FilePatterns) > 0 {
		prompt += "\n\nRelevant file patterns:\n" + strings.Join(req.FilePatterns, "\n")
	}
	if req.ExtraContext != "" {
		prompt += "\n\nContext:\n" + req.ExtraContext
	}
	if h.augmenter != nil {
		if hits := h.augmenter.Search(req.Task, maxAugmentationHits); len(hits) > 0 {
			prompt += "\n\nRelevant prior patterns:\n" + formatHits(hits)
		}
	}

	fr, err := h.reg.RequestWithFallback(ctx, preferred, backend.Request{
		Prompt:      prompt,
		MaxTokens:   role.MaxTokens,
		Temperature: role.Temperature,
	})
	if err != nil {
		return SubagentResult{Role: req.Role, Success: false, Error: err.Error()}, nil
	}

	result := SubagentResult{
		Role:        req.Role,
		TextContent: fr.Response.Content,
		BackendUsed: fr.UsedBackend,
		Success:     true,
	}

	parseVerdict := role.ParseVerdict || req.VerdictMode
	if parseVerdict {
		v := ParseVerdict(fr.Response.Content)
		result.Verdict = &v
		if h.augmenter != nil && v.Score >= 0.7 {
			h.augmenter.Remember(fr.Response.Content, req.Task, role.Name)
		}
	}
	return result, nil
}

const augmentationHitTruncateLen = 300

func formatHits(hits []PatternHit) string {
	var b strings.Builder
	for _, hit := range hits {
		fmt.Fprintf(&b, "- %s: %s\n", hit.Description, truncate(hit.Content, augmentationHitTruncateLen))
	}
	return b.String()
}

// pickHealthyCandidate returns the first healthy backend among
// recommended; when none are healthy it returns recommended[0], and
// RequestWithFallback falls through the global chain if that fails. It
// returns "" (global chain from scratch) only when recommended is empty.
func (h *SubagentHandler) pickHealthyCandidate(recommended []string) string {
	for _, name := range recommended {
		if h.reg.IsHealthy(name) {
			return name
		}
	}
	if len(recommended) > 0 {
		return recommended[0]
	}
	return ""
}
