package workflow

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/arcway/mcpmux/internal/backend"
	"github.com/arcway/mcpmux/internal/learning"
	"github.com/arcway/mcpmux/internal/router"
)

// AskRequest is the input to AskHandler.
type AskRequest struct {
	Model          string // "auto" or a specific backend name
	Prompt         string
	MaxTokens      int
	ForceBackend   string
	EnableChunking bool
	Thinking       bool
}

// AskResult is the normalized output of AskHandler.
type AskResult struct {
	Content       string          `json:"content"`
	BackendUsed   string          `json:"backend_used"`
	FallbackChain []string        `json:"fallback_chain"`
	LatencyMS     int64           `json:"latency_ms"`
	Routing       router.Decision `json:"routing"`
	Truncated     bool            `json:"truncated"`
}

// Learner is the slice of learning.Engine AskHandler needs to report
// outcomes.
type Learner interface {
	RecordOutcome(o learning.Outcome)
}

// AskHandler is the single-backend, routed-then-fallback request tool.
type AskHandler struct {
	reg     Registry
	rt      *router.Router
	learner Learner
}

func NewAskHandler(reg Registry, rt *router.Router, learner Learner) *AskHandler {
	return &AskHandler{reg: reg, rt: rt, learner: learner}
}

var sentenceEndRe = regexp.MustCompile(`[.!?]\s*$`)

func isTruncated(content string, tokensUsed, maxTokens int) bool {
	if maxTokens <= 0 {
		return false
	}
	if float64(tokensUsed) < 0.9*float64(maxTokens) {
		return false
	}
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return false
	}
	if strings.HasSuffix(trimmed, "```") {
		return false
	}
	return !sentenceEndRe.MatchString(trimmed)
}

func (h *AskHandler) Run(ctx context.Context, req AskRequest) (AskResult, error) {
	forced := req.ForceBackend
	if forced == "" && req.Model != "" && req.Model != "auto" {
		forced = req.Model
	}

	rc := router.NewContext(req.Prompt, req.MaxTokens, forced, "")
	decision := h.rt.Route(rc)

	start := time.Now()
	breq := backend.Request{Prompt: req.Prompt, MaxTokens: req.MaxTokens, Temperature: 0.7, Thinking: req.Thinking}

	var (
		content       string
		usedBackend   string
		fallbackChain []string
		tokensUsed    int
		callErr       error
	)

	if decision.Source == learning.SourceForced {
		// Direct mode: forced means forced, no fallback chain.
		resp, err := h.reg.Request(ctx, decision.Backend, breq)
		callErr = err
		if err == nil {
			content = resp.Content
			tokensUsed = resp.TokensUsed
		}
		usedBackend = decision.Backend
	} else {
		fr, err := h.reg.RequestWithFallback(ctx, decision.Backend, breq)
		callErr = err
		fallbackChain = fr.FallbackChain
		if err == nil {
			content = fr.Response.Content
			tokensUsed = fr.Response.TokensUsed
			usedBackend = fr.UsedBackend
		}
	}

	latency := time.Since(start)
	h.reportOutcome(rc, decision, callErr == nil, latency)

	if callErr != nil {
		return AskResult{BackendUsed: usedBackend, FallbackChain: fallbackChain, Routing: decision}, callErr
	}

	truncated := isTruncated(content, tokensUsed, req.MaxTokens)
	if truncated && req.EnableChunking {
		content = h.rechunk(ctx, req, content, usedBackend)
	}

	return AskResult{
		Content:       content,
		BackendUsed:   usedBackend,
		FallbackChain: fallbackChain,
		LatencyMS:     latency.Milliseconds(),
		Routing:       decision,
		Truncated:     truncated,
	}, nil
}

// rechunk re-issues the prompt asking for continuation past the boundary
// and concatenates with an explicit marker.
func (h *AskHandler) rechunk(ctx context.Context, req AskRequest, partial, usedBackend string) string {
	continuation := req.Prompt + "\n\nContinue exactly where the previous response left off:\n" + partial
	fr, err := h.reg.RequestWithFallback(ctx, usedBackend, backend.Request{
		Prompt: continuation, MaxTokens: req.MaxTokens, Temperature: 0.7,
	})
	if err != nil {
		return partial
	}
	return partial + "\n\n--- [continued] ---\n\n" + fr.Response.Content
}

func (h *AskHandler) reportOutcome(rc router.Context, decision router.Decision, success bool, latency time.Duration) {
	if h.learner == nil || decision.Backend == "" {
		return
	}
	h.learner.RecordOutcome(learning.Outcome{
		Backend: decision.Backend, Complexity: rc.Complexity, TaskType: rc.TaskType,
		Success: success, LatencyMS: latency.Milliseconds(), Source: decision.Source,
	})
}
