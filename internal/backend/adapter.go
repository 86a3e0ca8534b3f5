package backend

import (
	"context"
	"regexp"
	"strings"
	"time"
)

// Request is the generic shape every Adapter translates into its
// provider's wire format. The adapter is the only component that knows
// provider vocabulary; everything upstream of it treats this as opaque.
type Request struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
	Thinking    bool
}

// Response is the normalized result of one adapter call.
type Response struct {
	Content          string
	TokensUsed       int
	ReasoningContent string
	RawLatencyMS     int64
}

// ProbeResult reports a liveness check. Probe never returns a Go error:
// non-reachability is reported as Healthy=false with a Detail.
type ProbeResult struct {
	Healthy   bool
	LatencyMS int64
	Detail    string
}

// Adapter is implemented once per backend kind.
type Adapter interface {
	Name() string
	Descriptor() Descriptor
	Probe(ctx context.Context) ProbeResult
	Call(ctx context.Context, req Request) (Response, error)
}

var (
	unityRe   = regexp.MustCompile(`(?i)\b(unity|gameobject|monobehaviour|prefab)\b`)
	complexRe = regexp.MustCompile(`(?i)\b(architecture|distributed|concurren\w+|algorithm|optimi[sz]e)\b`)
)

// DynamicTokenLimit computes the caller-side max_tokens before Call,
// unity keywords win regardless of length, otherwise
// length/keyword complexity picks a tier, and the cap always wins.
func DynamicTokenLimit(prompt string, cap_ int) int {
	limit := 2000
	switch {
	case unityRe.MatchString(prompt):
		limit = 16000
	case complexRe.MatchString(prompt) || len(prompt) > 4000:
		limit = 8000
	case len(prompt) > 800:
		limit = 2000
	default:
		limit = 2000
	}
	if cap_ > 0 && limit > cap_ {
		limit = cap_
	}
	return limit
}

// CallTimeout picks the effective deadline for one adapter.Call: the
// smaller of the caller-provided deadline (if any, via ctx) and the
// backend's configured default.
func CallTimeout(defaultMS int) time.Duration {
	if defaultMS <= 0 {
		defaultMS = 60000
	}
	return time.Duration(defaultMS) * time.Millisecond
}

// firstFencedCodeBlock extracts the first ```...``` block's body, falling
// back to the trimmed full text when no fence is present. Shared by
// DualIterate, ParallelAgents, and SubagentHandler extraction logic.
func firstFencedCodeBlock(s string) string {
	const fence = "```"
	start := strings.Index(s, fence)
	if start == -1 {
		return strings.TrimSpace(s)
	}
	rest := s[start+len(fence):]
	if nl := strings.IndexByte(rest, '\n'); nl != -1 && nl < 40 {
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, fence)
	if end == -1 {
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(rest[:end])
}

// FirstFencedCodeBlock is the exported form used by the workflow package.
func FirstFencedCodeBlock(s string) string { return firstFencedCodeBlock(s) }
