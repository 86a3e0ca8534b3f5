package workflow

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/arcway/mcpmux/internal/backend"
)

// Topic is the council's domain hint, used to resolve candidate backends
// from config.
type Topic string

const (
	TopicCoding        Topic = "coding"
	TopicReasoning     Topic = "reasoning"
	TopicArchitecture  Topic = "architecture"
	TopicSecurity      Topic = "security"
	TopicPerformance   Topic = "performance"
	TopicGeneral       Topic = "general"
	TopicCreative      Topic = "creative"
)

// ConfidenceNeeded maps to a target backend count for the council.
type ConfidenceNeeded string

const (
	ConfidenceHigh   ConfidenceNeeded = "high"
	ConfidenceMedium ConfidenceNeeded = "medium"
	ConfidenceLow    ConfidenceNeeded = "low"
)

func (c ConfidenceNeeded) backendCount() int {
	switch c {
	case ConfidenceHigh:
		return 4
	case ConfidenceLow:
		return 2
	default:
		return 3
	}
}

// CouncilRequest is the input to CouncilHandler.
type CouncilRequest struct {
	Prompt           string
	Topic            Topic
	ConfidenceNeeded ConfidenceNeeded
	NumBackends      int // overrides ConfidenceNeeded's default when > 0
	MaxTokens        int
}

// CouncilResponseEntry is one backend's answer.
type CouncilResponseEntry struct {
	Backend string `json:"backend"`
	Content string `json:"content"`
	Success bool   `json:"success"`
}

// AgreementLevel summarizes pairwise overlap across responses.
type AgreementLevel string

const (
	AgreementHigh      AgreementLevel = "high"
	AgreementModerate  AgreementLevel = "moderate"
	AgreementDivergent AgreementLevel = "divergent"
	AgreementSingle    AgreementLevel = "single_response"
)

// Recommendation is the council's proceed/review signal.
type Recommendation string

const (
	RecommendProceed Recommendation = "proceed"
	RecommendReview  Recommendation = "review"
)

// CouncilSynthesis is the metadata-only aggregation result; no
// cross-backend response synthesis happens here, only agreement scoring
// over the raw responses.
type CouncilSynthesis struct {
	BackendsQueried   int            `json:"backends_queried"`
	BackendsSucceeded int            `json:"backends_succeeded"`
	Duration          time.Duration  `json:"duration_ns"`
	AgreementLevel    AgreementLevel `json:"agreement_level"`
	Recommendation    Recommendation `json:"recommendation"`
}

// CouncilResult is the normalized output of CouncilHandler.
type CouncilResult struct {
	Responses []CouncilResponseEntry `json:"responses"`
	Failed    []CouncilResponseEntry `json:"failed"`
	Synthesis CouncilSynthesis       `json:"synthesis"`
}

// TopicResolver maps a topic to its candidate backend names, config-driven.
type TopicResolver interface {
	CandidatesForTopic(t Topic) []string
}

const councilPreamble = "You are one voice among several independent advisors being consulted in parallel on the same question. Answer directly and concretely; do not mention other advisors.\n\n"

// CouncilHandler fans a prompt out to 2-6 backends in parallel and
// reports their answers plus a lightweight agreement signal.
type CouncilHandler struct {
	reg    Registry
	topics TopicResolver
	mgr    *backend.ConcurrentRequestManager
}

func NewCouncilHandler(reg Registry, topics TopicResolver) *CouncilHandler {
	return &CouncilHandler{reg: reg, topics: topics}
}

// WithManager gates the council's fan-out through the process-wide
// concurrency manager. Optional; returns the handler for chaining.
func (h *CouncilHandler) WithManager(mgr *backend.ConcurrentRequestManager) *CouncilHandler {
	h.mgr = mgr
	return h
}

func (h *CouncilHandler) Run(ctx context.Context, req CouncilRequest) (CouncilResult, error) {
	n := req.NumBackends
	if n <= 0 {
		n = req.ConfidenceNeeded.backendCount()
	}

	candidates := h.topics.CandidatesForTopic(req.Topic)
	available := make([]string, 0, len(candidates))
	for _, name := range candidates {
		if h.reg.IsHealthy(name) {
			available = append(available, name)
		}
	}
	if len(available) < n {
		for _, name := range h.reg.FallbackChain() {
			if len(available) >= n {
				break
			}
			if !containsStr(available, name) && h.reg.IsHealthy(name) {
				available = append(available, name)
			}
		}
	}
	if len(available) > n {
		available = available[:n]
	}
	if len(available) < 2 {
		return CouncilResult{}, fmt.Errorf("council requires at least 2 available backends, found %d", len(available))
	}

	prompt := councilPreamble + req.Prompt
	start := time.Now()

	tasks := make([]func(ctx context.Context) (CouncilResponseEntry, error), len(available))
	for i, name := range available {
		name := name
		tasks[i] = func(ctx context.Context) (CouncilResponseEntry, error) {
			// Each council member independently walks the fallback chain,
			// so one flaky provider does not silence that seat.
			fr, err := h.reg.RequestWithFallback(ctx, name, backend.Request{Prompt: prompt, MaxTokens: req.MaxTokens, Temperature: 0.7})
			if err != nil {
				return CouncilResponseEntry{Backend: name, Success: false, Content: err.Error()}, err
			}
			return CouncilResponseEntry{Backend: fr.UsedBackend, Content: fr.Response.Content, Success: true}, nil
		}
	}
	results := backend.FanOut(ctx, h.mgr, tasks)

	var succeeded, failed []CouncilResponseEntry
	for _, r := range results {
		if r.Err == nil {
			succeeded = append(succeeded, r.Value)
		} else {
			failed = append(failed, r.Value)
		}
	}
	if len(succeeded) == 0 {
		return CouncilResult{Failed: failed}, fmt.Errorf("all %d council backends failed", len(available))
	}

	agreement := computeAgreement(succeeded)
	threshold := int(math.Ceil(0.6 * float64(len(available))))
	rec := RecommendReview
	if len(succeeded) >= threshold {
		rec = RecommendProceed
	}

	return CouncilResult{
		Responses: succeeded,
		Failed:    failed,
		Synthesis: CouncilSynthesis{
			BackendsQueried:   len(available),
			BackendsSucceeded: len(succeeded),
			Duration:          time.Since(start),
			AgreementLevel:    agreement,
			Recommendation:    rec,
		},
	}, nil
}

func containsStr(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// computeAgreement applies a pairwise Jaccard-like overlap metric over
// significant tokens: length > 4, stop words dropped.
func computeAgreement(entries []CouncilResponseEntry) AgreementLevel {
	if len(entries) < 2 {
		return AgreementSingle
	}
	tokenSets := make([]map[string]bool, len(entries))
	for i, e := range entries {
		tokenSets[i] = significantTokens(e.Content)
	}

	totalPairs := 0
	highOverlapPairs := 0
	for i := 0; i < len(tokenSets); i++ {
		for j := i + 1; j < len(tokenSets); j++ {
			totalPairs++
			if jaccard(tokenSets[i], tokenSets[j]) > 0.3 {
				highOverlapPairs++
			}
		}
	}
	if totalPairs == 0 {
		return AgreementSingle
	}
	fraction := float64(highOverlapPairs) / float64(totalPairs)
	switch {
	case fraction >= 0.8:
		return AgreementHigh
	case fraction >= 0.5:
		return AgreementModerate
	default:
		return AgreementDivergent
	}
}

func significantTokens(s string) map[string]bool {
	out := make(map[string]bool)
	for _, word := range strings.Fields(strings.ToLower(s)) {
		word = strings.Trim(word, ".,!?;:\"'()[]{}")
		if len(word) > 4 && !stopWordsCouncil[word] {
			out[word] = true
		}
	}
	return out
}

var stopWordsCouncil = map[string]bool{
	"about": true, "which": true, "there": true, "their": true, "would": true,
	"should": true, "could": true, "these": true, "those": true, "where": true,
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for t := range a {
		if b[t] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
