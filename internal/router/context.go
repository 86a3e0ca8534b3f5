// Package router implements the 4-tier backend-selection policy: forced,
// learning, rules, fallback. It is a thin orchestration layer over
// internal/backend (for health/fallback-chain data) and internal/learning
// (for recommendations); it never holds business state of its own beyond
// the precompiled task-type classifiers.
package router

import (
	"regexp"
	"time"

	"github.com/arcway/mcpmux/internal/learning"
)

// Context is created once per request and carries everything the router
// needs to make (and later, record the outcome of) a decision.
type Context struct {
	PromptLength    int
	EstimatedTokens int
	MaxTokens       int
	Complexity      learning.Complexity
	TaskType        learning.TaskType
	ForcedBackend   string // "" or "auto" means unset
	RequestID       string
	Timestamp       time.Time
}

var (
	codeRe       = regexp.MustCompile(`(?i)\b(func|function|class|import|package|def |var |const |=>|\{\}|compile|refactor|bug|debug)\b`)
	analysisRe   = regexp.MustCompile(`(?i)\b(analy[sz]e|evaluate|compare|assess|review|explain why)\b`)
	generationRe = regexp.MustCompile(`(?i)\b(write|draft|generate|compose|create a)\b`)
	unityCtxRe   = regexp.MustCompile(`(?i)\b(unity|gameobject|monobehaviour|prefab|c#)\b`)
)

// ClassifyTaskType is a pure function of the prompt; its regexes are
// precompiled once at package init rather than per call.
func ClassifyTaskType(prompt string) learning.TaskType {
	switch {
	case unityCtxRe.MatchString(prompt):
		return learning.TaskUnity
	case codeRe.MatchString(prompt):
		return learning.TaskCode
	case analysisRe.MatchString(prompt):
		return learning.TaskAnalysis
	case generationRe.MatchString(prompt):
		return learning.TaskGeneration
	default:
		return learning.TaskGeneral
	}
}

// ClassifyComplexity derives a coarse bucket from prompt length and the
// requested output size.
func ClassifyComplexity(promptLen, maxTokens int) learning.Complexity {
	switch {
	case promptLen > 2000 || maxTokens > 4000:
		return learning.ComplexityComplex
	case promptLen > 400 || maxTokens > 1000:
		return learning.ComplexityModerate
	default:
		return learning.ComplexitySimple
	}
}

// NewContext builds a Context from a raw prompt and the caller's
// requested max tokens; forcedBackend is the tool input's force_backend
// or model="auto" passthrough.
func NewContext(prompt string, maxTokens int, forcedBackend, requestID string) Context {
	return Context{
		PromptLength:  len(prompt),
		MaxTokens:     maxTokens,
		Complexity:    ClassifyComplexity(len(prompt), maxTokens),
		TaskType:      ClassifyTaskType(prompt),
		ForcedBackend: forcedBackend,
		RequestID:     requestID,
		Timestamp:     time.Now(),
	}
}
