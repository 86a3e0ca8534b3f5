package workflow

import (
	"context"
	"fmt"

	"github.com/arcway/mcpmux/internal/backend"
)

const (
	minQualityThreshold     = 0.5
	maxQualityThreshold     = 1.0
	defaultQualityThreshold = 0.7
	maxDualIterations       = 5
)

// DualIterateRequest is the input to DualIterateHandler.
type DualIterateRequest struct {
	Task             string
	MaxIterations    int
	QualityThreshold float64
	IncludeHistory   bool
}

// DualIterateSnapshot is one iteration's immutable record.
type DualIterateSnapshot struct {
	Iter          int     `json:"iter"`
	GeneratedCode string  `json:"generated_code"`
	Review        Verdict `json:"review"`
}

// DualIterateResult is the normalized output of DualIterateHandler.
type DualIterateResult struct {
	Approved    bool                  `json:"approved"`
	Code        string                `json:"code"`
	FinalScore  float64               `json:"final_score"`
	Iterations  int                   `json:"iterations"`
	FinalReview Verdict               `json:"final_review"`
	History     []DualIterateSnapshot `json:"history,omitempty"`
}

// DualIterateHandler runs the generate -> review -> fix loop, bound to
// two fixed roles (one coder backend, one reviewer backend).
type DualIterateHandler struct {
	reg             Registry
	coderBackend    string
	reviewerBackend string
}

func NewDualIterateHandler(reg Registry, coderBackend, reviewerBackend string) *DualIterateHandler {
	return &DualIterateHandler{reg: reg, coderBackend: coderBackend, reviewerBackend: reviewerBackend}
}

func (h *DualIterateHandler) Run(ctx context.Context, req DualIterateRequest) (DualIterateResult, error) {
	maxIter := req.MaxIterations
	if maxIter <= 0 {
		maxIter = 3
	}
	if maxIter > maxDualIterations {
		maxIter = maxDualIterations
	}
	threshold := req.QualityThreshold
	if threshold == 0 {
		threshold = defaultQualityThreshold
	}
	if threshold < minQualityThreshold {
		threshold = minQualityThreshold
	}
	if threshold > maxQualityThreshold {
		threshold = maxQualityThreshold
	}

	var (
		currentCode string
		lastReview  Verdict
		history     []DualIterateSnapshot
	)

	for iter := 1; iter <= maxIter; iter++ {
		genPrompt := req.Task
		if iter > 1 {
			genPrompt = fmt.Sprintf("Task: %s\n\nCurrent code:\n%s\n\nPrevious review issues: %v\nPrevious review suggestions: %v\n\nFix the issues and improve the code.",
				req.Task, currentCode, lastReview.Issues, lastReview.Suggestions)
		}

		genResult, err := h.reg.RequestWithFallback(ctx, h.coderBackend, backend.Request{Prompt: genPrompt, MaxTokens: 4000, Temperature: 0.3})
		if err != nil {
			return DualIterateResult{}, fmt.Errorf("coder call failed on iteration %d: %w", iter, err)
		}
		currentCode = backend.FirstFencedCodeBlock(genResult.Response.Content)

		reviewPrompt := fmt.Sprintf("Task: %s\n\nReview this code and respond with a strict JSON verdict {\"score\": 0-1, \"issues\": [...], \"suggestions\": [...], \"summary\": \"...\"}.\n\nCode:\n%s", req.Task, currentCode)
		reviewResult, err := h.reg.RequestWithFallback(ctx, h.reviewerBackend, backend.Request{Prompt: reviewPrompt, MaxTokens: 1500, Temperature: 0.2})
		if err != nil {
			return DualIterateResult{}, fmt.Errorf("reviewer call failed on iteration %d: %w", iter, err)
		}

		lastReview = ParseVerdict(reviewResult.Response.Content)
		history = append(history, DualIterateSnapshot{Iter: iter, GeneratedCode: currentCode, Review: lastReview})

		if lastReview.Score >= threshold {
			result := DualIterateResult{Approved: true, Code: currentCode, FinalScore: lastReview.Score, Iterations: iter, FinalReview: lastReview}
			if req.IncludeHistory {
				result.History = history
			}
			return result, nil
		}
	}

	result := DualIterateResult{Approved: false, Code: currentCode, FinalScore: lastReview.Score, Iterations: maxIter, FinalReview: lastReview}
	if req.IncludeHistory {
		result.History = history
	}
	return result, nil
}
