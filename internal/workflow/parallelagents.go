package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/arcway/mcpmux/internal/backend"
	"github.com/arcway/mcpmux/internal/telemetry"
)

// Phase is one step of the RED -> GREEN -> REFACTOR pipeline.
type Phase string

const (
	PhaseRed      Phase = "red"
	PhaseGreen    Phase = "green"
	PhaseRefactor Phase = "refactor"
)

// Subtask is one atomic unit of work decomposed from the high-level task.
// Its ID is stable across iterations; Feedback is the only field mutated
// between iterations.
type Subtask struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Feedback    string `json:"feedback,omitempty"`
}

// PhaseResult is one subtask's outcome within one phase.
type PhaseResult struct {
	SubtaskID string `json:"subtask_id"`
	Success   bool   `json:"success"`
	Content   string `json:"content,omitempty"` // extracted code artifact, empty when Success is false
	Error     string `json:"error,omitempty"`
}

// ParallelAgentsRequest is the input to ParallelAgentsHandler.
type ParallelAgentsRequest struct {
	Task                string
	MaxParallel         int
	MaxIterations       int
	IterateUntilQuality bool
	WorkDirectory       string
	WriteFiles          bool
}

// QualityGateResult is the post-REFACTOR judgment.
type QualityGateResult struct {
	Passed   bool     `json:"passed"`
	Score    float64  `json:"score"`
	Issues   []string `json:"issues,omitempty"`
	Feedback []string `json:"feedback,omitempty"`
}

// IterationRecord is one pass's RED/GREEN/REFACTOR/QUALITY snapshot.
type IterationRecord struct {
	Iter     int               `json:"iter"`
	Red      []PhaseResult     `json:"red"`
	Green    []PhaseResult     `json:"green"`
	Refactor []PhaseResult     `json:"refactor"`
	Quality  QualityGateResult `json:"quality"`
}

// ParallelAgentsResult is the normalized output of ParallelAgentsHandler.
type ParallelAgentsResult struct {
	Passed     bool              `json:"passed"`
	Iterations int               `json:"iterations"`
	Subtasks   []Subtask         `json:"subtasks"`
	History    []IterationRecord `json:"history"`
}

const defaultMaxParallel = 2
const defaultMaxAgentsIterations = 3

// ParallelAgentsHandler runs the TDD-phase pipeline: decompose, then
// RED/GREEN/REFACTOR batched-parallel across subtasks, then a QUALITY
// gate, iterating on failure when requested.
type ParallelAgentsHandler struct {
	reg       Registry
	subagents *SubagentHandler
	mgr       *backend.ConcurrentRequestManager
}

func NewParallelAgentsHandler(reg Registry, subagents *SubagentHandler) *ParallelAgentsHandler {
	return &ParallelAgentsHandler{reg: reg, subagents: subagents}
}

// WithManager gates each phase's batched fan-out through the
// process-wide concurrency manager. Optional; returns the handler for
// chaining.
func (h *ParallelAgentsHandler) WithManager(mgr *backend.ConcurrentRequestManager) *ParallelAgentsHandler {
	h.mgr = mgr
	return h
}

func (h *ParallelAgentsHandler) Run(ctx context.Context, req ParallelAgentsRequest) (ParallelAgentsResult, error) {
	maxParallel := req.MaxParallel
	if maxParallel <= 0 {
		maxParallel = defaultMaxParallel
	}
	if maxParallel > 6 {
		maxParallel = 6
	}
	maxIter := req.MaxIterations
	if maxIter <= 0 {
		maxIter = defaultMaxAgentsIterations
	}
	if maxIter > 5 {
		maxIter = 5
	}

	subtasks, err := h.decompose(ctx, req.Task)
	if err != nil {
		return ParallelAgentsResult{}, fmt.Errorf("decompose failed: %w", err)
	}

	var history []IterationRecord
	for iter := 1; iter <= maxIter; iter++ {
		red := h.runPhase(ctx, PhaseRed, "tdd-test-writer", req.Task, subtasks, maxParallel, nil)
		green := h.runPhase(ctx, PhaseGreen, "tdd-implementer", req.Task, subtasks, maxParallel, red)
		refactor := h.runPhase(ctx, PhaseRefactor, RefactorPhaseRole, req.Task, subtasks, maxParallel, green)

		if req.WriteFiles && req.WorkDirectory != "" {
			h.persistPhase(req.WorkDirectory, PhaseRed, red, "test")
			h.persistPhase(req.WorkDirectory, PhaseGreen, green, "impl")
			h.persistPhase(req.WorkDirectory, PhaseRefactor, refactor, "impl")
		}

		quality := h.qualityGate(ctx, req.Task, green, refactor)
		record := IterationRecord{Iter: iter, Red: red, Green: green, Refactor: refactor, Quality: quality}
		history = append(history, record)

		if quality.Passed {
			return ParallelAgentsResult{Passed: true, Iterations: iter, Subtasks: subtasks, History: history}, nil
		}
		if !req.IterateUntilQuality || iter == maxIter {
			return ParallelAgentsResult{Passed: false, Iterations: iter, Subtasks: subtasks, History: history}, nil
		}

		annotateFeedback(subtasks, quality)
	}

	return ParallelAgentsResult{Passed: false, Iterations: maxIter, Subtasks: subtasks, History: history}, nil
}

func annotateFeedback(subtasks []Subtask, quality QualityGateResult) {
	for i := range subtasks {
		if i < len(quality.Feedback) && quality.Feedback[i] != "" {
			subtasks[i].Feedback = quality.Feedback[i]
		} else if len(quality.Issues) > 0 {
			subtasks[i].Feedback = quality.Issues[0]
		}
	}
}

func (h *ParallelAgentsHandler) decompose(ctx context.Context, task string) ([]Subtask, error) {
	result, err := h.subagents.Run(ctx, SubagentRequest{Role: "tdd-decomposer", Task: task})
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, fmt.Errorf("decomposer failed: %s", result.Error)
	}
	subtasks := parseSubtaskList(result.TextContent)
	if len(subtasks) < 2 {
		subtasks = []Subtask{{ID: "task-1", Description: task}}
	}
	if len(subtasks) > 5 {
		subtasks = subtasks[:5]
	}
	return subtasks, nil
}

// runPhase partitions subtasks into batches of maxParallel, runs each
// batch's subagents in parallel, and executes batches sequentially.
// prior carries the previous phase's artifacts (empty for RED).
func (h *ParallelAgentsHandler) runPhase(ctx context.Context, phase Phase, role, task string, subtasks []Subtask, maxParallel int, prior []PhaseResult) []PhaseResult {
	ctx, span := telemetry.StartSpan(ctx, "workflow.phase."+string(phase))
	defer span.End()

	out := make([]PhaseResult, len(subtasks))
	priorByID := make(map[string]PhaseResult, len(prior))
	for _, p := range prior {
		priorByID[p.SubtaskID] = p
	}

	for start := 0; start < len(subtasks); start += maxParallel {
		end := start + maxParallel
		if end > len(subtasks) {
			end = len(subtasks)
		}
		batch := subtasks[start:end]

		tasks := make([]func(ctx context.Context) (PhaseResult, error), len(batch))
		for i, st := range batch {
			st := st
			tasks[i] = func(ctx context.Context) (PhaseResult, error) {
				prompt := fmt.Sprintf("Overall task: %s\n\nSubtask %s: %s", task, st.ID, st.Description)
				if st.Feedback != "" {
					prompt += fmt.Sprintf("\n\nFeedback from previous iteration: %s", st.Feedback)
				}
				if artifact, ok := priorByID[st.ID]; ok && artifact.Success {
					prompt += fmt.Sprintf("\n\nPrevious phase output:\n%s", artifact.Content)
				}
				res, err := h.subagents.Run(ctx, SubagentRequest{Role: role, Task: prompt})
				if err != nil || !res.Success {
					errMsg := ""
					if err != nil {
						errMsg = err.Error()
					} else {
						errMsg = res.Error
					}
					return PhaseResult{SubtaskID: st.ID, Success: false, Error: errMsg}, nil
				}
				return PhaseResult{SubtaskID: st.ID, Success: true, Content: backend.FirstFencedCodeBlock(res.TextContent)}, nil
			}
		}
		batchResults := backend.FanOut(ctx, h.mgr, tasks)
		for i, r := range batchResults {
			out[start+i] = r.Value
		}
	}
	return out
}

func (h *ParallelAgentsHandler) persistPhase(workDir string, phase Phase, results []PhaseResult, suffix string) {
	dir := filepath.Join(workDir, string(phase))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}
	for _, r := range results {
		if !r.Success {
			continue
		}
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.txt", r.SubtaskID, suffix))
		_ = os.WriteFile(path, []byte(r.Content), 0o644)
	}
}

// qualityGate implements the quick-fail-on-majority-failure check, then
// falls through to the quality reviewer's judgment.
func (h *ParallelAgentsHandler) qualityGate(ctx context.Context, task string, green, refactor []PhaseResult) QualityGateResult {
	if len(green) == 0 {
		return QualityGateResult{Passed: false, Score: 0, Feedback: []string{"retry with a simpler scope"}}
	}
	successCount := 0
	for _, g := range green {
		if g.Success {
			successCount++
		}
	}
	failureRate := 1 - float64(successCount)/float64(len(green))
	if failureRate > 0.5 {
		feedback := make([]string, len(green))
		for i := range feedback {
			feedback[i] = "retry with a simpler scope"
		}
		return QualityGateResult{Passed: false, Score: 0.3, Feedback: feedback}
	}

	sample := sampleArtifacts(green, refactor)
	result, err := h.subagents.Run(ctx, SubagentRequest{Role: "tdd-quality-reviewer", Task: task, ExtraContext: sample})
	if err != nil || !result.Success || result.Verdict == nil {
		return QualityGateResult{Passed: false, Score: 0.5, Issues: []string{"quality reviewer call failed"}}
	}
	v := result.Verdict
	return QualityGateResult{Passed: v.Score >= defaultQualityThreshold, Score: v.Score, Issues: v.Issues, Feedback: v.Suggestions}
}

const sampleTruncateLen = 500

func sampleArtifacts(green, refactor []PhaseResult) string {
	var b []byte
	for _, g := range green {
		b = append(b, []byte(fmt.Sprintf("GREEN %s:\n%s\n\n", g.SubtaskID, truncate(g.Content, sampleTruncateLen)))...)
	}
	for _, r := range refactor {
		b = append(b, []byte(fmt.Sprintf("REFACTOR %s:\n%s\n\n", r.SubtaskID, truncate(r.Content, sampleTruncateLen)))...)
	}
	return string(b)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
