package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcway/mcpmux/internal/backend"
)

func rolesRoutedToOwnName() map[string]RoleTemplate {
	roles := DefaultRoles()
	out := make(map[string]RoleTemplate, len(roles))
	for name, r := range roles {
		r.RecommendedBackends = []string{name}
		out[name] = r
	}
	return out
}

func ok(content string) backend.Response { return backend.Response{Content: content} }
func fail() error { return assertErr("subagent failure") }

// The decomposer produces 4 subtasks; the GREEN phase yields 1 success
// and 3 failures (failure rate 0.75 > 0.5), so the quality gate
// quick-fails without ever invoking tdd-quality-reviewer.
func TestParallelAgents_MajorityFailureQuickFails(t *testing.T) {
	reg := newStubRegistry()
	roles := rolesRoutedToOwnName()

	reg.healthy["tdd-decomposer"] = true
	reg.responses["tdd-decomposer"] = []backend.Response{ok(`[
		{"id":"task-1","description":"a"},
		{"id":"task-2","description":"b"},
		{"id":"task-3","description":"c"},
		{"id":"task-4","description":"d"}
	]`)}

	reg.responses["tdd-test-writer"] = []backend.Response{ok("```\ntest\n```"), ok("```\ntest\n```"), ok("```\ntest\n```"), ok("```\ntest\n```")}

	// 1 success, 3 failures across the GREEN phase (order across the two
	// batches of 2 is not significant to the aggregate count).
	reg.responses["tdd-implementer"] = []backend.Response{ok("```\nimpl\n```")}
	reg.errs["tdd-implementer"] = []error{nil, fail(), fail(), fail()}

	reg.responses["code-reviewer"] = []backend.Response{ok("```\nrefactored\n```"), ok("```\nrefactored\n```"), ok("```\nrefactored\n```"), ok("```\nrefactored\n```")}

	subagents := NewSubagentHandler(reg, roles)
	h := NewParallelAgentsHandler(reg, subagents)

	result, err := h.Run(context.Background(), ParallelAgentsRequest{Task: "build a thing", MaxParallel: 2, MaxIterations: 1})
	require.NoError(t, err)

	require.Len(t, result.History, 1)
	quality := result.History[0].Quality
	assert.False(t, quality.Passed)
	assert.InDelta(t, 0.3, quality.Score, 1e-9)
	assert.False(t, result.Passed)
	assert.Len(t, result.Subtasks, 4)
}

func TestParallelAgents_PreservesPhaseLengthAcrossSubtasks(t *testing.T) {
	reg := newStubRegistry()
	roles := rolesRoutedToOwnName()

	reg.responses["tdd-decomposer"] = []backend.Response{ok(`[{"id":"task-1","description":"a"},{"id":"task-2","description":"b"}]`)}
	reg.responses["tdd-test-writer"] = []backend.Response{ok("```\nt\n```"), ok("```\nt\n```")}
	reg.responses["tdd-implementer"] = []backend.Response{ok("```\ni\n```"), ok("```\ni\n```")}
	reg.responses["code-reviewer"] = []backend.Response{ok("```\nr\n```"), ok("```\nr\n```")}
	reg.responses["tdd-quality-reviewer"] = []backend.Response{ok(`{"score":0.9,"issues":[],"suggestions":[]}`)}

	subagents := NewSubagentHandler(reg, roles)
	h := NewParallelAgentsHandler(reg, subagents)

	result, err := h.Run(context.Background(), ParallelAgentsRequest{Task: "x", MaxParallel: 2, MaxIterations: 1})
	require.NoError(t, err)
	require.Len(t, result.History, 1)

	rec := result.History[0]
	assert.Equal(t, len(rec.Red), len(rec.Green))
	assert.Equal(t, len(rec.Green), len(rec.Refactor))
	assert.Equal(t, len(rec.Refactor), len(result.Subtasks))
	assert.True(t, result.Passed)
}
