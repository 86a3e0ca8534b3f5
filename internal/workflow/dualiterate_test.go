package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcway/mcpmux/internal/backend"
)

// The loop converges on iteration 2 once the reviewer's score clears
// the 0.7 threshold.
func TestDualIterate_ApprovesWithinIterationCap(t *testing.T) {
	reg := newStubRegistry()
	reg.responses["coder"] = []backend.Response{
		{Content: "```go\nfunc f() int { return 1 }\n```"},
		{Content: "```go\nfunc f() int { return 2 }\n```"},
	}
	reg.responses["reviewer"] = []backend.Response{
		{Content: `{"score":0.4,"issues":["X"],"suggestions":["Do Y"]}`},
		{Content: `{"score":0.85,"issues":[],"suggestions":[],"summary":"good"}`},
	}

	h := NewDualIterateHandler(reg, "coder", "reviewer")
	result, err := h.Run(context.Background(), DualIterateRequest{Task: "implement f", MaxIterations: 5})
	require.NoError(t, err)

	assert.True(t, result.Approved)
	assert.Equal(t, 2, result.Iterations)
	assert.InDelta(t, 0.85, result.FinalScore, 1e-9)
}

func TestDualIterate_AbortsOnCoderFailure(t *testing.T) {
	reg := newStubRegistry()
	reg.errs["coder"] = []error{assertErr("transport down")}

	h := NewDualIterateHandler(reg, "coder", "reviewer")
	_, err := h.Run(context.Background(), DualIterateRequest{Task: "x"})
	assert.Error(t, err)
}

func TestDualIterate_ExhaustsIterationsWithoutApproval(t *testing.T) {
	reg := newStubRegistry()
	reg.responses["coder"] = []backend.Response{
		{Content: "```\ncode v1\n```"},
		{Content: "```\ncode v2\n```"},
	}
	reg.responses["reviewer"] = []backend.Response{
		{Content: `{"score":0.3,"issues":["bad"],"suggestions":[]}`},
		{Content: `{"score":0.4,"issues":["still bad"],"suggestions":[]}`},
	}

	h := NewDualIterateHandler(reg, "coder", "reviewer")
	result, err := h.Run(context.Background(), DualIterateRequest{Task: "x", MaxIterations: 2})
	require.NoError(t, err)
	assert.False(t, result.Approved)
	assert.Equal(t, 2, result.Iterations)
}
