package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcway/mcpmux/internal/backend"
)

func TestSubagentHandler_UnknownRoleErrors(t *testing.T) {
	reg := newStubRegistry()
	h := NewSubagentHandler(reg, nil)
	_, err := h.Run(context.Background(), SubagentRequest{Role: "not-a-role", Task: "x"})
	assert.Error(t, err)
}

func TestSubagentHandler_ParsesVerdictOnlyForVerdictRoles(t *testing.T) {
	reg := newStubRegistry()
	reg.responses["code-reviewer"] = []backend.Response{{Content: `{"score":0.9,"issues":[],"suggestions":[],"summary":"fine"}`}}
	reg.responses["planner"] = []backend.Response{{Content: "1. do this\n2. do that"}}

	h := NewSubagentHandler(reg, rolesRoutedToOwnName())

	reviewResult, err := h.Run(context.Background(), SubagentRequest{Role: "code-reviewer", Task: "review this diff"})
	require.NoError(t, err)
	require.NotNil(t, reviewResult.Verdict)
	assert.InDelta(t, 0.9, reviewResult.Verdict.Score, 1e-9)

	planResult, err := h.Run(context.Background(), SubagentRequest{Role: "planner", Task: "plan this feature"})
	require.NoError(t, err)
	assert.Nil(t, planResult.Verdict)
	assert.Equal(t, "1. do this\n2. do that", planResult.TextContent)
}

func TestSubagentHandler_VerdictModeOverridesRoleDefault(t *testing.T) {
	reg := newStubRegistry()
	reg.responses["planner"] = []backend.Response{{Content: `{"score":0.5,"issues":["terse plan"],"suggestions":[]}`}}

	h := NewSubagentHandler(reg, rolesRoutedToOwnName())
	result, err := h.Run(context.Background(), SubagentRequest{Role: "planner", Task: "plan it", VerdictMode: true})
	require.NoError(t, err)
	require.NotNil(t, result.Verdict)
	assert.InDelta(t, 0.5, result.Verdict.Score, 1e-9)
}

func TestSubagentHandler_PrefersHealthyRecommendedBackend(t *testing.T) {
	reg := newStubRegistry()
	reg.healthy["secondary"] = true
	reg.responses["secondary"] = []backend.Response{{Content: "ok"}}

	roles := map[string]RoleTemplate{
		"reviewer": {
			Name:                "reviewer",
			SystemPrompt:        "review",
			RecommendedBackends: []string{"primary", "secondary"},
			MaxTokens:           500,
		},
	}
	h := NewSubagentHandler(reg, roles)
	result, err := h.Run(context.Background(), SubagentRequest{Role: "reviewer", Task: "x"})
	require.NoError(t, err)
	assert.Equal(t, "secondary", result.BackendUsed)
}

func TestSubagentHandler_SurfacesBackendFailureAsUnsuccessful(t *testing.T) {
	reg := newStubRegistry()
	reg.errs["planner"] = []error{assertErr("all backends down")}

	h := NewSubagentHandler(reg, rolesRoutedToOwnName())
	result, err := h.Run(context.Background(), SubagentRequest{Role: "planner", Task: "x"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
}
