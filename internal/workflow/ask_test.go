package workflow

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcway/mcpmux/internal/backend"
	"github.com/arcway/mcpmux/internal/learning"
	"github.com/arcway/mcpmux/internal/router"
)

type recordingLearner struct {
	outcomes []learning.Outcome
}

func (l *recordingLearner) RecordOutcome(o learning.Outcome) { l.outcomes = append(l.outcomes, o) }

func TestAsk_ForcedModeSkipsFallbackChain(t *testing.T) {
	reg := newStubRegistry()
	reg.chain = []string{"primary", "secondary"}
	reg.healthy["primary"] = true
	reg.responses["anthropic_claude"] = []backend.Response{{Content: "forced answer.", TokensUsed: 10}}

	rt := router.New(reg, nil, router.RulesConfig{})
	learner := &recordingLearner{}
	h := NewAskHandler(reg, rt, learner)

	result, err := h.Run(context.Background(), AskRequest{Model: "anthropic_claude", Prompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "forced answer.", result.Content)
	assert.Equal(t, "anthropic_claude", result.BackendUsed)
	assert.Empty(t, result.FallbackChain)
	assert.Equal(t, learning.SourceForced, result.Routing.Source)

	require.Len(t, learner.outcomes, 1)
	assert.Equal(t, learning.SourceForced, learner.outcomes[0].Source)
	assert.True(t, learner.outcomes[0].Success)
}

func TestAsk_AutoModeUsesFallbackChainAndReportsActualSource(t *testing.T) {
	reg := newStubRegistry()
	reg.chain = []string{"primary", "secondary"}
	reg.healthy["primary"] = true
	reg.responses["primary"] = []backend.Response{{Content: "auto answer.", TokensUsed: 5}}

	rt := router.New(reg, nil, router.RulesConfig{})
	learner := &recordingLearner{}
	h := NewAskHandler(reg, rt, learner)

	result, err := h.Run(context.Background(), AskRequest{Model: "auto", Prompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "primary", result.BackendUsed)
	assert.Equal(t, learning.SourceFallback, result.Routing.Source)
	require.Len(t, learner.outcomes, 1)
	assert.Equal(t, learning.SourceFallback, learner.outcomes[0].Source)
}

func TestAsk_DetectsTruncationNearMaxTokens(t *testing.T) {
	reg := newStubRegistry()
	reg.chain = []string{"primary"}
	reg.healthy["primary"] = true
	reg.responses["primary"] = []backend.Response{{Content: strings.Repeat("word ", 50) + "still going", TokensUsed: 95}}

	rt := router.New(reg, nil, router.RulesConfig{})
	h := NewAskHandler(reg, rt, nil)

	result, err := h.Run(context.Background(), AskRequest{Model: "auto", Prompt: "x", MaxTokens: 100})
	require.NoError(t, err)
	assert.True(t, result.Truncated)
}

func TestAsk_ChunkingAppendsContinuationMarker(t *testing.T) {
	reg := newStubRegistry()
	reg.chain = []string{"primary"}
	reg.healthy["primary"] = true
	reg.responses["primary"] = []backend.Response{
		{Content: "partial response with no ending", TokensUsed: 95},
		{Content: "the rest of it."},
	}

	rt := router.New(reg, nil, router.RulesConfig{})
	h := NewAskHandler(reg, rt, nil)

	result, err := h.Run(context.Background(), AskRequest{Model: "auto", Prompt: "x", MaxTokens: 100, EnableChunking: true})
	require.NoError(t, err)
	assert.True(t, result.Truncated)
	assert.Contains(t, result.Content, "--- [continued] ---")
	assert.Contains(t, result.Content, "the rest of it.")
}

func TestAsk_PropagatesBackendFailure(t *testing.T) {
	reg := newStubRegistry()
	reg.chain = []string{"primary"}
	reg.healthy["primary"] = true
	reg.errs["primary"] = []error{assertErr("all backends unreachable")}

	rt := router.New(reg, nil, router.RulesConfig{})
	learner := &recordingLearner{}
	h := NewAskHandler(reg, rt, learner)

	_, err := h.Run(context.Background(), AskRequest{Model: "auto", Prompt: "x"})
	assert.Error(t, err)
	require.Len(t, learner.outcomes, 1)
	assert.False(t, learner.outcomes[0].Success)
}
