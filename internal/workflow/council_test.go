package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcway/mcpmux/internal/backend"
)

type fixedTopicResolver struct{ names []string }

func (f fixedTopicResolver) CandidatesForTopic(t Topic) []string { return f.names }

// Two of three responses share "strategy X", the third diverges; 1/3
// pairs overlap highly, so the council reports divergent agreement but
// still recommends proceeding since every backend answered.
func TestCouncil_ThreeResponsesDivergentAgreementStillProceeds(t *testing.T) {
	reg := newStubRegistry()
	reg.healthy = map[string]bool{"A": true, "B": true, "C": true}
	reg.responses["A"] = []backend.Response{{Content: "use strategy X because P Q"}}
	reg.responses["B"] = []backend.Response{{Content: "strategy X is best for P"}}
	reg.responses["C"] = []backend.Response{{Content: "avoid X, prefer Y"}}

	h := NewCouncilHandler(reg, fixedTopicResolver{names: []string{"A", "B", "C"}})
	result, err := h.Run(context.Background(), CouncilRequest{Prompt: "pick a strategy", NumBackends: 3})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Synthesis.BackendsSucceeded)
	assert.Equal(t, AgreementDivergent, result.Synthesis.AgreementLevel)
	assert.Equal(t, RecommendProceed, result.Synthesis.Recommendation, "3/3 succeeded >= ceil(0.6*3)=2")
}

func TestCouncil_RequiresAtLeastTwoBackends(t *testing.T) {
	reg := newStubRegistry()
	reg.healthy = map[string]bool{"A": true}

	h := NewCouncilHandler(reg, fixedTopicResolver{names: []string{"A"}})
	_, err := h.Run(context.Background(), CouncilRequest{Prompt: "x", NumBackends: 2})
	assert.Error(t, err)
}

func TestCouncil_SuccessIffAtLeastOneBackendSucceeds(t *testing.T) {
	reg := newStubRegistry()
	reg.healthy = map[string]bool{"A": true, "B": true}
	reg.responses["A"] = []backend.Response{{Content: "ok response here"}}
	reg.errs["B"] = []error{assertErr("boom")}

	h := NewCouncilHandler(reg, fixedTopicResolver{names: []string{"A", "B"}})
	result, err := h.Run(context.Background(), CouncilRequest{Prompt: "x", NumBackends: 2})
	require.NoError(t, err)
	assert.Len(t, result.Responses, 1)
	assert.Len(t, result.Failed, 1)
}

type assertErrT string

func (e assertErrT) Error() string { return string(e) }
func assertErr(s string) error { return assertErrT(s) }
