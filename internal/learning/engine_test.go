package learning

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_EMAConfidenceStaysClamped(t *testing.T) {
	e := NewEngine(nil, nil)
	for i := 0; i < 50; i++ {
		e.RecordOutcome(Outcome{Backend: "A", Complexity: ComplexitySimple, TaskType: TaskCode, Success: i%3 != 0})
		m := e.Metrics("A")
		require.NotNil(t, m)
		assert.GreaterOrEqual(t, m.Confidence, 0.0)
		assert.LessOrEqual(t, m.Confidence, 1.0)
	}
}

func TestEngine_EMAUpdateMatchesFormula(t *testing.T) {
	e := NewEngine(nil, nil)
	e.RecordOutcome(Outcome{Backend: "A", Complexity: ComplexitySimple, TaskType: TaskCode, Success: true})
	before := e.Metrics("A").Confidence

	e.RecordOutcome(Outcome{Backend: "A", Complexity: ComplexitySimple, TaskType: TaskCode, Success: false})
	after := e.Metrics("A").Confidence

	expected := emaAlpha*0.0 + (1-emaAlpha)*before
	assert.True(t, math.Abs(after-expected) <= 1e-9, "expected %f, got %f", expected, after)
}

func TestEngine_RecommendationRequiresMinimumSamplesAndCalls(t *testing.T) {
	e := NewEngine(nil, nil)
	for i := 0; i < 4; i++ {
		e.RecordOutcome(Outcome{Backend: "A", Complexity: ComplexityModerate, TaskType: TaskAnalysis, Success: true})
	}
	assert.Nil(t, e.GetRecommendation(ComplexityModerate, TaskAnalysis), "fewer than min_samples total must yield no recommendation")

	e.RecordOutcome(Outcome{Backend: "A", Complexity: ComplexityModerate, TaskType: TaskAnalysis, Success: true})
	rec := e.GetRecommendation(ComplexityModerate, TaskAnalysis)
	require.NotNil(t, rec)
	assert.Equal(t, "A", rec.Backend)
}

func TestEngine_RecommendationNeedsThreeCallsPerBackend(t *testing.T) {
	e := NewEngine(nil, nil)
	e.RecordOutcome(Outcome{Backend: "A", Complexity: ComplexitySimple, TaskType: TaskGeneral, Success: true})
	e.RecordOutcome(Outcome{Backend: "B", Complexity: ComplexitySimple, TaskType: TaskGeneral, Success: true})
	e.RecordOutcome(Outcome{Backend: "B", Complexity: ComplexitySimple, TaskType: TaskGeneral, Success: true})
	e.RecordOutcome(Outcome{Backend: "B", Complexity: ComplexitySimple, TaskType: TaskGeneral, Success: true})
	e.RecordOutcome(Outcome{Backend: "B", Complexity: ComplexitySimple, TaskType: TaskGeneral, Success: true})

	rec := e.GetRecommendation(ComplexitySimple, TaskGeneral)
	require.NotNil(t, rec)
	assert.Equal(t, "B", rec.Backend, "A has fewer than 3 calls and must not be recommended")
}

func TestEngine_PersistenceRoundTripIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "learning-state.json"))

	e := NewEngine(store, nil)
	for i := 0; i < 10; i++ {
		e.RecordOutcome(Outcome{Backend: "A", Complexity: ComplexitySimple, TaskType: TaskCode, Success: true})
	}
	e.Flush()

	first, err := store.Load()
	require.NoError(t, err)

	reloaded := NewEngine(store, nil)
	reloaded.Flush()

	second, err := store.Load()
	require.NoError(t, err)

	assert.Equal(t, first.BackendMetrics["A"].Confidence, second.BackendMetrics["A"].Confidence)
	assert.Equal(t, first.TaskPatterns, second.TaskPatterns)
}

// Reset is an explicit admin operation: it must wipe every in-memory
// bucket and persist the empty snapshot, not just clear state
// transiently.
func TestEngine_ResetClearsStateAndPersists(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "learning-state.json"))
	e := NewEngine(store, nil)

	for i := 0; i < 10; i++ {
		e.RecordOutcome(Outcome{Backend: "A", Complexity: ComplexitySimple, TaskType: TaskCode, Success: true})
	}
	require.NotNil(t, e.Metrics("A"))
	require.NotNil(t, e.GetRecommendation(ComplexitySimple, TaskCode))

	e.Reset()

	assert.Nil(t, e.Metrics("A"))
	assert.Nil(t, e.GetRecommendation(ComplexitySimple, TaskCode))

	snap, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, snap.BackendMetrics)
	assert.Empty(t, snap.TaskPatterns)
}
