package patterns

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity_IsSymmetric(t *testing.T) {
	a := termFrequencies(tokenize("retry with exponential backoff and jitter"))
	b := termFrequencies(tokenize("exponential backoff jitter retry strategy"))

	assert.True(t, math.Abs(cosineSimilarity(a, b)-cosineSimilarity(b, a)) < 1e-9)
}

func TestStore_AddAndSearch(t *testing.T) {
	s := NewStore()
	s.Add("use exponential backoff with jitter for retries", "retry pattern", "resilience", []string{"retry"})
	s.Add("circuit breakers should open after consecutive failures", "breaker pattern", "resilience", []string{"breaker"})

	hits := s.Search("exponential backoff retry jitter", SearchOptions{Limit: 5})
	require.NotEmpty(t, hits)
	assert.Equal(t, "retry pattern", hits[0].Description)
}

func TestStore_SearchFiltersByCategory(t *testing.T) {
	s := NewStore()
	s.Add("retry logic", "retry", "resilience", nil)
	s.Add("retry in a different domain", "retry", "other", nil)

	hits := s.Search("retry", SearchOptions{Limit: 10, Category: "other", MinSimilarity: 0})
	for _, h := range hits {
		assert.Equal(t, "other", h.Category)
	}
}

func TestStore_PersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patterns.json")

	s := NewStore()
	s.Add("retry logic with backoff", "retry", "resilience", []string{"retry"})
	require.NoError(t, s.SaveToFile(path))

	reloaded := NewStore()
	require.NoError(t, reloaded.LoadFromFile(path))
	assert.Equal(t, s.Len(), reloaded.Len())

	require.NoError(t, reloaded.SaveToFile(path))
	again := NewStore()
	require.NoError(t, again.LoadFromFile(path))
	assert.Equal(t, reloaded.Len(), again.Len())
}

func TestStore_DecayRemovesOldRecords(t *testing.T) {
	s := NewStore()
	s.maxAgeDays = 0
	s.Add("stale content", "stale", "general", nil)
	require.Equal(t, 1, s.Len())

	s.ApplyDecay()
	assert.Equal(t, 0, s.Len(), "records past max_age_days must be evicted")
}
