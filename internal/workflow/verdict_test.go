package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVerdict_ExtractsEmbeddedJSON(t *testing.T) {
	text := "Here is my review:\n\n{\"score\": 0.82, \"issues\": [\"naming\"], \"suggestions\": [\"rename x\"], \"summary\": \"solid\"}\n\nThanks."
	v := ParseVerdict(text)

	assert.InDelta(t, 0.82, v.Score, 1e-9)
	assert.Equal(t, []string{"naming"}, v.Issues)
	assert.False(t, v.VerdictParseFailed)
}

func TestParseVerdict_ClampsScoreOutOfRange(t *testing.T) {
	v := ParseVerdict(`{"score": 7.5, "issues": [], "suggestions": []}`)
	assert.Equal(t, 1.0, v.Score)

	v = ParseVerdict(`{"score": -2, "issues": [], "suggestions": []}`)
	assert.Equal(t, 0.0, v.Score)
}

func TestParseVerdict_HeuristicFallback(t *testing.T) {
	v := ParseVerdict("The code looks great, clean and correct.")
	assert.True(t, v.VerdictParseFailed)
	assert.InDelta(t, 0.8, v.Score, 1e-9)
	require.NotEmpty(t, v.Issues)

	v = ParseVerdict("There is a bug and a missing nil check.")
	assert.True(t, v.VerdictParseFailed)
	assert.InDelta(t, 0.4, v.Score, 1e-9)

	v = ParseVerdict("Hard to say either way.")
	assert.True(t, v.VerdictParseFailed)
	assert.InDelta(t, 0.6, v.Score, 1e-9)
}

func TestParseVerdict_BracesInsideStringsDoNotConfuseExtraction(t *testing.T) {
	v := ParseVerdict(`{"score": 0.5, "issues": ["found '}' in output"], "suggestions": [], "summary": "ok"}`)
	assert.False(t, v.VerdictParseFailed)
	assert.InDelta(t, 0.5, v.Score, 1e-9)
}

func TestParseSubtaskList_JSONAndLineFallback(t *testing.T) {
	got := parseSubtaskList(`Sure: [{"id":"a","description":"first"},{"description":"second"}]`)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "task-2", got[1].ID, "missing ids must be filled positionally")

	got = parseSubtaskList("1. write the parser\n2. write the printer\n")
	require.Len(t, got, 2)
	assert.Equal(t, "write the parser", got[0].Description)
}
