// Package workflow implements the five tool handlers layered on top of
// the router and registry: ask, council, dual_iterate, parallel_agents,
// and spawn_subagent, plus the lenient JSON-verdict parsing shared by the
// review-style roles.
package workflow

import (
	"encoding/json"
	"strings"
)

// Verdict is the structured judgment a reviewer-style role emits.
type Verdict struct {
	Score              float64  `json:"score"`
	Issues             []string `json:"issues"`
	Suggestions        []string `json:"suggestions"`
	Summary            string   `json:"summary"`
	VerdictParseFailed bool     `json:"verdict_parse_failed"`
}

var positiveKeywords = []string{"good", "well", "solid", "clean", "correct", "looks great", "passes", "no issues"}
var negativeKeywords = []string{"bug", "issue", "problem", "fail", "incorrect", "missing", "broken", "vulnerable"}

// ParseVerdict extracts the first `{...}` JSON object from text and
// decodes it as a Verdict, clamping score to [0,1]. On parse failure it
// falls back to a heuristic score from keyword presence and marks
// VerdictParseFailed.
func ParseVerdict(text string) Verdict {
	if obj := firstJSONObject(text); obj != "" {
		var v Verdict
		if err := json.Unmarshal([]byte(obj), &v); err == nil {
			v.Score = clamp01(v.Score)
			return v
		}
	}
	return heuristicVerdict(text)
}

func heuristicVerdict(text string) Verdict {
	lower := strings.ToLower(text)
	hasPositive := containsAny(lower, positiveKeywords)
	hasNegative := containsAny(lower, negativeKeywords)

	score := 0.6
	switch {
	case hasPositive && !hasNegative:
		score = 0.8
	case hasNegative && !hasPositive:
		score = 0.4
	}
	return Verdict{
		Score:             score,
		Issues:            []string{"Could not parse structured review"},
		VerdictParseFailed: true,
	}
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// firstJSONObject finds the first balanced {...} substring, tolerant of
// nested braces and quoted strings containing braces.
func firstJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
