package workflow

import (
	"encoding/json"
	"fmt"
	"strings"
)

type rawSubtask struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// parseSubtaskList extracts a JSON array of {id, description} from the
// decomposer's response. On parse failure, falls back to one subtask
// per non-empty line.
func parseSubtaskList(text string) []Subtask {
	if arr := firstJSONArray(text); arr != "" {
		var raw []rawSubtask
		if err := json.Unmarshal([]byte(arr), &raw); err == nil && len(raw) > 0 {
			out := make([]Subtask, len(raw))
			for i, r := range raw {
				id := r.ID
				if id == "" {
					id = fmt.Sprintf("task-%d", i+1)
				}
				out[i] = Subtask{ID: id, Description: r.Description}
			}
			return out
		}
	}

	var out []Subtask
	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-*0123456789. "))
		if line == "" {
			continue
		}
		out = append(out, Subtask{ID: fmt.Sprintf("task-%d", i+1), Description: line})
	}
	return out
}

func firstJSONArray(s string) string {
	start := strings.IndexByte(s, '[')
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
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
