package router

import "github.com/arcway/mcpmux/internal/learning"

// Decision is the router's output for one request, attached to the
// eventual outcome reported back to the learning engine.
type Decision struct {
	Backend      string          `json:"backend"`
	Source       learning.Source `json:"source"`
	Confidence   float64         `json:"confidence"`
	ReasoningTag string          `json:"reasoning_tag"`
}
