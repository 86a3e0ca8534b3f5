package config

import "github.com/arcway/mcpmux/internal/workflow"

// TopicMap implements workflow.TopicResolver over a static topic ->
// backend-candidates table loaded from topics.yaml (or left empty, in
// which case CandidatesForTopic always returns nil and CouncilHandler
// falls back to its global backend list).
type TopicMap map[workflow.Topic][]string

func (m TopicMap) CandidatesForTopic(t workflow.Topic) []string {
	return m[t]
}
