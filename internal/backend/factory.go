package backend

import "fmt"

// NewAdapter dispatches on Kind to build the right wire-protocol adapter.
// local/openai_compatible/nvidia/groq all share the chat/completions shape.
func NewAdapter(desc Descriptor) (Adapter, error) {
	switch desc.Kind {
	case KindLocal, KindOpenAICompatible, KindNvidia, KindGroq:
		return NewOpenAICompatibleAdapter(desc), nil
	case KindGemini:
		return NewGeminiAdapter(desc), nil
	case KindAnthropic:
		return NewAnthropicAdapter(desc), nil
	default:
		return nil, fmt.Errorf("backend %q: no adapter for kind %q", desc.Name, desc.Kind)
	}
}
