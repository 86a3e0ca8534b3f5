package workflow

import (
	"context"
	"errors"
	"sync"

	"github.com/arcway/mcpmux/internal/backend"
)

// stubRegistry is a scriptable Registry for workflow tests: each backend
// name maps to a queue of canned responses/errors consumed in order.
type stubRegistry struct {
	mu        sync.Mutex
	healthy   map[string]bool
	chain     []string
	responses map[string][]backend.Response
	errs      map[string][]error
	calls     map[string]int
}

func newStubRegistry() *stubRegistry {
	return &stubRegistry{
		healthy:   make(map[string]bool),
		responses: make(map[string][]backend.Response),
		errs:      make(map[string][]error),
		calls:     make(map[string]int),
	}
}

func (s *stubRegistry) IsHealthy(name string) bool { return s.healthy[name] }
func (s *stubRegistry) FallbackChain() []string { return s.chain }

func (s *stubRegistry) next(name string) (backend.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls[name]
	s.calls[name]++
	if errs := s.errs[name]; i < len(errs) && errs[i] != nil {
		return backend.Response{}, errs[i]
	}
	if resps := s.responses[name]; i < len(resps) {
		return resps[i], nil
	}
	if resps := s.responses[name]; len(resps) > 0 {
		return resps[len(resps)-1], nil
	}
	return backend.Response{}, errors.New("stub: no response configured for " + name)
}

func (s *stubRegistry) Request(ctx context.Context, name string, req backend.Request) (backend.Response, error) {
	return s.next(name)
}

func (s *stubRegistry) RequestWithFallback(ctx context.Context, preferred string, req backend.Request) (backend.FallbackResult, error) {
	resp, err := s.next(preferred)
	if err != nil {
		return backend.FallbackResult{FallbackChain: []string{preferred}}, err
	}
	return backend.FallbackResult{Response: resp, UsedBackend: preferred, FallbackChain: []string{preferred}}, nil
}
