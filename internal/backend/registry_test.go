package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcway/mcpmux/internal/apperrors"
)

// stubAdapter lets tests script a fixed sequence of Call outcomes without
// any network I/O.
type stubAdapter struct {
	desc    Descriptor
	calls   int
	results []Response
	errs    []error
}

func (s *stubAdapter) Name() string { return s.desc.Name }
func (s *stubAdapter) Descriptor() Descriptor { return s.desc }
func (s *stubAdapter) Probe(ctx context.Context) ProbeResult {
	return ProbeResult{Healthy: true}
}

func (s *stubAdapter) Call(ctx context.Context, r Request) (Response, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return Response{}, s.errs[i]
	}
	if i < len(s.results) {
		return s.results[i], nil
	}
	return Response{Content: "ok"}, nil
}

func newTestDescriptor(name string, priority int) Descriptor {
	return Descriptor{
		Name:             name,
		Kind:             KindLocal,
		EndpointURL:      "http://stub.invalid",
		Priority:         priority,
		MaxTokensCap:     4096,
		DefaultTimeoutMS: 5000,
	}
}

// Happy-path single request against a stub that always succeeds.
func TestRegistry_HappyPathRequest(t *testing.T) {
	reg := NewRegistry(nil)
	desc := newTestDescriptor("local", 0)
	require.NoError(t, reg.RegisterAdapter(desc, &stubAdapter{desc: desc, results: []Response{{Content: "hi"}}}))

	resp, err := reg.Request(context.Background(), "local", Request{Prompt: "echo hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Content)
}

// Single fallback: A fails with ErrTransport, B succeeds.
func TestRegistry_SingleFallback(t *testing.T) {
	reg := NewRegistry(nil)
	descA := newTestDescriptor("A", 0)
	descB := newTestDescriptor("B", 1)
	descC := newTestDescriptor("C", 2)

	require.NoError(t, reg.RegisterAdapter(descA, &stubAdapter{desc: descA, errs: []error{
		&apperrors.BackendError{Backend: "A", Op: "call", Err: apperrors.ErrTransport},
	}}))
	require.NoError(t, reg.RegisterAdapter(descB, &stubAdapter{desc: descB, results: []Response{{Content: "ok"}}}))
	require.NoError(t, reg.RegisterAdapter(descC, &stubAdapter{desc: descC, results: []Response{{Content: "ok"}}}))

	result, err := reg.RequestWithFallback(context.Background(), "A", Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "B", result.UsedBackend)
	assert.Equal(t, []string{"A", "B"}, result.FallbackChain)

	breakerA, _ := reg.Breaker("A")
	breakerB, _ := reg.Breaker("B")
	assert.Equal(t, 1, breakerA.Failures())
	assert.Equal(t, 0, breakerB.Failures())
}

// The breaker opens and blocks; adapter.Call is never invoked while open.
func TestRegistry_BreakerOpensAndBlocks(t *testing.T) {
	reg := NewRegistry(nil)
	desc := newTestDescriptor("A", 0)
	stub := &stubAdapter{desc: desc}
	for i := 0; i < 5; i++ {
		stub.errs = append(stub.errs, &apperrors.BackendError{Backend: "A", Op: "call", Err: apperrors.ErrTransport})
	}
	require.NoError(t, reg.RegisterAdapter(desc, stub))

	for i := 0; i < 5; i++ {
		_, err := reg.Request(context.Background(), "A", Request{Prompt: "x"})
		require.Error(t, err)
	}

	breaker, _ := reg.Breaker("A")
	require.Equal(t, CircuitOpen, breaker.State())

	callsBefore := stub.calls
	_, err := reg.Request(context.Background(), "A", Request{Prompt: "x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err.(*apperrors.BackendError).Unwrap(), apperrors.ErrCircuitOpen))
	assert.Equal(t, callsBefore, stub.calls, "adapter.Call must not be invoked while the breaker is open")
}

func TestRegistry_AllFallbackCandidatesFail(t *testing.T) {
	reg := NewRegistry(nil)
	descA := newTestDescriptor("A", 0)
	descB := newTestDescriptor("B", 1)
	transportErr := func(name string) error {
		return &apperrors.BackendError{Backend: name, Op: "call", Err: apperrors.ErrTransport}
	}
	require.NoError(t, reg.RegisterAdapter(descA, &stubAdapter{desc: descA, errs: []error{transportErr("A")}}))
	require.NoError(t, reg.RegisterAdapter(descB, &stubAdapter{desc: descB, errs: []error{transportErr("B")}}))

	result, err := reg.RequestWithFallback(context.Background(), "A", Request{Prompt: "x"})
	require.Error(t, err)
	assert.ElementsMatch(t, []string{"A", "B"}, result.FallbackChain)
}
