package backend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/arcway/mcpmux/internal/apperrors"
	"github.com/arcway/mcpmux/internal/logging"
	"github.com/arcway/mcpmux/internal/telemetry"
)

type registryEntry struct {
	descriptor Descriptor
	adapter    Adapter
	state      *State
	breaker    *CircuitBreaker
}

// Registry is the single entry point for issuing calls to backends: it
// owns every adapter, its circuit breaker, and its health state, and
// implements the fallback-chain walk across registered backends.
type Registry struct {
	mu          sync.RWMutex
	entries     map[string]*registryEntry
	fallback    []string // global chain, ascending priority, built once at load
	log         logging.Logger
}

// NewRegistry builds an empty registry; call Register for each configured
// descriptor before serving traffic.
func NewRegistry(log logging.Logger) *Registry {
	if log == nil {
		log = logging.NoOpLogger{}
	}
	return &Registry{entries: make(map[string]*registryEntry), log: log}
}

// Register adds one backend, building its adapter via NewAdapter.
func (r *Registry) Register(desc Descriptor) error {
	if err := desc.Validate(); err != nil {
		return err
	}
	adapter, err := NewAdapter(desc)
	if err != nil {
		return err
	}
	return r.RegisterAdapter(desc, adapter)
}

// RegisterAdapter adds one backend with a caller-supplied adapter,
// bypassing the Kind-based factory. Used by tests to inject stubs.
func (r *Registry) RegisterAdapter(desc Descriptor, adapter Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[desc.Name]; exists {
		return fmt.Errorf("backend %q already registered", desc.Name)
	}
	breaker := NewCircuitBreaker(5, 30*time.Second)
	entry := &registryEntry{
		descriptor: desc,
		adapter:    adapter,
		state:      NewState(),
		breaker:    breaker,
	}
	name := desc.Name
	breaker.OnTransition(func(from, to CircuitState) {
		telemetry.Counter(context.Background(), "mcpmux.circuit_breaker.transition", "backend", name, "from", string(from), "to", string(to))
		r.log.Info("circuit breaker transition", map[string]interface{}{"backend": name, "from": string(from), "to": string(to)})
		if to == CircuitClosed {
			// A half_open probe succeeding is itself evidence of liveness,
			// independent of the next scheduled health probe.
			entry.state.SetHealth(HealthHealthy)
		}
	})

	r.entries[desc.Name] = entry
	r.rebuildFallbackLocked()
	return nil
}

// rebuildFallbackLocked recomputes the global chain in ascending priority
// order. Must be called with r.mu held for write.
func (r *Registry) rebuildFallbackLocked() {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return r.entries[names[i]].descriptor.Priority < r.entries[names[j]].descriptor.Priority
	})
	r.fallback = names
}

// Names returns every registered backend name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.fallback))
	copy(out, r.fallback)
	return out
}

func (r *Registry) entry(name string) (*registryEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

func errBackendNotFound(name string) error {
	return &apperrors.BackendError{Backend: name, Op: "lookup", Err: fmt.Errorf("backend %q is not registered", name)}
}

// Request issues one call to a single named backend, honoring its circuit
// breaker and timeout, with no fallback.
func (r *Registry) Request(ctx context.Context, name string, req Request) (Response, error) {
	entry, ok := r.entry(name)
	if !ok {
		return Response{}, errBackendNotFound(name)
	}

	now := time.Now()
	if !entry.breaker.Allow(now) {
		return Response{}, &apperrors.BackendError{Backend: name, Op: "request", Err: apperrors.ErrCircuitOpen}
	}

	timeout := CallTimeout(entry.descriptor.DefaultTimeoutMS)
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	spanCtx, span := telemetry.StartSpan(callCtx, "backend.call")
	start := time.Now()
	entry.state.IncInFlight(1)
	resp, err := entry.adapter.Call(spanCtx, req)
	entry.state.IncInFlight(-1)
	telemetry.Duration(callCtx, "mcpmux.backend.call.duration_ms", start, "backend", name)
	span.End()

	if err != nil {
		telemetry.Counter(callCtx, "mcpmux.backend.call.failure", "backend", name)
		if apperrors.CountsAsFailure(err) {
			entry.breaker.RecordFailure(time.Now())
			if isAuthError(err) {
				entry.state.MarkDegraded()
			}
		}
		return Response{}, err
	}

	telemetry.Counter(callCtx, "mcpmux.backend.call.success", "backend", name)
	entry.breaker.RecordSuccess()
	return resp, nil
}

func isAuthError(err error) bool {
	return errors.Is(err, apperrors.ErrAuth)
}

// FallbackResult reports which backends were tried, in order, and which
// one ultimately succeeded.
type FallbackResult struct {
	Response      Response
	UsedBackend   string
	FallbackChain []string
}

// RequestWithFallback tries preferred first, then walks the registry's
// global fallback chain in priority order, skipping backends whose
// breaker is open or whose last known health is unhealthy.
func (r *Registry) RequestWithFallback(ctx context.Context, preferred string, req Request) (FallbackResult, error) {
	order := r.candidateOrder(preferred)
	if len(order) == 0 {
		return FallbackResult{}, errBackendNotFound(preferred)
	}

	tried := make([]string, 0, len(order))
	var lastErr error
	for _, name := range order {
		entry, ok := r.entry(name)
		if !ok {
			continue
		}
		if name != preferred {
			if entry.breaker.State() == CircuitOpen {
				continue
			}
			if entry.state.Health() == HealthUnhealthy {
				continue
			}
		}

		tried = append(tried, name)
		resp, err := r.Request(ctx, name, req)
		if err == nil {
			return FallbackResult{Response: resp, UsedBackend: name, FallbackChain: tried}, nil
		}
		lastErr = err
		if !apperrors.IsRetryableInFallback(err) {
			break
		}
	}

	if lastErr == nil {
		lastErr = apperrors.ErrNoHealthyBackend
	}
	return FallbackResult{FallbackChain: tried}, fmt.Errorf("all backends in fallback chain failed, last error: %w", lastErr)
}

// candidateOrder puts preferred first (if it exists), then the global
// chain minus preferred, preserving chain order. preferred is not
// re-inserted into the chain on failure; it is simply tried first.
func (r *Registry) candidateOrder(preferred string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order := make([]string, 0, len(r.fallback)+1)
	if _, ok := r.entries[preferred]; ok {
		order = append(order, preferred)
	}
	for _, name := range r.fallback {
		if name == preferred {
			continue
		}
		order = append(order, name)
	}
	return order
}

// HealthSnapshot is the read-only projection returned by CheckHealth.
type HealthSnapshot struct {
	Healthy   bool    `json:"healthy"`
	LatencyMS float64 `json:"latency_ms"`
	Detail    string  `json:"detail,omitempty"`
}

// CheckHealth returns a snapshot of BackendState for every registered
// backend, optionally running on-demand probes in parallel (served from
// the monitor's 5-minute cache when a fresh entry exists) with a 3s global
// deadline when monitor is non-nil and probe is true.
func (r *Registry) CheckHealth(ctx context.Context, monitor *HealthMonitor, probe bool) map[string]HealthSnapshot {
	names := r.Names()
	out := make(map[string]HealthSnapshot, len(names))

	if !probe || monitor == nil {
		for _, name := range names {
			entry, _ := r.entry(name)
			health, _, _, avgLatency, _ := entry.state.Snapshot()
			out[name] = HealthSnapshot{Healthy: health == HealthHealthy, LatencyMS: avgLatency}
		}
		return out
	}

	deadline, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	type result struct {
		name string
		snap HealthSnapshot
	}
	resultsCh := make(chan result, len(names))
	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					resultsCh <- result{name: name, snap: HealthSnapshot{Healthy: false, Detail: fmt.Sprintf("panic: %v", rec)}}
				}
			}()
			pr, err := monitor.Probe(deadline, r, name, false)
			if err != nil {
				resultsCh <- result{name: name, snap: HealthSnapshot{Healthy: false, Detail: err.Error()}}
				return
			}
			resultsCh <- result{name: name, snap: HealthSnapshot{Healthy: pr.Healthy, LatencyMS: float64(pr.LatencyMS), Detail: pr.Detail}}
		}(name)
	}
	wg.Wait()
	close(resultsCh)
	for res := range resultsCh {
		out[res.name] = res.snap
	}
	return out
}

// IsHealthy reports whether the router may consider this backend: its
// breaker must not be open and its last known health must not be
// unhealthy. Used by the learning and rules tiers.
func (r *Registry) IsHealthy(name string) bool {
	entry, ok := r.entry(name)
	if !ok {
		return false
	}
	if entry.breaker.State() == CircuitOpen {
		return false
	}
	return entry.state.Health() != HealthUnhealthy
}

// FallbackChain returns the global ordered chain (alias of Names, named
// for the router's fallback tier).
func (r *Registry) FallbackChain() []string {
	return r.Names()
}

// Breaker exposes a backend's circuit breaker for diagnostics/tests.
func (r *Registry) Breaker(name string) (*CircuitBreaker, bool) {
	entry, ok := r.entry(name)
	if !ok {
		return nil, false
	}
	return entry.breaker, true
}

// State exposes a backend's mutable state for diagnostics/tests.
func (r *Registry) State(name string) (*State, bool) {
	entry, ok := r.entry(name)
	if !ok {
		return nil, false
	}
	return entry.state, true
}
