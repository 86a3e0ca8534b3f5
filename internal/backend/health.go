package backend

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arcway/mcpmux/internal/logging"
)

// cachedProbe is the on-demand probe cache entry, kept for 5 minutes
// unless the caller forces a fresh probe.
type cachedProbe struct {
	Result ProbeResult `json:"result"`
	At     time.Time   `json:"at"`
}

const onDemandTTL = 5 * time.Minute

// HealthMonitor runs periodic and on-demand probes and caches on-demand
// results. The cache is backed by Redis when REDIS_URL is configured
// (shared across processes); otherwise it falls back to an in-process
// map, matching core's redis-client-with-fallback pattern.
type HealthMonitor struct {
	log    logging.Logger
	redis  *redis.Client
	mgr    *ConcurrentRequestManager
	mu     sync.Mutex
	local  map[string]cachedProbe
	stopCh chan struct{}
}

// NewHealthMonitor builds a monitor. redisClient may be nil.
func NewHealthMonitor(redisClient *redis.Client, log logging.Logger) *HealthMonitor {
	if log == nil {
		log = logging.NoOpLogger{}
	}
	return &HealthMonitor{
		log:    log,
		redis:  redisClient,
		local:  make(map[string]cachedProbe),
		stopCh: make(chan struct{}),
	}
}

// WithManager gates probes through the process-wide concurrency manager
// at health priority, so a sweep never queues behind a burst of normal
// requests. Optional; returns the monitor for chaining.
func (h *HealthMonitor) WithManager(mgr *ConcurrentRequestManager) *HealthMonitor {
	h.mgr = mgr
	return h
}

// probeAdapter runs one adapter probe, through the manager when present.
func (h *HealthMonitor) probeAdapter(ctx context.Context, entry *registryEntry) ProbeResult {
	if h.mgr == nil {
		return entry.adapter.Probe(ctx)
	}
	var result ProbeResult
	if err := h.mgr.Submit(ctx, PriorityHealth, func(ctx context.Context) error {
		result = entry.adapter.Probe(ctx)
		return nil
	}); err != nil {
		return ProbeResult{Healthy: false, Detail: err.Error()}
	}
	return result
}

// StartPeriodic launches the 30s background probe loop over reg's
// adapters. It returns a stop function; callers invoke it at shutdown.
func (h *HealthMonitor) StartPeriodic(ctx context.Context, reg *Registry, interval time.Duration) func() {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				close(done)
				return
			case <-h.stopCh:
				close(done)
				return
			case <-ticker.C:
				h.sweepAll(ctx, reg)
			}
		}
	}()
	return func() {
		select {
		case <-h.stopCh:
		default:
			close(h.stopCh)
		}
		<-done
	}
}

func (h *HealthMonitor) sweepAll(ctx context.Context, reg *Registry) {
	for _, name := range reg.Names() {
		entry, ok := reg.entry(name)
		if !ok {
			continue
		}
		result := h.probeAdapter(ctx, entry)
		entry.state.RecordProbe(result.Healthy, result.LatencyMS, time.Now())
		if result.Healthy {
			entry.breaker.Allow(time.Now())
		}
		h.log.Debug("health probe", map[string]interface{}{"backend": name, "healthy": result.Healthy})
	}
}

// Probe runs (or returns a cached) on-demand probe for one backend.
func (h *HealthMonitor) Probe(ctx context.Context, reg *Registry, name string, force bool) (ProbeResult, error) {
	if !force {
		if cached, ok := h.getCached(ctx, name); ok {
			return cached.Result, nil
		}
	}

	entry, ok := reg.entry(name)
	if !ok {
		return ProbeResult{}, errBackendNotFound(name)
	}
	result := h.probeAdapter(ctx, entry)
	entry.state.RecordProbe(result.Healthy, result.LatencyMS, time.Now())
	h.setCached(ctx, name, cachedProbe{Result: result, At: time.Now()})
	return result, nil
}

func (h *HealthMonitor) getCached(ctx context.Context, name string) (cachedProbe, bool) {
	if h.redis != nil {
		raw, err := h.redis.Get(ctx, redisHealthKey(name)).Bytes()
		if err == nil {
			var cp cachedProbe
			if json.Unmarshal(raw, &cp) == nil && time.Since(cp.At) < onDemandTTL {
				return cp, true
			}
		}
		return cachedProbe{}, false
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	cp, ok := h.local[name]
	if !ok || time.Since(cp.At) >= onDemandTTL {
		return cachedProbe{}, false
	}
	return cp, true
}

func (h *HealthMonitor) setCached(ctx context.Context, name string, cp cachedProbe) {
	if h.redis != nil {
		if raw, err := json.Marshal(cp); err == nil {
			h.redis.Set(ctx, redisHealthKey(name), raw, onDemandTTL)
		}
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.local[name] = cp
}

func redisHealthKey(name string) string {
	return "mcpmux:health:" + name
}
