package learning

import (
	"sync"
	"time"

	"github.com/arcway/mcpmux/internal/logging"
)

const (
	emaAlpha                = 0.2
	defaultMinSamples       = 5
	defaultConfidenceThresh = 0.6
	historyCap              = 1000
	historyEvictBatch       = 500
	recommendationMinCalls  = 3
	trendWindow             = 20
)

type historyEntry struct {
	Outcome Outcome
	At      time.Time
}

// Engine is the single process-wide, mutex-guarded learning store.
// Every outcome arriving from parallel council/agents fan-outs is
// recorded exactly once under the same lock that guards persistence.
type Engine struct {
	mu sync.Mutex

	log logging.Logger

	metrics  map[string]*BackendMetrics
	patterns map[string]*Pattern
	history  []historyEntry

	minSamples       int
	confidenceThresh float64

	saveEveryN int
	sinceSave  int
	store      Store
}

// Store persists and restores the engine's snapshot. Implemented by
// FileStore (temp-file-plus-rename JSON).
type Store interface {
	Load() (*Snapshot, error)
	Save(*Snapshot) error
}

// NewEngine builds an engine, loading any prior snapshot from store.
func NewEngine(store Store, log logging.Logger) *Engine {
	if log == nil {
		log = logging.NoOpLogger{}
	}
	e := &Engine{
		log:              log,
		metrics:          make(map[string]*BackendMetrics),
		patterns:         make(map[string]*Pattern),
		minSamples:       defaultMinSamples,
		confidenceThresh: defaultConfidenceThresh,
		saveEveryN:       10,
		store:            store,
	}
	if store != nil {
		if snap, err := store.Load(); err == nil && snap != nil {
			e.restore(snap)
		} else if err != nil {
			log.Warn("learning engine: snapshot load failed, starting empty", map[string]interface{}{"error": err.Error()})
		}
	}
	return e
}

// RecordOutcome folds one routing outcome into EMA confidence, the
// pattern bucket, and the rolling history, and saves a snapshot every
// Nth call. The save runs synchronously while the engine lock is held,
// so a slow disk delays this call and any concurrent GetRecommendation.
// Never returns an error: persistence failures are logged and ignored.
func (e *Engine) RecordOutcome(o Outcome) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m := e.metrics[o.Backend]
	if m == nil {
		m = &BackendMetrics{Confidence: 0.5, Buckets: make(map[string]*BucketCount)}
		e.metrics[o.Backend] = m
	}
	if m.Buckets == nil {
		// A snapshot restored from disk may omit the buckets map.
		m.Buckets = make(map[string]*BucketCount)
	}
	observed := 0.0
	if o.Success {
		observed = 1.0
	}
	m.Confidence = clamp01(emaAlpha*observed + (1-emaAlpha)*m.Confidence)
	m.TotalCalls++
	if o.Success {
		m.SuccessfulCalls++
	}
	bk := patternKey(o.Complexity, o.TaskType)
	bucket := m.Buckets[bk]
	if bucket == nil {
		bucket = &BucketCount{}
		m.Buckets[bk] = bucket
	}
	bucket.Calls++
	if o.Success {
		bucket.Successful++
	}

	pat := e.patterns[bk]
	if pat == nil {
		pat = &Pattern{PerBackend: make(map[string]*PerBackendPattern)}
		e.patterns[bk] = pat
	}
	if pat.PerBackend == nil {
		pat.PerBackend = make(map[string]*PerBackendPattern)
	}
	pp := pat.PerBackend[o.Backend]
	if pp == nil {
		pp = &PerBackendPattern{}
		pat.PerBackend[o.Backend] = pp
	}
	pp.Calls++
	if o.Success {
		pp.SuccessSum++
	}
	pat.TotalSamples++

	e.history = append(e.history, historyEntry{Outcome: o, At: time.Now()})
	if len(e.history) > historyCap {
		e.history = e.history[historyEvictBatch:]
	}

	e.recomputeTrendLocked(o.Backend)

	e.sinceSave++
	if e.sinceSave >= e.saveEveryN {
		e.sinceSave = 0
		e.persistLocked()
	}
}

// recomputeTrendLocked compares a recent window average against an older
// window average of the backend's success indicator in history.
func (e *Engine) recomputeTrendLocked(backend string) {
	m := e.metrics[backend]
	if m == nil {
		return
	}
	var recent, older []float64
	for i := len(e.history) - 1; i >= 0 && len(recent)+len(older) < 2*trendWindow; i-- {
		entry := e.history[i]
		if entry.Outcome.Backend != backend {
			continue
		}
		v := 0.0
		if entry.Outcome.Success {
			v = 1.0
		}
		if len(recent) < trendWindow {
			recent = append(recent, v)
		} else {
			older = append(older, v)
		}
	}
	if len(recent) < 3 || len(older) < 3 {
		m.Trend = TrendStable
		return
	}
	recentAvg := average(recent)
	olderAvg := average(older)
	switch {
	case recentAvg-olderAvg > 0.1:
		m.Trend = TrendImproving
	case olderAvg-recentAvg > 0.1:
		m.Trend = TrendDegrading
	default:
		m.Trend = TrendStable
	}
}

// GetRecommendation scores each backend in the matching pattern bucket
// and returns the best one if it clears the usability and confidence
// thresholds. Returns nil when no recommendation applies.
func (e *Engine) GetRecommendation(c Complexity, t TaskType) *Recommendation {
	e.mu.Lock()
	defer e.mu.Unlock()

	pat := e.patterns[patternKey(c, t)]
	if pat == nil || pat.TotalSamples < e.minSamples {
		return nil
	}

	var best string
	bestScore := -1.0
	for backend, pp := range pat.PerBackend {
		if pp.Calls < recommendationMinCalls {
			continue
		}
		successRate := pp.SuccessSum / float64(pp.Calls)
		confidence := 0.5
		if m := e.metrics[backend]; m != nil {
			confidence = m.Confidence
		}
		score := clamp01(0.7*successRate + 0.3*confidence)
		if score > bestScore {
			bestScore = score
			best = backend
		}
	}
	if best == "" || bestScore < e.confidenceThresh {
		return nil
	}
	return &Recommendation{Backend: best, Confidence: bestScore, Reason: "pattern history favors this backend"}
}

// Metrics returns a defensive copy of one backend's metrics, or nil.
func (e *Engine) Metrics(backend string) *BackendMetrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	m := e.metrics[backend]
	if m == nil {
		return nil
	}
	cp := *m
	cp.Buckets = make(map[string]*BucketCount, len(m.Buckets))
	for k, v := range m.Buckets {
		bc := *v
		cp.Buckets[k] = &bc
	}
	return &cp
}

// Flush forces a save regardless of the sinceSave counter. Used at clean
// shutdown.
func (e *Engine) Flush() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.persistLocked()
}

// Reset clears all in-memory state and persists the empty snapshot. An
// explicit, operator-triggered operation — never called from routing.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics = make(map[string]*BackendMetrics)
	e.patterns = make(map[string]*Pattern)
	e.history = nil
	e.sinceSave = 0
	e.persistLocked()
}

func (e *Engine) persistLocked() {
	if e.store == nil {
		return
	}
	snap := e.snapshotLocked()
	if err := e.store.Save(snap); err != nil {
		e.log.Error("learning engine: persistence failed", map[string]interface{}{"error": err.Error()})
	}
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

func average(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}
