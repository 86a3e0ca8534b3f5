// Package patterns implements PatternRAG: an in-process TF-IDF memory
// store used by workflow handlers to augment prompts with prior
// successful patterns. Distinct from the learning engine's (complexity,
// task_type) buckets.
package patterns

import (
	"crypto/sha1"
	"encoding/hex"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record is one remembered pattern. The store exclusively owns all
// records; callers receive read-only projections (see Hit).
type Record struct {
	ID           string
	Content      string
	Description  string
	Category     string
	Tags         []string
	TFVector     map[string]float64
	CreatedAt    time.Time
	LastAccessed time.Time
	AccessCount  int
	Relevance    float64
}

// Hit is the read-only projection returned by Search.
type Hit struct {
	ID          string
	Content     string
	Description string
	Category    string
	Tags        []string
	Similarity  float64
}

const (
	defaultMaxPatterns  = 500
	defaultMaxAgeDays   = 90
	defaultDecayFactor  = 0.98
	defaultMinSimilarity = 0.3
)

var (
	punctuationRe = regexp.MustCompile(`[^\w\s]`)
	stopWords     = map[string]bool{
		"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
		"is": true, "are": true, "was": true, "were": true, "be": true, "been": true,
		"to": true, "of": true, "in": true, "on": true, "for": true, "with": true,
		"that": true, "this": true, "it": true, "as": true, "at": true, "by": true,
		"from": true, "not": true, "no": true, "do": true, "does": true, "did": true,
	}
)

// Store is the TF-IDF pattern memory, fully in-process and guarded by a
// single RWMutex: Add, Search (which updates access counts) and
// ApplyDecay take it exclusively; Len and SaveToFile share it.
type Store struct {
	mu            sync.RWMutex
	records       map[string]*Record
	order         []string // insertion order, stable iteration for eviction scans
	docFreq       map[string]int
	maxPatterns   int
	maxAgeDays    int
	decayFactor   float64
	minSimilarity float64
}

func NewStore() *Store {
	return &Store{
		records:       make(map[string]*Record),
		docFreq:       make(map[string]int),
		maxPatterns:   defaultMaxPatterns,
		maxAgeDays:    defaultMaxAgeDays,
		decayFactor:   defaultDecayFactor,
		minSimilarity: defaultMinSimilarity,
	}
}

func tokenize(s string) []string {
	s = strings.ToLower(s)
	s = punctuationRe.ReplaceAllString(s, " ")
	fields := strings.Fields(s)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) <= 2 || stopWords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

func termFrequencies(tokens []string) map[string]float64 {
	counts := make(map[string]int)
	for _, t := range tokens {
		counts[t]++
	}
	tf := make(map[string]float64, len(counts))
	total := float64(len(tokens))
	if total == 0 {
		return tf
	}
	for term, c := range counts {
		tf[term] = float64(c) / total
	}
	return tf
}

// Add tokenizes description+content, updates the document-frequency
// table, appends the record, and evicts over-capacity entries.
func (s *Store) Add(content, description, category string, tags []string) string {
	tokens := tokenize(description + " " + content)
	tf := termFrequencies(tokens)

	s.mu.Lock()
	defer s.mu.Unlock()

	id := newID(content, description)
	now := time.Now()
	rec := &Record{
		ID: id, Content: content, Description: description, Category: category, Tags: tags,
		TFVector: tf, CreatedAt: now, LastAccessed: now, AccessCount: 0, Relevance: 1.0,
	}
	seen := make(map[string]bool, len(tf))
	for term := range tf {
		if !seen[term] {
			s.docFreq[term]++
			seen[term] = true
		}
	}
	s.records[id] = rec
	s.order = append(s.order, id)

	s.evictIfOverCapacityLocked()
	return id
}

func newID(content, description string) string {
	h := sha1.Sum([]byte(description + "|" + content + "|" + uuid.NewString()))
	return hex.EncodeToString(h[:])[:16]
}

func (s *Store) evictIfOverCapacityLocked() {
	if len(s.order) <= s.maxPatterns {
		return
	}
	type scored struct {
		id    string
		score float64
	}
	candidates := make([]scored, 0, len(s.order))
	for _, id := range s.order {
		rec := s.records[id]
		if rec == nil {
			continue
		}
		candidates = append(candidates, scored{id: id, score: rec.Relevance * math.Log(float64(rec.AccessCount)+1)})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score < candidates[j].score })

	toRemove := len(s.order) - s.maxPatterns
	removed := make(map[string]bool, toRemove)
	for i := 0; i < toRemove && i < len(candidates); i++ {
		s.deleteLocked(candidates[i].id)
		removed[candidates[i].id] = true
	}
	kept := s.order[:0]
	for _, id := range s.order {
		if !removed[id] {
			kept = append(kept, id)
		}
	}
	s.order = kept
}

func (s *Store) deleteLocked(id string) {
	rec, ok := s.records[id]
	if !ok {
		return
	}
	for term := range rec.TFVector {
		s.docFreq[term]--
		if s.docFreq[term] <= 0 {
			delete(s.docFreq, term)
		}
	}
	delete(s.records, id)
}

func (s *Store) idf(term string, docCount int) float64 {
	df := s.docFreq[term]
	if df == 0 {
		df = 1
	}
	return math.Log(float64(docCount+1) / float64(df))
}

// SearchOptions narrows a Search call.
type SearchOptions struct {
	Limit         int
	Category      string
	Tags          []string
	MinSimilarity float64
}

// Search ranks candidates by cosine similarity (on TF-IDF vectors) times
// relevance, returning the top Limit above MinSimilarity.
func (s *Store) Search(query string, opts SearchOptions) []Hit {
	if opts.Limit <= 0 {
		opts.Limit = 5
	}
	minSim := opts.MinSimilarity
	if minSim == 0 {
		minSim = s.minSimilarity
	}

	s.mu.Lock()
	docCount := len(s.records)
	queryTF := termFrequencies(tokenize(query))
	queryVec := make(map[string]float64, len(queryTF))
	for term, tf := range queryTF {
		queryVec[term] = tf * s.idf(term, docCount)
	}

	type scored struct {
		hit Hit
		sim float64
	}
	var results []scored
	for _, id := range s.order {
		rec, ok := s.records[id]
		if !ok {
			continue
		}
		if opts.Category != "" && rec.Category != opts.Category {
			continue
		}
		if len(opts.Tags) > 0 && !hasAnyTag(rec.Tags, opts.Tags) {
			continue
		}
		docVec := make(map[string]float64, len(rec.TFVector))
		for term, tf := range rec.TFVector {
			docVec[term] = tf * s.idf(term, docCount)
		}
		sim := cosineSimilarity(queryVec, docVec) * rec.Relevance
		if sim < minSim {
			continue
		}
		results = append(results, scored{
			hit: Hit{ID: rec.ID, Content: rec.Content, Description: rec.Description, Category: rec.Category, Tags: rec.Tags, Similarity: sim},
			sim: sim,
		})
	}
	s.mu.Unlock()

	sort.Slice(results, func(i, j int) bool { return results[i].sim > results[j].sim })
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}

	s.mu.Lock()
	now := time.Now()
	for _, r := range results {
		if rec, ok := s.records[r.hit.ID]; ok {
			rec.AccessCount++
			rec.LastAccessed = now
		}
	}
	s.mu.Unlock()

	out := make([]Hit, len(results))
	for i, r := range results {
		out[i] = r.hit
	}
	return out
}

func hasAnyTag(recTags, want []string) bool {
	set := make(map[string]bool, len(recTags))
	for _, t := range recTags {
		set[t] = true
	}
	for _, t := range want {
		if set[t] {
			return true
		}
	}
	return false
}

func cosineSimilarity(a, b map[string]float64) float64 {
	var dot, normA, normB float64
	for term, va := range a {
		normA += va * va
		if vb, ok := b[term]; ok {
			dot += va * vb
		}
	}
	for _, vb := range b {
		normB += vb * vb
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// ApplyDecay sets every record's relevance to decayFactor raised to the
// days since it was last accessed, and removes anything past max_age_days.
func (s *Store) ApplyDecay() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var kept []string
	for _, id := range s.order {
		rec, ok := s.records[id]
		if !ok {
			continue
		}
		ageDays := now.Sub(rec.LastAccessed).Hours() / 24
		if ageDays > float64(s.maxAgeDays) {
			s.deleteLocked(id)
			continue
		}
		rec.Relevance = math.Pow(s.decayFactor, ageDays)
		kept = append(kept, id)
	}
	s.order = kept
}

// Len reports how many records the store currently holds.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
