// Package memory keeps an append-only, capacity-bounded ring of
// interaction events with keyword search over recent history.
package memory

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smartbi/analyst/pkg/models"
)

// DefaultMaxEvents caps the ring when no explicit cap is configured.
const DefaultMaxEvents = 50_000

// Enhancer re-ranks or augments search hits. Implementations may call a
// vector store; the hook is optional.
type Enhancer interface {
	Enhance(query string, hits []models.MemoryEvent) []models.MemoryEvent
}

// Ring is the in-process event memory. Appends evict the oldest event
// once the cap is reached.
type Ring struct {
	mu       sync.RWMutex
	events   []models.MemoryEvent
	start    int // index of the oldest event once the ring wrapped
	size     int
	cap      int
	enhancer Enhancer
}

// Option customises the ring.
type Option func(*Ring)

// WithEnhancer plugs in a semantic re-ranking hook.
func WithEnhancer(e Enhancer) Option {
	return func(r *Ring) { r.enhancer = e }
}

// NewRing creates a ring holding at most maxEvents entries.
func NewRing(maxEvents int, opts ...Option) *Ring {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	r := &Ring{
		events: make([]models.MemoryEvent, maxEvents),
		cap:    maxEvents,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Append records an event, filling in id and timestamp when absent, and
// returns the stored copy.
func (r *Ring) Append(event models.MemoryEvent) models.MemoryEvent {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.TS.IsZero() {
		event.TS = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.size < r.cap {
		r.events[(r.start+r.size)%r.cap] = event
		r.size++
	} else {
		r.events[r.start] = event
		r.start = (r.start + 1) % r.cap
	}
	return event
}

// Len returns the number of stored events.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Recent returns up to limit events, newest first.
func (r *Ring) Recent(limit int) []models.MemoryEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit <= 0 || limit > r.size {
		limit = r.size
	}
	out := make([]models.MemoryEvent, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (r.start + r.size - 1 - i + r.cap) % r.cap
		out = append(out, r.events[idx])
	}
	return out
}

// scored pairs an event with its keyword-match score.
type scored struct {
	event models.MemoryEvent
	score int
}

// Search returns events matching the query, ranked by keyword overlap
// and then recency. An empty scene matches every scene. A configured
// enhancer post-processes the ranked hits.
func (r *Ring) Search(query string, scene models.Scene, limit int) []models.MemoryEvent {
	terms := tokenize(query)
	if limit <= 0 {
		limit = 10
	}

	r.mu.RLock()
	hits := make([]scored, 0, 16)
	for i := 0; i < r.size; i++ {
		ev := r.events[(r.start+i)%r.cap]
		if scene != "" && ev.Scene != scene {
			continue
		}
		if s := matchScore(&ev, terms); s > 0 {
			hits = append(hits, scored{event: ev, score: s})
		}
	}
	r.mu.RUnlock()

	// Higher score wins; ties go to the newer event.
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].event.TS.After(hits[j].event.TS)
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}

	out := make([]models.MemoryEvent, len(hits))
	for i, h := range hits {
		out[i] = h.event
	}
	if r.enhancer != nil {
		out = r.enhancer.Enhance(query, out)
	}
	return out
}

func tokenize(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

// matchScore counts query-term hits across an event's text fields, with
// full-substring matches of the whole query weighted highest.
func matchScore(ev *models.MemoryEvent, terms []string) int {
	if len(terms) == 0 {
		return 1
	}
	haystack := strings.ToLower(ev.UserText + " " + ev.ResultSummary + " " + ev.SQL)
	score := 0
	if strings.Contains(haystack, strings.Join(terms, " ")) {
		score += len(terms) * 2
	}
	for _, term := range terms {
		if strings.Contains(haystack, term) {
			score++
		}
	}
	return score
}
