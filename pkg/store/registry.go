package store

import (
	"sync"

	"github.com/smartbi/analyst/pkg/enginerr"
)

// Registry is a live-editable, insertion-ordered collection of config
// entries keyed by id. Put is last-writer-wins; List preserves first
// insertion order so rule tie-breaking stays stable across edits.
type Registry[T any] struct {
	kind string
	key  func(T) string

	mu    sync.RWMutex
	byID  map[string]T
	order []string
}

// NewRegistry creates a registry; kind labels errors, key extracts ids.
func NewRegistry[T any](kind string, key func(T) string) *Registry[T] {
	return &Registry[T]{
		kind: kind,
		key:  key,
		byID: make(map[string]T),
	}
}

// Seed loads initial entries, preserving slice order.
func (r *Registry[T]) Seed(entries []T) error {
	for _, e := range entries {
		if err := r.Put(e); err != nil {
			return err
		}
	}
	return nil
}

// Put inserts or replaces an entry.
func (r *Registry[T]) Put(entry T) error {
	id := r.key(entry)
	if id == "" {
		return enginerr.New(enginerr.KindValidation, "%s id is required", r.kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		r.order = append(r.order, id)
	}
	r.byID[id] = entry
	return nil
}

// Replace swaps the full entry set atomically. Entries absent from the
// new set are dropped; a key validation failure leaves the old set
// untouched.
func (r *Registry[T]) Replace(entries []T) error {
	ids := make([]string, len(entries))
	for i, e := range entries {
		id := r.key(e)
		if id == "" {
			return enginerr.New(enginerr.KindValidation, "%s id is required", r.kind)
		}
		ids[i] = id
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID = make(map[string]T, len(entries))
	r.order = r.order[:0]
	for i, e := range entries {
		if _, ok := r.byID[ids[i]]; !ok {
			r.order = append(r.order, ids[i])
		}
		r.byID[ids[i]] = e
	}
	return nil
}

// Get returns the entry by id.
func (r *Registry[T]) Get(id string) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.byID[id]
	if !ok {
		var zero T
		return zero, enginerr.New(enginerr.KindNotFound, "%s %s not found", r.kind, id)
	}
	return entry, nil
}

// Delete removes the entry by id.
func (r *Registry[T]) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return enginerr.New(enginerr.KindNotFound, "%s %s not found", r.kind, id)
	}
	delete(r.byID, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// List returns all entries in first-insertion order.
func (r *Registry[T]) List() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Len returns the number of entries.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
