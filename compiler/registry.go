package compiler

import (
	"strings"
	"sync"

	"github.com/sbl8/beamline/model"
)

// Registry assigns dense type ids to element kinds in first-seen order.
// A registry may be shared by several layouts so that they agree on ids
// and can reuse one dispatch table.
type Registry struct {
	mu    sync.RWMutex
	kinds []model.Kind
	ids   map[model.Kind]int
}

// NewRegistry returns a registry pre-populated with kinds.
func NewRegistry(kinds ...model.Kind) *Registry {
	r := &Registry{ids: make(map[model.Kind]int)}
	for _, k := range kinds {
		r.Add(k)
	}
	return r
}

// Add registers k if needed and returns its type id.
func (r *Registry) Add(k model.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.ids[k]; ok {
		return id
	}
	id := len(r.kinds)
	r.kinds = append(r.kinds, k)
	r.ids[k] = id
	return id
}

// TypeID returns the id of k.
func (r *Registry) TypeID(k model.Kind) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.ids[k]
	return id, ok
}

// Kinds returns the registered kinds in id order.
func (r *Registry) Kinds() []model.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]model.Kind(nil), r.kinds...)
}

// Len is the number of registered kinds.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.kinds)
}

// Clone returns an independent registry with the same ids.
func (r *Registry) Clone() *Registry {
	return NewRegistry(r.Kinds()...)
}

// Signature identifies the id assignment; equal signatures mean equal
// dispatch tables.
func (r *Registry) Signature() string {
	kinds := r.Kinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
	}
	return strings.Join(names, ",")
}
