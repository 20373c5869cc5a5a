package compiler

import (
	"fmt"
	"sync"

	"github.com/sbl8/beamline/kernels"
)

// Dispatch is the generated routine table of a registry: the transfer map
// and pre-element checks for each type id. One table serves every backend.
type Dispatch struct {
	Signature string
	Table     []kernels.KernelFn
	Aperture  []bool
}

// BuildDispatch fills a table for every kind of r from the kernel catalog.
func BuildDispatch(r *Registry) (*Dispatch, error) {
	kinds := r.Kinds()
	d := &Dispatch{
		Signature: r.Signature(),
		Table:     make([]kernels.KernelFn, len(kinds)),
		Aperture:  make([]bool, len(kinds)),
	}
	for id, k := range kinds {
		fn := kernels.Lookup(k)
		if fn == nil {
			return nil, fmt.Errorf("%w: %s has no transfer map", ErrUnregisteredKind, k)
		}
		d.Table[id] = fn
		d.Aperture[id] = kernels.NeedsGlobalAperture(k)
	}
	return d, nil
}

// DispatchCache memoizes dispatch tables by registry signature so that
// trackers built with the same registry share one table.
type DispatchCache struct {
	mu      sync.Mutex
	entries map[string]*Dispatch
	builds  int
}

// NewDispatchCache returns an empty cache.
func NewDispatchCache() *DispatchCache {
	return &DispatchCache{entries: make(map[string]*Dispatch)}
}

// Get returns the cached table for r, building it on first use.
func (c *DispatchCache) Get(r *Registry) (*Dispatch, error) {
	sig := r.Signature()
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.entries[sig]; ok {
		return d, nil
	}
	d, err := BuildDispatch(r)
	if err != nil {
		return nil, err
	}
	c.entries[sig] = d
	c.builds++
	return d, nil
}

// Builds counts how many tables were generated.
func (c *DispatchCache) Builds() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.builds
}
