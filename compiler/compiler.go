// Package compiler turns an ordered list of elements into a compiled
// layout: a flat, type-indexed representation ready for tracking.
//
// Compilation pipeline:
//  1. Collect the distinct element kinds into a Registry (or extend a
//     shared one), assigning each a dense type id.
//  2. Encode every element and pack its words into a single float64 arena,
//     recording per-element offset, size and type id.
//  3. Resolve the dispatch table for the registry, the per-type-id routine
//     the runtime calls for each element. Tables are cached by registry
//     signature so equal registries share one.
//
// Layouts are immutable in structure. Parameter changes that keep the word
// count of an element are written into the arena in place with Update or
// Sync; anything else needs a new layout.
package compiler

import (
	"errors"
	"fmt"
	"slices"

	"github.com/sbl8/beamline/core"
	"github.com/sbl8/beamline/kernels"
	"github.com/sbl8/beamline/model"
)

// MaxArenaWords bounds the packed element region. Offsets beyond it are
// not addressable by the layout.
const MaxArenaWords = 1 << 27

var (
	// ErrUnregisteredKind is a programming error: a kind reached compilation
	// without a transfer map or outside a strict registry.
	ErrUnregisteredKind = errors.New("unregistered element kind")
	// ErrAddressLimit is returned when the packed layout exceeds the arena
	// address range.
	ErrAddressLimit = errors.New("layout exceeds arena address limit")
	// ErrSizeChanged is returned by Update when the element's word count no
	// longer matches its packed slot.
	ErrSizeChanged = errors.New("element word count changed")
)

// CompileOptions configures a compilation.
type CompileOptions struct {
	// Registry is reused when set. Kinds missing from it are an error unless
	// Extend is true.
	Registry *Registry
	Extend   bool
	// MaxWords caps the element region; zero means MaxArenaWords.
	MaxWords int
	// TailWords of head-room are reserved after the element region.
	TailWords int
}

// DefaultOptions provides a fresh registry and the default limits.
func DefaultOptions() CompileOptions {
	return CompileOptions{
		Extend:    true,
		MaxWords:  MaxArenaWords,
		TailWords: core.WordsPerLine,
	}
}

// Layout is the compiled form of an element sequence.
type Layout struct {
	Registry *Registry
	Arena    *core.Arena

	Names   []string
	Kinds   []model.Kind
	TypeIDs []int
	Offsets []int
	Sizes   []int

	index map[string][]int
}

// Compile packs elements (named by names) into a new layout.
func Compile(elements []model.Element, names []string, opts CompileOptions) (*Layout, error) {
	if len(names) != len(elements) {
		return nil, fmt.Errorf("got %d names for %d elements", len(names), len(elements))
	}
	reg := opts.Registry
	if reg == nil {
		reg = NewRegistry()
		opts.Extend = true
	}
	maxWords := opts.MaxWords
	if maxWords <= 0 {
		maxWords = MaxArenaWords
	}

	n := len(elements)
	lay := &Layout{
		Registry: reg,
		Names:    append([]string(nil), names...),
		Kinds:    make([]model.Kind, n),
		TypeIDs:  make([]int, n),
		Offsets:  make([]int, n),
		Sizes:    make([]int, n),
		index:    make(map[string][]int, n),
	}

	encoded := make([][]float64, n)
	total := 0
	for i, e := range elements {
		k := e.Kind()
		if kernels.Lookup(k) == nil {
			return nil, fmt.Errorf("%w: %s (element %q)", ErrUnregisteredKind, k, names[i])
		}
		id, ok := reg.TypeID(k)
		if !ok {
			if !opts.Extend {
				return nil, fmt.Errorf("%w: %s (element %q) not in shared registry", ErrUnregisteredKind, k, names[i])
			}
			id = reg.Add(k)
		}
		w := e.Encode()
		encoded[i] = w
		lay.Kinds[i] = k
		lay.TypeIDs[i] = id
		lay.Sizes[i] = len(w)
		total += len(w)
		if total > maxWords {
			return nil, fmt.Errorf("%w: %d words after element %q, limit %d", ErrAddressLimit, total, names[i], maxWords)
		}
		lay.index[names[i]] = append(lay.index[names[i]], i)
	}

	arena, err := core.NewArena(total, opts.TailWords)
	if err != nil {
		return nil, err
	}
	for i, w := range encoded {
		off, err := arena.Allocate(len(w))
		if err != nil {
			return nil, err
		}
		if err := arena.WriteAt(off, w); err != nil {
			return nil, err
		}
		lay.Offsets[i] = off
	}
	lay.Arena = arena
	return lay, nil
}

// Len is the number of compiled elements.
func (l *Layout) Len() int { return len(l.TypeIDs) }

// Words returns the packed parameters of element i, aliasing the arena.
func (l *Layout) Words(i int) []float64 {
	w := l.Arena.Words()
	off := l.Offsets[i]
	return w[off : off+l.Sizes[i] : off+l.Sizes[i]]
}

// Indices returns the positions that carry name.
func (l *Layout) Indices(name string) []int { return l.index[name] }

// Update re-encodes e into the slot of element i without rebuilding.
func (l *Layout) Update(i int, e model.Element) error {
	w, err := l.encodeFor(i, e)
	if err != nil {
		return err
	}
	return l.Arena.WriteAt(l.Offsets[i], w)
}

// Sync re-encodes e into the slot of element i when the packed words
// differ and reports whether the slot was written.
func (l *Layout) Sync(i int, e model.Element) (bool, error) {
	w, err := l.encodeFor(i, e)
	if err != nil {
		return false, err
	}
	cur, err := l.Arena.ReadAt(l.Offsets[i], l.Sizes[i])
	if err != nil {
		return false, err
	}
	if slices.Equal(cur, w) {
		return false, nil
	}
	return true, l.Arena.WriteAt(l.Offsets[i], w)
}

func (l *Layout) encodeFor(i int, e model.Element) ([]float64, error) {
	if e.Kind() != l.Kinds[i] {
		return nil, fmt.Errorf("%w: %q changed kind from %s to %s", ErrSizeChanged, l.Names[i], l.Kinds[i], e.Kind())
	}
	w := e.Encode()
	if len(w) != l.Sizes[i] {
		return nil, fmt.Errorf("%w: %q now has %d words, slot holds %d", ErrSizeChanged, l.Names[i], len(w), l.Sizes[i])
	}
	return w, nil
}

// Fingerprint is a checksum of every packed parameter word.
func (l *Layout) Fingerprint() uint32 {
	r, _ := l.Arena.Region(core.RegionElements)
	return core.Checksum(l.Arena.Words()[r.Offset : r.Offset+l.Arena.UsedSize()])
}
