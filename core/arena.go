package core

import (
	"errors"
	"fmt"
)

// Region names used by the compiled layout.
const (
	RegionElements = "Elements"
	RegionFreeTail = "FreeTail"
)

// ErrArenaExhausted is returned when a bump allocation does not fit.
var ErrArenaExhausted = errors.New("arena exhausted")

// ArenaRegion is a named word range within an Arena.
type ArenaRegion struct {
	Offset int
	Size   int
	Name   string
}

// Arena is a single pre-allocated float64 buffer holding the packed
// parameters of every element of a compiled line. The element region is
// bump-allocated; the free tail leaves head-room for parameter growth.
//
// Arena is not safe for concurrent allocation. Concurrent readers are fine
// once allocation is finished.
type Arena struct {
	words    []float64
	regions  map[string]ArenaRegion
	elements ArenaRegion
	freeTail ArenaRegion
	next     int
}

// NewArena lays out an arena with elementWords words for element data and
// tailWords of head-room. Both are rounded up to whole cache lines.
func NewArena(elementWords, tailWords int) (*Arena, error) {
	if elementWords < 0 || tailWords < 0 {
		return nil, fmt.Errorf("negative arena size: elements=%d tail=%d", elementWords, tailWords)
	}
	elementWords = AlignLine(elementWords)
	tailWords = AlignLine(tailWords)

	a := &Arena{
		words:   make([]float64, elementWords+tailWords),
		regions: make(map[string]ArenaRegion, 2),
	}
	a.elements = ArenaRegion{Offset: 0, Size: elementWords, Name: RegionElements}
	a.freeTail = ArenaRegion{Offset: elementWords, Size: tailWords, Name: RegionFreeTail}
	a.regions[RegionElements] = a.elements
	a.regions[RegionFreeTail] = a.freeTail
	return a, nil
}

// Words returns the whole backing buffer.
func (a *Arena) Words() []float64 { return a.words }

// Region returns the named region.
func (a *Arena) Region(name string) (ArenaRegion, bool) {
	r, ok := a.regions[name]
	return r, ok
}

// Allocate reserves n consecutive words from the element region and
// returns their offset.
func (a *Arena) Allocate(n int) (int, error) {
	if n < 0 {
		return 0, fmt.Errorf("negative allocation %d", n)
	}
	end := a.elements.Offset + a.elements.Size
	if a.next+n > end {
		return 0, fmt.Errorf("%w: requested %d words, %d available", ErrArenaExhausted, n, end-a.next)
	}
	off := a.next
	a.next += n
	return off, nil
}

// WriteAt copies data into the arena at a word offset.
func (a *Arena) WriteAt(offset int, data []float64) error {
	if offset < 0 || offset+len(data) > len(a.words) {
		return fmt.Errorf("write of %d words at %d exceeds arena bounds (%d)", len(data), offset, len(a.words))
	}
	copy(a.words[offset:], data)
	return nil
}

// ReadAt returns a view of n words at offset. The view aliases the arena.
func (a *Arena) ReadAt(offset, n int) ([]float64, error) {
	if offset < 0 || n < 0 || offset+n > len(a.words) {
		return nil, fmt.Errorf("read of %d words at %d exceeds arena bounds (%d)", n, offset, len(a.words))
	}
	return a.words[offset : offset+n : offset+n], nil
}

// TotalSize is the capacity in words.
func (a *Arena) TotalSize() int { return len(a.words) }

// UsedSize is the number of element words allocated so far.
func (a *Arena) UsedSize() int { return a.next - a.elements.Offset }

// RemainingSize is the size of the free tail.
func (a *Arena) RemainingSize() int { return a.freeTail.Size }
