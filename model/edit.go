package model

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"
)

// DefaultSTol is the tolerance used to snap thin insertions onto existing
// element boundaries.
const DefaultSTol = 1e-6

func keepSet(keep []string) map[string]bool {
	m := make(map[string]bool, len(keep))
	for _, k := range keep {
		m[k] = true
	}
	return m
}

func (l *Line) checkNewName(name string) error {
	if _, ok := l.pos[name]; ok {
		return fmt.Errorf("%w: %q", ErrNotUnique, name)
	}
	return nil
}

// Insert splices e before position index without touching neighbouring
// drifts. A thick element makes the line longer by its length; use
// InsertAt to keep the length.
func (l *Line) Insert(index int, e Element, name string) error {
	if err := l.checkMutable(); err != nil {
		return err
	}
	if e == nil {
		return fmt.Errorf("insert %q: nil element", name)
	}
	if err := l.checkNewName(name); err != nil {
		return err
	}
	if index < 0 || index > len(l.ids) {
		return fmt.Errorf("insert %q: index %d out of range [0, %d]", name, index, len(l.ids))
	}
	l.commit(slices.Insert(l.entries(), index, entry{name: name, el: e}))
	return nil
}

// InsertAt places e so that its upstream end sits at s.
//
// A zero-length element within tol of an existing boundary is inserted at
// that boundary. Otherwise the span [s, s+length] is carved out of the
// line: every element it touches must be a drift, a marker or an aperture,
// and the uncovered parts of the first and last drifts remain as
// <name>_part0 and <name>_part1.
func (l *Line) InsertAt(s float64, e Element, name string, tol float64) error {
	if err := l.checkMutable(); err != nil {
		return err
	}
	if e == nil {
		return fmt.Errorf("insert %q: nil element", name)
	}
	if err := l.checkNewName(name); err != nil {
		return err
	}
	tol = math.Abs(tol)
	total := l.Length()
	if s < -tol || s > total+tol {
		return fmt.Errorf("%w: s=%g outside line [0, %g]", ErrStructuralConflict, s, total)
	}

	var length float64
	if e.IsThick() {
		length = e.Length()
	}
	if length < 0 {
		return fmt.Errorf("%w: negative length %g for %q", ErrStructuralConflict, length, name)
	}

	up := l.SPositions(Upstream)
	es := l.entries()

	if length == 0 {
		best, bestD := -1, 0.0
		for i, u := range up {
			if d := math.Abs(u - s); d <= tol && (best < 0 || d < bestD) {
				best, bestD = i, d
			}
		}
		if d := math.Abs(total - s); d <= tol && (best < 0 || d < bestD) {
			best = len(es)
		}
		if best >= 0 {
			l.commit(slices.Insert(es, best, entry{name: name, el: e}))
			return nil
		}
	}

	sEnd := s + length
	if sEnd > total+tol {
		return fmt.Errorf("%w: %q spans [%g, %g] beyond line end %g", ErrStructuralConflict, name, s, sEnd, total)
	}
	down := l.SPositions(Downstream)

	first := -1
	for i, d := range down {
		if d > s {
			first = i
			break
		}
	}
	last := -1
	for i := len(up) - 1; i >= 0; i-- {
		if up[i] < sEnd {
			last = i
			break
		}
	}
	if first < 0 || last < first {
		return fmt.Errorf("%w: no element span covers s=%g", ErrStructuralConflict, s)
	}

	for i := first; i <= last; i++ {
		k := es[i].el.Kind()
		if k != KindDrift && k != KindMarker && !k.IsAperture() {
			return fmt.Errorf("%w: %q would overlap %s %q", ErrStructuralConflict, name, k, es[i].name)
		}
	}

	l0 := s - up[first]
	l1 := down[last] - sEnd
	if (l0 > 0 && es[first].el.Kind() != KindDrift) || (l1 > 0 && es[last].el.Kind() != KindDrift) {
		return fmt.Errorf("%w: %q does not start or end inside a drift", ErrStructuralConflict, name)
	}

	taken := make(map[string]bool, len(es)+1)
	for _, en := range es {
		taken[en.name] = true
	}
	taken[name] = true

	out := make([]entry, 0, len(es)+3)
	out = append(out, es[:first]...)
	if l0 > 0 {
		n := uniqueName(es[first].name+"_part0", taken)
		taken[n] = true
		out = append(out, entry{name: n, el: &Drift{L: l0}})
	}
	out = append(out, entry{name: name, el: e})
	if l1 > 0 {
		n := uniqueName(es[last].name+"_part1", taken)
		out = append(out, entry{name: n, el: &Drift{L: l1}})
	}
	out = append(out, es[last+1:]...)
	l.commit(out)
	return nil
}

// Append adds e at the end of the line.
func (l *Line) Append(e Element, name string) error {
	if err := l.checkMutable(); err != nil {
		return err
	}
	if e == nil {
		return fmt.Errorf("append %q: nil element", name)
	}
	if err := l.checkNewName(name); err != nil {
		return err
	}
	l.commit(append(l.entries(), entry{name: name, el: e}))
	return nil
}

// Remove deletes the named element. The line length shrinks by its length.
func (l *Line) Remove(name string) error {
	if err := l.checkMutable(); err != nil {
		return err
	}
	i, ok := l.pos[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	l.commit(slices.Delete(l.entries(), i, i+1))
	return nil
}

// Replace swaps the element behind name for e, keeping the position.
func (l *Line) Replace(name string, e Element) error {
	if err := l.checkMutable(); err != nil {
		return err
	}
	i, ok := l.pos[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	es := l.entries()
	es[i] = entry{name: name, el: e}
	l.commit(es)
	return nil
}

// MergeConsecutiveDrifts folds each run of adjacent drifts into its first
// member. Drifts named in keep are never merged.
func (l *Line) MergeConsecutiveDrifts(keep ...string) error {
	if err := l.checkMutable(); err != nil {
		return err
	}
	ks := keepSet(keep)
	es := l.entries()
	out := make([]entry, 0, len(es))
	for _, e := range es {
		if n := len(out); n > 0 && e.el.Kind() == KindDrift && !ks[e.name] {
			prev := &out[n-1]
			if prev.el.Kind() == KindDrift && !ks[prev.name] {
				prev.el = &Drift{L: prev.el.Length() + e.el.Length()}
				prev.id = 0
				continue
			}
		}
		out = append(out, e)
	}
	l.commit(out)
	return nil
}

// MergeConsecutiveMultipoles sums adjacent straight multipoles. The merged
// element is named prev_next and keeps the order of the larger one.
// Multipoles with curvature are left alone.
func (l *Line) MergeConsecutiveMultipoles(keep ...string) error {
	if err := l.checkMutable(); err != nil {
		return err
	}
	ks := keepSet(keep)
	es := l.entries()
	out := make([]entry, 0, len(es))
	for _, e := range es {
		if n := len(out); n > 0 && !ks[e.name] {
			cur, ok1 := e.el.(*Multipole)
			prev, ok2 := out[n-1].el.(*Multipole)
			if ok1 && ok2 && !ks[out[n-1].name] &&
				prev.Hxl == 0 && cur.Hxl == 0 && prev.Hyl == 0 && cur.Hyl == 0 {
				out[n-1] = entry{
					name: out[n-1].name + "_" + e.name,
					el:   sumMultipoles(prev, cur),
				}
				continue
			}
		}
		out = append(out, e)
	}
	seen := make(map[string]bool, len(out))
	for _, e := range out {
		if seen[e.name] {
			return fmt.Errorf("%w: merged name %q", ErrNotUnique, e.name)
		}
		seen[e.name] = true
	}
	l.commit(out)
	return nil
}

func sumMultipoles(a, b *Multipole) *Multipole {
	n := max(len(a.Knl), len(b.Knl), len(a.Ksl), len(b.Ksl))
	m := &Multipole{Knl: make([]float64, n), Ksl: make([]float64, n), Hxl: a.Hxl, Hyl: a.Hyl, L: a.L}
	for _, src := range []*Multipole{a, b} {
		for i, v := range src.Knl {
			m.Knl[i] += v
		}
		for i, v := range src.Ksl {
			m.Ksl[i] += v
		}
	}
	return m
}

// RemoveRedundantApertures drops the middle one of every three identical
// apertures separated only by drifts and markers.
func (l *Line) RemoveRedundantApertures(keep ...string) error {
	if err := l.checkMutable(); err != nil {
		return err
	}
	ks := keepSet(keep)
	es := l.entries()
	remove := make(map[int]bool)

	a0, am1, am2 := -1, -1, -1
	for i, e := range es {
		k := e.el.Kind()
		switch {
		case k.IsAperture():
			am2, am1, a0 = am1, a0, i
		case k != KindDrift && k != KindMarker:
			a0, am1, am2 = -1, -1, -1
		}
		if am2 >= 0 && aperturesEqual(es[a0].el, es[am1].el) && aperturesEqual(es[am1].el, es[am2].el) {
			if !ks[es[am1].name] {
				remove[am1] = true
				am1, am2 = am2, -1
			}
		}
	}

	out := make([]entry, 0, len(es)-len(remove))
	for i, e := range es {
		if !remove[i] {
			out = append(out, e)
		}
	}
	l.commit(out)
	return nil
}

func aperturesEqual(a, b Element) bool {
	return a.Kind() == b.Kind() && slices.Equal(a.Encode(), b.Encode())
}

// Cycle rotates the line so that the element at index comes first.
func (l *Line) Cycle(index int) error {
	if err := l.checkMutable(); err != nil {
		return err
	}
	n := len(l.ids)
	if n == 0 {
		return nil
	}
	if index < 0 || index >= n {
		return fmt.Errorf("cycle: index %d out of range [0, %d)", index, n)
	}
	es := l.entries()
	l.commit(slices.Concat(es[index:], es[:index]))
	return nil
}

// CycleTo rotates the line so that the named element comes first.
func (l *Line) CycleTo(name string) error {
	i, ok := l.pos[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return l.Cycle(i)
}

func (l *Line) filter(drop func(e entry) bool) error {
	if err := l.checkMutable(); err != nil {
		return err
	}
	es := l.entries()
	out := es[:0]
	for _, e := range es {
		if !drop(e) {
			out = append(out, e)
		}
	}
	l.commit(out)
	return nil
}

// RemoveMarkers deletes every marker not named in keep.
func (l *Line) RemoveMarkers(keep ...string) error {
	ks := keepSet(keep)
	return l.filter(func(e entry) bool {
		return e.el.Kind() == KindMarker && !ks[e.name]
	})
}

// RemoveZeroLengthDrifts deletes every drift of length zero not named in keep.
func (l *Line) RemoveZeroLengthDrifts(keep ...string) error {
	ks := keepSet(keep)
	return l.filter(func(e entry) bool {
		return e.el.Kind() == KindDrift && e.el.Length() == 0 && !ks[e.name]
	})
}

// RemoveInactiveMultipoles deletes multipoles whose strengths and
// curvatures are all zero.
func (l *Line) RemoveInactiveMultipoles(keep ...string) error {
	ks := keepSet(keep)
	return l.filter(func(e entry) bool {
		m, ok := e.el.(*Multipole)
		return ok && !m.IsActive() && !ks[e.name]
	})
}

// FilterElements returns a new line where every element with a false mask
// entry is replaced by a drift of the same length. Kept elements are shared
// with l. Unlike the other edits it leaves l untouched, so it also works on
// a frozen line.
func (l *Line) FilterElements(mask []bool) (*Line, error) {
	if len(mask) != len(l.ids) {
		return nil, fmt.Errorf("mask has %d entries for %d elements", len(mask), len(l.ids))
	}
	els := l.Elements()
	for i, keep := range mask {
		if keep {
			continue
		}
		var length float64
		if els[i].IsThick() {
			length = els[i].Length()
		}
		els[i] = &Drift{L: length}
	}
	nl, err := NewLine(els, l.Names())
	if err != nil {
		return nil, err
	}
	if l.Reference != nil {
		ref := *l.Reference
		nl.Reference = &ref
	}
	return nl, nil
}

// Node places a thin element at position S of a sequence.
type Node struct {
	S       float64
	Name    string
	Element Element
}

// NewLineFromSequence builds a line of the given length from thin elements
// placed at absolute positions, filling the gaps with drifts named drift0,
// drift1, ...
func NewLineFromSequence(nodes []Node, length float64) (*Line, error) {
	sorted := slices.Clone(nodes)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].S < sorted[j].S })

	taken := make(map[string]bool, len(nodes))
	for _, n := range sorted {
		taken[n.Name] = true
	}
	next := 0
	driftName := func() string {
		for {
			n := "drift" + strconv.Itoa(next)
			next++
			if !taken[n] {
				taken[n] = true
				return n
			}
		}
	}

	var els []Element
	var names []string
	last := 0.0
	for _, n := range sorted {
		if n.S < 0 {
			return nil, fmt.Errorf("node %q at negative s=%g", n.Name, n.S)
		}
		if n.Element == nil {
			return nil, fmt.Errorf("node %q has no element", n.Name)
		}
		if n.Element.IsThick() && n.Element.Length() != 0 {
			return nil, fmt.Errorf("%w: thick element %q in sequence", ErrStructuralConflict, n.Name)
		}
		if n.S > last {
			els = append(els, &Drift{L: n.S - last})
			names = append(names, driftName())
		}
		els = append(els, n.Element)
		names = append(names, n.Name)
		last = n.S
	}
	if length < last {
		return nil, fmt.Errorf("%w: node at s=%g beyond sequence length %g", ErrStructuralConflict, last, length)
	}
	els = append(els, &Drift{L: length - last})
	names = append(names, driftName())

	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			return nil, fmt.Errorf("%w: %q", ErrNotUnique, n)
		}
		seen[n] = true
	}
	return NewLine(els, names)
}
