package model

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/sbl8/beamline/core"
)

var (
	// ErrFrozen is returned by structural edits on a line bound to a tracker.
	ErrFrozen = errors.New("line is frozen by a tracker")
	// ErrNotUnique is returned when a name is already used in the line.
	ErrNotUnique = errors.New("element name not unique")
	// ErrStructuralConflict is returned when an edit would overlap an
	// element that cannot be split or covered.
	ErrStructuralConflict = errors.New("structural conflict")
	// ErrNotFound is returned for unknown element names.
	ErrNotFound = errors.New("element not found")
)

// SMode selects which end of an element an s position refers to.
type SMode int

const (
	Upstream SMode = iota
	Downstream
)

// Line is an ordered sequence of uniquely named elements.
type Line struct {
	store *store
	ids   []ElementID
	names []string
	pos   map[string]int

	// Reference is the optional design particle of the line.
	Reference *core.Reference

	frozen     bool
	onUnfreeze func()
}

// entry is one slot of a line under construction; id zero marks an element
// that still has to be added to the store.
type entry struct {
	name string
	id   ElementID
	el   Element
}

// NewLine builds a line from elements in order. A nil names slice yields
// e0, e1, ...; colliding names get a numeric suffix (q, q_1, q_2, ...).
func NewLine(elements []Element, names []string) (*Line, error) {
	if names != nil && len(names) != len(elements) {
		return nil, fmt.Errorf("got %d names for %d elements", len(names), len(elements))
	}
	l := &Line{store: newStore()}
	taken := make(map[string]bool, len(elements))
	es := make([]entry, 0, len(elements))
	for i, e := range elements {
		if e == nil {
			return nil, fmt.Errorf("element %d is nil", i)
		}
		name := "e" + strconv.Itoa(i)
		if names != nil {
			name = names[i]
		}
		name = uniqueName(name, taken)
		taken[name] = true
		es = append(es, entry{name: name, el: e})
	}
	l.commit(es)
	return l, nil
}

// NewLineFromMap builds a line that places elements[name] for each name in
// order. A name may appear once only.
func NewLineFromMap(elements map[string]Element, names []string) (*Line, error) {
	l := &Line{store: newStore()}
	seen := make(map[string]bool, len(names))
	es := make([]entry, 0, len(names))
	for _, n := range names {
		e, ok := elements[n]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, n)
		}
		if seen[n] {
			return nil, fmt.Errorf("%w: %q", ErrNotUnique, n)
		}
		seen[n] = true
		es = append(es, entry{name: n, el: e})
	}
	l.commit(es)
	return l, nil
}

func uniqueName(name string, taken map[string]bool) string {
	if !taken[name] {
		return name
	}
	for k := 1; ; k++ {
		c := name + "_" + strconv.Itoa(k)
		if !taken[c] {
			return c
		}
	}
}

// commit replaces the line content with es, adding new elements to the
// store. It never fails; callers validate before committing.
func (l *Line) commit(es []entry) {
	ids := make([]ElementID, len(es))
	names := make([]string, len(es))
	pos := make(map[string]int, len(es))
	for i, e := range es {
		if e.id == 0 {
			e.id = l.store.add(e.el)
		}
		ids[i] = e.id
		names[i] = e.name
		pos[e.name] = i
	}
	l.ids, l.names, l.pos = ids, names, pos
}

func (l *Line) entries() []entry {
	es := make([]entry, len(l.ids))
	for i, id := range l.ids {
		es[i] = entry{name: l.names[i], id: id, el: l.store.get(id)}
	}
	return es
}

func (l *Line) checkMutable() error {
	if l.frozen {
		return ErrFrozen
	}
	return nil
}

// Len returns the number of elements.
func (l *Line) Len() int { return len(l.ids) }

// Names returns a copy of the element names in order.
func (l *Line) Names() []string { return append([]string(nil), l.names...) }

// Elements returns the elements in order. The values are shared with the
// line; parameter changes made through them are visible to the line.
func (l *Line) Elements() []Element {
	out := make([]Element, len(l.ids))
	for i, id := range l.ids {
		out[i] = l.store.get(id)
	}
	return out
}

// At returns the name and element at index i.
func (l *Line) At(i int) (string, Element) {
	return l.names[i], l.store.get(l.ids[i])
}

// Element looks an element up by name.
func (l *Line) Element(name string) (Element, bool) {
	i, ok := l.pos[name]
	if !ok {
		return nil, false
	}
	return l.store.get(l.ids[i]), true
}

// ID returns the store id behind name.
func (l *Line) ID(name string) (ElementID, bool) {
	i, ok := l.pos[name]
	if !ok {
		return 0, false
	}
	return l.ids[i], true
}

// Index returns the position of name, or -1.
func (l *Line) Index(name string) int {
	if i, ok := l.pos[name]; ok {
		return i
	}
	return -1
}

// Length is the sum of the thick element lengths.
func (l *Line) Length() float64 {
	var s float64
	for _, id := range l.ids {
		e := l.store.get(id)
		if e.IsThick() {
			s += e.Length()
		}
	}
	return s
}

// SPositions returns the s coordinate of every element at the requested
// end.
func (l *Line) SPositions(mode SMode) []float64 {
	out := make([]float64, len(l.ids))
	var s float64
	for i, id := range l.ids {
		e := l.store.get(id)
		var ds float64
		if e.IsThick() {
			ds = e.Length()
		}
		if mode == Downstream {
			s += ds
			out[i] = s
		} else {
			out[i] = s
			s += ds
		}
	}
	return out
}

// SPosition returns the s coordinate of one element.
func (l *Line) SPosition(name string, mode SMode) (float64, error) {
	i, ok := l.pos[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return l.SPositions(mode)[i], nil
}

// ElementsOfKind returns the names of the elements of the given kinds.
func (l *Line) ElementsOfKind(kinds ...Kind) []string {
	var want [NumKinds]bool
	for _, k := range kinds {
		if k < NumKinds {
			want[k] = true
		}
	}
	var out []string
	for i, id := range l.ids {
		if k := l.store.get(id).Kind(); k < NumKinds && want[k] {
			out = append(out, l.names[i])
		}
	}
	return out
}

// HasCollective reports whether any element needs ensemble tracking.
func (l *Line) HasCollective() bool {
	for _, id := range l.ids {
		if IsCollective(l.store.get(id)) {
			return true
		}
	}
	return false
}

// IsFrozen reports whether a tracker is bound to the line.
func (l *Line) IsFrozen() bool { return l.frozen }

// Freeze binds the line to a tracker. onUnfreeze is called when the line
// is unfrozen so that the tracker can discard its compiled state.
func (l *Line) Freeze(onUnfreeze func()) error {
	if l.frozen {
		return fmt.Errorf("%w: a tracker is already bound", ErrFrozen)
	}
	l.frozen = true
	l.onUnfreeze = onUnfreeze
	return nil
}

// Unfreeze invalidates the bound tracker and makes the line editable.
func (l *Line) Unfreeze() {
	if !l.frozen {
		return
	}
	cb := l.onUnfreeze
	l.frozen = false
	l.onUnfreeze = nil
	if cb != nil {
		cb()
	}
}

// DiscardTracker is an alias of Unfreeze.
func (l *Line) DiscardTracker() { l.Unfreeze() }

// Copy returns an unfrozen line owning deep copies of every element.
func (l *Line) Copy() *Line {
	c := &Line{store: newStore()}
	es := l.entries()
	for i := range es {
		es[i].id = 0
		es[i].el = es[i].el.Clone()
	}
	c.commit(es)
	if l.Reference != nil {
		ref := *l.Reference
		c.Reference = &ref
	}
	return c
}

// ShareCopy returns an unfrozen line with its own name order that shares
// element values with l. Parameter changes through one line are seen by
// the other; structural edits are not.
func (l *Line) ShareCopy() *Line {
	c := &Line{store: l.store}
	c.commit(l.entries())
	c.Reference = l.Reference
	return c
}

// SharesElementsWith reports whether the two lines reference at least one
// common element value.
func (l *Line) SharesElementsWith(o *Line) bool {
	if l.store != o.store {
		return false
	}
	ids := make(map[ElementID]bool, len(l.ids))
	for _, id := range l.ids {
		ids[id] = true
	}
	for _, id := range o.ids {
		if ids[id] {
			return true
		}
	}
	return false
}
