// Package model defines the beamline elements and the Line that orders them.
//
// An Element is a closed tagged variant identified by its Kind. Each kind
// has a fixed packed-word layout produced by Encode; the compiler copies
// those words into a flat arena and the kernels decode them with the
// offsets declared in this file.
//
// A Line is an ordered, named sequence of elements backed by an element
// store keyed by stable ElementID. Lines are editable until a tracker is
// built on them. While frozen, every structural edit fails with ErrFrozen;
// Unfreeze discards the tracker and makes the line editable again.
//
// Lines are not safe for concurrent mutation.
package model

import (
	"strconv"

	"github.com/sbl8/beamline/core"
)

// Kind identifies an element variant. Kinds are small dense integers so
// that they can index the kernel catalog directly.
type Kind uint8

const (
	KindMarker Kind = iota
	KindDrift
	KindMultipole
	KindBend
	KindQuadrupole
	KindCavity
	KindLimitRect
	KindLimitEllipse
	KindSRotation
	KindLinearMap
	KindCollectiveKick

	// NumKinds is the number of defined kinds.
	NumKinds
)

var kindNames = [NumKinds]string{
	KindMarker:         "Marker",
	KindDrift:          "Drift",
	KindMultipole:      "Multipole",
	KindBend:           "Bend",
	KindQuadrupole:     "Quadrupole",
	KindCavity:         "Cavity",
	KindLimitRect:      "LimitRect",
	KindLimitEllipse:   "LimitEllipse",
	KindSRotation:      "SRotation",
	KindLinearMap:      "LinearMap",
	KindCollectiveKick: "CollectiveKick",
}

func (k Kind) String() string {
	if k < NumKinds {
		return kindNames[k]
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// ParseKind maps a kind name back to its Kind.
func ParseKind(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name {
			return Kind(k), true
		}
	}
	return 0, false
}

// IsAperture reports whether k removes particles outside a boundary.
func (k Kind) IsAperture() bool {
	return k == KindLimitRect || k == KindLimitEllipse
}

// Element is the contract every beamline element satisfies.
type Element interface {
	Kind() Kind
	// Length is the path length in metres; zero for thin elements.
	Length() float64
	// IsThick reports whether the element occupies path length.
	IsThick() bool
	// Encode returns the element parameters as packed words. The word count
	// for a given element only changes with structural parameters such as
	// multipole order.
	Encode() []float64
	// Backtrack returns an element whose map is the inverse of this one.
	// The second result is false when no inverse is declared.
	Backtrack() (Element, bool)
	Clone() Element
}

// Collective elements need the whole ensemble at once and cannot be
// tracked particle by particle.
type Collective interface {
	Element
	TrackEnsemble(p *core.Particles) error
}

// IsCollective reports whether e must be tracked on the whole ensemble.
func IsCollective(e Element) bool {
	_, ok := e.(Collective)
	return ok
}
