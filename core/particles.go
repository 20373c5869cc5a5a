package core

import (
	"errors"
	"fmt"
)

// Particle state codes. Positive states are active; anything else is lost
// and never becomes active again during tracking.
const (
	StateActive     int64 = 1
	StateLost       int64 = 0
	StateLostGlobal int64 = -1
)

// Coordinate indices into a phase-space vector.
const (
	IX = iota
	IPx
	IY
	IPy
	IZeta
	IDelta
)

// ErrParticles reports inconsistent ensemble buffers.
var ErrParticles = errors.New("inconsistent particle ensemble")

// Particles is an ensemble stored as a structure of arrays. Every slice has
// the same length; index i across all slices is one particle.
type Particles struct {
	X, Px, Y, Py, Zeta, Delta, S []float64

	State      []int64
	AtElement  []int64
	AtTurn     []int64
	ParticleID []int64

	Ref Reference
}

// NewParticles allocates n active particles at the origin with ids 0..n-1.
func NewParticles(n int, ref Reference) *Particles {
	p := &Particles{
		X:          make([]float64, n),
		Px:         make([]float64, n),
		Y:          make([]float64, n),
		Py:         make([]float64, n),
		Zeta:       make([]float64, n),
		Delta:      make([]float64, n),
		S:          make([]float64, n),
		State:      make([]int64, n),
		AtElement:  make([]int64, n),
		AtTurn:     make([]int64, n),
		ParticleID: make([]int64, n),
		Ref:        ref,
	}
	for i := 0; i < n; i++ {
		p.State[i] = StateActive
		p.ParticleID[i] = int64(i)
	}
	return p
}

// FromCoordinates builds an ensemble with one particle per vector.
func FromCoordinates(ref Reference, coords ...[6]float64) *Particles {
	p := NewParticles(len(coords), ref)
	for i, c := range coords {
		p.SetCoordinates(i, c)
	}
	return p
}

// Len returns the number of particles, active or not.
func (p *Particles) Len() int { return len(p.X) }

// IsActive reports whether particle i is still being tracked.
func (p *Particles) IsActive(i int) bool { return p.State[i] > 0 }

// MarkLost sets a non-positive state on particle i.
func (p *Particles) MarkLost(i int, state int64) {
	if state > 0 {
		state = StateLost
	}
	p.State[i] = state
}

// Coordinates returns the phase-space vector of particle i.
func (p *Particles) Coordinates(i int) [6]float64 {
	return [6]float64{p.X[i], p.Px[i], p.Y[i], p.Py[i], p.Zeta[i], p.Delta[i]}
}

// SetCoordinates overwrites the phase-space vector of particle i.
func (p *Particles) SetCoordinates(i int, v [6]float64) {
	p.X[i], p.Px[i], p.Y[i], p.Py[i], p.Zeta[i], p.Delta[i] = v[0], v[1], v[2], v[3], v[4], v[5]
}

// NumActive counts active particles.
func (p *Particles) NumActive() int {
	n := 0
	for _, s := range p.State {
		if s > 0 {
			n++
		}
	}
	return n
}

// ActiveIDRange returns the half-open id interval [lo, hi) spanned by the
// active particles. Both are zero when nothing is active.
func (p *Particles) ActiveIDRange() (lo, hi int64) {
	first := true
	for i, id := range p.ParticleID {
		if p.State[i] <= 0 {
			continue
		}
		if first || id < lo {
			lo = id
		}
		if first || id+1 > hi {
			hi = id + 1
		}
		first = false
	}
	return lo, hi
}

// MinActiveTurn returns the smallest AtTurn among active particles.
func (p *Particles) MinActiveTurn() int64 {
	var min int64
	first := true
	for i, t := range p.AtTurn {
		if p.State[i] > 0 && (first || t < min) {
			min = t
			first = false
		}
	}
	return min
}

// Validate checks that every buffer has the same length.
func (p *Particles) Validate() error {
	n := len(p.X)
	lens := []int{len(p.Px), len(p.Y), len(p.Py), len(p.Zeta), len(p.Delta), len(p.S),
		len(p.State), len(p.AtElement), len(p.AtTurn), len(p.ParticleID)}
	for _, l := range lens {
		if l != n {
			return fmt.Errorf("%w: buffer length %d, want %d", ErrParticles, l, n)
		}
	}
	return nil
}

// Copy returns an independent deep copy.
func (p *Particles) Copy() *Particles {
	return &Particles{
		X:          cloneF(p.X),
		Px:         cloneF(p.Px),
		Y:          cloneF(p.Y),
		Py:         cloneF(p.Py),
		Zeta:       cloneF(p.Zeta),
		Delta:      cloneF(p.Delta),
		S:          cloneF(p.S),
		State:      cloneI(p.State),
		AtElement:  cloneI(p.AtElement),
		AtTurn:     cloneI(p.AtTurn),
		ParticleID: cloneI(p.ParticleID),
		Ref:        p.Ref,
	}
}

func cloneF(s []float64) []float64 { return append([]float64(nil), s...) }
func cloneI(s []int64) []int64     { return append([]int64(nil), s...) }
