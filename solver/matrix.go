package solver

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/sbl8/beamline/core"
)

// DefaultSteps are the finite-difference steps for x, px, y, py, zeta and
// delta.
var DefaultSteps = [6]float64{1e-7, 1e-10, 1e-7, 1e-10, 1e-6, 1e-7}

// OneTurnMap advances particles through one full turn.
type OneTurnMap interface {
	TrackOneTurn(p *core.Particles) error
}

// probe tracks x and its 12 symmetric perturbations in one ensemble.
// Particle 0 is the centre; particles 2i+1 and 2i+2 carry +steps[i] and
// -steps[i] on coordinate i.
func probe(m OneTurnMap, ref core.Reference, x, steps [6]float64) (*core.Particles, error) {
	coords := make([][6]float64, 13)
	coords[0] = x
	for i := 0; i < 6; i++ {
		plus, minus := x, x
		plus[i] += steps[i]
		minus[i] -= steps[i]
		coords[2*i+1] = plus
		coords[2*i+2] = minus
	}
	p := core.FromCoordinates(ref, coords...)
	if err := m.TrackOneTurn(p); err != nil {
		return nil, err
	}
	for i := 0; i < p.Len(); i++ {
		if !p.IsActive(i) {
			return nil, fmt.Errorf("%w: probe particle %d lost at element %d", ErrParticleLost, i, p.AtElement[i])
		}
	}
	return p, nil
}

// rMatrix takes column i as (M(x+step_i) - M(x-step_i)) / (2 step_i).
func rMatrix(p *core.Particles, steps [6]float64) *mat.Dense {
	r := mat.NewDense(6, 6, nil)
	for i := 0; i < 6; i++ {
		plus, minus := p.Coordinates(2*i+1), p.Coordinates(2*i+2)
		for row := 0; row < 6; row++ {
			r.Set(row, i, (plus[row]-minus[row])/(2*steps[i]))
		}
	}
	return r
}

// OneTurnMatrix returns the linear one-turn matrix around x by symmetric
// finite differences. Zero steps fall back to DefaultSteps.
func OneTurnMatrix(m OneTurnMap, ref core.Reference, x, steps [6]float64) (*mat.Dense, error) {
	steps = fillSteps(steps)
	p, err := probe(m, ref, x, steps)
	if err != nil {
		return nil, err
	}
	return rMatrix(p, steps), nil
}

func fillSteps(steps [6]float64) [6]float64 {
	for i, s := range steps {
		if s <= 0 {
			steps[i] = DefaultSteps[i]
		}
	}
	return steps
}
