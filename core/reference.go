package core

import (
	"errors"
	"fmt"
	"math"
)

// Physical constants in SI / eV units.
const (
	ClightMS       = 299792458.0
	ProtonMassEV   = 938.27208816e6
	ElectronMassEV = 0.51099895000e6
)

// ErrReference reports an under- or over-specified reference particle.
var ErrReference = errors.New("invalid reference particle")

// Reference describes the design particle the ensemble coordinates are
// measured against. Energies are in eV, charge in units of e.
type Reference struct {
	Mass0   float64
	Q0      float64
	P0C     float64
	Energy0 float64
	Gamma0  float64
	Beta0   float64
}

// Resolve fills every energy-like field from whichever one is set.
// Exactly one of P0C, Energy0, Gamma0 and Beta0 must be non-zero.
func (r Reference) Resolve() (Reference, error) {
	if r.Mass0 <= 0 {
		return r, fmt.Errorf("%w: mass0 must be positive, got %g", ErrReference, r.Mass0)
	}
	if r.Q0 == 0 {
		r.Q0 = 1
	}
	set := 0
	for _, v := range []float64{r.P0C, r.Energy0, r.Gamma0, r.Beta0} {
		if v != 0 {
			set++
		}
	}
	if set != 1 {
		return r, fmt.Errorf("%w: exactly one of p0c, energy0, gamma0, beta0 must be set (got %d)", ErrReference, set)
	}

	m := r.Mass0
	switch {
	case r.P0C != 0:
		r.Energy0 = math.Hypot(r.P0C, m)
	case r.Energy0 != 0:
		if r.Energy0 < m {
			return r, fmt.Errorf("%w: energy0 %g below rest mass %g", ErrReference, r.Energy0, m)
		}
		r.P0C = math.Sqrt(r.Energy0*r.Energy0 - m*m)
	case r.Gamma0 != 0:
		if r.Gamma0 < 1 {
			return r, fmt.Errorf("%w: gamma0 %g below 1", ErrReference, r.Gamma0)
		}
		r.Energy0 = r.Gamma0 * m
		r.P0C = math.Sqrt(r.Energy0*r.Energy0 - m*m)
	default:
		if r.Beta0 <= 0 || r.Beta0 >= 1 {
			return r, fmt.Errorf("%w: beta0 %g outside (0, 1)", ErrReference, r.Beta0)
		}
		r.Gamma0 = 1 / math.Sqrt(1-r.Beta0*r.Beta0)
		r.Energy0 = r.Gamma0 * m
		r.P0C = r.Energy0 * r.Beta0
	}
	r.Gamma0 = r.Energy0 / m
	r.Beta0 = r.P0C / r.Energy0
	return r, nil
}

// Proton returns a resolved proton reference at the given momentum.
func Proton(p0c float64) Reference {
	r, err := Reference{Mass0: ProtonMassEV, Q0: 1, P0C: p0c}.Resolve()
	if err != nil {
		panic(err)
	}
	return r
}
