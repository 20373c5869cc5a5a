// Package solver finds closed orbits of a one-turn map.
//
// The map is any tracker exposing TrackOneTurn. A Newton iteration solves
// M(p) - p = 0 using the finite-difference one-turn matrix as Jacobian.
// Every iteration tracks a single ensemble of 13 particles: the current
// estimate and its symmetric perturbations.
package solver

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/sbl8/beamline/core"
)

var (
	// ErrClosedOrbitNotFound is returned when the iteration does not reach
	// the tolerance.
	ErrClosedOrbitNotFound = errors.New("closed orbit not found")
	// ErrParticleLost is returned when a probe particle is lost during the
	// one-turn map.
	ErrParticleLost = errors.New("probe particle lost")
)

// Method selects the solved coordinates.
type Method string

const (
	// Method6D solves all six coordinates.
	Method6D Method = "6d"
	// Method4D solves the transverse coordinates with delta fixed at
	// Settings.Delta0. zeta is carried from the guess and not solved.
	Method4D Method = "4d"
)

// ParseMethod parses "6d" or "4d".
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case Method6D, Method4D:
		return Method(s), nil
	case "":
		return Method6D, nil
	}
	return "", fmt.Errorf("unknown closed orbit method %q", s)
}

func (m Method) dims() int {
	if m == Method4D {
		return 4
	}
	return 6
}

// Recorder receives solver metrics.
type Recorder interface {
	RecordSolve(iterations int, converged bool, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordSolve(int, bool, time.Duration) {}

// Settings configure FindClosedOrbit.
type Settings struct {
	Tol     float64
	MaxIter int
	Method  Method
	Delta0  float64
	Steps   [6]float64
	// ContinueOnError returns the best estimate with Converged false
	// instead of ErrClosedOrbitNotFound.
	ContinueOnError bool
	Logger          zerolog.Logger
	Recorder        Recorder
}

// DefaultSettings returns a 6d solve with tolerance 1e-11 and 20 iterations.
func DefaultSettings() Settings {
	return Settings{
		Tol:      1e-11,
		MaxIter:  20,
		Method:   Method6D,
		Steps:    DefaultSteps,
		Logger:   zerolog.Nop(),
		Recorder: nopRecorder{},
	}
}

func (s Settings) normalize() Settings {
	def := DefaultSettings()
	if s.Tol <= 0 {
		s.Tol = def.Tol
	}
	if s.MaxIter <= 0 {
		s.MaxIter = def.MaxIter
	}
	if s.Method == "" {
		s.Method = def.Method
	}
	if s.Recorder == nil {
		s.Recorder = def.Recorder
	}
	s.Steps = fillSteps(s.Steps)
	return s
}

// Result is the outcome of FindClosedOrbit.
type Result struct {
	// Particle holds the closed orbit as a single particle.
	Particle *core.Particles
	Vector   [6]float64
	// R is the one-turn matrix at the last evaluated point.
	R          *mat.Dense
	Residual   float64
	Iterations int
	Converged  bool
}

// FindClosedOrbit searches a fixed point of m starting from particle 0 of
// guess, whose reference is used for every probe.
func FindClosedOrbit(m OneTurnMap, guess *core.Particles, s Settings) (*Result, error) {
	if guess == nil || guess.Len() == 0 {
		return nil, fmt.Errorf("closed orbit: %w", core.ErrParticles)
	}
	s = s.normalize()
	began := time.Now()
	ref := guess.Ref
	x := guess.Coordinates(0)
	if s.Method == Method4D {
		x[core.IDelta] = s.Delta0
	}
	n := s.Method.dims()

	res := &Result{Vector: x, Residual: math.Inf(1)}
	var solveErr error
	for res.Iterations = 0; res.Iterations <= s.MaxIter; res.Iterations++ {
		p, err := probe(m, ref, x, s.Steps)
		if err != nil {
			solveErr = err
			break
		}
		out := p.Coordinates(0)
		f := make([]float64, n)
		for i := range f {
			f[i] = out[i] - x[i]
		}
		res.Vector = x
		res.Residual = floats.Norm(f, math.Inf(1))
		res.R = rMatrix(p, s.Steps)
		s.Logger.Debug().
			Int("iteration", res.Iterations).
			Float64("residual", res.Residual).
			Msg("closed orbit iteration")
		if res.Residual < s.Tol {
			res.Converged = true
			break
		}
		if res.Iterations == s.MaxIter {
			break
		}

		step, err := newtonStep(res.R, f, n)
		if err != nil {
			solveErr = err
			break
		}
		for i := 0; i < n; i++ {
			x[i] -= step[i]
		}
	}

	s.Recorder.RecordSolve(res.Iterations, res.Converged, time.Since(began))
	res.Particle = core.FromCoordinates(ref, res.Vector)
	if res.Converged {
		return res, nil
	}
	err := fmt.Errorf("%w: residual %.3g after %d iterations", ErrClosedOrbitNotFound, res.Residual, res.Iterations)
	if solveErr != nil {
		err = fmt.Errorf("%w: %w", ErrClosedOrbitNotFound, solveErr)
	}
	s.Logger.Warn().Err(err).Bool("continue", s.ContinueOnError).Msg("closed orbit search failed")
	if s.ContinueOnError {
		return res, nil
	}
	return nil, err
}

// newtonStep solves (R - I) dx = f on the leading n coordinates.
func newtonStep(r *mat.Dense, f []float64, n int) ([]float64, error) {
	j := mat.NewDense(n, n, nil)
	for row := 0; row < n; row++ {
		for col := 0; col < n; col++ {
			v := r.At(row, col)
			if row == col {
				v--
			}
			j.Set(row, col, v)
		}
	}
	var lu mat.LU
	lu.Factorize(j)
	if c := lu.Cond(); math.IsInf(c, 1) || c > 1e15 {
		return nil, errors.New("singular jacobian")
	}
	var dx mat.VecDense
	if err := lu.SolveVecTo(&dx, false, mat.NewVecDense(n, f)); err != nil {
		return nil, fmt.Errorf("newton step: %w", err)
	}
	return mat.Col(nil, 0, &dx), nil
}
