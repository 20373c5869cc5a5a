package solver

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/sbl8/beamline/core"
	"github.com/sbl8/beamline/model"
	"github.com/sbl8/beamline/runtime"
)

var ref = core.Proton(450e9)

func build(t *testing.T, els ...model.Element) *runtime.Tracker {
	t.Helper()
	line, err := model.NewLine(els, nil)
	require.NoError(t, err)
	tr, err := runtime.BuildTracker(runtime.NewContext(runtime.DefaultContextOptions()), line)
	require.NoError(t, err)
	return tr
}

// linearRing has one-turn map v' = A v + b with two transverse rotations
// and a longitudinal shear, so I - A is invertible.
func linearRing() (*model.LinearMap, *mat.Dense, *mat.VecDense) {
	lm := &model.LinearMap{}
	rot := func(k int, mu float64) {
		c, s := math.Cos(mu), math.Sin(mu)
		lm.M[k][k], lm.M[k][k+1] = c, s
		lm.M[k+1][k], lm.M[k+1][k+1] = -s, c
	}
	rot(0, 0.31*2*math.Pi)
	rot(2, 0.28*2*math.Pi)
	lm.M[4][4], lm.M[4][5] = 1, 0.1
	lm.M[5][4], lm.M[5][5] = -0.05, 1
	lm.Offset = [6]float64{1e-3, -2e-4, 5e-4, 1e-4, 1e-2, 1e-4}

	a := mat.NewDense(6, 6, nil)
	for r := 0; r < 6; r++ {
		for c := 0; c < 6; c++ {
			a.Set(r, c, lm.M[r][c])
		}
	}
	return lm, a, mat.NewVecDense(6, lm.Offset[:])
}

type countingRecorder struct {
	calls      int
	iterations int
	converged  bool
}

func (c *countingRecorder) RecordSolve(it int, ok bool, _ time.Duration) {
	c.calls++
	c.iterations, c.converged = it, ok
}

func TestFindClosedOrbitLinear(t *testing.T) {
	t.Parallel()
	lm, a, b := linearRing()
	tr := build(t, lm)

	// Fixed point of A v + b is (I - A)^-1 b.
	var iMinusA mat.Dense
	iMinusA.Sub(eye(6), a)
	var want mat.VecDense
	require.NoError(t, want.SolveVec(&iMinusA, b))

	rec := &countingRecorder{}
	s := DefaultSettings()
	s.Recorder = rec
	res, err := FindClosedOrbit(tr, core.NewParticles(1, ref), s)
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.LessOrEqual(t, res.Iterations, 3)
	for i := 0; i < 6; i++ {
		assert.InDelta(t, want.AtVec(i), res.Vector[i], 1e-9, "coordinate %d", i)
	}
	assert.Equal(t, 1, rec.calls)
	assert.True(t, rec.converged)

	// The result is a fixed point of the one-turn map.
	p := res.Particle.Copy()
	require.NoError(t, tr.TrackOneTurn(p))
	got := p.Coordinates(0)
	assert.True(t, floats.EqualApprox(got[:], res.Vector[:], 1e-10))
}

func TestOneTurnMatrixLinear(t *testing.T) {
	t.Parallel()
	lm, a, _ := linearRing()
	tr := build(t, lm)

	r, err := OneTurnMatrix(tr, ref, [6]float64{}, [6]float64{})
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(a, r, 1e-6))
}

func TestFindClosedOrbit4DKickedFODO(t *testing.T) {
	t.Parallel()
	tr := build(t,
		&model.Drift{L: 1},
		&model.Quadrupole{K1: 0.05, L: 0.5},
		&model.Multipole{Knl: []float64{2e-5}, Ksl: []float64{-1e-5}},
		&model.Drift{L: 2},
		&model.Quadrupole{K1: -0.05, L: 0.5},
		&model.Drift{L: 1},
	)
	s := DefaultSettings()
	s.Method = Method4D
	s.Tol = 1e-12
	res, err := FindClosedOrbit(tr, core.NewParticles(1, ref), s)
	require.NoError(t, err)
	assert.NotZero(t, res.Vector[core.IX])
	assert.NotZero(t, res.Vector[core.IY])
	assert.Zero(t, res.Vector[core.IDelta])

	p := res.Particle.Copy()
	require.NoError(t, tr.TrackOneTurn(p))
	got := p.Coordinates(0)
	for i := 0; i < 4; i++ {
		assert.InDelta(t, res.Vector[i], got[i], 1e-11, "coordinate %d", i)
	}
}

func TestFindClosedOrbitNoFixedPoint(t *testing.T) {
	t.Parallel()
	lm := model.IdentityMap()
	lm.Offset[core.IX] = 1e-3
	tr := build(t, lm)

	_, err := FindClosedOrbit(tr, core.NewParticles(1, ref), DefaultSettings())
	assert.ErrorIs(t, err, ErrClosedOrbitNotFound)

	s := DefaultSettings()
	s.ContinueOnError = true
	res, err := FindClosedOrbit(tr, core.NewParticles(1, ref), s)
	require.NoError(t, err)
	assert.False(t, res.Converged)
	assert.InDelta(t, 1e-3, res.Residual, 1e-15)
	require.NotNil(t, res.Particle)
}

func TestFindClosedOrbitLostProbe(t *testing.T) {
	t.Parallel()
	tr := build(t, &model.LimitRect{MinX: -1e-3, MaxX: 1e-3, MinY: -1e-3, MaxY: 1e-3})
	guess := core.FromCoordinates(ref, [6]float64{5e-3})
	_, err := FindClosedOrbit(tr, guess, DefaultSettings())
	assert.ErrorIs(t, err, ErrClosedOrbitNotFound)
	assert.ErrorIs(t, err, ErrParticleLost)
}

func TestParseMethod(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    Method
		wantErr bool
	}{
		{"6d", Method6D, false},
		{"4d", Method4D, false},
		{"", Method6D, false},
		{"5d", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMethod(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func eye(n int) *mat.Dense {
	d := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		d.Set(i, i, 1)
	}
	return d
}
