package kernels

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbl8/beamline/core"
	"github.com/sbl8/beamline/model"
)

const tolerance = 1e-12

func track(e model.Element, p *core.Particles, i int) {
	Catalog[e.Kind()](e.Encode(), p, i)
}

func sample() *core.Particles {
	return core.FromCoordinates(core.Proton(7e12),
		[6]float64{0.01, 0.02, 0.03, 0.04, 0.05, 0.01},
		[6]float64{-1e-3, 2e-4, 5e-4, -3e-4, 0.1, -2e-3},
	)
}

func TestCatalogCoversEveryLocalKind(t *testing.T) {
	t.Parallel()
	for k := model.Kind(0); k < model.NumKinds; k++ {
		if k == model.KindCollectiveKick {
			assert.Nil(t, Lookup(k))
			continue
		}
		assert.NotNil(t, Lookup(k), k.String())
	}
	assert.Nil(t, Lookup(model.NumKinds+3))
}

func TestDrift(t *testing.T) {
	t.Parallel()
	p := core.FromCoordinates(core.Proton(1e9), [6]float64{0, 0.1, 0, -0.2, 0, 0})
	track(&model.Drift{L: 2}, p, 0)
	assert.InDelta(t, 0.2, p.X[0], tolerance)
	assert.InDelta(t, -0.4, p.Y[0], tolerance)
	assert.InDelta(t, -0.05, p.Zeta[0], tolerance)
	assert.Equal(t, 2.0, p.S[0])
}

func TestMultipoleQuadrupoleKick(t *testing.T) {
	t.Parallel()
	p := core.FromCoordinates(core.Proton(1e9), [6]float64{0.01, 0, 0.02, 0, 0, 0})
	track(&model.Multipole{Knl: []float64{0, 0.5}}, p, 0)
	assert.InDelta(t, -0.005, p.Px[0], tolerance)
	assert.InDelta(t, 0.01, p.Py[0], tolerance)
}

func TestMultipoleSextupoleKick(t *testing.T) {
	t.Parallel()
	p := core.FromCoordinates(core.Proton(1e9), [6]float64{0.01, 0, 0.02, 0, 0, 0})
	track(&model.Multipole{Knl: []float64{0, 0, 2}}, p, 0)
	// k2l/2 (x^2 - y^2) and k2l x y
	assert.InDelta(t, -(0.01*0.01 - 0.02*0.02), p.Px[0], tolerance)
	assert.InDelta(t, 2*0.01*0.02, p.Py[0], tolerance)
}

func TestBacktrackInvertsEveryMap(t *testing.T) {
	t.Parallel()
	elements := map[string]model.Element{
		"drift":      &model.Drift{L: 1.3},
		"bend":       &model.Bend{K0: 0.2, K1: 0.05, H: 0.1, L: 1, Slices: 7},
		"quadrupole": &model.Quadrupole{K1: 0.2, L: 1},
		"multipole":  &model.Multipole{Knl: []float64{0.01, 0.2, 1.5}, Ksl: []float64{0.02, 0.1}, Hxl: 0.01, Hyl: 0.02, L: 1},
		"cavity":     &model.Cavity{Voltage: 5e6, Frequency: 400e6, Lag: 30},
		"srotation":  &model.SRotation{Angle: 17},
		"marker":     &model.Marker{},
	}
	for name, e := range elements {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			p := sample()
			orig := p.Copy()
			back, ok := e.Backtrack()
			require.True(t, ok)
			for i := 0; i < p.Len(); i++ {
				track(e, p, i)
				track(back, p, i)
				require.True(t, p.IsActive(i))
				got, want := p.Coordinates(i), orig.Coordinates(i)
				for c := range got {
					assert.InDelta(t, want[c], got[c], 1e-12, "coordinate %d", c)
				}
				assert.InDelta(t, 0, p.S[i], 1e-12)
			}
		})
	}
}

func TestApertures(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		el     model.Element
		x, y   float64
		active bool
	}{
		{"rect inside", &model.LimitRect{MinX: -0.01, MaxX: 0.01, MinY: -0.02, MaxY: 0.02}, 0.005, -0.015, true},
		{"rect outside x", &model.LimitRect{MinX: -0.01, MaxX: 0.01, MinY: -0.02, MaxY: 0.02}, 0.011, 0, false},
		{"rect nan", &model.LimitRect{MinX: -0.01, MaxX: 0.01, MinY: -0.02, MaxY: 0.02}, math.NaN(), 0, false},
		{"ellipse inside", &model.LimitEllipse{A: 0.02, B: 0.01}, 0.01, 0.005, true},
		{"ellipse outside", &model.LimitEllipse{A: 0.02, B: 0.01}, 0.015, 0.008, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := core.FromCoordinates(core.Proton(1e9), [6]float64{tt.x, 0, tt.y})
			track(tt.el, p, 0)
			assert.Equal(t, tt.active, p.IsActive(0))
		})
	}
}

func TestGlobalAperture(t *testing.T) {
	t.Parallel()
	p := core.FromCoordinates(core.Proton(1e9),
		[6]float64{0.5, 0, 0.5}, [6]float64{1.5}, [6]float64{0, 0, -2}, [6]float64{math.Inf(1)})
	for i := 0; i < p.Len(); i++ {
		GlobalAperture(p, i, 1.0)
	}
	assert.Equal(t, []int64{core.StateActive, core.StateLostGlobal, core.StateLostGlobal, core.StateLostGlobal}, p.State)
	assert.True(t, NeedsGlobalAperture(model.KindDrift))
	assert.False(t, NeedsGlobalAperture(model.KindBend))
}

func TestLinearMap(t *testing.T) {
	t.Parallel()
	m := model.IdentityMap()
	m.M[0][1] = 2
	m.Offset[5] = 1e-3
	m.L = 10
	p := core.FromCoordinates(core.Proton(1e9), [6]float64{1, 0.5, 0, 0, 0, 0})
	track(m, p, 0)
	assert.Equal(t, [6]float64{2, 0.5, 0, 0, 0, 1e-3}, p.Coordinates(0))
	assert.Equal(t, 10.0, p.S[0])
}

func TestSRotation(t *testing.T) {
	t.Parallel()
	p := core.FromCoordinates(core.Proton(1e9), [6]float64{1, 0, 0, 1, 0, 0})
	track(&model.SRotation{Angle: 90}, p, 0)
	assert.InDelta(t, 0, p.X[0], tolerance)
	assert.InDelta(t, -1, p.Y[0], tolerance)
	assert.InDelta(t, 1, p.Px[0], tolerance)
	assert.InDelta(t, 0, p.Py[0], tolerance)
}

func TestCavityOnCrestGainsEnergy(t *testing.T) {
	t.Parallel()
	p := core.NewParticles(1, core.Proton(1e9))
	track(&model.Cavity{Voltage: 1e6, Frequency: 200e6, Lag: 90}, p, 0)
	assert.Greater(t, p.Delta[0], 0.0)

	p = core.NewParticles(1, core.Proton(1e9))
	track(&model.Cavity{Voltage: 1e6, Frequency: 200e6, Lag: 0}, p, 0)
	assert.InDelta(t, 0, p.Delta[0], tolerance)
}

func TestChunkSize(t *testing.T) {
	t.Parallel()
	assert.Equal(t, BatchSize(), ChunkSize(3, 8))
	size := ChunkSize(10000, 3)
	assert.Zero(t, size%core.WordsPerLine)
	assert.GreaterOrEqual(t, size*3, 10000)
}

func BenchmarkBend(b *testing.B) {
	p := sample()
	w := (&model.Bend{K0: 0.2, H: 0.1, L: 1}).Encode()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bend(w, p, 0)
	}
}

func BenchmarkMultipole(b *testing.B) {
	p := sample()
	w := (&model.Multipole{Knl: []float64{0, 0.1, 0.5, 2}}).Encode()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		multipole(w, p, 0)
	}
}
