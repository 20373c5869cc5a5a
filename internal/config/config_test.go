package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbl8/beamline/core"
	"github.com/sbl8/beamline/model"
	"github.com/sbl8/beamline/runtime"
	"github.com/sbl8/beamline/solver"
)

const fodoDoc = `
[backend]
kind = "threaded"
workers = 3

[tracking]
turns = 10
particles = 5
amplitude_x = 1e-3

[solver]
enabled = true
method = "4d"

[reference]
particle = "proton"
p0c = 450e9

[[element]]
name = "d1"
kind = "Drift"
length = 2.0

[[element]]
name = "qf"
kind = "Quadrupole"
length = 0.5
k1 = 0.05

[[element]]
name = "d2"
kind = "Drift"
length = 2.0

[[element]]
name = "bpm"
kind = "Marker"
at_s = 1.0

[[element]]
name = "ap"
kind = "LimitEllipse"
a = 0.02
b = 0.01
at_s = 3.0
`

func TestDefault(t *testing.T) {
	t.Parallel()
	cfg := Default()
	require.NoError(t, cfg.Validate())
	ref, err := cfg.ReferenceParticle()
	require.NoError(t, err)
	assert.Equal(t, core.ProtonMassEV, ref.Mass0)
	assert.Equal(t, 1, cfg.Tracking.Turns)
}

func TestParseOverlay(t *testing.T) {
	t.Parallel()
	cfg, err := Parse(fodoDoc)
	require.NoError(t, err)

	assert.Equal(t, "threaded", cfg.Backend.Kind)
	assert.Equal(t, 3, cfg.Backend.Workers)
	assert.Equal(t, 10, cfg.Tracking.Turns)
	assert.Equal(t, 1.0, cfg.Tracking.GlobalXYLimit)
	assert.True(t, cfg.Solver.Enabled)
	assert.Equal(t, solver.DefaultSteps, cfg.Solver.Steps)
	assert.Len(t, cfg.Elements, 5)

	opts, err := cfg.ContextOptions(zerolog.Nop(), nil)
	require.NoError(t, err)
	assert.Equal(t, runtime.BackendThreaded, opts.Backend)
	assert.Equal(t, 3, opts.Workers)

	s, err := cfg.SolverSettings(zerolog.Nop(), nil)
	require.NoError(t, err)
	assert.Equal(t, solver.Method4D, s.Method)
}

func TestFreezeLongitudinalOption(t *testing.T) {
	t.Parallel()
	cfg, err := Parse(fodoDoc)
	require.NoError(t, err)
	assert.Empty(t, cfg.BuildOptions())

	frozen, err := Parse("[tracking]\nfreeze_longitudinal = true\n")
	require.NoError(t, err)
	assert.True(t, frozen.Tracking.FreezeLongitudinal)

	cfg.Tracking.FreezeLongitudinal = true
	require.NoError(t, cfg.Validate())
	require.Len(t, cfg.BuildOptions(), 1)

	line, err := cfg.BuildLine()
	require.NoError(t, err)
	ctxOpts, err := cfg.ContextOptions(zerolog.Nop(), nil)
	require.NoError(t, err)
	tr, err := runtime.BuildTracker(runtime.NewContext(ctxOpts), line, cfg.BuildOptions()...)
	require.NoError(t, err)
	ref, err := cfg.ReferenceParticle()
	require.NoError(t, err)
	p := cfg.Ensemble(ref)
	p.Delta[0] = 1e-3
	require.NoError(t, tr.Track(p, runtime.WithNumTurns(3)))
	assert.Equal(t, 1e-3, p.Delta[0])
	assert.Zero(t, p.Zeta[0])
}

func TestBuildLinePlacesAtS(t *testing.T) {
	t.Parallel()
	cfg, err := Parse(fodoDoc)
	require.NoError(t, err)
	line, err := cfg.BuildLine()
	require.NoError(t, err)

	want := []string{"d1_part0", "bpm", "d1_part1", "qf", "d2_part0", "ap", "d2_part1"}
	if diff := cmp.Diff(want, line.Names()); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}
	assert.InDelta(t, 4.5, line.Length(), 1e-12)
	s, err := line.SPosition("ap", model.Upstream)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, s, 1e-12)
}

func TestLoadFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "line.toml")
	require.NoError(t, os.WriteFile(path, []byte(fodoDoc), 0o600))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Tracking.Particles)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestParseErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown backend", "[backend]\nkind = \"quantum\"\n"},
		{"zero turns", "[tracking]\nturns = 0\n"},
		{"bad method", "[solver]\nmethod = \"2d\"\n"},
		{"short steps", "[solver]\nsteps = [1e-7, 1e-10]\n"},
		{"unknown kind", "[[element]]\nname = \"x\"\nkind = \"Wiggler\"\n"},
		{"unknown key", "[tracking]\nturn = 3\n"},
		{"two energies", "[reference]\nparticle = \"proton\"\np0c = 1e9\ngamma0 = 2.0\n"},
		{"frozen 6d orbit", "[tracking]\nfreeze_longitudinal = true\n[solver]\nenabled = true\nmethod = \"6d\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse(tt.doc)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
	_, err := Parse("[tracking\n")
	assert.Error(t, err)
}

func TestElementKinds(t *testing.T) {
	t.Parallel()
	tests := []struct {
		cfg  ElementConfig
		want model.Element
	}{
		{ElementConfig{Kind: "Bend", Length: 1, K0: 0.2, H: 0.1}, &model.Bend{K0: 0.2, H: 0.1, L: 1}},
		{ElementConfig{Kind: "Multipole", Knl: []float64{0, 0.1}}, &model.Multipole{Knl: []float64{0, 0.1}}},
		{ElementConfig{Kind: "Cavity", Voltage: 1e6, Frequency: 4e8, Lag: 180}, &model.Cavity{Voltage: 1e6, Frequency: 4e8, Lag: 180}},
		{ElementConfig{Kind: "LimitRect", MinX: -1, MaxX: 1, MinY: -2, MaxY: 2}, &model.LimitRect{MinX: -1, MaxX: 1, MinY: -2, MaxY: 2}},
		{ElementConfig{Kind: "SRotation", Angle: 90}, &model.SRotation{Angle: 90}},
		{ElementConfig{Kind: "CollectiveKick", KX: 0.1, Length: 1}, &model.CollectiveKick{KX: 0.1, L: 1}},
	}
	for _, tt := range tests {
		got, err := tt.cfg.Element()
		require.NoError(t, err, tt.cfg.Kind)
		assert.Equal(t, tt.want, got)
	}

	lm, err := ElementConfig{Kind: "LinearMap", Offset: []float64{1, 0, 0, 0, 0, 0}}.Element()
	require.NoError(t, err)
	assert.Equal(t, 1.0, lm.(*model.LinearMap).M[3][3])
	assert.Equal(t, 1.0, lm.(*model.LinearMap).Offset[0])

	_, err = ElementConfig{Kind: "LinearMap", Matrix: [][]float64{{1}}}.Element()
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestEnsemble(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.Tracking.Particles = 3
	cfg.Tracking.AmplitudeX = 2e-3
	cfg.Tracking.Delta = 1e-4
	p := cfg.Ensemble(core.Proton(1e9))
	assert.Equal(t, []float64{-2e-3, 0, 2e-3}, p.X)
	assert.Equal(t, []float64{1e-4, 1e-4, 1e-4}, p.Delta)
}
