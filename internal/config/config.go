// Package config loads beamline run descriptions from TOML.
//
// A file names the backend, the tracking request, the solver settings, the
// reference particle and the element list:
//
//	[backend]
//	kind = "threaded"
//	workers = 8
//
//	[tracking]
//	turns = 100
//	particles = 64
//	amplitude_x = 1e-3
//
//	[reference]
//	particle = "proton"
//	p0c = 7e12
//
//	[[element]]
//	name = "qf"
//	kind = "Quadrupole"
//	length = 0.5
//	k1 = 0.05
//
// Elements with at_s are placed after the plain sequence is built, splitting
// drifts as needed.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"github.com/sbl8/beamline/core"
	"github.com/sbl8/beamline/model"
	"github.com/sbl8/beamline/runtime"
	"github.com/sbl8/beamline/solver"
)

// ErrInvalid marks validation failures.
var ErrInvalid = errors.New("invalid config")

type Config struct {
	Backend   BackendConfig
	Tracking  TrackingConfig
	Solver    SolverConfig
	Reference ReferenceConfig
	Elements  []ElementConfig
}

type BackendConfig struct {
	Kind    string
	Workers int
}

type TrackingConfig struct {
	Turns         int
	Particles     int
	AmplitudeX    float64
	AmplitudeY    float64
	Delta         float64
	GlobalXYLimit float64
	Monitor       bool

	FreezeLongitudinal bool
}

type SolverConfig struct {
	Enabled         bool
	Tolerance       float64
	MaxIter         int
	Method          string
	Steps           [6]float64
	ContinueOnError bool
}

// ReferenceConfig holds exactly one energy-like input.
type ReferenceConfig struct {
	Particle string
	Mass0    float64
	Q0       float64
	P0C      float64
	Energy0  float64
	Gamma0   float64
	Beta0    float64
}

// ElementConfig is a flat parameter bag; each kind reads its own fields.
type ElementConfig struct {
	Name      string      `toml:"name"`
	Kind      string      `toml:"kind"`
	AtS       *float64    `toml:"at_s"`
	Length    float64     `toml:"length"`
	K0        float64     `toml:"k0"`
	K1        float64     `toml:"k1"`
	H         float64     `toml:"h"`
	Slices    int         `toml:"slices"`
	Knl       []float64   `toml:"knl"`
	Ksl       []float64   `toml:"ksl"`
	Hxl       float64     `toml:"hxl"`
	Hyl       float64     `toml:"hyl"`
	Voltage   float64     `toml:"voltage"`
	Frequency float64     `toml:"frequency"`
	Lag       float64     `toml:"lag"`
	MinX      float64     `toml:"min_x"`
	MaxX      float64     `toml:"max_x"`
	MinY      float64     `toml:"min_y"`
	MaxY      float64     `toml:"max_y"`
	A         float64     `toml:"a"`
	B         float64     `toml:"b"`
	Angle     float64     `toml:"angle"`
	Matrix    [][]float64 `toml:"matrix"`
	Offset    []float64   `toml:"offset"`
	KX        float64     `toml:"kx"`
	KY        float64     `toml:"ky"`
}

// Default returns a single-turn serial run of one proton at 7 TeV with the
// solver off.
func Default() Config {
	s := solver.DefaultSettings()
	return Config{
		Backend:   BackendConfig{Kind: runtime.BackendSerial.String()},
		Tracking:  TrackingConfig{Turns: 1, Particles: 1, GlobalXYLimit: runtime.DefaultContextOptions().GlobalXYLimit},
		Solver:    SolverConfig{Tolerance: s.Tol, MaxIter: s.MaxIter, Method: string(s.Method), Steps: s.Steps},
		Reference: ReferenceConfig{Particle: "proton", P0C: 7e12},
	}
}

type fileConfig struct {
	Backend struct {
		Kind    string `toml:"kind"`
		Workers int    `toml:"workers"`
	} `toml:"backend"`
	Tracking struct {
		Turns         int     `toml:"turns"`
		Particles     int     `toml:"particles"`
		AmplitudeX    float64 `toml:"amplitude_x"`
		AmplitudeY    float64 `toml:"amplitude_y"`
		Delta         float64 `toml:"delta"`
		GlobalXYLimit float64 `toml:"global_xy_limit"`
		Monitor       bool    `toml:"monitor"`

		FreezeLongitudinal bool `toml:"freeze_longitudinal"`
	} `toml:"tracking"`
	Solver struct {
		Enabled         bool      `toml:"enabled"`
		Tolerance       float64   `toml:"tolerance"`
		MaxIter         int       `toml:"max_iter"`
		Method          string    `toml:"method"`
		Steps           []float64 `toml:"steps"`
		ContinueOnError bool      `toml:"continue_on_error"`
	} `toml:"solver"`
	Reference struct {
		Particle string  `toml:"particle"`
		Mass0    float64 `toml:"mass0"`
		Q0       float64 `toml:"q0"`
		P0C      float64 `toml:"p0c"`
		Energy0  float64 `toml:"energy0"`
		Gamma0   float64 `toml:"gamma0"`
		Beta0    float64 `toml:"beta0"`
	} `toml:"reference"`
	Elements []ElementConfig `toml:"element"`
}

// Load reads path and overlays the defined keys on Default.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	cfg, err := overlay(raw, meta)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a TOML document.
func Parse(doc string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(doc, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return overlay(raw, meta)
}

func overlay(raw fileConfig, meta toml.MetaData) (Config, error) {
	cfg := Default()
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown key %q", ErrInvalid, undecoded[0].String())
	}

	if meta.IsDefined("backend", "kind") {
		cfg.Backend.Kind = strings.TrimSpace(raw.Backend.Kind)
	}
	if meta.IsDefined("backend", "workers") {
		cfg.Backend.Workers = raw.Backend.Workers
	}

	if meta.IsDefined("tracking", "turns") {
		cfg.Tracking.Turns = raw.Tracking.Turns
	}
	if meta.IsDefined("tracking", "particles") {
		cfg.Tracking.Particles = raw.Tracking.Particles
	}
	if meta.IsDefined("tracking", "amplitude_x") {
		cfg.Tracking.AmplitudeX = raw.Tracking.AmplitudeX
	}
	if meta.IsDefined("tracking", "amplitude_y") {
		cfg.Tracking.AmplitudeY = raw.Tracking.AmplitudeY
	}
	if meta.IsDefined("tracking", "delta") {
		cfg.Tracking.Delta = raw.Tracking.Delta
	}
	if meta.IsDefined("tracking", "global_xy_limit") {
		cfg.Tracking.GlobalXYLimit = raw.Tracking.GlobalXYLimit
	}
	if meta.IsDefined("tracking", "monitor") {
		cfg.Tracking.Monitor = raw.Tracking.Monitor
	}
	if meta.IsDefined("tracking", "freeze_longitudinal") {
		cfg.Tracking.FreezeLongitudinal = raw.Tracking.FreezeLongitudinal
	}

	if meta.IsDefined("solver", "enabled") {
		cfg.Solver.Enabled = raw.Solver.Enabled
	}
	if meta.IsDefined("solver", "tolerance") {
		cfg.Solver.Tolerance = raw.Solver.Tolerance
	}
	if meta.IsDefined("solver", "max_iter") {
		cfg.Solver.MaxIter = raw.Solver.MaxIter
	}
	if meta.IsDefined("solver", "method") {
		cfg.Solver.Method = strings.TrimSpace(raw.Solver.Method)
	}
	if meta.IsDefined("solver", "steps") {
		if len(raw.Solver.Steps) != 6 {
			return Config{}, fmt.Errorf("%w: solver.steps needs 6 values, got %d", ErrInvalid, len(raw.Solver.Steps))
		}
		copy(cfg.Solver.Steps[:], raw.Solver.Steps)
	}
	if meta.IsDefined("solver", "continue_on_error") {
		cfg.Solver.ContinueOnError = raw.Solver.ContinueOnError
	}

	if meta.IsDefined("reference") {
		// An explicit reference replaces the default one entirely.
		r := raw.Reference
		cfg.Reference = ReferenceConfig{
			Particle: strings.ToLower(strings.TrimSpace(r.Particle)),
			Mass0:    r.Mass0, Q0: r.Q0,
			P0C: r.P0C, Energy0: r.Energy0, Gamma0: r.Gamma0, Beta0: r.Beta0,
		}
	}
	cfg.Elements = raw.Elements

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges and names.
func (c Config) Validate() error {
	if _, err := runtime.ParseBackend(c.Backend.Kind); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.Backend.Workers < 0 {
		return fmt.Errorf("%w: backend.workers must not be negative", ErrInvalid)
	}
	if c.Tracking.Turns < 1 {
		return fmt.Errorf("%w: tracking.turns must be at least 1", ErrInvalid)
	}
	if c.Tracking.Particles < 1 {
		return fmt.Errorf("%w: tracking.particles must be at least 1", ErrInvalid)
	}
	m, err := solver.ParseMethod(c.Solver.Method)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.Tracking.FreezeLongitudinal && c.Solver.Enabled && m == solver.Method6D {
		return fmt.Errorf("%w: a 6d closed orbit needs the longitudinal plane, use solver.method = \"4d\"", ErrInvalid)
	}
	if _, err := c.ReferenceParticle(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	for i, e := range c.Elements {
		if _, ok := model.ParseKind(e.Kind); !ok {
			return fmt.Errorf("%w: element %d (%q): unknown kind %q", ErrInvalid, i, e.Name, e.Kind)
		}
	}
	return nil
}

// ReferenceParticle resolves the reference.
func (c Config) ReferenceParticle() (core.Reference, error) {
	r := c.Reference
	ref := core.Reference{Mass0: r.Mass0, Q0: r.Q0, P0C: r.P0C, Energy0: r.Energy0, Gamma0: r.Gamma0, Beta0: r.Beta0}
	switch r.Particle {
	case "", "custom":
	case "proton":
		if ref.Mass0 == 0 {
			ref.Mass0 = core.ProtonMassEV
		}
	case "electron":
		if ref.Mass0 == 0 {
			ref.Mass0 = core.ElectronMassEV
		}
		if ref.Q0 == 0 {
			ref.Q0 = -1
		}
	default:
		return core.Reference{}, fmt.Errorf("unknown particle %q", r.Particle)
	}
	return ref.Resolve()
}

// ContextOptions maps the backend section onto runtime options.
func (c Config) ContextOptions(logger zerolog.Logger, rec runtime.Recorder) (runtime.ContextOptions, error) {
	b, err := runtime.ParseBackend(c.Backend.Kind)
	if err != nil {
		return runtime.ContextOptions{}, err
	}
	opts := runtime.DefaultContextOptions()
	opts.Backend = b
	if c.Backend.Workers > 0 {
		opts.Workers = c.Backend.Workers
	}
	opts.GlobalXYLimit = c.Tracking.GlobalXYLimit
	opts.Logger = logger
	opts.Recorder = rec
	return opts, nil
}

// BuildOptions maps the tracking section onto tracker build options.
func (c Config) BuildOptions() []runtime.BuildOption {
	var opts []runtime.BuildOption
	if c.Tracking.FreezeLongitudinal {
		opts = append(opts, runtime.WithFreezeLongitudinal())
	}
	return opts
}

// SolverSettings maps the solver section onto solver settings.
func (c Config) SolverSettings(logger zerolog.Logger, rec solver.Recorder) (solver.Settings, error) {
	m, err := solver.ParseMethod(c.Solver.Method)
	if err != nil {
		return solver.Settings{}, err
	}
	s := solver.DefaultSettings()
	s.Tol = c.Solver.Tolerance
	s.MaxIter = c.Solver.MaxIter
	s.Method = m
	s.Delta0 = c.Tracking.Delta
	s.Steps = c.Solver.Steps
	s.ContinueOnError = c.Solver.ContinueOnError
	s.Logger = logger
	s.Recorder = rec
	return s, nil
}

// Ensemble spreads the particles evenly over [-amplitude, amplitude] in x
// and y at the configured delta. A single particle sits at the amplitude.
func (c Config) Ensemble(ref core.Reference) *core.Particles {
	n := c.Tracking.Particles
	p := core.NewParticles(n, ref)
	for i := 0; i < n; i++ {
		f := 1.0
		if n > 1 {
			f = 2*float64(i)/float64(n-1) - 1
		}
		p.SetCoordinates(i, [6]float64{
			core.IX:     f * c.Tracking.AmplitudeX,
			core.IY:     f * c.Tracking.AmplitudeY,
			core.IDelta: c.Tracking.Delta,
		})
	}
	return p
}
