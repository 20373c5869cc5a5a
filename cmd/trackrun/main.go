package main

import (
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	goruntime "runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sbl8/beamline/core"
	"github.com/sbl8/beamline/internal/config"
	"github.com/sbl8/beamline/internal/logging"
	"github.com/sbl8/beamline/internal/observability"
	"github.com/sbl8/beamline/runtime"
	"github.com/sbl8/beamline/solver"
)

func main() {
	var (
		turns       = flag.Int("turns", 0, "Override tracking.turns")
		backend     = flag.String("backend", "", "Override backend.kind (serial, threaded, device)")
		workers     = flag.Int("workers", 0, "Override backend.workers")
		monitor     = flag.Bool("monitor", false, "Record every turn and print the first particle's history")
		backtrack   = flag.Bool("backtrack", false, "Track back after tracking forward")
		closedOrbit = flag.Bool("closed-orbit", false, "Search the closed orbit before tracking")
		losses      = flag.Bool("losses", false, "Report every lost particle")
		freezeLong  = flag.Bool("freeze-longitudinal", false, "Keep zeta and delta fixed while tracking")
		metricsAddr = flag.String("metrics-addr", "", "Serve Prometheus metrics on this address")
		version     = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *version {
		fmt.Println("trackrun - beamline tracker v1.0.0")
		fmt.Printf("Built with Go %s\n", goruntime.Version())
		return
	}

	args := flag.Args()
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <line.toml>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}

	logger := logging.Configure("trackrun", logging.ProfileRuntime)

	cfg, err := config.Load(args[0])
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	if *turns > 0 {
		cfg.Tracking.Turns = *turns
	}
	if *backend != "" {
		cfg.Backend.Kind = *backend
	}
	if *workers > 0 {
		cfg.Backend.Workers = *workers
	}
	if *monitor {
		cfg.Tracking.Monitor = true
	}
	if *closedOrbit {
		cfg.Solver.Enabled = true
	}
	if *freezeLong {
		cfg.Tracking.FreezeLongitudinal = true
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid flags")
	}

	if *metricsAddr != "" {
		serveMetrics(*metricsAddr, logger)
	}

	if err := run(cfg, logger, *backtrack, *losses); err != nil {
		logger.Fatal().Err(err).Msg("tracking failed")
	}
}

func serveMetrics(addr string, logger zerolog.Logger) {
	observability.RegisterMetrics()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
		}
	}()
	logger.Info().Str("addr", addr).Msg("serving metrics")
}

func run(cfg config.Config, logger zerolog.Logger, backtrack, reportLosses bool) error {
	rec := observability.Recorder{}
	ref, err := cfg.ReferenceParticle()
	if err != nil {
		return err
	}
	line, err := cfg.BuildLine()
	if err != nil {
		return err
	}
	ctxOpts, err := cfg.ContextOptions(logger, rec)
	if err != nil {
		return err
	}
	ctx := runtime.NewContext(ctxOpts)
	tr, err := runtime.BuildTracker(ctx, line, cfg.BuildOptions()...)
	if err != nil {
		return err
	}
	defer line.DiscardTracker()

	logger.Info().
		Int("elements", line.Len()).
		Float64("length", line.Length()).
		Str("backend", ctx.Backend().String()).
		Int("workers", ctx.Workers()).
		Bool("collective", tr.IsCollective()).
		Bool("freeze_longitudinal", cfg.Tracking.FreezeLongitudinal).
		Msg("line built")

	if cfg.Solver.Enabled {
		if err := printClosedOrbit(cfg, tr, ref, logger, rec); err != nil {
			return err
		}
	}

	p := cfg.Ensemble(ref)
	if reportLosses {
		tr.StartInternalLogging()
	}
	opts := []runtime.TrackOption{runtime.WithNumTurns(cfg.Tracking.Turns)}
	if cfg.Tracking.Monitor {
		opts = append(opts, runtime.WithMonitor())
	}
	start := time.Now()
	if err := tr.Track(p, opts...); err != nil {
		return err
	}
	logger.Info().
		Int("turns", cfg.Tracking.Turns).
		Int("active", p.NumActive()).
		Dur("elapsed", time.Since(start)).
		Msg("tracking done")

	printParticles("Final state", p)
	if mon := tr.RecordLastTrack(); mon != nil {
		printMonitor(mon, p.ParticleID[0])
	}
	if reportLosses {
		for _, l := range tr.Losses() {
			fmt.Printf("lost particle %d at %s (#%d, %s) turn %d s=%.6f state %d\n",
				l.ParticleID, l.Element, l.Index, l.Kind, l.AtTurn, l.S, l.State)
		}
	}

	if backtrack {
		if err := tr.Track(p, runtime.WithNumTurns(cfg.Tracking.Turns), runtime.WithBacktrack()); err != nil {
			return err
		}
		printParticles("After backtracking", p)
	}
	return nil
}

func printClosedOrbit(cfg config.Config, tr *runtime.Tracker, ref core.Reference, logger zerolog.Logger, rec solver.Recorder) error {
	s, err := cfg.SolverSettings(logger, rec)
	if err != nil {
		return err
	}
	guess := core.NewParticles(1, ref)
	guess.Delta[0] = cfg.Tracking.Delta
	res, err := solver.FindClosedOrbit(tr, guess, s)
	if err != nil {
		return err
	}
	fmt.Printf("Closed orbit (%s, %d iterations, residual %.3g, converged %t)\n",
		s.Method, res.Iterations, res.Residual, res.Converged)
	fmt.Printf("  x=%.9e px=%.9e y=%.9e py=%.9e zeta=%.9e delta=%.9e\n",
		res.Vector[0], res.Vector[1], res.Vector[2], res.Vector[3], res.Vector[4], res.Vector[5])
	if res.R != nil {
		fmt.Printf("  R trace x=%.6f y=%.6f\n", res.R.At(0, 0)+res.R.At(1, 1), res.R.At(2, 2)+res.R.At(3, 3))
	}
	return nil
}

func printParticles(title string, p *core.Particles) {
	fmt.Printf("%s (%d/%d active)\n", title, p.NumActive(), p.Len())
	fmt.Printf("%6s %14s %14s %14s %14s %14s %14s %6s %6s\n",
		"id", "x", "px", "y", "py", "zeta", "delta", "turn", "state")
	for i := 0; i < p.Len(); i++ {
		fmt.Printf("%6d %14.6e %14.6e %14.6e %14.6e %14.6e %14.6e %6d %6d\n",
			p.ParticleID[i], p.X[i], p.Px[i], p.Y[i], p.Py[i], p.Zeta[i], p.Delta[i], p.AtTurn[i], p.State[i])
	}
}

func printMonitor(m *runtime.Monitor, id int64) {
	fmt.Printf("Turn history of particle %d\n", id)
	for turn := m.StartAtTurn; turn < m.StopAtTurn; turn++ {
		s, ok := m.At(id, turn)
		if !ok {
			continue
		}
		fmt.Printf("%6d %14.6e %14.6e %14.6e %14.6e\n",
			turn, s.Coordinates[core.IX], s.Coordinates[core.IPx], s.Coordinates[core.IY], s.Coordinates[core.IPy])
	}
}
