// Package beamline tracks charged-particle ensembles through beamlines.
//
// A line is an ordered, named sequence of elements. Lines are edited
// structurally while mutable, then frozen by building a tracker, which
// compiles the elements into a packed word arena and a dense dispatch table
// of per-kind kernels. Tracking advances every particle element by element
// and turn by turn on a serial, threaded or one-goroutine-per-particle
// backend, with identical results on each.
//
// # Architecture Overview
//
//   - Elements: a closed set of kinds, each encoding its parameters as words
//   - Lines: element storage keyed by stable ids, with drift-aware editing
//   - Compiler: type registry, packed layout and cached dispatch tables
//   - Runtime: trackers, collective splitting, backtracking and monitors
//   - Solver: closed orbit search and the finite-difference one-turn matrix
//
// # Basic Usage
//
//	line, err := model.NewLine([]model.Element{
//	    &model.Drift{L: 1},
//	    &model.Quadrupole{K1: 0.05, L: 0.5},
//	}, []string{"d1", "qf"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	ctx := runtime.NewContext(runtime.DefaultContextOptions())
//	tr, err := runtime.BuildTracker(ctx, line)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	p := core.FromCoordinates(core.Proton(7e12), [6]float64{1e-3, 0, 0, 0, 0, 0})
//	if err := tr.Track(p, runtime.WithNumTurns(100)); err != nil {
//	    log.Fatal(err)
//	}
//
// # Package Structure
//
//   - core: particles, reference particle, arena and alignment helpers
//   - model: element kinds and the editable Line
//   - kernels: per-kind transfer maps on packed words
//   - compiler: registry, layout and dispatch generation
//   - runtime: backend context and trackers
//   - solver: closed orbit and one-turn matrix
//   - cmd: command-line tools (trackc, trackrun, trackperf)
package beamline
