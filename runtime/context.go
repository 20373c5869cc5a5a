// Package runtime implements the beamline tracking engine.
//
// A Context selects the execution backend and carries the ambient
// dependencies (logger, metrics recorder, dispatch-table cache). A Tracker
// is built from a Line within a Context: it freezes the line, compiles it
// into a packed layout and tracks particle ensembles through it turn after
// turn.
//
// Key components:
//   - Context: backend selection (serial, threaded, device) and the shared
//     dispatch cache
//   - Tracker: the turn/element loop, with local and collective paths
//   - Monitor: per-turn, per-particle snapshots of the ensemble
//   - Backtracker: a tracker over the reversed line of inverse elements
//
// Execution model:
//  1. Split the line into local runs and collective elements.
//  2. Compile each local run against one shared type registry.
//  3. Track particles independently through local runs on the backend,
//     and hand the whole ensemble to each collective element in turn.
//  4. Apply end-of-turn bookkeeping through the supertracker.
//
// Every backend runs the same per-particle routine, so results are
// bit-identical across backends.
package runtime

import (
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sbl8/beamline/compiler"
	"github.com/sbl8/beamline/kernels"
)

// Backend selects how particles are distributed over execution units.
type Backend int

const (
	// BackendSerial tracks particles one after the other.
	BackendSerial Backend = iota
	// BackendThreaded tracks contiguous particle chunks on a fixed worker pool.
	BackendThreaded
	// BackendDevice launches one execution unit per particle, the way an
	// accelerator grid would.
	BackendDevice
)

func (b Backend) String() string {
	switch b {
	case BackendSerial:
		return "serial"
	case BackendThreaded:
		return "threaded"
	case BackendDevice:
		return "device"
	}
	return fmt.Sprintf("Backend(%d)", int(b))
}

// ParseBackend maps a backend name to its value.
func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "serial", "cpu":
		return BackendSerial, nil
	case "threaded", "openmp", "threads":
		return BackendThreaded, nil
	case "device", "gpu":
		return BackendDevice, nil
	}
	return 0, fmt.Errorf("unknown backend %q", s)
}

// Recorder receives tracking activity for metrics.
type Recorder interface {
	RecordTrack(backend string, particleTurns int64, lost int, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordTrack(string, int64, int, time.Duration) {}

// ContextOptions configures a Context.
type ContextOptions struct {
	Backend Backend
	Workers int
	// GlobalXYLimit loses particles with |x| or |y| above it before drifts.
	GlobalXYLimit float64
	Logger        zerolog.Logger
	Recorder      Recorder
}

// DefaultContextOptions provides a serial backend with a 1 m global limit
// and no logging.
func DefaultContextOptions() ContextOptions {
	return ContextOptions{
		Backend:       BackendSerial,
		Workers:       runtime.NumCPU(),
		GlobalXYLimit: 1.0,
		Logger:        zerolog.Nop(),
		Recorder:      nopRecorder{},
	}
}

// Context is the backend an ensemble is tracked on. It is safe for
// concurrent use by several trackers.
type Context struct {
	opts     ContextOptions
	dispatch *compiler.DispatchCache
}

// NewContext builds a context; zero fields fall back to the defaults.
func NewContext(opts ContextOptions) *Context {
	def := DefaultContextOptions()
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	if opts.GlobalXYLimit <= 0 {
		opts.GlobalXYLimit = def.GlobalXYLimit
	}
	if opts.Recorder == nil {
		opts.Recorder = def.Recorder
	}
	return &Context{opts: opts, dispatch: compiler.NewDispatchCache()}
}

// Backend returns the selected backend.
func (c *Context) Backend() Backend { return c.opts.Backend }

// Workers is the size of the threaded worker pool.
func (c *Context) Workers() int { return c.opts.Workers }

// Logger returns the context logger.
func (c *Context) Logger() *zerolog.Logger { return &c.opts.Logger }

// DispatchCache returns the dispatch tables generated for this context.
func (c *Context) DispatchCache() *compiler.DispatchCache { return c.dispatch }

// forEach runs fn for every particle index on the selected backend and
// returns when all calls are done. fn must only touch particle i.
func (c *Context) forEach(n int, fn func(i int)) {
	switch c.opts.Backend {
	case BackendThreaded:
		chunk := kernels.ChunkSize(n, c.opts.Workers)
		var wg sync.WaitGroup
		for lo := 0; lo < n; lo += chunk {
			hi := min(lo+chunk, n)
			wg.Add(1)
			go func(lo, hi int) {
				defer wg.Done()
				for i := lo; i < hi; i++ {
					fn(i)
				}
			}(lo, hi)
		}
		wg.Wait()
	case BackendDevice:
		var wg sync.WaitGroup
		wg.Add(n)
		for i := 0; i < n; i++ {
			go func(i int) {
				defer wg.Done()
				fn(i)
			}(i)
		}
		wg.Wait()
	default:
		for i := 0; i < n; i++ {
			fn(i)
		}
	}
}
