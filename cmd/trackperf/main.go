package main

import (
	"flag"
	"fmt"
	"os"
	goruntime "runtime"
	"time"

	"github.com/sbl8/beamline/core"
	"github.com/sbl8/beamline/internal/logging"
	"github.com/sbl8/beamline/kernels"
	"github.com/sbl8/beamline/model"
	"github.com/sbl8/beamline/runtime"
)

var (
	backendName = flag.String("backend", "all", "Backend: all, serial, threaded, device")
	particles   = flag.Int("particles", 4096, "Particles per ensemble")
	turns       = flag.Int("turns", 100, "Turns per run")
	cells       = flag.Int("cells", 16, "FODO cells in the test ring")
	workers     = flag.Int("workers", goruntime.NumCPU(), "Workers for the threaded backend")
	verbose     = flag.Bool("verbose", false, "Verbose output")
)

func main() {
	flag.Parse()

	fmt.Printf("Beamline Tracking Performance\n")
	fmt.Printf("=============================\n")
	fmt.Printf("Go Version: %s\n", goruntime.Version())
	fmt.Printf("OS/Arch: %s/%s\n", goruntime.GOOS, goruntime.GOARCH)
	fmt.Printf("CPUs: %d\n", goruntime.NumCPU())
	fmt.Printf("Particles: %d  Turns: %d  Cells: %d\n", *particles, *turns, *cells)
	fmt.Printf("Batch Size: %d\n", kernels.BatchSize())
	fmt.Printf("\n")

	var backends []runtime.Backend
	if *backendName == "all" {
		backends = []runtime.Backend{runtime.BackendSerial, runtime.BackendThreaded, runtime.BackendDevice}
	} else {
		b, err := runtime.ParseBackend(*backendName)
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		backends = []runtime.Backend{b}
	}

	var reference *core.Particles
	for _, b := range backends {
		p, err := runBackend(b)
		if err != nil {
			fmt.Printf("%s: %v\n", b, err)
			os.Exit(1)
		}
		if reference == nil {
			reference = p
			continue
		}
		fmt.Printf("  max deviation from %s: %.3g\n", backends[0], maxDeviation(reference, p))
	}
}

func ring(n int) (*model.Line, error) {
	var (
		els   []model.Element
		names []string
	)
	for i := 0; i < n; i++ {
		els = append(els,
			&model.Quadrupole{K1: 0.04, L: 0.5},
			&model.Drift{L: 2},
			&model.Bend{K0: 0.005, H: 0.005, L: 3},
			&model.Multipole{Knl: []float64{0, 0, 0.05}},
			&model.Drift{L: 2},
			&model.Quadrupole{K1: -0.04, L: 0.5},
			&model.Drift{L: 2},
			&model.LimitEllipse{A: 0.05, B: 0.05},
		)
		names = append(names,
			fmt.Sprintf("qf.%d", i), fmt.Sprintf("d1.%d", i), fmt.Sprintf("mb.%d", i), fmt.Sprintf("ms.%d", i),
			fmt.Sprintf("d2.%d", i), fmt.Sprintf("qd.%d", i), fmt.Sprintf("d3.%d", i), fmt.Sprintf("ap.%d", i))
	}
	return model.NewLine(els, names)
}

func runBackend(b runtime.Backend) (*core.Particles, error) {
	line, err := ring(*cells)
	if err != nil {
		return nil, err
	}
	opts := runtime.DefaultContextOptions()
	opts.Backend = b
	opts.Workers = *workers
	if *verbose {
		opts.Logger = logging.Configure("trackperf", logging.ProfileTest)
	}
	tr, err := runtime.BuildTracker(runtime.NewContext(opts), line)
	if err != nil {
		return nil, err
	}
	defer line.DiscardTracker()

	p := core.NewParticles(*particles, core.Proton(450e9))
	for i := 0; i < p.Len(); i++ {
		f := float64(i) / float64(p.Len())
		p.X[i] = 1e-3 * f
		p.Y[i] = 5e-4 * f
		p.Delta[i] = 1e-4 * (f - 0.5)
	}

	start := time.Now()
	if err := tr.Track(p, runtime.WithNumTurns(*turns)); err != nil {
		return nil, err
	}
	elapsed := time.Since(start)
	rate := float64(*particles) * float64(*turns) / elapsed.Seconds()
	fmt.Printf("%-10s %v (%.3f M particle-turns/s, %d lost)\n", b, elapsed, rate/1e6, p.Len()-p.NumActive())
	if *verbose {
		st := tr.Stats()
		fmt.Printf("  elements: %d  arena words: %d  fingerprint: %08x\n",
			tr.NumElements(), tr.Layout().Arena.UsedSize(), tr.Layout().Fingerprint())
		fmt.Printf("  executions: %d  average latency: %v\n", st.TotalExecutions, st.AverageLatency)
	}
	return p, nil
}

func maxDeviation(a, b *core.Particles) float64 {
	var worst float64
	for i := 0; i < a.Len(); i++ {
		ca, cb := a.Coordinates(i), b.Coordinates(i)
		for k := range ca {
			d := ca[k] - cb[k]
			if d < 0 {
				d = -d
			}
			worst = max(worst, d)
		}
	}
	return worst
}
