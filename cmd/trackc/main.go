package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sbl8/beamline/compiler"
	"github.com/sbl8/beamline/internal/config"
	"github.com/sbl8/beamline/internal/logging"
	"github.com/sbl8/beamline/model"
)

func main() {
	var (
		backtrack = flag.Bool("backtrack", false, "Also compile the reversed line of inverse elements")
		simplify  = flag.Bool("simplify", false, "Optimize the line for tracking before compiling")
		markers   = flag.Bool("keep-markers", true, "Keep markers when simplifying")
		verbose   = flag.Bool("verbose", false, "List every element")
		version   = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *version {
		fmt.Println("trackc - beamline layout compiler v1.0.0")
		return
	}

	args := flag.Args()
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <line.toml>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}

	logger := logging.Configure("trackc", logging.ProfileRuntime)

	cfg, err := config.Load(args[0])
	if err != nil {
		logger.Fatal().Err(err).Str("file", args[0]).Msg("load failed")
	}
	line, err := cfg.BuildLine()
	if err != nil {
		logger.Fatal().Err(err).Msg("line build failed")
	}
	if *simplify {
		before := line.Len()
		err := line.OptimizeForTracking(model.OptimizeOptions{KeepAllMarkers: *markers})
		if err != nil {
			logger.Fatal().Err(err).Msg("simplify failed")
		}
		logger.Info().Int("before", before).Int("after", line.Len()).Msg("line optimized")
	}
	if line.HasCollective() {
		fmt.Printf("note: collective elements %v are compiled as drifts\n",
			line.ElementsOfKind(model.KindCollectiveKick))
	}

	els, names := compilable(line)
	lay, err := compiler.Compile(els, names, compiler.DefaultOptions())
	if err != nil {
		logger.Fatal().Err(err).Msg("compilation failed")
	}
	report(args[0], line, lay, *verbose)

	if *backtrack {
		back := make([]model.Element, len(els))
		backNames := make([]string, len(els))
		for i, e := range els {
			inv, ok := e.Backtrack()
			if !ok {
				logger.Fatal().Str("element", names[i]).Stringer("kind", e.Kind()).Msg("element cannot be backtracked")
			}
			back[len(els)-1-i] = inv
			backNames[len(els)-1-i] = names[i]
		}
		opts := compiler.DefaultOptions()
		opts.Registry = lay.Registry.Clone()
		blay, err := compiler.Compile(back, backNames, opts)
		if err != nil {
			logger.Fatal().Err(err).Msg("backtrack compilation failed")
		}
		report(args[0]+" (reversed)", line, blay, *verbose)
	}
}

func compilable(l *model.Line) ([]model.Element, []string) {
	els, names := l.Elements(), l.Names()
	for i, e := range els {
		if model.IsCollective(e) {
			els[i] = &model.Drift{L: e.Length()}
		}
	}
	return els, names
}

func report(src string, line *model.Line, lay *compiler.Layout, verbose bool) {
	fmt.Printf("Compiled %s\n", src)
	fmt.Printf("  elements:    %d\n", lay.Len())
	fmt.Printf("  length:      %.6f m\n", line.Length())
	fmt.Printf("  kinds:       %s\n", lay.Registry.Signature())
	fmt.Printf("  arena words: %d used / %d total, %d tail\n",
		lay.Arena.UsedSize(), lay.Arena.TotalSize(), lay.Arena.RemainingSize())
	fmt.Printf("  fingerprint: %08x\n", lay.Fingerprint())
	if !verbose {
		return
	}
	for i := 0; i < lay.Len(); i++ {
		fmt.Printf("  %5d %-24s %-14s type=%d off=%d words=%d\n",
			i, lay.Names[i], lay.Kinds[i], lay.TypeIDs[i], lay.Offsets[i], lay.Sizes[i])
	}
}
