package kernels

import (
	"runtime"

	"github.com/sbl8/beamline/core"
)

// BatchSize is the smallest particle chunk worth handing to a worker. It
// keeps every chunk boundary on a whole cache line of each coordinate
// buffer so that workers never share a line.
func BatchSize() int {
	switch runtime.GOARCH {
	case "amd64", "arm64":
		return 4 * core.WordsPerLine
	default:
		return core.WordsPerLine
	}
}

// ChunkSize splits n particles over workers in line-aligned chunks.
func ChunkSize(n, workers int) int {
	if workers < 1 {
		workers = 1
	}
	size := (n + workers - 1) / workers
	size = core.AlignWords(size, core.WordsPerLine)
	if b := BatchSize(); size < b {
		size = b
	}
	return size
}
