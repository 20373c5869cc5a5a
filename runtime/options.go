package runtime

import "github.com/sbl8/beamline/compiler"

// BuildOption configures BuildTracker.
type BuildOption func(*buildConfig)

type buildConfig struct {
	registry           *compiler.Registry
	extend             bool
	skipEndTurn        bool
	resetS             bool
	freezeLongitudinal bool
}

func defaultBuildConfig() buildConfig {
	return buildConfig{extend: true, resetS: true}
}

// WithRegistry compiles against a shared registry. Kinds missing from it
// are rejected with compiler.ErrUnregisteredKind.
func WithRegistry(r *compiler.Registry) BuildOption {
	return func(c *buildConfig) {
		c.registry = r
		c.extend = false
	}
}

// WithSharedRegistry compiles against r, adding missing kinds to it.
func WithSharedRegistry(r *compiler.Registry) BuildOption {
	return func(c *buildConfig) {
		c.registry = r
		c.extend = true
	}
}

// WithSkipEndTurnActions disables turn counting at the end of the line.
func WithSkipEndTurnActions() BuildOption {
	return func(c *buildConfig) { c.skipEndTurn = true }
}

// WithResetSAtEndTurn controls whether s returns to zero when a turn ends.
// It is on by default.
func WithResetSAtEndTurn(reset bool) BuildOption {
	return func(c *buildConfig) { c.resetS = reset }
}

// WithFreezeLongitudinal keeps zeta and delta of every particle unchanged
// through every element. Collective lines reject it.
func WithFreezeLongitudinal() BuildOption {
	return func(c *buildConfig) { c.freezeLongitudinal = true }
}

// TrackOption configures a single Track call.
type TrackOption func(*trackConfig)

type trackConfig struct {
	eleStart    int
	numElements int
	numTurns    int
	monitor     bool
	monitorBuf  *Monitor
	backtrack   bool
}

func defaultTrackConfig() trackConfig {
	return trackConfig{numElements: -1, numTurns: 1}
}

// WithEleStart starts tracking at element index i.
func WithEleStart(i int) TrackOption {
	return func(c *trackConfig) { c.eleStart = i }
}

// WithNumElements tracks n elements from the start index.
func WithNumElements(n int) TrackOption {
	return func(c *trackConfig) { c.numElements = n }
}

// WithNumTurns repeats the element range n times.
func WithNumTurns(n int) TrackOption {
	return func(c *trackConfig) { c.numTurns = n }
}

// WithMonitor records every turn of the active particles into a monitor
// sized for this call, available afterwards from RecordLastTrack.
func WithMonitor() TrackOption {
	return func(c *trackConfig) { c.monitor = true }
}

// WithMonitorBuffer records into a caller-supplied monitor.
func WithMonitorBuffer(m *Monitor) TrackOption {
	return func(c *trackConfig) { c.monitorBuf = m }
}

// WithBacktrack tracks through the backtracker instead.
func WithBacktrack() TrackOption {
	return func(c *trackConfig) { c.backtrack = true }
}
