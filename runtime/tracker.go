package runtime

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sbl8/beamline/compiler"
	"github.com/sbl8/beamline/core"
	"github.com/sbl8/beamline/kernels"
	"github.com/sbl8/beamline/model"
)

var (
	// ErrInvalidTracker is returned after the line was unfrozen.
	ErrInvalidTracker = errors.New("tracker invalidated: line was unfrozen")
	// ErrNotBacktrackable is returned when an element has no inverse or the
	// tracker is collective.
	ErrNotBacktrackable = errors.New("line is not backtrackable")
	// ErrStructureChanged is returned when a parameter update would change
	// the packed layout.
	ErrStructureChanged = errors.New("element structure changed, rebuild the tracker")
	// ErrInvalidRange is returned for element ranges outside the line and
	// for partial ranges on collective trackers.
	ErrInvalidRange = errors.New("invalid tracking range")
)

// ExecutionStats tracks tracker activity.
type ExecutionStats struct {
	TotalExecutions int64
	ParticleTurns   int64
	Lost            int64
	AverageLatency  time.Duration
	LastLatency     time.Duration
}

// Tracker tracks particle ensembles through a frozen line.
//
// A tracker is safe for one Track call at a time. Unfreezing its line
// invalidates it; later calls return ErrInvalidTracker.
type Tracker struct {
	// ID identifies the build in logs.
	ID string

	ctx      *Context
	line     *model.Line
	names    []string
	elements []model.Element

	layout   *compiler.Layout
	dispatch *compiler.Dispatch

	skipEndTurn bool
	resetS      bool
	freezeLong  bool
	reverse     bool
	lineLength  float64
	offset      int

	parts []part
	super *Tracker

	losses *lossLog

	invalid atomic.Bool

	mu          sync.RWMutex
	back        *Tracker
	lastMonitor *Monitor
	stats       ExecutionStats
}

// BuildTracker freezes line and compiles it for ctx.
func BuildTracker(ctx *Context, line *model.Line, opts ...BuildOption) (*Tracker, error) {
	if line.IsFrozen() {
		return nil, fmt.Errorf("build tracker: %w", model.ErrFrozen)
	}
	cfg := defaultBuildConfig()
	for _, o := range opts {
		o(&cfg)
	}

	els, names := line.Elements(), line.Names()
	var (
		t   *Tracker
		err error
	)
	if line.HasCollective() {
		if cfg.freezeLongitudinal {
			return nil, fmt.Errorf("build tracker: %w: longitudinal freezing on a collective line", model.ErrStructuralConflict)
		}
		t, err = buildCollective(ctx, els, names, cfg)
	} else {
		t, err = buildLocal(ctx, els, names, cfg, newLossLog())
	}
	if err != nil {
		if errors.Is(err, compiler.ErrUnregisteredKind) {
			ctx.Logger().Error().Err(err).Msg("tracker build failed")
		}
		return nil, err
	}
	if err := line.Freeze(t.invalidate); err != nil {
		return nil, err
	}
	t.line = line
	ctx.Logger().Debug().
		Str("tracker", t.ID).
		Int("elements", len(names)).
		Bool("collective", t.IsCollective()).
		Str("backend", ctx.Backend().String()).
		Msg("tracker built")
	return t, nil
}

func buildLocal(ctx *Context, els []model.Element, names []string, cfg buildConfig, losses *lossLog) (*Tracker, error) {
	opts := compiler.DefaultOptions()
	if cfg.registry != nil {
		opts.Registry = cfg.registry
		opts.Extend = cfg.extend
	}
	lay, err := compiler.Compile(els, names, opts)
	if err != nil {
		return nil, err
	}
	d, err := ctx.DispatchCache().Get(lay.Registry)
	if err != nil {
		return nil, err
	}
	return &Tracker{
		ID:          uuid.NewString(),
		ctx:         ctx,
		names:       names,
		elements:    els,
		layout:      lay,
		dispatch:    d,
		skipEndTurn: cfg.skipEndTurn,
		resetS:      cfg.resetS,
		freezeLong:  cfg.freezeLongitudinal,
		lineLength:  thickLength(els),
		losses:      losses,
	}, nil
}

func thickLength(els []model.Element) float64 {
	var s float64
	for _, e := range els {
		if e.IsThick() {
			s += e.Length()
		}
	}
	return s
}

func (t *Tracker) invalidate() {
	t.invalid.Store(true)
	if t.super != nil {
		t.super.invalid.Store(true)
	}
	for _, pt := range t.parts {
		if pt.tracker != nil {
			pt.tracker.invalid.Store(true)
		}
	}
	t.mu.Lock()
	if t.back != nil {
		t.back.invalid.Store(true)
		t.back = nil
	}
	t.mu.Unlock()
	t.ctx.Logger().Debug().Str("tracker", t.ID).Msg("tracker invalidated")
}

// Valid reports whether the tracker can still be used.
func (t *Tracker) Valid() bool { return !t.invalid.Load() }

// Line returns the frozen line.
func (t *Tracker) Line() *model.Line { return t.line }

// Context returns the backend context.
func (t *Tracker) Context() *Context { return t.ctx }

// IsCollective reports whether the line holds collective elements.
func (t *Tracker) IsCollective() bool { return t.parts != nil }

// NumElements is the number of elements of the line.
func (t *Tracker) NumElements() int { return len(t.names) }

// Layout returns the compiled layout; nil for collective trackers, whose
// layout lives in their parts.
func (t *Tracker) Layout() *compiler.Layout { return t.layout }

// Registry returns the type registry the tracker was compiled against.
func (t *Tracker) Registry() *compiler.Registry {
	if t.super != nil {
		return t.super.layout.Registry
	}
	return t.layout.Registry
}

// Track advances p through the line.
func (t *Tracker) Track(p *core.Particles, opts ...TrackOption) error {
	if t.invalid.Load() {
		return ErrInvalidTracker
	}
	if err := p.Validate(); err != nil {
		return err
	}
	cfg := defaultTrackConfig()
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.numTurns < 1 {
		return fmt.Errorf("%w: %d turns", ErrInvalidRange, cfg.numTurns)
	}
	if _, err := t.RefreshParameters(); err != nil {
		return err
	}
	if cfg.backtrack {
		bt, err := t.GetBacktracker()
		if err != nil {
			return err
		}
		cfg.backtrack = false
		if err := bt.track(p, cfg); err != nil {
			return err
		}
		if cfg.monitor || cfg.monitorBuf != nil {
			mon := bt.RecordLastTrack()
			t.mu.Lock()
			t.lastMonitor = mon
			t.mu.Unlock()
		}
		return nil
	}
	return t.track(p, cfg)
}

// TrackOneTurn tracks one full turn through the line, replacing
// collective elements by drifts. It is the one-turn map used by the
// closed-orbit solver.
func (t *Tracker) TrackOneTurn(p *core.Particles) error {
	if t.invalid.Load() {
		return ErrInvalidTracker
	}
	if t.super != nil {
		if _, err := t.RefreshParameters(); err != nil {
			return err
		}
		return t.super.Track(p)
	}
	return t.Track(p)
}

func (t *Tracker) track(p *core.Particles, cfg trackConfig) error {
	began := time.Now()
	activeBefore := p.NumActive()
	var (
		mon *Monitor
		err error
	)
	if t.parts != nil {
		mon, err = t.trackCollective(p, cfg)
	} else {
		mon, err = t.trackLocal(p, cfg)
	}
	if err != nil {
		return err
	}
	t.finish(p, cfg, mon, began, activeBefore)
	return nil
}

func (t *Tracker) elementRange(cfg trackConfig) (start, num int, err error) {
	n := t.layout.Len()
	start, num = cfg.eleStart, cfg.numElements
	if num < 0 {
		num = n - start
	}
	if start < 0 || start > n || num < 0 || start+num > n {
		return 0, 0, fmt.Errorf("%w: elements [%d, %d) outside [0, %d]", ErrInvalidRange, start, start+num, n)
	}
	return start, num, nil
}

func (t *Tracker) trackLocal(p *core.Particles, cfg trackConfig) (*Monitor, error) {
	start, num, err := t.elementRange(cfg)
	if err != nil {
		return nil, err
	}
	mon, err := t.prepareMonitor(p, cfg, t.reverse && t.endsTurn(start, num))
	if err != nil {
		return nil, err
	}
	t.run(p, start, num, cfg.numTurns, mon)
	return mon, nil
}

func (t *Tracker) endsTurn(start, num int) bool {
	return !t.skipEndTurn && start+num == t.layout.Len()
}

// run tracks every particle through [start, start+num) for turns turns on
// the context backend.
func (t *Tracker) run(p *core.Particles, start, num, turns int, mon *Monitor) {
	endTurn := t.endsTurn(start, num)
	t.ctx.forEach(p.Len(), func(i int) {
		t.trackParticle(p, i, start, num, turns, endTurn, mon)
	})
}

func (t *Tracker) trackParticle(p *core.Particles, i, start, num, turns int, endTurn bool, mon *Monitor) {
	lay, d := t.layout, t.dispatch
	words := lay.Arena.Words()
	limit := t.ctx.opts.GlobalXYLimit

	for turn := 0; turn < turns; turn++ {
		if !p.IsActive(i) {
			return
		}
		if t.reverse && endTurn {
			p.AtTurn[i]--
			p.AtElement[i] = int64(lay.Len())
			if t.resetS {
				p.S[i] = t.lineLength
			}
		}
		if mon != nil {
			mon.record(p, i)
		}
		for ee := start; ee < start+num; ee++ {
			tid := lay.TypeIDs[ee]
			if d.Aperture[tid] {
				kernels.GlobalAperture(p, i, limit)
				if !p.IsActive(i) {
					t.logLoss(p, i, ee)
					return
				}
			}
			off := lay.Offsets[ee]
			if t.freezeLong {
				zeta, delta := p.Zeta[i], p.Delta[i]
				d.Table[tid](words[off:off+lay.Sizes[ee]], p, i)
				p.Zeta[i], p.Delta[i] = zeta, delta
			} else {
				d.Table[tid](words[off:off+lay.Sizes[ee]], p, i)
			}
			if !p.IsActive(i) {
				t.logLoss(p, i, ee)
				return
			}
			if t.reverse {
				p.AtElement[i]--
			} else {
				p.AtElement[i]++
			}
		}
		if endTurn && !t.reverse {
			p.AtTurn[i]++
			p.AtElement[i] = 0
			if t.resetS {
				p.S[i] = 0
			}
		}
	}
}

// prepareMonitor sizes a monitor for the call. Backward turns decrement
// the turn counter before the snapshot, so their window ends at the
// current turn instead of starting there.
func (t *Tracker) prepareMonitor(p *core.Particles, cfg trackConfig, backward bool) (*Monitor, error) {
	if cfg.monitorBuf != nil {
		return cfg.monitorBuf, nil
	}
	if !cfg.monitor {
		return nil, nil
	}
	lo, hi := p.ActiveIDRange()
	start := p.MinActiveTurn()
	if backward {
		return NewMonitor(start-int64(cfg.numTurns), start, lo, hi)
	}
	return NewMonitor(start, start+int64(cfg.numTurns), lo, hi)
}

func (t *Tracker) finish(p *core.Particles, cfg trackConfig, mon *Monitor, began time.Time, activeBefore int) {
	elapsed := time.Since(began)
	lost := activeBefore - p.NumActive()
	particleTurns := int64(activeBefore) * int64(cfg.numTurns)

	t.mu.Lock()
	t.stats.TotalExecutions++
	t.stats.ParticleTurns += particleTurns
	t.stats.Lost += int64(lost)
	t.stats.LastLatency = elapsed
	if t.stats.TotalExecutions == 1 {
		t.stats.AverageLatency = elapsed
	} else {
		n := t.stats.TotalExecutions
		t.stats.AverageLatency = time.Duration((int64(t.stats.AverageLatency)*(n-1) + int64(elapsed)) / n)
	}
	if cfg.monitor || cfg.monitorBuf != nil {
		t.lastMonitor = mon
	}
	t.mu.Unlock()

	t.ctx.opts.Recorder.RecordTrack(t.ctx.Backend().String(), particleTurns, lost, elapsed)
	t.ctx.Logger().Debug().
		Str("tracker", t.ID).
		Int("particles", p.Len()).
		Int("turns", cfg.numTurns).
		Int("lost", lost).
		Dur("elapsed", elapsed).
		Msg("track done")
}

// RecordLastTrack returns the monitor of the most recent monitored call.
func (t *Tracker) RecordLastTrack() *Monitor {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastMonitor
}

// Stats returns a copy of the execution statistics.
func (t *Tracker) Stats() ExecutionStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stats
}

// UpdateElement writes the current parameters of the named element into
// the compiled layout without rebuilding it.
func (t *Tracker) UpdateElement(name string) error {
	if t.invalid.Load() {
		return ErrInvalidTracker
	}
	found := false
	if t.parts != nil {
		for _, pt := range t.parts {
			if pt.tracker == nil {
				if pt.name == name {
					found = true
				}
				continue
			}
			ok, err := pt.tracker.updateLocal(name)
			if err != nil {
				return err
			}
			found = found || ok
		}
		if _, err := t.super.updateLocal(name); err != nil {
			return err
		}
	} else {
		ok, err := t.updateLocal(name)
		if err != nil {
			return err
		}
		found = ok
	}
	if !found {
		return fmt.Errorf("update: %w: %q", model.ErrNotFound, name)
	}
	t.mu.Lock()
	t.back = nil
	t.mu.Unlock()
	return nil
}

func (t *Tracker) updateLocal(name string) (bool, error) {
	idx := t.layout.Indices(name)
	for _, i := range idx {
		if err := t.layout.Update(i, t.elements[i]); err != nil {
			if errors.Is(err, compiler.ErrSizeChanged) {
				return false, fmt.Errorf("%w: %v", ErrStructureChanged, err)
			}
			return false, err
		}
	}
	return len(idx) > 0, nil
}

// RefreshParameters re-encodes every element whose parameters changed
// since the build or the last refresh, and reports whether any did. Track
// calls it first, so edits made through the frozen line's elements are
// picked up without UpdateElement. A change of kind or packed size
// returns ErrStructureChanged.
func (t *Tracker) RefreshParameters() (bool, error) {
	if t.invalid.Load() {
		return false, ErrInvalidTracker
	}
	var changed bool
	if t.parts != nil {
		for _, pt := range t.parts {
			if pt.tracker == nil {
				continue
			}
			c, err := pt.tracker.syncLocal()
			if err != nil {
				return false, err
			}
			changed = changed || c
		}
		for i, e := range t.elements {
			if d, ok := t.super.elements[i].(*model.Drift); ok && model.IsCollective(e) {
				d.L = e.Length()
			}
		}
		c, err := t.super.syncLocal()
		if err != nil {
			return false, err
		}
		changed = changed || c
		t.lineLength = t.super.lineLength
	} else {
		c, err := t.syncLocal()
		if err != nil {
			return false, err
		}
		changed = c
	}
	if changed {
		t.mu.Lock()
		t.back = nil
		t.mu.Unlock()
		t.ctx.Logger().Debug().Str("tracker", t.ID).Msg("element parameters refreshed")
	}
	return changed, nil
}

func (t *Tracker) syncLocal() (bool, error) {
	var changed bool
	for i, e := range t.elements {
		c, err := t.layout.Sync(i, e)
		if err != nil {
			if errors.Is(err, compiler.ErrSizeChanged) {
				return false, fmt.Errorf("%w: %v", ErrStructureChanged, err)
			}
			return false, err
		}
		changed = changed || c
	}
	if changed {
		t.lineLength = thickLength(t.elements)
	}
	return changed, nil
}
