package runtime

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/sbl8/beamline/core"
	"github.com/sbl8/beamline/model"
)

// LossEvent describes one particle lost inside the line.
type LossEvent struct {
	ParticleID int64
	Element    string
	Index      int
	Kind       model.Kind
	State      int64
	AtTurn     int64
	S          float64
}

type lossLog struct {
	enabled atomic.Bool
	mu      sync.Mutex
	kinds   []model.Kind
	events  []LossEvent
}

func newLossLog() *lossLog { return &lossLog{} }

func (l *lossLog) wants(k model.Kind) bool {
	return len(l.kinds) == 0 || slices.Contains(l.kinds, k)
}

// StartInternalLogging records a LossEvent for every particle lost at an
// element of one of kinds, or at any element when kinds is empty.
// Forward and backward tracking share the log.
func (t *Tracker) StartInternalLogging(kinds ...model.Kind) {
	l := t.losses
	l.mu.Lock()
	l.kinds = slices.Clone(kinds)
	l.mu.Unlock()
	l.enabled.Store(true)
}

// StopInternalLogging stops recording; collected events are kept.
func (t *Tracker) StopInternalLogging() { t.losses.enabled.Store(false) }

// Losses returns the recorded loss events ordered by particle id.
func (t *Tracker) Losses() []LossEvent {
	l := t.losses
	l.mu.Lock()
	defer l.mu.Unlock()
	out := slices.Clone(l.events)
	slices.SortStableFunc(out, func(a, b LossEvent) int {
		switch {
		case a.ParticleID < b.ParticleID:
			return -1
		case a.ParticleID > b.ParticleID:
			return 1
		}
		return 0
	})
	return out
}

// ClearLosses drops recorded loss events.
func (t *Tracker) ClearLosses() {
	l := t.losses
	l.mu.Lock()
	l.events = nil
	l.mu.Unlock()
}

func (t *Tracker) logLoss(p *core.Particles, i, ee int) {
	l := t.losses
	if l == nil || !l.enabled.Load() {
		return
	}
	kind := t.layout.Kinds[ee]
	idx := ee + t.offset
	if t.reverse {
		idx = t.layout.Len() - 1 - ee
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.wants(kind) {
		return
	}
	l.events = append(l.events, LossEvent{
		ParticleID: p.ParticleID[i],
		Element:    t.layout.Names[ee],
		Index:      idx,
		Kind:       kind,
		State:      p.State[i],
		AtTurn:     p.AtTurn[i],
		S:          p.S[i],
	})
}
