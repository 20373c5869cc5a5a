package runtime

import (
	"fmt"

	"github.com/sbl8/beamline/model"
)

// GetBacktracker returns a tracker running the line in reverse with every
// element replaced by its inverse. It is built once and cached until the
// line is unfrozen or an element is updated.
//
// The backtracker reuses a clone of this tracker's registry, so adding
// kinds to it never disturbs the forward dispatch.
func (t *Tracker) GetBacktracker() (*Tracker, error) {
	if t.invalid.Load() {
		return nil, ErrInvalidTracker
	}
	if t.parts != nil {
		return nil, fmt.Errorf("%w: collective line", ErrNotBacktrackable)
	}
	t.mu.RLock()
	bt := t.back
	t.mu.RUnlock()
	if bt != nil {
		return bt, nil
	}

	n := len(t.elements)
	els := make([]model.Element, n)
	names := make([]string, n)
	for i, e := range t.elements {
		inv, ok := e.Backtrack()
		if !ok {
			return nil, fmt.Errorf("%w: element %q (%s)", ErrNotBacktrackable, t.names[i], e.Kind())
		}
		els[n-1-i] = inv
		names[n-1-i] = t.names[i]
	}
	cfg := buildConfig{
		registry:           t.layout.Registry.Clone(),
		extend:             true,
		skipEndTurn:        t.skipEndTurn,
		resetS:             t.resetS,
		freezeLongitudinal: t.freezeLong,
	}
	bt, err := buildLocal(t.ctx, els, names, cfg, t.losses)
	if err != nil {
		return nil, fmt.Errorf("backtracker: %w", err)
	}
	bt.reverse = true
	bt.lineLength = t.lineLength
	bt.line = t.line

	t.mu.Lock()
	if t.back == nil {
		t.back = bt
	}
	bt = t.back
	t.mu.Unlock()
	return bt, nil
}
