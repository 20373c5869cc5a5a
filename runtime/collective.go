package runtime

import (
	"fmt"

	"github.com/sbl8/beamline/compiler"
	"github.com/sbl8/beamline/core"
	"github.com/sbl8/beamline/model"
)

// part is one segment of a collective line: either a run of local
// elements compiled into a sub-tracker or a single collective element.
type part struct {
	name    string
	tracker *Tracker
	coll    model.Collective
}

// buildCollective splits the line at collective elements. The supertracker
// sees collectives as drifts of the same length and owns the registry; every
// local run is compiled strictly against it and skips end-of-turn actions,
// which the parent performs once per turn.
func buildCollective(ctx *Context, els []model.Element, names []string, cfg buildConfig) (*Tracker, error) {
	losses := newLossLog()

	superEls := make([]model.Element, len(els))
	for i, e := range els {
		if model.IsCollective(e) {
			superEls[i] = &model.Drift{L: e.Length()}
			continue
		}
		superEls[i] = e
	}
	superCfg := cfg
	superCfg.skipEndTurn = false
	if superCfg.registry == nil {
		superCfg.registry = compiler.NewRegistry()
		superCfg.extend = true
	}
	super, err := buildLocal(ctx, superEls, names, superCfg, losses)
	if err != nil {
		return nil, fmt.Errorf("collective supertracker: %w", err)
	}

	partCfg := buildConfig{
		registry:    super.layout.Registry,
		skipEndTurn: true,
		resetS:      cfg.resetS,
	}
	var parts []part
	flush := func(from, to int) error {
		if from == to {
			return nil
		}
		sub, err := buildLocal(ctx, els[from:to], names[from:to], partCfg, losses)
		if err != nil {
			return fmt.Errorf("collective part %q: %w", names[from], err)
		}
		sub.offset = from
		parts = append(parts, part{name: names[from], tracker: sub})
		return nil
	}
	from := 0
	for i, e := range els {
		c, ok := e.(model.Collective)
		if !ok {
			continue
		}
		if err := flush(from, i); err != nil {
			return nil, err
		}
		parts = append(parts, part{name: names[i], coll: c})
		from = i + 1
	}
	if err := flush(from, len(els)); err != nil {
		return nil, err
	}

	return &Tracker{
		ID:          super.ID,
		ctx:         ctx,
		names:       names,
		elements:    els,
		skipEndTurn: cfg.skipEndTurn,
		resetS:      cfg.resetS,
		lineLength:  super.lineLength,
		parts:       parts,
		super:       super,
		losses:      losses,
	}, nil
}

func (t *Tracker) trackCollective(p *core.Particles, cfg trackConfig) (*Monitor, error) {
	n := len(t.names)
	if cfg.eleStart != 0 || (cfg.numElements >= 0 && cfg.numElements != n) {
		return nil, fmt.Errorf("%w: collective lines are tracked over the whole line", ErrInvalidRange)
	}
	mon, err := t.prepareMonitor(p, cfg, false)
	if err != nil {
		return nil, err
	}
	for turn := 0; turn < cfg.numTurns; turn++ {
		if p.NumActive() == 0 {
			break
		}
		if mon != nil {
			for i := 0; i < p.Len(); i++ {
				if p.IsActive(i) {
					mon.record(p, i)
				}
			}
		}
		for _, pt := range t.parts {
			if pt.tracker != nil {
				pt.tracker.run(p, 0, pt.tracker.layout.Len(), 1, nil)
				continue
			}
			if err := pt.coll.TrackEnsemble(p); err != nil {
				return nil, fmt.Errorf("collective element %q: %w", pt.name, err)
			}
			for i := 0; i < p.Len(); i++ {
				if p.IsActive(i) {
					p.AtElement[i]++
				}
			}
		}
		if !t.skipEndTurn {
			t.super.run(p, n, 0, 1, nil)
		}
	}
	return mon, nil
}
