package config

import (
	"fmt"

	"github.com/sbl8/beamline/model"
)

// Element builds the model element described by e.
func (e ElementConfig) Element() (model.Element, error) {
	kind, ok := model.ParseKind(e.Kind)
	if !ok {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalid, e.Kind)
	}
	switch kind {
	case model.KindMarker:
		return &model.Marker{}, nil
	case model.KindDrift:
		return &model.Drift{L: e.Length}, nil
	case model.KindMultipole:
		return &model.Multipole{Knl: e.Knl, Ksl: e.Ksl, Hxl: e.Hxl, Hyl: e.Hyl, L: e.Length}, nil
	case model.KindBend:
		return &model.Bend{K0: e.K0, K1: e.K1, H: e.H, L: e.Length, Slices: e.Slices}, nil
	case model.KindQuadrupole:
		return &model.Quadrupole{K1: e.K1, L: e.Length, Slices: e.Slices}, nil
	case model.KindCavity:
		return &model.Cavity{Voltage: e.Voltage, Frequency: e.Frequency, Lag: e.Lag}, nil
	case model.KindLimitRect:
		return &model.LimitRect{MinX: e.MinX, MaxX: e.MaxX, MinY: e.MinY, MaxY: e.MaxY}, nil
	case model.KindLimitEllipse:
		return &model.LimitEllipse{A: e.A, B: e.B}, nil
	case model.KindSRotation:
		return &model.SRotation{Angle: e.Angle}, nil
	case model.KindLinearMap:
		return e.linearMap()
	case model.KindCollectiveKick:
		return &model.CollectiveKick{KX: e.KX, KY: e.KY, L: e.Length}, nil
	}
	return nil, fmt.Errorf("%w: kind %s cannot be configured", ErrInvalid, kind)
}

func (e ElementConfig) linearMap() (model.Element, error) {
	m := model.IdentityMap()
	m.L = e.Length
	if e.Matrix != nil {
		if len(e.Matrix) != 6 {
			return nil, fmt.Errorf("%w: matrix needs 6 rows, got %d", ErrInvalid, len(e.Matrix))
		}
		for r, row := range e.Matrix {
			if len(row) != 6 {
				return nil, fmt.Errorf("%w: matrix row %d needs 6 values, got %d", ErrInvalid, r, len(row))
			}
			copy(m.M[r][:], row)
		}
	}
	if e.Offset != nil {
		if len(e.Offset) != 6 {
			return nil, fmt.Errorf("%w: offset needs 6 values, got %d", ErrInvalid, len(e.Offset))
		}
		copy(m.Offset[:], e.Offset)
	}
	return m, nil
}

// BuildLine builds the element sequence, then places every element that
// has at_s, in file order.
func (c Config) BuildLine() (*model.Line, error) {
	var (
		els    []model.Element
		names  []string
		placed []int
	)
	built := make([]model.Element, len(c.Elements))
	for i, ec := range c.Elements {
		el, err := ec.Element()
		if err != nil {
			return nil, fmt.Errorf("element %d (%q): %w", i, ec.Name, err)
		}
		built[i] = el
		if ec.AtS != nil {
			placed = append(placed, i)
			continue
		}
		els = append(els, el)
		names = append(names, nameOf(ec, i))
	}
	line, err := model.NewLine(els, names)
	if err != nil {
		return nil, err
	}
	for _, i := range placed {
		ec := c.Elements[i]
		if err := line.InsertAt(*ec.AtS, built[i], nameOf(ec, i), model.DefaultSTol); err != nil {
			return nil, fmt.Errorf("place %q at s=%g: %w", nameOf(ec, i), *ec.AtS, err)
		}
	}
	return line, nil
}

func nameOf(e ElementConfig, i int) string {
	if e.Name != "" {
		return e.Name
	}
	return fmt.Sprintf("e%d", i)
}
