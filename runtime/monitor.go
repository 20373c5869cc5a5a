package runtime

import (
	"fmt"

	"github.com/sbl8/beamline/core"
)

// Monitor stores one snapshot per particle and turn, taken at the start of
// the turn before any element is applied. Slots are indexed by particle id
// in [PartIDStart, PartIDEnd) and turn in [StartAtTurn, StopAtTurn).
//
// Distinct particles write distinct slots, so recording is safe from
// concurrent workers.
type Monitor struct {
	StartAtTurn int64
	StopAtTurn  int64
	PartIDStart int64
	PartIDEnd   int64

	X, Px, Y, Py, Zeta, Delta, S []float64

	State      []int64
	AtElement  []int64
	AtTurn     []int64
	ParticleID []int64
}

// Snapshot is one monitor slot.
type Snapshot struct {
	Coordinates [6]float64
	S           float64
	State       int64
	AtElement   int64
	AtTurn      int64
}

// NewMonitor allocates a monitor for the given turn and id windows.
func NewMonitor(startAtTurn, stopAtTurn, partIDStart, partIDEnd int64) (*Monitor, error) {
	if stopAtTurn < startAtTurn || partIDEnd < partIDStart {
		return nil, fmt.Errorf("invalid monitor window: turns [%d, %d) ids [%d, %d)",
			startAtTurn, stopAtTurn, partIDStart, partIDEnd)
	}
	n := int((stopAtTurn - startAtTurn) * (partIDEnd - partIDStart))
	m := &Monitor{
		StartAtTurn: startAtTurn,
		StopAtTurn:  stopAtTurn,
		PartIDStart: partIDStart,
		PartIDEnd:   partIDEnd,
		X:           make([]float64, n),
		Px:          make([]float64, n),
		Y:           make([]float64, n),
		Py:          make([]float64, n),
		Zeta:        make([]float64, n),
		Delta:       make([]float64, n),
		S:           make([]float64, n),
		State:       make([]int64, n),
		AtElement:   make([]int64, n),
		AtTurn:      make([]int64, n),
		ParticleID:  make([]int64, n),
	}
	for i := range m.ParticleID {
		m.ParticleID[i] = -1
	}
	return m, nil
}

// NumTurns is the width of the turn window.
func (m *Monitor) NumTurns() int { return int(m.StopAtTurn - m.StartAtTurn) }

// NumParticles is the width of the id window.
func (m *Monitor) NumParticles() int { return int(m.PartIDEnd - m.PartIDStart) }

func (m *Monitor) slot(id, turn int64) (int, bool) {
	if id < m.PartIDStart || id >= m.PartIDEnd || turn < m.StartAtTurn || turn >= m.StopAtTurn {
		return 0, false
	}
	return int((id-m.PartIDStart)*(m.StopAtTurn-m.StartAtTurn) + (turn - m.StartAtTurn)), true
}

func (m *Monitor) record(p *core.Particles, i int) {
	k, ok := m.slot(p.ParticleID[i], p.AtTurn[i])
	if !ok {
		return
	}
	m.X[k], m.Px[k], m.Y[k], m.Py[k] = p.X[i], p.Px[i], p.Y[i], p.Py[i]
	m.Zeta[k], m.Delta[k], m.S[k] = p.Zeta[i], p.Delta[i], p.S[i]
	m.State[k] = p.State[i]
	m.AtElement[k] = p.AtElement[i]
	m.AtTurn[k] = p.AtTurn[i]
	m.ParticleID[k] = p.ParticleID[i]
}

// At returns the snapshot of particle id at turn, if one was recorded.
func (m *Monitor) At(id, turn int64) (Snapshot, bool) {
	k, ok := m.slot(id, turn)
	if !ok || m.ParticleID[k] < 0 {
		return Snapshot{}, false
	}
	return Snapshot{
		Coordinates: [6]float64{m.X[k], m.Px[k], m.Y[k], m.Py[k], m.Zeta[k], m.Delta[k]},
		S:           m.S[k],
		State:       m.State[k],
		AtElement:   m.AtElement[k],
		AtTurn:      m.AtTurn[k],
	}, true
}
