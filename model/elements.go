package model

import (
	"math"

	"github.com/sbl8/beamline/core"
)

// Packed word layouts. Offsets are relative to the element's first word.
const (
	DriftLength = 0
	DriftWords  = 1

	// Multipole: [order, length, hxl, hyl, knl[0..order], ksl[0..order]]
	MultipoleOrder  = 0
	MultipoleLength = 1
	MultipoleHxl    = 2
	MultipoleHyl    = 3
	MultipoleKnl    = 4

	BendLength = 0
	BendK0     = 1
	BendK1     = 2
	BendH      = 3
	BendSlices = 4
	BendWords  = 5

	QuadLength = 0
	QuadK1     = 1
	QuadSlices = 2
	QuadWords  = 3

	CavityVoltage   = 0
	CavityFrequency = 1
	CavityLag       = 2
	CavityWords     = 3

	RectMinX  = 0
	RectMaxX  = 1
	RectMinY  = 2
	RectMaxY  = 3
	RectWords = 4

	EllipseA2    = 0
	EllipseB2    = 1
	EllipseA2B2  = 2
	EllipseWords = 3

	SRotCos   = 0
	SRotSin   = 1
	SRotWords = 2

	// LinearMap: 36 row-major matrix words, 6 offset words, length.
	LinearMapMatrix = 0
	LinearMapOffset = 36
	LinearMapLength = 42
	LinearMapWords  = 43

	KickX     = 0
	KickY     = 1
	KickWords = 2
)

// DefaultSlices is the number of drift-kick-drift slices used by thick
// magnets that do not set one.
const DefaultSlices = 4

// Marker is a zero-length element with no effect.
type Marker struct{}

func (*Marker) Kind() Kind                   { return KindMarker }
func (*Marker) Length() float64              { return 0 }
func (*Marker) IsThick() bool                { return false }
func (*Marker) Encode() []float64            { return []float64{} }
func (m *Marker) Backtrack() (Element, bool) { return m.Clone(), true }
func (*Marker) Clone() Element               { return &Marker{} }

// Drift is a field-free straight section.
type Drift struct {
	L float64
}

func (*Drift) Kind() Kind                   { return KindDrift }
func (d *Drift) Length() float64            { return d.L }
func (*Drift) IsThick() bool                { return true }
func (d *Drift) Encode() []float64          { return []float64{d.L} }
func (d *Drift) Backtrack() (Element, bool) { return &Drift{L: -d.L}, true }
func (d *Drift) Clone() Element             { return &Drift{L: d.L} }

// Multipole is a thin kick with integrated normal and skew strengths
// Knl[n], Ksl[n] of order n. Hxl and Hyl add weak-focusing curvature; L is
// the length the kick stands for and only enters the curvature terms.
type Multipole struct {
	Knl []float64
	Ksl []float64
	Hxl float64
	Hyl float64
	L   float64
}

func (*Multipole) Kind() Kind      { return KindMultipole }
func (*Multipole) Length() float64 { return 0 }
func (*Multipole) IsThick() bool   { return false }

// Order is the highest multipole order carried by Knl or Ksl.
func (m *Multipole) Order() int {
	n := max(len(m.Knl), len(m.Ksl))
	if n == 0 {
		return 0
	}
	return n - 1
}

// IsActive reports whether any strength or curvature is non-zero.
func (m *Multipole) IsActive() bool {
	if m.Hxl != 0 || m.Hyl != 0 {
		return true
	}
	for _, v := range m.Knl {
		if v != 0 {
			return true
		}
	}
	for _, v := range m.Ksl {
		if v != 0 {
			return true
		}
	}
	return false
}

func (m *Multipole) Encode() []float64 {
	order := m.Order()
	w := make([]float64, MultipoleKnl+2*(order+1))
	w[MultipoleOrder] = float64(order)
	w[MultipoleLength] = m.L
	w[MultipoleHxl] = m.Hxl
	w[MultipoleHyl] = m.Hyl
	copy(w[MultipoleKnl:], m.Knl)
	copy(w[MultipoleKnl+order+1:], m.Ksl)
	return w
}

func (m *Multipole) Backtrack() (Element, bool) {
	b := m.Clone().(*Multipole)
	for i := range b.Knl {
		b.Knl[i] = -b.Knl[i]
	}
	for i := range b.Ksl {
		b.Ksl[i] = -b.Ksl[i]
	}
	b.Hxl, b.Hyl, b.L = -b.Hxl, -b.Hyl, -b.L
	return b, true
}

func (m *Multipole) Clone() Element {
	return &Multipole{
		Knl: append([]float64(nil), m.Knl...),
		Ksl: append([]float64(nil), m.Ksl...),
		Hxl: m.Hxl,
		Hyl: m.Hyl,
		L:   m.L,
	}
}

// Bend is a combined-function dipole of curvature H with dipole strength
// K0 and gradient K1, integrated with symmetric drift-kick-drift slices.
type Bend struct {
	K0     float64
	K1     float64
	H      float64
	L      float64
	Slices int
}

func (*Bend) Kind() Kind        { return KindBend }
func (b *Bend) Length() float64 { return b.L }
func (*Bend) IsThick() bool     { return true }

func (b *Bend) Encode() []float64 {
	return []float64{b.L, b.K0, b.K1, b.H, float64(numSlices(b.Slices))}
}

func (b *Bend) Backtrack() (Element, bool) {
	c := *b
	c.L = -c.L
	return &c, true
}

func (b *Bend) Clone() Element {
	c := *b
	return &c
}

// Quadrupole is a thick normal quadrupole.
type Quadrupole struct {
	K1     float64
	L      float64
	Slices int
}

func (*Quadrupole) Kind() Kind        { return KindQuadrupole }
func (q *Quadrupole) Length() float64 { return q.L }
func (*Quadrupole) IsThick() bool     { return true }

func (q *Quadrupole) Encode() []float64 {
	return []float64{q.L, q.K1, float64(numSlices(q.Slices))}
}

func (q *Quadrupole) Backtrack() (Element, bool) {
	c := *q
	c.L = -c.L
	return &c, true
}

func (q *Quadrupole) Clone() Element {
	c := *q
	return &c
}

// Cavity is a thin RF cavity. Voltage is in volts, Frequency in Hz and Lag
// in degrees.
type Cavity struct {
	Voltage   float64
	Frequency float64
	Lag       float64
}

func (*Cavity) Kind() Kind          { return KindCavity }
func (*Cavity) Length() float64     { return 0 }
func (*Cavity) IsThick() bool       { return false }
func (c *Cavity) Encode() []float64 { return []float64{c.Voltage, c.Frequency, c.Lag} }

func (c *Cavity) Backtrack() (Element, bool) {
	b := *c
	b.Voltage = -b.Voltage
	return &b, true
}

func (c *Cavity) Clone() Element {
	b := *c
	return &b
}

// LimitRect loses particles outside a rectangle.
type LimitRect struct {
	MinX, MaxX float64
	MinY, MaxY float64
}

func (*LimitRect) Kind() Kind      { return KindLimitRect }
func (*LimitRect) Length() float64 { return 0 }
func (*LimitRect) IsThick() bool   { return false }
func (r *LimitRect) Encode() []float64 {
	return []float64{r.MinX, r.MaxX, r.MinY, r.MaxY}
}
func (r *LimitRect) Backtrack() (Element, bool) { return r.Clone(), true }
func (r *LimitRect) Clone() Element {
	c := *r
	return &c
}

// LimitEllipse loses particles outside an ellipse of half-axes A and B.
type LimitEllipse struct {
	A, B float64
}

func (*LimitEllipse) Kind() Kind      { return KindLimitEllipse }
func (*LimitEllipse) Length() float64 { return 0 }
func (*LimitEllipse) IsThick() bool   { return false }
func (e *LimitEllipse) Encode() []float64 {
	a2, b2 := e.A*e.A, e.B*e.B
	return []float64{a2, b2, a2 * b2}
}
func (e *LimitEllipse) Backtrack() (Element, bool) { return e.Clone(), true }
func (e *LimitEllipse) Clone() Element {
	c := *e
	return &c
}

// SRotation rotates the transverse plane by Angle degrees about s.
type SRotation struct {
	Angle float64
}

func (*SRotation) Kind() Kind      { return KindSRotation }
func (*SRotation) Length() float64 { return 0 }
func (*SRotation) IsThick() bool   { return false }
func (r *SRotation) Encode() []float64 {
	sin, cos := math.Sincos(r.Angle * math.Pi / 180)
	return []float64{cos, sin}
}
func (r *SRotation) Backtrack() (Element, bool) { return &SRotation{Angle: -r.Angle}, true }
func (r *SRotation) Clone() Element             { return &SRotation{Angle: r.Angle} }

// LinearMap applies v' = M v + Offset to the phase-space vector. It has no
// declared inverse.
type LinearMap struct {
	M      [6][6]float64
	Offset [6]float64
	L      float64
}

// IdentityMap returns a LinearMap with M = I.
func IdentityMap() *LinearMap {
	m := &LinearMap{}
	for i := range m.M {
		m.M[i][i] = 1
	}
	return m
}

func (*LinearMap) Kind() Kind        { return KindLinearMap }
func (m *LinearMap) Length() float64 { return m.L }
func (m *LinearMap) IsThick() bool   { return m.L != 0 }

func (m *LinearMap) Encode() []float64 {
	w := make([]float64, LinearMapWords)
	for i := range m.M {
		copy(w[LinearMapMatrix+6*i:], m.M[i][:])
	}
	copy(w[LinearMapOffset:], m.Offset[:])
	w[LinearMapLength] = m.L
	return w
}

func (*LinearMap) Backtrack() (Element, bool) { return nil, false }

func (m *LinearMap) Clone() Element {
	c := *m
	return &c
}

// CollectiveKick deflects every active particle by a kick proportional to
// the ensemble centroid, px -= KX*<x> and py -= KY*<y>. It stands for a
// lumped collective effect and occupies length L.
type CollectiveKick struct {
	KX, KY float64
	L      float64
}

func (*CollectiveKick) Kind() Kind                 { return KindCollectiveKick }
func (c *CollectiveKick) Length() float64          { return c.L }
func (c *CollectiveKick) IsThick() bool            { return c.L != 0 }
func (c *CollectiveKick) Encode() []float64        { return []float64{c.KX, c.KY} }
func (*CollectiveKick) Backtrack() (Element, bool) { return nil, false }

func (c *CollectiveKick) Clone() Element {
	b := *c
	return &b
}

// TrackEnsemble applies the centroid kick and advances s by L.
func (c *CollectiveKick) TrackEnsemble(p *core.Particles) error {
	if err := p.Validate(); err != nil {
		return err
	}
	var sx, sy float64
	n := 0
	for i := 0; i < p.Len(); i++ {
		if p.IsActive(i) {
			sx += p.X[i]
			sy += p.Y[i]
			n++
		}
	}
	if n == 0 {
		return nil
	}
	mx, my := sx/float64(n), sy/float64(n)
	for i := 0; i < p.Len(); i++ {
		if !p.IsActive(i) {
			continue
		}
		p.Px[i] -= c.KX * mx
		p.Py[i] -= c.KY * my
		p.S[i] += c.L
	}
	return nil
}

func numSlices(n int) int {
	if n <= 0 {
		return DefaultSlices
	}
	return n
}
