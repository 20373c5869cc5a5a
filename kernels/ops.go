// Package kernels provides the per-kind transfer maps of the beamline
// elements.
//
// Every map follows the signature func(words, particles, i): it reads the
// element parameters from a packed word slice laid out as documented in
// package model and advances particle i in place, with zero allocations.
// Maps never touch another particle, so any number of particles may be
// tracked concurrently through the same words.
//
// All maps are registered in the Catalog array, indexed by model.Kind, for
// dispatch by the compiled layout. Kinds without a per-particle map (the
// collective kinds) have a nil entry.
//
// Thick magnets are integrated with symmetric drift-kick-drift slices, so
// tracking the same element with a negated length is the exact inverse up
// to rounding.
package kernels

import (
	"math"

	"github.com/sbl8/beamline/core"
	"github.com/sbl8/beamline/model"
)

// KernelFn advances particle i through one element.
type KernelFn func(words []float64, p *core.Particles, i int)

// Catalog maps element kinds to their transfer maps.
var Catalog = [model.NumKinds]KernelFn{
	model.KindMarker:       marker,
	model.KindDrift:        driftMap,
	model.KindMultipole:    multipole,
	model.KindBend:         bend,
	model.KindQuadrupole:   quadrupole,
	model.KindCavity:       cavity,
	model.KindLimitRect:    limitRect,
	model.KindLimitEllipse: limitEllipse,
	model.KindSRotation:    srotation,
	model.KindLinearMap:    linearMap,
}

// Lookup returns the map for k, or nil when k has none.
func Lookup(k model.Kind) KernelFn {
	if k >= model.NumKinds {
		return nil
	}
	return Catalog[k]
}

// NeedsGlobalAperture reports whether particles are checked against the
// global transverse limit before entering an element of kind k.
func NeedsGlobalAperture(k model.Kind) bool { return k == model.KindDrift }

// GlobalAperture marks particle i lost when |x| or |y| exceeds limit or
// either coordinate is not a number.
func GlobalAperture(p *core.Particles, i int, limit float64) {
	if !(math.Abs(p.X[i]) <= limit && math.Abs(p.Y[i]) <= limit) {
		p.MarkLost(i, core.StateLostGlobal)
	}
}

func marker([]float64, *core.Particles, int) {}

// drift advances the transverse positions over length l using the
// expanded (paraxial) drift.
func drift(p *core.Particles, i int, l float64) {
	rpp := 1 / (1 + p.Delta[i])
	xp := p.Px[i] * rpp
	yp := p.Py[i] * rpp
	p.X[i] += l * xp
	p.Y[i] += l * yp
	p.Zeta[i] -= 0.5 * l * (xp*xp + yp*yp)
}

func driftMap(w []float64, p *core.Particles, i int) {
	l := w[model.DriftLength]
	drift(p, i, l)
	p.S[i] += l
}

func multipole(w []float64, p *core.Particles, i int) {
	order := core.Int(w[model.MultipoleOrder])
	length := w[model.MultipoleLength]
	hxl := w[model.MultipoleHxl]
	hyl := w[model.MultipoleHyl]
	knl := w[model.MultipoleKnl : model.MultipoleKnl+order+1]
	ksl := w[model.MultipoleKnl+order+1 : model.MultipoleKnl+2*(order+1)]

	x, y := p.X[i], p.Y[i]

	// Horner evaluation of sum (knl[n] + i ksl[n]) (x + i y)^n / n!
	invFactorial := 1.0
	for n := 2; n <= order; n++ {
		invFactorial /= float64(n)
	}
	dpx := knl[order] * invFactorial
	dpy := ksl[order] * invFactorial
	for n := order; n > 0; n-- {
		zre := dpx*x - dpy*y
		zim := dpx*y + dpy*x
		invFactorial *= float64(n)
		dpx = knl[n-1]*invFactorial + zre
		dpy = ksl[n-1]*invFactorial + zim
	}
	dpx = -dpx

	if hxl != 0 || hyl != 0 {
		delta := p.Delta[i]
		hxlx := x * hxl
		hyly := y * hyl
		dpx += hxl + hxl*delta
		dpy -= hyl + hyl*delta
		if length != 0 {
			dpx -= knl[0] * hxlx / length
			dpy += ksl[0] * hyly / length
		}
		p.Zeta[i] -= hxlx - hyly
	}

	p.Px[i] += dpx
	p.Py[i] += dpy
}

// thickKick applies the kick of a combined-function slice of length ds.
func thickKick(p *core.Particles, i int, ds, k0, k1, h float64) {
	x, y := p.X[i], p.Y[i]
	p.Px[i] += ds * (h*p.Delta[i] - k0 - (k0*h+k1)*x)
	p.Py[i] += ds * k1 * y
	p.Zeta[i] -= ds * h * x
}

func slicedMagnet(p *core.Particles, i int, l, k0, k1, h float64, n int) {
	ds := l / float64(n)
	for k := 0; k < n; k++ {
		drift(p, i, 0.5*ds)
		thickKick(p, i, ds, k0, k1, h)
		drift(p, i, 0.5*ds)
	}
	p.S[i] += l
}

func bend(w []float64, p *core.Particles, i int) {
	slicedMagnet(p, i, w[model.BendLength], w[model.BendK0], w[model.BendK1], w[model.BendH],
		core.Int(w[model.BendSlices]))
}

func quadrupole(w []float64, p *core.Particles, i int) {
	slicedMagnet(p, i, w[model.QuadLength], 0, w[model.QuadK1], 0, core.Int(w[model.QuadSlices]))
}

func cavity(w []float64, p *core.Particles, i int) {
	ref := &p.Ref
	if ref.P0C <= 0 || ref.Beta0 <= 0 {
		return
	}
	phase := w[model.CavityLag]*math.Pi/180 -
		2*math.Pi*w[model.CavityFrequency]*p.Zeta[i]/(ref.Beta0*core.ClightMS)
	energyGain := ref.Q0 * w[model.CavityVoltage] * math.Sin(phase)

	invBeta0 := 1 / ref.Beta0
	invBetaGamma0 := 1 / (ref.Beta0 * ref.Gamma0)
	onePlusDelta := 1 + p.Delta[i]

	ptau := math.Sqrt(onePlusDelta*onePlusDelta+invBetaGamma0*invBetaGamma0) - invBeta0
	ptau += energyGain / ref.P0C
	e := ptau + invBeta0
	pp := e*e - invBetaGamma0*invBetaGamma0
	if pp <= 0 {
		p.MarkLost(i, core.StateLost)
		return
	}
	p.Delta[i] = math.Sqrt(pp) - 1
}

func limitRect(w []float64, p *core.Particles, i int) {
	x, y := p.X[i], p.Y[i]
	if !(x >= w[model.RectMinX] && x <= w[model.RectMaxX] && y >= w[model.RectMinY] && y <= w[model.RectMaxY]) {
		p.MarkLost(i, core.StateLost)
	}
}

func limitEllipse(w []float64, p *core.Particles, i int) {
	x, y := p.X[i], p.Y[i]
	if !(x*x*w[model.EllipseB2]+y*y*w[model.EllipseA2] <= w[model.EllipseA2B2]) {
		p.MarkLost(i, core.StateLost)
	}
}

func srotation(w []float64, p *core.Particles, i int) {
	c, s := w[model.SRotCos], w[model.SRotSin]
	x, y, px, py := p.X[i], p.Y[i], p.Px[i], p.Py[i]
	p.X[i] = c*x + s*y
	p.Y[i] = -s*x + c*y
	p.Px[i] = c*px + s*py
	p.Py[i] = -s*px + c*py
}

func linearMap(w []float64, p *core.Particles, i int) {
	v := p.Coordinates(i)
	var out [6]float64
	for r := 0; r < 6; r++ {
		row := w[model.LinearMapMatrix+6*r : model.LinearMapMatrix+6*r+6]
		acc := w[model.LinearMapOffset+r]
		for c := 0; c < 6; c++ {
			acc += row[c] * v[c]
		}
		out[r] = acc
	}
	p.SetCoordinates(i, out)
	p.S[i] += w[model.LinearMapLength]
}
